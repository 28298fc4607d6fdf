package duel

import (
	"context"
	"strconv"
	"time"

	"strava-duel/internal/logging"
)

// Refresher rebuilds the current year's report on a fixed interval so
// dashboard requests are normally served from cache. It runs as a suture
// service.
type Refresher struct {
	service  *Service
	interval time.Duration
	loc      *time.Location
	now      func() time.Time
	name     string
}

func NewRefresher(service *Service, interval time.Duration, loc *time.Location) *Refresher {
	if interval <= 0 {
		interval = DefaultCacheTTL
	}
	if loc == nil {
		loc = time.Local
	}
	return &Refresher{
		service:  service,
		interval: interval,
		loc:      loc,
		now:      time.Now,
		name:     "duel-refresher",
	}
}

// Serve rebuilds once immediately, then on every tick until ctx is done.
func (r *Refresher) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	year := r.now().In(r.loc).Year()
	start := time.Now()

	report, err := r.service.Rebuild(ctx, year)
	if err != nil {
		if ctx.Err() == nil {
			logging.Error().Err(err).Int("year", year).Msg("[REFRESH] Report rebuild failed")
		}
		return
	}

	event := logging.Info().Int("year", year).Str("status", report.Status).Dur("took", time.Since(start))
	for _, p := range report.Players {
		event = event.Float64("slot"+strconv.Itoa(p.Slot)+"_km", p.TotalKm)
	}
	event.Msg("[REFRESH] Report rebuilt")
}

func (r *Refresher) String() string {
	return r.name
}
