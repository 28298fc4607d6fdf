package duel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"strava-duel/internal/aggregate"
	"strava-duel/internal/logging"
	"strava-duel/internal/metrics"
	"strava-duel/internal/store"
)

// Registry is the part of the store the builder reads.
type Registry interface {
	store.CredentialStore
	store.SlotTable
}

// TokenProvider returns a usable access token for a participant, or "" when
// none can be obtained.
type TokenProvider interface {
	EnsureValidToken(ctx context.Context, id string, cred *store.Credential) (string, error)
}

// ActivityFetcher lists a participant's rides for a year.
type ActivityFetcher interface {
	FetchYearActivities(ctx context.Context, accessToken string, year int) ([]aggregate.Activity, error)
}

// Builder composes the per-participant pipelines into a Report.
type Builder struct {
	registry Registry
	tokens   TokenProvider
	fetcher  ActivityFetcher
	loc      *time.Location
	now      func() time.Time
}

// NewBuilder returns a Builder that resolves "today" in loc.
func NewBuilder(registry Registry, tokens TokenProvider, fetcher ActivityFetcher, loc *time.Location) *Builder {
	if loc == nil {
		loc = time.Local
	}
	return &Builder{
		registry: registry,
		tokens:   tokens,
		fetcher:  fetcher,
		loc:      loc,
		now:      time.Now,
	}
}

// Build produces the report for year.
//
// When fewer than two slots resolve to a stored credential the report is
// incomplete. Otherwise both participants are processed concurrently and
// the players appear in slot order. Token and page failures only shrink
// that participant's activity list; store failures abort the build.
func (b *Builder) Build(ctx context.Context, year int) (*Report, error) {
	start := time.Now()

	creds, connected, err := b.participants(ctx)
	if err != nil {
		metrics.RecordReportBuild("error", time.Since(start))
		return nil, err
	}
	if connected < store.SlotCount {
		metrics.RecordReportBuild(StatusIncomplete, time.Since(start))
		return incomplete(connected), nil
	}

	today := b.now().In(b.loc)
	players := make([]PlayerReport, store.SlotCount)

	var wg sync.WaitGroup
	for i := range creds {
		wg.Add(1)
		go func(slot int, cred *store.Credential) {
			defer wg.Done()
			players[slot-1] = b.buildPlayer(ctx, slot, cred, year, today)
		}(i+1, creds[i])
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		metrics.RecordReportBuild("error", time.Since(start))
		return nil, fmt.Errorf("build report for %d: %w", year, err)
	}

	metrics.RecordReportBuild(StatusReady, time.Since(start))
	return &Report{
		Status:         StatusReady,
		ConnectedCount: connected,
		Year:           year,
		Players:        players,
	}, nil
}

// participants resolves the slot table to credentials. Missing credentials
// leave a nil entry and are not counted.
func (b *Builder) participants(ctx context.Context) ([store.SlotCount]*store.Credential, int, error) {
	var creds [store.SlotCount]*store.Credential

	slots, err := b.registry.Slots(ctx)
	if err != nil {
		return creds, 0, fmt.Errorf("read slots: %w", err)
	}

	connected := 0
	for i, id := range slots {
		if id == "" {
			continue
		}
		cred, err := b.registry.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			logging.Ctx(ctx).Warn().Int("slot", i+1).Str("athlete_id", id).Msg("[REPORT] Slot holder has no stored credential")
			continue
		}
		if err != nil {
			return creds, 0, fmt.Errorf("read credential for slot %d: %w", i+1, err)
		}
		if cred.AthleteID == "" {
			cred.AthleteID = id
		}
		creds[i] = cred
		connected++
	}
	return creds, connected, nil
}

func (b *Builder) buildPlayer(ctx context.Context, slot int, cred *store.Credential, year int, today time.Time) PlayerReport {
	log := logging.Ctx(ctx).With().Int("slot", slot).Str("athlete_id", cred.AthleteID).Logger()

	partial := false
	token, err := b.tokens.EnsureValidToken(ctx, cred.AthleteID, cred)
	if err != nil {
		partial = true
		log.Warn().Err(err).Msg("[REFRESH] No valid token, reporting zero activities")
	}

	activities, err := b.fetcher.FetchYearActivities(ctx, token, year)
	if err != nil {
		partial = true
		log.Warn().Err(err).Int("kept", len(activities)).Msg("[FETCH] Pagination stopped early, using partial activities")
	}
	if activities == nil {
		activities = []aggregate.Activity{}
	}

	total := aggregate.TotalKm(activities)
	metrics.PlayerTotalKm.WithLabelValues(strconv.Itoa(slot), strconv.Itoa(year)).Set(total)
	log.Debug().Int("activities", len(activities)).Float64("total_km", total).Msg("[REPORT] Player aggregated")

	return PlayerReport{
		ID:         cred.AthleteID,
		Slot:       slot,
		Name:       cred.Name,
		Profile:    cred.Profile,
		TotalKm:    total,
		Cumulative: aggregate.Cumulative(activities, year, today),
		Monthly:    aggregate.Monthly(activities),
		Activities: activities,
		Partial:    partial,
	}
}
