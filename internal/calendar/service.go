package calendar

import (
	"context"
	"time"

	"strava-duel/internal/duel"
	"strava-duel/internal/logging"
)

// ReportSource supplies duel reports.
type ReportSource interface {
	Report(ctx context.Context, year int) (*duel.Report, error)
}

// Syncer pushes events for a year somewhere. Existing events whose UID
// starts with one of keep must not be deleted.
type Syncer interface {
	Sync(ctx context.Context, year int, events []Event, keep []string) (SyncResult, error)
}

// SyncService periodically mirrors the current year's rides into a
// calendar. It runs as a suture service.
type SyncService struct {
	reports  ReportSource
	syncer   Syncer
	interval time.Duration
	loc      *time.Location
	now      func() time.Time
	name     string
}

func NewSyncService(reports ReportSource, syncer Syncer, interval time.Duration, loc *time.Location) *SyncService {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if loc == nil {
		loc = time.Local
	}
	return &SyncService{
		reports:  reports,
		syncer:   syncer,
		interval: interval,
		loc:      loc,
		now:      time.Now,
		name:     "calendar-sync",
	}
}

func (s *SyncService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.syncOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.syncOnce(ctx)
		}
	}
}

func (s *SyncService) syncOnce(ctx context.Context) {
	year := s.now().In(s.loc).Year()
	if _, err := SyncYear(ctx, s.reports, s.syncer, year); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Int("year", year).Msg("[SYNC] Calendar sync failed")
	}
}

func (s *SyncService) String() string {
	return s.name
}

// SyncYear builds the events for year and hands them to syncer. An
// incomplete duel syncs nothing.
func SyncYear(ctx context.Context, reports ReportSource, syncer Syncer, year int) (SyncResult, error) {
	report, err := reports.Report(ctx, year)
	if err != nil {
		return SyncResult{}, err
	}
	if !report.Ready() {
		logging.Info().Int("connected", report.ConnectedCount).Msg("[SYNC] Duel incomplete, skipping calendar sync")
		return SyncResult{}, nil
	}

	events := EventsFromReport(report)
	keep := PartialPrefixes(report)
	if len(keep) > 0 {
		logging.Warn().Strs("keep", keep).Msg("[SYNC] Report is partial, existing rides of affected players are kept")
	}
	result, err := syncer.Sync(ctx, year, events, keep)
	if err != nil {
		return result, err
	}
	logging.Info().
		Int("year", year).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("deleted", result.Deleted).
		Int("unchanged", result.Unchanged).
		Int("kept", result.Kept).
		Int("failed", result.Failed).
		Msg("[SYNC] Calendar sync completed")
	return result, nil
}
