package duel

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"strava-duel/internal/logging"
)

// ReportBuilder builds a report for a year.
type ReportBuilder interface {
	Build(ctx context.Context, year int) (*Report, error)
}

// Service serves reports from the cache and rebuilds them on a miss.
// Concurrent misses for the same year share one build.
type Service struct {
	builder ReportBuilder
	cache   *Cache
	timeout time.Duration
	group   singleflight.Group
}

// NewService wires builder and cache. A nil cache disables caching; a zero
// timeout leaves builds unbounded.
func NewService(builder ReportBuilder, cache *Cache, timeout time.Duration) *Service {
	return &Service{builder: builder, cache: cache, timeout: timeout}
}

// Report returns the report for year, from cache when possible.
func (s *Service) Report(ctx context.Context, year int) (*Report, error) {
	if s.cache != nil {
		if report, ok := s.cache.Get(year); ok {
			return report, nil
		}
	}
	return s.rebuild(ctx, year)
}

// Rebuild builds the report for year, bypassing the cache, and stores it.
func (s *Service) Rebuild(ctx context.Context, year int) (*Report, error) {
	return s.rebuild(ctx, year)
}

// rebuild runs at most one build per year at a time. The build is detached
// from the caller's cancellation and bounded by s.timeout instead, so a
// caller that gives up does not fail the others waiting on the same build.
func (s *Service) rebuild(ctx context.Context, year int) (*Report, error) {
	ch := s.group.DoChan(strconv.Itoa(year), func() (interface{}, error) {
		buildCtx := context.WithoutCancel(ctx)
		if s.timeout > 0 {
			var cancel context.CancelFunc
			buildCtx, cancel = context.WithTimeout(buildCtx, s.timeout)
			defer cancel()
		}

		report, err := s.builder.Build(buildCtx, year)
		if err != nil {
			return nil, err
		}

		// Incomplete reports are not cached so a new registration shows up at
		// once; partial ones so the next request retries the failed rider.
		switch {
		case s.cache == nil:
		case !report.Ready():
		case report.Partial():
			logging.Ctx(ctx).Info().Int("year", year).Msg("[REPORT] Partial report not cached")
		default:
			if err := s.cache.Put(year, report); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Int("year", year).Msg("[REPORT] Failed to cache report")
			}
		}
		return report, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			logging.Ctx(ctx).Debug().Int("year", year).Msg("[REPORT] Shared in-flight build")
		}
		return res.Val.(*Report), nil
	}
}
