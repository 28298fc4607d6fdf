package strava

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"

	"strava-duel/internal/logging"
	"strava-duel/internal/metrics"
)

// errClientStatus marks 4xx responses. The breaker does not count them as
// failures.
var errClientStatus = errors.New("client error status")

// errCallerGone marks requests aborted because the caller's context ended.
// The breaker ignores them: they say nothing about Strava's health.
var errCallerGone = errors.New("request abandoned by caller")

// abandoned wraps err with errCallerGone when ctx is done.
func abandoned(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", errCallerGone, err)
	}
	return err
}

// newBreaker builds the breaker shared by every Strava call:
// - 3 trial requests in half-open state
// - counts reset every minute while closed
// - 2 minutes open before trying again
// - opens at 60% failures over at least 10 requests
func newBreaker(name string) *gobreaker.CircuitBreaker[any] {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= 0.6 {
				logging.Warn().Uint32("failures", counts.TotalFailures).Float64("failure_rate", ratio*100).Msg("[CIRCUIT BREAKER] Opening circuit")
				return true
			}
			return false
		},

		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var retrieveErr *oauth2.RetrieveError
			if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
				return retrieveErr.Response.StatusCode < 500
			}
			return errors.Is(err, errClientStatus)
		},

		IsExcluded: func(err error) bool {
			return errors.Is(err, errCallerGone)
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
}

// execute runs fn through the breaker and records the outcome.
func (c *Client) execute(fn func() (any, error)) (any, error) {
	result, err := c.cb.Execute(fn)
	name := c.cb.Name()

	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(name, "success").Inc()
	case errors.Is(err, errCallerGone):
		metrics.CircuitBreakerRequests.WithLabelValues(name, "excluded").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(name, "rejected").Inc()
		logging.Warn().Err(err).Msg("[CIRCUIT BREAKER] Request rejected")
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(name, "failure").Inc()
	}
	return result, err
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
