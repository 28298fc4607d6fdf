// Package duel assembles the two-player report from stored credentials,
// Strava activity history and the aggregate series.
package duel

import (
	"strava-duel/internal/aggregate"
)

// Report statuses.
const (
	StatusIncomplete = "incomplete"
	StatusReady      = "ready"
)

// PlayerReport is one participant's side of the duel.
type PlayerReport struct {
	ID         string                   `json:"id"`
	Slot       int                      `json:"slot"`
	Name       string                   `json:"name"`
	Profile    string                   `json:"profile"`
	TotalKm    float64                  `json:"totalKm"`
	Cumulative []aggregate.DailyTotal   `json:"cumulative"`
	Monthly    []aggregate.MonthlyTotal `json:"monthly"`
	Activities []aggregate.Activity     `json:"activities"`

	// Partial is set when the token refresh or an activity page failed, so
	// Activities may be missing rides that Strava still has.
	Partial bool `json:"partial,omitempty"`
}

// Report is what the dashboard consumes. An incomplete report carries only
// the number of connected participants.
type Report struct {
	Status         string         `json:"status"`
	ConnectedCount int            `json:"connectedCount"`
	Year           int            `json:"year,omitempty"`
	Players        []PlayerReport `json:"players"`
}

// Ready reports whether both players are present.
func (r *Report) Ready() bool {
	return r.Status == StatusReady
}

// Partial reports whether any player's activity list is known to be short.
func (r *Report) Partial() bool {
	for _, p := range r.Players {
		if p.Partial {
			return true
		}
	}
	return false
}

func incomplete(connected int) *Report {
	return &Report{
		Status:         StatusIncomplete,
		ConnectedCount: connected,
		Players:        []PlayerReport{},
	}
}
