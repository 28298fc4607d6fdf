// Package calendar publishes duel rides as calendar events, either as an
// ICS feed or synced into a Google Calendar.
package calendar

import (
	"fmt"
	"strings"
	"time"

	"strava-duel/internal/aggregate"
	"strava-duel/internal/duel"
)

// UIDDomain suffixes every event UID so synced events can be told apart
// from anything else in the target calendar.
const UIDDomain = "@strava-duel"

// Event is one ride as an all-day calendar entry.
type Event struct {
	UID         string
	Date        string // YYYY-MM-DD
	Summary     string
	Description string
}

// Start returns the event day at midnight UTC.
func (e Event) Start() time.Time {
	t, _ := time.Parse(aggregate.DateLayout, e.Date)
	return t
}

// EventsFromReport turns every ride of a ready report into an Event. Rides
// on the same day by the same player are numbered in listing order.
func EventsFromReport(report *duel.Report) []Event {
	if report == nil || !report.Ready() {
		return nil
	}

	var events []Event
	for _, p := range report.Players {
		ytd := make(map[string]float64, len(p.Cumulative))
		for _, d := range p.Cumulative {
			ytd[d.Date] = d.Km
		}

		perDay := make(map[string]int)
		for _, a := range p.Activities {
			perDay[a.Date]++
			n := perDay[a.Date]

			desc := fmt.Sprintf("%s rode %.2f km", p.Name, a.Km)
			if km, ok := ytd[a.Date]; ok {
				desc += fmt.Sprintf("\nYear to date: %.2f km", km)
			}

			events = append(events, Event{
				UID:         fmt.Sprintf("%s-%s-%d%s", p.ID, a.Date, n, UIDDomain),
				Date:        a.Date,
				Summary:     fmt.Sprintf("%s: %s (%.2f km)", p.Name, strings.TrimSpace(a.Name), a.Km),
				Description: desc,
			})
		}
	}
	return events
}

// PartialPrefixes returns the UID prefixes of players whose ride list in
// report may be short. Sync keeps their existing events instead of deleting
// rides that only look removed.
func PartialPrefixes(report *duel.Report) []string {
	if report == nil {
		return nil
	}
	var prefixes []string
	for _, p := range report.Players {
		if p.Partial {
			prefixes = append(prefixes, p.ID+"-")
		}
	}
	return prefixes
}
