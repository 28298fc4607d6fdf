// Package aggregate turns a flat list of rides into the series the duel
// dashboard charts: a dense running total per calendar day and a sparse
// total per month.
//
// Everything here is pure and synchronous. Callers decide what "today" is.
package aggregate

import (
	"math"
	"sort"
	"time"
)

// DateLayout is the calendar-day format used for Activity.Date and DailyTotal.Date.
const DateLayout = "2006-01-02"

// Activity is the minimal projection of a qualifying ride.
type Activity struct {
	Date string  `json:"date"` // YYYY-MM-DD, local to the activity
	Km   float64 `json:"km"`
	Name string  `json:"name"`
}

// DailyTotal is the running distance at the end of a calendar day.
type DailyTotal struct {
	Date string  `json:"date"`
	Km   float64 `json:"km"`
}

// MonthlyTotal is the distance ridden within one calendar month.
type MonthlyTotal struct {
	Month string  `json:"month"` // YYYY-MM
	Km    float64 `json:"km"`
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// TotalKm sums all activity distances, rounded to two decimals.
func TotalKm(activities []Activity) float64 {
	var sum float64
	for _, a := range activities {
		sum += a.Km
	}
	return Round2(sum)
}

// Cumulative builds one DailyTotal per day from Jan 1 of year through
// min(today, Dec 31), inclusive. The running total is re-rounded to two
// decimals after every day, so drift is reproduced rather than corrected.
// A year that has not started relative to today yields an empty series.
func Cumulative(activities []Activity, year int, today time.Time) []DailyTotal {
	daily := make(map[string]float64, len(activities))
	for _, a := range activities {
		daily[a.Date] += a.Km
	}

	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	if day.Before(end) {
		end = day
	}
	if end.Before(start) {
		return []DailyTotal{}
	}

	out := make([]DailyTotal, 0, DaysBetween(start, end)+1)
	running := 0.0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		key := d.Format(DateLayout)
		running = Round2(running + daily[key])
		out = append(out, DailyTotal{Date: key, Km: running})
	}
	return out
}

// Monthly groups distances by YYYY-MM and returns the months in ascending
// order. Months without rides are omitted.
func Monthly(activities []Activity) []MonthlyTotal {
	sums := make(map[string]float64)
	for _, a := range activities {
		if len(a.Date) < 7 {
			continue
		}
		sums[a.Date[:7]] += a.Km
	}

	months := make([]string, 0, len(sums))
	for m := range sums {
		months = append(months, m)
	}
	sort.Strings(months)

	out := make([]MonthlyTotal, 0, len(months))
	for _, m := range months {
		out = append(out, MonthlyTotal{Month: m, Km: Round2(sums[m])})
	}
	return out
}

// DaysBetween counts whole calendar days from a to b (b after a).
func DaysBetween(a, b time.Time) int {
	a = time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	b = time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
