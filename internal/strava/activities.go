package strava

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"strava-duel/internal/aggregate"
	"strava-duel/internal/logging"
	"strava-duel/internal/metrics"
)

// YearBounds returns the listing window for year: local midnight on Jan 1
// and 23:59:59 on Dec 31, as unix seconds.
func YearBounds(year int, loc *time.Location) (after, before int64) {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
	end := time.Date(year, time.December, 31, 23, 59, 59, 0, loc)
	return start.Unix(), end.Unix()
}

// FetchYearActivities returns every ride that started within year, in the
// order Strava lists them.
//
// An empty accessToken means no token could be obtained; the result is
// empty and Strava is not called.
//
// Pages are requested one at a time. A page shorter than the page size
// (or empty) ends pagination. When a page request fails, pagination
// stops and the rides gathered so far are returned together with an error
// wrapping ErrPageFailed. Callers are expected to keep the partial result.
func (c *Client) FetchYearActivities(ctx context.Context, accessToken string, year int) ([]aggregate.Activity, error) {
	activities := make([]aggregate.Activity, 0)
	if accessToken == "" {
		return activities, nil
	}

	after, before := YearBounds(year, c.cfg.Location)
	perPage := c.cfg.PageSize

	for page := 1; ; page++ {
		raw, err := c.fetchPage(ctx, accessToken, after, before, page)
		if err != nil {
			metrics.ActivityPages.WithLabelValues("failed").Inc()
			return activities, fmt.Errorf("%w: page %d: %w", ErrPageFailed, page, err)
		}
		metrics.ActivityPages.WithLabelValues("ok").Inc()

		if len(raw) == 0 {
			break
		}
		activities = append(activities, projectRides(raw)...)

		logging.Debug().Int("page", page).Int("count", len(raw)).Msg("[FETCH] Fetched activity page")
		if len(raw) < perPage {
			break
		}
	}

	return activities, nil
}

func (c *Client) fetchPage(ctx context.Context, accessToken string, after, before int64, page int) ([]rawActivity, error) {
	url := fmt.Sprintf("%s/athlete/activities?after=%d&before=%d&per_page=%d&page=%d",
		c.cfg.APIBase, after, before, c.cfg.PageSize, page)

	body, err := c.get(ctx, "activities", url, accessToken)
	if err != nil {
		return nil, err
	}
	return decodePage(body)
}

// decodePage accepts only a JSON array of activities. Any other shape,
// including Strava's {"message": ...} fault object, is an unexpected payload.
func decodePage(body []byte) ([]rawActivity, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: expected activity array, got %s", ErrUnexpectedPayload, faultMessage(trimmed))
	}

	var raw []rawActivity
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("%w: failed to decode activities: %v", ErrUnexpectedPayload, err)
	}
	return raw, nil
}

// projectRides keeps qualifying rides and maps them to aggregate.Activity.
// Rides with an unusable start date are skipped.
func projectRides(raw []rawActivity) []aggregate.Activity {
	out := make([]aggregate.Activity, 0, len(raw))
	for i := range raw {
		a := &raw[i]
		if !a.isRide() {
			metrics.ActivitiesFetched.WithLabelValues("discarded").Inc()
			continue
		}

		activity, err := project(a)
		if err != nil {
			metrics.ActivitiesFetched.WithLabelValues("invalid").Inc()
			logging.Warn().Int64("activity_id", a.ID).Err(err).Msg("[FETCH] Skipping malformed activity")
			continue
		}
		metrics.ActivitiesFetched.WithLabelValues("kept").Inc()
		out = append(out, activity)
	}
	return out
}

func project(a *rawActivity) (aggregate.Activity, error) {
	if err := validate.Struct(a); err != nil {
		return aggregate.Activity{}, fmt.Errorf("%w: %v", ErrUnexpectedPayload, err)
	}
	date := a.StartDateLocal[:10]
	if _, err := time.Parse(aggregate.DateLayout, date); err != nil {
		return aggregate.Activity{}, fmt.Errorf("%w: start_date_local %q", ErrUnexpectedPayload, a.StartDateLocal)
	}
	return aggregate.Activity{
		Date: date,
		Km:   aggregate.Round2(a.Distance / 1000),
		Name: a.Name,
	}, nil
}

// faultMessage renders an error body for logs and error values.
func faultMessage(body []byte) string {
	var fault apiFault
	if err := json.Unmarshal(body, &fault); err == nil && fault.Message != "" {
		return fault.String()
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
