package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"strava-duel/internal/logging"
	"strava-duel/internal/metrics"
)

// LoadServiceAccountKey returns the service account JSON, preferring the
// inline value over the file.
func LoadServiceAccountKey(inline, file string) ([]byte, error) {
	if strings.TrimSpace(inline) != "" {
		logging.Info().Msg("Using service account from GOOGLE_SERVICE_ACCOUNT")
		return []byte(inline), nil
	}
	if file == "" {
		return nil, errors.New("no service account configured")
	}
	key, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("unable to read service account key (tried GOOGLE_SERVICE_ACCOUNT and %s): %w", file, err)
	}
	logging.Info().Str("file", file).Msg("Using service account from file")
	return key, nil
}

// NewGoogleService builds an authenticated Calendar client from a service
// account key.
func NewGoogleService(ctx context.Context, key []byte) (*gcal.Service, error) {
	cfg, err := google.JWTConfigFromJSON(key, gcal.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse service account key: %w", err)
	}
	srv, err := gcal.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create calendar service: %w", err)
	}
	return srv, nil
}

// SyncResult counts the changes one sync made.
type SyncResult struct {
	Created   int
	Updated   int
	Deleted   int
	Unchanged int
	Kept      int // stale events of partial players left in place
	Failed    int
}

// GoogleSync mirrors duel rides into one Google Calendar.
type GoogleSync struct {
	srv        *gcal.Service
	calendarID string
}

func NewGoogleSync(srv *gcal.Service, calendarID string) *GoogleSync {
	return &GoogleSync{srv: srv, calendarID: calendarID}
}

// Sync makes the calendar's duel events for year match events:
//   - creates events whose UID is not in the calendar
//   - updates events whose summary or description changed
//   - deletes duel events that are no longer wanted, except those whose
//     UID starts with one of keep
//
// Events without the duel UID suffix are left alone. Individual insert,
// update and delete failures are logged and counted; only a failed listing
// aborts the sync.
func (g *GoogleSync) Sync(ctx context.Context, year int, events []Event, keep []string) (SyncResult, error) {
	var result SyncResult

	wanted := make(map[string]Event, len(events))
	for _, e := range events {
		wanted[e.UID] = e
	}

	existing, err := g.listDuelEvents(ctx, year)
	if err != nil {
		return result, err
	}

	seen := make(map[string]bool, len(existing))
	for _, ge := range existing {
		e, ok := wanted[ge.ICalUID]
		if !ok && hasAnyPrefix(ge.ICalUID, keep) {
			result.Kept++
			logging.Debug().Str("uid", ge.ICalUID).Msg("[SYNC] Kept event of partial player")
			continue
		}
		if !ok || seen[ge.ICalUID] {
			if err := g.srv.Events.Delete(g.calendarID, ge.Id).Context(ctx).Do(); err != nil {
				g.record("delete", err, &result)
				logging.Error().Err(err).Str("uid", ge.ICalUID).Msg("[SYNC] Failed to delete event")
				continue
			}
			g.record("delete", nil, &result)
			result.Deleted++
			logging.Info().Str("summary", ge.Summary).Msg("[SYNC] Deleted")
			continue
		}
		seen[ge.ICalUID] = true

		if ge.Summary == e.Summary && strings.TrimSpace(ge.Description) == strings.TrimSpace(e.Description) {
			result.Unchanged++
			continue
		}
		if _, err := g.srv.Events.Update(g.calendarID, ge.Id, toGoogleEvent(e)).Context(ctx).Do(); err != nil {
			g.record("update", err, &result)
			logging.Error().Err(err).Str("uid", e.UID).Msg("[SYNC] Failed to update event")
			continue
		}
		g.record("update", nil, &result)
		result.Updated++
		logging.Info().Str("summary", e.Summary).Str("date", e.Date).Msg("[SYNC] Updated")
	}

	for _, e := range events {
		if seen[e.UID] {
			continue
		}
		seen[e.UID] = true

		_, err := g.srv.Events.Insert(g.calendarID, toGoogleEvent(e)).Context(ctx).Do()
		if isDuplicate(err) {
			result.Unchanged++
			logging.Info().Str("uid", e.UID).Msg("[SYNC] Event already exists (skipped duplicate)")
			continue
		}
		if err != nil {
			g.record("insert", err, &result)
			logging.Error().Err(err).Str("uid", e.UID).Msg("[SYNC] Failed to create event")
			continue
		}
		g.record("insert", nil, &result)
		result.Created++
		logging.Info().Str("summary", e.Summary).Str("date", e.Date).Msg("[SYNC] Created")
	}

	return result, nil
}

// listDuelEvents returns every duel event in the calendar within year.
func (g *GoogleSync) listDuelEvents(ctx context.Context, year int) ([]*gcal.Event, error) {
	timeMin := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)
	timeMax := time.Date(year+1, time.January, 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)

	var out []*gcal.Event
	err := g.srv.Events.List(g.calendarID).
		TimeMin(timeMin).
		TimeMax(timeMax).
		SingleEvents(true).
		ShowDeleted(false).
		Pages(ctx, func(page *gcal.Events) error {
			for _, item := range page.Items {
				if strings.HasSuffix(item.ICalUID, UIDDomain) {
					out = append(out, item)
				}
			}
			return nil
		})
	if err != nil {
		metrics.CalendarSyncOperations.WithLabelValues("list", "failed").Inc()
		return nil, fmt.Errorf("unable to retrieve existing calendar events: %w", err)
	}
	metrics.CalendarSyncOperations.WithLabelValues("list", "ok").Inc()
	return out, nil
}

func (g *GoogleSync) record(op string, err error, result *SyncResult) {
	if err != nil {
		result.Failed++
		metrics.CalendarSyncOperations.WithLabelValues(op, "failed").Inc()
		return
	}
	metrics.CalendarSyncOperations.WithLabelValues(op, "ok").Inc()
}

func toGoogleEvent(e Event) *gcal.Event {
	start := e.Start()
	return &gcal.Event{
		ICalUID:      e.UID,
		Summary:      e.Summary,
		Description:  e.Description,
		Start:        &gcal.EventDateTime{Date: start.Format("2006-01-02")},
		End:          &gcal.EventDateTime{Date: start.AddDate(0, 0, 1).Format("2006-01-02")},
		Transparency: "transparent",
		Source: &gcal.EventSource{
			Title: "Strava",
			Url:   "https://www.strava.com",
		},
	}
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func isDuplicate(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusConflict
}
