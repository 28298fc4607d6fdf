package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"strava-duel/internal/calendar"
	"strava-duel/internal/duel"
	"strava-duel/internal/store"
)

// Cache-Control values for the report. A ready report may be served by a
// CDN for 15 minutes and stale for 30 more while it revalidates.
const (
	readyCacheControl      = "s-maxage=900, stale-while-revalidate=1800"
	incompleteCacheControl = "no-store"
)

var validate = validator.New()

// ReportService returns duel reports.
type ReportService interface {
	Report(ctx context.Context, year int) (*duel.Report, error)
}

// Registry is the read side of the store used by the status endpoint.
type Registry interface {
	store.CredentialStore
	store.SlotTable
}

// Handler serves the duel API.
type Handler struct {
	reports  ReportService
	registry Registry
	loc      *time.Location
	now      func() time.Time
	calName  string
}

func NewHandler(reports ReportService, registry Registry, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{
		reports:  reports,
		registry: registry,
		loc:      loc,
		now:      time.Now,
		calName:  "Ride Duel",
	}
}

type yearQuery struct {
	Year int `validate:"min=2009,max=2100"`
}

// parseYear reads ?year=, defaulting to the current year.
func (h *Handler) parseYear(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("year")
	if raw == "" {
		return h.now().In(h.loc).Year(), nil
	}
	year, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("year must be a number, got %q", raw)
	}
	if err := validate.Struct(yearQuery{Year: year}); err != nil {
		return 0, fmt.Errorf("year %d out of range 2009-2100", year)
	}
	return year, nil
}

// DuelReport handles GET /api/v1/duel.
func (h *Handler) DuelReport(w http.ResponseWriter, r *http.Request) {
	year, err := h.parseYear(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "Invalid year", err)
		return
	}

	report, err := h.reports.Report(r.Context(), year)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "Failed to fetch data", err)
		return
	}

	cacheControl := incompleteCacheControl
	if report.Ready() && !report.Partial() {
		cacheControl = readyCacheControl
	}
	respondJSON(w, http.StatusOK, cacheControl, report)
}

// StatusPlayer is one registered participant.
type StatusPlayer struct {
	Name    string `json:"name"`
	Profile string `json:"profile"`
	Slot    int    `json:"slot"`
}

// StatusResponse tells the dashboard who has connected.
type StatusResponse struct {
	ConnectedCount int            `json:"connectedCount"`
	Players        []StatusPlayer `json:"players"`
	Ready          bool           `json:"ready"`
}

// Status handles GET /api/v1/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp, err := BuildStatus(r.Context(), h.registry)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "Failed to read status", err)
		return
	}
	respondJSON(w, http.StatusOK, "no-store", resp)
}

// BuildStatus lists the slot holders that have a stored credential.
func BuildStatus(ctx context.Context, registry Registry) (*StatusResponse, error) {
	slots, err := registry.Slots(ctx)
	if err != nil {
		return nil, fmt.Errorf("read slots: %w", err)
	}

	resp := &StatusResponse{Players: []StatusPlayer{}}
	for i, id := range slots {
		if id == "" {
			continue
		}
		cred, err := registry.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read credential for slot %d: %w", i+1, err)
		}
		resp.Players = append(resp.Players, StatusPlayer{Name: cred.Name, Profile: cred.Profile, Slot: i + 1})
	}
	resp.ConnectedCount = len(resp.Players)
	resp.Ready = resp.ConnectedCount == store.SlotCount
	return resp, nil
}

// CalendarICS handles GET /api/v1/duel/calendar.ics.
func (h *Handler) CalendarICS(w http.ResponseWriter, r *http.Request) {
	year, err := h.parseYear(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "Invalid year", err)
		return
	}

	report, err := h.reports.Report(r.Context(), year)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "Failed to fetch data", err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="duel-%d.ics"`, year))
	if report.Ready() {
		w.Header().Set("Cache-Control", readyCacheControl)
	} else {
		w.Header().Set("Cache-Control", incompleteCacheControl)
	}
	w.WriteHeader(http.StatusOK)
	_ = calendar.WriteICS(w, calendar.EventsFromReport(report), h.calName, h.now())
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if _, err := h.registry.Slots(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, "no-store", map[string]string{
		"status": status,
		"time":   h.now().UTC().Format(time.RFC3339),
	})
}
