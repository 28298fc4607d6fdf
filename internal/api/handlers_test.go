package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"strava-duel/internal/aggregate"
	"strava-duel/internal/duel"
	"strava-duel/internal/store"
)

type stubReports struct {
	report *duel.Report
	err    error
	years  []int
}

func (s *stubReports) Report(ctx context.Context, year int) (*duel.Report, error) {
	s.years = append(s.years, year)
	return s.report, s.err
}

func readyReport(year int) *duel.Report {
	return &duel.Report{
		Status:         duel.StatusReady,
		ConnectedCount: 2,
		Year:           year,
		Players: []duel.PlayerReport{
			{
				ID: "1", Slot: 1, Name: "Alice", TotalKm: 15,
				Cumulative: []aggregate.DailyTotal{{Date: "2024-01-01", Km: 10}},
				Monthly:    []aggregate.MonthlyTotal{{Month: "2024-01", Km: 15}},
				Activities: []aggregate.Activity{{Date: "2024-01-01", Km: 10, Name: "Ride"}},
			},
			{ID: "2", Slot: 2, Name: "Bob", Cumulative: []aggregate.DailyTotal{}, Monthly: []aggregate.MonthlyTotal{}, Activities: []aggregate.Activity{}},
		},
	}
}

func newTestServer(t *testing.T, reports ReportService, registry Registry) *httptest.Server {
	t.Helper()
	if registry == nil {
		registry = store.NewMemoryStore()
	}
	h := NewHandler(reports, registry, time.UTC)
	h.now = func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) }

	cfg := DefaultMiddlewareConfig()
	cfg.CORSAllowedOrigins = []string{"https://duel.example.com"}
	srv := httptest.NewServer(NewRouter(h, NewMiddleware(cfg)))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestDuelReport_Ready(t *testing.T) {
	reports := &stubReports{report: readyReport(2023)}
	srv := newTestServer(t, reports, nil)

	resp := get(t, srv.URL+"/api/v1/duel?year=2023")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Cache-Control"); got != "s-maxage=900, stale-while-revalidate=1800" {
		t.Errorf("Cache-Control: got %q", got)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ready" || body["year"] != float64(2023) {
		t.Errorf("unexpected body header: %v", body)
	}
	players, ok := body["players"].([]interface{})
	if !ok || len(players) != 2 {
		t.Fatalf("expected 2 players, got %v", body["players"])
	}
	alice := players[0].(map[string]interface{})
	for _, key := range []string{"id", "name", "profile", "totalKm", "cumulative", "monthly", "activities"} {
		if _, ok := alice[key]; !ok {
			t.Errorf("player missing %q", key)
		}
	}
	if len(reports.years) != 1 || reports.years[0] != 2023 {
		t.Errorf("expected a request for 2023, got %v", reports.years)
	}
}

func TestDuelReport_DefaultYear(t *testing.T) {
	reports := &stubReports{report: readyReport(2024)}
	srv := newTestServer(t, reports, nil)

	get(t, srv.URL+"/api/v1/duel")
	if len(reports.years) != 1 || reports.years[0] != 2024 {
		t.Errorf("expected the current year, got %v", reports.years)
	}
}

func TestDuelReport_Incomplete(t *testing.T) {
	reports := &stubReports{report: &duel.Report{Status: duel.StatusIncomplete, ConnectedCount: 1, Players: []duel.PlayerReport{}}}
	srv := newTestServer(t, reports, nil)

	resp := get(t, srv.URL+"/api/v1/duel")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Cache-Control"); got != "no-store" {
		t.Errorf("incomplete report must not be cached, got %q", got)
	}

	var body duel.Report
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != duel.StatusIncomplete || body.ConnectedCount != 1 {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestDuelReport_PartialNotCached(t *testing.T) {
	report := readyReport(2024)
	report.Players[1].Partial = true
	srv := newTestServer(t, &stubReports{report: report}, nil)

	resp := get(t, srv.URL+"/api/v1/duel")
	if got := resp.Header.Get("Cache-Control"); got != "no-store" {
		t.Errorf("partial report must not be cached, got %q", got)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	bob := body["players"].([]interface{})[1].(map[string]interface{})
	if bob["partial"] != true {
		t.Errorf("expected partial flag on Bob, got %v", bob)
	}
}

func TestDuelReport_InvalidYear(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"not a number", "year=abc"},
		{"before strava", "year=1999"},
		{"far future", "year=3000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reports := &stubReports{report: readyReport(2024)}
			srv := newTestServer(t, reports, nil)

			resp := get(t, srv.URL+"/api/v1/duel?"+tt.query)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", resp.StatusCode)
			}
			if len(reports.years) != 0 {
				t.Error("report must not be built for an invalid year")
			}
		})
	}
}

func TestDuelReport_BuildError(t *testing.T) {
	reports := &stubReports{err: errors.New("read slots: badger: closed")}
	srv := newTestServer(t, reports, nil)

	resp := get(t, srv.URL+"/api/v1/duel")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}

	var body ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "Failed to fetch data" || !strings.Contains(body.Details, "badger: closed") {
		t.Errorf("unexpected error body %+v", body)
	}
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	_ = s.Put(ctx, "1", &store.Credential{AthleteID: "1", Name: "Alice", Profile: "https://example.com/a.png"})
	if _, err := s.ClaimSlot(ctx, "1"); err != nil {
		t.Fatalf("ClaimSlot: %v", err)
	}

	srv := newTestServer(t, &stubReports{}, s)

	resp := get(t, srv.URL+"/api/v1/status")
	var body StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ConnectedCount != 1 || body.Ready || len(body.Players) != 1 {
		t.Fatalf("unexpected status %+v", body)
	}
	if body.Players[0] != (StatusPlayer{Name: "Alice", Profile: "https://example.com/a.png", Slot: 1}) {
		t.Errorf("unexpected player %+v", body.Players[0])
	}

	_ = s.Put(ctx, "2", &store.Credential{AthleteID: "2", Name: "Bob"})
	if _, err := s.ClaimSlot(ctx, "2"); err != nil {
		t.Fatalf("ClaimSlot: %v", err)
	}
	status, err := BuildStatus(ctx, s)
	if err != nil {
		t.Fatalf("BuildStatus: %v", err)
	}
	if !status.Ready || status.ConnectedCount != 2 || status.Players[1].Slot != 2 {
		t.Errorf("expected ready status with Bob in slot 2, got %+v", status)
	}
}

func TestCalendarICS(t *testing.T) {
	srv := newTestServer(t, &stubReports{report: readyReport(2024)}, nil)

	resp := get(t, srv.URL+"/api/v1/duel/calendar.ics?year=2024")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("Content-Type: got %q", ct)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "UID:1-2024-01-01-1@strava-duel") {
		t.Errorf("expected ride event in feed:\n%s", body)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, &stubReports{report: readyReport(2024)}, nil)

	if resp := get(t, srv.URL+"/api/v1/health"); resp.StatusCode != http.StatusOK {
		t.Errorf("health: expected 200, got %d", resp.StatusCode)
	}

	get(t, srv.URL+"/api/v1/duel")
	resp := get(t, srv.URL+"/metrics")
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(body), `api_requests_total{endpoint="/api/v1/duel"`) {
		t.Error("expected api_requests_total for the duel route")
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, &stubReports{report: readyReport(2024)}, nil)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/duel", nil)
	req.Header.Set("Origin", "https://duel.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://duel.example.com" {
		t.Errorf("Access-Control-Allow-Origin: got %q", got)
	}
}

func TestRateLimit(t *testing.T) {
	h := NewHandler(&stubReports{report: readyReport(2024)}, store.NewMemoryStore(), time.UTC)
	cfg := DefaultMiddlewareConfig()
	cfg.RateLimitRequests = 2
	srv := httptest.NewServer(NewRouter(h, NewMiddleware(cfg)))
	defer srv.Close()

	var last int
	for i := 0; i < 3; i++ {
		last = get(t, srv.URL+"/api/v1/duel").StatusCode
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("expected 429 on the third request, got %d", last)
	}
	if resp := get(t, srv.URL+"/api/v1/health"); resp.StatusCode != http.StatusOK {
		t.Errorf("health must not be rate limited, got %d", resp.StatusCode)
	}
}

func getFrom(t *testing.T, url, forwardedFor string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("X-Forwarded-For", forwardedFor)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestRateLimit_ForwardedHeaders(t *testing.T) {
	tests := []struct {
		name     string
		trusted  []netip.Prefix
		wantLast int
	}{
		{"untrusted client cannot rotate its key", nil, http.StatusTooManyRequests},
		{"trusted proxy forwards distinct clients", []netip.Prefix{netip.MustParsePrefix("127.0.0.0/8")}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&stubReports{report: readyReport(2024)}, store.NewMemoryStore(), time.UTC)
			cfg := DefaultMiddlewareConfig()
			cfg.RateLimitRequests = 2
			cfg.TrustedProxies = tt.trusted
			srv := httptest.NewServer(NewRouter(h, NewMiddleware(cfg)))
			defer srv.Close()

			var last int
			for i := 0; i < 3; i++ {
				last = getFrom(t, srv.URL+"/api/v1/duel", "203.0.113."+strconv.Itoa(i+1))
			}
			if last != tt.wantLast {
				t.Errorf("third request: expected %d, got %d", tt.wantLast, last)
			}
		})
	}
}

func TestSanitizeLogValue(t *testing.T) {
	if got := sanitizeLogValue("a\nb\tc"); got != `a\x0ab\x09c` {
		t.Errorf("got %q", got)
	}
}
