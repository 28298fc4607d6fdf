package calendar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"strava-duel/internal/duel"
)

// fakeCalendar is an in-memory stand-in for the Calendar v3 events API.
type fakeCalendar struct {
	mu     sync.Mutex
	events map[string]*gcal.Event // by event id
	nextID int
	ops    []string
	failOn string
}

func newFakeCalendar(t *testing.T, seed ...*gcal.Event) (*fakeCalendar, *gcal.Service) {
	t.Helper()
	f := &fakeCalendar{events: make(map[string]*gcal.Event)}
	for _, e := range seed {
		f.add(e)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /calendars/{cal}/events", f.list)
	mux.HandleFunc("POST /calendars/{cal}/events", f.insert)
	mux.HandleFunc("PUT /calendars/{cal}/events/{id}", f.update)
	mux.HandleFunc("DELETE /calendars/{cal}/events/{id}", f.remove)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	srv, err := gcal.NewService(context.Background(),
		option.WithEndpoint(server.URL+"/"),
		option.WithHTTPClient(server.Client()),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return f, srv
}

func (f *fakeCalendar) add(e *gcal.Event) *gcal.Event {
	f.nextID++
	e.Id = "evt" + strconv.Itoa(f.nextID)
	f.events[e.Id] = e
	return e
}

func (f *fakeCalendar) op(name string, w http.ResponseWriter) bool {
	f.ops = append(f.ops, name)
	if f.failOn == name {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":500,"message":"backend error"}}`))
		return false
	}
	return true
}

func (f *fakeCalendar) list(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.op("list", w) {
		return
	}
	items := make([]*gcal.Event, 0, len(f.events))
	for _, e := range f.events {
		items = append(items, e)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(&gcal.Events{Items: items})
}

func (f *fakeCalendar) insert(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.op("insert", w) {
		return
	}
	var e gcal.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for _, existing := range f.events {
		if existing.ICalUID == e.ICalUID {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":{"code":409,"message":"The requested identifier already exists."}}`))
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(f.add(&e))
}

func (f *fakeCalendar) update(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.op("update", w) {
		return
	}
	id := r.PathValue("id")
	var e gcal.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	e.Id = id
	f.events[id] = &e
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(&e)
}

func (f *fakeCalendar) remove(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.op("delete", w) {
		return
	}
	delete(f.events, r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeCalendar) byUID() map[string]*gcal.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]*gcal.Event, len(f.events))
	for _, e := range f.events {
		out[e.ICalUID] = e
	}
	return out
}

func TestGoogleSync_CreatesUpdatesDeletes(t *testing.T) {
	events := EventsFromReport(sampleReport())

	stale := toGoogleEvent(events[0])
	stale.Summary = "Alice: old title"
	unchanged := toGoogleEvent(events[1])
	gone := &gcal.Event{ICalUID: "111-2024-01-05-1@strava-duel", Summary: "Alice: deleted ride"}
	foreign := &gcal.Event{ICalUID: "abc@google.com", Summary: "Dentist"}

	fake, srv := newFakeCalendar(t, stale, unchanged, gone, foreign)

	result, err := NewGoogleSync(srv, "duel@group.calendar.google.com").Sync(context.Background(), 2024, events, nil)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	want := SyncResult{Created: 1, Updated: 1, Deleted: 1, Unchanged: 1}
	if result != want {
		t.Errorf("result: expected %+v, got %+v", want, result)
	}

	got := fake.byUID()
	if len(got) != 4 {
		t.Errorf("expected 3 duel events plus the foreign one, got %d", len(got))
	}
	if _, ok := got[foreign.ICalUID]; !ok {
		t.Error("foreign event must be left alone")
	}
	if _, ok := got[gone.ICalUID]; ok {
		t.Error("stale duel event should be deleted")
	}
	if e := got[events[0].UID]; e == nil || e.Summary != events[0].Summary {
		t.Errorf("changed event not updated: %+v", e)
	}
	if e := got[events[2].UID]; e == nil || e.Start == nil || e.Start.Date != "2024-02-29" || e.End.Date != "2024-03-01" {
		t.Errorf("new all-day event not created correctly: %+v", e)
	}
}

func TestGoogleSync_Idempotent(t *testing.T) {
	events := EventsFromReport(sampleReport())
	_, srv := newFakeCalendar(t)
	gs := NewGoogleSync(srv, "primary")

	if _, err := gs.Sync(context.Background(), 2024, events, nil); err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	result, err := gs.Sync(context.Background(), 2024, events, nil)
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if result != (SyncResult{Unchanged: 3}) {
		t.Errorf("second sync should change nothing, got %+v", result)
	}
}

func TestGoogleSync_ListFailureAborts(t *testing.T) {
	fake, srv := newFakeCalendar(t)
	fake.failOn = "list"

	_, err := NewGoogleSync(srv, "primary").Sync(context.Background(), 2024, EventsFromReport(sampleReport()), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, op := range fake.ops {
		if op == "insert" {
			t.Error("no inserts expected after a failed listing")
		}
	}
}

func TestGoogleSync_InsertFailureCounted(t *testing.T) {
	fake, srv := newFakeCalendar(t)
	fake.failOn = "insert"

	result, err := NewGoogleSync(srv, "primary").Sync(context.Background(), 2024, EventsFromReport(sampleReport()), nil)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Failed != 3 || result.Created != 0 {
		t.Errorf("expected 3 failures, got %+v", result)
	}
}

func TestGoogleSync_KeepsRidesOfPartialPlayer(t *testing.T) {
	report := sampleReport()
	_, srv := newFakeCalendar(t)
	gs := NewGoogleSync(srv, "primary")
	if _, err := gs.Sync(context.Background(), 2024, EventsFromReport(report), nil); err != nil {
		t.Fatalf("first Sync: %v", err)
	}

	// Bob's token refresh failed: no rides, flagged partial.
	report.Players[1].Activities = nil
	report.Players[1].Partial = true

	result, err := gs.Sync(context.Background(), 2024, EventsFromReport(report), PartialPrefixes(report))
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if result.Deleted != 0 || result.Kept != 1 {
		t.Errorf("expected Bob's ride to be kept, got %+v", result)
	}

	// A clean report for Bob without the ride still removes it.
	report.Players[1].Partial = false
	result, err = gs.Sync(context.Background(), 2024, EventsFromReport(report), PartialPrefixes(report))
	if err != nil {
		t.Fatalf("third Sync: %v", err)
	}
	if result.Deleted != 1 || result.Kept != 0 {
		t.Errorf("expected the ride to be deleted once Bob's data is complete, got %+v", result)
	}
}

type stubReports struct {
	report *duel.Report
	err    error
}

func (s stubReports) Report(ctx context.Context, year int) (*duel.Report, error) {
	return s.report, s.err
}

type recordingSyncer struct {
	calls  int
	events []Event
	keep   []string
}

func (r *recordingSyncer) Sync(ctx context.Context, year int, events []Event, keep []string) (SyncResult, error) {
	r.calls++
	r.events = events
	r.keep = keep
	return SyncResult{Created: len(events)}, nil
}

func TestSyncYear(t *testing.T) {
	syncer := &recordingSyncer{}
	result, err := SyncYear(context.Background(), stubReports{report: sampleReport()}, syncer, 2024)
	if err != nil {
		t.Fatalf("SyncYear: %v", err)
	}
	if syncer.calls != 1 || len(syncer.events) != 3 || result.Created != 3 {
		t.Errorf("unexpected sync: calls=%d events=%d result=%+v", syncer.calls, len(syncer.events), result)
	}

	if len(syncer.keep) != 0 {
		t.Errorf("complete report keeps nothing, got %v", syncer.keep)
	}

	partial := sampleReport()
	partial.Players[0].Partial = true
	syncer = &recordingSyncer{}
	if _, err := SyncYear(context.Background(), stubReports{report: partial}, syncer, 2024); err != nil {
		t.Fatalf("SyncYear partial: %v", err)
	}
	if len(syncer.keep) != 1 || syncer.keep[0] != "111-" {
		t.Errorf("expected Alice's prefix to be kept, got %v", syncer.keep)
	}

	syncer = &recordingSyncer{}
	incomplete := &duel.Report{Status: duel.StatusIncomplete, ConnectedCount: 1}
	if _, err := SyncYear(context.Background(), stubReports{report: incomplete}, syncer, 2024); err != nil {
		t.Fatalf("SyncYear incomplete: %v", err)
	}
	if syncer.calls != 0 {
		t.Error("incomplete duel must not sync")
	}

	boom := errors.New("read slots: closed")
	if _, err := SyncYear(context.Background(), stubReports{err: boom}, syncer, 2024); !errors.Is(err, boom) {
		t.Errorf("expected report error, got %v", err)
	}
}
