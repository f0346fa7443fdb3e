package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.Received("message")
	m.Dropped(ReasonMalformed)
	m.Dispatched("b", "execute")
	m.SetSessions("b", 1)
	m.Lifecycle("session_created")
	m.Panic()
	m.FetchError()
	m.ObserveTick(time.Millisecond)
	m.ObserveSchedule(1, 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	m := New()
	m.Received("message")
	m.Received("message")
	m.Dropped(ReasonBlacklisted)
	m.SetSessions("b1", 3)
	m.ObserveSchedule(4, 2)

	body := scrape(t, m)
	for _, want := range []string{
		`pelican_updates_received_total{kind="message"} 2`,
		`pelican_updates_dropped_total{reason="blacklisted"} 1`,
		`pelican_sessions_active{builder="b1"} 3`,
		`pelican_schedule_pending 4`,
		`pelican_schedule_fired_total 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := New()
	m.Panic()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "pelican_handler_panics_total 1") {
		t.Errorf("exposition missing panic counter:\n%s", body)
	}
}
