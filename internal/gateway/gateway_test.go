package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/flemzord/pelican/internal/dispatch"
	"github.com/flemzord/pelican/internal/moderator"
	"github.com/flemzord/pelican/internal/session"
)

const testBearer = "admin-token"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type removal struct {
	builder string
	id      int64
	reason  string
}

type fakeDispatcher struct {
	mu        sync.Mutex
	builders  []dispatch.BuilderInfo
	sessions  []dispatch.SessionInfo
	removals  []removal
	observers map[int]dispatch.Observer
	next      int
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		builders: []dispatch.BuilderInfo{
			{ID: "b1", Name: "chat", IDKind: "chat", Sessions: 2},
			{ID: "b2", Name: "stats", IDKind: "user", Sessions: 1},
		},
		sessions: []dispatch.SessionInfo{
			{Builder: "b1", ID: 10, Kind: "chat"},
			{Builder: "b1", ID: 11, Kind: "chat"},
			{Builder: "b2", ID: 42, Kind: "user"},
		},
		observers: make(map[int]dispatch.Observer),
	}
}

func (f *fakeDispatcher) Builders() []dispatch.BuilderInfo { return f.builders }
func (f *fakeDispatcher) Sessions() []dispatch.SessionInfo { return f.sessions }
func (f *fakeDispatcher) Offset() int                      { return 77 }
func (f *fakeDispatcher) PendingEvents() int               { return 3 }

func (f *fakeDispatcher) RequestRemoval(builder string, id int64, reason string) bool {
	for _, s := range f.sessions {
		if s.Builder == builder && s.ID == id {
			f.mu.Lock()
			f.removals = append(f.removals, removal{builder, id, reason})
			f.mu.Unlock()
			return true
		}
	}
	return false
}

func (f *fakeDispatcher) Subscribe(obs dispatch.Observer) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.observers[id] = obs
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.observers, id)
		f.mu.Unlock()
	}
}

func (f *fakeDispatcher) emit(ev session.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, obs := range f.observers {
		obs(ev)
	}
}

func (f *fakeDispatcher) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.observers)
}

type harness struct {
	gw   *Gateway
	disp *fakeDispatcher
	mod  *moderator.Moderator
	h    http.Handler
}

func newHarness(t *testing.T, auth AuthConfig) *harness {
	t.Helper()
	disp := newFakeDispatcher()
	mod := moderator.New(moderator.Config{Logger: discardLogger()})
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "pelican_updates_received_total 1\n")
	})
	gw := New(Config{Auth: auth, AuthRate: 1000}, Deps{
		Dispatcher: disp,
		Blacklist:  mod,
		Metrics:    metrics,
		Logger:     discardLogger(),
	})
	return &harness{gw: gw, disp: disp, mod: mod, h: gw.Handler()}
}

func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+testBearer)
	rr := httptest.NewRecorder()
	h.h.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	t.Parallel()

	h := newHarness(t, AuthConfig{})
	rr := h.do(http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" || resp.Builders != 2 || resp.Sessions != 3 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHealth_NoBuilders(t *testing.T) {
	t.Parallel()

	h := newHarness(t, AuthConfig{})
	h.disp.builders = nil
	rr := h.do(http.MethodGet, "/health", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t, AuthConfig{})
	rr := h.do(http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "pelican_updates_received_total") {
		t.Errorf("status = %d body = %q", rr.Code, rr.Body.String())
	}
}

func TestAdminRoutes_NotMountedWithoutAuth(t *testing.T) {
	t.Parallel()

	h := newHarness(t, AuthConfig{})
	for _, path := range []string{"/status", "/api/sessions", "/api/blacklist"} {
		if rr := h.do(http.MethodGet, path, ""); rr.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", path, rr.Code)
		}
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	h := newHarness(t, AuthConfig{BearerToken: testBearer})
	start := h.gw.startedAt
	h.gw.now = func() time.Time { return start.Add(90 * time.Second) }
	if err := h.mod.Blacklist(context.Background(), 5, "spam"); err != nil {
		t.Fatal(err)
	}

	rr := h.do(http.MethodGet, "/status", "")
	var resp StatusResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	want := StatusResponse{Uptime: 90, Offset: 77, PendingEvents: 3, Builders: 2, Sessions: 3, Blacklisted: 1}
	if resp != want {
		t.Errorf("resp = %+v, want %+v", resp, want)
	}
}

func TestListSessions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, AuthConfig{BearerToken: testBearer})

	tests := []struct {
		path string
		want int
	}{
		{"/api/sessions", 3},
		{"/api/sessions?builder=b1", 2},
		{"/api/sessions?builder=zz", 0},
	}
	for _, tt := range tests {
		rr := h.do(http.MethodGet, tt.path, "")
		var got []dispatch.SessionInfo
		if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
			t.Fatalf("%s: %v", tt.path, err)
		}
		if got == nil || len(got) != tt.want {
			t.Errorf("%s: got %d sessions, want %d", tt.path, len(got), tt.want)
		}
	}
}

func TestListBuilders(t *testing.T) {
	t.Parallel()

	h := newHarness(t, AuthConfig{BearerToken: testBearer})
	rr := h.do(http.MethodGet, "/api/builders", "")
	var got []dispatch.BuilderInfo
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1].Name != "stats" {
		t.Errorf("builders = %+v", got)
	}
}

func TestDeleteSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, AuthConfig{BearerToken: testBearer})

	if rr := h.do(http.MethodDelete, "/api/sessions/b1/11", ""); rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rr.Code)
	}
	if rr := h.do(http.MethodDelete, "/api/sessions/b2/11", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown: status = %d, want 404", rr.Code)
	}
	if rr := h.do(http.MethodDelete, "/api/sessions/b1/abc", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", rr.Code)
	}

	want := []removal{{"b1", 11, removalReason}}
	if len(h.disp.removals) != 1 || h.disp.removals[0] != want[0] {
		t.Errorf("removals = %+v, want %+v", h.disp.removals, want)
	}
}

func TestBlacklistCRUD(t *testing.T) {
	t.Parallel()

	h := newHarness(t, AuthConfig{BearerToken: testBearer})

	if rr := h.do(http.MethodPost, "/api/blacklist", `{"id":-100123,"reason":"spam"}`); rr.Code != http.StatusCreated {
		t.Fatalf("post: status = %d body = %s", rr.Code, rr.Body.String())
	}
	if !h.mod.IsBlacklisted(-100123) {
		t.Fatal("id not blacklisted")
	}

	rr := h.do(http.MethodGet, "/api/blacklist", "")
	var entries []moderator.Entry
	if err := json.NewDecoder(rr.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Reason != "spam" {
		t.Errorf("entries = %+v", entries)
	}

	if rr := h.do(http.MethodDelete, "/api/blacklist/-100123", ""); rr.Code != http.StatusNoContent {
		t.Errorf("delete: status = %d", rr.Code)
	}
	if rr := h.do(http.MethodDelete, "/api/blacklist/-100123", ""); rr.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", rr.Code)
	}
}

func TestBlacklist_BadRequests(t *testing.T) {
	t.Parallel()

	h := newHarness(t, AuthConfig{BearerToken: testBearer})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"zero id", http.MethodPost, "/api/blacklist", `{"id":0}`},
		{"bad json", http.MethodPost, "/api/blacklist", `{`},
		{"bad delete id", http.MethodDelete, "/api/blacklist/x", ""},
	}
	for _, tt := range tests {
		if rr := h.do(tt.method, tt.path, tt.body); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tt.name, rr.Code)
		}
	}
}

func TestEvents_Stream(t *testing.T) {
	t.Parallel()

	h := newHarness(t, AuthConfig{BearerToken: testBearer})
	srv := httptest.NewServer(h.h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/events", &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Bearer " + testBearer}},
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	for h.gw.hub.len() == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("subscriber never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	h.disp.emit(session.Event{
		Kind:   session.EventRemove,
		Tag:    session.Tag{BuilderID: "b1", ID: 10, Kind: session.IDChat},
		Reason: "timeout",
	})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var msg EventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "session_removed" || msg.Builder != "b1" || msg.ID != 10 || msg.Kind != "chat" || msg.Reason != "timeout" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestEvents_RequiresAuth(t *testing.T) {
	t.Parallel()

	h := newHarness(t, AuthConfig{BearerToken: testBearer})
	req := httptest.NewRequest(http.MethodGet, "/ws/events", nil)
	rr := httptest.NewRecorder()
	h.h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
}

func TestHub_DropsForSlowSubscriber(t *testing.T) {
	t.Parallel()

	hb := newHub(discardLogger())
	ch, ok := hb.subscribe()
	if !ok {
		t.Fatal("subscribe failed")
	}
	for range subscriberBuffer + 10 {
		hb.publish(session.Event{Kind: session.EventCreated})
	}
	if len(ch) != subscriberBuffer {
		t.Errorf("buffered = %d, want %d", len(ch), subscriberBuffer)
	}

	hb.close()
	if _, ok := hb.subscribe(); ok {
		t.Error("subscribe after close succeeded")
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, AuthConfig{})
	h.gw.config.Bind = "127.0.0.1:0"

	if err := h.gw.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.disp.subscribers() != 1 {
		t.Errorf("subscribers = %d, want 1", h.disp.subscribers())
	}
	if err := h.gw.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if h.disp.subscribers() != 0 {
		t.Errorf("subscribers after stop = %d, want 0", h.disp.subscribers())
	}
}

func TestStart_NoBind(t *testing.T) {
	t.Parallel()

	gw := New(Config{}, Deps{Logger: discardLogger()})
	if err := gw.Start(context.Background()); err != ErrNoBind {
		t.Errorf("err = %v, want ErrNoBind", err)
	}
}
