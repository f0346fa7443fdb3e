package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/flemzord/pelican/internal/dispatch"
	"github.com/flemzord/pelican/internal/dispatch/dispatchtest"
	"github.com/flemzord/pelican/internal/moderator"
	"github.com/flemzord/pelican/internal/route"
	"github.com/flemzord/pelican/internal/schedule"
	"github.com/flemzord/pelican/internal/session"
	"github.com/flemzord/pelican/pkg/update"
)

var testStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	d      *dispatch.Dispatcher
	source *dispatchtest.Source
	sender *dispatchtest.Sender
	clock  *dispatchtest.Clock
	mod    *moderator.Moderator
}

func newHarness(t *testing.T, mutate func(*dispatch.Config)) *harness {
	t.Helper()
	h := &harness{
		source: dispatchtest.NewSource(),
		sender: &dispatchtest.Sender{},
		clock:  dispatchtest.NewClock(testStart),
		mod:    moderator.New(moderator.Config{Logger: discardLogger()}),
	}
	cfg := dispatch.Config{
		Source:    h.source,
		Sender:    h.sender,
		Moderator: h.mod,
		Logger:    discardLogger(),
		Now:       h.clock.Now,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := dispatch.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.d = d
	return h
}

func (h *harness) register(t *testing.T, cfg session.BuilderConfig) *session.Builder {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	b, err := session.NewBuilder(cfg)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	if _, err := h.d.Register(b); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return b
}

func (h *harness) tick(t *testing.T, payloads ...json.RawMessage) {
	t.Helper()
	h.source.Push(dispatchtest.Step{Payloads: payloads})
	if err := h.d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
}

// recordAll installs a catch-all route that records update contents.
func recordAll(seen *[]string) session.InitFunc {
	return func(s *session.Session, _ *update.Update) {
		s.Routes.Add(route.NewPass("record", update.Kinds, func(u *update.Update) bool {
			*seen = append(*seen, u.Content)
			return true
		}))
	}
}

func TestNew_RequiresSource(t *testing.T) {
	t.Parallel()

	if _, err := dispatch.New(dispatch.Config{}); !errors.Is(err, dispatch.ErrNoSource) {
		t.Errorf("err = %v, want ErrNoSource", err)
	}
}

func TestRegister_AssignsUniqueIDs(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	a := h.register(t, session.BuilderConfig{Spawner: session.PerChat()})
	b := h.register(t, session.BuilderConfig{Spawner: session.PerUser()})

	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("ids = %q, %q; want distinct non-empty", a.ID(), b.ID())
	}
	if _, err := h.d.Register(a); !errors.Is(err, dispatch.ErrAlreadyRegistered) {
		t.Errorf("re-register err = %v, want ErrAlreadyRegistered", err)
	}
	if got := h.d.Builders(); len(got) != 2 || got[0].ID != a.ID() {
		t.Errorf("Builders = %+v", got)
	}
}

func TestProcessBatch_MalformedSkipped(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	var seen []string
	h.register(t, session.BuilderConfig{Spawner: session.PerChat(), Init: recordAll(&seen)})

	h.tick(t,
		dispatchtest.Message(1, 100, 7, "first"),
		dispatchtest.Malformed(2),
		dispatchtest.Message(3, 100, 7, "third"),
	)

	if len(seen) != 2 || seen[0] != "first" || seen[1] != "third" {
		t.Errorf("dispatched = %v, want [first third]", seen)
	}
	if got := h.d.Offset(); got != 4 {
		t.Errorf("Offset = %d, want 4", got)
	}

	h.tick(t)
	offsets := h.source.Offsets()
	if offsets[len(offsets)-1] != 4 {
		t.Errorf("next fetch offset = %d, want 4", offsets[len(offsets)-1])
	}
}

func TestProcessBatch_PanicContained(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	var seen []string
	h.register(t, session.BuilderConfig{
		Spawner: session.PerChat(),
		Init: func(s *session.Session, _ *update.Update) {
			s.Routes.Add(route.NewManual("boom", func(u *update.Update) bool {
				return u.Content == "boom"
			}, func(*update.Update) bool { panic("route exploded") }))
			recordAll(&seen)(s, nil)
		},
	})

	fired := false
	h.d.Schedule().Add(schedule.At(testStart, testStart, func() { fired = true }))

	h.tick(t,
		dispatchtest.Message(1, 100, 7, "boom"),
		dispatchtest.Message(2, 200, 8, "after"),
	)

	// The panicking route counts as unhandled, so the next route still runs.
	if len(seen) != 2 || seen[0] != "boom" || seen[1] != "after" {
		t.Errorf("dispatched = %v, want [boom after]", seen)
	}
	if !fired {
		t.Error("housekeeping should still run the schedule")
	}
}

func TestProcessBatch_SpawnerPanicContained(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.register(t, session.BuilderConfig{
		Spawner: func(*update.Update) (int64, bool) { panic("bad spawner") },
	})
	var seen []string
	h.register(t, session.BuilderConfig{Spawner: session.PerChat(), Init: recordAll(&seen)})

	h.tick(t, dispatchtest.Message(1, 100, 7, "hi"))
	if len(seen) != 1 {
		t.Errorf("dispatched = %v, want one update", seen)
	}
}

func TestProcessBatch_BlacklistedOriginFiltered(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	var seen []string
	b := h.register(t, session.BuilderConfig{Spawner: session.PerChat(), Init: recordAll(&seen)})
	if err := h.mod.Blacklist(context.Background(), 7, "test"); err != nil {
		t.Fatalf("Blacklist: %v", err)
	}

	h.tick(t,
		dispatchtest.Message(1, 100, 7, "banned user"),
		dispatchtest.Message(2, 200, 8, "clean"),
	)

	if len(seen) != 1 || seen[0] != "clean" {
		t.Errorf("dispatched = %v, want [clean]", seen)
	}
	if b.Session(100) != nil {
		t.Error("no session should exist for the banned user's chat")
	}
}

func TestSessionBlacklist_AppliedAfterTick(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	var seen []string
	b := h.register(t, session.BuilderConfig{
		Spawner: session.PerChat(),
		Init: func(s *session.Session, _ *update.Update) {
			s.Routes.Add(route.NewManual("ban", func(u *update.Update) bool {
				return u.Content == "spam"
			}, func(*update.Update) bool {
				s.Blacklist("spam")
				return true
			}))
			recordAll(&seen)(s, nil)
		},
	})

	var events []session.Event
	h.d.Subscribe(func(ev session.Event) { events = append(events, ev) })

	h.tick(t,
		dispatchtest.Message(1, 100, 7, "spam"),
		dispatchtest.Message(2, 100, 7, "still here"),
	)

	if len(seen) != 1 || seen[0] != "still here" {
		t.Errorf("session should keep processing its tick, got %v", seen)
	}
	if b.Session(100) != nil {
		t.Error("session should be removed after the tick")
	}
	if !h.mod.IsBlacklisted(100) {
		t.Error("chat 100 should be blacklisted")
	}
	if len(events) != 2 || events[0].Kind != session.EventCreated || events[1].Kind != session.EventBlacklist {
		t.Errorf("events = %v", events)
	}

	h.tick(t, dispatchtest.Message(3, 100, 9, "again"))
	if b.Session(100) != nil {
		t.Error("blacklisted chat should not respawn a session")
	}
}

func TestCollision_IncludeAndExecute(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	var statsRouted int
	stats := h.register(t, session.BuilderConfig{
		Name:    "stats",
		Spawner: session.PerUser(),
		IDKind:  session.IDUser,
		Init: func(s *session.Session, _ *update.Update) {
			s.Routes.Add(route.NewPass("count", update.Kinds, func(*update.Update) bool {
				statsRouted++
				return true
			}))
		},
		Collision: func(*update.Update, []*session.Builder) session.Collision {
			return session.CollisionInclude
		},
	})

	var linked int
	h.register(t, session.BuilderConfig{
		Name:    "chat",
		Spawner: session.PerChat(),
		Init: func(s *session.Session, _ *update.Update) {
			s.Routes.Add(route.NewPass("main", update.Kinds, func(u *update.Update) bool {
				linked = len(u.LinkedTo(stats.ID()))
				return true
			}))
		},
	})

	h.tick(t, dispatchtest.Message(1, 100, 7, "hi"))

	if statsRouted != 0 {
		t.Errorf("included session ran routes %d times, want 0", statsRouted)
	}
	if stats.Session(7) == nil {
		t.Fatal("included session should be created")
	}
	if linked != 1 {
		t.Errorf("executing session saw %d linked stats sessions, want 1", linked)
	}
}

func TestCollision_Pass(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	passive := h.register(t, session.BuilderConfig{
		Spawner: session.PerUser(),
		Collision: func(*update.Update, []*session.Builder) session.Collision {
			return session.CollisionPass
		},
	})
	var seen []string
	h.register(t, session.BuilderConfig{Spawner: session.PerChat(), Init: recordAll(&seen)})

	h.tick(t, dispatchtest.Message(1, 100, 7, "hi"))

	if passive.Len() != 0 {
		t.Error("passing builder should not create a session")
	}
	if len(seen) != 1 {
		t.Errorf("dispatched = %v", seen)
	}

	// Alone, the collision policy is not consulted.
	h.tick(t, dispatchtest.InlineQuery(2, 9, "cats"))
	if passive.Session(9) == nil {
		t.Error("single claimant should always execute")
	}
}

func TestDedup_DropsReplayedUpdate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	var seen []string
	h.register(t, session.BuilderConfig{Spawner: session.PerChat(), Init: recordAll(&seen)})

	h.tick(t, dispatchtest.Message(5, 100, 7, "once"))
	h.tick(t, dispatchtest.Message(5, 100, 7, "once"))

	if len(seen) != 1 {
		t.Errorf("dispatched %d times, want 1", len(seen))
	}
}

func TestTimeout_RemovesSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	b := h.register(t, session.BuilderConfig{
		Spawner: session.PerChat(),
		Init: func(s *session.Session, _ *update.Update) {
			s.Timeout.Set(nil, 10*time.Second, nil)
		},
	})

	var removed []session.Event
	cancel := h.d.Subscribe(func(ev session.Event) {
		if ev.Kind == session.EventRemove {
			removed = append(removed, ev)
		}
	})
	defer cancel()

	h.tick(t, dispatchtest.Message(1, 100, 7, "hi"))
	if b.Session(100) == nil {
		t.Fatal("session should exist")
	}
	if infos := h.d.Sessions(); len(infos) != 1 || infos[0].ExpiresAt == nil {
		t.Errorf("Sessions = %+v, want one session with expiry", infos)
	}

	h.clock.Advance(11 * time.Second)
	h.tick(t)

	if b.Session(100) != nil {
		t.Error("session should be removed after timeout")
	}
	if len(removed) != 1 || removed[0].Reason != "timeout" {
		t.Errorf("removed events = %v", removed)
	}
}

func TestMaxIdleSweep(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(cfg *dispatch.Config) {
		cfg.MaxIdle = 5 * time.Minute
	})
	b := h.register(t, session.BuilderConfig{Spawner: session.PerChat()})

	h.tick(t, dispatchtest.Message(1, 100, 7, "hi"))
	h.clock.Advance(3 * time.Minute)
	h.tick(t, dispatchtest.Message(2, 200, 7, "hi"))
	if b.Len() != 2 {
		t.Fatalf("Len = %d, want 2", b.Len())
	}

	h.clock.Advance(3 * time.Minute)
	h.tick(t)
	if b.Session(100) != nil {
		t.Error("idle session should be swept")
	}
	if b.Session(200) == nil {
		t.Error("recent session should survive")
	}
}

func TestRequestRemoval(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	b := h.register(t, session.BuilderConfig{Spawner: session.PerChat()})
	h.tick(t, dispatchtest.Message(1, 100, 7, "hi"))

	if h.d.RequestRemoval(b.ID(), 999, "admin") {
		t.Error("unknown session should report false")
	}
	if !h.d.RequestRemoval(b.ID(), 100, "admin") {
		t.Fatal("RequestRemoval returned false")
	}
	h.tick(t)
	if b.Len() != 0 {
		t.Errorf("Len = %d, want 0", b.Len())
	}
}

func TestRouteAction_CallsBackIntoDispatcher(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	var (
		b          *session.Builder
		seen       []dispatch.SessionInfo
		removed    bool
		offset     int
		lateID     string
		lateErr    error
		builderCnt int
	)
	b = h.register(t, session.BuilderConfig{
		Spawner: session.PerChat(),
		Init: func(s *session.Session, _ *update.Update) {
			s.Routes.Add(route.NewCommand("sessions", []string{"sessions"}, func(*update.Update) bool {
				seen = h.d.Sessions()
				builderCnt = len(h.d.Builders())
				offset = h.d.Offset()
				removed = h.d.RequestRemoval(b.ID(), 100, "self")
				late, err := session.NewBuilder(session.BuilderConfig{Spawner: session.PerUser(), Logger: discardLogger()})
				if err != nil {
					lateErr = err
					return true
				}
				lateID, lateErr = h.d.Register(late)
				return true
			}))
		},
	})
	h.tick(t, dispatchtest.Message(1, 100, 7, "hi"))

	h.source.Push(dispatchtest.Step{Payloads: []json.RawMessage{dispatchtest.Command(2, 100, 7, "/sessions")}})
	done := make(chan error, 1)
	go func() { done <- h.d.Tick(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Tick: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("tick blocked while a route action called the dispatcher")
	}

	if len(seen) != 1 || seen[0].ID != 100 {
		t.Errorf("Sessions from action = %+v, want session 100", seen)
	}
	if builderCnt != 1 {
		t.Errorf("Builders from action = %d, want 1", builderCnt)
	}
	if offset != 2 {
		t.Errorf("Offset from action = %d, want 2", offset)
	}
	if !removed {
		t.Error("RequestRemoval from action returned false")
	}
	if lateErr != nil || lateID == "" {
		t.Fatalf("Register from action = %q, %v", lateID, lateErr)
	}
	if b.Len() != 0 {
		t.Errorf("Len = %d, want 0 after removal requested in action", b.Len())
	}
	got := h.d.Builders()
	if len(got) != 2 || got[1].ID != lateID {
		t.Errorf("Builders = %+v, want late builder appended", got)
	}
}

func TestUnregister_ClosesSessions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	b := h.register(t, session.BuilderConfig{Spawner: session.PerChat()})
	h.tick(t,
		dispatchtest.Message(1, 100, 7, "a"),
		dispatchtest.Message(2, 200, 8, "b"),
	)
	first, second := b.Session(100), b.Session(200)
	if first == nil || second == nil {
		t.Fatal("sessions not created")
	}

	if err := h.d.Unregister(b.ID()); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if !first.Closed() || !second.Closed() {
		t.Error("sessions should be closed")
	}
	if got := h.d.Builders(); len(got) != 0 {
		t.Errorf("Builders = %+v, want none", got)
	}
	if got := h.d.Sessions(); len(got) != 0 {
		t.Errorf("Sessions = %+v, want none", got)
	}
	if err := h.d.Unregister(b.ID()); !errors.Is(err, dispatch.ErrUnknownBuilder) {
		t.Errorf("second Unregister err = %v, want ErrUnknownBuilder", err)
	}
	if err := h.d.Unregister("missing"); !errors.Is(err, dispatch.ErrUnknownBuilder) {
		t.Errorf("unknown id err = %v, want ErrUnknownBuilder", err)
	}

	h.tick(t, dispatchtest.Message(3, 100, 7, "again"))
	if b.Len() != 0 {
		t.Errorf("Len = %d, want 0 after unregister", b.Len())
	}
}

func TestEnqueue_CompletionRunsOnLoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	done := make(chan struct{})
	var result string
	h.register(t, session.BuilderConfig{
		Spawner: session.PerChat(),
		Init: func(s *session.Session, _ *update.Update) {
			_ = s.SendAsync("sendDocument", map[string]any{"document": "file"}, func(raw json.RawMessage, err error) {
				result = string(raw)
				close(done)
			})
		},
	})

	h.tick(t, dispatchtest.Message(1, 100, 7, "hi"))

	// Completions only run during housekeeping, so keep ticking.
	deadline := time.Now().Add(5 * time.Second)
	for completed := false; !completed; {
		h.tick(t)
		select {
		case <-done:
			completed = true
		default:
			if time.Now().After(deadline) {
				t.Fatal("completion did not run")
			}
			time.Sleep(time.Millisecond)
		}
	}
	if calls := h.sender.Calls(); len(calls) != 1 || calls[0].Method != "sendDocument" {
		t.Errorf("calls = %+v", calls)
	}
	if result != "true" {
		t.Errorf("result = %q, want true", result)
	}
}

func TestTick_FetchErrorRunsHousekeeping(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	fired := false
	h.d.Schedule().Add(schedule.At(testStart, testStart, func() { fired = true }))

	fetchErr := errors.New("network down")
	h.source.Push(dispatchtest.Step{Err: fetchErr})
	if err := h.d.Tick(context.Background()); !errors.Is(err, fetchErr) {
		t.Errorf("Tick err = %v, want %v", err, fetchErr)
	}
	if !fired {
		t.Error("housekeeping should run after a failed fetch")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(cfg *dispatch.Config) {
		cfg.PollInterval = time.Millisecond
	})
	closed := make(chan struct{})
	b := h.register(t, session.BuilderConfig{
		Spawner: session.PerChat(),
		Init: func(s *session.Session, _ *update.Update) {
			s.OnClose(func(*session.Session) { close(closed) })
		},
	})
	h.source.Push(dispatchtest.Step{Payloads: []json.RawMessage{dispatchtest.Message(1, 100, 7, "hi")}})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.d.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for h.d.Offset() != 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
	select {
	case <-closed:
	default:
		t.Error("sessions should be closed on shutdown")
	}
	if b.Len() != 0 {
		t.Errorf("Len = %d after shutdown, want 0", b.Len())
	}
}
