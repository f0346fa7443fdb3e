// Package dispatch runs the update loop: it fetches batches, filters and
// deduplicates updates, routes each one to the session builders that claim
// it, and performs housekeeping once per batch.
//
// All session state is mutated on the dispatch goroutine. Other goroutines,
// and route actions running inside a tick, interact through Post, Subscribe,
// Register, Unregister, RequestRemoval and the snapshot methods, none of
// which block on a running tick.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/pelican/internal/metrics"
	"github.com/flemzord/pelican/internal/schedule"
	"github.com/flemzord/pelican/internal/session"
	"github.com/flemzord/pelican/internal/telegram"
)

const tracerName = "github.com/flemzord/pelican/internal/dispatch"

// Observer receives lifecycle events. Observers run on the dispatch
// goroutine and must return quickly.
type Observer func(ev session.Event)

// Dispatcher is the Pelican core loop.
type Dispatcher struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	// mu guards builders, sessions and loop state. It is held for the
	// whole of ProcessBatch but never across a fetch. Methods reachable
	// from route actions only ever TryLock it.
	mu        sync.Mutex
	builders  []*session.Builder
	sched     *schedule.Schedule
	offset    int
	seen      *lru.Cache[int, struct{}]
	pending   []session.Event
	lastSweep time.Time
	ctx       context.Context

	// snap is the state published at the end of each tick.
	snap atomic.Pointer[snapshot]

	idsMu sync.Mutex
	ids   map[string]struct{}

	inboxMu sync.Mutex
	inbox   []func()
	control []func()

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObs   int
}

var _ session.Host = (*Dispatcher)(nil)

// New creates a dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Source == nil {
		return nil, ErrNoSource
	}
	cfg.defaults()

	seen, err := lru.New[int, struct{}](cfg.DedupSize)
	if err != nil {
		return nil, fmt.Errorf("dispatch: dedup cache: %w", err)
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	d := &Dispatcher{
		cfg:       cfg,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		tracer:    tracer,
		seen:      seen,
		ctx:       context.Background(),
		ids:       make(map[string]struct{}),
		observers: make(map[int]Observer),
	}
	d.snap.Store(&snapshot{})
	d.sched = schedule.New(cfg.Logger, cfg.Fluctuation)
	d.sched.SetClock(cfg.Now)
	d.sched.OnPanic = func(*schedule.Event, any) { d.metrics.Panic() }
	d.lastSweep = cfg.Now()
	return d, nil
}

// Register assigns b a fresh unique id and appends it to the builder list.
// Builders are evaluated in registration order. A builder registered while
// a tick is running takes part in dispatch from the next batch.
func (d *Dispatcher) Register(b *session.Builder) (string, error) {
	d.idsMu.Lock()
	if b.ID() != "" {
		d.idsMu.Unlock()
		return "", ErrAlreadyRegistered
	}
	id := uuid.NewString()
	for _, taken := d.ids[id]; taken; _, taken = d.ids[id] {
		id = uuid.NewString()
	}
	if err := b.Bind(id); err != nil {
		d.idsMu.Unlock()
		return "", fmt.Errorf("dispatch: binding builder: %w", err)
	}
	d.ids[id] = struct{}{}
	d.idsMu.Unlock()

	d.apply(func() {
		d.builders = append(d.builders, b)
	})
	d.logger.Info("dispatch: builder registered", "builder", id, "name", b.Name())
	return id, nil
}

// Unregister removes the builder and closes its sessions. While a tick is
// running the removal is applied at the end of that tick.
func (d *Dispatcher) Unregister(id string) error {
	d.idsMu.Lock()
	if _, ok := d.ids[id]; !ok {
		d.idsMu.Unlock()
		return ErrUnknownBuilder
	}
	delete(d.ids, id)
	d.idsMu.Unlock()

	d.apply(func() {
		for i, b := range d.builders {
			if b.ID() == id {
				d.builders = append(d.builders[:i], d.builders[i+1:]...)
				d.protect("unregister", b.Shutdown)
				d.metrics.SetSessions(id, 0)
				d.logger.Info("dispatch: builder unregistered", "builder", id)
				return
			}
		}
	})
	return nil
}

// apply runs fn against loop state. When the loop is idle fn runs at once;
// otherwise it is queued and run by the dispatch goroutine at the end of
// the current tick.
func (d *Dispatcher) apply(fn func()) {
	if d.mu.TryLock() {
		fn()
		d.refreshLocked()
		d.mu.Unlock()
		return
	}
	d.inboxMu.Lock()
	d.control = append(d.control, fn)
	d.inboxMu.Unlock()
}

func (d *Dispatcher) applyControlLocked() {
	d.inboxMu.Lock()
	fns := d.control
	d.control = nil
	d.inboxMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (d *Dispatcher) builderLocked(id string) *session.Builder {
	for _, b := range d.builders {
		if b.ID() == id {
			return b
		}
	}
	return nil
}

// Schedule implements session.Host.
func (d *Dispatcher) Schedule() *schedule.Schedule { return d.sched }

// Sender implements session.Host.
func (d *Dispatcher) Sender() session.Sender { return d.cfg.Sender }

// Enqueue implements session.Host. Completions are posted back to the
// dispatch goroutine and run at the start of the next housekeeping phase.
func (d *Dispatcher) Enqueue(method string, params map[string]any, done session.Completion) {
	complete := func(result json.RawMessage, err error) {
		if done != nil {
			d.Post(func() { done(result, err) })
		}
	}

	if d.cfg.Queue != nil {
		if err := d.cfg.Queue.Submit(telegram.Request{Method: method, Params: params, Done: complete}); err != nil {
			d.logger.Warn("dispatch: enqueue failed", "method", method, "error", err)
			complete(nil, err)
		}
		return
	}
	if d.cfg.Sender == nil {
		complete(nil, session.ErrNoSender)
		return
	}

	ctx := d.ctx
	go func() {
		result, err := d.cfg.Sender.Call(ctx, method, params)
		complete(result, err)
	}()
}

// Notify implements session.Host. Remove and blacklist events are applied
// after the current tick's housekeeping; other events are published at once.
func (d *Dispatcher) Notify(ev session.Event) {
	switch ev.Kind {
	case session.EventRemove, session.EventBlacklist:
		d.pending = append(d.pending, ev)
	default:
		d.metrics.Lifecycle(string(ev.Kind))
		d.publish(ev)
	}
}

// Post schedules fn to run on the dispatch goroutine. It is safe to call
// from any goroutine.
func (d *Dispatcher) Post(fn func()) {
	d.inboxMu.Lock()
	d.inbox = append(d.inbox, fn)
	d.inboxMu.Unlock()
}

func (d *Dispatcher) drainInbox() {
	d.inboxMu.Lock()
	fns := d.inbox
	d.inbox = nil
	d.inboxMu.Unlock()

	for _, fn := range fns {
		d.protect("posted function", fn)
	}
}

// Subscribe registers an observer and returns a function that removes it.
func (d *Dispatcher) Subscribe(obs Observer) (cancel func()) {
	d.obsMu.Lock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = obs
	d.obsMu.Unlock()

	return func() {
		d.obsMu.Lock()
		delete(d.observers, id)
		d.obsMu.Unlock()
	}
}

func (d *Dispatcher) publish(ev session.Event) {
	d.obsMu.RLock()
	observers := make([]Observer, 0, len(d.observers))
	for _, obs := range d.observers {
		observers = append(observers, obs)
	}
	d.obsMu.RUnlock()

	for _, obs := range observers {
		d.protect("observer", func() { obs(ev) })
	}
}

// protect runs fn and contains any panic.
func (d *Dispatcher) protect(what string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			d.metrics.Panic()
			d.logger.Error("dispatch: recovered panic",
				"in", what,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
	return true
}
