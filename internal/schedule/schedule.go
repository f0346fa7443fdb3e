package schedule

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"time"
)

// DefaultFluctuation is the forward-looking tolerance applied by Run so that
// events due a hair after "now" fire in the current pass instead of waiting
// a whole loop iteration.
const DefaultFluctuation = 100 * time.Millisecond

// Schedule is a queue of events kept in ascending Execute order.
// It is not safe for concurrent use; the owning loop drives it.
type Schedule struct {
	queue       []*Event
	fluctuation time.Duration
	logger      *slog.Logger

	// now is injectable for testing. Defaults to time.Now.
	now func() time.Time

	// OnPanic, if set, is called after a panicking action is recovered.
	OnPanic func(ev *Event, recovered any)
}

// New creates an empty schedule. A non-positive fluctuation selects
// DefaultFluctuation.
func New(logger *slog.Logger, fluctuation time.Duration) *Schedule {
	if logger == nil {
		logger = slog.Default()
	}
	if fluctuation <= 0 {
		fluctuation = DefaultFluctuation
	}
	return &Schedule{
		fluctuation: fluctuation,
		logger:      logger,
		now:         time.Now,
	}
}

// SetClock replaces the time source. Intended for tests and simulations.
func (s *Schedule) SetClock(now func() time.Time) {
	s.now = now
}

// Now returns the schedule's current time.
func (s *Schedule) Now() time.Time {
	return s.now()
}

// Add inserts ev keeping the queue sorted. Events with equal execution
// times keep insertion order.
func (s *Schedule) Add(ev *Event) {
	i := 0
	for i < len(s.queue) && !s.queue[i].Execute.After(ev.Execute) {
		i++
	}
	s.queue = slices.Insert(s.queue, i, ev)
}

// Delay creates an event from the current time plus ds, adds it, and
// returns it so the caller can cancel it later.
func (s *Schedule) Delay(action Action, ds ...Duration) *Event {
	ev := After(s.now(), action, ds...)
	s.Add(ev)
	return ev
}

// Remove deletes ev from the queue. The exact pointer is preferred; failing
// that the first structurally equal event is removed. It reports whether an
// event was removed.
func (s *Schedule) Remove(ev *Event) bool {
	if ev == nil {
		return false
	}
	if i := slices.Index(s.queue, ev); i >= 0 {
		s.queue = slices.Delete(s.queue, i, i+1)
		return true
	}
	for i, queued := range s.queue {
		if queued.Equal(ev) {
			s.queue = slices.Delete(s.queue, i, i+1)
			return true
		}
	}
	return false
}

// Contains reports whether ev (by pointer) is still queued.
func (s *Schedule) Contains(ev *Event) bool {
	return slices.Contains(s.queue, ev)
}

// Len returns the number of pending events.
func (s *Schedule) Len() int {
	return len(s.queue)
}

// Next returns the earliest pending event, or nil.
func (s *Schedule) Next() *Event {
	if len(s.queue) == 0 {
		return nil
	}
	return s.queue[0]
}

// Clear drops every pending event.
func (s *Schedule) Clear() {
	s.queue = nil
}

// Run executes, in queue order, every event due within now plus the
// fluctuation range and returns how many fired. A panicking action is
// recovered and logged; the remaining due events still run. Events added
// by an action are eligible in the same pass if they are already due.
func (s *Schedule) Run() int {
	deadline := s.now().Add(s.fluctuation)
	fired := 0
	for len(s.queue) > 0 {
		head := s.queue[0]
		if head.Execute.After(deadline) {
			break
		}
		s.queue = s.queue[1:]
		s.execute(head)
		fired++
	}
	return fired
}

func (s *Schedule) execute(ev *Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("schedule: action panicked",
				"event", ev.Name,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			if s.OnPanic != nil {
				s.OnPanic(ev, r)
			}
		}
	}()
	if ev.Action != nil {
		ev.Action()
	}
}
