package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Recurring re-queues itself on the owning schedule after every fire,
// following a cron expression.
type Recurring struct {
	Name     string
	spec     cron.Schedule
	action   Action
	sched    *Schedule
	pending  *Event
	stopped  bool
	runCount int
}

// AddRecurring parses a standard 5-field cron expression (descriptors such
// as "@every 1m" and "@daily" are accepted) and queues the first occurrence.
func (s *Schedule) AddRecurring(name, expr string, action Action) (*Recurring, error) {
	spec, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("schedule: invalid cron expression %q for %q: %w", expr, name, err)
	}
	r := &Recurring{
		Name:   name,
		spec:   spec,
		action: action,
		sched:  s,
	}
	r.arm(s.now())
	return r, nil
}

func (r *Recurring) arm(from time.Time) {
	next := r.spec.Next(from)
	if next.IsZero() {
		r.pending = nil
		return
	}
	r.pending = At(from, next, r.fire)
	r.pending.Name = r.Name
	r.sched.Add(r.pending)
}

func (r *Recurring) fire() {
	if r.stopped {
		return
	}
	from := r.sched.now()
	if r.pending != nil && r.pending.Execute.After(from) {
		from = r.pending.Execute
	}
	r.runCount++
	// Re-arm before running so a panicking action does not end the series.
	r.arm(from)
	if r.action != nil {
		r.action()
	}
}

// Next returns the time of the pending occurrence, or the zero time once
// stopped or exhausted.
func (r *Recurring) Next() time.Time {
	if r.stopped || r.pending == nil {
		return time.Time{}
	}
	return r.pending.Execute
}

// Runs returns how many times the action has fired.
func (r *Recurring) Runs() int {
	return r.runCount
}

// Stop cancels the pending occurrence. It is safe to call more than once.
func (r *Recurring) Stop() {
	if r.stopped {
		return
	}
	r.stopped = true
	if r.pending != nil {
		r.sched.Remove(r.pending)
		r.pending = nil
	}
}
