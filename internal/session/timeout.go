package session

import (
	"slices"
	"time"

	"github.com/flemzord/pelican/internal/schedule"
	"github.com/flemzord/pelican/pkg/update"
)

// Timeout removes its session after a period without qualifying activity.
// At most one removal event is pending at any time.
type Timeout struct {
	sched    *schedule.Schedule
	expire   func()
	kinds    []update.Kind
	duration time.Duration
	action   func()
	pending  *schedule.Event
}

func newTimeout(sched *schedule.Schedule, expire func()) *Timeout {
	return &Timeout{sched: sched, expire: expire}
}

// Set configures which update kinds count as activity, the inactivity
// duration, and an optional action run just before removal. Empty kinds
// means every kind counts. The timer is armed immediately.
func (t *Timeout) Set(kinds []update.Kind, d time.Duration, action func()) {
	if len(kinds) == 0 {
		kinds = update.Kinds
	}
	t.kinds = slices.Clone(kinds)
	t.duration = d
	t.action = action
	t.arm()
}

// Bump re-arms the timer if u's kind counts as activity.
func (t *Timeout) Bump(u *update.Update) {
	if t.duration <= 0 || !u.Kind.In(t.kinds) {
		return
	}
	t.arm()
}

// Disable cancels the pending removal and clears the configuration.
func (t *Timeout) Disable() {
	t.cancel()
	t.kinds = nil
	t.duration = 0
	t.action = nil
}

// Pending returns the scheduled removal event, or nil.
func (t *Timeout) Pending() *schedule.Event {
	return t.pending
}

// Duration returns the configured inactivity duration.
func (t *Timeout) Duration() time.Duration {
	return t.duration
}

func (t *Timeout) arm() {
	t.cancel()
	if t.duration <= 0 {
		return
	}
	now := t.sched.Now()
	t.pending = schedule.At(now, now.Add(t.duration), t.fire)
	t.pending.Name = "session-timeout"
	t.sched.Add(t.pending)
}

func (t *Timeout) cancel() {
	if t.pending != nil {
		t.sched.Remove(t.pending)
		t.pending = nil
	}
}

func (t *Timeout) fire() {
	t.pending = nil
	if t.action != nil {
		t.action()
	}
	if t.expire != nil {
		t.expire()
	}
}
