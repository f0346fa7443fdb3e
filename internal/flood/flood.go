// Package flood detects sessions receiving updates faster than an allowed
// rate and fires a one-shot callback per breach window.
package flood

import (
	"slices"
	"time"

	"github.com/flemzord/pelican/pkg/update"
)

// Monitor counts qualifying updates inside a fixed window.
//
// A window opens on the first counted hit. When a hit arrives after the
// window has elapsed, a new window opens and that hit is counted as its
// first. The action fires at most once per window.
type Monitor struct {
	kinds  []update.Kind
	hits   int
	window time.Duration
	action func()

	windowStart time.Time
	count       int
	fired       bool

	now func() time.Time
}

// NewMonitor creates a monitor. hits below 1 are treated as 1.
func NewMonitor(kinds []update.Kind, hits int, window time.Duration, action func()) *Monitor {
	if hits < 1 {
		hits = 1
	}
	return &Monitor{
		kinds:  slices.Clone(kinds),
		hits:   hits,
		window: window,
		action: action,
		now:    time.Now,
	}
}

// Bump records u if its kind is watched and reports whether the action
// fired as a result.
func (m *Monitor) Bump(u *update.Update) bool {
	if !u.Kind.In(m.kinds) {
		return false
	}

	now := m.now()
	if m.count == 0 || now.Sub(m.windowStart) > m.window {
		m.windowStart = now
		m.count = 0
		m.fired = false
	}

	m.count++
	if m.count >= m.hits && !m.fired {
		m.fired = true
		if m.action != nil {
			m.action()
		}
		return true
	}
	return false
}

// Reset clears the counters.
func (m *Monitor) Reset() {
	m.windowStart = time.Time{}
	m.count = 0
	m.fired = false
}

// Count returns the number of hits in the current window.
func (m *Monitor) Count() int {
	return m.count
}

// Fired reports whether the action has fired in the current window.
func (m *Monitor) Fired() bool {
	return m.fired
}

// sameCriteria reports whether two monitors watch the same kinds with the
// same threshold and window.
func (m *Monitor) sameCriteria(kinds []update.Kind, hits int, window time.Duration) bool {
	if m.hits != max(hits, 1) || m.window != window || len(m.kinds) != len(kinds) {
		return false
	}
	for _, k := range kinds {
		if !k.In(m.kinds) {
			return false
		}
	}
	return true
}

// Controller forwards updates to every registered monitor.
type Controller struct {
	monitors []*Monitor
	now      func() time.Time
}

// NewController creates an empty controller.
func NewController() *Controller {
	return &Controller{now: time.Now}
}

// SetClock replaces the time source of the controller and its monitors.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
	for _, m := range c.monitors {
		m.now = now
	}
}

// Add registers a monitor. A monitor with identical criteria is not
// duplicated; the existing one is returned instead.
func (c *Controller) Add(kinds []update.Kind, hits int, window time.Duration, action func()) *Monitor {
	for _, m := range c.monitors {
		if m.sameCriteria(kinds, hits, window) {
			return m
		}
	}
	m := NewMonitor(kinds, hits, window, action)
	m.now = c.now
	c.monitors = append(c.monitors, m)
	return m
}

// Remove unregisters the monitor with the given criteria.
func (c *Controller) Remove(kinds []update.Kind, hits int, window time.Duration) bool {
	for i, m := range c.monitors {
		if m.sameCriteria(kinds, hits, window) {
			c.monitors = slices.Delete(c.monitors, i, i+1)
			return true
		}
	}
	return false
}

// Bump forwards u to every monitor and returns how many fired.
func (c *Controller) Bump(u *update.Update) int {
	fired := 0
	for _, m := range c.monitors {
		if m.Bump(u) {
			fired++
		}
	}
	return fired
}

// Len returns the number of registered monitors.
func (c *Controller) Len() int {
	return len(c.monitors)
}

// Clear removes every monitor.
func (c *Controller) Clear() {
	c.monitors = nil
}
