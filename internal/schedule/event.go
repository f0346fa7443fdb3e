package schedule

import (
	"slices"
	"time"
)

// Action is the work carried by an Event.
type Action func()

// Event is an action plus the absolute time it becomes due.
type Event struct {
	Name    string
	Action  Action
	Created time.Time
	Execute time.Time
	Delay   []Duration
}

// After builds an event due once every duration in ds has been applied to
// created, cumulatively.
func After(created time.Time, action Action, ds ...Duration) *Event {
	return &Event{
		Action:  action,
		Created: created,
		Execute: Shift(created, ds...),
		Delay:   slices.Clone(ds),
	}
}

// AfterSeconds builds an event due a raw number of seconds after created.
func AfterSeconds(created time.Time, action Action, seconds float64) *Event {
	return &Event{
		Action:  action,
		Created: created,
		Execute: created.Add(time.Duration(seconds * float64(time.Second))),
	}
}

// At builds an event due at an absolute time.
func At(created, execute time.Time, action Action) *Event {
	return &Event{
		Action:  action,
		Created: created,
		Execute: execute,
	}
}

// Equal reports structural equality: the same delays from the same
// creation time, or the same creation/execution pair.
func (e *Event) Equal(other *Event) bool {
	if e == nil || other == nil {
		return e == other
	}
	if !e.Created.Equal(other.Created) {
		return false
	}
	if len(e.Delay) > 0 && len(other.Delay) > 0 {
		return slices.Equal(e.Delay, other.Delay)
	}
	return e.Execute.Equal(other.Execute)
}
