package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flemzord/pelican/internal/schedule"
)

// Sender fires a named Bot API method with parameters.
type Sender interface {
	Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error)
}

// Completion receives the outcome of an asynchronous request. It runs on
// the dispatch goroutine.
type Completion func(result json.RawMessage, err error)

// Host is the dispatcher as seen by sessions and builders.
type Host interface {
	// Schedule returns the dispatcher's schedule.
	Schedule() *schedule.Schedule

	// Sender returns the synchronous outbound sender, or nil.
	Sender() Sender

	// Enqueue hands a request to a background worker. done, if non-nil,
	// is invoked on the dispatch goroutine once the request completes.
	Enqueue(method string, params map[string]any, done Completion)

	// Notify delivers a lifecycle event. Remove and blacklist events take
	// effect after the current tick.
	Notify(ev Event)
}

// EventKind classifies lifecycle events.
type EventKind string

// Lifecycle event kinds.
const (
	EventCreated     EventKind = "session_created"
	EventRemove      EventKind = "session_removed"
	EventBlacklist   EventKind = "session_blacklisted"
	EventMaxSessions EventKind = "max_sessions"
)

// Event is a session lifecycle notification.
type Event struct {
	Kind   EventKind
	Tag    Tag
	Reason string
}

func (e Event) String() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s %s", e.Kind, e.Tag)
	}
	return fmt.Sprintf("%s %s (%s)", e.Kind, e.Tag, e.Reason)
}
