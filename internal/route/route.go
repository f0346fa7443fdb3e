// Package route implements ordered, first-match dispatch of updates to
// handler functions. Routes form a tree: a route either runs an Action or
// forwards to child routes.
package route

import (
	"reflect"

	"github.com/flemzord/pelican/pkg/update"
)

// Action handles a matched update. Returning true marks the update as
// handled and stops evaluation of sibling routes.
type Action func(u *update.Update) bool

// Route is a node in the dispatch tree.
type Route interface {
	// Name identifies the route for removal and comparison.
	Name() string

	// Handle reports whether the route, or one of its children, handled u.
	Handle(u *update.Update) bool

	// Equal reports structural equality: same concrete type, same criteria,
	// same action identity and same name.
	Equal(other Route) bool
}

// Target is what a route does once its predicate matches: run Action, or
// when Action is nil, try Routes in order.
type Target struct {
	Action Action
	Routes []Route
}

// Do returns a target running a terminal action.
func Do(action Action) Target {
	return Target{Action: action}
}

// Forward returns a target delegating to child routes.
func Forward(routes ...Route) Target {
	return Target{Routes: routes}
}

func (t Target) run(u *update.Update) bool {
	if t.Action != nil {
		return t.Action(u)
	}
	for _, child := range t.Routes {
		if child.Handle(u) {
			return true
		}
	}
	return false
}

func (t Target) equal(other Target) bool {
	if !sameFunc(t.Action, other.Action) || len(t.Routes) != len(other.Routes) {
		return false
	}
	for i := range t.Routes {
		if !t.Routes[i].Equal(other.Routes[i]) {
			return false
		}
	}
	return true
}

// sameFunc compares function identity. Two nil funcs are equal; closures
// created by the same literal share a code pointer and compare equal.
func sameFunc(a, b Action) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
