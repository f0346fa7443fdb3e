package route

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"

	"github.com/flemzord/pelican/pkg/update"
)

// Group is a named bundle of routes that can be switched off as a whole.
type Group struct {
	name    string
	Enabled bool
	routes  []Route
}

// NewGroup creates an enabled group.
func NewGroup(name string, routes ...Route) *Group {
	return &Group{name: name, Enabled: true, routes: routes}
}

// Name returns the group name.
func (g *Group) Name() string { return g.name }

// Add appends routes to the group.
func (g *Group) Add(routes ...Route) {
	g.routes = append(g.routes, routes...)
}

// Remove deletes every route equal to r and reports whether one was found.
func (g *Group) Remove(r Route) bool {
	before := len(g.routes)
	g.routes = slices.DeleteFunc(g.routes, r.Equal)
	return len(g.routes) != before
}

// RemoveNamed deletes every route with the given name.
func (g *Group) RemoveNamed(name string) bool {
	before := len(g.routes)
	g.routes = slices.DeleteFunc(g.routes, func(r Route) bool { return r.Name() == name })
	return len(g.routes) != before
}

// Routes returns a copy of the group's routes.
func (g *Group) Routes() []Route {
	return slices.Clone(g.routes)
}

// Handle tries the group's routes in order. A disabled group never handles.
func (g *Group) Handle(u *update.Update) bool {
	if !g.Enabled {
		return false
	}
	for _, r := range g.routes {
		if r.Handle(u) {
			return true
		}
	}
	return false
}

// Controller holds the top-level routes and groups of one session.
// It is not safe for concurrent use.
type Controller struct {
	routes []Route
	groups []*Group
	logger *slog.Logger

	// OnPanic, if set, is called after a panicking route is recovered.
	OnPanic func(r Route, recovered any)
}

// NewController creates an empty controller.
func NewController(logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{logger: logger}
}

// Add appends top-level routes.
func (c *Controller) Add(routes ...Route) {
	c.routes = append(c.routes, routes...)
}

// Remove deletes every top-level route equal to r.
func (c *Controller) Remove(r Route) bool {
	before := len(c.routes)
	c.routes = slices.DeleteFunc(c.routes, r.Equal)
	return len(c.routes) != before
}

// RemoveNamed deletes every top-level route with the given name.
func (c *Controller) RemoveNamed(name string) bool {
	before := len(c.routes)
	c.routes = slices.DeleteFunc(c.routes, func(r Route) bool { return r.Name() == name })
	return len(c.routes) != before
}

// AddGroup appends a group. A group with the same name is replaced in place.
func (c *Controller) AddGroup(g *Group) {
	for i, existing := range c.groups {
		if existing.name == g.name {
			c.groups[i] = g
			return
		}
	}
	c.groups = append(c.groups, g)
}

// Group returns the named group, or nil.
func (c *Controller) Group(name string) *Group {
	for _, g := range c.groups {
		if g.name == name {
			return g
		}
	}
	return nil
}

// RemoveGroup deletes the named group.
func (c *Controller) RemoveGroup(name string) bool {
	before := len(c.groups)
	c.groups = slices.DeleteFunc(c.groups, func(g *Group) bool { return g.name == name })
	return len(c.groups) != before
}

// SetEnabled toggles the named group and reports whether it exists.
func (c *Controller) SetEnabled(name string, enabled bool) bool {
	g := c.Group(name)
	if g == nil {
		return false
	}
	g.Enabled = enabled
	return true
}

// Routes returns a copy of the top-level routes.
func (c *Controller) Routes() []Route {
	return slices.Clone(c.routes)
}

// Len returns the number of top-level routes plus grouped routes.
func (c *Controller) Len() int {
	n := len(c.routes)
	for _, g := range c.groups {
		n += len(g.routes)
	}
	return n
}

// Clear removes every route and group.
func (c *Controller) Clear() {
	c.routes = nil
	c.groups = nil
}

// Handle tries top-level routes in order, then enabled groups in order.
// The first route reporting true wins. A panicking route is recovered,
// logged and treated as not handled, so evaluation continues with the
// next one.
func (c *Controller) Handle(u *update.Update) bool {
	for _, r := range c.routes {
		if c.try(r, u) {
			return true
		}
	}
	for _, g := range c.groups {
		if !g.Enabled {
			continue
		}
		for _, r := range g.routes {
			if c.try(r, u) {
				return true
			}
		}
	}
	return false
}

func (c *Controller) try(r Route, u *update.Update) (handled bool) {
	defer func() {
		if rec := recover(); rec != nil {
			handled = false
			c.logger.Error("route: handler panicked",
				"route", r.Name(),
				"update_id", u.ID,
				"kind", string(u.Kind),
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()),
			)
			if c.OnPanic != nil {
				c.OnPanic(r, rec)
			}
		}
	}()
	return r.Handle(u)
}
