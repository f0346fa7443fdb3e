package route

import (
	"regexp"
	"slices"
	"strings"

	"github.com/flemzord/pelican/pkg/update"
)

// Compile-time interface guards.
var (
	_ Route = (*Command)(nil)
	_ Route = (*Listen)(nil)
	_ Route = (*Pass)(nil)
	_ Route = (*Manual)(nil)
)

// Command matches messages carrying a bot_command entity whose normalized
// name is in Commands.
type Command struct {
	ID       string
	Commands []string
	// Bot, when set, rejects commands addressed to a different bot
	// ("/start@OtherBot"). Commands without a suffix always qualify.
	Bot string
	Target
}

// NewCommand creates a command route running action.
func NewCommand(name string, commands []string, action Action) *Command {
	return &Command{ID: name, Commands: commands, Target: Do(action)}
}

// Name implements Route.
func (r *Command) Name() string { return r.ID }

// Handle implements Route.
func (r *Command) Handle(u *update.Update) bool {
	if !r.Match(u) {
		return false
	}
	return r.run(u)
}

// Match reports whether u carries one of the configured commands.
func (r *Command) Match(u *update.Update) bool {
	if u.Kind != update.KindMessage || u.Message == nil {
		return false
	}
	for _, cmd := range u.Message.Commands() {
		if r.Bot != "" && cmd.Bot != "" && !strings.EqualFold(cmd.Bot, r.Bot) {
			continue
		}
		for _, want := range r.Commands {
			if cmd.Name == normalizeCommand(want) {
				return true
			}
		}
	}
	return false
}

// Equal implements Route.
func (r *Command) Equal(other Route) bool {
	o, ok := other.(*Command)
	if !ok {
		return false
	}
	return r.ID == o.ID &&
		strings.EqualFold(r.Bot, o.Bot) &&
		slices.Equal(normalizeCommands(r.Commands), normalizeCommands(o.Commands)) &&
		r.Target.equal(o.Target)
}

func normalizeCommand(c string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c), "/"))
}

func normalizeCommands(cs []string) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = normalizeCommand(c)
	}
	return out
}

// Listen matches updates of Kind whose content equals Pattern, or matches
// Regexp when set.
type Listen struct {
	ID      string
	Kind    update.Kind
	Pattern string
	Regexp  *regexp.Regexp
	Target
}

// NewListen creates an exact-text route.
func NewListen(name string, kind update.Kind, pattern string, action Action) *Listen {
	return &Listen{ID: name, Kind: kind, Pattern: pattern, Target: Do(action)}
}

// NewListenRegexp creates a regular expression route.
func NewListenRegexp(name string, kind update.Kind, re *regexp.Regexp, action Action) *Listen {
	return &Listen{ID: name, Kind: kind, Regexp: re, Target: Do(action)}
}

// Name implements Route.
func (r *Listen) Name() string { return r.ID }

// Handle implements Route.
func (r *Listen) Handle(u *update.Update) bool {
	if u.Kind != r.Kind {
		return false
	}
	if r.Regexp != nil {
		if !r.Regexp.MatchString(u.Content) {
			return false
		}
	} else if u.Content != r.Pattern {
		return false
	}
	return r.run(u)
}

// Equal implements Route.
func (r *Listen) Equal(other Route) bool {
	o, ok := other.(*Listen)
	if !ok {
		return false
	}
	if (r.Regexp == nil) != (o.Regexp == nil) {
		return false
	}
	if r.Regexp != nil && r.Regexp.String() != o.Regexp.String() {
		return false
	}
	return r.ID == o.ID && r.Kind == o.Kind && r.Pattern == o.Pattern && r.Target.equal(o.Target)
}

// Pass matches every update whose kind is in Kinds.
type Pass struct {
	ID    string
	Kinds []update.Kind
	Target
}

// NewPass creates a catch-all route for the given kinds.
func NewPass(name string, kinds []update.Kind, action Action) *Pass {
	return &Pass{ID: name, Kinds: kinds, Target: Do(action)}
}

// Name implements Route.
func (r *Pass) Name() string { return r.ID }

// Handle implements Route.
func (r *Pass) Handle(u *update.Update) bool {
	if !u.Kind.In(r.Kinds) {
		return false
	}
	return r.run(u)
}

// Equal implements Route.
func (r *Pass) Equal(other Route) bool {
	o, ok := other.(*Pass)
	if !ok {
		return false
	}
	return r.ID == o.ID && slices.Equal(r.Kinds, o.Kinds) && r.Target.equal(o.Target)
}

// Predicate decides whether a Manual route matches.
type Predicate func(u *update.Update) bool

// Manual delegates matching to a user-supplied predicate.
type Manual struct {
	ID        string
	Predicate Predicate
	Target
}

// NewManual creates a predicate route.
func NewManual(name string, predicate Predicate, action Action) *Manual {
	return &Manual{ID: name, Predicate: predicate, Target: Do(action)}
}

// Name implements Route.
func (r *Manual) Name() string { return r.ID }

// Handle implements Route.
func (r *Manual) Handle(u *update.Update) bool {
	if r.Predicate == nil || !r.Predicate(u) {
		return false
	}
	return r.run(u)
}

// Equal implements Route.
func (r *Manual) Equal(other Route) bool {
	o, ok := other.(*Manual)
	if !ok {
		return false
	}
	return r.ID == o.ID && sameFunc(Action(r.Predicate), Action(o.Predicate)) && r.Target.equal(o.Target)
}
