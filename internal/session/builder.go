package session

import (
	"log/slog"
	"slices"
	"time"

	"github.com/flemzord/pelican/pkg/update"
)

// Spawner extracts the session id an update belongs to. It returns false
// when the builder does not claim the update.
type Spawner func(u *update.Update) (int64, bool)

// InitFunc configures a freshly created session.
type InitFunc func(s *Session, u *update.Update)

// SetupFunc builds a session itself instead of the default constructor.
// Returning nil declines the update.
type SetupFunc func(host Host, tag Tag, u *update.Update) *Session

// Collision tells the dispatcher what a builder does with an update that
// other builders also claim.
type Collision int

// Collision outcomes.
const (
	// CollisionPass leaves the update to the other builders.
	CollisionPass Collision = iota

	// CollisionInclude records activity on the session without running
	// its routes.
	CollisionInclude

	// CollisionExecute runs the session's routes as usual.
	CollisionExecute
)

func (c Collision) String() string {
	switch c {
	case CollisionPass:
		return "pass"
	case CollisionInclude:
		return "include"
	case CollisionExecute:
		return "execute"
	default:
		return "unknown"
	}
}

// CollisionFunc decides how a builder treats an update claimed by others.
type CollisionFunc func(u *update.Update, others []*Builder) Collision

// BuilderConfig configures a Builder.
type BuilderConfig struct {
	// Name describes the kind of session built. Informational only.
	Name string

	// Spawner is required.
	Spawner Spawner

	// IDKind tells whether spawned ids are chat or user ids.
	// Defaults to IDChat.
	IDKind IDKind

	// Init runs on every new session created by the default constructor
	// or by Setup.
	Init InitFunc

	// Setup replaces the default session constructor.
	Setup SetupFunc

	// Collision defaults to always executing.
	Collision CollisionFunc

	// MaxSessions caps live sessions. Zero means unlimited.
	MaxSessions int

	// OnMaxSessions runs when an update would spawn a session past the cap.
	OnMaxSessions func(u *update.Update)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Builder spawns and owns the sessions of one session type.
type Builder struct {
	id       string
	cfg      BuilderConfig
	logger   *slog.Logger
	sessions map[int64]*Session
}

// NewBuilder validates cfg and returns a builder without an id. The
// dispatcher assigns the id at registration.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if cfg.Spawner == nil {
		return nil, ErrNoSpawner
	}
	if cfg.IDKind == "" {
		cfg.IDKind = IDChat
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Builder{
		cfg:      cfg,
		logger:   cfg.Logger,
		sessions: make(map[int64]*Session),
	}, nil
}

// Bind assigns the builder id. It may only be called once.
func (b *Builder) Bind(id string) error {
	if b.id != "" {
		return ErrAlreadyBound
	}
	b.id = id
	b.logger = b.logger.With("builder", id)
	return nil
}

// ID returns the builder id, or "" before registration.
func (b *Builder) ID() string { return b.id }

// Name returns the configured descriptor.
func (b *Builder) Name() string { return b.cfg.Name }

// IDKind returns the kind of id the builder spawns on.
func (b *Builder) IDKind() IDKind { return b.cfg.IDKind }

// MaxSessions returns the configured cap.
func (b *Builder) MaxSessions() int { return b.cfg.MaxSessions }

// CheckUpdate reports whether the builder claims u.
func (b *Builder) CheckUpdate(u *update.Update) bool {
	_, ok := b.cfg.Spawner(u)
	return ok
}

// Resolve asks the collision policy what to do with u.
func (b *Builder) Resolve(u *update.Update, others []*Builder) Collision {
	if b.cfg.Collision == nil {
		return CollisionExecute
	}
	return b.cfg.Collision(u, others)
}

// GetSession returns the session u belongs to, creating it if needed.
// It returns nil when the builder does not claim u, when the session cap
// is reached, or when Setup declines.
func (b *Builder) GetSession(host Host, u *update.Update) *Session {
	id, ok := b.cfg.Spawner(u)
	if !ok {
		return nil
	}
	if s, ok := b.sessions[id]; ok {
		return s
	}

	tag := Tag{BuilderID: b.id, ID: id, Kind: b.cfg.IDKind}
	if b.cfg.MaxSessions > 0 && len(b.sessions) >= b.cfg.MaxSessions {
		b.logger.Warn("session: max sessions reached", "max", b.cfg.MaxSessions, "id", id)
		if b.cfg.OnMaxSessions != nil {
			b.cfg.OnMaxSessions(u)
		}
		host.Notify(Event{Kind: EventMaxSessions, Tag: tag})
		return nil
	}

	var s *Session
	if b.cfg.Setup != nil {
		s = b.cfg.Setup(host, tag, u)
		if s == nil {
			return nil
		}
	} else {
		s = New(host, tag, b.logger)
	}
	if b.cfg.Init != nil {
		b.cfg.Init(s, u)
	}

	b.sessions[id] = s
	b.logger.Debug("session: created", "id", id)
	host.Notify(Event{Kind: EventCreated, Tag: tag})
	return s
}

// Execute runs u through its session. It reports whether a session took it.
func (b *Builder) Execute(host Host, u *update.Update) bool {
	s := b.GetSession(host, u)
	if s == nil {
		return false
	}
	u.Link(s)
	s.Handle(u)
	return true
}

// Include records u as activity on its session without running routes.
func (b *Builder) Include(host Host, u *update.Update) bool {
	s := b.GetSession(host, u)
	if s == nil {
		return false
	}
	u.Link(s)
	s.Observe(u)
	return true
}

// Session returns the live session for id, or nil.
func (b *Builder) Session(id int64) *Session {
	return b.sessions[id]
}

// RemoveSession closes and forgets the session for tag. It reports whether
// a session was removed.
func (b *Builder) RemoveSession(tag Tag) bool {
	if tag.BuilderID != b.id {
		return false
	}
	s, ok := b.sessions[tag.ID]
	if !ok {
		return false
	}
	delete(b.sessions, tag.ID)
	s.Close()
	b.logger.Debug("session: removed", "id", tag.ID)
	return true
}

// Len returns the number of live sessions.
func (b *Builder) Len() int { return len(b.sessions) }

// Sessions returns live sessions ordered by id.
func (b *Builder) Sessions() []*Session {
	out := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, c *Session) int {
		switch {
		case a.tag.ID < c.tag.ID:
			return -1
		case a.tag.ID > c.tag.ID:
			return 1
		}
		return 0
	})
	return out
}

// Idle returns the tags of sessions inactive for longer than maxIdle.
func (b *Builder) Idle(now time.Time, maxIdle time.Duration) []Tag {
	var tags []Tag
	for _, s := range b.Sessions() {
		if now.Sub(s.LastActiveAt) > maxIdle {
			tags = append(tags, s.tag)
		}
	}
	return tags
}

// Shutdown closes every session.
func (b *Builder) Shutdown() {
	for _, s := range b.Sessions() {
		b.RemoveSession(s.tag)
	}
}
