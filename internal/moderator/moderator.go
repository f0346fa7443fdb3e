// Package moderator keeps the blacklist of banned chats and users that the
// dispatcher consults before dispatching an update.
package moderator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/flemzord/pelican/pkg/update"
)

// ErrInvalidID is returned for the zero id, which Telegram never assigns.
var ErrInvalidID = errors.New("moderator: invalid id")

// Entry is a blacklisted chat or user id.
type Entry struct {
	ID        int64     `json:"id"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists blacklist entries.
type Store interface {
	List(ctx context.Context) ([]Entry, error)
	Put(ctx context.Context, e Entry) error
	Delete(ctx context.Context, id int64) error
}

// Config configures a Moderator.
type Config struct {
	// Store is optional. Without it the blacklist lives in memory only.
	Store  Store
	Logger *slog.Logger
}

// Moderator is safe for concurrent use.
type Moderator struct {
	mu      sync.RWMutex
	entries map[int64]Entry
	store   Store
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an empty moderator. Call Load to read persisted entries.
func New(cfg Config) *Moderator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Moderator{
		entries: make(map[int64]Entry),
		store:   cfg.Store,
		logger:  logger,
		now:     time.Now,
	}
}

// Load replaces the in-memory blacklist with the store's contents.
func (m *Moderator) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	entries, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("moderator: loading blacklist: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[int64]Entry, len(entries))
	for _, e := range entries {
		m.entries[e.ID] = e
	}
	m.logger.Info("moderator: blacklist loaded", "entries", len(entries))
	return nil
}

// IsBlacklisted reports whether id is banned.
func (m *Moderator) IsBlacklisted(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[id]
	return ok
}

// Blocks reports whether u originates from a banned user or chat.
func (m *Moderator) Blocks(u *update.Update) bool {
	if id, ok := u.UserID(); ok && m.IsBlacklisted(id) {
		return true
	}
	if id, ok := u.ChatID(); ok && m.IsBlacklisted(id) {
		return true
	}
	return false
}

// Blacklist bans id. Banning an already banned id keeps the original entry.
func (m *Moderator) Blacklist(ctx context.Context, id int64, reason string) error {
	if id == 0 {
		return ErrInvalidID
	}

	m.mu.Lock()
	if _, ok := m.entries[id]; ok {
		m.mu.Unlock()
		return nil
	}
	e := Entry{ID: id, Reason: reason, CreatedAt: m.now().UTC()}
	m.entries[id] = e
	m.mu.Unlock()

	m.logger.Info("moderator: blacklisted", "id", id, "reason", reason)
	if m.store != nil {
		if err := m.store.Put(ctx, e); err != nil {
			return fmt.Errorf("moderator: persisting %d: %w", id, err)
		}
	}
	return nil
}

// Unblacklist lifts the ban on id and reports whether it was banned.
func (m *Moderator) Unblacklist(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	_, ok := m.entries[id]
	delete(m.entries, id)
	m.mu.Unlock()

	if !ok {
		return false, nil
	}
	m.logger.Info("moderator: unblacklisted", "id", id)
	if m.store != nil {
		if err := m.store.Delete(ctx, id); err != nil {
			return true, fmt.Errorf("moderator: deleting %d: %w", id, err)
		}
	}
	return true, nil
}

// Entries returns the blacklist ordered by id.
func (m *Moderator) Entries() []Entry {
	m.mu.RLock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b Entry) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Len returns the number of banned ids.
func (m *Moderator) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
