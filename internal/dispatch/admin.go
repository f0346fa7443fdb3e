package dispatch

import (
	"slices"
	"time"
)

// SessionInfo is a read-only view of a live session.
type SessionInfo struct {
	Builder      string     `json:"builder"`
	BuilderName  string     `json:"builder_name,omitempty"`
	ID           int64      `json:"id"`
	Kind         string     `json:"kind"`
	StartedAt    time.Time  `json:"started_at"`
	LastActiveAt time.Time  `json:"last_active_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// BuilderInfo is a read-only view of a registered builder.
type BuilderInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	IDKind      string `json:"id_kind"`
	Sessions    int    `json:"sessions"`
	MaxSessions int    `json:"max_sessions,omitempty"`
}

// snapshot is the read-only view published by the dispatch goroutine.
type snapshot struct {
	builders []BuilderInfo
	sessions []SessionInfo
	offset   int
	events   int
}

// view returns the freshest available snapshot. When the loop is idle the
// snapshot is rebuilt first; during a tick the one published by the
// previous tick is returned.
func (d *Dispatcher) view() *snapshot {
	if d.mu.TryLock() {
		d.refreshLocked()
		d.mu.Unlock()
	}
	return d.snap.Load()
}

func (d *Dispatcher) refreshLocked() {
	snap := &snapshot{
		builders: make([]BuilderInfo, 0, len(d.builders)),
		offset:   d.offset,
		events:   d.sched.Len(),
	}
	for _, b := range d.builders {
		snap.builders = append(snap.builders, BuilderInfo{
			ID:          b.ID(),
			Name:        b.Name(),
			IDKind:      string(b.IDKind()),
			Sessions:    b.Len(),
			MaxSessions: b.MaxSessions(),
		})
		for _, s := range b.Sessions() {
			info := SessionInfo{
				Builder:      b.ID(),
				BuilderName:  b.Name(),
				ID:           s.SessionID(),
				Kind:         string(s.Tag().Kind),
				StartedAt:    s.StartedAt,
				LastActiveAt: s.LastActiveAt,
			}
			if ev := s.Timeout.Pending(); ev != nil {
				at := ev.Execute
				info.ExpiresAt = &at
			}
			snap.sessions = append(snap.sessions, info)
		}
	}
	d.snap.Store(snap)
}

// Builders returns the registered builders in evaluation order.
func (d *Dispatcher) Builders() []BuilderInfo {
	return slices.Clone(d.view().builders)
}

// Sessions returns a snapshot of every live session. Called from a route
// action it reflects the state at the end of the previous tick.
func (d *Dispatcher) Sessions() []SessionInfo {
	return slices.Clone(d.view().sessions)
}

// RequestRemoval queues removal of a session. The removal happens during
// the next housekeeping phase. It reports whether the session exists in
// the current snapshot.
func (d *Dispatcher) RequestRemoval(builderID string, id int64, reason string) bool {
	found := false
	for _, info := range d.view().sessions {
		if info.Builder == builderID && info.ID == id {
			found = true
			break
		}
	}
	if !found {
		return false
	}

	d.Post(func() {
		if b := d.builderLocked(builderID); b != nil {
			if s := b.Session(id); s != nil {
				s.Remove(reason)
			}
		}
	})
	return true
}

// Offset returns the offset the next fetch resumes from.
func (d *Dispatcher) Offset() int {
	return d.view().offset
}

// PendingEvents returns the number of events in the schedule.
func (d *Dispatcher) PendingEvents() int {
	return d.view().events
}
