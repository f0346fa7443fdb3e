package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/pelican/internal/flood"
	"github.com/flemzord/pelican/internal/route"
	"github.com/flemzord/pelican/internal/schedule"
	"github.com/flemzord/pelican/pkg/update"
)

// Session is the per-chat or per-user state created by a Builder. It is
// only touched from the dispatch goroutine.
type Session struct {
	tag    Tag
	host   Host
	logger *slog.Logger

	// Routes receives every update executed by the session.
	Routes *route.Controller

	// Timeout removes the session after a period of inactivity.
	Timeout *Timeout

	// Flood counts updates against configured rate thresholds.
	Flood *flood.Controller

	// Data holds handler-defined state.
	Data any

	StartedAt    time.Time
	LastActiveAt time.Time

	delayed []*schedule.Event
	onClose []func(*Session)
	closed  bool
}

// New creates a session bound to host. Custom SetupFuncs use it to build
// the session before adding their own routes.
func New(host Host, tag Tag, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session", tag.String())

	sched := host.Schedule()
	now := sched.Now()
	s := &Session{
		tag:          tag,
		host:         host,
		logger:       logger,
		Routes:       route.NewController(logger),
		Flood:        flood.NewController(),
		StartedAt:    now,
		LastActiveAt: now,
	}
	s.Flood.SetClock(sched.Now)
	s.Timeout = newTimeout(sched, func() { s.Remove("timeout") })
	return s
}

// Tag returns the session tag.
func (s *Session) Tag() Tag { return s.tag }

// BuilderID returns the id of the builder that owns the session.
func (s *Session) BuilderID() string { return s.tag.BuilderID }

// SessionID returns the chat or user id the session is keyed on.
func (s *Session) SessionID() int64 { return s.tag.ID }

// ChatID returns the chat replies are sent to. For user sessions this is
// the user's private chat.
func (s *Session) ChatID() int64 { return s.tag.ID }

// Logger returns the session-scoped logger.
func (s *Session) Logger() *slog.Logger { return s.logger }

// Closed reports whether Close has run.
func (s *Session) Closed() bool { return s.closed }

// Handle processes an update addressed to the session: activity, timeout
// and flood bookkeeping first, then the route controller.
func (s *Session) Handle(u *update.Update) bool {
	if s.closed {
		return false
	}
	s.Observe(u)
	s.Flood.Bump(u)
	if s.closed {
		return false
	}
	return s.Routes.Handle(u)
}

// Observe records activity without running routes or flood monitors.
func (s *Session) Observe(u *update.Update) {
	if s.closed {
		return
	}
	s.LastActiveAt = s.host.Schedule().Now()
	s.Timeout.Bump(u)
}

// Remove asks the host to remove the session after the current tick.
func (s *Session) Remove(reason string) {
	s.host.Notify(Event{Kind: EventRemove, Tag: s.tag, Reason: reason})
}

// Blacklist asks the host to ban the session's chat or user and remove
// the session after the current tick.
func (s *Session) Blacklist(reason string) {
	s.host.Notify(Event{Kind: EventBlacklist, Tag: s.tag, Reason: reason})
}

// OnClose registers fn to run when the session is closed.
func (s *Session) OnClose(fn func(*Session)) {
	s.onClose = append(s.onClose, fn)
}

// Close cancels pending work and runs close hooks. It is idempotent.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true

	s.Timeout.Disable()
	sched := s.host.Schedule()
	for _, ev := range s.delayed {
		sched.Remove(ev)
	}
	s.delayed = nil
	s.Flood.Clear()
	s.Routes.Clear()

	for _, fn := range s.onClose {
		s.runHook(fn)
	}
}

func (s *Session) runHook(fn func(*Session)) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session: close hook panicked", "panic", r)
		}
	}()
	fn(s)
}

// Delay schedules action on the dispatcher's schedule. The event is
// cancelled if the session closes before it fires.
func (s *Session) Delay(action func(), ds ...schedule.Duration) *schedule.Event {
	if s.closed {
		return nil
	}
	s.compactDelayed()
	ev := s.host.Schedule().Delay(action, ds...)
	s.delayed = append(s.delayed, ev)
	return ev
}

// Cancel removes an event created by Delay.
func (s *Session) Cancel(ev *schedule.Event) bool {
	if ev == nil {
		return false
	}
	for i, d := range s.delayed {
		if d == ev {
			s.delayed = append(s.delayed[:i], s.delayed[i+1:]...)
			break
		}
	}
	return s.host.Schedule().Remove(ev)
}

func (s *Session) compactDelayed() {
	sched := s.host.Schedule()
	kept := s.delayed[:0]
	for _, ev := range s.delayed {
		if sched.Contains(ev) {
			kept = append(kept, ev)
		}
	}
	s.delayed = kept
}

// Send fires a Bot API method synchronously.
func (s *Session) Send(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	if s.closed {
		return nil, ErrClosed
	}
	sender := s.host.Sender()
	if sender == nil {
		return nil, ErrNoSender
	}
	return sender.Call(ctx, method, params)
}

// SendAsync hands a request to the host's background queue.
func (s *Session) SendAsync(method string, params map[string]any, done Completion) error {
	if s.closed {
		return ErrClosed
	}
	s.host.Enqueue(method, params, done)
	return nil
}

// SendMessage sends text to the session's chat. extra is merged into the
// request parameters and may be nil.
func (s *Session) SendMessage(ctx context.Context, text string, extra map[string]any) (*update.Message, error) {
	params := merge(extra, map[string]any{"chat_id": s.ChatID(), "text": text})
	raw, err := s.Send(ctx, "sendMessage", params)
	if err != nil {
		return nil, err
	}
	var msg update.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("session: decoding sent message: %w", err)
	}
	return &msg, nil
}

// EditMessage replaces the text of a message in the session's chat.
func (s *Session) EditMessage(ctx context.Context, messageID int, text string, extra map[string]any) error {
	params := merge(extra, map[string]any{
		"chat_id":    s.ChatID(),
		"message_id": messageID,
		"text":       text,
	})
	_, err := s.Send(ctx, "editMessageText", params)
	return err
}

// AnswerCallback acknowledges a callback query.
func (s *Session) AnswerCallback(ctx context.Context, queryID, text string, alert bool) error {
	params := map[string]any{"callback_query_id": queryID}
	if text != "" {
		params["text"] = text
	}
	if alert {
		params["show_alert"] = true
	}
	_, err := s.Send(ctx, "answerCallbackQuery", params)
	return err
}

func merge(extra, base map[string]any) map[string]any {
	out := make(map[string]any, len(extra)+len(base))
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range base {
		out[k] = v
	}
	return out
}
