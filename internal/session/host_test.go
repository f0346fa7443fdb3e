package session

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/pelican/internal/schedule"
	"github.com/flemzord/pelican/pkg/update"
)

var testStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeTime struct {
	mu      sync.Mutex
	current time.Time
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeTime) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}

type call struct {
	method string
	params map[string]any
}

type fakeSender struct {
	calls  []call
	result json.RawMessage
	err    error
}

func (f *fakeSender) Call(_ context.Context, method string, params map[string]any) (json.RawMessage, error) {
	f.calls = append(f.calls, call{method: method, params: params})
	return f.result, f.err
}

// fakeHost records lifecycle events and queued requests.
type fakeHost struct {
	sched  *schedule.Schedule
	clock  *fakeTime
	sender *fakeSender
	events []Event
	queued []call
}

func newFakeHost(t *testing.T) *fakeHost {
	t.Helper()
	clock := &fakeTime{current: testStart}
	sched := schedule.New(discardLogger(), time.Millisecond)
	sched.SetClock(clock.Now)
	return &fakeHost{sched: sched, clock: clock, sender: &fakeSender{}}
}

func (h *fakeHost) Schedule() *schedule.Schedule { return h.sched }

func (h *fakeHost) Sender() Sender {
	if h.sender == nil {
		return nil
	}
	return h.sender
}

func (h *fakeHost) Enqueue(method string, params map[string]any, done Completion) {
	h.queued = append(h.queued, call{method: method, params: params})
	if done != nil {
		done(nil, nil)
	}
}

func (h *fakeHost) Notify(ev Event) { h.events = append(h.events, ev) }

func (h *fakeHost) count(kind EventKind) int {
	n := 0
	for _, ev := range h.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func chatMessage(updateID int, chatID, userID int64, text string) *update.Update {
	return update.NewMessage(updateID, &update.Message{
		MessageID: updateID,
		From:      &update.User{ID: userID, FirstName: "Ada"},
		Chat:      update.Chat{ID: chatID, Type: update.ChatPrivate},
		Text:      text,
	}, testStart)
}

func inlineQuery(updateID int, userID int64) *update.Update {
	return update.NewInlineQuery(updateID, &update.InlineQuery{
		ID:    "q1",
		From:  update.User{ID: userID},
		Query: "cats",
	}, testStart)
}
