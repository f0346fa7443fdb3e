// Package dispatchtest provides test doubles for driving a Dispatcher
// without a network: a scripted update source and a recording sender.
package dispatchtest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/flemzord/pelican/internal/telegram"
)

// Step is one scripted fetch result.
type Step struct {
	Payloads []json.RawMessage
	Err      error
}

// Source replays scripted steps. Once exhausted it returns empty batches.
type Source struct {
	mu      sync.Mutex
	steps   []Step
	offsets []int
}

// NewSource creates a source that returns steps in order.
func NewSource(steps ...Step) *Source {
	return &Source{steps: steps}
}

// Push appends steps to the script.
func (s *Source) Push(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, steps...)
}

// FetchUpdates implements dispatch.Source. NextOffset is left at offset so
// the dispatcher has to derive it from the payloads.
func (s *Source) FetchUpdates(ctx context.Context, offset int) (telegram.Batch, error) {
	if err := ctx.Err(); err != nil {
		return telegram.Batch{NextOffset: offset}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets = append(s.offsets, offset)
	if len(s.steps) == 0 {
		return telegram.Batch{NextOffset: offset}, nil
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	if step.Err != nil {
		return telegram.Batch{NextOffset: offset}, step.Err
	}
	return telegram.Batch{Payloads: step.Payloads, NextOffset: offset}, nil
}

// Offsets returns the offsets requested so far.
func (s *Source) Offsets() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.offsets...)
}

// Call is one recorded outbound request.
type Call struct {
	Method string
	Params map[string]any
}

// Sender records outbound calls and answers with Result.
type Sender struct {
	mu     sync.Mutex
	calls  []Call
	Result json.RawMessage
	Err    error
}

// Call implements session.Sender.
func (s *Sender) Call(_ context.Context, method string, params map[string]any) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: method, Params: params})
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Result == nil {
		return json.RawMessage(`true`), nil
	}
	return s.Result, nil
}

// Calls returns the recorded calls.
func (s *Sender) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Queue records submitted requests and completes each one at once with
// Result, or with Err when set.
type Queue struct {
	mu     sync.Mutex
	reqs   []telegram.Request
	Result json.RawMessage
	Err    error
}

// Submit implements dispatch.Queue.
func (q *Queue) Submit(req telegram.Request) error {
	q.mu.Lock()
	q.reqs = append(q.reqs, req)
	result, err := q.Result, q.Err
	q.mu.Unlock()

	if result == nil {
		result = json.RawMessage(`true`)
	}
	if req.Done != nil {
		if err != nil {
			req.Done(nil, err)
		} else {
			req.Done(result, nil)
		}
	}
	return nil
}

// Requests returns the submitted requests.
func (q *Queue) Requests() []telegram.Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]telegram.Request(nil), q.reqs...)
}

// Clock is a manually advanced time source.
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

// NewClock starts a clock at t.
func NewClock(t time.Time) *Clock {
	return &Clock{current: t}
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Message builds a raw text message update.
func Message(updateID int, chatID, userID int64, text string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"update_id":%d,"message":{"message_id":%d,"from":{"id":%d,"is_bot":false,"first_name":"u%d"},"chat":{"id":%d,"type":"private"},"date":0,"text":%q}}`,
		updateID, updateID, userID, userID, chatID, text,
	))
}

// Command builds a raw bot command update such as "/start" or
// "/remind 30 tea". The entity covers the first word only.
func Command(updateID int, chatID, userID int64, command string) json.RawMessage {
	name, _, _ := strings.Cut(command, " ")
	return json.RawMessage(fmt.Sprintf(
		`{"update_id":%d,"message":{"message_id":%d,"from":{"id":%d,"is_bot":false,"first_name":"u%d"},"chat":{"id":%d,"type":"private"},"date":0,"text":%q,"entities":[{"type":"bot_command","offset":0,"length":%d}]}}`,
		updateID, updateID, userID, userID, chatID, command, len(name),
	))
}

// Callback builds a raw callback query update.
func Callback(updateID int, chatID, userID int64, data string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"update_id":%d,"callback_query":{"id":"cb%d","from":{"id":%d,"is_bot":false,"first_name":"u%d"},"message":{"message_id":1,"chat":{"id":%d,"type":"private"},"date":0},"chat_instance":"ci","data":%q}}`,
		updateID, updateID, userID, userID, chatID, data,
	))
}

// InlineQuery builds a raw inline query update. Inline queries carry no chat.
func InlineQuery(updateID int, userID int64, query string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"update_id":%d,"inline_query":{"id":"iq%d","from":{"id":%d,"is_bot":false,"first_name":"u%d"},"query":%q,"offset":""}}`,
		updateID, updateID, userID, userID, query,
	))
}

// Malformed builds a payload with a valid update id but no usable variant.
func Malformed(updateID int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"update_id":%d,"message":"not an object"}`, updateID))
}
