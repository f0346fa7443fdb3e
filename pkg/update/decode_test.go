package update

import (
	"errors"
	"testing"
	"time"
)

var received = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestDecode_Variants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		kind    Kind
		content string
		chat    bool
	}{
		{
			name:    "message",
			payload: `{"update_id":1,"message":{"message_id":10,"from":{"id":100,"first_name":"Alice"},"chat":{"id":200,"type":"private"},"date":1700000000,"text":"hello"}}`,
			kind:    KindMessage,
			content: "hello",
			chat:    true,
		},
		{
			name:    "edited message",
			payload: `{"update_id":2,"edited_message":{"message_id":11,"chat":{"id":200,"type":"group"},"date":1700000000,"text":"fixed"}}`,
			kind:    KindMessage,
			content: "fixed",
			chat:    true,
		},
		{
			name:    "edited channel post",
			payload: `{"update_id":7,"edited_channel_post":{"message_id":13,"chat":{"id":-1001,"type":"channel"},"date":1700000000,"text":"news v2"}}`,
			kind:    KindMessage,
			content: "news v2",
			chat:    true,
		},
		{
			name:    "caption",
			payload: `{"update_id":3,"message":{"message_id":12,"chat":{"id":200,"type":"private"},"date":1700000000,"caption":"a photo"}}`,
			kind:    KindMessage,
			content: "a photo",
			chat:    true,
		},
		{
			name:    "callback query",
			payload: `{"update_id":4,"callback_query":{"id":"cb1","from":{"id":100,"first_name":"Alice"},"chat_instance":"x","data":"yes","message":{"message_id":5,"chat":{"id":200,"type":"private"},"date":1}}}`,
			kind:    KindCallbackQuery,
			content: "yes",
			chat:    true,
		},
		{
			name:    "inline query",
			payload: `{"update_id":5,"inline_query":{"id":"iq1","from":{"id":100,"first_name":"Alice"},"query":"cats","offset":""}}`,
			kind:    KindInlineQuery,
			content: "cats",
		},
		{
			name:    "chosen inline result",
			payload: `{"update_id":6,"chosen_inline_result":{"result_id":"r1","from":{"id":100,"first_name":"Alice"},"query":"cats"}}`,
			kind:    KindChosenInlineResult,
			content: "cats",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			u, err := Decode([]byte(tt.payload), received)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if u.Kind != tt.kind {
				t.Errorf("Kind = %q, want %q", u.Kind, tt.kind)
			}
			if u.Content != tt.content {
				t.Errorf("Content = %q, want %q", u.Content, tt.content)
			}
			if _, ok := u.ChatID(); ok != tt.chat {
				t.Errorf("ChatID ok = %v, want %v", ok, tt.chat)
			}
			if !u.Time.Equal(received) {
				t.Errorf("Time = %v, want %v", u.Time, received)
			}
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	t.Parallel()

	for _, payload := range []string{
		`{not json`,
		`{"update_id":7}`,
		`{"update_id":8,"poll":{"id":"p"}}`,
	} {
		if _, err := Decode([]byte(payload), received); !errors.Is(err, ErrMalformed) {
			t.Errorf("Decode(%s) error = %v, want ErrMalformed", payload, err)
		}
	}
}

func TestPeekID(t *testing.T) {
	t.Parallel()

	if id, ok := PeekID([]byte(`{"update_id":42,"message":"garbage"}`)); !ok || id != 42 {
		t.Errorf("PeekID = (%d, %v), want (42, true)", id, ok)
	}
	if _, ok := PeekID([]byte(`{"message":{}}`)); ok {
		t.Error("PeekID without update_id should fail")
	}
	if _, ok := PeekID([]byte(`nope`)); ok {
		t.Error("PeekID on invalid JSON should fail")
	}
}

type fakeLinked struct {
	builder string
	id      int64
}

func (f fakeLinked) BuilderID() string { return f.builder }
func (f fakeLinked) SessionID() int64  { return f.id }

func TestUpdate_LinkedTo(t *testing.T) {
	t.Parallel()

	u := &Update{Kind: KindMessage}
	u.Link(fakeLinked{builder: "a", id: 1})
	u.Link(fakeLinked{builder: "b", id: 2})
	u.Link(fakeLinked{builder: "a", id: 3})

	got := u.LinkedTo("a")
	if len(got) != 2 {
		t.Fatalf("LinkedTo(a) = %d entries, want 2", len(got))
	}
	if got[1].SessionID() != 3 {
		t.Errorf("second linked session = %d, want 3", got[1].SessionID())
	}
}

func TestKind_In(t *testing.T) {
	t.Parallel()

	if !KindMessage.In([]Kind{KindInlineQuery, KindMessage}) {
		t.Error("message should be in list")
	}
	if KindMessage.In(nil) {
		t.Error("empty list should match nothing")
	}
	if Kind("poll").Valid() {
		t.Error("poll is not a supported kind")
	}
}
