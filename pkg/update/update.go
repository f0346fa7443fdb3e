// Package update defines the closed set of inbound events the dispatcher
// understands and the conversion from raw Bot API payloads into them.
package update

import (
	"strconv"
	"time"
)

// Kind discriminates the variant stored in an Update.
type Kind string

// Supported update kinds. The set is closed: every switch over Kind in this
// module handles all four.
const (
	KindMessage            Kind = "message"
	KindCallbackQuery      Kind = "callback_query"
	KindInlineQuery        Kind = "inline_query"
	KindChosenInlineResult Kind = "chosen_inline_result"
)

// Kinds lists every supported kind in a stable order.
var Kinds = []Kind{KindMessage, KindCallbackQuery, KindInlineQuery, KindChosenInlineResult}

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindMessage, KindCallbackQuery, KindInlineQuery, KindChosenInlineResult:
		return true
	}
	return false
}

// In reports whether k is a member of kinds. An empty list matches nothing.
func (k Kind) In(kinds []Kind) bool {
	for _, other := range kinds {
		if k == other {
			return true
		}
	}
	return false
}

// Linked is a session attached to an update by collision resolution. It lets
// handlers of the executing session see which other sessions observed the
// same update.
type Linked interface {
	BuilderID() string
	SessionID() int64
}

// Update is one inbound event. Exactly one of Message, CallbackQuery,
// InlineQuery or ChosenInlineResult is set, as indicated by Kind.
//
// Only Linked is mutated after construction.
type Update struct {
	ID        int
	Kind      Kind
	ContentID string
	Content   string
	From      *User
	Chat      *Chat
	Time      time.Time

	Message            *Message
	CallbackQuery      *CallbackQuery
	InlineQuery        *InlineQuery
	ChosenInlineResult *ChosenInlineResult

	Linked []Linked
}

// NewMessage builds a message update.
func NewMessage(id int, msg *Message, received time.Time) *Update {
	content := msg.Text
	if content == "" {
		content = msg.Caption
	}
	chat := msg.Chat
	return &Update{
		ID:        id,
		Kind:      KindMessage,
		ContentID: strconv.Itoa(msg.MessageID),
		Content:   content,
		From:      msg.From,
		Chat:      &chat,
		Time:      received,
		Message:   msg,
	}
}

// NewCallbackQuery builds a callback query update. The chat is taken from
// the message the button was attached to, when present.
func NewCallbackQuery(id int, q *CallbackQuery, received time.Time) *Update {
	from := q.From
	u := &Update{
		ID:            id,
		Kind:          KindCallbackQuery,
		ContentID:     q.ID,
		Content:       q.Data,
		From:          &from,
		Time:          received,
		CallbackQuery: q,
	}
	if q.Message != nil {
		chat := q.Message.Chat
		u.Chat = &chat
	}
	return u
}

// NewInlineQuery builds an inline query update. Inline queries carry no chat.
func NewInlineQuery(id int, q *InlineQuery, received time.Time) *Update {
	from := q.From
	return &Update{
		ID:          id,
		Kind:        KindInlineQuery,
		ContentID:   q.ID,
		Content:     q.Query,
		From:        &from,
		Time:        received,
		InlineQuery: q,
	}
}

// NewChosenInlineResult builds a chosen inline result update.
func NewChosenInlineResult(id int, r *ChosenInlineResult, received time.Time) *Update {
	from := r.From
	return &Update{
		ID:                 id,
		Kind:               KindChosenInlineResult,
		ContentID:          r.ResultID,
		Content:            r.Query,
		From:               &from,
		Time:               received,
		ChosenInlineResult: r,
	}
}

// UserID returns the originating user id, if any.
func (u *Update) UserID() (int64, bool) {
	if u.From == nil {
		return 0, false
	}
	return u.From.ID, true
}

// ChatID returns the originating chat id, if any.
func (u *Update) ChatID() (int64, bool) {
	if u.Chat == nil {
		return 0, false
	}
	return u.Chat.ID, true
}

// Link attaches a session that observed this update.
func (u *Update) Link(l Linked) {
	u.Linked = append(u.Linked, l)
}

// LinkedTo returns the linked sessions spawned by the given builder.
func (u *Update) LinkedTo(builderID string) []Linked {
	var out []Linked
	for _, l := range u.Linked {
		if l.BuilderID() == builderID {
			out = append(out, l)
		}
	}
	return out
}
