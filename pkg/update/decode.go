package update

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformed is wrapped by every error returned from Decode.
var ErrMalformed = errors.New("update: malformed payload")

// Decode parses a raw Bot API update and classifies it into an Update.
// Edited messages and channel posts are delivered as KindMessage.
func Decode(data []byte, received time.Time) (*Update, error) {
	var raw Raw
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return Classify(&raw, received)
}

// Classify converts an already-unmarshalled raw update.
func Classify(raw *Raw, received time.Time) (*Update, error) {
	switch {
	case raw.Message != nil:
		return NewMessage(raw.UpdateID, raw.Message, received), nil
	case raw.EditedMessage != nil:
		return NewMessage(raw.UpdateID, raw.EditedMessage, received), nil
	case raw.ChannelPost != nil:
		return NewMessage(raw.UpdateID, raw.ChannelPost, received), nil
	case raw.EditedChannelPost != nil:
		return NewMessage(raw.UpdateID, raw.EditedChannelPost, received), nil
	case raw.CallbackQuery != nil:
		return NewCallbackQuery(raw.UpdateID, raw.CallbackQuery, received), nil
	case raw.InlineQuery != nil:
		return NewInlineQuery(raw.UpdateID, raw.InlineQuery, received), nil
	case raw.ChosenInlineResult != nil:
		return NewChosenInlineResult(raw.UpdateID, raw.ChosenInlineResult, received), nil
	default:
		return nil, fmt.Errorf("%w: update %d has no supported variant", ErrMalformed, raw.UpdateID)
	}
}

// PeekID extracts only the update_id from a payload. It succeeds for payloads
// whose body is otherwise unusable, which lets transports advance offsets past
// them.
func PeekID(data []byte) (int, bool) {
	var head struct {
		UpdateID *int `json:"update_id"`
	}
	if err := json.Unmarshal(data, &head); err != nil || head.UpdateID == nil {
		return 0, false
	}
	return *head.UpdateID, true
}
