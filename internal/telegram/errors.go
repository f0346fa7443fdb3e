package telegram

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrNoToken indicates a client was built without a bot token.
	ErrNoToken = errors.New("telegram: bot token is required")

	// ErrQueueClosed indicates a request was submitted after Close.
	ErrQueueClosed = errors.New("telegram: queue closed")

	// ErrQueueFull indicates the queue buffer is exhausted.
	ErrQueueFull = errors.New("telegram: queue full")
)

// APIError represents an error returned by the Telegram Bot API.
type APIError struct {
	Code        int    `json:"error_code"`
	Description string `json:"description"`
	RetryAfter  int    `json:"retry_after,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("telegram: %d %s (retry after %ds)", e.Code, e.Description, e.RetryAfter)
	}
	return fmt.Sprintf("telegram: %d %s", e.Code, e.Description)
}
