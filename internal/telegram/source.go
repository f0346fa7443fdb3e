package telegram

import (
	"context"

	"github.com/flemzord/pelican/pkg/update"
)

// SourceConfig configures a Source.
type SourceConfig struct {
	// Limit caps updates per fetch (1-100). Zero lets the server decide.
	Limit int

	// PollingTimeout is the long-poll timeout in seconds.
	PollingTimeout int

	// AllowedUpdates restricts the kinds the server sends.
	AllowedUpdates []string
}

// Source fetches raw updates with long polling.
type Source struct {
	client *Client
	cfg    SourceConfig
}

// NewSource wraps client as an update source.
func NewSource(client *Client, cfg SourceConfig) *Source {
	return &Source{client: client, cfg: cfg}
}

// FetchUpdates returns the next page of raw updates. NextOffset is one past
// the highest update id in the page, or offset when the page is empty or
// carries no readable id.
func (s *Source) FetchUpdates(ctx context.Context, offset int) (Batch, error) {
	payloads, err := s.client.GetUpdates(ctx, GetUpdatesRequest{
		Offset:         offset,
		Limit:          s.cfg.Limit,
		Timeout:        s.cfg.PollingTimeout,
		AllowedUpdates: s.cfg.AllowedUpdates,
	})
	if err != nil {
		return Batch{NextOffset: offset}, err
	}

	next := offset
	for _, p := range payloads {
		if id, ok := update.PeekID(p); ok && id+1 > next {
			next = id + 1
		}
	}
	return Batch{Payloads: payloads, NextOffset: next}, nil
}
