package dispatch

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/pelican/internal/metrics"
	"github.com/flemzord/pelican/internal/session"
	"github.com/flemzord/pelican/internal/telegram"
	"github.com/flemzord/pelican/pkg/update"
)

const (
	// DefaultDedupSize is the number of recent update ids remembered.
	DefaultDedupSize = 1024

	// DefaultSweepInterval bounds how often idle sessions are swept.
	DefaultSweepInterval = time.Minute

	maxConsecutiveFetchErrors = 5
	defaultErrorPause         = 30 * time.Second
)

// Source supplies raw update batches.
type Source interface {
	FetchUpdates(ctx context.Context, offset int) (telegram.Batch, error)
}

// Queue runs outbound requests in the background.
type Queue interface {
	Submit(req telegram.Request) error
}

// Moderator is the blacklist consulted before dispatch.
type Moderator interface {
	Blocks(u *update.Update) bool
	Blacklist(ctx context.Context, id int64, reason string) error
}

// Config configures a Dispatcher.
type Config struct {
	// Source is required.
	Source Source

	// Sender backs session.Send. Optional.
	Sender session.Sender

	// Queue backs session.SendAsync. Without it async requests run on
	// short-lived goroutines through Sender.
	Queue Queue

	// Moderator filters updates from banned users and chats. Optional.
	Moderator Moderator

	Metrics *metrics.Metrics
	Tracer  trace.Tracer
	Logger  *slog.Logger

	// PollInterval is slept between ticks. Zero relies on long polling.
	PollInterval time.Duration

	// ErrorPause is slept after repeated fetch failures.
	ErrorPause time.Duration

	// DedupSize bounds the recent update id cache.
	DedupSize int

	// Fluctuation is the schedule's early-fire tolerance.
	Fluctuation time.Duration

	// MaxIdle removes sessions idle for longer. Zero disables the sweep.
	MaxIdle time.Duration

	// SweepInterval rate-limits the idle sweep.
	SweepInterval time.Duration

	// Now is the dispatcher clock. Defaults to time.Now.
	Now func() time.Time
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.ErrorPause <= 0 {
		c.ErrorPause = defaultErrorPause
	}
	if c.DedupSize <= 0 {
		c.DedupSize = DefaultDedupSize
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}
