package telegram

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// DefaultWorkers is the queue size when none is configured.
const DefaultWorkers = 4

const queueBuffer = 256

// Caller fires a named Bot API method.
type Caller interface {
	Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error)
}

// Request is one queued call. Done runs on a worker goroutine.
type Request struct {
	Method string
	Params map[string]any
	Done   func(json.RawMessage, error)
}

// Queue runs slow outbound requests, such as uploads, on a fixed set of
// workers so they never block the dispatch loop.
type Queue struct {
	caller  Caller
	size    int
	logger  *slog.Logger
	inbox   chan Request
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	started bool
}

// NewQueue creates a queue. size <= 0 selects DefaultWorkers.
func NewQueue(caller Caller, size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		caller: caller,
		size:   size,
		logger: logger,
		inbox:  make(chan Request, queueBuffer),
	}
}

// Start launches the workers. Requests run with ctx.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true

	for range q.size {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for req := range q.inbox {
				q.run(ctx, req)
			}
		}()
	}
}

func (q *Queue) run(ctx context.Context, req Request) {
	result, err := q.caller.Call(ctx, req.Method, req.Params)
	if err != nil {
		q.logger.Warn("telegram: queued request failed", "method", req.Method, "error", err)
	}
	if req.Done != nil {
		req.Done(result, err)
	}
}

// Submit enqueues req without blocking.
func (q *Queue) Submit(req Request) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.inbox <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting requests and waits for queued ones to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.inbox)
	q.mu.Unlock()

	q.wg.Wait()
}
