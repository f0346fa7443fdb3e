package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/pelican/internal/metrics"
	"github.com/flemzord/pelican/internal/session"
	"github.com/flemzord/pelican/internal/telegram"
	"github.com/flemzord/pelican/pkg/update"
)

// Run ticks until ctx is cancelled, then closes every session. Fetch
// errors never stop the loop; after repeated failures it pauses for
// ErrorPause.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	d.ctx = ctx
	d.mu.Unlock()

	d.logger.Info("dispatch: loop started", "builders", len(d.Builders()))
	defer d.shutdown()

	var consecutiveErrors int
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := d.Tick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			consecutiveErrors++
			d.logger.Error("dispatch: fetch failed",
				"error", err,
				"consecutive_errors", consecutiveErrors,
			)
			if consecutiveErrors >= maxConsecutiveFetchErrors {
				d.logger.Warn("dispatch: polling paused after consecutive errors",
					"pause", d.cfg.ErrorPause,
				)
				if !sleep(ctx, d.cfg.ErrorPause) {
					return nil
				}
				consecutiveErrors = 0
			}
			continue
		}
		consecutiveErrors = 0

		if d.cfg.PollInterval > 0 && !sleep(ctx, d.cfg.PollInterval) {
			return nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (d *Dispatcher) shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.applyControlLocked()
	for _, b := range d.builders {
		d.protect("shutdown", b.Shutdown)
	}
	d.sched.Clear()
	d.refreshLocked()
	d.logger.Info("dispatch: loop stopped")
}

// Tick fetches one batch and processes it. A failed fetch still runs
// housekeeping over an empty batch and returns the fetch error.
func (d *Dispatcher) Tick(ctx context.Context) error {
	d.mu.Lock()
	offset := d.offset
	d.mu.Unlock()

	batch, err := d.cfg.Source.FetchUpdates(ctx, offset)
	if err != nil {
		d.metrics.FetchError()
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return err
		}
		d.ProcessBatch(ctx, telegram.Batch{NextOffset: offset})
		return err
	}
	d.ProcessBatch(ctx, batch)
	return nil
}

// ProcessBatch dispatches every payload in order, then runs housekeeping
// and advances the offset past every payload, including malformed ones.
func (d *Dispatcher) ProcessBatch(ctx context.Context, batch telegram.Batch) {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "pelican.tick", trace.WithAttributes(
		attribute.Int("batch.size", len(batch.Payloads)),
	))
	defer span.End()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.applyControlLocked()

	next := max(d.offset, batch.NextOffset)
	received := d.sched.Now()
	for _, payload := range batch.Payloads {
		if id, ok := update.PeekID(payload); ok && id+1 > next {
			next = id + 1
		}
		d.processPayload(ctx, payload, received)
	}

	d.housekeeping(ctx)
	d.offset = next
	d.refreshLocked()

	span.SetAttributes(attribute.Int("offset", next))
	d.metrics.ObserveTick(time.Since(start))
}

func (d *Dispatcher) processPayload(ctx context.Context, payload json.RawMessage, received time.Time) {
	u, err := update.Decode(payload, received)
	if err != nil {
		d.metrics.Dropped(metrics.ReasonMalformed)
		id, _ := update.PeekID(payload)
		d.logger.Warn("dispatch: skipping malformed update", "update_id", id, "error", err)
		return
	}

	if d.seen.Contains(u.ID) {
		d.metrics.Dropped(metrics.ReasonDuplicate)
		d.logger.Debug("dispatch: duplicate update", "update_id", u.ID)
		return
	}
	d.seen.Add(u.ID, struct{}{})
	d.metrics.Received(string(u.Kind))

	if d.cfg.Moderator != nil && d.cfg.Moderator.Blocks(u) {
		d.metrics.Dropped(metrics.ReasonBlacklisted)
		d.logger.Debug("dispatch: update from blacklisted origin", "update_id", u.ID)
		return
	}

	_, span := d.tracer.Start(ctx, "pelican.update", trace.WithAttributes(
		attribute.Int("update.id", u.ID),
		attribute.String("update.kind", string(u.Kind)),
	))
	defer span.End()

	if !d.protect("dispatch", func() { d.dispatch(u, span) }) {
		span.SetStatus(codes.Error, "panic during dispatch")
	}
}

// dispatch claims u across builders and resolves collisions. Includes run
// before executes so executing sessions see every linked session.
func (d *Dispatcher) dispatch(u *update.Update, span trace.Span) {
	var claimants []*session.Builder
	for _, b := range d.builders {
		d.protect("claim", func() {
			if b.CheckUpdate(u) {
				claimants = append(claimants, b)
			}
		})
	}
	span.SetAttributes(attribute.Int("claimants", len(claimants)))

	switch len(claimants) {
	case 0:
		d.metrics.Dropped(metrics.ReasonUnclaimed)
		return
	case 1:
		d.execute(claimants[0], u)
		return
	}

	modes := make([]session.Collision, len(claimants))
	for i, b := range claimants {
		others := make([]*session.Builder, 0, len(claimants)-1)
		others = append(others, claimants[:i]...)
		others = append(others, claimants[i+1:]...)
		modes[i] = session.CollisionPass
		d.protect("collision", func() { modes[i] = b.Resolve(u, others) })
	}

	for i, b := range claimants {
		if modes[i] == session.CollisionInclude {
			d.protect("include", func() {
				if b.Include(d, u) {
					d.metrics.Dispatched(b.ID(), session.CollisionInclude.String())
				}
			})
		}
	}
	for i, b := range claimants {
		if modes[i] == session.CollisionExecute {
			d.execute(b, u)
		}
	}
}

func (d *Dispatcher) execute(b *session.Builder, u *update.Update) {
	d.protect("execute", func() {
		if b.Execute(d, u) {
			d.metrics.Dispatched(b.ID(), session.CollisionExecute.String())
		}
	})
}

// housekeeping runs once per batch: posted completions, due schedule
// events, the idle sweep, queued lifecycle events, then builder changes
// requested during the tick.
func (d *Dispatcher) housekeeping(ctx context.Context) {
	d.drainInbox()

	fired := d.sched.Run()
	d.sweepIdle()
	d.applyLifecycle(ctx)
	d.applyControlLocked()

	d.metrics.ObserveSchedule(d.sched.Len(), fired)
	for _, b := range d.builders {
		d.metrics.SetSessions(b.ID(), b.Len())
	}
}

// sweepIdle queues removal of sessions idle for longer than MaxIdle. It
// runs at most once per SweepInterval.
func (d *Dispatcher) sweepIdle() {
	if d.cfg.MaxIdle <= 0 {
		return
	}
	now := d.sched.Now()
	if now.Sub(d.lastSweep) < d.cfg.SweepInterval {
		return
	}
	d.lastSweep = now

	for _, b := range d.builders {
		for _, tag := range b.Idle(now, d.cfg.MaxIdle) {
			d.pending = append(d.pending, session.Event{Kind: session.EventRemove, Tag: tag, Reason: "idle"})
		}
	}
}

// applyLifecycle drains queued remove and blacklist events. Close hooks
// may queue further events; those are applied in the same pass.
func (d *Dispatcher) applyLifecycle(ctx context.Context) {
	for len(d.pending) > 0 {
		ev := d.pending[0]
		d.pending = d.pending[1:]

		if ev.Kind == session.EventBlacklist {
			d.blacklist(ctx, ev.Tag, ev.Reason)
		}

		b := d.builderLocked(ev.Tag.BuilderID)
		if b == nil {
			continue
		}
		removed := false
		d.protect("remove", func() { removed = b.RemoveSession(ev.Tag) })
		if !removed {
			continue
		}
		d.logger.Debug("dispatch: session removed", "session", ev.Tag.String(), "reason", ev.Reason)
		d.metrics.Lifecycle(string(ev.Kind))
		d.publish(ev)
	}
	d.pending = nil
}

func (d *Dispatcher) blacklist(ctx context.Context, tag session.Tag, reason string) {
	if d.cfg.Moderator == nil {
		d.logger.Warn("dispatch: blacklist requested without moderator", "session", tag.String())
		return
	}
	if err := d.cfg.Moderator.Blacklist(ctx, tag.ID, reason); err != nil {
		d.logger.Error("dispatch: blacklist failed", "session", tag.String(), "error", err)
	}
}
