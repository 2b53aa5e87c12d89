package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	stdsync "sync"
	"time"

	"github.com/cartworks/tally/internal/store"
)

// Config holds configuration for the Coordinator.
type Config struct {
	// PartitionTimeout bounds each partition's push work and the pull
	// step so a stalled network call cannot wedge the single-flight gate.
	PartitionTimeout time.Duration

	// AttemptCeiling is how many failed pushes a rejected entry gets
	// before it is flagged for manual review.
	AttemptCeiling int

	// PushBatchLimit caps entries drained per partition per pass
	// (0 = no limit).
	PushBatchLimit int

	// Logger for sync activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PartitionTimeout: 15 * time.Second,
		AttemptCeiling:   5,
		PushBatchLimit:   0,
		Logger:           log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// Coordinator owns the single-flight guarantee, retry accounting, and the
// completion broadcast. All trigger sources funnel through RequestSync;
// at most one pass runs at a time and concurrent requests fan in to the
// in-flight pass's outcome.
type Coordinator struct {
	store  *store.Store
	remote RemoteClient
	config *Config

	// Single-flight gate. inFlight and waiters are only touched under
	// gateMu; waiter channels are buffered so the runner never blocks.
	gateMu   stdsync.Mutex
	inFlight bool
	waiters  []chan Outcome

	// Completion listener registry.
	listenerMu stdsync.Mutex
	listeners  map[int]func()
	nextID     int

	// Last finished pass, for diagnostics.
	lastMu   stdsync.Mutex
	last     Outcome
	hasLast  bool
	lastTime time.Time
}

// New creates a new Coordinator.
//
// The store must be opened and have its schema initialized. If config is
// nil, DefaultConfig() is used.
func New(st *store.Store, remote RemoteClient, config *Config) *Coordinator {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Coordinator{
		store:     st,
		remote:    remote,
		config:    config,
		listeners: make(map[int]func()),
	}
}

// RequestSync runs a sync pass, or joins the one already in flight.
//
// If a pass is running, the new request records its reason for logging
// but does not start a second pass; it resolves once the in-flight pass
// finishes and receives that pass's outcome. Faults never escape: every
// caller gets an Outcome.
func (c *Coordinator) RequestSync(ctx context.Context, reason TriggerReason) Outcome {
	c.gateMu.Lock()
	if c.inFlight {
		ch := make(chan Outcome, 1)
		c.waiters = append(c.waiters, ch)
		c.gateMu.Unlock()

		c.config.Logger.Printf("sync already in flight, joining (reason=%s)", reason)
		select {
		case out := <-ch:
			return out
		case <-ctx.Done():
			return Outcome{Status: StatusFailed, Err: ctx.Err(), Reason: reason}
		}
	}
	c.inFlight = true
	c.gateMu.Unlock()

	out := c.runPass(ctx, reason)

	c.lastMu.Lock()
	c.last = out
	c.hasLast = true
	c.lastTime = time.Now()
	c.lastMu.Unlock()

	// Release the gate and resolve waiters before notifying listeners so
	// a listener that immediately re-requests a sync doesn't self-join.
	c.gateMu.Lock()
	c.inFlight = false
	waiters := c.waiters
	c.waiters = nil
	c.gateMu.Unlock()

	for _, ch := range waiters {
		ch <- out
	}

	// Completion is broadcast after the checkpoint persist, regardless of
	// whether any data changed. Subscribers treat it as a refresh hint
	// and must be idempotent on redundant signals.
	c.broadcast()

	return out
}

// OnComplete registers a listener called after every finished pass.
// The returned function unsubscribes it.
func (c *Coordinator) OnComplete(fn func()) func() {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = fn

	return func() {
		c.listenerMu.Lock()
		defer c.listenerMu.Unlock()
		delete(c.listeners, id)
	}
}

// LastOutcome returns the most recent pass outcome and when it finished.
// ok is false before the first pass completes.
func (c *Coordinator) LastOutcome() (out Outcome, finished time.Time, ok bool) {
	c.lastMu.Lock()
	defer c.lastMu.Unlock()
	return c.last, c.lastTime, c.hasLast
}

// broadcast invokes all registered completion listeners.
func (c *Coordinator) broadcast() {
	c.listenerMu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenerMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// runPass executes one sync pass: drain the outbox per entity-type
// partition, then pull and apply remote deltas, then persist the
// checkpoint. Push failures abort their own partition but never the
// pull step.
func (c *Coordinator) runPass(ctx context.Context, reason TriggerReason) Outcome {
	start := time.Now()
	out := Outcome{Status: StatusSuccess, Reason: reason}
	c.config.Logger.Printf("sync pass started (reason=%s)", reason)

	partitions, err := c.store.Partitions(ctx)
	if err != nil {
		out.Status = StatusFailed
		out.Err = fmt.Errorf("%w: %v", ErrStorage, err)
		c.config.Logger.Printf("sync pass failed reading outbox: %v", err)
		return out
	}

	for _, part := range partitions {
		pushed, err := c.drainPartition(ctx, part)
		out.Pushed += pushed
		if err != nil {
			out.Status = StatusPartial
			if out.Err == nil {
				out.Err = err
			}
			c.config.Logger.Printf("push aborted for partition %s after %d entries: %v", part, pushed, err)
		}
	}

	pulled, err := c.pullAndApply(ctx)
	out.Pulled = pulled
	if err != nil {
		out.Status = StatusFailed
		if out.Err == nil {
			out.Err = err
		}
		c.config.Logger.Printf("pull failed, checkpoint not advanced: %v", err)
		return out
	}

	c.config.Logger.Printf("sync pass %s: pushed=%d pulled=%d elapsed=%s",
		out.Status, out.Pushed, out.Pulled, time.Since(start).Round(time.Millisecond))
	return out
}

// drainPartition pushes one entity type's pending changes in creation
// order. An entry is removed only after the remote acknowledges it -
// never speculatively. The first failure aborts the rest of the
// partition.
func (c *Coordinator) drainPartition(ctx context.Context, entityType string) (int, error) {
	pctx, cancel := context.WithTimeout(ctx, c.config.PartitionTimeout)
	defer cancel()

	entries, err := c.store.PeekPartition(pctx, entityType, c.config.PushBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	pushed := 0
	for _, entry := range entries {
		if err := c.remote.Push(pctx, entry); err != nil {
			// Local bookkeeping uses the parent context: the partition
			// deadline bounds network work, not attempt accounting.
			attempts, aerr := c.store.IncrementAttempt(ctx, entry.ID)
			if aerr != nil {
				c.config.Logger.Printf("failed to record push attempt for %s: %v", entry.ID, aerr)
			}
			if IsRejected(err) && attempts >= c.config.AttemptCeiling {
				c.config.Logger.Printf("change %s rejected %d times, flagging for manual review", entry.ID, attempts)
				if ferr := c.store.FlagForReview(ctx, entry.ID); ferr != nil {
					c.config.Logger.Printf("failed to flag %s for review: %v", entry.ID, ferr)
				}
			}
			return pushed, err
		}

		if err := c.store.AcknowledgeChange(ctx, entry.ID); err != nil {
			return pushed, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		pushed++
	}
	return pushed, nil
}

// pullAndApply fetches remote deltas since the persisted checkpoint and
// applies them. The checkpoint advances only inside the apply
// transaction, so a crash or failure leaves the store behind but never
// corrupt, and the next pass retries the same pull.
func (c *Coordinator) pullAndApply(ctx context.Context) (int, error) {
	checkpoint, err := c.store.PullCheckpoint(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	pctx, cancel := context.WithTimeout(ctx, c.config.PartitionTimeout)
	defer cancel()

	deltas, next, err := c.remote.Pull(pctx, checkpoint)
	if err != nil {
		return 0, err
	}

	if err := c.store.ApplyDeltas(ctx, deltas, next); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return len(deltas), nil
}
