// Package sync provides the offline-first synchronization engine: the
// single-flight coordinator that drains the outbox to the remote store,
// pulls remote deltas back, and broadcasts completion to dependent caches.
package sync

import (
	"context"

	"github.com/cartworks/tally/internal/model"
)

// TriggerReason tags why a sync pass was requested. Reasons are
// informational only - they never change processing order and exist
// purely for diagnostics.
type TriggerReason string

const (
	// ReasonColdStart fires once when the device process starts.
	ReasonColdStart TriggerReason = "cold_start"

	// ReasonForeground fires when the app returns to the foreground.
	ReasonForeground TriggerReason = "foreground"

	// ReasonProbe fires on the periodic connectivity probe tick.
	ReasonProbe TriggerReason = "probe"

	// ReasonManual fires on an explicit user action.
	ReasonManual TriggerReason = "manual"
)

// Status summarizes how a sync pass ended.
type Status int

const (
	// StatusSuccess means both push and pull phases completed.
	StatusSuccess Status = iota

	// StatusPartial means some pushes failed but the pull phase ran.
	StatusPartial

	// StatusFailed means the pull phase (or the whole pass) failed.
	StatusFailed
)

// String returns the status name for logs.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusPartial:
		return "partial"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is what every RequestSync caller receives. The coordinator
// never lets a fault escape the trigger boundary.
//
// A caller that joined an in-flight pass must not assume its own data was
// the one synced, only that the store reflects whatever pass last
// completed.
type Outcome struct {
	Status Status

	// Pushed is the number of outbox entries acknowledged by the remote.
	Pushed int

	// Pulled is the number of remote deltas applied locally.
	Pulled int

	// Err carries the first failure for logging; nil on success.
	Err error

	// Reason is the trigger that started the pass (not necessarily the
	// caller's own reason when the caller joined an in-flight pass).
	Reason TriggerReason
}

// RemoteClient is the opaque, retryable boundary to the authoritative
// remote store. It performs no business logic and owns no retry policy;
// the coordinator owns all of that.
//
// Pull must be idempotent: fetching deltas for an unchanged checkpoint
// returns the same result, so a failed apply can safely retry.
type RemoteClient interface {
	// Push sends one pending change and returns nil on acknowledgment.
	// Errors are classified with IsTransient / IsRejected.
	Push(ctx context.Context, change *model.PendingChange) error

	// Pull fetches remote deltas since the given checkpoint and returns
	// them with the new checkpoint. An empty checkpoint means "from the
	// beginning".
	Pull(ctx context.Context, since string) ([]model.Delta, string, error)

	// Probe reports whether the remote store is currently reachable.
	// Used by the periodic trigger to avoid starting doomed passes.
	Probe(ctx context.Context) bool
}
