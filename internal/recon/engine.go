// Package recon derives settlement exceptions - unsettled shifts and cash
// discrepancies - from local store data.
//
// The engine is read-side only: it performs no writes and is safe to call
// at any time, including while a sync pass is mutating the store. Query
// failures propagate directly so consumers can distinguish "no
// exceptions" from "couldn't load exceptions".
package recon

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/cartworks/tally/internal/model"
	"github.com/cartworks/tally/internal/store"
)

// DefaultSeverityThreshold is the reference cutoff, in minor currency
// units, above which a cash difference is classified HIGH. Tune per
// deployment via configuration.
const DefaultSeverityThreshold int64 = 500

// Direction labels which way a cash difference went.
type Direction string

const (
	// DirectionOver means more cash was counted than expected.
	DirectionOver Direction = "over"

	// DirectionShort means less cash was counted than expected.
	DirectionShort Direction = "short"
)

// Engine computes settlement reconciliation views over the local store.
type Engine interface {
	// UnsettledShifts returns all closed shifts with no settlement,
	// ordered by clock-out time ascending (oldest first) for triage.
	UnsettledShifts(ctx context.Context) ([]store.UnsettledShift, error)

	// CashDifferences returns all settlements with a non-zero signed
	// difference. A nil cartIDs filter is the unscoped owner view; a
	// non-nil filter restricts results to the given carts and can only
	// narrow the set.
	CashDifferences(ctx context.Context, cartIDs []string) ([]store.CashDifference, error)

	// Classify maps a non-zero signed difference to a severity tier.
	Classify(amount int64) string

	// Direction reports whether a non-zero difference is cash over or
	// cash short.
	Direction(amount int64) Direction
}

// engine implements the Engine interface.
type engine struct {
	store     *store.Store
	threshold int64
	logger    *log.Logger
}

// New creates a new Engine instance.
//
// threshold is the HIGH-severity cutoff in minor units; pass 0 to use
// DefaultSeverityThreshold. If logger is nil, a default logger writing to
// stderr is used.
func New(st *store.Store, threshold int64, logger *log.Logger) Engine {
	if threshold <= 0 {
		threshold = DefaultSeverityThreshold
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[recon] ", log.LstdFlags)
	}
	return &engine{
		store:     st,
		threshold: threshold,
		logger:    logger,
	}
}

// UnsettledShifts implements Engine.UnsettledShifts.
func (e *engine) UnsettledShifts(ctx context.Context) ([]store.UnsettledShift, error) {
	shifts, err := e.store.UnsettledShifts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load unsettled shifts: %w", err)
	}
	return shifts, nil
}

// CashDifferences implements Engine.CashDifferences.
func (e *engine) CashDifferences(ctx context.Context, cartIDs []string) ([]store.CashDifference, error) {
	diffs, err := e.store.CashDifferences(ctx, cartIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load cash differences: %w", err)
	}
	return diffs, nil
}

// Classify implements Engine.Classify. Zero differences are excluded
// upstream and never reach classification.
func (e *engine) Classify(amount int64) string {
	if abs(amount) > e.threshold {
		return model.SeverityHigh
	}
	return model.SeverityMedium
}

// Direction implements Engine.Direction.
func (e *engine) Direction(amount int64) Direction {
	if amount > 0 {
		return DirectionOver
	}
	return DirectionShort
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
