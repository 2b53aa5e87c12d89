// Package badge aggregates pending-count summaries for UI badges.
//
// The aggregator is polling-based: a fixed short interval re-queries the
// local store, and the sync coordinator's completion broadcast is treated
// as a hint to refresh immediately rather than wait for the next tick.
package badge

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cartworks/tally/internal/model"
	"github.com/cartworks/tally/internal/store"
)

// UserContext scopes a summary to the acting user.
//
// CartIDs carries the carts a manager is assigned to; nil means full
// access (owner view). An empty non-nil slice scopes cash differences to
// nothing.
type UserContext struct {
	UserID           string
	NotificationType string
	CartIDs          []string
}

// Aggregator computes badge counts from repository primitives.
type Aggregator struct {
	store  *store.Store
	logger *log.Logger
}

// New creates a new Aggregator. If logger is nil, a default logger
// writing to stderr is used.
func New(st *store.Store, logger *log.Logger) *Aggregator {
	if logger == nil {
		logger = log.New(os.Stderr, "[badge] ", log.LstdFlags)
	}
	return &Aggregator{store: st, logger: logger}
}

// PendingSummary returns the badge count for a user: unseen notifications
// of the user's type, plus unsettled shifts, plus non-zero cash
// differences within the user's cart scope.
func (a *Aggregator) PendingSummary(ctx context.Context, user UserContext) (int, error) {
	typ := user.NotificationType
	if typ == "" {
		typ = model.NotificationSettlementIncoming
	}

	unseen, err := a.store.UnseenCount(ctx, user.UserID, typ)
	if err != nil {
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	unsettled, err := a.store.UnsettledShiftCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count unsettled shifts: %w", err)
	}

	diffs, err := a.store.CashDifferences(ctx, user.CartIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to count cash differences: %w", err)
	}

	return unseen + unsettled + len(diffs), nil
}

// Poller re-computes a user's badge count on a fixed interval and on
// refresh hints, delivering each count to a callback.
type Poller struct {
	agg      *Aggregator
	user     UserContext
	interval time.Duration
	onCount  func(int)
	refresh  chan struct{}
	logger   *log.Logger
}

// NewPoller creates a poller for one user context. interval 0 defaults to
// 5 seconds. onCount receives every computed count, including unchanged
// ones; consumers must be idempotent.
func NewPoller(agg *Aggregator, user UserContext, interval time.Duration, onCount func(int)) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		agg:      agg,
		user:     user,
		interval: interval,
		onCount:  onCount,
		refresh:  make(chan struct{}, 1),
		logger:   agg.logger,
	}
}

// Refresh asks the poller to re-query immediately. Safe to call from any
// goroutine; redundant hints coalesce.
func (p *Poller) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled. Intended to run as a goroutine.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		case <-p.refresh:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	count, err := p.agg.PendingSummary(ctx, p.user)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Printf("badge refresh failed: %v", err)
		}
		return
	}
	if p.onCount != nil {
		p.onCount(count)
	}
}
