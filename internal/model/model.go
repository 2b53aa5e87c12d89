// Package model provides the data structures shared by the local store,
// the sync engine, and the reconciliation queries.
//
// All cash amounts are signed integers in minor currency units (cents).
// Conversion to major units is a display concern and never happens here.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entity type names used for outbox partitioning and remote deltas.
const (
	EntityShift      = "shift"
	EntitySettlement = "settlement"
	EntityWorker     = "worker"
	EntityCart       = "cart"
)

// Outbox operation kinds.
const (
	OpCreate = "create"
	OpUpdate = "update"
)

// Shift represents one worker's session on a cart, from clock-in to
// clock-out. ClockOut and EndingCash are nil while the shift is open.
// A closed shift with no settlement is "unsettled".
type Shift struct {
	ID       string `json:"id"`
	WorkerID string `json:"worker_id"`
	CartID   string `json:"cart_id"`

	ClockIn  time.Time  `json:"clock_in"`
	ClockOut *time.Time `json:"clock_out,omitempty"`

	// Declared cash counts, minor units.
	StartingCash int64  `json:"starting_cash"`
	EndingCash   *int64 `json:"ending_cash,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks if the Shift has valid field values.
func (s *Shift) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	if s.WorkerID == "" {
		return fmt.Errorf("worker_id is required")
	}
	if s.CartID == "" {
		return fmt.Errorf("cart_id is required")
	}
	if s.ClockIn.IsZero() {
		return fmt.Errorf("clock_in is required")
	}
	if s.StartingCash < 0 {
		return fmt.Errorf("starting_cash must not be negative (got %d)", s.StartingCash)
	}
	if s.ClockOut != nil && s.ClockOut.Before(s.ClockIn) {
		return fmt.Errorf("clock_out must not precede clock_in")
	}
	if s.ClockOut != nil && s.EndingCash == nil {
		return fmt.Errorf("ending_cash is required on a closed shift")
	}
	return nil
}

// Closed reports whether the shift has been clocked out.
func (s *Shift) Closed() bool {
	return s.ClockOut != nil
}

// Settlement is the reconciled record closing out a shift's cash
// accounting. At most one settlement exists per shift.
type Settlement struct {
	ID       string `json:"id"`
	ShiftID  string `json:"shift_id"`
	WorkerID string `json:"worker_id"`
	CartID   string `json:"cart_id"`

	// ExpectedCash is what the drawer should hold per the shift's
	// declared counts; CountedCash is what the manager counted.
	// Difference = CountedCash - ExpectedCash. Positive means cash over,
	// negative means cash short. Minor units.
	ExpectedCash int64 `json:"expected_cash"`
	CountedCash  int64 `json:"counted_cash"`
	Difference   int64 `json:"difference"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks if the Settlement has valid field values.
func (s *Settlement) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	if s.ShiftID == "" {
		return fmt.Errorf("shift_id is required")
	}
	if s.WorkerID == "" {
		return fmt.Errorf("worker_id is required")
	}
	if s.CartID == "" {
		return fmt.Errorf("cart_id is required")
	}
	if s.Difference != s.CountedCash-s.ExpectedCash {
		return fmt.Errorf("difference %d does not match counted-expected %d",
			s.Difference, s.CountedCash-s.ExpectedCash)
	}
	return nil
}

// PendingChange is one outbox entry: a local mutation awaiting remote
// confirmation. Seq is assigned by the store and orders entries for the
// same entity; it is never set by callers.
type PendingChange struct {
	ID         string          `json:"id"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Op         string          `json:"op"`
	Payload    json.RawMessage `json:"payload"`

	AttemptCount int  `json:"attempt_count"`
	NeedsReview  bool `json:"needs_review"`

	Seq       int64     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks if the PendingChange has valid field values.
func (c *PendingChange) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.EntityType == "" {
		return fmt.Errorf("entity_type is required")
	}
	if c.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}
	if c.Op != OpCreate && c.Op != OpUpdate {
		return fmt.Errorf("op must be %q or %q (got %q)", OpCreate, OpUpdate, c.Op)
	}
	if len(c.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	return nil
}

// Delta is one remote change pulled during a sync pass. Payload holds the
// full entity row as JSON; remote state wins on conflict.
type Delta struct {
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload"`
	Deleted    bool            `json:"deleted,omitempty"`
}

// NotificationSettlementIncoming is sent to a worker when a manager
// settles one of their shifts.
const NotificationSettlementIncoming = "settlement_incoming"

// Notification is a typed event record with a per-user seen flag.
// The unseen count feeds UI badges.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	Body      string    `json:"body,omitempty"`
	Seen      bool      `json:"seen"`
	CreatedAt time.Time `json:"created_at"`
}

// Severity tiers for saved items.
const (
	SeverityLow    = "LOW"
	SeverityMedium = "MEDIUM"
	SeverityHigh   = "HIGH"
)

// SavedItemException marks a bookmark created from a reconciliation
// exception (unsettled shift or cash difference).
const SavedItemException = "EXCEPTION"

// SavedItem is a user-created bookmark pointing at another entity.
// At most one exists per (user, linked entity type, linked entity id);
// the store enforces this with a unique index.
type SavedItem struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Type             string    `json:"type"`
	LinkedEntityType string    `json:"linked_entity_type"`
	LinkedEntityID   string    `json:"linked_entity_id"`
	Note             string    `json:"note,omitempty"`
	Severity         string    `json:"severity"`
	CreatedAt        time.Time `json:"created_at"`
}

// Validate checks if the SavedItem has valid field values.
func (i *SavedItem) Validate() error {
	if i.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if i.Type == "" {
		return fmt.Errorf("type is required")
	}
	if i.LinkedEntityType == "" {
		return fmt.Errorf("linked_entity_type is required")
	}
	if i.LinkedEntityID == "" {
		return fmt.Errorf("linked_entity_id is required")
	}
	switch i.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh:
	default:
		return fmt.Errorf("severity must be LOW, MEDIUM or HIGH (got %q)", i.Severity)
	}
	return nil
}

// Worker is the directory entry for a cart worker. Synced from the
// remote store; the device never mutates these.
type Worker struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Cart is the directory entry for a food cart.
type Cart struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
