package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cartworks/tally/internal/model"
)

// ErrShiftNotFound is returned when a shift id does not exist locally.
var ErrShiftNotFound = errors.New("shift not found")

// ErrShiftOpen is returned when an operation requires a closed shift.
var ErrShiftOpen = errors.New("shift is still open")

// ErrShiftClosed is returned when clocking out an already closed shift.
var ErrShiftClosed = errors.New("shift already clocked out")

// ClockIn opens a new shift for a worker on a cart with the declared
// starting cash. The shift row and its outbox entry commit together.
func (s *Store) ClockIn(ctx context.Context, workerID, cartID string, startingCash int64) (*model.Shift, error) {
	now := time.Now().UTC()
	shift := &model.Shift{
		ID:           uuid.NewString(),
		WorkerID:     workerID,
		CartID:       cartID,
		ClockIn:      now,
		StartingCash: startingCash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := shift.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shift: %w", err)
	}

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if err := upsertShiftTx(ctx, tx, shift); err != nil {
			return err
		}
		return s.enqueueEntityTx(ctx, tx, model.EntityShift, shift.ID, model.OpCreate, shift)
	})
	if err != nil {
		return nil, err
	}
	return shift, nil
}

// ClockOut closes a shift with the declared ending cash. The closed shift
// becomes eligible for settlement.
func (s *Store) ClockOut(ctx context.Context, shiftID string, endingCash int64) (*model.Shift, error) {
	shift, err := s.GetShift(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	if shift.Closed() {
		return nil, ErrShiftClosed
	}

	now := time.Now().UTC()
	shift.ClockOut = &now
	shift.EndingCash = &endingCash
	shift.UpdatedAt = now
	if err := shift.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shift: %w", err)
	}

	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		if err := upsertShiftTx(ctx, tx, shift); err != nil {
			return err
		}
		return s.enqueueEntityTx(ctx, tx, model.EntityShift, shift.ID, model.OpUpdate, shift)
	})
	if err != nil {
		return nil, err
	}
	return shift, nil
}

// GetShift retrieves a single shift by id.
func (s *Store) GetShift(ctx context.Context, id string) (*model.Shift, error) {
	query := `
	SELECT id, worker_id, cart_id, clock_in, clock_out,
	       starting_cash, ending_cash, created_at, updated_at
	FROM shifts
	WHERE id = ?
	`

	row := s.conn.QueryRowContext(ctx, query, id)
	shift, err := scanShiftRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrShiftNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shift %s: %w", id, err)
	}
	return shift, nil
}

// OpenShiftForWorker returns the worker's currently open shift, or
// ErrShiftNotFound when the worker is clocked out.
func (s *Store) OpenShiftForWorker(ctx context.Context, workerID string) (*model.Shift, error) {
	query := `
	SELECT id, worker_id, cart_id, clock_in, clock_out,
	       starting_cash, ending_cash, created_at, updated_at
	FROM shifts
	WHERE worker_id = ? AND clock_out IS NULL
	ORDER BY clock_in DESC
	LIMIT 1
	`

	row := s.conn.QueryRowContext(ctx, query, workerID)
	shift, err := scanShiftRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrShiftNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open shift for %s: %w", workerID, err)
	}
	return shift, nil
}

// enqueueEntityTx marshals the full entity and appends it to the outbox
// inside the caller's transaction.
func (s *Store) enqueueEntityTx(ctx context.Context, tx *sql.Tx, entityType, entityID, op string, entity interface{}) error {
	payload, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", entityType, err)
	}
	return s.EnqueueChangeTx(ctx, tx, &model.PendingChange{
		ID:         uuid.NewString(),
		EntityType: entityType,
		EntityID:   entityID,
		Op:         op,
		Payload:    payload,
	})
}

// upsertShiftTx writes a shift row inside the caller's transaction.
// Also used by the sync pass when applying pulled deltas.
func upsertShiftTx(ctx context.Context, tx *sql.Tx, shift *model.Shift) error {
	query := `
	INSERT INTO shifts (
		id, worker_id, cart_id, clock_in, clock_out,
		starting_cash, ending_cash, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		worker_id = excluded.worker_id,
		cart_id = excluded.cart_id,
		clock_in = excluded.clock_in,
		clock_out = excluded.clock_out,
		starting_cash = excluded.starting_cash,
		ending_cash = excluded.ending_cash,
		updated_at = excluded.updated_at
	`

	_, err := tx.ExecContext(ctx, query,
		shift.ID,
		shift.WorkerID,
		shift.CartID,
		shift.ClockIn.Format(time.RFC3339),
		timeToNullString(shift.ClockOut),
		shift.StartingCash,
		int64ToNull(shift.EndingCash),
		shift.CreatedAt.Format(time.RFC3339),
		shift.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert shift %s: %w", shift.ID, err)
	}
	return nil
}

// scanShiftRow scans one shift from a row scanner.
func scanShiftRow(scan func(dest ...interface{}) error) (*model.Shift, error) {
	var shift model.Shift
	var clockIn, createdAt, updatedAt string
	var clockOut sql.NullString
	var endingCash sql.NullInt64

	err := scan(
		&shift.ID,
		&shift.WorkerID,
		&shift.CartID,
		&clockIn,
		&clockOut,
		&shift.StartingCash,
		&endingCash,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if t, err := time.Parse(time.RFC3339, clockIn); err == nil {
		shift.ClockIn = t
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		shift.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		shift.UpdatedAt = t
	}
	shift.ClockOut = nullStringToTime(clockOut)
	shift.EndingCash = nullToInt64(endingCash)

	return &shift, nil
}
