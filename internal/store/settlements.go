package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cartworks/tally/internal/model"
)

// ErrAlreadySettled is returned when a shift already has a settlement.
var ErrAlreadySettled = errors.New("shift already settled")

// UnsettledShift pairs a closed, unreconciled shift with the worker and
// cart names for operator triage. Names fall back to the raw ids when the
// directory rows have not been pulled yet.
type UnsettledShift struct {
	Shift      model.Shift
	WorkerName string
	CartName   string
}

// CashDifference pairs a settlement with a non-zero signed difference
// with the worker and cart names.
type CashDifference struct {
	Settlement model.Settlement
	WorkerName string
	CartName   string
}

// CreateSettlement reconciles a closed shift: the signed difference is
// countedCash minus the shift's declared ending cash, in minor units.
// The settlement row, a settlement_incoming notification for the worker,
// and the outbox entry commit as one unit.
func (s *Store) CreateSettlement(ctx context.Context, shiftID string, countedCash int64) (*model.Settlement, error) {
	shift, err := s.GetShift(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	if !shift.Closed() {
		return nil, ErrShiftOpen
	}
	if shift.EndingCash == nil {
		return nil, fmt.Errorf("shift %s is closed but has no declared ending cash", shiftID)
	}

	existing, err := s.settlementForShift(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadySettled
	}

	expected := *shift.EndingCash
	now := time.Now().UTC()
	settlement := &model.Settlement{
		ID:           uuid.NewString(),
		ShiftID:      shift.ID,
		WorkerID:     shift.WorkerID,
		CartID:       shift.CartID,
		ExpectedCash: expected,
		CountedCash:  countedCash,
		Difference:   countedCash - expected,
		CreatedAt:    now,
	}
	if err := settlement.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settlement: %w", err)
	}

	notification := &model.Notification{
		ID:        uuid.NewString(),
		UserID:    shift.WorkerID,
		Type:      model.NotificationSettlementIncoming,
		Body:      fmt.Sprintf("Shift %s settled with difference %d", shift.ID, settlement.Difference),
		CreatedAt: now,
	}

	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		if err := upsertSettlementTx(ctx, tx, settlement); err != nil {
			return err
		}
		if err := insertNotificationTx(ctx, tx, notification); err != nil {
			return err
		}
		return s.enqueueEntityTx(ctx, tx, model.EntitySettlement, settlement.ID, model.OpCreate, settlement)
	})
	if err != nil {
		return nil, err
	}
	return settlement, nil
}

// UnsettledShifts returns all shifts with a clock-out and no settlement,
// oldest clock-out first. Idempotent under repeated calls with no
// intervening writes.
func (s *Store) UnsettledShifts(ctx context.Context) ([]UnsettledShift, error) {
	query := `
	SELECT sh.id, sh.worker_id, sh.cart_id, sh.clock_in, sh.clock_out,
	       sh.starting_cash, sh.ending_cash, sh.created_at, sh.updated_at,
	       COALESCE(w.name, sh.worker_id), COALESCE(c.name, sh.cart_id)
	FROM shifts sh
	LEFT JOIN settlements st ON st.shift_id = sh.id
	LEFT JOIN workers w ON w.id = sh.worker_id
	LEFT JOIN carts c ON c.id = sh.cart_id
	WHERE sh.clock_out IS NOT NULL AND st.id IS NULL
	ORDER BY sh.clock_out ASC
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsettled shifts: %w", err)
	}
	defer rows.Close()

	var results []UnsettledShift
	for rows.Next() {
		var u UnsettledShift
		var clockIn, createdAt, updatedAt string
		var clockOut sql.NullString
		var endingCash sql.NullInt64

		err := rows.Scan(
			&u.Shift.ID,
			&u.Shift.WorkerID,
			&u.Shift.CartID,
			&clockIn,
			&clockOut,
			&u.Shift.StartingCash,
			&endingCash,
			&createdAt,
			&updatedAt,
			&u.WorkerName,
			&u.CartName,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unsettled shift: %w", err)
		}

		if t, err := time.Parse(time.RFC3339, clockIn); err == nil {
			u.Shift.ClockIn = t
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			u.Shift.CreatedAt = t
		}
		if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
			u.Shift.UpdatedAt = t
		}
		u.Shift.ClockOut = nullStringToTime(clockOut)
		u.Shift.EndingCash = nullToInt64(endingCash)

		results = append(results, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unsettled shifts: %w", err)
	}
	return results, nil
}

// CashDifferences returns settlements whose signed difference is non-zero.
// A nil cartIDs filter means unscoped (owner view); a non-nil filter
// restricts results to those carts and can only narrow the set.
func (s *Store) CashDifferences(ctx context.Context, cartIDs []string) ([]CashDifference, error) {
	query := `
	SELECT st.id, st.shift_id, st.worker_id, st.cart_id,
	       st.expected_cash, st.counted_cash, st.difference, st.created_at,
	       COALESCE(w.name, st.worker_id), COALESCE(c.name, st.cart_id)
	FROM settlements st
	LEFT JOIN workers w ON w.id = st.worker_id
	LEFT JOIN carts c ON c.id = st.cart_id
	WHERE st.difference != 0
	`
	var args []interface{}

	if cartIDs != nil {
		if len(cartIDs) == 0 {
			// An empty scope matches nothing.
			return nil, nil
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cartIDs)), ", ")
		query += " AND st.cart_id IN (" + placeholders + ")"
		for _, id := range cartIDs {
			args = append(args, id)
		}
	}

	query += " ORDER BY st.created_at ASC"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cash differences: %w", err)
	}
	defer rows.Close()

	var results []CashDifference
	for rows.Next() {
		var d CashDifference
		var createdAt string

		err := rows.Scan(
			&d.Settlement.ID,
			&d.Settlement.ShiftID,
			&d.Settlement.WorkerID,
			&d.Settlement.CartID,
			&d.Settlement.ExpectedCash,
			&d.Settlement.CountedCash,
			&d.Settlement.Difference,
			&createdAt,
			&d.WorkerName,
			&d.CartName,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cash difference: %w", err)
		}

		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			d.Settlement.CreatedAt = t
		}

		results = append(results, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cash differences: %w", err)
	}
	return results, nil
}

// UnsettledShiftCount returns the number of closed shifts awaiting
// settlement.
func (s *Store) UnsettledShiftCount(ctx context.Context) (int, error) {
	query := `
	SELECT COUNT(*)
	FROM shifts sh
	LEFT JOIN settlements st ON st.shift_id = sh.id
	WHERE sh.clock_out IS NOT NULL AND st.id IS NULL
	`

	var count int
	if err := s.conn.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unsettled shifts: %w", err)
	}
	return count, nil
}

// settlementForShift returns the settlement referencing a shift, or nil.
func (s *Store) settlementForShift(ctx context.Context, shiftID string) (*model.Settlement, error) {
	query := `
	SELECT id, shift_id, worker_id, cart_id,
	       expected_cash, counted_cash, difference, created_at
	FROM settlements
	WHERE shift_id = ?
	`

	row := s.conn.QueryRowContext(ctx, query, shiftID)

	var st model.Settlement
	var createdAt string
	err := row.Scan(
		&st.ID,
		&st.ShiftID,
		&st.WorkerID,
		&st.CartID,
		&st.ExpectedCash,
		&st.CountedCash,
		&st.Difference,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement for shift %s: %w", shiftID, err)
	}

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		st.CreatedAt = t
	}
	return &st, nil
}

// upsertSettlementTx writes a settlement row inside the caller's
// transaction. Also used by the sync pass when applying pulled deltas.
func upsertSettlementTx(ctx context.Context, tx *sql.Tx, st *model.Settlement) error {
	query := `
	INSERT INTO settlements (
		id, shift_id, worker_id, cart_id,
		expected_cash, counted_cash, difference, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		shift_id = excluded.shift_id,
		worker_id = excluded.worker_id,
		cart_id = excluded.cart_id,
		expected_cash = excluded.expected_cash,
		counted_cash = excluded.counted_cash,
		difference = excluded.difference
	`

	_, err := tx.ExecContext(ctx, query,
		st.ID,
		st.ShiftID,
		st.WorkerID,
		st.CartID,
		st.ExpectedCash,
		st.CountedCash,
		st.Difference,
		st.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert settlement %s: %w", st.ID, err)
	}
	return nil
}
