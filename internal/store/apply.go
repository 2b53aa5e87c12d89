package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cartworks/tally/internal/model"
)

// pullCheckpointKey is the sync_state row holding the opaque cursor of
// the last successfully applied remote delta boundary.
const pullCheckpointKey = "pull_checkpoint"

// PullCheckpoint returns the persisted pull checkpoint, or the empty
// string when no pull has completed yet.
func (s *Store) PullCheckpoint(ctx context.Context) (string, error) {
	var value string
	err := s.conn.QueryRowContext(ctx,
		`SELECT value FROM sync_state WHERE key = ?`, pullCheckpointKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read pull checkpoint: %w", err)
	}
	return value, nil
}

// ApplyDeltas applies pulled remote deltas and persists the new checkpoint
// in one transaction. Remote state wins; a local mutation whose outbox
// entry is still pending is re-applied on top, otherwise it is superseded.
// A failure anywhere rolls the whole batch back, leaving the checkpoint
// untouched so the next pass retries the same pull.
func (s *Store) ApplyDeltas(ctx context.Context, deltas []model.Delta, checkpoint string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, d := range deltas {
			if err := applyDeltaTx(ctx, tx, d); err != nil {
				return err
			}
			if err := reapplyPendingTx(ctx, tx, d.EntityType, d.EntityID); err != nil {
				return err
			}
		}
		return setPullCheckpointTx(ctx, tx, checkpoint)
	})
}

// applyDeltaTx writes one remote delta into the local store.
func applyDeltaTx(ctx context.Context, tx *sql.Tx, d model.Delta) error {
	if d.Deleted {
		table, ok := entityTable(d.EntityType)
		if !ok {
			return fmt.Errorf("unknown entity type %q in delta", d.EntityType)
		}
		// #nosec G202 - table name comes from the fixed entityTable map
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", d.EntityID); err != nil {
			return fmt.Errorf("failed to apply delete for %s %s: %w", d.EntityType, d.EntityID, err)
		}
		return nil
	}
	return applyPayloadTx(ctx, tx, d.EntityType, d.Payload)
}

// applyPayloadTx upserts a full entity row from its JSON payload.
func applyPayloadTx(ctx context.Context, tx *sql.Tx, entityType string, payload json.RawMessage) error {
	switch entityType {
	case model.EntityShift:
		var shift model.Shift
		if err := json.Unmarshal(payload, &shift); err != nil {
			return fmt.Errorf("failed to unmarshal shift delta: %w", err)
		}
		// A malformed remote row (e.g. closed with no ending cash) must
		// never land in a state no local write can produce.
		if err := shift.Validate(); err != nil {
			return fmt.Errorf("invalid shift delta %s: %w", shift.ID, err)
		}
		return upsertShiftTx(ctx, tx, &shift)

	case model.EntitySettlement:
		var st model.Settlement
		if err := json.Unmarshal(payload, &st); err != nil {
			return fmt.Errorf("failed to unmarshal settlement delta: %w", err)
		}
		if err := st.Validate(); err != nil {
			return fmt.Errorf("invalid settlement delta %s: %w", st.ID, err)
		}
		return upsertSettlementTx(ctx, tx, &st)

	case model.EntityWorker:
		var w model.Worker
		if err := json.Unmarshal(payload, &w); err != nil {
			return fmt.Errorf("failed to unmarshal worker delta: %w", err)
		}
		return upsertDirectoryTx(ctx, tx, "workers", w.ID, w.Name)

	case model.EntityCart:
		var c model.Cart
		if err := json.Unmarshal(payload, &c); err != nil {
			return fmt.Errorf("failed to unmarshal cart delta: %w", err)
		}
		return upsertDirectoryTx(ctx, tx, "carts", c.ID, c.Name)

	default:
		return fmt.Errorf("unknown entity type %q in delta", entityType)
	}
}

// reapplyPendingTx re-applies the payloads of still-pending outbox entries
// for an entity, in creation order, on top of the remote state.
func reapplyPendingTx(ctx context.Context, tx *sql.Tx, entityType, entityID string) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT payload FROM outbox WHERE entity_type = ? AND entity_id = ? ORDER BY seq ASC`,
		entityType, entityID)
	if err != nil {
		return fmt.Errorf("failed to query pending changes for %s %s: %w", entityType, entityID, err)
	}

	var payloads []json.RawMessage
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan pending payload: %w", err)
		}
		payloads = append(payloads, json.RawMessage(p))
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("error iterating pending payloads: %w", err)
	}
	rows.Close()

	for _, p := range payloads {
		if err := applyPayloadTx(ctx, tx, entityType, p); err != nil {
			return err
		}
	}
	return nil
}

// setPullCheckpointTx persists the new checkpoint inside the apply
// transaction; it never advances on a failed apply.
func setPullCheckpointTx(ctx context.Context, tx *sql.Tx, checkpoint string) error {
	query := `
	INSERT INTO sync_state (key, value)
	VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`

	if _, err := tx.ExecContext(ctx, query, pullCheckpointKey, checkpoint); err != nil {
		return fmt.Errorf("failed to persist pull checkpoint: %w", err)
	}
	return nil
}

// upsertDirectoryTx writes a worker or cart directory row.
func upsertDirectoryTx(ctx context.Context, tx *sql.Tx, table, id, name string) error {
	// #nosec G202 - table name is a compile-time constant at every call site
	query := "INSERT INTO " + table + " (id, name) VALUES (?, ?) " +
		"ON CONFLICT(id) DO UPDATE SET name = excluded.name"

	if _, err := tx.ExecContext(ctx, query, id, name); err != nil {
		return fmt.Errorf("failed to upsert %s %s: %w", table, id, err)
	}
	return nil
}

// UpsertWorker writes a worker directory row outside a sync pass
// (used by the legacy importer).
func (s *Store) UpsertWorker(ctx context.Context, w *model.Worker) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		return upsertDirectoryTx(ctx, tx, "workers", w.ID, w.Name)
	})
}

// UpsertCart writes a cart directory row outside a sync pass.
func (s *Store) UpsertCart(ctx context.Context, c *model.Cart) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		return upsertDirectoryTx(ctx, tx, "carts", c.ID, c.Name)
	})
}

// entityTable maps entity type names to their tables.
func entityTable(entityType string) (string, bool) {
	switch entityType {
	case model.EntityShift:
		return "shifts", true
	case model.EntitySettlement:
		return "settlements", true
	case model.EntityWorker:
		return "workers", true
	case model.EntityCart:
		return "carts", true
	default:
		return "", false
	}
}

// ImportShift writes a shift without enqueueing it, for legacy imports
// where the remote store already holds the data.
func (s *Store) ImportShift(ctx context.Context, shift *model.Shift) error {
	if err := shift.Validate(); err != nil {
		return fmt.Errorf("invalid shift: %w", err)
	}
	if shift.CreatedAt.IsZero() {
		shift.CreatedAt = time.Now().UTC()
	}
	if shift.UpdatedAt.IsZero() {
		shift.UpdatedAt = shift.CreatedAt
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		return upsertShiftTx(ctx, tx, shift)
	})
}

// ImportSettlement writes a settlement without enqueueing it.
func (s *Store) ImportSettlement(ctx context.Context, st *model.Settlement) error {
	if err := st.Validate(); err != nil {
		return fmt.Errorf("invalid settlement: %w", err)
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		return upsertSettlementTx(ctx, tx, st)
	})
}
