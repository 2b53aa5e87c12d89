package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cartworks/tally/internal/model"
)

// The outbox is append-only except for acknowledgment-triggered removal.
// Entries for the same entity id are returned in creation order; entries
// across different entities have no required relative order.

// EnqueueChangeTx appends a pending change inside the caller's transaction.
// Repository mutations call this alongside their own entity write so the
// two are committed as one atomic unit.
func (s *Store) EnqueueChangeTx(ctx context.Context, tx *sql.Tx, change *model.PendingChange) error {
	if err := change.Validate(); err != nil {
		return fmt.Errorf("invalid pending change: %w", err)
	}
	if change.CreatedAt.IsZero() {
		change.CreatedAt = time.Now().UTC()
	}

	query := `
	INSERT INTO outbox (id, entity_type, entity_id, op, payload, attempt_count, needs_review, created_at)
	VALUES (?, ?, ?, ?, ?, 0, 0, ?)
	`

	_, err := tx.ExecContext(ctx, query,
		change.ID,
		change.EntityType,
		change.EntityID,
		change.Op,
		string(change.Payload),
		change.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue change %s: %w", change.ID, err)
	}
	return nil
}

// Partitions returns the entity types that currently have pending changes,
// ordered by their oldest entry. Entries flagged for review are excluded.
func (s *Store) Partitions(ctx context.Context) ([]string, error) {
	query := `
	SELECT entity_type
	FROM outbox
	WHERE needs_review = 0
	GROUP BY entity_type
	ORDER BY MIN(seq) ASC
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox partitions: %w", err)
	}
	defer rows.Close()

	var partitions []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan partition: %w", err)
		}
		partitions = append(partitions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating partitions: %w", err)
	}
	return partitions, nil
}

// PeekPartition returns pending changes for one entity type in creation
// order, without removing them. limit 0 means no limit.
func (s *Store) PeekPartition(ctx context.Context, entityType string, limit int) ([]*model.PendingChange, error) {
	query := `
	SELECT seq, id, entity_type, entity_id, op, payload, attempt_count, needs_review, created_at
	FROM outbox
	WHERE entity_type = ? AND needs_review = 0
	ORDER BY seq ASC
	`
	args := []interface{}{entityType}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to peek partition %s: %w", entityType, err)
	}
	defer rows.Close()

	return scanChanges(rows)
}

// AcknowledgeChange removes a change after the remote store confirmed it.
// This is the only path that deletes outbox rows.
func (s *Store) AcknowledgeChange(ctx context.Context, changeID string) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, changeID)
	if err != nil {
		return fmt.Errorf("failed to acknowledge change %s: %w", changeID, err)
	}
	return nil
}

// IncrementAttempt bumps the attempt counter on a failed push and returns
// the new count.
func (s *Store) IncrementAttempt(ctx context.Context, changeID string) (int, error) {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE outbox SET attempt_count = attempt_count + 1 WHERE id = ?`, changeID)
	if err != nil {
		return 0, fmt.Errorf("failed to increment attempt for %s: %w", changeID, err)
	}

	var count int
	err = s.conn.QueryRowContext(ctx,
		`SELECT attempt_count FROM outbox WHERE id = ?`, changeID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to read attempt count for %s: %w", changeID, err)
	}
	return count, nil
}

// FlagForReview marks a change as needing manual review. Flagged changes
// are excluded from future drains until ClearReviewFlag is called.
func (s *Store) FlagForReview(ctx context.Context, changeID string) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE outbox SET needs_review = 1 WHERE id = ?`, changeID)
	if err != nil {
		return fmt.Errorf("failed to flag change %s for review: %w", changeID, err)
	}
	return nil
}

// ClearReviewFlag returns a reviewed change to the pending queue with a
// reset attempt counter.
func (s *Store) ClearReviewFlag(ctx context.Context, changeID string) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE outbox SET needs_review = 0, attempt_count = 0 WHERE id = ?`, changeID)
	if err != nil {
		return fmt.Errorf("failed to clear review flag on %s: %w", changeID, err)
	}
	return nil
}

// ReviewQueue returns changes flagged for manual review, oldest first.
func (s *Store) ReviewQueue(ctx context.Context) ([]*model.PendingChange, error) {
	query := `
	SELECT seq, id, entity_type, entity_id, op, payload, attempt_count, needs_review, created_at
	FROM outbox
	WHERE needs_review = 1
	ORDER BY seq ASC
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query review queue: %w", err)
	}
	defer rows.Close()

	return scanChanges(rows)
}

// PendingCount returns the number of changes awaiting remote confirmation.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending changes: %w", err)
	}
	return count, nil
}

// scanChanges is a helper function to scan multiple changes from query results.
func scanChanges(rows *sql.Rows) ([]*model.PendingChange, error) {
	var changes []*model.PendingChange

	for rows.Next() {
		var c model.PendingChange
		var payload string
		var needsReview int
		var createdAt string

		err := rows.Scan(
			&c.Seq,
			&c.ID,
			&c.EntityType,
			&c.EntityID,
			&c.Op,
			&payload,
			&c.AttemptCount,
			&needsReview,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}

		c.Payload = []byte(payload)
		c.NeedsReview = needsReview != 0
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			c.CreatedAt = t
		}

		changes = append(changes, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating changes: %w", err)
	}

	return changes, nil
}
