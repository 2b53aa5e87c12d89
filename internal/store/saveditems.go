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

// FindSavedItem returns the user's bookmark for a linked entity, or nil
// when none exists.
func (s *Store) FindSavedItem(ctx context.Context, userID, linkedType, linkedID string) (*model.SavedItem, error) {
	query := `
	SELECT id, user_id, type, linked_entity_type, linked_entity_id,
	       note, severity, created_at
	FROM saved_items
	WHERE user_id = ? AND linked_entity_type = ? AND linked_entity_id = ?
	`

	row := s.conn.QueryRowContext(ctx, query, userID, linkedType, linkedID)

	var item model.SavedItem
	var createdAt string
	err := row.Scan(
		&item.ID,
		&item.UserID,
		&item.Type,
		&item.LinkedEntityType,
		&item.LinkedEntityID,
		&item.Note,
		&item.Severity,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find saved item: %w", err)
	}

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		item.CreatedAt = t
	}
	return &item, nil
}

// CreateSavedItem stores a bookmark unless the user already has one for
// the same linked entity. The second return value is false when an
// existing bookmark was found; the existing bookmark is returned and the
// call is a no-op, not an error.
func (s *Store) CreateSavedItem(ctx context.Context, item *model.SavedItem) (*model.SavedItem, bool, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if err := item.Validate(); err != nil {
		return nil, false, fmt.Errorf("invalid saved item: %w", err)
	}

	s.savedItemMu.Lock()
	defer s.savedItemMu.Unlock()

	existing, err := s.FindSavedItem(ctx, item.UserID, item.LinkedEntityType, item.LinkedEntityID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	query := `
	INSERT INTO saved_items (
		id, user_id, type, linked_entity_type, linked_entity_id,
		note, severity, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.conn.ExecContext(ctx, query,
		item.ID,
		item.UserID,
		item.Type,
		item.LinkedEntityType,
		item.LinkedEntityID,
		item.Note,
		item.Severity,
		item.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		// The unique index catches creators the pre-check couldn't see.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			existing, ferr := s.FindSavedItem(ctx, item.UserID, item.LinkedEntityType, item.LinkedEntityID)
			if ferr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("failed to create saved item: %w", err)
	}
	return item, true, nil
}
