package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cartworks/tally/internal/model"
)

// AddNotification records a typed event for a user. Notifications are
// device-local and never enter the outbox.
func (s *Store) AddNotification(ctx context.Context, userID, typ, body string) (*model.Notification, error) {
	n := &model.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return insertNotificationTx(ctx, tx, n)
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// UnseenCount returns the number of unseen notifications of a given type
// for a user.
func (s *Store) UnseenCount(ctx context.Context, userID, typ string) (int, error) {
	query := `
	SELECT COUNT(*)
	FROM notifications
	WHERE user_id = ? AND type = ? AND seen = 0
	`

	var count int
	if err := s.conn.QueryRowContext(ctx, query, userID, typ).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unseen notifications: %w", err)
	}
	return count, nil
}

// MarkSeen flags all of a user's notifications of a given type as seen.
func (s *Store) MarkSeen(ctx context.Context, userID, typ string) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE notifications SET seen = 1 WHERE user_id = ? AND type = ? AND seen = 0`,
		userID, typ)
	if err != nil {
		return fmt.Errorf("failed to mark notifications seen: %w", err)
	}
	return nil
}

// insertNotificationTx writes a notification row inside the caller's
// transaction so it can share the settlement's atomic unit.
func insertNotificationTx(ctx context.Context, tx *sql.Tx, n *model.Notification) error {
	query := `
	INSERT INTO notifications (id, user_id, type, body, seen, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`

	seen := 0
	if n.Seen {
		seen = 1
	}

	_, err := tx.ExecContext(ctx, query,
		n.ID,
		n.UserID,
		n.Type,
		n.Body,
		seen,
		n.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification %s: %w", n.ID, err)
	}
	return nil
}
