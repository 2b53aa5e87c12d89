// Package store provides the embedded SQLite database for tally devices.
//
// The local store is the sole mutable source of truth on-device; the
// remote store is authoritative across devices. The database runs in
// embedded mode with WAL so reconciliation queries stay snapshot-consistent
// while a sync pass is writing.
//
// Schema: shifts, settlements, notifications, saved_items, workers, carts,
// plus the outbox and sync_state tables that make the device crash-safe.
// Any mutation that touches a business entity and the outbox goes through
// a single transaction (WithTx), never two sequential calls.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection with tally-specific functionality.
type Store struct {
	conn *sql.DB
	path string

	// savedItemMu serializes saved-item creation on this store so the
	// find-then-create guard cannot race between two call sites. The
	// unique index on (user_id, linked_entity_type, linked_entity_id)
	// backs this up at the storage layer.
	savedItemMu sync.Mutex
}

// Open creates a new database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it will be created; call InitSchema to
// create the tables.
//
// The caller MUST call Close() when done to ensure proper cleanup.
//
// Example:
//
//	st, err := store.Open(".tally/tally.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	st := &Store{
		conn: conn,
		path: path,
	}

	// Enable WAL mode for concurrent reads
	if _, err := st.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout to 5 seconds
	if _, err := st.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := st.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return st, nil
}

// RawDB returns the underlying sql.DB connection.
// This is useful for integrating with other libraries that expect *sql.DB.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// This is idempotent - safe to call multiple times.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	-- Business entities
	CREATE TABLE IF NOT EXISTS shifts (
		id TEXT PRIMARY KEY,
		worker_id TEXT NOT NULL,
		cart_id TEXT NOT NULL,
		clock_in TEXT NOT NULL,
		clock_out TEXT,
		starting_cash INTEGER NOT NULL,
		ending_cash INTEGER,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settlements (
		id TEXT PRIMARY KEY,
		shift_id TEXT NOT NULL UNIQUE,
		worker_id TEXT NOT NULL,
		cart_id TEXT NOT NULL,
		expected_cash INTEGER NOT NULL,
		counted_cash INTEGER NOT NULL,
		difference INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		FOREIGN KEY (shift_id) REFERENCES shifts(id)
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		body TEXT,
		seen INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS saved_items (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		linked_entity_type TEXT NOT NULL,
		linked_entity_id TEXT NOT NULL,
		note TEXT,
		severity TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (user_id, linked_entity_type, linked_entity_id)
	);

	-- Directory entries synced from the remote store
	CREATE TABLE IF NOT EXISTS workers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS carts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	-- Pending change log: local mutations awaiting remote confirmation.
	-- seq orders entries per entity; rows are removed only on remote ack.
	CREATE TABLE IF NOT EXISTS outbox (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		op TEXT NOT NULL,
		payload TEXT NOT NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		needs_review INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	-- Durable sync cursor (pull checkpoint) and friends
	CREATE TABLE IF NOT EXISTS sync_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	-- Indexes for reconciliation and badge queries
	CREATE INDEX IF NOT EXISTS idx_shifts_clock_out ON shifts(clock_out);
	CREATE INDEX IF NOT EXISTS idx_shifts_worker ON shifts(worker_id);
	CREATE INDEX IF NOT EXISTS idx_settlements_cart ON settlements(cart_id);
	CREATE INDEX IF NOT EXISTS idx_settlements_difference ON settlements(difference);
	CREATE INDEX IF NOT EXISTS idx_notifications_unseen
	    ON notifications(user_id, type, seen);
	CREATE INDEX IF NOT EXISTS idx_outbox_partition
	    ON outbox(entity_type, seq) WHERE needs_review = 0;
	CREATE INDEX IF NOT EXISTS idx_outbox_entity ON outbox(entity_type, entity_id);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// WithTx runs fn inside a single transaction, committing on nil and
// rolling back on error. Every mutation that pairs an entity write with
// an outbox enqueue goes through here so the two can never be applied
// partially.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

// int64ToNull converts an int64 pointer to a nullable SQL int.
func int64ToNull(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// nullToInt64 converts a nullable SQL int to an int64 pointer.
func nullToInt64(nv sql.NullInt64) *int64 {
	if !nv.Valid {
		return nil
	}
	v := nv.Int64
	return &v
}
