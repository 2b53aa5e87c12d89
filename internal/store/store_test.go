package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates a temporary database for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")

	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}

	return st
}

// closedShift creates and closes a shift, returning its id.
func closedShift(t *testing.T, st *Store, workerID, cartID string, startingCash, endingCash int64) string {
	t.Helper()

	ctx := context.Background()
	shift, err := st.ClockIn(ctx, workerID, cartID, startingCash)
	if err != nil {
		t.Fatalf("ClockIn failed: %v", err)
	}
	if _, err := st.ClockOut(ctx, shift.ID, endingCash); err != nil {
		t.Fatalf("ClockOut failed: %v", err)
	}
	return shift.ID
}

func TestInitSchemaIdempotent(t *testing.T) {
	st := setupTestStore(t)

	if err := st.InitSchema(); err != nil {
		t.Fatalf("second InitSchema failed: %v", err)
	}
}

func TestClockInWritesShiftAndOutboxAtomically(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	shift, err := st.ClockIn(ctx, "w1", "c1", 5000)
	if err != nil {
		t.Fatalf("ClockIn failed: %v", err)
	}

	got, err := st.GetShift(ctx, shift.ID)
	if err != nil {
		t.Fatalf("GetShift failed: %v", err)
	}
	if got.StartingCash != 5000 {
		t.Errorf("expected starting cash 5000, got %d", got.StartingCash)
	}
	if got.Closed() {
		t.Error("new shift should be open")
	}

	changes, err := st.PeekPartition(ctx, "shift", 0)
	if err != nil {
		t.Fatalf("PeekPartition failed: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("expected 1 pending change, got %d", len(changes))
	}
	if changes[0].EntityID != shift.ID {
		t.Errorf("pending change references %s, want %s", changes[0].EntityID, shift.ID)
	}
	if changes[0].Op != "create" {
		t.Errorf("expected create op, got %s", changes[0].Op)
	}
}

func TestClockOutClosesShift(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	shift, err := st.ClockIn(ctx, "w1", "c1", 5000)
	if err != nil {
		t.Fatalf("ClockIn failed: %v", err)
	}

	closed, err := st.ClockOut(ctx, shift.ID, 7500)
	if err != nil {
		t.Fatalf("ClockOut failed: %v", err)
	}
	if !closed.Closed() {
		t.Fatal("shift should be closed after clock-out")
	}
	if *closed.EndingCash != 7500 {
		t.Errorf("expected ending cash 7500, got %d", *closed.EndingCash)
	}

	// Clocking out twice must fail.
	if _, err := st.ClockOut(ctx, shift.ID, 7500); err != ErrShiftClosed {
		t.Errorf("expected ErrShiftClosed, got %v", err)
	}

	// Create + update entries for the same shift, in that order.
	changes, err := st.PeekPartition(ctx, "shift", 0)
	if err != nil {
		t.Fatalf("PeekPartition failed: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 pending changes, got %d", len(changes))
	}
	if changes[0].Op != "create" || changes[1].Op != "update" {
		t.Errorf("expected create then update, got %s then %s", changes[0].Op, changes[1].Op)
	}
}

func TestOpenShiftForWorker(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	if _, err := st.OpenShiftForWorker(ctx, "w1"); err != ErrShiftNotFound {
		t.Errorf("expected ErrShiftNotFound, got %v", err)
	}

	shift, err := st.ClockIn(ctx, "w1", "c1", 1000)
	if err != nil {
		t.Fatalf("ClockIn failed: %v", err)
	}

	open, err := st.OpenShiftForWorker(ctx, "w1")
	if err != nil {
		t.Fatalf("OpenShiftForWorker failed: %v", err)
	}
	if open.ID != shift.ID {
		t.Errorf("expected shift %s, got %s", shift.ID, open.ID)
	}

	if _, err := st.ClockOut(ctx, shift.ID, 1000); err != nil {
		t.Fatalf("ClockOut failed: %v", err)
	}
	if _, err := st.OpenShiftForWorker(ctx, "w1"); err != ErrShiftNotFound {
		t.Errorf("expected ErrShiftNotFound after clock-out, got %v", err)
	}
}

func TestPullCheckpointDefaultsEmpty(t *testing.T) {
	st := setupTestStore(t)

	cp, err := st.PullCheckpoint(context.Background())
	if err != nil {
		t.Fatalf("PullCheckpoint failed: %v", err)
	}
	if cp != "" {
		t.Errorf("expected empty checkpoint, got %q", cp)
	}
}

func TestTimeHelpers(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	ns := timeToNullString(&now)
	if !ns.Valid {
		t.Fatal("expected valid null string")
	}
	back := nullStringToTime(ns)
	if back == nil || !back.Equal(now) {
		t.Errorf("round trip mismatch: %v != %v", back, now)
	}

	if got := nullStringToTime(timeToNullString(nil)); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}
