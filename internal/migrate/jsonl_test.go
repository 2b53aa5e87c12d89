package migrate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cartworks/tally/internal/store"
)

const sampleExport = `{"kind":"worker","id":"w1","name":"Ana"}
{"kind":"cart","id":"c1","name":"Taco Cart"}
{"kind":"shift","id":"s1","worker_id":"w1","cart_id":"c1","clock_in":"2026-07-01T09:00:00Z","clock_out":"2026-07-01T17:00:00Z","starting_cash":5000,"ending_cash":8000,"created_at":"2026-07-01T09:00:00Z"}
{"kind":"settlement","id":"st1","shift_id":"s1","worker_id":"w1","cart_id":"c1","expected_cash":8000,"counted_cash":7850,"created_at":"2026-07-01T18:00:00Z"}
`

func writeExport(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "export.jsonl")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write export: %v", err)
	}
	return path
}

func setupImportStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	return st
}

func TestFromJSONL(t *testing.T) {
	path := writeExport(t, sampleExport)

	records, err := FromJSONL(path)
	if err != nil {
		t.Fatalf("FromJSONL failed: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(records))
	}
	if records[2].Kind != "shift" || records[2].EndingCash == nil || *records[2].EndingCash != 8000 {
		t.Errorf("shift record parsed wrong: %+v", records[2])
	}
}

func TestFromJSONLInvalidLine(t *testing.T) {
	path := writeExport(t, "{\"kind\":\"worker\",\"id\":\"w1\"}\nnot json\n")

	if _, err := FromJSONL(path); err == nil {
		t.Fatal("expected error for invalid JSON line")
	}
}

func TestImportWritesWithoutEnqueueing(t *testing.T) {
	st := setupImportStore(t)
	ctx := context.Background()

	result, err := Import(ctx, st, Options{FromJSONL: writeExport(t, sampleExport)})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected record errors: %v", result.Errors)
	}
	if result.ShiftsImported != 1 || result.SettlementsImported != 1 || result.DirectoryImported != 2 {
		t.Errorf("unexpected counts: %+v", result)
	}

	shift, err := st.GetShift(ctx, "s1")
	if err != nil {
		t.Fatalf("imported shift missing: %v", err)
	}
	if !shift.Closed() {
		t.Error("imported shift should be closed")
	}

	// Legacy rows never enter the outbox; the remote already has them.
	count, err := st.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount failed: %v", err)
	}
	if count != 0 {
		t.Errorf("import must not enqueue changes, got %d pending", count)
	}

	// The imported settlement carries its computed difference.
	diffs, err := st.CashDifferences(ctx, nil)
	if err != nil {
		t.Fatalf("CashDifferences failed: %v", err)
	}
	if len(diffs) != 1 || diffs[0].Settlement.Difference != -150 {
		t.Errorf("expected one -150 difference, got %v", diffs)
	}
}

func TestImportDryRunWritesNothing(t *testing.T) {
	st := setupImportStore(t)
	ctx := context.Background()

	result, err := Import(ctx, st, Options{FromJSONL: writeExport(t, sampleExport), DryRun: true})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.ShiftsImported != 1 || result.SettlementsImported != 1 || result.DirectoryImported != 2 {
		t.Errorf("dry run should still count records: %+v", result)
	}

	if _, err := st.GetShift(ctx, "s1"); err != store.ErrShiftNotFound {
		t.Errorf("dry run must not write, got %v", err)
	}
}

func TestImportCollectsRecordErrors(t *testing.T) {
	st := setupImportStore(t)

	content := `{"kind":"shift","id":"s-no-clockin","worker_id":"w1","cart_id":"c1","starting_cash":100,"created_at":"2026-07-01T09:00:00Z"}
{"kind":"mystery","id":"x"}
{"kind":"worker","id":"w1","name":"Ana"}
`
	result, err := Import(context.Background(), st, Options{FromJSONL: writeExport(t, content)})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if len(result.Errors) != 2 {
		t.Errorf("expected 2 record errors, got %v", result.Errors)
	}
	if result.DirectoryImported != 1 {
		t.Errorf("valid records should still import, got %+v", result)
	}
}
