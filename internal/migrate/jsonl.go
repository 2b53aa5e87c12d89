// Package migrate imports legacy register-ledger exports into the local
// store. The legacy app exported one JSON record per line (JSONL), mixing
// shift and settlement rows distinguished by a kind field.
package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cartworks/tally/internal/model"
	"github.com/cartworks/tally/internal/store"
)

// Record is one line of a legacy ledger export.
type Record struct {
	Kind string `json:"kind"` // shift, settlement, worker, cart

	ID       string `json:"id"`
	WorkerID string `json:"worker_id,omitempty"`
	CartID   string `json:"cart_id,omitempty"`
	Name     string `json:"name,omitempty"`

	// Shift fields
	ClockIn      *time.Time `json:"clock_in,omitempty"`
	ClockOut     *time.Time `json:"clock_out,omitempty"`
	StartingCash int64      `json:"starting_cash,omitempty"`
	EndingCash   *int64     `json:"ending_cash,omitempty"`

	// Settlement fields
	ShiftID      string `json:"shift_id,omitempty"`
	ExpectedCash int64  `json:"expected_cash,omitempty"`
	CountedCash  int64  `json:"counted_cash,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Options contains configuration for the import.
type Options struct {
	FromJSONL string // Input JSONL file path
	DryRun    bool   // Preview without writing
}

// Result contains statistics about the import.
type Result struct {
	ShiftsImported      int
	SettlementsImported int
	DirectoryImported   int
	Errors              []string
}

// FromJSONL reads a legacy export and returns its parsed records.
func FromJSONL(jsonlPath string) ([]*Record, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(jsonlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	var records []*Record
	decoder := json.NewDecoder(file)
	lineNum := 0

	for {
		var rec Record
		if err := decoder.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum+1, err)
		}
		lineNum++
		records = append(records, &rec)
	}

	return records, nil
}

// Import writes legacy records into the store. Imported rows do not enter
// the outbox: the remote store already holds this data.
//
// Individual record failures are collected in the result, not fatal.
func Import(ctx context.Context, st *store.Store, opts Options) (*Result, error) {
	records, err := FromJSONL(opts.FromJSONL)
	if err != nil {
		return nil, err
	}

	result := &Result{}

	for i, rec := range records {
		if opts.DryRun {
			countRecord(result, rec.Kind)
			continue
		}

		if err := importRecord(ctx, st, rec); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", i+1, err))
			continue
		}
		countRecord(result, rec.Kind)
	}

	return result, nil
}

func countRecord(result *Result, kind string) {
	switch kind {
	case model.EntityShift:
		result.ShiftsImported++
	case model.EntitySettlement:
		result.SettlementsImported++
	case model.EntityWorker, model.EntityCart:
		result.DirectoryImported++
	}
}

func importRecord(ctx context.Context, st *store.Store, rec *Record) error {
	switch rec.Kind {
	case model.EntityShift:
		if rec.ClockIn == nil {
			return fmt.Errorf("shift %s has no clock_in", rec.ID)
		}
		return st.ImportShift(ctx, &model.Shift{
			ID:           rec.ID,
			WorkerID:     rec.WorkerID,
			CartID:       rec.CartID,
			ClockIn:      *rec.ClockIn,
			ClockOut:     rec.ClockOut,
			StartingCash: rec.StartingCash,
			EndingCash:   rec.EndingCash,
			CreatedAt:    rec.CreatedAt,
			UpdatedAt:    rec.CreatedAt,
		})

	case model.EntitySettlement:
		return st.ImportSettlement(ctx, &model.Settlement{
			ID:           rec.ID,
			ShiftID:      rec.ShiftID,
			WorkerID:     rec.WorkerID,
			CartID:       rec.CartID,
			ExpectedCash: rec.ExpectedCash,
			CountedCash:  rec.CountedCash,
			Difference:   rec.CountedCash - rec.ExpectedCash,
			CreatedAt:    rec.CreatedAt,
		})

	case model.EntityWorker:
		return st.UpsertWorker(ctx, &model.Worker{ID: rec.ID, Name: rec.Name})

	case model.EntityCart:
		return st.UpsertCart(ctx, &model.Cart{ID: rec.ID, Name: rec.Name})

	default:
		return fmt.Errorf("unknown record kind %q", rec.Kind)
	}
}
