package sync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"path/filepath"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cartworks/tally/internal/model"
	"github.com/cartworks/tally/internal/store"
)

// fakeRemote is an in-memory RemoteClient that records every push and
// serves canned pull responses.
type fakeRemote struct {
	mu         stdsync.Mutex
	pushes     []*model.PendingChange
	pushCounts map[string]int
	pushErr    error
	pushDelay  time.Duration

	pullDeltas     []model.Delta
	pullCheckpoint string
	pullErr        error
	pullDelay      time.Duration
	reachable      bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		pushCounts: make(map[string]int),
		reachable:  true,
	}
}

func (f *fakeRemote) Push(ctx context.Context, change *model.PendingChange) error {
	if f.pushDelay > 0 {
		select {
		case <-time.After(f.pushDelay):
		case <-ctx.Done():
			return &TransientError{Err: ctx.Err()}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	cp := *change
	f.pushes = append(f.pushes, &cp)
	f.pushCounts[change.ID]++
	return nil
}

func (f *fakeRemote) Pull(ctx context.Context, since string) ([]model.Delta, string, error) {
	if f.pullDelay > 0 {
		select {
		case <-time.After(f.pullDelay):
		case <-ctx.Done():
			return nil, "", &TransientError{Err: ctx.Err()}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pullErr != nil {
		return nil, "", f.pullErr
	}
	cp := f.pullCheckpoint
	if cp == "" {
		cp = since
	}
	return f.pullDeltas, cp, nil
}

func (f *fakeRemote) Probe(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reachable
}

func (f *fakeRemote) pushedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.pushes))
	for i, p := range f.pushes {
		ids[i] = p.ID
	}
	return ids
}

func setupCoordinator(t *testing.T, remote RemoteClient) (*Coordinator, *store.Store) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Logger = log.New(io.Discard, "", 0)

	return New(st, remote, cfg), st
}

func enqueueShift(t *testing.T, st *store.Store, workerID string) *model.Shift {
	t.Helper()

	shift, err := st.ClockIn(context.Background(), workerID, "c1", 1000)
	if err != nil {
		t.Fatalf("ClockIn failed: %v", err)
	}
	return shift
}

func TestSyncPushesAndAcknowledges(t *testing.T) {
	remote := newFakeRemote()
	coord, st := setupCoordinator(t, remote)
	ctx := context.Background()

	enqueueShift(t, st, "w1")
	enqueueShift(t, st, "w2")

	out := coord.RequestSync(ctx, ReasonManual)
	if out.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%v)", out.Status, out.Err)
	}
	if out.Pushed != 2 {
		t.Errorf("expected 2 pushed, got %d", out.Pushed)
	}

	count, err := st.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected empty outbox after ack, got %d entries", count)
	}
}

func TestSyncPreservesPerEntityOrder(t *testing.T) {
	remote := newFakeRemote()
	coord, st := setupCoordinator(t, remote)
	ctx := context.Background()

	shift := enqueueShift(t, st, "w1")
	if _, err := st.ClockOut(ctx, shift.ID, 2000); err != nil {
		t.Fatalf("ClockOut failed: %v", err)
	}

	out := coord.RequestSync(ctx, ReasonManual)
	if out.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%v)", out.Status, out.Err)
	}

	remote.mu.Lock()
	defer remote.mu.Unlock()
	if len(remote.pushes) != 2 {
		t.Fatalf("expected 2 pushes, got %d", len(remote.pushes))
	}
	if remote.pushes[0].Op != model.OpCreate || remote.pushes[1].Op != model.OpUpdate {
		t.Errorf("expected create before update, got %s then %s",
			remote.pushes[0].Op, remote.pushes[1].Op)
	}
}

func TestSyncSingleFlight(t *testing.T) {
	remote := newFakeRemote()
	remote.pushDelay = 30 * time.Millisecond
	coord, st := setupCoordinator(t, remote)
	ctx := context.Background()

	enqueueShift(t, st, "w1")
	enqueueShift(t, st, "w2")

	const callers = 6
	var wg stdsync.WaitGroup
	outcomes := make([]Outcome, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = coord.RequestSync(ctx, ReasonProbe)
		}(i)
	}
	wg.Wait()

	// Concurrent callers fan in; no entry is ever pushed twice.
	remote.mu.Lock()
	for id, n := range remote.pushCounts {
		if n != 1 {
			t.Errorf("change %s pushed %d times", id, n)
		}
	}
	remote.mu.Unlock()

	for i, out := range outcomes {
		if out.Status == StatusFailed {
			t.Errorf("caller %d got failure: %v", i, out.Err)
		}
	}

	count, err := st.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected empty outbox, got %d entries", count)
	}
}

func TestSyncJoinedCallerHonorsContext(t *testing.T) {
	remote := newFakeRemote()
	remote.pushDelay = 200 * time.Millisecond
	coord, st := setupCoordinator(t, remote)

	enqueueShift(t, st, "w1")

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		close(started)
		coord.RequestSync(context.Background(), ReasonManual)
	}()
	t.Cleanup(func() { <-done })
	<-started
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	out := coord.RequestSync(ctx, ReasonForeground)
	if out.Status != StatusFailed {
		t.Fatalf("expected failed outcome for cancelled joiner, got %s", out.Status)
	}
	if !errors.Is(out.Err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", out.Err)
	}
}

func TestSyncPushFailureRetainsEntry(t *testing.T) {
	remote := newFakeRemote()
	remote.pushErr = &TransientError{Err: errors.New("connection reset")}
	coord, st := setupCoordinator(t, remote)
	ctx := context.Background()

	shift := enqueueShift(t, st, "w1")

	out := coord.RequestSync(ctx, ReasonManual)
	if out.Status != StatusPartial {
		t.Fatalf("expected partial status, got %s", out.Status)
	}
	if out.Pushed != 0 {
		t.Errorf("expected 0 pushed, got %d", out.Pushed)
	}

	// Entry survives with an incremented attempt counter.
	entries, err := st.PeekPartition(ctx, model.EntityShift, 0)
	if err != nil {
		t.Fatalf("PeekPartition failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected entry retained, got %d entries", len(entries))
	}
	if entries[0].EntityID != shift.ID {
		t.Errorf("retained entry references %s, want %s", entries[0].EntityID, shift.ID)
	}
	if entries[0].AttemptCount != 1 {
		t.Errorf("expected attempt count 1, got %d", entries[0].AttemptCount)
	}

	// Recovery: the remote comes back and the retry drains the entry.
	remote.mu.Lock()
	remote.pushErr = nil
	remote.mu.Unlock()

	out = coord.RequestSync(ctx, ReasonProbe)
	if out.Status != StatusSuccess || out.Pushed != 1 {
		t.Fatalf("expected successful retry with 1 push, got %s pushed=%d", out.Status, out.Pushed)
	}
}

func TestSyncRejectedEntryFlaggedAtCeiling(t *testing.T) {
	remote := newFakeRemote()
	remote.pushErr = &RejectedError{StatusCode: 422, Message: "schema mismatch"}
	coord, st := setupCoordinator(t, remote)
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.Logger = log.New(io.Discard, "", 0)
	cfg.AttemptCeiling = 2
	coord = New(st, remote, cfg)

	enqueueShift(t, st, "w1")

	// Two failed passes reach the ceiling.
	coord.RequestSync(ctx, ReasonManual)
	coord.RequestSync(ctx, ReasonManual)

	review, err := st.ReviewQueue(ctx)
	if err != nil {
		t.Fatalf("ReviewQueue failed: %v", err)
	}
	if len(review) != 1 {
		t.Fatalf("expected 1 flagged change, got %d", len(review))
	}
	if review[0].AttemptCount != 2 {
		t.Errorf("expected 2 attempts, got %d", review[0].AttemptCount)
	}

	// Flagged entries no longer hold up the pipeline.
	out := coord.RequestSync(ctx, ReasonProbe)
	if out.Status != StatusSuccess {
		t.Errorf("expected success once flagged entry left the partition, got %s", out.Status)
	}
}

func TestSyncTransientFailureNeverFlags(t *testing.T) {
	remote := newFakeRemote()
	remote.pushErr = &TransientError{Err: errors.New("timeout")}
	coord, st := setupCoordinator(t, remote)
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.Logger = log.New(io.Discard, "", 0)
	cfg.AttemptCeiling = 2
	coord = New(st, remote, cfg)

	enqueueShift(t, st, "w1")

	for i := 0; i < 4; i++ {
		coord.RequestSync(ctx, ReasonProbe)
	}

	review, err := st.ReviewQueue(ctx)
	if err != nil {
		t.Fatalf("ReviewQueue failed: %v", err)
	}
	if len(review) != 0 {
		t.Errorf("transient failures must not flag entries, got %d flagged", len(review))
	}
}

func TestSyncStalledPushBoundedByPartitionTimeout(t *testing.T) {
	remote := newFakeRemote()
	remote.pushDelay = 10 * time.Second // stalls until the deadline fires
	coord, st := setupCoordinator(t, remote)
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.Logger = log.New(io.Discard, "", 0)
	cfg.PartitionTimeout = 30 * time.Millisecond
	coord = New(st, remote, cfg)

	shift := enqueueShift(t, st, "w1")

	start := time.Now()
	out := coord.RequestSync(ctx, ReasonManual)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("stalled push held the pass for %s", elapsed)
	}
	if out.Status != StatusPartial {
		t.Fatalf("expected partial status, got %s (%v)", out.Status, out.Err)
	}

	// The entry survives the timeout with its attempt recorded.
	entries, err := st.PeekPartition(ctx, model.EntityShift, 0)
	if err != nil {
		t.Fatalf("PeekPartition failed: %v", err)
	}
	if len(entries) != 1 || entries[0].EntityID != shift.ID {
		t.Fatalf("expected entry retained, got %v", entries)
	}
	if entries[0].AttemptCount != 1 {
		t.Errorf("expected attempt count 1, got %d", entries[0].AttemptCount)
	}

	// The gate is released: a fresh request runs a new pass immediately
	// instead of joining a wedged one.
	out = coord.RequestSync(ctx, ReasonProbe)
	if out.Status != StatusPartial {
		t.Fatalf("expected a fresh partial pass, got %s", out.Status)
	}
	entries, err = st.PeekPartition(ctx, model.EntityShift, 0)
	if err != nil {
		t.Fatalf("PeekPartition failed: %v", err)
	}
	if len(entries) != 1 || entries[0].AttemptCount != 2 {
		t.Errorf("second pass should record a second attempt, got %v", entries)
	}
}

func TestSyncStalledPullBoundedByPartitionTimeout(t *testing.T) {
	remote := newFakeRemote()
	remote.pullDelay = 10 * time.Second
	coord, st := setupCoordinator(t, remote)
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.Logger = log.New(io.Discard, "", 0)
	cfg.PartitionTimeout = 30 * time.Millisecond
	coord = New(st, remote, cfg)

	start := time.Now()
	out := coord.RequestSync(ctx, ReasonManual)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("stalled pull held the pass for %s", elapsed)
	}
	if out.Status != StatusFailed {
		t.Fatalf("expected failed status, got %s", out.Status)
	}

	cp, err := st.PullCheckpoint(ctx)
	if err != nil {
		t.Fatalf("PullCheckpoint failed: %v", err)
	}
	if cp != "" {
		t.Errorf("checkpoint must not advance past a stalled pull, got %q", cp)
	}

	// Gate released: the next request gets its own pass and outcome.
	if out := coord.RequestSync(ctx, ReasonProbe); out.Status != StatusFailed {
		t.Errorf("expected a fresh failed pass, got %s", out.Status)
	}
}

func TestSyncPullFailureKeepsAcksButNotCheckpoint(t *testing.T) {
	remote := newFakeRemote()
	remote.pullErr = &TransientError{Err: errors.New("gateway timeout")}
	coord, st := setupCoordinator(t, remote)
	ctx := context.Background()

	enqueueShift(t, st, "w1")

	out := coord.RequestSync(ctx, ReasonManual)
	if out.Status != StatusFailed {
		t.Fatalf("expected failed status on pull error, got %s", out.Status)
	}
	if out.Pushed != 1 {
		t.Errorf("push phase should have completed, pushed=%d", out.Pushed)
	}

	// Acknowledged pushes stay acknowledged.
	count, err := st.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount failed: %v", err)
	}
	if count != 0 {
		t.Errorf("acked entries must stay removed, got %d pending", count)
	}

	// But the checkpoint did not move.
	cp, err := st.PullCheckpoint(ctx)
	if err != nil {
		t.Fatalf("PullCheckpoint failed: %v", err)
	}
	if cp != "" {
		t.Errorf("checkpoint must not advance on pull failure, got %q", cp)
	}
}

func TestSyncAppliesDeltasAndAdvancesCheckpoint(t *testing.T) {
	remote := newFakeRemote()
	coord, st := setupCoordinator(t, remote)
	ctx := context.Background()

	now := time.Now().UTC()
	payload := mustMarshalShift(t, &model.Shift{
		ID: "remote-1", WorkerID: "w9", CartID: "c9",
		ClockIn: now, StartingCash: 700, CreatedAt: now, UpdatedAt: now,
	})
	remote.pullDeltas = []model.Delta{
		{EntityType: model.EntityShift, EntityID: "remote-1", Payload: payload},
	}
	remote.pullCheckpoint = "cursor-42"

	out := coord.RequestSync(ctx, ReasonColdStart)
	if out.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%v)", out.Status, out.Err)
	}
	if out.Pulled != 1 {
		t.Errorf("expected 1 pulled delta, got %d", out.Pulled)
	}

	if _, err := st.GetShift(ctx, "remote-1"); err != nil {
		t.Errorf("pulled shift missing: %v", err)
	}

	cp, err := st.PullCheckpoint(ctx)
	if err != nil {
		t.Fatalf("PullCheckpoint failed: %v", err)
	}
	if cp != "cursor-42" {
		t.Errorf("expected checkpoint cursor-42, got %q", cp)
	}
}

func TestSyncBroadcastsAfterCheckpointPersist(t *testing.T) {
	remote := newFakeRemote()
	remote.pullCheckpoint = "cursor-7"
	coord, st := setupCoordinator(t, remote)
	ctx := context.Background()

	var observed atomic.Value
	unsubscribe := coord.OnComplete(func() {
		cp, err := st.PullCheckpoint(ctx)
		if err != nil {
			t.Errorf("PullCheckpoint in listener failed: %v", err)
			return
		}
		observed.Store(cp)
	})
	defer unsubscribe()

	coord.RequestSync(ctx, ReasonManual)

	got, _ := observed.Load().(string)
	if got != "cursor-7" {
		t.Errorf("listener should observe the persisted checkpoint, got %q", got)
	}
}

func TestSyncBroadcastsEvenWhenNothingChanged(t *testing.T) {
	remote := newFakeRemote()
	coord, _ := setupCoordinator(t, remote)
	ctx := context.Background()

	var calls atomic.Int32
	unsubscribe := coord.OnComplete(func() { calls.Add(1) })
	defer unsubscribe()

	coord.RequestSync(ctx, ReasonProbe)
	coord.RequestSync(ctx, ReasonProbe)

	if calls.Load() != 2 {
		t.Errorf("expected 2 completion signals, got %d", calls.Load())
	}
}

func TestSyncLastOutcome(t *testing.T) {
	remote := newFakeRemote()
	coord, st := setupCoordinator(t, remote)
	ctx := context.Background()

	if _, _, ok := coord.LastOutcome(); ok {
		t.Error("LastOutcome should report ok=false before any pass")
	}

	enqueueShift(t, st, "w1")
	coord.RequestSync(ctx, ReasonColdStart)

	out, finished, ok := coord.LastOutcome()
	if !ok {
		t.Fatal("LastOutcome should report ok=true after a pass")
	}
	if out.Pushed != 1 || out.Reason != ReasonColdStart {
		t.Errorf("unexpected last outcome: %+v", out)
	}
	if finished.IsZero() {
		t.Error("finished timestamp should be set")
	}
}

func mustMarshalShift(t *testing.T, shift *model.Shift) []byte {
	t.Helper()

	payload, err := json.Marshal(shift)
	if err != nil {
		t.Fatalf("failed to marshal shift: %v", err)
	}
	return payload
}
