package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sydlexius/massaction/internal/event"
	"github.com/sydlexius/massaction/internal/massaction"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newJob(t *testing.T, store *Store, ids ...int) *JobRecord {
	t.Helper()
	rec := &JobRecord{
		ItemType:    "Computer",
		ActionKey:   "MassiveAction:delete",
		BatchSize:   2,
		Concurrency: 2,
		IDs:         ids,
	}
	if err := store.CreateJob(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestExecutor_RunsAndPersists(t *testing.T) {
	store := NewStore(setupDB(t))
	bus := event.NewBus(testLogger(), 64)
	go bus.Start()
	defer bus.Stop()

	var mu sync.Mutex
	var seen []event.Type
	completed := make(chan event.Event, 1)
	for _, typ := range []event.Type{event.BatchStarted, event.BatchProgress} {
		bus.Subscribe(typ, func(e event.Event) {
			mu.Lock()
			seen = append(seen, e.Type)
			mu.Unlock()
		})
	}
	bus.Subscribe(event.BatchCompleted, func(e event.Event) { completed <- e })

	exec := NewExecutor(store, testLogger(), 2)
	exec.SetEventBus(bus)
	exec.SetRetryUnit(time.Millisecond)

	rec := newJob(t, store, 1, 2, 3)
	if err := exec.Start(context.Background(), rec, okProcessor(nil)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case e := <-completed:
		if e.Data["status"] != StatusCompleted {
			t.Errorf("completed event status = %v", e.Data["status"])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no completion event")
	}

	got, err := store.GetJob(context.Background(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusCompleted || got.OK != 3 || got.Processed != 3 {
		t.Errorf("unexpected persisted job: %+v", got)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Error("expected start and completion timestamps")
	}

	chunks, err := store.ListChunks(context.Background(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Errorf("expected 2 chunk rows, got %d", len(chunks))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 || seen[0] != event.BatchStarted {
		t.Errorf("expected started event first, got %v", seen)
	}
	if exec.Running() != 0 {
		t.Errorf("running = %d after completion", exec.Running())
	}
}

func TestExecutor_CancelAndLive(t *testing.T) {
	store := NewStore(setupDB(t))
	exec := NewExecutor(store, testLogger(), 1)

	release := make(chan struct{})
	proc := ProcessorFunc(func(ctx context.Context, req massaction.ProcessRequest) (*massaction.Result, error) {
		select {
		case <-release:
			return &massaction.Result{OK: len(req.Items["Computer"])}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	rec := newJob(t, store, 1, 2, 3, 4)
	if err := exec.Start(context.Background(), rec, proc); err != nil {
		t.Fatalf("Start: %v", err)
	}

	snap, ok := exec.Live(rec.ID)
	if !ok || snap.Total != 4 {
		t.Fatalf("Live = %+v, %v", snap, ok)
	}

	other := newJob(t, store, 9)
	if err := exec.Start(context.Background(), other, proc); !errors.Is(err, ErrTooManyJobs) {
		t.Errorf("expected ErrTooManyJobs, got %v", err)
	}

	if err := exec.Cancel(rec.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(release)

	waitFor(t, func() bool { return exec.Running() == 0 })

	got, err := store.GetJob(context.Background(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusCanceled || !got.Cancelled {
		t.Errorf("unexpected cancelled job: %+v", got)
	}
	if got.Processed >= 4 {
		t.Errorf("processed = %d, expected an incomplete run", got.Processed)
	}

	if err := exec.Cancel(rec.ID); !errors.Is(err, ErrJobNotRunning) {
		t.Errorf("second cancel err = %v, want ErrJobNotRunning", err)
	}
	if _, ok := exec.Live(rec.ID); ok {
		t.Error("finished job should not be live")
	}
}

func TestExecutor_StartValidation(t *testing.T) {
	store := NewStore(setupDB(t))
	exec := NewExecutor(store, testLogger(), 1)

	rec := newJob(t, store)
	if err := exec.Start(context.Background(), rec, okProcessor(nil)); !errors.Is(err, ErrNoItems) {
		t.Errorf("expected ErrNoItems, got %v", err)
	}
	if exec.Running() != 0 {
		t.Error("rejected job must not be tracked")
	}
}

func TestExecutor_Shutdown(t *testing.T) {
	store := NewStore(setupDB(t))
	exec := NewExecutor(store, testLogger(), 1)

	proc := ProcessorFunc(func(ctx context.Context, _ massaction.ProcessRequest) (*massaction.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	rec := newJob(t, store, 1, 2)
	if err := exec.Start(context.Background(), rec, proc); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	got, _ := store.GetJob(context.Background(), rec.ID)
	if got.Status != StatusCanceled {
		t.Errorf("status after shutdown = %s", got.Status)
	}
}

func TestJobRecord_AdvanceIgnoresStaleSnapshots(t *testing.T) {
	rec := &JobRecord{TotalItems: 6}
	if !rec.advance(Snapshot{Processed: 4, OK: 4}) {
		t.Fatal("newer snapshot rejected")
	}
	if rec.advance(Snapshot{Processed: 2, OK: 2}) {
		t.Error("stale snapshot applied")
	}
	if rec.Processed != 4 || rec.OK != 4 {
		t.Errorf("record = processed %d ok %d, want 4/4", rec.Processed, rec.OK)
	}
	if !rec.advance(Snapshot{Processed: 4, OK: 4, Errors: []string{"chunk 2 aborted"}}) {
		t.Error("same-progress snapshot rejected")
	}
	if len(rec.Errors) != 1 {
		t.Errorf("errors = %v", rec.Errors)
	}
}
