package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sydlexius/massaction/internal/event"
	"github.com/sydlexius/massaction/internal/metrics"
)

// ErrJobNotRunning is returned when cancelling a job that is not in flight.
var ErrJobNotRunning = errors.New("batch job is not running")

// ErrTooManyJobs is returned when the executor is at capacity.
var ErrTooManyJobs = errors.New("too many batch jobs running")

// Executor runs persisted batch jobs in the background and keeps their
// rows in sync with the live engine state.
type Executor struct {
	store      *Store
	logger     *slog.Logger
	eventBus   *event.Bus
	maxRunning int
	retryUnit  time.Duration

	mu      sync.Mutex
	running map[string]*Job
	wg      sync.WaitGroup
}

// NewExecutor creates an Executor that runs at most maxRunning jobs at once.
func NewExecutor(store *Store, logger *slog.Logger, maxRunning int) *Executor {
	if maxRunning < 1 {
		maxRunning = 1
	}
	return &Executor{
		store:      store,
		logger:     logger.With(slog.String("component", "batch-executor")),
		maxRunning: maxRunning,
		running:    make(map[string]*Job),
	}
}

// SetEventBus sets the event bus for publishing job events.
func (e *Executor) SetEventBus(bus *event.Bus) {
	e.eventBus = bus
}

// SetRetryUnit overrides the engine's backoff step.
func (e *Executor) SetRetryUnit(d time.Duration) {
	e.retryUnit = d
}

// Start runs rec with proc in the background. The job outlives ctx's
// cancellation; use Cancel to stop it.
func (e *Executor) Start(ctx context.Context, rec *JobRecord, proc Processor) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.running) >= e.maxRunning {
		return ErrTooManyJobs
	}

	var persistMu sync.Mutex
	// Progress waits until the job is marked running and announced.
	ready := make(chan struct{})
	opts := Options{
		BatchSize:   rec.BatchSize,
		Concurrency: rec.Concurrency,
		RetryUnit:   e.retryUnit,
		OnChunk: func(out ChunkOutcome) {
			e.recordChunk(rec.ID, out)
		},
		OnProgress: func(s Snapshot) {
			if s.Done {
				return
			}
			<-ready
			persistMu.Lock()
			defer persistMu.Unlock()
			if !rec.advance(s) {
				return
			}
			if err := e.store.UpdateJob(context.Background(), rec); err != nil {
				e.logger.Warn("persisting job progress", "job_id", rec.ID, "error", err)
			}
			e.publish(event.BatchProgress, rec)
		},
	}

	job, err := NewEngine(proc, e.logger).Start(context.WithoutCancel(ctx), Request{
		ItemType:   rec.ItemType,
		IDs:        rec.IDs,
		ActionKey:  rec.ActionKey,
		ActionData: rec.ActionData,
		IsDeleted:  rec.IsDeleted,
	}, opts)
	if err != nil {
		return fmt.Errorf("starting batch job: %w", err)
	}
	defer close(ready)

	now := time.Now().UTC()
	rec.Status = StatusRunning
	rec.StartedAt = &now
	rec.TotalItems = len(job.req.IDs)
	if err := e.store.UpdateJob(ctx, rec); err != nil {
		job.Cancel()
		return fmt.Errorf("marking job running: %w", err)
	}

	e.running[rec.ID] = job
	metrics.BatchJobsRunning.Inc()
	e.publish(event.BatchStarted, rec)

	e.wg.Add(1)
	go e.finish(rec, job, &persistMu)
	return nil
}

func (e *Executor) finish(rec *JobRecord, job *Job, persistMu *sync.Mutex) {
	defer e.wg.Done()
	<-job.Done()

	s := job.Snapshot()
	persistMu.Lock()
	rec.apply(s)
	rec.ETASeconds = nil
	now := time.Now().UTC()
	rec.CompletedAt = &now
	rec.Status = StatusCompleted
	if s.Cancelled {
		rec.Status = StatusCanceled
	}
	if err := e.store.UpdateJob(context.Background(), rec); err != nil {
		e.logger.Error("finishing batch job", "job_id", rec.ID, "error", err)
	}
	persistMu.Unlock()

	e.mu.Lock()
	delete(e.running, rec.ID)
	e.mu.Unlock()
	metrics.BatchJobsRunning.Dec()

	e.logger.Info("batch job finished",
		"job_id", rec.ID,
		"status", rec.Status,
		"processed", rec.Processed,
		"ok", rec.OK,
		"ko", rec.KO,
		"noright", rec.NoRight,
		"errors", len(rec.Errors),
	)
	e.publish(event.BatchCompleted, rec)
}

func (e *Executor) recordChunk(jobID string, out ChunkOutcome) {
	c := &ChunkRecord{
		JobID:     jobID,
		Index:     out.Chunk.Index,
		ItemCount: len(out.Chunk.IDs),
		Outcome:   string(out.Status),
		Attempts:  out.Attempts,
		OK:        out.Result.OK,
		KO:        out.Result.KO,
		NoRight:   out.Result.NoRight,
	}
	if out.Err != nil {
		c.Error = out.Err.Error()
	}
	if err := e.store.RecordChunk(context.Background(), c); err != nil {
		e.logger.Warn("recording chunk", "job_id", jobID, "chunk", out.Chunk.Index, "error", err)
	}
}

// Cancel requests cooperative cancellation of a running job.
func (e *Executor) Cancel(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	job, ok := e.running[id]
	if !ok {
		return ErrJobNotRunning
	}
	job.Cancel()
	return nil
}

// Live returns the in-memory snapshot of a running job.
func (e *Executor) Live(id string) (Snapshot, bool) {
	e.mu.Lock()
	job, ok := e.running[id]
	e.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return job.Snapshot(), true
}

// Running reports the number of jobs in flight.
func (e *Executor) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.running)
}

// Shutdown cancels every running job and waits for them to settle or for
// ctx to end.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	for _, job := range e.running {
		job.Cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) publish(t event.Type, rec *JobRecord) {
	if e.eventBus == nil {
		return
	}
	data := map[string]any{
		"job_id":          rec.ID,
		"status":          rec.Status,
		"itemtype":        rec.ItemType,
		"action":          rec.ActionKey,
		"total_items":     rec.TotalItems,
		"processed_items": rec.Processed,
		"ok":              rec.OK,
		"ko":              rec.KO,
		"noright":         rec.NoRight,
		"errors":          len(rec.Errors),
		"cancelled":       rec.Cancelled,
	}
	if rec.ETASeconds != nil {
		data["eta_seconds"] = *rec.ETASeconds
	}
	e.eventBus.Publish(event.Event{Type: t, Data: data})
}
