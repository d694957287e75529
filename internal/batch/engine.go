// Package batch runs a massive action over large item sets: it splits the
// selection into chunks, processes them with a small worker pool, retries
// transient failures and folds the partial results into one outcome.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sydlexius/massaction/internal/massaction"
	"github.com/sydlexius/massaction/internal/metrics"
)

const (
	// MaxWorkers caps the worker pool whatever concurrency is requested.
	MaxWorkers = 4
	// MaxRetries is the number of retries after a chunk's first attempt.
	MaxRetries = 3
	// DefaultRetryUnit is the backoff step: retry n waits n units.
	DefaultRetryUnit = 500 * time.Millisecond
)

// ErrNoItems is returned when a request selects no valid item.
var ErrNoItems = errors.New("no items provided")

// ErrNoAction is returned when a request names no action.
var ErrNoAction = errors.New("no action provided")

// Processor submits one chunk to the processing endpoint.
type Processor interface {
	ProcessChunk(ctx context.Context, req massaction.ProcessRequest) (*massaction.Result, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, req massaction.ProcessRequest) (*massaction.Result, error)

// ProcessChunk calls f.
func (f ProcessorFunc) ProcessChunk(ctx context.Context, req massaction.ProcessRequest) (*massaction.Result, error) {
	return f(ctx, req)
}

// Request describes one batch run.
type Request struct {
	ItemType   string
	IDs        []int
	ActionKey  string
	ActionData map[string]any
	IsDeleted  bool
}

// Options tune a run. Zero values pick the defaults.
type Options struct {
	BatchSize   int
	Concurrency int
	RetryUnit   time.Duration
	// OnChunk is called once per settled chunk, from the worker goroutine.
	OnChunk func(ChunkOutcome)
	// OnProgress is called after each settled chunk and once more when the
	// job finishes. Calls may come from several goroutines.
	OnProgress func(Snapshot)
}

func (o Options) workers(chunks int) int {
	n := o.Concurrency
	if n < 1 {
		n = 1
	}
	return min(n, MaxWorkers, max(chunks, 1))
}

// Engine starts batch jobs against a Processor.
type Engine struct {
	processor Processor
	logger    *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(processor Processor, logger *slog.Logger) *Engine {
	return &Engine{
		processor: processor,
		logger:    logger.With(slog.String("component", "batch-engine")),
	}
}

// Start validates req and runs it in the background. Cancelling ctx has
// the same effect as Job.Cancel.
func (e *Engine) Start(ctx context.Context, req Request, opts Options) (*Job, error) {
	ids := massaction.UniqueIDs(req.IDs)
	if req.ItemType == "" || len(ids) == 0 {
		return nil, ErrNoItems
	}
	if req.ActionKey == "" {
		return nil, ErrNoAction
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.RetryUnit == 0 {
		opts.RetryUnit = DefaultRetryUnit
	}
	req.IDs = ids

	jobCtx, cancel := context.WithCancel(ctx)
	j := &Job{
		req:     req,
		opts:    opts,
		chunks:  Partition(ids, opts.BatchSize),
		proc:    e.processor,
		logger:  e.logger.With(slog.String("item_type", req.ItemType), slog.String("action", req.ActionKey)),
		ctx:     jobCtx,
		cancel:  cancel,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	go j.run()
	return j, nil
}

// Run is Start followed by Wait.
func (e *Engine) Run(ctx context.Context, req Request, opts Options) (Snapshot, error) {
	j, err := e.Start(ctx, req, opts)
	if err != nil {
		return Snapshot{}, err
	}
	<-j.Done()
	return j.Snapshot(), nil
}

// Job is a running or finished batch.
type Job struct {
	req    Request
	opts   Options
	chunks []Chunk
	proc   Processor
	logger *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
	next      atomic.Int64

	started time.Time
	done    chan struct{}

	mu        sync.Mutex
	processed int
	result    massaction.Result
	errors    []string
	finished  time.Time
}

// Chunks returns the job's partition.
func (j *Job) Chunks() []Chunk { return j.chunks }

// Cancel requests cooperative cancellation: no chunk is claimed or retried
// afterwards and in-flight requests are aborted. Results already folded in
// are kept.
func (j *Job) Cancel() {
	j.cancelled.Store(true)
	j.cancel()
}

// Done is closed once every worker has stopped.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job finishes or ctx ends.
func (j *Job) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-j.done:
		return j.Snapshot(), nil
	case <-ctx.Done():
		return j.Snapshot(), ctx.Err()
	}
}

// Snapshot returns the job's current state.
func (j *Job) Snapshot() Snapshot {
	select {
	case <-j.done:
		return j.snapshot(true)
	default:
		return j.snapshot(false)
	}
}

func (j *Job) snapshot(final bool) Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	s := Snapshot{
		Total:     len(j.req.IDs),
		Processed: j.processed,
		OK:        j.result.OK,
		KO:        j.result.KO,
		NoRight:   j.result.NoRight,
		Messages:  append([]string{}, j.result.Messages...),
		Errors:    append([]string{}, j.errors...),
		Cancelled: j.cancelled.Load(),
		StartedAt: j.started,
	}

	end := time.Now()
	if final {
		s.Done = true
		end = j.finished
	}
	s.setTiming(end.Sub(j.started))
	return s
}

func (j *Job) run() {
	defer close(j.done)

	workers := j.opts.workers(len(j.chunks))
	j.logger.Debug("batch started", "items", len(j.req.IDs), "chunks", len(j.chunks), "workers", workers)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.work()
		}()
	}
	wg.Wait()

	if j.ctx.Err() != nil {
		j.cancelled.Store(true)
	}
	j.cancel()

	j.mu.Lock()
	j.finished = time.Now()
	j.mu.Unlock()

	final := j.snapshot(true)
	if j.opts.OnProgress != nil {
		j.opts.OnProgress(final)
	}
	j.logger.Debug("batch finished", "processed", final.Processed, "cancelled", final.Cancelled)
}

func (j *Job) work() {
	for {
		if j.stopping() {
			return
		}
		idx := int(j.next.Add(1) - 1)
		if idx >= len(j.chunks) {
			return
		}
		out := j.process(j.chunks[idx])
		j.settle(out)
	}
}

func (j *Job) stopping() bool {
	return j.cancelled.Load() || j.ctx.Err() != nil
}

// process runs one chunk through its attempts and records how long it took.
func (j *Job) process(c Chunk) ChunkOutcome {
	start := time.Now()
	out := j.attempt(c)
	out.Duration = time.Since(start)
	return out
}

func (j *Job) attempt(c Chunk) ChunkOutcome {
	req := j.chunkRequest(c)
	out := ChunkOutcome{Chunk: c}

	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			if !sleep(j.ctx, backoff(attempt, j.opts.RetryUnit)) {
				return j.aborted(out)
			}
		}
		if j.stopping() {
			return j.aborted(out)
		}

		out.Attempts++
		res, err := j.proc.ProcessChunk(j.ctx, req)
		if err == nil {
			out.Status = ChunkOK
			if res != nil {
				out.Result = *res
			}
			return out
		}
		if j.stopping() {
			return j.aborted(out)
		}

		lastErr = err
		if massaction.IsPermanent(err) {
			break
		}
		j.logger.Warn("chunk attempt failed", "chunk", c.Index, "attempt", out.Attempts, "error", err)
	}

	out.Status = ChunkFailed
	out.Err = &massaction.ChunkProcessingError{Chunk: c.Index, Attempts: out.Attempts, Cause: lastErr}
	return out
}

func (j *Job) aborted(out ChunkOutcome) ChunkOutcome {
	out.Status = ChunkAborted
	out.Err = fmt.Errorf("chunk %d aborted: %w", out.Chunk.Index, context.Canceled)
	return out
}

// settle folds one chunk outcome into the job. Failed chunks still count as
// processed so progress stays monotonic; aborted chunks do not.
func (j *Job) settle(out ChunkOutcome) {
	j.mu.Lock()
	switch out.Status {
	case ChunkOK:
		j.result.Add(out.Result)
		j.processed += len(out.Chunk.IDs)
	case ChunkFailed:
		j.errors = append(j.errors, out.Err.Error())
		j.processed += len(out.Chunk.IDs)
	case ChunkAborted:
		j.errors = append(j.errors, out.Err.Error())
	}
	j.mu.Unlock()

	metrics.RecordChunk(string(out.Status), len(out.Chunk.IDs), out.Attempts, out.Duration)
	if out.Status == ChunkFailed {
		j.logger.Error("chunk failed", "chunk", out.Chunk.Index, "attempts", out.Attempts, "error", out.Err)
	}

	if j.opts.OnChunk != nil {
		j.opts.OnChunk(out)
	}
	if j.opts.OnProgress != nil {
		j.opts.OnProgress(j.Snapshot())
	}
}

func (j *Job) chunkRequest(c Chunk) massaction.ProcessRequest {
	sel := massaction.Selection{j.req.ItemType: c.IDs}
	return massaction.ProcessRequest{
		Items:        sel,
		Action:       j.req.ActionKey,
		Processor:    massaction.Processor(j.req.ActionKey),
		InitialItems: sel,
		IsDeleted:    massaction.Flag(j.req.IsDeleted),
		ActionData:   j.req.ActionData,
	}
}

func backoff(attempt int, unit time.Duration) time.Duration {
	return time.Duration(attempt) * unit
}

// sleep waits for d or until ctx ends, reporting whether the full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
