package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sydlexius/massaction/internal/auth"
	"github.com/sydlexius/massaction/internal/batch"
	"github.com/sydlexius/massaction/internal/event"
	"github.com/sydlexius/massaction/internal/massaction"
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// streamSnapshot is the first message of a job stream.
const streamSnapshot event.Type = "batch.snapshot"

const (
	streamWriteWait  = 10 * time.Second
	streamPingPeriod = 30 * time.Second
)

// startJob creates and starts a server-side batch job for the caller.
func (r *Router) startJob(ctx context.Context, a *auth.Access, in batch.StartRequest) (*batch.JobRecord, error) {
	ids := massaction.UniqueIDs(in.IDs)
	if in.ItemType == "" || len(ids) == 0 {
		return nil, &massaction.EngineError{Message: "No items provided"}
	}
	if in.Action == "" {
		return nil, &massaction.EngineError{Message: "No action provided"}
	}
	rec := &batch.JobRecord{
		ItemType:    in.ItemType,
		ActionKey:   in.Action,
		ActionData:  in.ActionData,
		BatchSize:   orDefault(in.BatchSize, r.batchDefaults.BatchSize),
		Concurrency: orDefault(in.Concurrency, r.batchDefaults.Concurrency),
		CreatedBy:   a.Identity(),
		IDs:         ids,
		IsDeleted:   in.IsDeleted,
	}
	if err := r.jobStore.CreateJob(ctx, rec); err != nil {
		return nil, err
	}
	if err := r.executor.Start(ctx, rec, r.bridge.Processor(a)); err != nil {
		if delErr := r.jobStore.DeleteJob(ctx, rec.ID); delErr != nil {
			r.logger.Warn("removing unstarted job", slog.String("job_id", rec.ID), slog.String("error", delErr.Error()))
		}
		return nil, err
	}
	r.logger.Info("batch job started",
		slog.String("job_id", rec.ID),
		slog.String("item_type", rec.ItemType),
		slog.String("action", rec.ActionKey),
		slog.Int("items", len(ids)),
		slog.String("user", a.Identity()),
	)
	// The executor owns rec from here; hand out a fresh copy.
	return r.jobStore.GetJob(ctx, rec.ID)
}

// handleStartJob starts a server-side batch job.
// POST /api/v1/batch/jobs
func (r *Router) handleStartJob(w http.ResponseWriter, req *http.Request) {
	var body batch.StartRequest
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, req, http.StatusBadRequest, "invalid request body")
		return
	}
	a, _ := auth.FromContext(req.Context())
	job, err := r.startJob(req.Context(), a, body)
	if err != nil {
		r.writeJobError(w, req, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// handleListJobs returns recent jobs.
// GET /api/v1/batch/jobs?limit=20
func (r *Router) handleListJobs(w http.ResponseWriter, req *http.Request) {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	jobs, err := r.jobStore.ListJobs(req.Context(), limit)
	if err != nil {
		r.writeJobError(w, req, err)
		return
	}
	for i := range jobs {
		r.overlayLive(&jobs[i])
	}
	writeJSON(w, http.StatusOK, jobs)
}

// handleGetJob returns a job with its chunk log.
// GET /api/v1/batch/jobs/{id}
func (r *Router) handleGetJob(w http.ResponseWriter, req *http.Request) {
	detail, err := r.jobDetail(req.Context(), req.PathValue("id"))
	if err != nil {
		r.writeJobError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// handleCancelJob requests cooperative cancellation.
// POST /api/v1/batch/jobs/{id}/cancel
func (r *Router) handleCancelJob(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if err := r.executor.Cancel(id); err != nil {
		if errors.Is(err, batch.ErrJobNotRunning) {
			if _, getErr := r.jobStore.GetJob(req.Context(), id); errors.Is(getErr, batch.ErrJobNotFound) {
				err = getErr
			}
		}
		r.writeJobError(w, req, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// handleJobStream pushes job progress over a websocket until the job
// finishes or the client goes away.
// GET /api/v1/batch/jobs/{id}/stream
func (r *Router) handleJobStream(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	detail, err := r.jobDetail(req.Context(), id)
	if err != nil {
		r.writeJobError(w, req, err)
		return
	}

	conn, err := streamUpgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("job stream upgrade failed", slog.String("job_id", id), slog.String("error", err.Error()))
		return
	}
	defer conn.Close() //nolint:errcheck

	events := newJobEvents(id)
	unsubProgress := r.eventBus.Subscribe(event.BatchProgress, events.forward)
	defer unsubProgress()
	unsubDone := r.eventBus.Subscribe(event.BatchCompleted, events.forward)
	defer unsubDone()

	// Detect client close; the read side carries nothing else.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		return conn.WriteJSON(v) == nil
	}

	if !write(event.Event{Type: streamSnapshot, Timestamp: time.Now().UTC(), Data: map[string]any{"job": detail}}) {
		return
	}
	if detail.Finished() {
		r.closeStream(conn)
		return
	}
	// The job may have finished between the snapshot and the subscription.
	if _, live := r.executor.Live(id); !live {
		if rec, err := r.jobStore.GetJob(req.Context(), id); err == nil && rec.Finished() {
			write(event.Event{Type: event.BatchCompleted, Timestamp: time.Now().UTC(), Data: map[string]any{"job_id": id, "status": rec.Status}})
			r.closeStream(conn)
			return
		}
	}

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case e := <-events.progress:
			if !write(e) {
				return
			}
		case e := <-events.done:
			for _, p := range events.pending() {
				if !write(p) {
					return
				}
			}
			if write(e) {
				r.closeStream(conn)
			}
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-req.Context().Done():
			return
		}
	}
}

// jobEvents buffers bus events for one job stream. Progress events may be
// dropped for a slow reader since the next one supersedes them; the
// completion event has its own slot and is never dropped.
type jobEvents struct {
	id       string
	progress chan event.Event
	done     chan event.Event
}

func newJobEvents(id string) *jobEvents {
	return &jobEvents{
		id:       id,
		progress: make(chan event.Event, 16),
		done:     make(chan event.Event, 1),
	}
}

func (j *jobEvents) forward(e event.Event) {
	if jobID, _ := e.Data["job_id"].(string); jobID != j.id {
		return
	}
	ch := j.progress
	if e.Type == event.BatchCompleted {
		ch = j.done
	}
	select {
	case ch <- e:
	default:
	}
}

// pending drains the progress events still buffered.
func (j *jobEvents) pending() []event.Event {
	var out []event.Event
	for {
		select {
		case e := <-j.progress:
			out = append(out, e)
		default:
			return out
		}
	}
}

func (r *Router) closeStream(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
		time.Now().Add(streamWriteWait))
}

// jobDetail loads a job, its chunks and, while it runs, the live ETA.
func (r *Router) jobDetail(ctx context.Context, id string) (*batch.JobDetail, error) {
	rec, err := r.jobStore.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	r.overlayLive(rec)
	chunks, err := r.jobStore.ListChunks(ctx, id)
	if err != nil {
		return nil, err
	}
	return &batch.JobDetail{JobRecord: *rec, Chunks: chunks}, nil
}

// overlayLive refreshes a running job's ETA from the in-memory engine.
func (r *Router) overlayLive(rec *batch.JobRecord) {
	if rec.Status != batch.StatusRunning {
		return
	}
	if s, ok := r.executor.Live(rec.ID); ok {
		rec.ETASeconds = s.ETASeconds
	}
}

func (r *Router) writeJobError(w http.ResponseWriter, req *http.Request, err error) {
	status, msg := jobErrorStatus(err)
	if status >= http.StatusInternalServerError {
		r.logger.Error("batch job request failed", slog.String("path", req.URL.Path), slog.String("error", err.Error()))
	}
	writeError(w, req, status, msg)
}

// jobErrorStatus maps a batch job error to its HTTP status and message.
func jobErrorStatus(err error) (int, string) {
	var engineErr *massaction.EngineError
	switch {
	case errors.Is(err, batch.ErrJobNotFound):
		return http.StatusNotFound, "Job not found"
	case errors.Is(err, batch.ErrJobNotRunning):
		return http.StatusConflict, "Job is not running"
	case errors.Is(err, batch.ErrTooManyJobs):
		return http.StatusTooManyRequests, "Too many batch jobs running"
	case errors.Is(err, batch.ErrNoItems):
		return http.StatusBadRequest, "No items provided"
	case errors.Is(err, batch.ErrNoAction):
		return http.StatusBadRequest, "No action provided"
	case errors.As(err, &engineErr):
		return http.StatusBadRequest, engineErr.Message
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
