package batch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// timeLayout has a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrJobNotFound is returned when no job has the requested ID.
var ErrJobNotFound = errors.New("batch job not found")

// Store provides persistence for server-side batch jobs.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateJob assigns an ID and inserts a pending job.
func (s *Store) CreateJob(ctx context.Context, job *JobRecord) error {
	job.ID = uuid.New().String()
	job.Status = StatusPending
	job.CreatedAt = time.Now().UTC()
	if job.TotalItems == 0 {
		job.TotalItems = len(job.IDs)
	}

	data, err := json.Marshal(orEmptyMap(job.ActionData))
	if err != nil {
		return fmt.Errorf("encoding action data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO batch_jobs (id, status, item_type, action_key, action_data,
		                        batch_size, concurrency, total_items, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.Status, job.ItemType, job.ActionKey, string(data),
		job.BatchSize, job.Concurrency, job.TotalItems, job.CreatedBy,
		job.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("creating batch job: %w", err)
	}
	return nil
}

const jobColumns = `id, status, item_type, action_key, action_data, batch_size, concurrency,
	total_items, processed, ok, ko, noright, messages, errors, cancelled, created_by,
	created_at, started_at, completed_at`

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM batch_jobs WHERE id = ?`, id)
	return scanJob(row)
}

// ListJobs returns recent jobs ordered by creation time descending.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]JobRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM batch_jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing batch jobs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	jobs := []JobRecord{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning batch job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// UpdateJob writes a job's mutable fields.
func (s *Store) UpdateJob(ctx context.Context, job *JobRecord) error {
	messages, err := json.Marshal(orEmpty(job.Messages))
	if err != nil {
		return fmt.Errorf("encoding messages: %w", err)
	}
	errs, err := json.Marshal(orEmpty(job.Errors))
	if err != nil {
		return fmt.Errorf("encoding errors: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE batch_jobs
		SET status = ?, processed = ?, ok = ?, ko = ?, noright = ?,
		    messages = ?, errors = ?, cancelled = ?, started_at = ?, completed_at = ?
		WHERE id = ?
	`, job.Status, job.Processed, job.OK, job.KO, job.NoRight,
		string(messages), string(errs), job.Cancelled,
		formatTime(job.StartedAt), formatTime(job.CompletedAt), job.ID)
	if err != nil {
		return fmt.Errorf("updating batch job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// RecordChunk stores a chunk outcome.
func (s *Store) RecordChunk(ctx context.Context, c *ChunkRecord) error {
	if c.FinishedAt.IsZero() {
		c.FinishedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batch_job_chunks (job_id, chunk_index, item_count, outcome, attempts,
		                              ok, ko, noright, error, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id, chunk_index) DO UPDATE SET
		    outcome = excluded.outcome, attempts = excluded.attempts,
		    ok = excluded.ok, ko = excluded.ko, noright = excluded.noright,
		    error = excluded.error, finished_at = excluded.finished_at
	`, c.JobID, c.Index, c.ItemCount, c.Outcome, c.Attempts, c.OK, c.KO, c.NoRight,
		c.Error, c.FinishedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("recording batch chunk: %w", err)
	}
	return nil
}

// ListChunks returns a job's settled chunks ordered by index.
func (s *Store) ListChunks(ctx context.Context, jobID string) ([]ChunkRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, chunk_index, item_count, outcome, attempts, ok, ko, noright, error, finished_at
		FROM batch_job_chunks WHERE job_id = ? ORDER BY chunk_index
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("listing batch chunks: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	chunks := []ChunkRecord{}
	for rows.Next() {
		var c ChunkRecord
		var finishedAt string
		if err := rows.Scan(&c.JobID, &c.Index, &c.ItemCount, &c.Outcome, &c.Attempts,
			&c.OK, &c.KO, &c.NoRight, &c.Error, &finishedAt); err != nil {
			return nil, fmt.Errorf("scanning batch chunk: %w", err)
		}
		c.FinishedAt = parseTime(finishedAt)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// DeleteJob removes a job and its chunk log.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM batch_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting batch job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// MarkInterrupted flags jobs left pending or running by a previous process.
func (s *Store) MarkInterrupted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE batch_jobs SET status = ?, completed_at = ?
		WHERE status IN (?, ?)
	`, StatusInterrupted, time.Now().UTC().Format(timeLayout), StatusPending, StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("marking interrupted jobs: %w", err)
	}
	return res.RowsAffected()
}

// DeleteFinishedBefore removes finished jobs completed before cutoff.
func (s *Store) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM batch_jobs
		WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?
	`, StatusCompleted, StatusCanceled, StatusInterrupted, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("pruning batch jobs: %w", err)
	}
	return res.RowsAffected()
}

func scanJob(row interface{ Scan(...any) error }) (*JobRecord, error) {
	var job JobRecord
	var actionData, messages, errs, createdAt string
	var startedAt, completedAt sql.NullString

	err := row.Scan(&job.ID, &job.Status, &job.ItemType, &job.ActionKey, &actionData,
		&job.BatchSize, &job.Concurrency, &job.TotalItems, &job.Processed,
		&job.OK, &job.KO, &job.NoRight, &messages, &errs, &job.Cancelled,
		&job.CreatedBy, &createdAt, &startedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal([]byte(actionData), &job.ActionData); err != nil {
		return nil, fmt.Errorf("decoding action data: %w", err)
	}
	if err := json.Unmarshal([]byte(messages), &job.Messages); err != nil {
		return nil, fmt.Errorf("decoding messages: %w", err)
	}
	if err := json.Unmarshal([]byte(errs), &job.Errors); err != nil {
		return nil, fmt.Errorf("decoding errors: %w", err)
	}
	job.CreatedAt = parseTime(createdAt)
	if startedAt.Valid {
		t := parseTime(startedAt.String)
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		job.CompletedAt = &t
	}
	return &job, nil
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(timeLayout)
	return &s
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
