// Package maintenance prunes finished batch jobs past their retention and
// keeps the SQLite file tidy, on a cron schedule or on demand.
package maintenance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	settingLastRunAt  = "maintenance.last_run_at"
	settingLastPruned = "maintenance.last_pruned"
)

// Status holds database maintenance status information.
type Status struct {
	DBFileSize  int64  `json:"db_file_size"`
	WALFileSize int64  `json:"wal_file_size"`
	PageCount   int64  `json:"page_count"`
	PageSize    int64  `json:"page_size"`
	LastRunAt   string `json:"last_run_at,omitempty"`
	LastPruned  int64  `json:"last_pruned"`
	Schedule    string `json:"schedule,omitempty"`
	NextRunAt   string `json:"next_run_at,omitempty"`
	Retention   string `json:"job_retention"`
}

// RunResult reports one maintenance pass.
type RunResult struct {
	Pruned   int64         `json:"pruned_jobs"`
	Duration time.Duration `json:"duration_ns"`
}

// JobPruner deletes finished jobs completed before a cutoff.
type JobPruner interface {
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service provides database maintenance operations.
type Service struct {
	db        *sql.DB
	dbPath    string
	jobs      JobPruner
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	running  bool
	schedule string
	sched    cron.Schedule
}

// NewService creates a maintenance service. A non-positive retention keeps
// jobs forever.
func NewService(db *sql.DB, dbPath string, jobs JobPruner, retention time.Duration, logger *slog.Logger) *Service {
	return &Service{
		db:        db,
		dbPath:    dbPath,
		jobs:      jobs,
		retention: retention,
		logger:    logger.With(slog.String("component", "maintenance")),
		now:       time.Now,
	}
}

// ErrRunning is returned when a maintenance pass is already in progress.
var ErrRunning = errors.New("maintenance is already running")

// Status returns current database maintenance status.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	st := &Status{Retention: s.retention.String()}

	if info, err := os.Stat(s.dbPath); err == nil {
		st.DBFileSize = info.Size()
	}
	if info, err := os.Stat(s.dbPath + "-wal"); err == nil {
		st.WALFileSize = info.Size()
	}

	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&st.PageCount); err != nil {
		return nil, fmt.Errorf("reading page_count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&st.PageSize); err != nil {
		return nil, fmt.Errorf("reading page_size: %w", err)
	}

	st.LastRunAt = s.getSetting(ctx, settingLastRunAt)
	if n, err := strconv.ParseInt(s.getSetting(ctx, settingLastPruned), 10, 64); err == nil {
		st.LastPruned = n
	}

	s.mu.Lock()
	st.Schedule = s.schedule
	if s.sched != nil {
		st.NextRunAt = s.sched.Next(s.now().UTC()).Format(time.RFC3339)
	}
	s.mu.Unlock()

	return st, nil
}

// Run prunes expired jobs and optimizes the database.
func (s *Service) Run(ctx context.Context) (*RunResult, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrRunning
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	start := s.now()
	res := &RunResult{}

	if s.retention > 0 && s.jobs != nil {
		cutoff := start.Add(-s.retention)
		n, err := s.jobs.DeleteFinishedBefore(ctx, cutoff)
		if err != nil {
			return nil, fmt.Errorf("pruning batch jobs: %w", err)
		}
		res.Pruned = n
		if n > 0 {
			s.logger.Info("pruned finished batch jobs",
				slog.Int64("count", n),
				slog.Time("cutoff", cutoff.UTC()))
		}
	}

	if err := s.Optimize(ctx); err != nil {
		return nil, err
	}

	res.Duration = s.now().Sub(start)
	now := s.now().UTC().Format(time.RFC3339)
	s.setSetting(ctx, settingLastRunAt, now)
	s.setSetting(ctx, settingLastPruned, strconv.FormatInt(res.Pruned, 10))
	return res, nil
}

// Optimize runs PRAGMA optimize followed by a WAL checkpoint.
func (s *Service) Optimize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("PRAGMA optimize: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("WAL checkpoint: %w", err)
	}
	s.logger.Debug("optimize complete")
	return nil
}

// Vacuum runs VACUUM to rebuild the database file.
func (s *Service) Vacuum(ctx context.Context) error {
	s.logger.Info("running VACUUM")
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("VACUUM: %w", err)
	}
	s.logger.Info("vacuum complete")
	return nil
}

// Start runs Run on a standard cron schedule ("@daily", "0 3 * * *") until
// ctx is canceled.
func (s *Service) Start(ctx context.Context, schedule string) error {
	spec, err := cron.ParseStandard(schedule)
	if err != nil {
		return fmt.Errorf("parsing maintenance schedule %q: %w", schedule, err)
	}

	s.mu.Lock()
	s.schedule, s.sched = schedule, spec
	s.mu.Unlock()

	c := cron.New(cron.WithLocation(time.UTC))
	c.Schedule(spec, cron.FuncJob(func() {
		if _, err := s.Run(ctx); err != nil {
			s.logger.Error("scheduled maintenance failed", slog.String("error", err.Error()))
		}
	}))
	c.Start()
	s.logger.Info("maintenance scheduler started", slog.String("schedule", schedule))

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		s.logger.Info("maintenance scheduler stopped")
	}()
	return nil
}

func (s *Service) getSetting(ctx context.Context, key string) string {
	var v string
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v); err != nil {
		return ""
	}
	return v
}

func (s *Service) setSetting(ctx context.Context, key, value string) {
	now := s.now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	if err != nil {
		s.logger.Warn("recording maintenance setting", slog.String("key", key), slog.String("error", err.Error()))
	}
}
