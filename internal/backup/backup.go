// Package backup snapshots the bridge database with VACUUM INTO and keeps
// only the newest snapshots.
package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	filePrefix = "massaction-"
	timeLayout = "20060102-150405"
)

// filePattern matches snapshot names: massaction-YYYYMMDD-HHMMSS.db
var filePattern = regexp.MustCompile(`^massaction-\d{8}-\d{6}\.db$`)

// ErrInProgress is returned when a snapshot is already being written.
var ErrInProgress = errors.New("a backup is already in progress")

// Info describes a snapshot file.
type Info struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Service writes and prunes snapshots.
type Service struct {
	db     *sql.DB
	dir    string
	keep   int
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewService creates a backup service writing to dir. keep below 1 keeps
// every snapshot.
func NewService(db *sql.DB, dir string, keep int, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		dir:    dir,
		keep:   keep,
		logger: logger.With(slog.String("component", "backup")),
		now:    time.Now,
	}
}

// Dir returns the snapshot directory.
func (s *Service) Dir() string { return s.dir }

// Create writes a snapshot and prunes the oldest ones beyond the keep
// count.
func (s *Service) Create(ctx context.Context) (*Info, error) {
	if !s.mu.TryLock() {
		return nil, ErrInProgress
	}
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	created := s.now().UTC().Truncate(time.Second)
	filename := filePrefix + created.Format(timeLayout) + ".db"
	dest := filepath.Join(s.dir, filename)
	if _, err := os.Stat(dest); err == nil {
		return nil, fmt.Errorf("backup %s already exists", filename)
	}

	s.logger.Info("starting backup", slog.String("dest", dest))
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return nil, fmt.Errorf("VACUUM INTO: %w", err)
	}

	fi, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("stat backup file: %w", err)
	}
	s.logger.Info("backup complete", slog.String("filename", filename), slog.Int64("size", fi.Size()))

	if n, err := s.prune(); err != nil {
		s.logger.Warn("backup prune failed", slog.Any("error", err))
	} else if n > 0 {
		s.logger.Info("pruned old backups", slog.Int("count", n))
	}

	return &Info{Filename: filename, Size: fi.Size(), CreatedAt: created}, nil
}

// List returns the snapshots, newest first.
func (s *Service) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Info{}, nil
		}
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	backups := []Info{}
	for _, entry := range entries {
		if entry.IsDir() || !filePattern.MatchString(entry.Name()) {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(entry.Name(), filePrefix), ".db")
		ts, err := time.Parse(timeLayout, stamp)
		if err != nil {
			ts = fi.ModTime()
		}
		backups = append(backups, Info{Filename: entry.Name(), Size: fi.Size(), CreatedAt: ts})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

func (s *Service) prune() (int, error) {
	if s.keep < 1 {
		return 0, nil
	}
	backups, err := s.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for i := s.keep; i < len(backups); i++ {
		if err := os.Remove(filepath.Join(s.dir, backups[i].Filename)); err != nil {
			s.logger.Warn("failed to remove old backup",
				slog.String("filename", backups[i].Filename),
				slog.Any("error", err))
			continue
		}
		removed++
	}
	return removed, nil
}

// ValidFilename reports whether name is a snapshot file name without any
// path component.
func ValidFilename(name string) bool {
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return filePattern.MatchString(name)
}
