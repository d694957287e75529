// Package watcher reloads the configuration file when it changes on disk
// and hands the new configuration to the components that can apply it live.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sydlexius/massaction/internal/config"
	"github.com/sydlexius/massaction/internal/event"
)

// ApplyFunc receives each successfully reloaded configuration.
type ApplyFunc func(cfg *config.Config)

// Service watches one configuration file.
type Service struct {
	path     string
	load     func(path string) (*config.Config, error)
	apply    []ApplyFunc
	eventBus *event.Bus
	logger   *slog.Logger
	debounce time.Duration
}

// NewService creates a watcher for the config file at path. eventBus may be
// nil.
func NewService(path string, eventBus *event.Bus, logger *slog.Logger, apply ...ApplyFunc) *Service {
	return &Service{
		path:     filepath.Clean(path),
		load:     config.Load,
		apply:    apply,
		eventBus: eventBus,
		logger:   logger.With("component", "config-watcher"),
		debounce: 500 * time.Millisecond,
	}
}

// SetDebounce overrides the default debounce interval (for testing).
func (s *Service) SetDebounce(d time.Duration) {
	s.debounce = d
}

// Start blocks until ctx is canceled. The file's directory is watched
// rather than the file, so editors that replace the file on save keep
// being followed.
func (s *Service) Start(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer w.Close() //nolint:errcheck

	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	s.logger.Info("config watcher starting", "path", s.path)

	// Debounce timer coalescing bursts of writes into one reload.
	// Starts stopped; reset on each relevant event.
	debounceTimer := time.NewTimer(0)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}
	defer debounceTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("config watcher stopping")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(s.debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("fsnotify error", "error", err)

		case <-debounceTimer.C:
			s.Reload()
		}
	}
}

// Reload reads the file and applies it. An unreadable or invalid file is
// logged and the running configuration is kept.
func (s *Service) Reload() {
	cfg, err := s.load(s.path)
	if err != nil {
		s.logger.Warn("config reload failed, keeping current configuration", "path", s.path, "error", err)
		return
	}
	for _, fn := range s.apply {
		fn(cfg)
	}
	s.logger.Info("configuration reloaded", "path", s.path)
	if s.eventBus != nil {
		s.eventBus.Publish(event.Event{
			Type: event.ConfigReloaded,
			Data: map[string]any{"path": s.path},
		})
	}
}
