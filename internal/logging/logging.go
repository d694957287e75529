package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes the desired logging configuration.
type Config struct {
	Level          string `json:"level"`
	Format         string `json:"format"`
	FilePath       string `json:"file_path,omitempty"`
	FileMaxSizeMB  int    `json:"file_max_size_mb,omitempty"`
	FileMaxFiles   int    `json:"file_max_files,omitempty"`
	FileMaxAgeDays int    `json:"file_max_age_days,omitempty"`
}

// SwappableHandler is a thread-safe slog.Handler that delegates to an inner
// handler which can be atomically swapped at runtime. Handlers derived with
// WithAttrs or WithGroup keep following swaps on the root.
type SwappableHandler struct {
	root  *atomic.Pointer[slog.Handler]
	apply func(slog.Handler) slog.Handler
}

// NewSwappableHandler creates a SwappableHandler wrapping h.
func NewSwappableHandler(h slog.Handler) *SwappableHandler {
	p := &atomic.Pointer[slog.Handler]{}
	p.Store(&h)
	return &SwappableHandler{root: p}
}

// Swap replaces the inner handler for this handler and everything derived from it.
func (s *SwappableHandler) Swap(h slog.Handler) {
	s.root.Store(&h)
}

func (s *SwappableHandler) current() slog.Handler {
	h := *s.root.Load()
	if s.apply != nil {
		return s.apply(h)
	}
	return h
}

// Enabled delegates to the inner handler.
func (s *SwappableHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return s.current().Enabled(ctx, level)
}

// Handle delegates to the inner handler.
func (s *SwappableHandler) Handle(ctx context.Context, r slog.Record) error {
	return s.current().Handle(ctx, r)
}

// WithAttrs returns a handler that adds attrs on top of the current inner handler.
func (s *SwappableHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prev := s.apply
	return &SwappableHandler{root: s.root, apply: func(h slog.Handler) slog.Handler {
		if prev != nil {
			h = prev(h)
		}
		return h.WithAttrs(attrs)
	}}
}

// WithGroup returns a handler that opens a group on top of the current inner handler.
func (s *SwappableHandler) WithGroup(name string) slog.Handler {
	prev := s.apply
	return &SwappableHandler{root: s.root, apply: func(h slog.Handler) slog.Handler {
		if prev != nil {
			h = prev(h)
		}
		return h.WithGroup(name)
	}}
}

// Manager owns the logger lifecycle and supports runtime reconfiguration.
type Manager struct {
	levelVar *slog.LevelVar
	handler  *SwappableHandler
	console  io.Writer
	config   Config
	mu       sync.Mutex
	closer   io.Closer // lumberjack writer, if any
}

// NewManager creates a Manager writing to stdout and returns it along with
// a ready-to-use logger.
func NewManager(cfg Config) (*Manager, *slog.Logger) {
	return NewManagerWithWriter(cfg, os.Stdout)
}

// NewManagerWithWriter is NewManager with an explicit console writer. The
// CLI passes os.Stderr so command output stays clean.
func NewManagerWithWriter(cfg Config, console io.Writer) (*Manager, *slog.Logger) {
	lvl := &slog.LevelVar{}
	lvl.Set(parseLevel(cfg.Level))

	inner, closer := buildHandler(cfg, console, lvl)

	m := &Manager{
		levelVar: lvl,
		handler:  NewSwappableHandler(inner),
		console:  console,
		config:   cfg,
		closer:   closer,
	}
	return m, slog.New(m.handler)
}

// Reconfigure applies a new configuration at runtime. Level-only changes
// are instant via LevelVar; format or output changes rebuild the handler.
func (m *Manager) Reconfigure(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.levelVar.Set(parseLevel(cfg.Level))

	if !m.config.sameOutput(cfg) {
		if m.closer != nil {
			m.closer.Close() //nolint:errcheck
			m.closer = nil
		}
		inner, closer := buildHandler(cfg, m.console, m.levelVar)
		m.handler.Swap(inner)
		m.closer = closer
	}

	m.config = cfg
}

// Config returns the current configuration snapshot.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Close releases resources (e.g. the log file writer).
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closer != nil {
		err := m.closer.Close()
		m.closer = nil
		return err
	}
	return nil
}

func (c Config) sameOutput(o Config) bool {
	return c.Format == o.Format &&
		c.FilePath == o.FilePath &&
		c.FileMaxSizeMB == o.FileMaxSizeMB &&
		c.FileMaxFiles == o.FileMaxFiles &&
		c.FileMaxAgeDays == o.FileMaxAgeDays
}

// parseLevel converts a string to slog.Level, defaulting to Info.
func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FormatLevel converts a slog.Level to its string name.
func FormatLevel(l slog.Level) string {
	switch l {
	case slog.LevelDebug:
		return "debug"
	case slog.LevelWarn:
		return "warn"
	case slog.LevelError:
		return "error"
	default:
		return "info"
	}
}

// buildHandler returns the console handler in the configured format. When a
// file path is set, records also fan out to a rotating JSON file and the
// lumberjack logger is returned as the closer.
func buildHandler(cfg Config, console io.Writer, leveler slog.Leveler) (slog.Handler, io.Closer) {
	opts := &slog.HandlerOptions{Level: leveler}

	var consoleHandler slog.Handler
	if cfg.Format == "text" {
		consoleHandler = slog.NewTextHandler(console, opts)
	} else {
		consoleHandler = slog.NewJSONHandler(console, opts)
	}

	if cfg.FilePath == "" {
		return consoleHandler, nil
	}

	lj := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    orDefault(cfg.FileMaxSizeMB, 100),
		MaxBackups: orDefault(cfg.FileMaxFiles, 3),
		MaxAge:     orDefault(cfg.FileMaxAgeDays, 30),
	}
	fileHandler := slog.NewJSONHandler(lj, opts)

	return slogmulti.Fanout(consoleHandler, fileHandler), lj
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// ValidLevel returns true if s is a recognized log level.
func ValidLevel(s string) bool {
	switch s {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// ValidFormat returns true if s is a recognized log format.
func ValidFormat(s string) bool {
	switch s {
	case "text", "json":
		return true
	}
	return false
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Level:          "info",
		Format:         "json",
		FileMaxSizeMB:  100,
		FileMaxFiles:   3,
		FileMaxAgeDays: 30,
	}
}

// String returns a human-readable summary of the config.
func (c Config) String() string {
	s := fmt.Sprintf("level=%s format=%s", c.Level, c.Format)
	if c.FilePath != "" {
		s += fmt.Sprintf(" file=%s max_size=%dMB max_files=%d max_age=%dd",
			c.FilePath, c.FileMaxSizeMB, c.FileMaxFiles, c.FileMaxAgeDays)
	}
	return s
}
