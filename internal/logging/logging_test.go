package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewManager_DefaultConfig(t *testing.T) {
	mgr, logger := NewManager(DefaultConfig())
	defer mgr.Close() //nolint:errcheck

	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	if mgr.Config().Level != "info" {
		t.Errorf("expected level info, got %s", mgr.Config().Level)
	}
}

func TestManager_LevelSwap(t *testing.T) {
	var buf bytes.Buffer
	mgr, logger := NewManagerWithWriter(Config{Level: "info", Format: "json"}, &buf)
	defer mgr.Close() //nolint:errcheck

	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug to be disabled")
	}

	mgr.Reconfigure(Config{Level: "debug", Format: "json"})
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug to be enabled after reconfigure")
	}

	mgr.Reconfigure(Config{Level: "error", Format: "json"})
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info to be disabled when level is error")
	}
}

func TestManager_DerivedLoggerFollowsFormatSwap(t *testing.T) {
	var buf bytes.Buffer
	mgr, logger := NewManagerWithWriter(Config{Level: "info", Format: "json"}, &buf)
	defer mgr.Close() //nolint:errcheck

	component := logger.With(slog.String("component", "batch"))
	component.Info("first")
	if !strings.Contains(buf.String(), `"component":"batch"`) {
		t.Fatalf("expected json output with component attr, got %q", buf.String())
	}

	buf.Reset()
	mgr.Reconfigure(Config{Level: "info", Format: "text"})
	component.Info("second")

	out := buf.String()
	if !strings.Contains(out, "component=batch") {
		t.Errorf("expected derived logger to switch to text, got %q", out)
	}
	if !strings.Contains(out, "msg=second") {
		t.Errorf("expected message in text output, got %q", out)
	}
}

func TestManager_FileFanout(t *testing.T) {
	var console bytes.Buffer
	logFile := filepath.Join(t.TempDir(), "test.log")

	mgr, logger := NewManagerWithWriter(Config{
		Level:          "info",
		Format:         "text",
		FilePath:       logFile,
		FileMaxSizeMB:  1,
		FileMaxFiles:   1,
		FileMaxAgeDays: 1,
	}, &console)

	logger.Info("hello from test")

	if err := mgr.Close(); err != nil {
		t.Fatalf("closing manager: %v", err)
	}

	if !strings.Contains(console.String(), "msg=\"hello from test\"") {
		t.Errorf("expected text record on console, got %q", console.String())
	}
	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello from test"`) {
		t.Errorf("expected json record in file, got %q", data)
	}
}

func TestManager_CloseIdempotent(t *testing.T) {
	mgr, _ := NewManager(DefaultConfig())
	if err := mgr.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := mgr.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestValidLevelAndFormat(t *testing.T) {
	for _, l := range []string{"debug", "info", "warn", "error"} {
		if !ValidLevel(l) {
			t.Errorf("expected %q to be valid", l)
		}
	}
	for _, l := range []string{"", "trace", "DEBUG"} {
		if ValidLevel(l) {
			t.Errorf("expected %q to be invalid", l)
		}
	}
	if !ValidFormat("text") || !ValidFormat("json") || ValidFormat("xml") {
		t.Error("unexpected format validation result")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in  string
		out slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"unknown", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.out {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.out)
		}
		if tt.in != "" && tt.in != "unknown" && FormatLevel(tt.out) != tt.in {
			t.Errorf("FormatLevel(%v) = %q, want %q", tt.out, FormatLevel(tt.out), tt.in)
		}
	}
}

func TestConfig_String(t *testing.T) {
	cfg := Config{Level: "info", Format: "json"}
	if s := cfg.String(); s != "level=info format=json" {
		t.Errorf("unexpected string: %s", s)
	}

	cfg.FilePath = "/var/log/massaction.log"
	cfg.FileMaxSizeMB = 50
	cfg.FileMaxFiles = 5
	cfg.FileMaxAgeDays = 7
	expected := "level=info format=json file=/var/log/massaction.log max_size=50MB max_files=5 max_age=7d"
	if s := cfg.String(); s != expected {
		t.Errorf("got %q, want %q", s, expected)
	}
}
