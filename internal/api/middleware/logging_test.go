package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLogging_RecordsStatusAndScrubs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.WriteHeader(http.StatusOK) // ignored by net/http, must not be logged
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/available_actions/Computer?is_deleted=0&session_token=abc", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if !strings.Contains(out, `"status":400`) {
		t.Errorf("expected status 400 in log, got %s", out)
	}
	if strings.Contains(out, "abc") {
		t.Errorf("session token leaked into log: %s", out)
	}
	if !strings.Contains(out, "session_token=REDACTED") {
		t.Errorf("expected redacted query, got %s", out)
	}
}

func TestScrubQuery(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"is_deleted=1&single=0", "is_deleted=1&single=0"},
		{"app_token=x&limit=5", "app_token=REDACTED&limit=5"},
		{"flag", "flag"},
	}
	for _, tt := range tests {
		if got := scrubQuery(tt.in); got != tt.want {
			t.Errorf("scrubQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStatusWriter_HijackUnsupported(t *testing.T) {
	sw := &statusWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	if _, _, err := sw.Hijack(); err == nil {
		t.Error("expected error when the underlying writer cannot hijack")
	}
}
