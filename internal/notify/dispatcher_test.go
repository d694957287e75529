package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sydlexius/massaction/internal/event"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func completedEvent() event.Event {
	return event.Event{
		Type:      event.BatchCompleted,
		Timestamp: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		Data: map[string]any{
			"job_id":      "job-1",
			"status":      "completed",
			"itemtype":    "Computer",
			"action":      "MassiveAction:update",
			"total_items": 3,
			"ok":          2,
			"ko":          1,
			"noright":     0,
			"cancelled":   false,
		},
	}
}

func newTestDispatcher(srv *httptest.Server, urls ...string) *Dispatcher {
	d := NewDispatcherWithHTTPClient(urls, srv.Client(), testLogger())
	d.backoffUnit = time.Millisecond
	return d
}

func waitDeliveries(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Wait(ctx); err != nil {
		t.Fatalf("deliveries did not finish: %v", err)
	}
}

func TestDispatcher_GenericWebhook(t *testing.T) {
	var mu sync.Mutex
	var received map[string]any
	var userAgent string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		userAgent = r.UserAgent()
		json.NewDecoder(r.Body).Decode(&received) //nolint:errcheck
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newTestDispatcher(srv, srv.URL+"/hook")
	d.HandleEvent(completedEvent())
	waitDeliveries(t, d)

	mu.Lock()
	defer mu.Unlock()
	if received == nil {
		t.Fatal("expected to receive webhook payload")
	}
	if received["event"] != "batch.completed" {
		t.Errorf("event = %v, want batch.completed", received["event"])
	}
	data, _ := received["data"].(map[string]any)
	if data["job_id"] != "job-1" {
		t.Errorf("data = %v", data)
	}
	if !strings.HasPrefix(userAgent, "massaction-webhook/") {
		t.Errorf("User-Agent = %q", userAgent)
	}
}

func TestDispatcher_SubscribesToCompletedJobs(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	bus := event.NewBus(testLogger(), 16)
	go bus.Start()
	defer bus.Stop()

	d := newTestDispatcher(srv, srv.URL, srv.URL+"/second")
	unsub := d.Subscribe(bus)
	defer unsub()

	bus.Publish(event.Event{Type: event.BatchProgress, Data: map[string]any{"job_id": "x"}})
	bus.Publish(completedEvent())

	deadline := time.Now().Add(5 * time.Second)
	for hits.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	waitDeliveries(t, d)
	if got := hits.Load(); got != 2 {
		t.Errorf("hits = %d, want 2 (one per URL, progress ignored)", got)
	}
}

func TestDispatcher_RetryOn500(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newTestDispatcher(srv, srv.URL)
	d.HandleEvent(completedEvent())
	waitDeliveries(t, d)

	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestDispatcher_MaxAttempts(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := newTestDispatcher(srv, srv.URL)
	d.HandleEvent(completedEvent())
	waitDeliveries(t, d)

	if got := attempts.Load(); got != maxAttempts {
		t.Errorf("attempts = %d, want %d", got, maxAttempts)
	}
}

func TestDispatcher_SetURLs(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	d := newTestDispatcher(srv)
	d.HandleEvent(completedEvent())
	waitDeliveries(t, d)
	if hits.Load() != 0 {
		t.Fatal("no URLs configured, nothing should be sent")
	}

	d.SetURLs([]string{srv.URL})
	d.HandleEvent(completedEvent())
	waitDeliveries(t, d)
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
}

func TestKindOf(t *testing.T) {
	tests := map[string]string{
		"https://discord.com/api/webhooks/1/abc":          kindDiscord,
		"https://hooks.slack.com/services/T/B/x":          kindSlack,
		"https://gotify.example.org/message?token=secret": kindGotify,
		"https://example.org/hooks/massaction":            kindGeneric,
		"://bad":                                          kindGeneric,
	}
	for in, want := range tests {
		if got := kindOf(in); got != want {
			t.Errorf("kindOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatPayload(t *testing.T) {
	e := completedEvent()

	body, _ := formatPayload(kindDiscord, e)
	var discord struct {
		Embeds []struct {
			Description string `json:"description"`
			Color       int    `json:"color"`
		} `json:"embeds"`
	}
	if err := json.Unmarshal(body, &discord); err != nil {
		t.Fatal(err)
	}
	if len(discord.Embeds) != 1 {
		t.Fatalf("embeds = %d", len(discord.Embeds))
	}
	want := "Job job-1 (MassiveAction:update on Computer) completed: 2 ok, 1 ko, 0 noright of 3 items"
	if discord.Embeds[0].Description != want {
		t.Errorf("description = %q, want %q", discord.Embeds[0].Description, want)
	}
	if discord.Embeds[0].Color != 15105570 {
		t.Errorf("color = %d, want the failure color", discord.Embeds[0].Color)
	}

	body, _ = formatPayload(kindSlack, e)
	if !strings.Contains(string(body), "*Mass action: batch.completed*") {
		t.Errorf("slack body = %s", body)
	}

	body, _ = formatPayload(kindGotify, event.Event{Type: event.BatchCompleted, Data: map[string]any{"message": "hi"}})
	if !strings.Contains(string(body), `"message":"hi"`) {
		t.Errorf("gotify body = %s", body)
	}
}

func TestRedact(t *testing.T) {
	if got := redact("https://user:pw@gotify.example.org/message?token=secret"); strings.Contains(got, "secret") || strings.Contains(got, "pw") {
		t.Errorf("redact leaked credentials: %s", got)
	}
	if got := redact("https://discord.com/api/webhooks/1/abc"); got != "https://discord.com" {
		t.Errorf("redact = %q", got)
	}
}
