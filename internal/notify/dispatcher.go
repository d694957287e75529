// Package notify posts batch job results to configured webhook URLs.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/sydlexius/massaction/internal/event"
	"github.com/sydlexius/massaction/internal/version"
)

const (
	maxAttempts    = 3
	requestTimeout = 10 * time.Second
)

// Dispatcher sends events to every configured webhook.
type Dispatcher struct {
	httpClient  *http.Client
	logger      *slog.Logger
	backoffUnit time.Duration

	mu   sync.RWMutex
	urls []string
	wg   sync.WaitGroup
}

// NewDispatcher creates a webhook dispatcher for urls.
func NewDispatcher(urls []string, logger *slog.Logger) *Dispatcher {
	return NewDispatcherWithHTTPClient(urls, &http.Client{Timeout: requestTimeout}, logger)
}

// NewDispatcherWithHTTPClient creates a dispatcher with a custom HTTP client (for testing).
func NewDispatcherWithHTTPClient(urls []string, httpClient *http.Client, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		httpClient:  httpClient,
		logger:      logger.With(slog.String("component", "notify")),
		backoffUnit: time.Second,
		urls:        slices.Clone(urls),
	}
}

// SetURLs replaces the webhook targets. Deliveries in flight keep their URL.
func (d *Dispatcher) SetURLs(urls []string) {
	d.mu.Lock()
	d.urls = slices.Clone(urls)
	d.mu.Unlock()
}

// URLs returns the current webhook targets.
func (d *Dispatcher) URLs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.urls)
}

// Subscribe registers the dispatcher for finished batch jobs and returns
// the unsubscribe function.
func (d *Dispatcher) Subscribe(bus *event.Bus) func() {
	return bus.Subscribe(event.BatchCompleted, d.HandleEvent)
}

// HandleEvent is an event.Handler that delivers e to every webhook.
func (d *Dispatcher) HandleEvent(e event.Event) {
	for _, u := range d.URLs() {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.deliver(u, e)
		}()
	}
}

// Wait blocks until pending deliveries finish or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) deliver(url string, e event.Event) {
	body, contentType := formatPayload(kindOf(url), e)

	var lastErr error
	for attempt := range maxAttempts {
		if attempt > 0 {
			time.Sleep(time.Duration(1<<uint(attempt-1)) * d.backoffUnit)
		}

		lastErr = d.send(url, body, contentType)
		if lastErr == nil {
			d.logger.Debug("webhook delivered",
				"url", redact(url),
				"event", string(e.Type),
				"attempt", attempt+1,
			)
			return
		}

		d.logger.Warn("webhook delivery failed",
			"url", redact(url),
			"event", string(e.Type),
			"attempt", attempt+1,
			"error", lastErr,
		)
	}

	d.logger.Error("webhook delivery exhausted retries",
		"url", redact(url),
		"event", string(e.Type),
		"error", lastErr,
	)
}

func (d *Dispatcher) send(url string, body []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", "massaction-webhook/"+version.Version)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()        //nolint:errcheck
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
