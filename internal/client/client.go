// Package client talks to a massaction bridge over HTTP. It backs the
// terminal console: action discovery, subform retrieval, chunk processing
// for the client-side batch engine and server-side job control.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sydlexius/massaction/internal/batch"
	"github.com/sydlexius/massaction/internal/massaction"
	"github.com/sydlexius/massaction/internal/schema"
)

// Options configure a Client.
type Options struct {
	// BridgeURL is the bridge's base URL including any base path.
	BridgeURL string
	// HostURL is the ITSM host, used to fetch action subforms directly.
	HostURL       string
	SessionToken  string
	AppToken      string
	SessionCookie string
}

// APIError is a non-success answer from the bridge.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bridge returned %d: %s", e.StatusCode, e.Message)
}

// Client calls the bridge API.
type Client struct {
	httpClient *http.Client
	opts       Options
	logger     *slog.Logger
}

var _ batch.Processor = (*Client)(nil)

// New creates a Client with default HTTP settings.
func New(opts Options, timeout time.Duration, logger *slog.Logger) *Client {
	return NewWithHTTPClient(opts, &http.Client{Timeout: timeout}, logger)
}

// NewWithHTTPClient creates a Client with a custom HTTP client (for testing).
func NewWithHTTPClient(opts Options, httpClient *http.Client, logger *slog.Logger) *Client {
	opts.BridgeURL = strings.TrimRight(opts.BridgeURL, "/")
	opts.HostURL = strings.TrimRight(opts.HostURL, "/")
	return &Client{
		httpClient: httpClient,
		opts:       opts,
		logger:     logger.With(slog.String("component", "bridge-client")),
	}
}

// ListItemTypes returns the item types the bridge accepts.
func (c *Client) ListItemTypes(ctx context.Context) ([]string, error) {
	var types []string
	if err := c.call(ctx, http.MethodGet, "/api/itemtypes", nil, &types); err != nil {
		return nil, fmt.Errorf("listing item types: %w", err)
	}
	return types, nil
}

// ListActions returns the actions available for itemType. Unknown types
// fail with massaction.ErrInvalidItemType.
func (c *Client) ListActions(ctx context.Context, itemType string, isDeleted, single bool) ([]massaction.ActionDescriptor, error) {
	q := url.Values{}
	q.Set("is_deleted", boolParam(isDeleted))
	q.Set("single", boolParam(single))
	var list massaction.ActionList
	err := c.call(ctx, http.MethodGet, "/api/available_actions/"+url.PathEscape(itemType)+"?"+q.Encode(), nil, &list)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Message == "Invalid item type" {
			return nil, massaction.ErrInvalidItemType
		}
		return nil, fmt.Errorf("listing actions: %w", err)
	}
	return list.Actions, nil
}

// FetchSubform asks the host to render the parameters of actionKey for the
// given items.
func (c *Client) FetchSubform(ctx context.Context, itemType string, ids []int, actionKey string) (string, error) {
	form := massaction.SubformValues(itemType, ids, actionKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.HostURL+massaction.SubformPath,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", &massaction.SubformFetchError{Cause: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.opts.SessionCookie != "" && c.opts.SessionToken != "" {
		req.AddCookie(&http.Cookie{Name: c.opts.SessionCookie, Value: c.opts.SessionToken})
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // URL constructed from operator config
	if err != nil {
		return "", &massaction.SubformFetchError{Cause: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &massaction.SubformFetchError{StatusCode: resp.StatusCode, Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &massaction.SubformFetchError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return string(body), nil
}

// Schema asks the bridge for the field schema of actionKey.
func (c *Client) Schema(ctx context.Context, itemType string, ids []int, actionKey string) ([]schema.Field, error) {
	body := map[string]any{"itemtype": itemType, "ids": ids, "action": actionKey}
	var fields []schema.Field
	if err := c.call(ctx, http.MethodPost, "/api/v1/schema", body, &fields); err != nil {
		return nil, fmt.Errorf("deriving schema: %w", err)
	}
	return fields, nil
}

// Specialize calls specialize_action.
func (c *Client) Specialize(ctx context.Context, req massaction.SpecializeRequest) (*massaction.SpecializeResponse, error) {
	var resp massaction.SpecializeResponse
	if err := c.call(ctx, http.MethodPost, "/api/specialize_action", req, &resp); err != nil {
		return nil, fmt.Errorf("specializing action: %w", err)
	}
	return &resp, nil
}

// ProcessChunk calls process_action. A 400 answer is the host engine
// rejecting the request and comes back as *massaction.EngineError.
func (c *Client) ProcessChunk(ctx context.Context, req massaction.ProcessRequest) (*massaction.Result, error) {
	var res massaction.Result
	if err := c.call(ctx, http.MethodPost, "/api/process_action", req, &res); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
			return nil, &massaction.EngineError{Message: apiErr.Message}
		}
		return nil, err
	}
	return &res, nil
}

// StartJob submits a server-side batch job.
func (c *Client) StartJob(ctx context.Context, req batch.StartRequest) (*batch.JobRecord, error) {
	var job batch.JobRecord
	if err := c.call(ctx, http.MethodPost, "/api/v1/batch/jobs", req, &job); err != nil {
		return nil, fmt.Errorf("starting job: %w", err)
	}
	return &job, nil
}

// GetJob returns a server-side job with its chunk log.
func (c *Client) GetJob(ctx context.Context, id string) (*batch.JobDetail, error) {
	var job batch.JobDetail
	if err := c.call(ctx, http.MethodGet, "/api/v1/batch/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return &job, nil
}

// ListJobs returns recent server-side jobs.
func (c *Client) ListJobs(ctx context.Context, limit int) ([]batch.JobRecord, error) {
	path := "/api/v1/batch/jobs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var jobs []batch.JobRecord
	if err := c.call(ctx, http.MethodGet, path, nil, &jobs); err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, nil
}

// CancelJob requests cancellation of a running server-side job.
func (c *Client) CancelJob(ctx context.Context, id string) error {
	if err := c.call(ctx, http.MethodPost, "/api/v1/batch/jobs/"+url.PathEscape(id)+"/cancel", nil, nil); err != nil {
		return fmt.Errorf("cancelling job: %w", err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.opts.BridgeURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.opts.SessionToken != "" {
		req.Header.Set("Session-Token", c.opts.SessionToken)
	}
	if c.opts.AppToken != "" {
		req.Header.Set("App-Token", c.opts.AppToken)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // URL constructed from operator config
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

func boolParam(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
