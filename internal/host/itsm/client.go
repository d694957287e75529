// Package itsm implements host.Platform over the ITSM platform's REST API
// and its massive action subform endpoint.
package itsm

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
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sydlexius/massaction/internal/host"
	"github.com/sydlexius/massaction/internal/massaction"
	"github.com/sydlexius/massaction/internal/metrics"
)

const apiPath = "/apirest.php"

// Options configure a Client.
type Options struct {
	BaseURL  string
	AppToken string
	// SessionCookie names the cookie carrying the session on the web
	// endpoints. When empty only the Session-Token header is sent.
	SessionCookie     string
	RequestsPerSecond float64
	Forbidden         map[string][]string
}

// Client talks to an ITSM host.
type Client struct {
	httpClient *http.Client
	baseURL    string
	appToken   string
	cookie     string
	forbidden  map[string][]string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

var _ host.Platform = (*Client)(nil)

// New creates a client with default HTTP settings.
func New(opts Options, timeout time.Duration, logger *slog.Logger) *Client {
	return NewWithHTTPClient(opts, &http.Client{Timeout: timeout}, logger)
}

// NewWithHTTPClient creates a client with a custom HTTP client (for testing).
func NewWithHTTPClient(opts Options, httpClient *http.Client, logger *slog.Logger) *Client {
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		appToken:   opts.AppToken,
		cookie:     opts.SessionCookie,
		forbidden:  opts.Forbidden,
		limiter:    rate.NewLimiter(limit, max(1, int(opts.RequestsPerSecond))),
		logger:     logger.With(slog.String("integration", "itsm")),
	}
}

// ItemTypes reads the configured type lists from the host configuration.
func (c *Client) ItemTypes(ctx context.Context, s host.Session) (host.ItemTypeLists, error) {
	var cfg glpiConfig
	if err := c.getJSON(ctx, s, "itemtypes", "/getGlpiConfig", &cfg); err != nil {
		return host.ItemTypeLists{}, fmt.Errorf("getting host config: %w", err)
	}
	return host.ItemTypeLists{
		Assets:      cfg.CfgGLPI.ProjectAssetTypes,
		Documents:   cfg.CfgGLPI.DocumentTypes,
		Consumables: cfg.CfgGLPI.ConsumablesTypes,
		Infocoms:    cfg.CfgGLPI.InfocomTypes,
	}, nil
}

// MassiveActions lists the actions the host offers for itemType.
func (c *Client) MassiveActions(ctx context.Context, s host.Session, itemType string, isDeleted, single bool) ([]massaction.ActionDescriptor, error) {
	q := url.Values{}
	q.Set("is_deleted", flag(isDeleted))
	if single {
		q.Set("single", "1")
	}
	var raw []massiveAction
	err := c.getJSON(ctx, s, "actions", "/getMassiveActions/"+url.PathEscape(itemType)+"?"+q.Encode(), &raw)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			switch apiErr.Code {
			case codeUnknownType, codeItemNotFound:
				return nil, massaction.ErrInvalidItemType
			case codeSessionInvalid, codeSessionMissing:
				return nil, host.ErrSessionInvalid
			}
			return nil, &massaction.ActionsUnavailableError{ItemType: itemType}
		}
		return nil, fmt.Errorf("listing massive actions: %w", err)
	}

	actions := make([]massaction.ActionDescriptor, 0, len(raw))
	for _, a := range raw {
		actions = append(actions, massaction.NewActionDescriptor(a.Key, a.Label))
	}
	return actions, nil
}

// ForbiddenActions returns the configured forbidden keys for itemType.
func (c *Client) ForbiddenActions(itemType string) []string {
	out := append([]string{}, c.forbidden[itemType]...)
	if short := massaction.ShortTypeName(itemType); short != itemType {
		out = append(out, c.forbidden[short]...)
	}
	return append(out, c.forbidden["*"]...)
}

// Specialize checks the action against the selection, then renders its
// parameter form through the subform endpoint.
func (c *Client) Specialize(ctx context.Context, s host.Session, in host.SpecializeInput) (*host.SpecializeOutput, error) {
	items := in.Items.Normalize()
	if items.Empty() {
		return nil, &host.StageError{Stage: host.StageInitial, Message: "No selected items"}
	}

	single := items.Count() == 1
	for _, itemType := range items.ItemTypes() {
		actions, err := c.MassiveActions(ctx, s, itemType, in.IsDeleted, single)
		if err != nil {
			if errors.Is(err, host.ErrSessionInvalid) {
				return nil, err
			}
			return nil, &host.StageError{Stage: host.StageInitial, Message: err.Error()}
		}
		if !offers(actions, in.Action) {
			return nil, &host.StageError{
				Stage:   host.StageSpecialize,
				Message: fmt.Sprintf("action %s is not available for %s", in.Action, itemType),
			}
		}
	}

	html, err := c.fetchSubform(ctx, s, items, in)
	if err != nil {
		return nil, &host.StageError{Stage: host.StageSpecialize, Message: err.Error()}
	}

	input := map[string]any{}
	if in.SpecializeItemType != "" {
		input["specialize_itemtype"] = in.SpecializeItemType
	}
	return &host.SpecializeOutput{
		FormHTML:  html,
		Processor: massaction.Processor(in.Action),
		Items:     items,
		Input:     input,
	}, nil
}

func offers(actions []massaction.ActionDescriptor, key string) bool {
	for _, a := range actions {
		if a.Key == key {
			return true
		}
	}
	return false
}

func (c *Client) fetchSubform(ctx context.Context, s host.Session, items massaction.Selection, in host.SpecializeInput) (string, error) {
	types := items.ItemTypes()
	form := massaction.SubformValues(types[0], items[types[0]], in.Action)
	for _, itemType := range types[1:] {
		for k, v := range massaction.SubformValues(itemType, items[itemType], in.Action) {
			if strings.HasPrefix(k, "items[") || strings.HasPrefix(k, "initial_items[") {
				form[k] = v
			}
		}
	}
	if in.IsDeleted {
		form.Set("is_deleted", "1")
	}
	if in.SpecializeItemType != "" {
		form.Set("specialize_itemtype", in.SpecializeItemType)
	}

	status, body, err := c.do(ctx, s, "subform", http.MethodPost, c.baseURL+massaction.SubformPath,
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()), true)
	if err != nil {
		return "", &massaction.SubformFetchError{Cause: err}
	}
	if status < 200 || status >= 300 {
		return "", &massaction.SubformFetchError{StatusCode: status, Body: string(body)}
	}
	return string(body), nil
}

// Process applies the action to each item type of the selection and sums
// the results.
func (c *Client) Process(ctx context.Context, s host.Session, in host.ProcessInput) (*massaction.Result, error) {
	items := in.Items.Normalize()
	total := &massaction.Result{Messages: []string{}}

	for _, itemType := range items.ItemTypes() {
		input := make(map[string]any, len(in.Input)+4)
		for k, v := range in.Input {
			input[k] = v
		}
		input["action"] = in.Action
		input["processor"] = in.Processor
		input["is_deleted"] = massaction.Flag(in.IsDeleted)
		if len(in.InitialItems) > 0 {
			input["initial_items"] = in.InitialItems
		}

		res, err := c.apply(ctx, s, itemType, in.Action, applyRequest{IDs: items[itemType], Input: input})
		if err != nil {
			return nil, err
		}
		total.Add(*res)
	}
	return total, nil
}

func (c *Client) apply(ctx context.Context, s host.Session, itemType, action string, body applyRequest) (*massaction.Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	path := apiPath + "/applyMassiveAction/" + url.PathEscape(itemType) + "/" + url.PathEscape(action)
	status, respBody, err := c.do(ctx, s, "process", http.MethodPost, c.baseURL+path,
		"application/json", bytes.NewReader(payload), false)
	if err != nil {
		return nil, err
	}

	switch {
	// Partial success comes back as 207 and total failure as 422, both
	// with a result body.
	case status == http.StatusOK || status == http.StatusMultiStatus || status == http.StatusUnprocessableEntity:
		var raw applyResult
		if err := json.Unmarshal(respBody, &raw); err != nil {
			return nil, fmt.Errorf("decoding process result: %w", err)
		}
		res := &massaction.Result{OK: raw.OK, KO: raw.KO, NoRight: raw.NoRight, Messages: []string{}}
		for _, m := range raw.Messages {
			if text := messageText(m); text != "" {
				res.Messages = append(res.Messages, text)
			}
		}
		return res, nil
	case status == http.StatusUnauthorized:
		return nil, host.ErrSessionInvalid
	case status >= 400 && status < 500:
		apiErr := parseAPIError(status, respBody)
		return nil, &massaction.EngineError{Message: apiErr.Message}
	default:
		return nil, fmt.Errorf("unexpected status %d: %s", status, string(respBody))
	}
}

// Session resolves a session token to the user's active profile.
func (c *Client) Session(ctx context.Context, token string) (*host.SessionInfo, error) {
	var full fullSession
	if err := c.getJSON(ctx, host.Session{Token: token}, "session", "/getFullSession", &full); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			return nil, host.ErrSessionInvalid
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}

	info := &host.SessionInfo{
		UserID:   full.Session.UserID,
		UserName: full.Session.UserName,
		Rights:   map[string]int{},
	}
	if p := full.Session.ActiveProfile; p != nil {
		info.ProfileID = profileID(p)
		if name, ok := p["name"].(string); ok {
			info.ProfileName = name
		}
		info.Rights = profileRights(p)
	}
	return info, nil
}

func (c *Client) getJSON(ctx context.Context, s host.Session, op, path string, result any) error {
	status, body, err := c.do(ctx, s, op, http.MethodGet, c.baseURL+apiPath+path, "", nil, false)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return parseAPIError(status, body)
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// do sends one request through the rate limiter and returns the status and
// the full body. Web endpoints carry the session as a cookie.
func (c *Client) do(ctx context.Context, s host.Session, op, method, target, contentType string, body io.Reader, web bool) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	c.setAuth(req, s, web)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:gosec // URL constructed from trusted base + API path
	if err != nil {
		metrics.RecordHostRequest(op, 0)
		return 0, nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	metrics.RecordHostRequest(op, resp.StatusCode)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}
	c.logger.Debug("host request", "op", op, "status", resp.StatusCode, "duration", time.Since(start))
	return resp.StatusCode, data, nil
}

func (c *Client) setAuth(req *http.Request, s host.Session, web bool) {
	if c.appToken != "" {
		req.Header.Set("App-Token", c.appToken)
	}
	if s.Token == "" {
		return
	}
	if web && c.cookie != "" {
		req.AddCookie(&http.Cookie{Name: c.cookie, Value: s.Token})
		return
	}
	req.Header.Set("Session-Token", s.Token)
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
