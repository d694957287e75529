package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sydlexius/massaction/internal/auth"
	"github.com/sydlexius/massaction/internal/batch"
	"github.com/sydlexius/massaction/internal/bridge"
	"github.com/sydlexius/massaction/internal/config"
	"github.com/sydlexius/massaction/internal/database"
	"github.com/sydlexius/massaction/internal/event"
	"github.com/sydlexius/massaction/internal/host"
	"github.com/sydlexius/massaction/internal/massaction"
)

const testSession = "sess-123"

// fakePlatform is an in-memory host. Every session token other than
// testSession is rejected.
type fakePlatform struct {
	mu         sync.Mutex
	rights     int
	formHTML   string
	processErr error
	block      chan struct{}
	processed  []host.ProcessInput
}

func (f *fakePlatform) ItemTypes(context.Context, host.Session) (host.ItemTypeLists, error) {
	return host.ItemTypeLists{
		Assets:    []string{"Computer", "Printer"},
		Documents: []string{"Computer"},
		Infocoms:  []string{"Monitor"},
	}, nil
}

func (f *fakePlatform) MassiveActions(_ context.Context, _ host.Session, itemType string, _, _ bool) ([]massaction.ActionDescriptor, error) {
	if itemType != "Computer" {
		return nil, massaction.ErrInvalidItemType
	}
	return []massaction.ActionDescriptor{
		{Key: "MassiveAction:update", Label: "Update"},
		{Key: "MassiveAction:purge", Label: "Delete permanently"},
		{Key: "Appliance:add_item", Label: "Add to an appliance"},
	}, nil
}

func (f *fakePlatform) ForbiddenActions(string) []string {
	return []string{"purge"}
}

func (f *fakePlatform) Specialize(_ context.Context, _ host.Session, in host.SpecializeInput) (*host.SpecializeOutput, error) {
	return &host.SpecializeOutput{
		FormHTML:  f.formHTML,
		Processor: massaction.Processor(in.Action),
		Items:     in.Items,
	}, nil
}

func (f *fakePlatform) Process(ctx context.Context, _ host.Session, in host.ProcessInput) (*massaction.Result, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	f.processed = append(f.processed, in)
	f.mu.Unlock()
	if f.processErr != nil {
		return nil, f.processErr
	}
	return &massaction.Result{OK: in.Items.Count(), Messages: []string{"done"}}, nil
}

func (f *fakePlatform) Session(_ context.Context, token string) (*host.SessionInfo, error) {
	if token != testSession {
		return nil, host.ErrSessionInvalid
	}
	return &host.SessionInfo{
		UserID:      2,
		UserName:    "glpi",
		ProfileID:   4,
		ProfileName: "Super-Admin",
		Rights:      map[string]int{auth.RightName: f.rights},
	}, nil
}

func (f *fakePlatform) processCalls() int {
	return len(f.calls())
}

func (f *fakePlatform) calls() []host.ProcessInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]host.ProcessInput(nil), f.processed...)
}

type testEnv struct {
	db       *sql.DB
	router   *Router
	handler  http.Handler
	platform *fakePlatform
	auth     *auth.Service
	store    *batch.Store
	executor *batch.Executor
	bus      *event.Bus
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestEnv builds a router over an in-memory database with one open API
// client and a session holding read and update rights.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck
	if err := database.Migrate(ctx, db, testLogger()); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	authSvc := auth.NewService(db)
	if _, _, err := authSvc.CreateClient(ctx, auth.ClientInput{Name: "anywhere"}); err != nil {
		t.Fatalf("creating client: %v", err)
	}

	platform := &fakePlatform{rights: auth.RightRead | auth.RightUpdate}
	store := batch.NewStore(db)
	bus := event.NewBus(testLogger(), 64)
	go bus.Start()
	t.Cleanup(bus.Stop)

	exec := batch.NewExecutor(store, testLogger(), 2)
	exec.SetEventBus(bus)
	exec.SetRetryUnit(0)
	t.Cleanup(func() { _ = exec.Shutdown(context.Background()) })

	r := NewRouter(ctx, RouterDeps{
		AuthService:       authSvc,
		Bridge:            bridge.New(platform, testLogger()),
		Sessions:          platform,
		JobStore:          store,
		Executor:          exec,
		EventBus:          bus,
		Logger:            testLogger(),
		RequestsPerSecond: 1000,
		Burst:             1000,
		BatchDefaults:     config.BatchConfig{BatchSize: 2, Concurrency: 1},
	})
	return &testEnv{
		db:       db,
		router:   r,
		handler:  r.Handler(),
		platform: platform,
		auth:     authSvc,
		store:    store,
		executor: exec,
		bus:      bus,
	}
}

// do sends an authenticated request through the full handler chain.
func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Session-Token", testSession)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding error body %q: %v", w.Body.String(), err)
	}
	return resp["error"]
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want ok", resp["status"])
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestOpenAPISpec(t *testing.T) {
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/openapi", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var doc map[string]any
	if err := json.NewDecoder(w.Body).Decode(&doc); err != nil {
		t.Fatalf("openapi is not JSON: %v", err)
	}
	paths, _ := doc["paths"].(map[string]any)
	for _, p := range []string{"/api/process_action", "/api/v1/batch/jobs"} {
		if _, ok := paths[p]; !ok {
			t.Errorf("openapi document lacks %s", p)
		}
	}

	w = httptest.NewRecorder()
	env.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/openapi?yaml", nil))
	if ct := w.Header().Get("Content-Type"); ct != "application/x-yaml" {
		t.Errorf("Content-Type = %q, want application/x-yaml", ct)
	}
}

func TestRootRedirectsToConsole(t *testing.T) {
	env := newTestEnv(t)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/console/" {
		t.Errorf("got %d to %q, want 302 to /console/", w.Code, w.Header().Get("Location"))
	}
}

func TestUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/itemtypes", "/api/nope", "/console/"} {
		w := httptest.NewRecorder()
		env.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", path, w.Code)
		}
	}
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/does_not_exist", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if msg := decodeError(t, w); msg != "Not Found" {
		t.Errorf("error = %q, want Not Found", msg)
	}

	w = env.do(t, http.MethodGet, "/api/process_action", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", w.Code)
	}
	if msg := decodeError(t, w); msg != "Method Not Allowed" {
		t.Errorf("error = %q, want Method Not Allowed", msg)
	}
}

func TestItemTypes(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/itemtypes", "/api/ui/itsm-itemtypes"} {
		w := env.do(t, http.MethodGet, path, "")
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status = %d; body: %s", path, w.Code, w.Body.String())
		}
		var types []string
		if err := json.NewDecoder(w.Body).Decode(&types); err != nil {
			t.Fatalf("decoding: %v", err)
		}
		want := []string{"Computer", "Monitor", "Printer"}
		if strings.Join(types, ",") != strings.Join(want, ",") {
			t.Errorf("%s: types = %v, want %v", path, types, want)
		}
	}
}

func TestAvailableActions(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/available_actions/Computer?is_deleted=0&single=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	var list struct {
		Actions []massaction.ActionDescriptor `json:"actions"`
		Single  int                           `json:"single"`
		Count   int                           `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if list.Count != 2 || len(list.Actions) != 2 {
		t.Fatalf("expected forbidden purge to be dropped, got %+v", list.Actions)
	}
	if list.Single != 1 {
		t.Errorf("single = %d, want 1", list.Single)
	}
	if list.Actions[1].Category != "Appliance" {
		t.Errorf("category = %q, want Appliance", list.Actions[1].Category)
	}
}

func TestAvailableActions_UnknownType(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/available_actions/UnknownType", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if msg := decodeError(t, w); msg != "Invalid item type" {
		t.Errorf("error = %q, want Invalid item type", msg)
	}
}

func TestSpecializeAction(t *testing.T) {
	env := newTestEnv(t)
	env.platform.formHTML = `<input type="text" name="value">`

	w := env.do(t, http.MethodPost, "/api/specialize_action",
		`{"items":{"Computer":["3",1,3]},"action":"MassiveAction:update","is_deleted":0}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	var resp massaction.SpecializeResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if resp.FormHTML != env.platform.formHTML {
		t.Errorf("form_html = %q", resp.FormHTML)
	}
	if resp.DataForProcess["processor"] != "MassiveAction" || resp.DataForProcess["action"] != "MassiveAction:update" {
		t.Errorf("unexpected data_for_process: %v", resp.DataForProcess)
	}
}

func TestSpecializeAction_InvalidBody(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/specialize_action", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if msg := decodeError(t, w); msg != bridge.MsgNoItems {
		t.Errorf("error = %q, want %q", msg, bridge.MsgNoItems)
	}
}

func TestProcessAction(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/process_action",
		`{"items":{"Computer":[1,2]},"action":"MassiveAction:update","processor":"MassiveAction",
		  "action_data":{"field":"states_id","value":"2","items":"ignored"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	var res massaction.Result
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if res.OK != 2 {
		t.Errorf("ok = %d, want 2", res.OK)
	}
	in := env.platform.calls()[0]
	if in.Input["field"] != "states_id" {
		t.Errorf("action data not forwarded: %v", in.Input)
	}
	if _, ok := in.Input["items"]; ok {
		t.Error("structural key leaked from action_data")
	}
}

func TestProcessAction_NoItems(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/process_action", `{"items":{},"action":"MassiveAction:update","processor":"MassiveAction"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if msg := decodeError(t, w); msg != "No items provided" {
		t.Errorf("error = %q, want No items provided", msg)
	}
	if env.platform.processCalls() != 0 {
		t.Error("host should not be called without items")
	}
}

func TestProcessAction_EngineError(t *testing.T) {
	env := newTestEnv(t)
	env.platform.processErr = &massaction.EngineError{Message: "Action not allowed"}
	w := env.do(t, http.MethodPost, "/api/process_action",
		`{"items":{"Computer":[1]},"action":"MassiveAction:update","processor":"MassiveAction"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if msg := decodeError(t, w); msg != "Action not allowed" {
		t.Errorf("error = %q", msg)
	}
}

func TestProcessAction_HostUnreachable(t *testing.T) {
	env := newTestEnv(t)
	env.platform.processErr = errors.New("dial tcp: connection refused")
	w := env.do(t, http.MethodPost, "/api/process_action",
		`{"items":{"Computer":[1]},"action":"MassiveAction:update","processor":"MassiveAction"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
}

func TestSchema(t *testing.T) {
	env := newTestEnv(t)
	env.platform.formHTML = `<select name="field"><option value="1">Status</option></select>`

	w := env.do(t, http.MethodPost, "/api/v1/schema", `{"itemtype":"Computer","ids":[4],"action":"MassiveAction:update"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	var fields []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&fields); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(fields) != 1 || fields[0]["name"] != "field" {
		t.Errorf("unexpected fields: %v", fields)
	}
}

func TestAdminRoutesRequireUpdateRight(t *testing.T) {
	env := newTestEnv(t)
	env.platform.rights = auth.RightRead

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/clients"},
		{http.MethodPut, "/api/v1/settings"},
		{http.MethodPost, "/api/v1/maintenance/run"},
	} {
		w := env.do(t, tc.method, tc.path, `{}`)
		if w.Code != http.StatusForbidden {
			t.Errorf("%s %s: status = %d, want 403", tc.method, tc.path, w.Code)
		}
	}
}

func TestMaintenance_NotConfigured(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/maintenance", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestNormalizeBasePath(t *testing.T) {
	tests := map[string]string{
		"":     "",
		"/":    "",
		"/ma/": "/ma",
		"ma":   "/ma",
		"/a/b": "/a/b",
	}
	for in, want := range tests {
		if got := normalizeBasePath(in); got != want {
			t.Errorf("normalizeBasePath(%q) = %q, want %q", in, got, want)
		}
	}
}
