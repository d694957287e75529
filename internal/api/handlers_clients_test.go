package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/sydlexius/massaction/internal/auth"
	"github.com/sydlexius/massaction/internal/backup"
	"github.com/sydlexius/massaction/internal/event"
	"github.com/sydlexius/massaction/internal/maintenance"
)

func TestClients_CRUD(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/clients",
		`{"name":"office","ipv4_range_start":"10.0.0.1","ipv4_range_end":"10.0.0.9","with_app_token":true}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d; body: %s", w.Code, w.Body.String())
	}
	var created struct {
		ID       string `json:"id"`
		AppToken string `json:"app_token"`
	}
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if !strings.HasPrefix(created.AppToken, auth.AppTokenPrefix) {
		t.Errorf("app_token = %q", created.AppToken)
	}

	w = env.do(t, http.MethodPost, "/api/v1/clients", `{"name":"office"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/v1/clients", `{"name":"bad","ipv4_range_start":"10.0.0.9","ipv4_range_end":"10.0.0.1"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("inverted range status = %d, want 400", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/v1/clients", "")
	var clients []auth.Client
	if err := json.NewDecoder(w.Body).Decode(&clients); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(clients) != 2 {
		t.Errorf("clients = %d, want 2", len(clients))
	}
	if strings.Contains(w.Body.String(), created.AppToken) {
		t.Error("listing leaked the app token")
	}

	w = env.do(t, http.MethodPut, "/api/v1/clients/"+created.ID, `{"is_active":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d; body: %s", w.Code, w.Body.String())
	}
	var updated auth.Client
	if err := json.NewDecoder(w.Body).Decode(&updated); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if updated.IsActive {
		t.Error("client still active")
	}

	w = env.do(t, http.MethodPut, "/api/v1/clients/"+created.ID, `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing is_active status = %d, want 400", w.Code)
	}

	w = env.do(t, http.MethodDelete, "/api/v1/clients/"+created.ID, "")
	if w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", w.Code)
	}
	w = env.do(t, http.MethodDelete, "/api/v1/clients/"+created.ID, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}

func TestSettings_ToggleAPI(t *testing.T) {
	env := newTestEnv(t)
	changed := make(chan event.Event, 1)
	env.bus.Subscribe(event.SettingChanged, func(e event.Event) { changed <- e })

	w := env.do(t, http.MethodGet, "/api/v1/settings", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"api_enabled":true`) {
		t.Fatalf("get settings: %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPut, "/api/v1/settings", `{"api_enabled":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d; body: %s", w.Code, w.Body.String())
	}

	select {
	case e := <-changed:
		if e.Data["key"] != "api_enabled" || e.Data["value"] != false {
			t.Errorf("unexpected event data: %v", e.Data)
		}
	case <-time.After(2 * time.Second):
		t.Error("no setting.changed event")
	}

	// The switch now locks the API out, including its own settings route.
	w = env.do(t, http.MethodGet, "/api/v1/settings", "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if msg := decodeError(t, w); msg != "API disabled" {
		t.Errorf("error = %q, want API disabled", msg)
	}

	w = env.do(t, http.MethodPut, "/api/v1/settings", `{}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestSettings_RequiresField(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPut, "/api/v1/settings", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestMaintenanceEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.router.maintenance = maintenance.NewService(env.db, ":memory:", env.store, time.Hour, testLogger())

	w := env.do(t, http.MethodGet, "/api/v1/maintenance", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	var st maintenance.Status
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if st.PageSize <= 0 || st.Retention != "1h0m0s" {
		t.Errorf("unexpected status: %+v", st)
	}

	w = env.do(t, http.MethodPost, "/api/v1/maintenance/run", "")
	if w.Code != http.StatusOK {
		t.Fatalf("run status = %d; body: %s", w.Code, w.Body.String())
	}
	var res maintenance.RunResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if res.Pruned != 0 {
		t.Errorf("pruned = %d, want 0", res.Pruned)
	}

	w = env.do(t, http.MethodGet, "/api/v1/maintenance", "")
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if st.LastRunAt == "" {
		t.Error("run was not recorded")
	}
}

func TestBackupEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/maintenance/backups", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status without service = %d, want 503", w.Code)
	}

	env.router.backup = backup.NewService(env.db, t.TempDir(), 2, testLogger())

	w = env.do(t, http.MethodPost, "/api/v1/maintenance/backups", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d; body: %s", w.Code, w.Body.String())
	}
	var created backup.Info
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if !backup.ValidFilename(created.Filename) {
		t.Errorf("unexpected filename %q", created.Filename)
	}

	w = env.do(t, http.MethodGet, "/api/v1/maintenance/backups", "")
	var list []backup.Info
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(list) != 1 || list[0].Filename != created.Filename {
		t.Errorf("unexpected backups: %+v", list)
	}
}
