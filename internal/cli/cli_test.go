package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sydlexius/massaction/internal/batch"
	"github.com/sydlexius/massaction/internal/massaction"
	"github.com/sydlexius/massaction/internal/schema"
)

const subformHTML = `<label for="v">New value</label><input id="v" type="text" name="value" required>
<label><input type="checkbox" name="notify" value="yes"> Notify</label>
<select name="mode"><option value="a">A</option><option value="b" selected>B</option></select>
<input type="hidden" name="_glpi_csrf_token" value="x">`

// fakeBridge serves the bridge API and the host's subform endpoint.
type fakeBridge struct {
	mu        sync.Mutex
	processed []massaction.ProcessRequest
	started   []batch.StartRequest
	cancelled []string
}

func (f *fakeBridge) calls() []massaction.ProcessRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]massaction.ProcessRequest(nil), f.processed...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func (f *fakeBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	job := batch.JobRecord{
		ID: "job-1", Status: batch.StatusCompleted, ItemType: "Computer", ActionKey: "MassiveAction:update",
		BatchSize: 2, Concurrency: 1, TotalItems: 3, Processed: 3, OK: 2, KO: 1,
		Messages: []string{"Item 3 is locked"}, CreatedBy: "glpi", CreatedAt: started,
		StartedAt: &started, CompletedAt: &started,
	}

	switch {
	case r.URL.Path == "/api/itemtypes":
		writeJSON(w, http.StatusOK, []string{"Computer", "Monitor"})

	case r.URL.Path == "/api/available_actions/Computer":
		writeJSON(w, http.StatusOK, massaction.ActionList{Actions: []massaction.ActionDescriptor{
			massaction.NewActionDescriptor("MassiveAction:update", "Update"),
			massaction.NewActionDescriptor("MassiveAction:delete", "Put in trashbin"),
			massaction.NewActionDescriptor("Appliance:add_item", "Associate to an appliance"),
		}})

	case strings.HasPrefix(r.URL.Path, "/api/available_actions/"):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid item type"})

	case r.URL.Path == massaction.SubformPath:
		w.Write([]byte(subformHTML)) //nolint:errcheck

	case r.URL.Path == "/api/v1/schema":
		fields, _ := schema.Extract(`<input type="text" name="comment">`)
		writeJSON(w, http.StatusOK, fields)

	case r.URL.Path == "/api/process_action":
		var req massaction.ProcessRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No items provided"})
			return
		}
		f.mu.Lock()
		f.processed = append(f.processed, req)
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, massaction.Result{OK: req.Items.Count()})

	case r.URL.Path == "/api/v1/batch/jobs" && r.Method == http.MethodPost:
		var req batch.StartRequest
		json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck
		f.mu.Lock()
		f.started = append(f.started, req)
		f.mu.Unlock()
		pending := job
		pending.Status = batch.StatusPending
		pending.Processed, pending.OK, pending.KO = 0, 0, 0
		writeJSON(w, http.StatusAccepted, pending)

	case r.URL.Path == "/api/v1/batch/jobs":
		writeJSON(w, http.StatusOK, []batch.JobRecord{job})

	case r.URL.Path == "/api/v1/batch/jobs/job-1":
		writeJSON(w, http.StatusOK, batch.JobDetail{JobRecord: job, Chunks: []batch.ChunkRecord{
			{JobID: "job-1", Index: 0, ItemCount: 2, Outcome: "ok", Attempts: 1, OK: 2},
			{JobID: "job-1", Index: 1, ItemCount: 1, Outcome: "failed", Attempts: 4, Error: "host unreachable"},
		}})

	case r.URL.Path == "/api/v1/batch/jobs/job-1/cancel":
		f.mu.Lock()
		f.cancelled = append(f.cancelled, "job-1")
		f.mu.Unlock()
		writeJSON(w, http.StatusAccepted, job)

	case strings.HasPrefix(r.URL.Path, "/api/v1/batch/jobs/"):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Job not found"})

	default:
		http.NotFound(w, r)
	}
}

// execute runs the command line against a fake bridge and returns stdout.
func execute(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand(&app{isTTY: func() bool { return false }})
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(append([]string{"--bridge", srv.URL, "--session-token", "sess"}, args...))
	err := root.Execute()
	return out.String(), err
}

func newFakeBridge(t *testing.T) (*fakeBridge, *httptest.Server) {
	t.Helper()
	fb := &fakeBridge{}
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)
	return fb, srv
}

func TestItemTypes(t *testing.T) {
	_, srv := newFakeBridge(t)
	out, err := execute(t, srv, "itemtypes")
	require.NoError(t, err)
	assert.Equal(t, "Computer\nMonitor\n", out)
}

func TestActions(t *testing.T) {
	_, srv := newFakeBridge(t)
	out, err := execute(t, srv, "actions", "Computer")
	require.NoError(t, err)
	assert.Contains(t, out, "MassiveAction:\n")
	assert.Contains(t, out, "Appliance:\n")
	assert.Contains(t, out, "Put in trashbin")

	_, err = execute(t, srv, "actions", "Nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid item type: Nope")
}

func TestSchema_FromHost(t *testing.T) {
	_, srv := newFakeBridge(t)
	out, err := execute(t, srv, "--host", srv.URL, "schema", "Computer", "MassiveAction:update", "--ids", "1,2")
	require.NoError(t, err)
	assert.Contains(t, out, "New value")
	assert.Contains(t, out, "notify")
	assert.NotContains(t, out, "_glpi_csrf_token")

	out, err = execute(t, srv, "--host", srv.URL, "schema", "Computer", "MassiveAction:update", "--ids", "1", "--json")
	require.NoError(t, err)
	var fields []schema.Field
	require.NoError(t, json.Unmarshal([]byte(out), &fields))
	require.Len(t, fields, 3)
	assert.Equal(t, "value", fields[0].Name)
	assert.True(t, fields[0].Required)
}

func TestSchema_ViaBridge(t *testing.T) {
	_, srv := newFakeBridge(t)
	out, err := execute(t, srv, "--host", "", "schema", "Computer", "MassiveAction:update", "--ids", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "comment")
}

func TestSchema_RequiresIDs(t *testing.T) {
	_, srv := newFakeBridge(t)
	_, err := execute(t, srv, "schema", "Computer", "MassiveAction:update", "--ids", "abc")
	require.Error(t, err)
}

func TestRun_Local(t *testing.T) {
	fb, srv := newFakeBridge(t)
	out, err := execute(t, srv, "--host", srv.URL, "run", "Computer", "MassiveAction:update",
		"--ids", "1,2,3;4 5,2", "--batch-size", "2", "--concurrency", "1",
		"--set", "value=new", "--set", "notify=true")
	require.NoError(t, err)

	calls := fb.calls()
	require.Len(t, calls, 3)
	var total int
	for _, c := range calls {
		total += c.Items.Count()
		assert.Equal(t, "MassiveAction", c.Processor)
		assert.Equal(t, "new", c.ActionData["value"])
		assert.Equal(t, "yes", c.ActionData["notify"])
		assert.Equal(t, "b", c.ActionData["mode"])
	}
	assert.Equal(t, 5, total)
	assert.Contains(t, out, "OK:              5")
	assert.Contains(t, out, "(3 batches)")
}

func TestRun_IDsFile(t *testing.T) {
	fb, srv := newFakeBridge(t)
	path := filepath.Join(t.TempDir(), "ids.txt")
	require.NoError(t, os.WriteFile(path, []byte("10\n11\nnot-an-id\n12\n"), 0o600))

	_, err := execute(t, srv, "--host", srv.URL, "run", "Computer", "MassiveAction:update",
		"--ids-file", path, "--set", "value=x")
	require.NoError(t, err)
	calls := fb.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []int{10, 11, 12}, calls[0].Items["Computer"])
}

func TestRun_Validation(t *testing.T) {
	fb, srv := newFakeBridge(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing required", []string{"--ids", "1"}, "please fill in all required action fields: value"},
		{"unknown field", []string{"--ids", "1", "--set", "nope=1"}, `unknown field "nope"`},
		{"bad boolean", []string{"--ids", "1", "--set", "value=x", "--set", "notify=maybe"}, "is not a boolean"},
		{"malformed set", []string{"--ids", "1", "--set", "value"}, "want name=value"},
		{"no ids", []string{"--ids", "zero"}, "no items provided"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--host", srv.URL, "run", "Computer", "MassiveAction:update"}, tt.args...)
			_, err := execute(t, srv, args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
	assert.Empty(t, fb.calls(), "nothing may be processed when validation fails")
}

func TestRun_Remote(t *testing.T) {
	fb, srv := newFakeBridge(t)
	out, err := execute(t, srv, "--host", srv.URL, "run", "Computer", "MassiveAction:update",
		"--ids", "1,2,3", "--set", "value=v", "--remote", "--batch-size", "2")
	require.NoError(t, err)

	require.Len(t, fb.started, 1)
	assert.Equal(t, []int{1, 2, 3}, fb.started[0].IDs)
	assert.Equal(t, 2, fb.started[0].BatchSize)
	assert.Equal(t, "v", fb.started[0].ActionData["value"])
	assert.Empty(t, fb.calls())
	assert.Contains(t, out, "job job-1")
	assert.Contains(t, out, "Item 3 is locked")
}

func TestJobs(t *testing.T) {
	fb, srv := newFakeBridge(t)

	out, err := execute(t, srv, "jobs")
	require.NoError(t, err)
	assert.Contains(t, out, "job-1")
	assert.Contains(t, out, "3/3")

	out, err = execute(t, srv, "jobs", "job-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Created by: glpi")
	assert.Contains(t, out, "Failed batches (1)")
	assert.Contains(t, out, "host unreachable")

	_, err = execute(t, srv, "jobs", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Job not found")

	out, err = execute(t, srv, "jobs", "cancel", "job-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Cancellation requested")
	assert.Equal(t, []string{"job-1"}, fb.cancelled)
}
