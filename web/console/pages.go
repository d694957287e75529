package console

import (
	"context"
	"encoding/json"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/a-h/templ"

	"github.com/sydlexius/massaction/internal/auth"
	"github.com/sydlexius/massaction/internal/batch"
	"github.com/sydlexius/massaction/internal/massaction"
	"github.com/sydlexius/massaction/internal/schema"
)

// MsgSchemaFailed is shown when an action's parameters cannot be derived.
const MsgSchemaFailed = "Failed to derive parameters"

// ItemTypesPage lists the item types massive actions can target.
func ItemTypesPage(p Page, types []string, errMsg string) templ.Component {
	p.Title = "Item types"
	return Layout(p, component(func(ctx context.Context, h *htmlWriter) {
		if errMsg != "" {
			h.render(ctx, ErrorBanner(errMsg))
		}
		h.raw(`<div class="card">`)
		if len(types) == 0 {
			h.raw(`<p>No item types available.</p></div>`)
			return
		}
		h.raw(`<ul>`)
		for _, t := range types {
			h.raw(`<li><a href="`, esc(p.URL("/console/actions/"+url.PathEscape(t))), `">`)
			h.text(massaction.ShortTypeName(t))
			h.raw(`</a> <small>`)
			h.text(t)
			h.raw(`</small></li>`)
		}
		h.raw(`</ul></div>`)
	}))
}

// ActionsView is the content of the action picker.
type ActionsView struct {
	ItemType string
	Actions  []massaction.ActionDescriptor
	IDs      string
	Action   string
	Error    string
}

// ActionsPage lets the operator pick an action and enter item IDs.
func ActionsPage(p Page, v ActionsView) templ.Component {
	p.Title = "Actions for " + massaction.ShortTypeName(v.ItemType)
	return Layout(p, component(func(ctx context.Context, h *htmlWriter) {
		if v.Error != "" {
			h.render(ctx, ErrorBanner(v.Error))
		}
		h.raw(`<form class="card" method="get" action="`, esc(p.URL("/console/params")), `">`)
		hidden(h, "itemtype", v.ItemType)
		h.raw(`<div class="field"><label for="action">Action</label><select id="action" name="action" required>`)
		h.raw(`<option value="">-----</option>`)
		category := ""
		for _, a := range v.Actions {
			if a.Category != category {
				if category != "" {
					h.raw(`</optgroup>`)
				}
				category = a.Category
				h.raw(`<optgroup label="`, esc(category), `">`)
			}
			h.raw(`<option value="`, esc(a.Key), `"`)
			if a.Key == v.Action {
				h.raw(` selected`)
			}
			h.raw(`>`)
			h.text(a.Label)
			h.raw(`</option>`)
		}
		if category != "" {
			h.raw(`</optgroup>`)
		}
		h.raw(`</select></div>`)
		h.raw(`<div class="field"><label for="ids">Item IDs</label>`,
			`<textarea id="ids" name="ids" placeholder="12, 15 18; 21">`)
		h.text(v.IDs)
		h.raw(`</textarea></div><button type="submit">Next</button></form>`)
	}))
}

// ParamsView is the content of the parameter form.
type ParamsView struct {
	ItemType string
	Action   string
	IDs      []int
	Fields   []schema.Field
	Values   schema.FormValues
	Missing  []string
	Error    string
}

// ParamsPage renders the parameter form derived from an action's subform.
// The field list travels with the form so the run step needs no second
// round trip to the host.
func ParamsPage(p Page, v ParamsView) templ.Component {
	p.Title = massaction.ActionName(v.Action)
	return Layout(p, component(func(ctx context.Context, h *htmlWriter) {
		if v.Error != "" {
			h.render(ctx, ErrorBanner(v.Error))
		}
		if len(v.Missing) > 0 {
			h.render(ctx, ErrorBanner("Please fill in all required action fields: "+strings.Join(v.Missing, ", ")))
		}

		h.raw(`<div class="card"><p>`)
		h.text(strconv.Itoa(len(v.IDs)) + " item(s) of type " + v.ItemType + ": " + truncateText(massaction.FormatIDs(v.IDs), 120))
		h.raw(`</p></div>`)

		fieldsJSON, err := json.Marshal(v.Fields)
		if err != nil {
			h.err = err
			return
		}

		h.raw(`<form class="card" method="post" action="`, esc(p.URL("/console/run")), `">`)
		csrfField(h, p.CSRF)
		hidden(h, "itemtype", v.ItemType)
		hidden(h, "action", v.Action)
		hidden(h, "ids", massaction.FormatIDs(v.IDs))
		hidden(h, "schema", string(fieldsJSON))

		if len(v.Fields) == 0 && v.Error == "" {
			h.raw(`<p>This action takes no parameters.</p>`)
		}
		values := v.Values
		if values == nil {
			values = schema.InitialValues(v.Fields)
		}
		for _, f := range v.Fields {
			renderField(h, f, values[f.Name], slices.Contains(v.Missing, f.Name))
		}
		h.raw(`<button type="submit">Run</button></form>`)
	}))
}

// JobsPage lists recent batch jobs.
func JobsPage(p Page, jobs []batch.JobRecord) templ.Component {
	p.Title = "Batch jobs"
	return Layout(p, component(func(_ context.Context, h *htmlWriter) {
		h.raw(`<div class="card">`)
		if len(jobs) == 0 {
			h.raw(`<p>No batch jobs yet.</p></div>`)
			return
		}
		h.raw(`<table><thead><tr><th>Job</th><th>Status</th><th>Item type</th><th>Action</th>`,
			`<th>Progress</th><th>Created</th><th>By</th></tr></thead><tbody>`)
		for _, j := range jobs {
			h.raw(`<tr><td><a href="`, esc(p.URL("/console/jobs/"+j.ID)), `">`)
			h.text(truncateText(j.ID, 8))
			h.raw(`</a></td><td class="status-`, esc(j.Status), `">`)
			h.text(statusLabel(j.Status))
			h.raw(`</td><td>`)
			h.text(massaction.ShortTypeName(j.ItemType))
			h.raw(`</td><td>`)
			h.text(j.ActionKey)
			h.raw(`</td><td>`)
			h.text(strconv.Itoa(j.Processed) + "/" + strconv.Itoa(j.TotalItems))
			h.raw(`</td><td>`)
			h.text(formatTime(&j.CreatedAt))
			h.raw(`</td><td>`)
			h.text(j.CreatedBy)
			h.raw(`</td></tr>`)
		}
		h.raw(`</tbody></table></div>`)
	}))
}

// JobPage shows a job's progress, aggregated counts, messages and errors.
// While the job runs the page reloads itself and offers a cancel button.
func JobPage(p Page, job *batch.JobDetail) templ.Component {
	p.Title = "Job " + truncateText(job.ID, 8)
	if !job.Finished() {
		p.Refresh = 2
	}
	return Layout(p, component(func(_ context.Context, h *htmlWriter) {
		h.raw(`<div class="card"><p><strong class="status-`, esc(job.Status), `">`)
		h.text(statusLabel(job.Status))
		h.raw(`</strong> `)
		h.text(job.ActionKey + " on " + job.ItemType)
		h.raw(`</p><progress max="100" value="`, percent(job.Processed, job.TotalItems), `"></progress><p>`)
		h.text(strconv.Itoa(job.Processed) + " of " + strconv.Itoa(job.TotalItems) + " items processed")
		if !job.Finished() {
			h.text(", ETA " + formatETA(job.ETASeconds))
		}
		h.raw(`</p><table><tbody>`)
		h.raw(`<tr><th>Succeeded</th><td>`, strconv.Itoa(job.OK), `</td></tr>`)
		h.raw(`<tr><th>Failed</th><td>`, strconv.Itoa(job.KO), `</td></tr>`)
		h.raw(`<tr><th>No right</th><td>`, strconv.Itoa(job.NoRight), `</td></tr>`)
		h.raw(`<tr><th>Started</th><td>`, esc(formatTime(job.StartedAt)), `</td></tr>`)
		h.raw(`<tr><th>Completed</th><td>`, esc(formatTime(job.CompletedAt)), `</td></tr>`)
		h.raw(`</tbody></table>`)
		if job.Status == batch.StatusRunning && !job.Cancelled {
			h.raw(`<form method="post" action="`, esc(p.URL("/console/jobs/"+job.ID+"/cancel")), `">`)
			csrfField(h, p.CSRF)
			h.raw(`<button type="submit">Cancel</button></form>`)
		}
		h.raw(`</div>`)

		textList(h, "Messages", job.Messages)
		textList(h, "Errors", job.Errors)

		if len(job.Chunks) > 0 {
			h.raw(`<div class="card"><h2>Chunks</h2><table><thead><tr><th>#</th><th>Items</th><th>Outcome</th>`,
				`<th>Attempts</th><th>OK</th><th>KO</th><th>No right</th><th>Error</th></tr></thead><tbody>`)
			for _, c := range job.Chunks {
				h.raw(`<tr><td>`, strconv.Itoa(c.Index), `</td><td>`, strconv.Itoa(c.ItemCount), `</td><td>`)
				h.text(outcomeLabel(c.Outcome))
				h.raw(`</td><td>`, strconv.Itoa(c.Attempts), `</td><td>`, strconv.Itoa(c.OK), `</td><td>`,
					strconv.Itoa(c.KO), `</td><td>`, strconv.Itoa(c.NoRight), `</td><td>`)
				h.text(c.Error)
				h.raw(`</td></tr>`)
			}
			h.raw(`</tbody></table></div>`)
		}
	}))
}

func textList(h *htmlWriter, title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	h.raw(`<div class="card"><h2>`)
	h.text(title)
	h.raw(`</h2><ul>`)
	for _, l := range lines {
		h.raw(`<li>`)
		h.text(l)
		h.raw(`</li>`)
	}
	h.raw(`</ul></div>`)
}

// SettingsView is the content of the settings page.
type SettingsView struct {
	APIEnabled bool
	Clients    []auth.Client
	CanUpdate  bool
	// NewToken is the app token of a client just created. It is shown once.
	NewToken string
	Error    string
}

// SettingsPage shows the API switch and the client registry. Changing
// either needs the update right.
func SettingsPage(p Page, v SettingsView) templ.Component {
	p.Title = "Settings"
	return Layout(p, component(func(ctx context.Context, h *htmlWriter) {
		if v.Error != "" {
			h.render(ctx, ErrorBanner(v.Error))
		}
		if v.NewToken != "" {
			h.render(ctx, InfoBanner("Application token (shown once): "+v.NewToken))
		}

		h.raw(`<div class="card"><h2>API</h2><p>The API is `)
		if v.APIEnabled {
			h.raw(`<strong>enabled</strong>.`)
		} else {
			h.raw(`<strong>disabled</strong>.`)
		}
		h.raw(`</p>`)
		if v.CanUpdate {
			h.raw(`<form method="post" action="`, esc(p.URL("/console/settings")), `">`)
			csrfField(h, p.CSRF)
			if v.APIEnabled {
				hidden(h, "api_enabled", "false")
				h.raw(`<button type="submit">Disable API</button>`)
			} else {
				hidden(h, "api_enabled", "true")
				h.raw(`<button type="submit">Enable API</button>`)
			}
			h.raw(`</form>`)
		}
		h.raw(`</div>`)

		h.raw(`<div class="card"><h2>API clients</h2>`)
		if len(v.Clients) == 0 {
			h.raw(`<p>No API clients registered. Requests are refused until one matches.</p>`)
		} else {
			h.raw(`<table><thead><tr><th>Name</th><th>Active</th><th>IPv4 range</th><th>IPv6</th><th>App token</th>`)
			if v.CanUpdate {
				h.raw(`<th></th>`)
			}
			h.raw(`</tr></thead><tbody>`)
			for _, c := range v.Clients {
				h.raw(`<tr><td>`)
				h.text(c.Name)
				h.raw(`</td><td>`, yesNo(c.IsActive), `</td><td>`)
				if c.IPv4Start != "" {
					h.text(c.IPv4Start + " - " + c.IPv4End)
				} else {
					h.raw(`any`)
				}
				h.raw(`</td><td>`)
				if c.IPv6 != "" {
					h.text(c.IPv6)
				} else {
					h.raw(`any`)
				}
				h.raw(`</td><td>`, yesNo(c.HasAppToken), `</td>`)
				if v.CanUpdate {
					h.raw(`<td><form method="post" action="`, esc(p.URL("/console/clients/"+c.ID)), `">`)
					csrfField(h, p.CSRF)
					if c.IsActive {
						hidden(h, "op", "deactivate")
						h.raw(`<button type="submit">Deactivate</button>`)
					} else {
						hidden(h, "op", "activate")
						h.raw(`<button type="submit">Activate</button>`)
					}
					h.raw(`</form><form method="post" action="`, esc(p.URL("/console/clients/"+c.ID)), `">`)
					csrfField(h, p.CSRF)
					hidden(h, "op", "delete")
					h.raw(`<button type="submit">Delete</button></form></td>`)
				}
				h.raw(`</tr>`)
			}
			h.raw(`</tbody></table>`)
		}
		if v.CanUpdate {
			h.raw(`<h3>Add client</h3><form method="post" action="`, esc(p.URL("/console/clients")), `">`)
			csrfField(h, p.CSRF)
			h.raw(`<div class="field"><label for="c-name">Name</label><input type="text" id="c-name" name="name" required></div>`,
				`<div class="field"><label for="c-v4s">IPv4 range start</label><input type="text" id="c-v4s" name="ipv4_range_start"></div>`,
				`<div class="field"><label for="c-v4e">IPv4 range end</label><input type="text" id="c-v4e" name="ipv4_range_end"></div>`,
				`<div class="field"><label for="c-v6">IPv6 address</label><input type="text" id="c-v6" name="ipv6"></div>`,
				`<div class="field"><label><input type="checkbox" name="with_app_token" value="1"> Require an application token</label></div>`,
				`<button type="submit">Add</button></form>`)
		}
		h.raw(`</div>`)
	}))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
