package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/sydlexius/massaction/internal/api/middleware"
	"github.com/sydlexius/massaction/internal/auth"
	"github.com/sydlexius/massaction/internal/batch"
	"github.com/sydlexius/massaction/internal/compose"
	"github.com/sydlexius/massaction/internal/massaction"
	"github.com/sydlexius/massaction/internal/schema"
	"github.com/sydlexius/massaction/web/console"
)

// Console validation messages.
const (
	msgFillRequired = "Please fill in all required fields"
	msgInvalidIDs   = "Please enter valid item IDs"
)

func (r *Router) consolePage(req *http.Request) console.Page {
	p := console.Page{
		BasePath: r.basePath,
		CSRF:     middleware.CSRFToken(req.Context()),
	}
	if a, ok := auth.FromContext(req.Context()); ok {
		p.User = a.UserName
		if a.ProfileName != "" {
			p.User += " (" + a.ProfileName + ")"
		}
	}
	return p
}

func (r *Router) redirectConsole(w http.ResponseWriter, req *http.Request, path string) {
	http.Redirect(w, req, r.basePath+path, http.StatusSeeOther)
}

// handleConsoleHome lists item types.
// GET /console/
func (r *Router) handleConsoleHome(w http.ResponseWriter, req *http.Request) {
	a, _ := auth.FromContext(req.Context())
	types, err := r.bridge.ItemTypes(req.Context(), a)
	msg := ""
	if err != nil {
		_, msg = errorStatus(err)
		r.logger.Warn("console: listing item types", slog.String("error", err.Error()))
	}
	renderTempl(w, req, console.ItemTypesPage(r.consolePage(req), types, msg))
}

// handleConsoleActions shows the action picker for an item type.
// GET /console/actions/{itemtype}
func (r *Router) handleConsoleActions(w http.ResponseWriter, req *http.Request) {
	v := r.actionsView(req, req.PathValue("itemtype"))
	v.IDs = req.URL.Query().Get("ids")
	renderTempl(w, req, console.ActionsPage(r.consolePage(req), v))
}

func (r *Router) actionsView(req *http.Request, itemType string) console.ActionsView {
	a, _ := auth.FromContext(req.Context())
	v := console.ActionsView{ItemType: itemType}
	list, err := r.bridge.AvailableActions(req.Context(), a, itemType, false, false)
	if err != nil {
		_, v.Error = errorStatus(err)
		return v
	}
	v.Actions = list.Actions
	return v
}

// handleConsoleParams derives the parameter form of the chosen action.
// GET /console/params?itemtype=...&action=...&ids=...
func (r *Router) handleConsoleParams(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	itemType, action := q.Get("itemtype"), q.Get("action")
	ids := massaction.ParseIDs(q.Get("ids"))

	if itemType == "" || action == "" || len(ids) == 0 {
		v := r.actionsView(req, itemType)
		v.IDs, v.Action = q.Get("ids"), action
		if v.Error == "" {
			v.Error = msgFillRequired
			if action != "" {
				v.Error = msgInvalidIDs
			}
		}
		renderTemplStatus(w, req, http.StatusUnprocessableEntity, console.ActionsPage(r.consolePage(req), v))
		return
	}

	a, _ := auth.FromContext(req.Context())
	view := console.ParamsView{ItemType: itemType, Action: action, IDs: ids}
	fields, err := r.bridge.Schema(req.Context(), a, itemType, ids, action)
	if err != nil {
		_, msg := errorStatus(err)
		r.logger.Warn("console: deriving parameters",
			slog.String("item_type", itemType),
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
		view.Error = console.MsgSchemaFailed + ": " + msg
	}
	view.Fields = fields
	renderTempl(w, req, console.ParamsPage(r.consolePage(req), view))
}

// handleConsoleRun validates the parameter form and starts a batch job.
// POST /console/run
func (r *Router) handleConsoleRun(w http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		writeError(w, req, http.StatusBadRequest, "invalid form")
		return
	}
	var fields []schema.Field
	if raw := req.PostForm.Get("schema"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			writeError(w, req, http.StatusBadRequest, "invalid parameter schema")
			return
		}
	}

	view := console.ParamsView{
		ItemType: req.PostForm.Get("itemtype"),
		Action:   req.PostForm.Get("action"),
		IDs:      massaction.ParseIDs(req.PostForm.Get("ids")),
		Fields:   fields,
		Values:   console.ValuesFromForm(fields, req.PostForm),
	}
	page := r.consolePage(req)

	if err := compose.Validate(fields, view.Values); err != nil {
		var verr *massaction.ValidationError
		if errors.As(err, &verr) {
			view.Missing = verr.Fields
		}
		renderTemplStatus(w, req, http.StatusUnprocessableEntity, console.ParamsPage(page, view))
		return
	}

	a, _ := auth.FromContext(req.Context())
	job, err := r.startJob(req.Context(), a, batch.StartRequest{
		ItemType:   view.ItemType,
		IDs:        view.IDs,
		Action:     view.Action,
		ActionData: compose.Compose(fields, view.Values),
	})
	if err != nil {
		status, msg := jobErrorStatus(err)
		if status >= http.StatusInternalServerError {
			r.logger.Error("console: starting batch job", slog.String("error", err.Error()))
		}
		view.Error = msg
		renderTemplStatus(w, req, status, console.ParamsPage(page, view))
		return
	}
	r.redirectConsole(w, req, "/console/jobs/"+url.PathEscape(job.ID))
}

// handleConsoleJobs lists recent batch jobs.
// GET /console/jobs
func (r *Router) handleConsoleJobs(w http.ResponseWriter, req *http.Request) {
	jobs, err := r.jobStore.ListJobs(req.Context(), 50)
	if err != nil {
		r.writeJobError(w, req, err)
		return
	}
	for i := range jobs {
		r.overlayLive(&jobs[i])
	}
	renderTempl(w, req, console.JobsPage(r.consolePage(req), jobs))
}

// handleConsoleJob shows one job's progress.
// GET /console/jobs/{id}
func (r *Router) handleConsoleJob(w http.ResponseWriter, req *http.Request) {
	detail, err := r.jobDetail(req.Context(), req.PathValue("id"))
	if err != nil {
		status, msg := jobErrorStatus(err)
		renderTemplStatus(w, req, status, console.Layout(r.consolePage(req), console.ErrorBanner(msg)))
		return
	}
	renderTempl(w, req, console.JobPage(r.consolePage(req), detail))
}

// handleConsoleCancelJob requests cancellation and returns to the job page.
// POST /console/jobs/{id}/cancel
func (r *Router) handleConsoleCancelJob(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if err := r.executor.Cancel(id); err != nil && !errors.Is(err, batch.ErrJobNotRunning) {
		r.logger.Warn("console: cancelling job", slog.String("job_id", id), slog.String("error", err.Error()))
	}
	r.redirectConsole(w, req, "/console/jobs/"+url.PathEscape(id))
}

// handleConsoleSettings shows the API switch and the client registry.
// GET /console/settings
func (r *Router) handleConsoleSettings(w http.ResponseWriter, req *http.Request) {
	r.renderSettings(w, req, http.StatusOK, "", "")
}

func (r *Router) renderSettings(w http.ResponseWriter, req *http.Request, status int, newToken, errMsg string) {
	ctx := req.Context()
	a, _ := auth.FromContext(ctx)
	v := console.SettingsView{CanUpdate: a.Can(auth.RightUpdate), NewToken: newToken, Error: errMsg}

	enabled, err := r.authService.APIEnabled(ctx)
	if err != nil {
		r.logger.Error("console: reading settings", slog.String("error", err.Error()))
		writeError(w, req, http.StatusInternalServerError, "internal error")
		return
	}
	v.APIEnabled = enabled
	if v.Clients, err = r.authService.ListClients(ctx); err != nil {
		r.logger.Error("console: listing api clients", slog.String("error", err.Error()))
		writeError(w, req, http.StatusInternalServerError, "internal error")
		return
	}
	renderTemplStatus(w, req, status, console.SettingsPage(r.consolePage(req), v))
}

// handleConsoleUpdateSettings toggles the API switch.
// POST /console/settings
func (r *Router) handleConsoleUpdateSettings(w http.ResponseWriter, req *http.Request) {
	enabled := req.PostFormValue("api_enabled") == "true"
	if err := r.authService.SetAPIEnabled(req.Context(), enabled); err != nil {
		r.logger.Error("console: updating settings", slog.String("error", err.Error()))
		r.renderSettings(w, req, http.StatusInternalServerError, "", "Could not save settings")
		return
	}
	r.publishSetting("api_enabled", enabled)
	r.logger.Info("api enabled flag changed", slog.Bool("enabled", enabled))
	r.redirectConsole(w, req, "/console/settings")
}

// handleConsoleCreateClient registers an API client. The page is rendered
// directly so a new app token can be shown once.
// POST /console/clients
func (r *Router) handleConsoleCreateClient(w http.ResponseWriter, req *http.Request) {
	in := auth.ClientInput{
		Name:         strings.TrimSpace(req.PostFormValue("name")),
		IPv4Start:    strings.TrimSpace(req.PostFormValue("ipv4_range_start")),
		IPv4End:      strings.TrimSpace(req.PostFormValue("ipv4_range_end")),
		IPv6:         strings.TrimSpace(req.PostFormValue("ipv6")),
		WithAppToken: req.PostFormValue("with_app_token") != "",
	}
	c, token, err := r.authService.CreateClient(req.Context(), in)
	if err != nil {
		r.renderSettings(w, req, http.StatusBadRequest, "", err.Error())
		return
	}
	r.logger.Info("api client created", slog.String("client_id", c.ID), slog.String("name", c.Name))
	r.renderSettings(w, req, http.StatusOK, token, "")
}

// handleConsoleClient activates, deactivates or deletes a client.
// POST /console/clients/{id}
func (r *Router) handleConsoleClient(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	id := req.PathValue("id")
	var err error
	switch req.PostFormValue("op") {
	case "activate":
		err = r.authService.SetClientActive(ctx, id, true)
	case "deactivate":
		err = r.authService.SetClientActive(ctx, id, false)
	case "delete":
		err = r.authService.DeleteClient(ctx, id)
	default:
		r.renderSettings(w, req, http.StatusBadRequest, "", "Unknown operation")
		return
	}
	if err != nil {
		status, msg := http.StatusInternalServerError, "Could not update client"
		if errors.Is(err, auth.ErrClientNotFound) {
			status, msg = http.StatusNotFound, "Client not found"
		} else {
			r.logger.Error("console: updating api client", slog.String("client_id", id), slog.String("error", err.Error()))
		}
		r.renderSettings(w, req, status, "", msg)
		return
	}
	r.redirectConsole(w, req, "/console/settings")
}
