package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sydlexius/massaction/internal/auth"
	"github.com/sydlexius/massaction/internal/event"
)

// handleListClients returns the API client registry.
// GET /api/v1/clients
func (r *Router) handleListClients(w http.ResponseWriter, req *http.Request) {
	clients, err := r.authService.ListClients(req.Context())
	if err != nil {
		r.logger.Error("listing api clients", slog.String("error", err.Error()))
		writeError(w, req, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, clients)
}

type createClientResponse struct {
	*auth.Client
	AppToken string `json:"app_token,omitempty"` //nolint:gosec // G117: plaintext app token, shown once at creation
}

// handleCreateClient registers an API client. The app token, when asked
// for, is only ever returned here.
// POST /api/v1/clients
func (r *Router) handleCreateClient(w http.ResponseWriter, req *http.Request) {
	var body auth.ClientInput
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, req, http.StatusBadRequest, "invalid request body")
		return
	}
	c, token, err := r.authService.CreateClient(req.Context(), body)
	if err != nil {
		if errors.Is(err, auth.ErrClientExists) {
			writeError(w, req, http.StatusConflict, "a client with this name already exists")
			return
		}
		writeError(w, req, http.StatusBadRequest, err.Error())
		return
	}
	r.logger.Info("api client created", slog.String("client_id", c.ID), slog.String("name", c.Name))
	writeJSON(w, http.StatusCreated, createClientResponse{Client: c, AppToken: token})
}

// handleUpdateClient activates or deactivates a client.
// PUT /api/v1/clients/{id}
func (r *Router) handleUpdateClient(w http.ResponseWriter, req *http.Request) {
	var body struct {
		IsActive *bool `json:"is_active"`
	}
	if err := decodeJSON(req, &body); err != nil || body.IsActive == nil {
		writeError(w, req, http.StatusBadRequest, "is_active is required")
		return
	}
	id := req.PathValue("id")
	if err := r.authService.SetClientActive(req.Context(), id, *body.IsActive); err != nil {
		r.writeClientError(w, req, err)
		return
	}
	c, err := r.authService.GetClient(req.Context(), id)
	if err != nil {
		r.writeClientError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleDeleteClient removes a client.
// DELETE /api/v1/clients/{id}
func (r *Router) handleDeleteClient(w http.ResponseWriter, req *http.Request) {
	if err := r.authService.DeleteClient(req.Context(), req.PathValue("id")); err != nil {
		r.writeClientError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) writeClientError(w http.ResponseWriter, req *http.Request, err error) {
	if errors.Is(err, auth.ErrClientNotFound) {
		writeError(w, req, http.StatusNotFound, "client not found")
		return
	}
	r.logger.Error("api client request failed", slog.String("error", err.Error()))
	writeError(w, req, http.StatusInternalServerError, "internal error")
}

type settingsBody struct {
	APIEnabled *bool `json:"api_enabled"`
}

// handleGetSettings returns the bridge settings.
// GET /api/v1/settings
func (r *Router) handleGetSettings(w http.ResponseWriter, req *http.Request) {
	enabled, err := r.authService.APIEnabled(req.Context())
	if err != nil {
		r.logger.Error("reading settings", slog.String("error", err.Error()))
		writeError(w, req, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, settingsBody{APIEnabled: &enabled})
}

// handleUpdateSettings changes the bridge settings.
// PUT /api/v1/settings
func (r *Router) handleUpdateSettings(w http.ResponseWriter, req *http.Request) {
	var body settingsBody
	if err := decodeJSON(req, &body); err != nil || body.APIEnabled == nil {
		writeError(w, req, http.StatusBadRequest, "api_enabled is required")
		return
	}
	if err := r.authService.SetAPIEnabled(req.Context(), *body.APIEnabled); err != nil {
		r.logger.Error("updating settings", slog.String("error", err.Error()))
		writeError(w, req, http.StatusInternalServerError, "internal error")
		return
	}
	r.publishSetting("api_enabled", *body.APIEnabled)
	r.logger.Info("api enabled flag changed", slog.Bool("enabled", *body.APIEnabled))
	writeJSON(w, http.StatusOK, body)
}

func (r *Router) publishSetting(key string, value any) {
	if r.eventBus == nil {
		return
	}
	r.eventBus.Publish(event.Event{
		Type: event.SettingChanged,
		Data: map[string]any{"key": key, "value": value},
	})
}
