package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/a-h/templ"
	"github.com/sydlexius/massaction/internal/bridge"
	"github.com/sydlexius/massaction/internal/host"
	"github.com/sydlexius/massaction/internal/massaction"
	"github.com/sydlexius/massaction/internal/version"
	"github.com/sydlexius/massaction/web/console"
)

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
		"commit":  version.Commit,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (r *Router) handleNotFound(w http.ResponseWriter, req *http.Request) {
	writeError(w, req, http.StatusNotFound, "Not Found")
}

func (r *Router) handleMethodNotAllowed(w http.ResponseWriter, req *http.Request) {
	writeError(w, req, http.StatusMethodNotAllowed, "Method Not Allowed")
}

func renderTempl(w http.ResponseWriter, r *http.Request, component templ.Component) {
	renderTemplStatus(w, r, http.StatusOK, component)
}

func renderTemplStatus(w http.ResponseWriter, r *http.Request, status int, component templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := component.Render(r.Context(), w); err != nil {
		_, _ = w.Write([]byte("render error"))
	}
}

// writeError sends an error response. For HTMX requests, it renders an error
// banner HTML fragment. For API requests, it returns JSON.
func writeError(w http.ResponseWriter, req *http.Request, status int, message string) {
	if req.Header.Get("HX-Request") == "true" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_ = console.ErrorBanner(message).Render(req.Context(), w)
		return
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}

// errorStatus maps an operation error to its HTTP status and the message
// shown to the caller. Errors the host reports are client errors shown
// verbatim; failing to reach the host is a bad gateway.
func errorStatus(err error) (int, string) {
	var (
		reqErr      *bridge.RequestError
		engineErr   *massaction.EngineError
		stageErr    *host.StageError
		unavailable *massaction.ActionsUnavailableError
		validation  *massaction.ValidationError
		derivation  *massaction.SchemaDerivationError
		fetchErr    *massaction.SubformFetchError
	)
	switch {
	case errors.Is(err, massaction.ErrInvalidItemType):
		return http.StatusBadRequest, "Invalid item type"
	case errors.Is(err, host.ErrSessionInvalid):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.As(err, &reqErr), errors.As(err, &engineErr), errors.As(err, &stageErr),
		errors.As(err, &unavailable), errors.As(err, &validation), errors.As(err, &derivation),
		errors.As(err, &fetchErr):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "Request canceled"
	default:
		return http.StatusBadGateway, err.Error()
	}
}

// writeOpError writes err using errorStatus and logs gateway failures.
func (r *Router) writeOpError(w http.ResponseWriter, req *http.Request, op string, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		r.logger.Error("operation failed",
			slog.String("op", op),
			slog.String("path", req.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeError(w, req, status, msg)
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(req *http.Request, v any) error {
	req.Body = http.MaxBytesReader(nil, req.Body, maxBodyBytes)
	return json.NewDecoder(req.Body).Decode(v)
}

const maxBodyBytes = 8 << 20
