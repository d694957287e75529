package api

import (
	_ "embed"
	"net/http"

	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openapiSpec []byte

// handleOpenAPISpec serves the API description as JSON, or as YAML when the
// yaml query parameter is present.
// GET /openapi
func (r *Router) handleOpenAPISpec(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if req.URL.Query().Has("yaml") {
		w.Header().Set("Content-Type", "application/x-yaml")
		_, _ = w.Write(openapiSpec)
		return
	}

	var doc map[string]any
	if err := yaml.Unmarshal(openapiSpec, &doc); err != nil {
		r.logger.Error("parsing embedded openapi document", "error", err)
		writeError(w, req, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
