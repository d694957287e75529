package api

import (
	"net/http"
	"strconv"

	"github.com/sydlexius/massaction/internal/auth"
	"github.com/sydlexius/massaction/internal/bridge"
	"github.com/sydlexius/massaction/internal/massaction"
)

// handleItemTypes returns the item types massive actions can target.
// GET /api/itemtypes
func (r *Router) handleItemTypes(w http.ResponseWriter, req *http.Request) {
	a, _ := auth.FromContext(req.Context())
	types, err := r.bridge.ItemTypes(req.Context(), a)
	if err != nil {
		r.writeOpError(w, req, "itemtypes", err)
		return
	}
	writeJSON(w, http.StatusOK, types)
}

// handleAvailableActions lists the actions offered for an item type.
// GET /api/available_actions/{itemtype}?is_deleted=0&single=0
func (r *Router) handleAvailableActions(w http.ResponseWriter, req *http.Request) {
	a, _ := auth.FromContext(req.Context())
	q := req.URL.Query()
	list, err := r.bridge.AvailableActions(req.Context(), a, req.PathValue("itemtype"),
		queryFlag(q.Get("is_deleted")), queryFlag(q.Get("single")))
	if err != nil {
		r.writeOpError(w, req, "available_actions", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleSpecializeAction renders the parameter form of an action.
// POST /api/specialize_action
func (r *Router) handleSpecializeAction(w http.ResponseWriter, req *http.Request) {
	var body massaction.SpecializeRequest
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, req, http.StatusBadRequest, bridge.MsgNoItems)
		return
	}
	a, _ := auth.FromContext(req.Context())
	resp, err := r.bridge.Specialize(req.Context(), a, body)
	if err != nil {
		r.writeOpError(w, req, "specialize_action", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleProcessAction runs an action on the selected items.
// POST /api/process_action
func (r *Router) handleProcessAction(w http.ResponseWriter, req *http.Request) {
	var body massaction.ProcessRequest
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, req, http.StatusBadRequest, bridge.MsgNoItems)
		return
	}
	a, _ := auth.FromContext(req.Context())
	res, err := r.bridge.Process(req.Context(), a, body)
	if err != nil {
		r.writeOpError(w, req, "process_action", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type schemaRequest struct {
	ItemType string `json:"itemtype"`
	IDs      []int  `json:"ids"`
	Action   string `json:"action"`
}

// handleSchema derives the parameter fields of an action.
// POST /api/v1/schema
func (r *Router) handleSchema(w http.ResponseWriter, req *http.Request) {
	var body schemaRequest
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, req, http.StatusBadRequest, "invalid request body")
		return
	}
	a, _ := auth.FromContext(req.Context())
	fields, err := r.bridge.Schema(req.Context(), a, body.ItemType, massaction.UniqueIDs(body.IDs), body.Action)
	if err != nil {
		r.writeOpError(w, req, "schema", err)
		return
	}
	writeJSON(w, http.StatusOK, fields)
}

// queryFlag reads a 0/1 (or true/false) query parameter.
func queryFlag(v string) bool {
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	n, err := strconv.Atoi(v)
	return err == nil && n != 0
}
