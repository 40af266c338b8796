package api

import (
	"encoding/json"
	"net/http"

	"github.com/xraph/hookline/catalog"
)

type createEventTypeRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	Version     string          `json:"version,omitempty"`
}

func (h *Handler) createEventType(w http.ResponseWriter, r *http.Request) {
	var req createEventTypeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	et, err := h.hl.RegisterEventType(r.Context(), catalog.Definition{
		Name:        req.Name,
		Description: req.Description,
		Schema:      req.Schema,
		Version:     req.Version,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, et)
}

func (h *Handler) listEventTypes(w http.ResponseWriter, r *http.Request) {
	offset, limit := page(r)
	types, err := h.hl.Catalog().ListTypes(r.Context(), catalog.ListOpts{
		Offset:            offset,
		Limit:             limit,
		IncludeDeprecated: queryParam(r, "include_deprecated") == "true",
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if types == nil {
		types = []*catalog.EventType{}
	}

	writeJSON(w, http.StatusOK, types)
}

func (h *Handler) getEventType(w http.ResponseWriter, r *http.Request) {
	et, err := h.hl.Catalog().GetType(r.Context(), r.PathValue("name"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, et)
}

func (h *Handler) deleteEventType(w http.ResponseWriter, r *http.Request) {
	if err := h.hl.Catalog().DeleteType(r.Context(), r.PathValue("name")); err != nil {
		h.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
