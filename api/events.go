package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

type createEventRequest struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

type createEventResponse struct {
	DeliveryIDs []uuid.UUID `json:"delivery_ids"`
}

func (h *Handler) createEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var data any
	if len(req.Data) > 0 {
		data = req.Data
	}

	ids, err := h.hl.Emit(r.Context(), req.EventType, data, tenant(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, createEventResponse{DeliveryIDs: ids})
}
