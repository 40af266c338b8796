package api

import (
	"net/http"

	"github.com/xraph/hookline/delivery"
)

type statsResponse struct {
	Pending   int64 `json:"pending"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Exhausted int64 `json:"exhausted"`
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.hl.DeliveryStats(r.Context(), tenant(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Pending:   counts[delivery.StatusPending],
		Delivered: counts[delivery.StatusDelivered],
		Failed:    counts[delivery.StatusFailed],
		Exhausted: counts[delivery.StatusExhausted],
	})
}
