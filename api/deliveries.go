package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/xraph/hookline/delivery"
	"github.com/xraph/hookline/id"
)

type listDeliveriesResponse struct {
	Deliveries []*delivery.Attempt `json:"deliveries"`
	Offset     int                 `json:"offset"`
	Limit      int                 `json:"limit"`
}

type testDeliveryResponse struct {
	Delivery *delivery.Attempt `json:"delivery"`
	Result   *delivery.Result  `json:"result"`
}

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	offset, limit := page(r)
	opts := delivery.ListOpts{
		TenantID: tenant(r),
		Status:   delivery.Status(queryParam(r, "status")),
		Offset:   offset,
		Limit:    limit,
	}

	if v := queryParam(r, "subscription_id"); v != "" {
		subID, err := id.ParseSubscriptionID(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid subscription ID")
			return
		}
		opts.SubscriptionID = &subID
	}

	attempts, err := h.hl.Deliveries(r.Context(), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if attempts == nil {
		attempts = []*delivery.Attempt{}
	}

	writeJSON(w, http.StatusOK, listDeliveriesResponse{
		Deliveries: attempts,
		Offset:     offset,
		Limit:      limit,
	})
}

func (h *Handler) getDelivery(w http.ResponseWriter, r *http.Request) {
	attemptID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery ID")
		return
	}

	a, err := h.hl.Delivery(r.Context(), tenant(r), attemptID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) testDelivery(w http.ResponseWriter, r *http.Request) {
	attemptID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery ID")
		return
	}

	a, res, err := h.hl.TestDelivery(r.Context(), tenant(r), attemptID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, testDeliveryResponse{Delivery: a, Result: res})
}
