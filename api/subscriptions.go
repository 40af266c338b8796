package api

import (
	"net/http"
	"strconv"

	"github.com/xraph/hookline/id"
	"github.com/xraph/hookline/subscription"
)

type createSubscriptionRequest struct {
	DestinationURL string   `json:"destination_url"`
	EventTypes     []string `json:"event_types"`
	Description    string   `json:"description,omitempty"`
	RateLimit      int      `json:"rate_limit,omitempty"`
}

type createSubscriptionResponse struct {
	SubscriptionID id.ID  `json:"subscription_id"`
	Secret         string `json:"secret"`
}

type updateSubscriptionRequest struct {
	Active *bool `json:"active"`
}

func (h *Handler) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.hl.Subscriptions().Create(r.Context(), subscription.Input{
		TenantID:    tenant(r),
		URL:         req.DestinationURL,
		EventTypes:  req.EventTypes,
		Description: req.Description,
		RateLimit:   req.RateLimit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createSubscriptionResponse{
		SubscriptionID: sub.ID,
		Secret:         sub.Secret,
	})
}

func (h *Handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	offset, limit := page(r)
	opts := subscription.ListOpts{Offset: offset, Limit: limit}

	if v := queryParam(r, "active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "active must be true or false")
			return
		}
		opts.Active = &active
	}

	subs, err := h.hl.Subscriptions().List(r.Context(), tenant(r), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if subs == nil {
		subs = []*subscription.Subscription{}
	}

	writeJSON(w, http.StatusOK, subs)
}

func (h *Handler) getSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	sub, err := h.hl.Subscriptions().Get(r.Context(), tenant(r), subID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) updateSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	var req updateSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Active == nil {
		writeError(w, http.StatusBadRequest, "active is required")
		return
	}

	sub, err := h.hl.Subscriptions().SetActive(r.Context(), tenant(r), subID, *req.Active)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	if err := h.hl.Subscriptions().Delete(r.Context(), tenant(r), subID); err != nil {
		h.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
