// Package subscription manages the per-tenant registry of webhook destinations.
//
// Every operation is scoped to a tenant. Looking up another tenant's
// subscription behaves exactly like looking up one that does not exist.
package subscription

import (
	"slices"

	"github.com/xraph/hookline/id"
	"github.com/xraph/hookline/internal/entity"
)

// Subscription is one registered destination for a tenant's events.
type Subscription struct {
	entity.Entity

	ID       id.ID  `json:"id"`
	TenantID string `json:"tenant_id"`

	// URL is the https destination that receives POSTed events.
	URL string `json:"destination_url"`

	// EventTypes is the set of event type names delivered to URL.
	EventTypes []string `json:"event_types"`

	// Secret keys the HMAC signature. It is never serialized and is only
	// handed to the caller once, by Create.
	Secret string `json:"-"`

	Active      bool   `json:"active"`
	Description string `json:"description,omitempty"`

	// RateLimit caps outbound tries per rate window for this subscription.
	// Zero uses the engine default.
	RateLimit int `json:"rate_limit,omitempty"`
}

// Accepts reports whether eventType is in the subscription's set.
func (s *Subscription) Accepts(eventType string) bool {
	return slices.Contains(s.EventTypes, eventType)
}

// ListOpts filters and paginates listings.
type ListOpts struct {
	Offset int
	Limit  int
	Active *bool
}
