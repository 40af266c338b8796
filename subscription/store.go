package subscription

import (
	"context"
	"errors"

	"github.com/xraph/hookline/id"
)

// ErrNotFound is returned for unknown subscriptions and for subscriptions
// owned by another tenant.
var ErrNotFound = errors.New("hookline: subscription not found")

// Store persists subscriptions. Every tenant-scoped method must treat a
// subscription owned by another tenant as missing.
type Store interface {
	// CreateSubscription persists a new subscription.
	CreateSubscription(ctx context.Context, sub *Subscription) error

	// GetSubscription returns a subscription owned by tenantID.
	GetSubscription(ctx context.Context, tenantID string, subID id.ID) (*Subscription, error)

	// LookupSubscription returns a subscription regardless of tenant. Only
	// the delivery path uses it.
	LookupSubscription(ctx context.Context, subID id.ID) (*Subscription, error)

	// ListSubscriptions returns a tenant's subscriptions, oldest first.
	ListSubscriptions(ctx context.Context, tenantID string, opts ListOpts) ([]*Subscription, error)

	// SetActive flips the active flag.
	SetActive(ctx context.Context, tenantID string, subID id.ID, active bool) error

	// DeleteSubscription removes a subscription. Its delivery attempts stay.
	DeleteSubscription(ctx context.Context, tenantID string, subID id.ID) error

	// Resolve returns the tenant's active subscriptions whose event type set
	// contains eventType. This runs on every emitted event.
	Resolve(ctx context.Context, tenantID, eventType string) ([]*Subscription, error)
}
