package hookline

import (
	"errors"

	"github.com/xraph/hookline/delivery"
	"github.com/xraph/hookline/ratelimit"
	"github.com/xraph/hookline/subscription"
)

// Sentinel errors returned by Hookline operations.
var (
	// ErrNoStore is returned when Hookline is created without a store.
	ErrNoStore = errors.New("hookline: store is required")

	// ErrStoreClosed is returned when a store operation is attempted after the store is closed.
	ErrStoreClosed = errors.New("hookline: store is closed")

	// ErrSubscriptionNotFound is returned for unknown subscriptions and for
	// subscriptions owned by another tenant.
	ErrSubscriptionNotFound = subscription.ErrNotFound

	// ErrDeliveryNotFound is returned for unknown delivery attempts and for
	// attempts owned by another tenant.
	ErrDeliveryNotFound = errors.New("hookline: delivery not found")

	// ErrDeliveryInFlight is returned by TestDelivery when another worker
	// holds the attempt's lease.
	ErrDeliveryInFlight = errors.New("hookline: delivery is in flight")

	// ErrEventTypeNotFound is returned when an event type is not registered in the catalog.
	ErrEventTypeNotFound = errors.New("hookline: event type not found")

	// ErrEventTypeDeprecated is returned when emitting an event with a deprecated type.
	ErrEventTypeDeprecated = errors.New("hookline: event type is deprecated")

	// ErrPayloadValidationFailed is returned when event data fails JSON Schema validation.
	ErrPayloadValidationFailed = errors.New("hookline: payload validation failed")

	// ErrRateLimited is returned when a rate limit denies a call.
	ErrRateLimited = ratelimit.ErrRateLimited

	// ErrTransientDelivery classifies a failed try that will be retried.
	ErrTransientDelivery = delivery.ErrTransient

	// ErrDeliveryExhausted classifies an attempt that used its last try.
	ErrDeliveryExhausted = delivery.ErrExhausted

	// ErrLeaseLost is returned when a worker's lease on an attempt was taken
	// over before it could record its try.
	ErrLeaseLost = delivery.ErrLeaseLost
)

// ValidationError reports input rejected before any side effect.
type ValidationError = subscription.ValidationError

// IsNotFound reports whether err is one of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrDeliveryNotFound) ||
		errors.Is(err, ErrEventTypeNotFound)
}
