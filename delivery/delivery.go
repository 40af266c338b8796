package delivery

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/hookline/id"
	"github.com/xraph/hookline/internal/entity"
)

// Status is the lifecycle state of a delivery attempt.
type Status string

const (
	// StatusPending means the first try has not completed yet.
	StatusPending Status = "pending"

	// StatusDelivered means the destination answered with a 2xx.
	StatusDelivered Status = "delivered"

	// StatusFailed means the last try failed and another is scheduled.
	StatusFailed Status = "failed"

	// StatusExhausted means every try failed. No further tries happen.
	StatusExhausted Status = "exhausted"
)

// Terminal reports whether no further tries will ever be made.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusExhausted
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusDelivered, StatusFailed, StatusExhausted:
		return true
	}
	return false
}

// Attempt is the delivery of one event to one subscription. It is created once
// at dispatch and updated in place on every try; its ID is sent as
// X-Delivery-Id so receivers can deduplicate.
type Attempt struct {
	entity.Entity

	ID             uuid.UUID `json:"id"`
	SubscriptionID id.ID     `json:"subscription_id"`
	TenantID       string    `json:"tenant_id"`
	EventType      string    `json:"event_type"`

	// Payload is the serialized envelope. It is signed and sent verbatim on
	// every try.
	Payload json.RawMessage `json:"payload"`

	Status       Status `json:"status"`
	AttemptCount int    `json:"attempt_count"`
	MaxAttempts  int    `json:"max_attempts"`

	LastStatusCode *int    `json:"last_status_code,omitempty"`
	LastError      *string `json:"last_error,omitempty"`
	LastLatencyMs  int     `json:"last_latency_ms,omitempty"`

	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`

	// ClaimedBy and ClaimedUntil form the lease that keeps two workers from
	// trying the same attempt at once.
	ClaimedBy    string     `json:"claimed_by,omitempty"`
	ClaimedUntil *time.Time `json:"claimed_until,omitempty"`
}

// Leased reports whether another try holds the attempt at now.
func (a *Attempt) Leased(now time.Time) bool {
	return a.ClaimedUntil != nil && a.ClaimedUntil.After(now)
}

// Due reports whether a sweep at now may claim the attempt: a failed attempt
// whose retry time has come, or a pending attempt whose first try was
// orphaned.
func (a *Attempt) Due(now time.Time) bool {
	if a.Leased(now) {
		return false
	}
	switch a.Status {
	case StatusFailed:
		return a.NextRetryAt != nil && !a.NextRetryAt.After(now)
	case StatusPending:
		return true
	}
	return false
}

// Lease marks the attempt as held by c. The expiry is kept to millisecond
// precision so every backend stores it exactly.
func (a *Attempt) Lease(c Claim) {
	until := c.Until.Truncate(time.Millisecond)
	a.ClaimedBy = c.Owner
	a.ClaimedUntil = &until
}

// Hold returns the lease the attempt currently carries.
func (a *Attempt) Hold() Hold {
	h := Hold{Owner: a.ClaimedBy}
	if a.ClaimedUntil != nil {
		until := *a.ClaimedUntil
		h.Until = &until
	}
	return h
}

// Release drops the lease.
func (a *Attempt) Release() {
	a.ClaimedBy = ""
	a.ClaimedUntil = nil
}

// Claim identifies the worker taking a lease and how long it lasts.
type Claim struct {
	Owner string
	Now   time.Time
	Until time.Time
}

// Hold is the lease a writer expects to find on the stored attempt. A zero
// Hold means the attempt is not leased.
type Hold struct {
	Owner string
	Until *time.Time
}

// Matches reports whether a stored lease of owner and until equals h.
func (h Hold) Matches(owner string, until *time.Time) bool {
	if h.Owner != owner {
		return false
	}
	if h.Until == nil || until == nil {
		return h.Until == nil && until == nil
	}
	return h.Until.Equal(*until)
}

// ListOpts filters and paginates the delivery log.
type ListOpts struct {
	TenantID       string
	SubscriptionID *id.ID
	Status         Status
	Offset         int
	Limit          int
}

// Matches reports whether a satisfies the filters in opts.
func (o ListOpts) Matches(a *Attempt) bool {
	if o.TenantID != "" && a.TenantID != o.TenantID {
		return false
	}
	if o.SubscriptionID != nil && a.SubscriptionID.String() != o.SubscriptionID.String() {
		return false
	}
	if o.Status != "" && a.Status != o.Status {
		return false
	}
	return true
}
