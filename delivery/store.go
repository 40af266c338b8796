package delivery

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/xraph/hookline/id"
	"github.com/xraph/hookline/subscription"
)

// ErrLeaseLost is returned when the stored attempt no longer carries the
// lease the writer held, because another worker claimed it after the lease
// ran out.
var ErrLeaseLost = errors.New("hookline: delivery lease lost")

// Store defines the persistence contract for delivery attempts. Attempts are
// never deleted.
type Store interface {
	// CreateAttempts persists the attempts of one event in a single batch.
	CreateAttempts(ctx context.Context, as []*Attempt) error

	// GetAttempt returns an attempt by ID regardless of tenant.
	GetAttempt(ctx context.Context, attemptID uuid.UUID) (*Attempt, error)

	// UpdateAttempt writes every mutable field of a, including its lease.
	UpdateAttempt(ctx context.Context, a *Attempt) error

	// CommitAttempt writes every mutable field of a, including its lease,
	// only while the stored attempt still carries held. Otherwise it returns
	// ErrLeaseLost and leaves the stored attempt unchanged.
	CommitAttempt(ctx context.Context, a *Attempt, held Hold) error

	// ClaimDue atomically leases up to limit attempts that are Due at c.Now.
	// Two concurrent callers never receive the same attempt.
	ClaimDue(ctx context.Context, c Claim, limit int) ([]*Attempt, error)

	// ClaimAttempt leases one non-terminal attempt whatever its retry time.
	// It returns nil, nil when the attempt is terminal or leased elsewhere.
	ClaimAttempt(ctx context.Context, attemptID uuid.UUID, c Claim) (*Attempt, error)

	// ListAttempts returns the delivery log, newest first.
	ListAttempts(ctx context.Context, opts ListOpts) ([]*Attempt, error)

	// CountByStatus returns the number of a tenant's attempts per status.
	CountByStatus(ctx context.Context, tenantID string) (map[Status]int64, error)
}

// SubscriptionSource loads the subscription an attempt targets. It is not
// tenant scoped: the attempt already carries its tenant.
type SubscriptionSource interface {
	LookupSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error)
}
