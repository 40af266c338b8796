// Package memory provides an in-memory Store implementation for tests and
// single-process deployments.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/hookline"
	"github.com/xraph/hookline/catalog"
	"github.com/xraph/hookline/delivery"
	"github.com/xraph/hookline/id"
	hookstore "github.com/xraph/hookline/store"
	"github.com/xraph/hookline/subscription"
)

// compile-time interface check.
var _ hookstore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store. Values are copied in
// and out, so callers never share state with the store.
type Store struct {
	mu sync.RWMutex

	eventTypes    map[string]*catalog.EventType         // keyed by name
	subscriptions map[string]*subscription.Subscription // keyed by ID string
	attempts      map[uuid.UUID]*delivery.Attempt

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		eventTypes:    make(map[string]*catalog.EventType),
		subscriptions: make(map[string]*subscription.Subscription),
		attempts:      make(map[uuid.UUID]*delivery.Attempt),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is still open.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return hookline.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// catalog.Store
// ──────────────────────────────────────────────────

// RegisterType creates or updates an event type definition (upsert by name).
func (s *Store) RegisterType(_ context.Context, et *catalog.EventType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.eventTypes[et.Definition.Name]; ok {
		existing.Definition = et.Definition
		existing.IsDeprecated = false
		existing.DeprecatedAt = nil
		existing.UpdatedAt = time.Now().UTC()
		et.ID = existing.ID
		et.CreatedAt = existing.CreatedAt
		return nil
	}

	cp := *et
	s.eventTypes[et.Definition.Name] = &cp
	return nil
}

// GetType returns an event type by name, including deprecated ones.
func (s *Store) GetType(_ context.Context, name string) (*catalog.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	et, ok := s.eventTypes[name]
	if !ok {
		return nil, hookline.ErrEventTypeNotFound
	}
	cp := *et
	return &cp, nil
}

// ListTypes returns event types ordered by name.
func (s *Store) ListTypes(_ context.Context, opts catalog.ListOpts) ([]*catalog.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*catalog.EventType, 0, len(s.eventTypes))
	for _, et := range s.eventTypes {
		if !opts.IncludeDeprecated && et.IsDeprecated {
			continue
		}
		cp := *et
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Definition.Name < result[j].Definition.Name
	})

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// DeleteType soft-deletes (deprecates) an event type.
func (s *Store) DeleteType(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	et, ok := s.eventTypes[name]
	if !ok {
		return hookline.ErrEventTypeNotFound
	}

	now := time.Now().UTC()
	et.IsDeprecated = true
	et.DeprecatedAt = &now
	et.UpdatedAt = now
	return nil
}

// ──────────────────────────────────────────────────
// subscription.Store
// ──────────────────────────────────────────────────

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions[sub.ID.String()] = copySubscription(sub)
	return nil
}

// GetSubscription returns a subscription owned by tenantID.
func (s *Store) GetSubscription(_ context.Context, tenantID string, subID id.ID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.owned(tenantID, subID)
	if !ok {
		return nil, hookline.ErrSubscriptionNotFound
	}
	return copySubscription(sub), nil
}

// LookupSubscription returns a subscription regardless of tenant.
func (s *Store) LookupSubscription(_ context.Context, subID id.ID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return nil, hookline.ErrSubscriptionNotFound
	}
	return copySubscription(sub), nil
}

// ListSubscriptions returns the tenant's subscriptions, oldest first.
func (s *Store) ListSubscriptions(_ context.Context, tenantID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.TenantID != tenantID {
			continue
		}
		if opts.Active != nil && sub.Active != *opts.Active {
			continue
		}
		result = append(result, copySubscription(sub))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID.String() < result[j].ID.String()
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// SetActive flips a subscription's active flag.
func (s *Store) SetActive(_ context.Context, tenantID string, subID id.ID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.owned(tenantID, subID)
	if !ok {
		return hookline.ErrSubscriptionNotFound
	}
	sub.Active = active
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteSubscription removes a subscription. Its attempts are kept.
func (s *Store) DeleteSubscription(_ context.Context, tenantID string, subID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.owned(tenantID, subID); !ok {
		return hookline.ErrSubscriptionNotFound
	}
	delete(s.subscriptions, subID.String())
	return nil
}

// Resolve returns the tenant's active subscriptions for eventType.
func (s *Store) Resolve(_ context.Context, tenantID, eventType string) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*subscription.Subscription
	for _, sub := range s.subscriptions {
		if sub.TenantID == tenantID && sub.Active && sub.Accepts(eventType) {
			result = append(result, copySubscription(sub))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) owned(tenantID string, subID id.ID) (*subscription.Subscription, bool) {
	sub, ok := s.subscriptions[subID.String()]
	if !ok || sub.TenantID != tenantID {
		return nil, false
	}
	return sub, true
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

// CreateAttempts persists a batch of attempts.
func (s *Store) CreateAttempts(_ context.Context, as []*delivery.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range as {
		s.attempts[a.ID] = copyAttempt(a)
	}
	return nil
}

// GetAttempt returns an attempt by ID.
func (s *Store) GetAttempt(_ context.Context, attemptID uuid.UUID) (*delivery.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.attempts[attemptID]
	if !ok {
		return nil, hookline.ErrDeliveryNotFound
	}
	return copyAttempt(a), nil
}

// UpdateAttempt replaces the stored attempt.
func (s *Store) UpdateAttempt(_ context.Context, a *delivery.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.attempts[a.ID]; !ok {
		return hookline.ErrDeliveryNotFound
	}
	s.attempts[a.ID] = copyAttempt(a)
	return nil
}

// CommitAttempt replaces the stored attempt if it still carries held.
func (s *Store) CommitAttempt(_ context.Context, a *delivery.Attempt, held delivery.Hold) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.attempts[a.ID]
	if !ok {
		return hookline.ErrDeliveryNotFound
	}
	if !held.Matches(cur.ClaimedBy, cur.ClaimedUntil) {
		return delivery.ErrLeaseLost
	}
	s.attempts[a.ID] = copyAttempt(a)
	return nil
}

// ClaimDue leases up to limit due attempts, oldest retry first. The mutex
// stands in for row locking.
func (s *Store) ClaimDue(_ context.Context, c delivery.Claim, limit int) ([]*delivery.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*delivery.Attempt
	for _, a := range s.attempts {
		if a.Due(c.Now) {
			due = append(due, a)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return dueAt(due[i]).Before(dueAt(due[j]))
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	result := make([]*delivery.Attempt, 0, len(due))
	for _, a := range due {
		a.Lease(c)
		result = append(result, copyAttempt(a))
	}
	return result, nil
}

// ClaimAttempt leases one non-terminal attempt that is not leased elsewhere.
func (s *Store) ClaimAttempt(_ context.Context, attemptID uuid.UUID, c delivery.Claim) (*delivery.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[attemptID]
	if !ok {
		return nil, hookline.ErrDeliveryNotFound
	}
	if a.Status.Terminal() || a.Leased(c.Now) {
		return nil, nil
	}
	a.Lease(c)
	return copyAttempt(a), nil
}

// ListAttempts returns matching attempts, newest first.
func (s *Store) ListAttempts(_ context.Context, opts delivery.ListOpts) ([]*delivery.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Attempt, 0)
	for _, a := range s.attempts {
		if opts.Matches(a) {
			result = append(result, copyAttempt(a))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID.String() > result[j].ID.String()
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// CountByStatus returns the tenant's attempt counts per status.
func (s *Store) CountByStatus(_ context.Context, tenantID string) (map[delivery.Status]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[delivery.Status]int64)
	for _, a := range s.attempts {
		if tenantID == "" || a.TenantID == tenantID {
			counts[a.Status]++
		}
	}
	return counts, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func dueAt(a *delivery.Attempt) time.Time {
	if a.NextRetryAt != nil {
		return *a.NextRetryAt
	}
	return a.CreatedAt
}

func copySubscription(sub *subscription.Subscription) *subscription.Subscription {
	cp := *sub
	cp.EventTypes = slices.Clone(sub.EventTypes)
	return &cp
}

func copyAttempt(a *delivery.Attempt) *delivery.Attempt {
	cp := *a
	cp.Payload = slices.Clone(a.Payload)
	cp.LastStatusCode = clonePtr(a.LastStatusCode)
	cp.LastError = clonePtr(a.LastError)
	cp.NextRetryAt = clonePtr(a.NextRetryAt)
	cp.DeliveredAt = clonePtr(a.DeliveredAt)
	cp.ClaimedUntil = clonePtr(a.ClaimedUntil)
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 {
		if offset >= len(items) {
			return []*T{}
		}
		items = items[offset:]
	}

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}
