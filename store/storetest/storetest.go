// Package storetest holds the behavioural tests every store.Store backend
// must pass.
package storetest

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/hookline"
	"github.com/xraph/hookline/catalog"
	"github.com/xraph/hookline/delivery"
	"github.com/xraph/hookline/id"
	"github.com/xraph/hookline/internal/entity"
	"github.com/xraph/hookline/store"
	"github.com/xraph/hookline/subscription"
)

// Factory returns a fresh, empty, migrated store.
type Factory func(t *testing.T) store.Store

// Run runs the whole suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Catalog", func(t *testing.T) { testCatalog(t, newStore(t)) })
	t.Run("SubscriptionTenantScope", func(t *testing.T) { testSubscriptionTenantScope(t, newStore(t)) })
	t.Run("SubscriptionResolve", func(t *testing.T) { testSubscriptionResolve(t, newStore(t)) })
	t.Run("AttemptRoundTrip", func(t *testing.T) { testAttemptRoundTrip(t, newStore(t)) })
	t.Run("ClaimDue", func(t *testing.T) { testClaimDue(t, newStore(t)) })
	t.Run("ClaimDueIsExclusive", func(t *testing.T) { testClaimDueIsExclusive(t, newStore(t)) })
	t.Run("ClaimAttempt", func(t *testing.T) { testClaimAttempt(t, newStore(t)) })
	t.Run("ListAndCount", func(t *testing.T) { testListAndCount(t, newStore(t)) })
	t.Run("ListPagesByStatus", func(t *testing.T) { testListPagesByStatus(t, newStore(t)) })
	t.Run("CommitAttempt", func(t *testing.T) { testCommitAttempt(t, newStore(t)) })
}

func ctx() context.Context { return context.Background() }

// NewSubscription returns an unsaved active subscription.
func NewSubscription(tenantID string, eventTypes ...string) *subscription.Subscription {
	return &subscription.Subscription{
		Entity:     entity.New(),
		ID:         id.NewSubscriptionID(),
		TenantID:   tenantID,
		URL:        "https://lms.example.com/hooks",
		EventTypes: eventTypes,
		Secret:     "whsec_test_secret_1234567890abcdef1234567890abcdef",
		Active:     true,
	}
}

// NewAttempt returns an unsaved pending attempt for sub.
func NewAttempt(sub *subscription.Subscription, createdAt time.Time) *delivery.Attempt {
	return &delivery.Attempt{
		Entity:         entity.At(createdAt),
		ID:             uuid.Must(uuid.NewV7()),
		SubscriptionID: sub.ID,
		TenantID:       sub.TenantID,
		EventType:      "quest.completed",
		Payload:        []byte(`{"event":"quest.completed","timestamp":"2026-01-01T00:00:00Z","data":{"quest_id":"q1"},"tenant_id":"` + sub.TenantID + `"}`),
		Status:         delivery.StatusPending,
		MaxAttempts:    5,
	}
}

func mustCreateSub(t *testing.T, s store.Store, sub *subscription.Subscription) {
	t.Helper()
	if err := s.CreateSubscription(ctx(), sub); err != nil {
		t.Fatal(err)
	}
}

func mustCreateAttempts(t *testing.T, s store.Store, as ...*delivery.Attempt) {
	t.Helper()
	if err := s.CreateAttempts(ctx(), as); err != nil {
		t.Fatal(err)
	}
}

func testCatalog(t *testing.T, s store.Store) {
	et := &catalog.EventType{
		Entity:     entity.New(),
		ID:         id.NewEventTypeID(),
		Definition: catalog.Definition{Name: "quest.completed", Description: "v1"},
	}
	if err := s.RegisterType(ctx(), et); err != nil {
		t.Fatal(err)
	}
	firstID := et.ID.String()

	again := &catalog.EventType{
		Entity:     entity.New(),
		ID:         id.NewEventTypeID(),
		Definition: catalog.Definition{Name: "quest.completed", Description: "v2"},
	}
	if err := s.RegisterType(ctx(), again); err != nil {
		t.Fatal(err)
	}
	if again.ID.String() != firstID {
		t.Fatalf("upsert should keep ID %s, got %s", firstID, again.ID)
	}

	got, err := s.GetType(ctx(), "quest.completed")
	if err != nil {
		t.Fatal(err)
	}
	if got.Definition.Description != "v2" {
		t.Fatalf("expected updated description, got %q", got.Definition.Description)
	}

	if _, err := s.GetType(ctx(), "nope"); !errors.Is(err, hookline.ErrEventTypeNotFound) {
		t.Fatalf("expected ErrEventTypeNotFound, got %v", err)
	}

	if err := s.DeleteType(ctx(), "quest.completed"); err != nil {
		t.Fatal(err)
	}
	list, err := s.ListTypes(ctx(), catalog.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("deprecated types should be hidden, got %d", len(list))
	}
	list, _ = s.ListTypes(ctx(), catalog.ListOpts{IncludeDeprecated: true})
	if len(list) != 1 || !list[0].IsDeprecated {
		t.Fatalf("expected one deprecated type, got %v", list)
	}
	if err := s.DeleteType(ctx(), "nope"); !errors.Is(err, hookline.ErrEventTypeNotFound) {
		t.Fatalf("expected ErrEventTypeNotFound, got %v", err)
	}
}

func testSubscriptionTenantScope(t *testing.T, s store.Store) {
	sub := NewSubscription("t1", "quest.completed")
	mustCreateSub(t, s, sub)

	got, err := s.GetSubscription(ctx(), "t1", sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Secret != sub.Secret || got.URL != sub.URL {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if _, err := s.GetSubscription(ctx(), "t2", sub.ID); !errors.Is(err, hookline.ErrSubscriptionNotFound) {
		t.Fatalf("cross-tenant get: %v", err)
	}
	if err := s.SetActive(ctx(), "t2", sub.ID, false); !errors.Is(err, hookline.ErrSubscriptionNotFound) {
		t.Fatalf("cross-tenant set active: %v", err)
	}
	if err := s.DeleteSubscription(ctx(), "t2", sub.ID); !errors.Is(err, hookline.ErrSubscriptionNotFound) {
		t.Fatalf("cross-tenant delete: %v", err)
	}

	if _, err := s.LookupSubscription(ctx(), sub.ID); err != nil {
		t.Fatalf("unscoped lookup: %v", err)
	}

	if err := s.SetActive(ctx(), "t1", sub.ID, false); err != nil {
		t.Fatal(err)
	}
	active := false
	list, err := s.ListSubscriptions(ctx(), "t1", subscription.ListOpts{Active: &active})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Active {
		t.Fatalf("expected one inactive subscription, got %v", list)
	}

	if err := s.DeleteSubscription(ctx(), "t1", sub.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LookupSubscription(ctx(), sub.ID); !errors.Is(err, hookline.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound after delete, got %v", err)
	}
}

func testSubscriptionResolve(t *testing.T, s store.Store) {
	a := NewSubscription("t1", "quest.completed", "badge.earned")
	b := NewSubscription("t1", "badge.earned")
	c := NewSubscription("t2", "quest.completed")
	d := NewSubscription("t1", "quest.completed")
	d.Active = false
	for _, sub := range []*subscription.Subscription{a, b, c, d} {
		mustCreateSub(t, s, sub)
	}

	got, err := s.Resolve(ctx(), "t1", "quest.completed")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID.String() != a.ID.String() {
		t.Fatalf("expected only %s, got %v", a.ID, got)
	}

	got, err = s.Resolve(ctx(), "t1", "quest")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("partial names must not match, got %d", len(got))
	}
}

func testAttemptRoundTrip(t *testing.T, s store.Store) {
	sub := NewSubscription("t1", "quest.completed")
	a := NewAttempt(sub, time.Now())
	mustCreateAttempts(t, s, a)

	got, err := s.GetAttempt(ctx(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Payload) != string(a.Payload) {
		t.Fatalf("payload changed: %s", got.Payload)
	}
	if got.Status != delivery.StatusPending || got.LastStatusCode != nil || got.NextRetryAt != nil {
		t.Fatalf("unexpected attempt: %+v", got)
	}

	code := 500
	msg := "unexpected status 500"
	next := time.Now().Add(time.Minute).UTC().Truncate(time.Millisecond)
	got.Status = delivery.StatusFailed
	got.AttemptCount = 1
	got.LastStatusCode = &code
	got.LastError = &msg
	got.NextRetryAt = &next
	if err := s.UpdateAttempt(ctx(), got); err != nil {
		t.Fatal(err)
	}

	got, err = s.GetAttempt(ctx(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AttemptCount != 1 || got.LastStatusCode == nil || *got.LastStatusCode != 500 {
		t.Fatalf("update lost: %+v", got)
	}
	if got.NextRetryAt == nil || !got.NextRetryAt.Equal(next) {
		t.Fatalf("expected next retry %v, got %v", next, got.NextRetryAt)
	}

	if _, err := s.GetAttempt(ctx(), uuid.New()); !errors.Is(err, hookline.ErrDeliveryNotFound) {
		t.Fatalf("expected ErrDeliveryNotFound, got %v", err)
	}
}

func testClaimDue(t *testing.T, s store.Store) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	sub := NewSubscription("t1", "quest.completed")

	due := NewAttempt(sub, now.Add(-time.Hour))
	due.Status = delivery.StatusFailed
	past := now.Add(-time.Second)
	due.NextRetryAt = &past

	notYet := NewAttempt(sub, now.Add(-time.Hour))
	notYet.Status = delivery.StatusFailed
	future := now.Add(time.Minute)
	notYet.NextRetryAt = &future

	orphan := NewAttempt(sub, now.Add(-time.Hour))
	expired := now.Add(-time.Second)
	orphan.ClaimedBy = "dead-worker"
	orphan.ClaimedUntil = &expired

	leased := NewAttempt(sub, now.Add(-time.Hour))
	held := now.Add(time.Minute)
	leased.ClaimedBy = "live-worker"
	leased.ClaimedUntil = &held

	exhausted := NewAttempt(sub, now.Add(-time.Hour))
	exhausted.Status = delivery.StatusExhausted
	exhausted.AttemptCount = 5

	delivered := NewAttempt(sub, now.Add(-time.Hour))
	delivered.Status = delivery.StatusDelivered
	delivered.DeliveredAt = &past

	mustCreateAttempts(t, s, due, notYet, orphan, leased, exhausted, delivered)

	claim := delivery.Claim{Owner: "w1", Now: now, Until: now.Add(2 * time.Minute)}
	got, err := s.ClaimDue(ctx(), claim, 10)
	if err != nil {
		t.Fatal(err)
	}
	ids := map[uuid.UUID]bool{}
	for _, a := range got {
		ids[a.ID] = true
		if a.ClaimedBy != "w1" || a.ClaimedUntil == nil {
			t.Fatalf("claimed attempt not leased: %+v", a)
		}
	}
	if len(got) != 2 || !ids[due.ID] || !ids[orphan.ID] {
		t.Fatalf("expected due and orphan, got %d attempts", len(got))
	}

	again, err := s.ClaimDue(ctx(), delivery.Claim{Owner: "w2", Now: now, Until: now.Add(2 * time.Minute)}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Fatalf("leased attempts must not be claimed twice, got %d", len(again))
	}
}

func testClaimDueIsExclusive(t *testing.T, s store.Store) {
	now := time.Now().UTC()
	sub := NewSubscription("t1", "quest.completed")
	var as []*delivery.Attempt
	for i := 0; i < 20; i++ {
		as = append(as, NewAttempt(sub, now.Add(-time.Duration(i)*time.Second)))
	}
	mustCreateAttempts(t, s, as...)

	var (
		mu   sync.Mutex
		seen = map[uuid.UUID]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			for {
				got, err := s.ClaimDue(ctx(), delivery.Claim{Owner: owner, Now: now, Until: now.Add(time.Minute)}, 3)
				if err != nil {
					t.Error(err)
					return
				}
				if len(got) == 0 {
					return
				}
				mu.Lock()
				for _, a := range got {
					seen[a.ID]++
				}
				mu.Unlock()
			}
		}(string(rune('a' + w)))
	}
	wg.Wait()

	if len(seen) != len(as) {
		t.Fatalf("expected %d claimed attempts, got %d", len(as), len(seen))
	}
	for aid, n := range seen {
		if n != 1 {
			t.Fatalf("attempt %s claimed %d times", aid, n)
		}
	}
}

func testClaimAttempt(t *testing.T, s store.Store) {
	now := time.Now().UTC()
	sub := NewSubscription("t1", "quest.completed")

	failed := NewAttempt(sub, now)
	failed.Status = delivery.StatusFailed
	later := now.Add(time.Hour)
	failed.NextRetryAt = &later

	done := NewAttempt(sub, now)
	done.Status = delivery.StatusDelivered

	mustCreateAttempts(t, s, failed, done)

	claim := delivery.Claim{Owner: "w1", Now: now, Until: now.Add(time.Minute)}
	got, err := s.ClaimAttempt(ctx(), failed.ID, claim)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ClaimedBy != "w1" {
		t.Fatalf("expected to claim failed attempt ahead of its retry time, got %+v", got)
	}

	got, err = s.ClaimAttempt(ctx(), failed.ID, delivery.Claim{Owner: "w2", Now: now, Until: now.Add(time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("second claimant must not receive a leased attempt")
	}

	got, err = s.ClaimAttempt(ctx(), done.ID, claim)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("terminal attempts are not claimable")
	}

	if _, err := s.ClaimAttempt(ctx(), uuid.New(), claim); !errors.Is(err, hookline.ErrDeliveryNotFound) {
		t.Fatalf("expected ErrDeliveryNotFound, got %v", err)
	}
}

func testListAndCount(t *testing.T, s store.Store) {
	base := time.Now().UTC().Add(-time.Hour)
	a := NewSubscription("t1", "quest.completed")
	b := NewSubscription("t1", "quest.completed")
	other := NewSubscription("t2", "quest.completed")

	first := NewAttempt(a, base)
	second := NewAttempt(a, base.Add(time.Minute))
	second.Status = delivery.StatusDelivered
	third := NewAttempt(b, base.Add(2*time.Minute))
	third.Status = delivery.StatusExhausted
	foreign := NewAttempt(other, base.Add(3*time.Minute))
	mustCreateAttempts(t, s, first, second, third, foreign)

	list, err := s.ListAttempts(ctx(), delivery.ListOpts{TenantID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 attempts for t1, got %d", len(list))
	}
	if list[0].ID != third.ID || list[2].ID != first.ID {
		t.Fatal("expected newest first")
	}

	list, _ = s.ListAttempts(ctx(), delivery.ListOpts{TenantID: "t1", SubscriptionID: &a.ID})
	if len(list) != 2 {
		t.Fatalf("expected 2 attempts for subscription, got %d", len(list))
	}

	list, _ = s.ListAttempts(ctx(), delivery.ListOpts{TenantID: "t1", Status: delivery.StatusDelivered})
	if len(list) != 1 || list[0].ID != second.ID {
		t.Fatalf("status filter failed: %v", list)
	}

	list, _ = s.ListAttempts(ctx(), delivery.ListOpts{TenantID: "t1", Offset: 1, Limit: 1})
	if len(list) != 1 || list[0].ID != second.ID {
		t.Fatalf("pagination failed: %v", list)
	}

	counts, err := s.CountByStatus(ctx(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if counts[delivery.StatusPending] != 1 || counts[delivery.StatusDelivered] != 1 || counts[delivery.StatusExhausted] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func testListPagesByStatus(t *testing.T, s store.Store) {
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	a := NewSubscription("t1", "quest.completed")
	b := NewSubscription("t1", "quest.completed")

	var all []*delivery.Attempt
	for i := 0; i < 7; i++ {
		at := NewAttempt(a, base.Add(time.Duration(i)*time.Minute))
		if i%2 == 0 {
			at.Status = delivery.StatusDelivered
		}
		all = append(all, at)
	}
	for i := 0; i < 3; i++ {
		at := NewAttempt(b, base.Add(time.Duration(i)*time.Minute+30*time.Second))
		at.Status = delivery.StatusDelivered
		all = append(all, at)
	}
	mustCreateAttempts(t, s, all...)

	// Expected IDs, newest first.
	want := func(match func(*delivery.Attempt) bool) []uuid.UUID {
		var out []*delivery.Attempt
		for _, at := range all {
			if match(at) {
				out = append(out, at)
			}
		}
		slices.SortFunc(out, func(x, y *delivery.Attempt) int { return y.CreatedAt.Compare(x.CreatedAt) })
		ids := make([]uuid.UUID, len(out))
		for i, at := range out {
			ids[i] = at.ID
		}
		return ids
	}

	tests := []struct {
		name string
		opts delivery.ListOpts
		want []uuid.UUID
	}{
		{
			name: "tenant and status",
			opts: delivery.ListOpts{TenantID: "t1", Status: delivery.StatusDelivered},
			want: want(func(at *delivery.Attempt) bool { return at.Status == delivery.StatusDelivered }),
		},
		{
			name: "subscription and status",
			opts: delivery.ListOpts{TenantID: "t1", SubscriptionID: &a.ID, Status: delivery.StatusDelivered},
			want: want(func(at *delivery.Attempt) bool {
				return at.SubscriptionID.String() == a.ID.String() && at.Status == delivery.StatusDelivered
			}),
		},
		{
			name: "subscription",
			opts: delivery.ListOpts{TenantID: "t1", SubscriptionID: &a.ID},
			want: want(func(at *delivery.Attempt) bool { return at.SubscriptionID.String() == a.ID.String() }),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const limit = 2
			var got []uuid.UUID
			for offset := 0; ; offset += limit {
				opts := tt.opts
				opts.Offset, opts.Limit = offset, limit
				page, err := s.ListAttempts(ctx(), opts)
				if err != nil {
					t.Fatal(err)
				}
				if len(page) > limit {
					t.Fatalf("page at offset %d has %d attempts", offset, len(page))
				}
				for _, at := range page {
					got = append(got, at.ID)
				}
				if len(page) < limit {
					break
				}
			}
			if len(tt.want) <= limit {
				t.Fatalf("case must span more than one page, has %d attempts", len(tt.want))
			}
			if !slices.Equal(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func testCommitAttempt(t *testing.T, s store.Store) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	sub := NewSubscription("t1", "quest.completed")
	a := NewAttempt(sub, now)
	mustCreateAttempts(t, s, a)

	// Unleased attempts commit against the zero hold.
	leased := *a
	leased.Lease(delivery.Claim{Owner: "w1", Now: now, Until: now.Add(time.Minute)})
	if err := s.CommitAttempt(ctx(), &leased, delivery.Hold{}); err != nil {
		t.Fatal(err)
	}
	stale, err := s.GetAttempt(ctx(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stale.ClaimedBy != "w1" {
		t.Fatalf("expected lease for w1, got %q", stale.ClaimedBy)
	}

	// The lease runs out and w2 takes over and delivers.
	later := now.Add(2 * time.Minute)
	taken, err := s.ClaimAttempt(ctx(), a.ID, delivery.Claim{Owner: "w2", Now: later, Until: later.Add(time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	if taken == nil {
		t.Fatal("expired lease should be claimable")
	}
	held := taken.Hold()
	taken.Status = delivery.StatusDelivered
	taken.AttemptCount = 1
	taken.DeliveredAt = &later
	taken.Release()
	if err := s.CommitAttempt(ctx(), taken, held); err != nil {
		t.Fatal(err)
	}

	// w1 finishing late must not overwrite the delivery.
	staleHeld := stale.Hold()
	retry := later.Add(time.Minute)
	stale.Status = delivery.StatusFailed
	stale.AttemptCount = 1
	stale.NextRetryAt = &retry
	stale.Release()
	if err := s.CommitAttempt(ctx(), stale, staleHeld); !errors.Is(err, delivery.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost, got %v", err)
	}

	got, err := s.GetAttempt(ctx(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != delivery.StatusDelivered || got.DeliveredAt == nil || got.NextRetryAt != nil {
		t.Fatalf("stale commit changed the attempt: %+v", got)
	}

	if err := s.CommitAttempt(ctx(), NewAttempt(sub, now), delivery.Hold{}); !errors.Is(err, hookline.ErrDeliveryNotFound) {
		t.Fatalf("expected ErrDeliveryNotFound, got %v", err)
	}
}
