package delivery_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/hookline/delivery"
	"github.com/xraph/hookline/ratelimit"
	"github.com/xraph/hookline/signature"
	"github.com/xraph/hookline/store/memory"
	"github.com/xraph/hookline/store/storetest"
	"github.com/xraph/hookline/subscription"
)

// testClock is a manually advanced time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stubLimiter always fails.
type stubLimiter struct{}

func (stubLimiter) Allow(context.Context, string, int, time.Duration) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("redis: connection refused")
}

type fixture struct {
	store *memory.Store
	clock *testClock
	srv   *httptest.Server
	sub   *subscription.Subscription
}

func newFixture(t *testing.T, handler http.Handler) *fixture {
	t.Helper()
	srv := httptest.NewTLSServer(handler)
	t.Cleanup(srv.Close)

	f := &fixture{store: memory.New(), clock: newTestClock(), srv: srv}
	f.sub = storetest.NewSubscription("tenant-1", "quest.completed")
	f.sub.URL = srv.URL
	f.sub.Secret = testSecret
	if err := f.store.CreateSubscription(context.Background(), f.sub); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) engine(workerID string, limiter ratelimit.Limiter, mutate func(*delivery.EngineConfig)) *delivery.Engine {
	cfg := delivery.EngineConfig{
		WorkerID:       workerID,
		Concurrency:    2,
		BatchSize:      10,
		RequestTimeout: 5 * time.Second,
		ClaimTTL:       2 * time.Minute,
		MaxAttempts:    5,
		BackoffBase:    time.Minute,
		BackoffMax:     16 * time.Minute,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return delivery.NewEngine(f.store, f.store, limiter, cfg, nil,
		delivery.WithClock(f.clock.Now),
		delivery.WithSender(delivery.NewSender(cfg.RequestTimeout, delivery.WithHTTPClient(f.srv.Client()))),
	)
}

func (f *fixture) enqueue(t *testing.T) *delivery.Attempt {
	t.Helper()
	a := storetest.NewAttempt(f.sub, f.clock.Now())
	if err := f.store.CreateAttempts(context.Background(), []*delivery.Attempt{a}); err != nil {
		t.Fatal(err)
	}
	return a
}

func (f *fixture) get(t *testing.T, a *delivery.Attempt) *delivery.Attempt {
	t.Helper()
	got, err := f.store.GetAttempt(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func sweep(t *testing.T, e *delivery.Engine) int {
	t.Helper()
	n, err := e.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestEngineDeliversOnFirstTry(t *testing.T) {
	var hits atomic.Int32
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	e := f.engine("w1", nil, nil)
	a := f.enqueue(t)

	res, err := e.Execute(context.Background(), a)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK() {
		t.Fatalf("expected success, got %+v", res)
	}

	got := f.get(t, a)
	if got.Status != delivery.StatusDelivered {
		t.Fatalf("expected delivered, got %s", got.Status)
	}
	if got.AttemptCount != 1 || got.DeliveredAt == nil || got.NextRetryAt != nil {
		t.Fatalf("unexpected attempt: %+v", got)
	}
	if got.LastStatusCode == nil || *got.LastStatusCode != 200 {
		t.Fatalf("expected last status 200, got %v", got.LastStatusCode)
	}
	if got.ClaimedUntil != nil || got.ClaimedBy != "" {
		t.Fatal("lease should be released")
	}
	if hits.Load() != 1 {
		t.Fatalf("expected 1 request, got %d", hits.Load())
	}
}

func TestEngineRetriesWithBackoffThenDelivers(t *testing.T) {
	var hits atomic.Int32
	var mu sync.Mutex
	var deliveryIDs []string

	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		deliveryIDs = append(deliveryIDs, r.Header.Get("X-Delivery-Id"))
		mu.Unlock()
		if hits.Add(1) <= 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	e := f.engine("w1", nil, nil)
	a := f.enqueue(t)

	if _, err := e.Execute(context.Background(), a); err != nil {
		t.Fatal(err)
	}

	for i, backoff := range []time.Duration{time.Minute, 2 * time.Minute, 4 * time.Minute} {
		got := f.get(t, a)
		if got.Status != delivery.StatusFailed {
			t.Fatalf("try %d: expected failed, got %s", i+1, got.Status)
		}
		if got.AttemptCount != i+1 {
			t.Fatalf("try %d: expected count %d, got %d", i+1, i+1, got.AttemptCount)
		}
		want := f.clock.Now().Add(backoff)
		if got.NextRetryAt == nil || !got.NextRetryAt.Equal(want) {
			t.Fatalf("try %d: expected next retry %v, got %v", i+1, want, got.NextRetryAt)
		}

		// Not due a second early.
		f.clock.Advance(backoff - time.Second)
		if n := sweep(t, e); n != 0 {
			t.Fatalf("try %d: swept %d attempts before they were due", i+1, n)
		}
		f.clock.Advance(time.Second)
		if n := sweep(t, e); n != 1 {
			t.Fatalf("try %d: expected to sweep 1 attempt, got %d", i+1, n)
		}
	}

	got := f.get(t, a)
	if got.Status != delivery.StatusDelivered {
		t.Fatalf("expected delivered, got %s", got.Status)
	}
	if got.AttemptCount != 4 {
		t.Fatalf("expected count 4, got %d", got.AttemptCount)
	}
	if got.NextRetryAt != nil || got.DeliveredAt == nil {
		t.Fatalf("unexpected timestamps: %+v", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(deliveryIDs) != 4 {
		t.Fatalf("expected 4 requests, got %d", len(deliveryIDs))
	}
	for _, got := range deliveryIDs {
		if got != a.ID.String() {
			t.Fatalf("X-Delivery-Id changed between tries: %v", deliveryIDs)
		}
	}
}

func TestEngineExhaustsAfterMaxAttempts(t *testing.T) {
	var hits atomic.Int32
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	e := f.engine("w1", nil, nil)
	a := f.enqueue(t)

	if _, err := e.Execute(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	prev := 1
	for i := 0; i < 10; i++ {
		f.clock.Advance(16 * time.Minute)
		sweep(t, e)

		got := f.get(t, a)
		if got.AttemptCount < prev {
			t.Fatalf("attempt count decreased from %d to %d", prev, got.AttemptCount)
		}
		if got.AttemptCount > 5 {
			t.Fatalf("attempt count exceeded max: %d", got.AttemptCount)
		}
		prev = got.AttemptCount
	}

	got := f.get(t, a)
	if got.Status != delivery.StatusExhausted {
		t.Fatalf("expected exhausted, got %s", got.Status)
	}
	if got.AttemptCount != 5 {
		t.Fatalf("expected count 5, got %d", got.AttemptCount)
	}
	if got.NextRetryAt != nil {
		t.Fatal("exhausted attempt must not have a retry time")
	}
	if got.DeliveredAt != nil {
		t.Fatal("exhausted attempt must not have delivered_at")
	}
	if hits.Load() != 5 {
		t.Fatalf("expected exactly 5 requests, got %d", hits.Load())
	}

	if _, err := e.Execute(context.Background(), got); err == nil {
		t.Fatal("executing a terminal attempt should fail")
	}
	if hits.Load() != 5 {
		t.Fatal("terminal attempt was sent again")
	}
}

func TestEngineConcurrentClaimSendsOnce(t *testing.T) {
	var hits atomic.Int32
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		time.Sleep(20 * time.Millisecond)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	a := f.enqueue(t)

	// Make the attempt due for a retry.
	stored := f.get(t, a)
	past := f.clock.Now().Add(-time.Second)
	stored.Status = delivery.StatusFailed
	stored.AttemptCount = 1
	stored.NextRetryAt = &past
	if err := f.store.UpdateAttempt(context.Background(), stored); err != nil {
		t.Fatal(err)
	}

	engines := []*delivery.Engine{f.engine("w1", nil, nil), f.engine("w2", nil, nil)}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, e := range engines {
		wg.Add(1)
		go func(e *delivery.Engine) {
			defer wg.Done()
			<-start
			if _, err := e.Sweep(context.Background()); err != nil {
				t.Error(err)
			}
		}(e)
	}
	close(start)
	wg.Wait()

	if hits.Load() != 1 {
		t.Fatalf("expected exactly 1 request, got %d", hits.Load())
	}
	if got := f.get(t, a); got.AttemptCount != 2 {
		t.Fatalf("expected count 2, got %d", got.AttemptCount)
	}
}

func TestEngineSkipsLeasedPendingAttempts(t *testing.T) {
	var hits atomic.Int32
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	e := f.engine("w1", nil, nil)

	a := storetest.NewAttempt(f.sub, f.clock.Now())
	a.Lease(delivery.Claim{Owner: "dispatcher", Now: f.clock.Now(), Until: f.clock.Now().Add(2 * time.Minute)})
	if err := f.store.CreateAttempts(context.Background(), []*delivery.Attempt{a}); err != nil {
		t.Fatal(err)
	}

	if n := sweep(t, e); n != 0 {
		t.Fatalf("a leased first try must not be swept, got %d", n)
	}

	// The dispatcher died; its lease runs out and the sweep recovers the attempt.
	f.clock.Advance(2*time.Minute + time.Second)
	if n := sweep(t, e); n != 1 {
		t.Fatalf("expected orphaned attempt to be swept, got %d", n)
	}
	if got := f.get(t, a); got.Status != delivery.StatusDelivered || hits.Load() != 1 {
		t.Fatalf("expected delivered after recovery, got %s (%d requests)", got.Status, hits.Load())
	}
}

func TestEngineRateLimitCountsAsFailedTry(t *testing.T) {
	var hits atomic.Int32
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	limiter := ratelimit.NewMemory(ratelimit.WithClock(f.clock.Now))
	e := f.engine("w1", limiter, func(cfg *delivery.EngineConfig) {
		cfg.RateLimit = 1
		cfg.RateWindow = time.Minute
	})

	first := f.enqueue(t)
	second := f.enqueue(t)

	if _, err := e.Execute(context.Background(), first); err != nil {
		t.Fatal(err)
	}
	res, err := e.Execute(context.Background(), second)
	if err != nil {
		t.Fatal(err)
	}
	if !res.RateLimited || !errors.Is(res.Err(), ratelimit.ErrRateLimited) {
		t.Fatalf("expected rate-limited result, got %+v", res)
	}
	if hits.Load() != 1 {
		t.Fatalf("rate-limited try must not send, got %d requests", hits.Load())
	}

	got := f.get(t, second)
	if got.Status != delivery.StatusFailed || got.AttemptCount != 1 {
		t.Fatalf("expected failed try with count 1, got %s/%d", got.Status, got.AttemptCount)
	}
	if got.LastError == nil || *got.LastError != ratelimit.ErrRateLimited.Error() {
		t.Fatalf("expected rate limit error recorded, got %v", got.LastError)
	}
	if got.LastStatusCode != nil {
		t.Fatalf("no response was received, got status %d", *got.LastStatusCode)
	}

	// Once the window has passed the retry goes through.
	f.clock.Advance(time.Minute)
	sweep(t, e)
	if got := f.get(t, second); got.Status != delivery.StatusDelivered {
		t.Fatalf("expected delivered after window, got %s", got.Status)
	}
}

func TestEngineSubscriptionRateLimitOverridesDefault(t *testing.T) {
	var hits atomic.Int32
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	f.sub.RateLimit = 3
	if err := f.store.DeleteSubscription(context.Background(), f.sub.TenantID, f.sub.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.store.CreateSubscription(context.Background(), f.sub); err != nil {
		t.Fatal(err)
	}

	limiter := ratelimit.NewMemory(ratelimit.WithClock(f.clock.Now))
	e := f.engine("w1", limiter, func(cfg *delivery.EngineConfig) { cfg.RateLimit = 1 })

	for i := 0; i < 4; i++ {
		if _, err := e.Execute(context.Background(), f.enqueue(t)); err != nil {
			t.Fatal(err)
		}
	}
	if hits.Load() != 3 {
		t.Fatalf("expected subscription limit of 3, got %d requests", hits.Load())
	}
}

func TestEngineLimiterErrorFailsOpen(t *testing.T) {
	var hits atomic.Int32
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	e := f.engine("w1", stubLimiter{}, func(cfg *delivery.EngineConfig) { cfg.RateLimit = 1 })

	a := f.enqueue(t)
	if _, err := e.Execute(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 1 || f.get(t, a).Status != delivery.StatusDelivered {
		t.Fatal("limiter failure should not block delivery")
	}
}

func TestEngineDeletedSubscriptionExhausts(t *testing.T) {
	var hits atomic.Int32
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	e := f.engine("w1", nil, nil)
	a := f.enqueue(t)

	if err := f.store.DeleteSubscription(context.Background(), f.sub.TenantID, f.sub.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Execute(context.Background(), a); err != nil {
		t.Fatal(err)
	}

	got := f.get(t, a)
	if got.Status != delivery.StatusExhausted || got.NextRetryAt != nil {
		t.Fatalf("expected exhausted, got %+v", got)
	}
	if got.LastError == nil || *got.LastError != delivery.ReasonSubscriptionDeleted {
		t.Fatalf("expected %q, got %v", delivery.ReasonSubscriptionDeleted, got.LastError)
	}
	if hits.Load() != 0 {
		t.Fatal("no request should be made for a deleted subscription")
	}
}

func TestEngineDeactivatedSubscriptionKeepsAttempt(t *testing.T) {
	var hits atomic.Int32
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	a := f.enqueue(t)

	if err := f.store.SetActive(context.Background(), f.sub.TenantID, f.sub.ID, false); err != nil {
		t.Fatal(err)
	}

	got := f.get(t, a)
	if got.Status != delivery.StatusPending {
		t.Fatalf("deactivation must not touch attempts, got %s", got.Status)
	}

	e := f.engine("w1", nil, nil)
	if _, err := e.Execute(context.Background(), got); err != nil {
		t.Fatal(err)
	}
	if f.get(t, a).Status != delivery.StatusDelivered || hits.Load() != 1 {
		t.Fatal("pending attempt should still be delivered after deactivation")
	}
}

func TestEngineSkipInactive(t *testing.T) {
	var hits atomic.Int32
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	a := f.enqueue(t)
	if err := f.store.SetActive(context.Background(), f.sub.TenantID, f.sub.ID, false); err != nil {
		t.Fatal(err)
	}

	e := f.engine("w1", nil, func(cfg *delivery.EngineConfig) { cfg.SkipInactive = true })
	if _, err := e.Execute(context.Background(), a); err != nil {
		t.Fatal(err)
	}

	got := f.get(t, a)
	if got.Status != delivery.StatusExhausted || got.LastError == nil || *got.LastError != delivery.ReasonSubscriptionInactive {
		t.Fatalf("expected exhausted as inactive, got %+v", got)
	}
	if hits.Load() != 0 {
		t.Fatal("no request should be made")
	}
}

func TestEngineSignsStoredPayload(t *testing.T) {
	var verified atomic.Bool
	var body atomic.Value
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body.Store(string(b))
		verified.Store(signature.Verify(testSecret, b, r.Header.Get(signature.HeaderName)))
		w.WriteHeader(http.StatusOK)
	}))
	e := f.engine("w1", nil, nil)
	a := f.enqueue(t)

	if _, err := e.Execute(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if !verified.Load() {
		t.Fatal("signature did not verify")
	}
	if body.Load().(string) != string(a.Payload) {
		t.Fatal("body differs from stored payload")
	}
}

func TestEngineProbeLeavesAttemptUntouched(t *testing.T) {
	var hits atomic.Int32
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	e := f.engine("w1", nil, nil)
	a := f.enqueue(t)

	stored := f.get(t, a)
	stored.Status = delivery.StatusExhausted
	stored.AttemptCount = 5
	if err := f.store.UpdateAttempt(context.Background(), stored); err != nil {
		t.Fatal(err)
	}

	res, err := e.Probe(context.Background(), stored)
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != http.StatusAccepted || hits.Load() != 1 {
		t.Fatalf("unexpected probe result: %+v", res)
	}

	got := f.get(t, a)
	if got.Status != delivery.StatusExhausted || got.AttemptCount != 5 || got.LastStatusCode != nil {
		t.Fatalf("probe must not change the attempt, got %+v", got)
	}
}

func TestEngineSubmitAndStop(t *testing.T) {
	var hits atomic.Int32
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		time.Sleep(10 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	e := f.engine("w1", nil, nil)

	var batch []*delivery.Attempt
	for i := 0; i < 5; i++ {
		batch = append(batch, f.enqueue(t))
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.Submit(ctx, batch)
	cancel() // the caller going away must not abort the tries

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := e.Stop(stopCtx); err != nil {
		t.Fatal(err)
	}

	if hits.Load() != 5 {
		t.Fatalf("expected 5 requests, got %d", hits.Load())
	}
	for _, a := range batch {
		if got := f.get(t, a); got.Status != delivery.StatusDelivered {
			t.Fatalf("attempt %s: expected delivered, got %s", a.ID, got.Status)
		}
	}

	// After Stop new work is refused and left to the scheduler.
	late := f.enqueue(t)
	e.Submit(context.Background(), []*delivery.Attempt{late})
	if got := f.get(t, late); got.Status != delivery.StatusPending {
		t.Fatalf("expected late attempt to stay pending, got %s", got.Status)
	}
}

func TestEngineQueuedFirstTryYieldsToNewerLease(t *testing.T) {
	var hits atomic.Int32
	var mu sync.Mutex
	perAttempt := map[string]int{}
	started := make(chan string, 1)
	release := make(chan struct{})

	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deliveryID := r.Header.Get("X-Delivery-Id")
		mu.Lock()
		perAttempt[deliveryID]++
		mu.Unlock()
		if hits.Add(1) == 1 {
			started <- deliveryID
			<-release
		}
		w.WriteHeader(http.StatusOK)
	}))
	w1 := f.engine("w1", nil, func(cfg *delivery.EngineConfig) { cfg.Concurrency = 1 })
	w2 := f.engine("w2", nil, nil)

	claim := w1.NewClaim()
	var batch []*delivery.Attempt
	for i := 0; i < 2; i++ {
		a := storetest.NewAttempt(f.sub, f.clock.Now())
		a.Lease(claim)
		batch = append(batch, a)
	}
	if err := f.store.CreateAttempts(context.Background(), batch); err != nil {
		t.Fatal(err)
	}
	w1.Submit(context.Background(), batch)

	// w1 is stuck on one request; the other try waits for a slot.
	inFlight := <-started
	queued := batch[0]
	if queued.ID.String() == inFlight {
		queued = batch[1]
	}

	// The lease runs out and w2 recovers both attempts.
	f.clock.Advance(3 * time.Minute)
	if n := sweep(t, w2); n != 2 {
		close(release)
		t.Fatalf("expected w2 to claim both attempts, got %d", n)
	}
	close(release)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w1.Stop(stopCtx); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	queuedHits := perAttempt[queued.ID.String()]
	mu.Unlock()
	if queuedHits != 1 {
		t.Fatalf("queued attempt sent %d times, want 1", queuedHits)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 requests, got %d", hits.Load())
	}
	for _, a := range batch {
		got := f.get(t, a)
		if got.Status != delivery.StatusDelivered || got.AttemptCount != 1 {
			t.Fatalf("attempt %s: expected delivered once, got %s/%d", a.ID, got.Status, got.AttemptCount)
		}
		if got.DeliveredAt == nil || got.NextRetryAt != nil {
			t.Fatalf("attempt %s: stale write leaked: %+v", a.ID, got)
		}
		if got.ClaimedBy != "" || got.ClaimedUntil != nil {
			t.Fatalf("attempt %s: lease not released", a.ID)
		}
	}
}

func TestEngineExecuteRenewsExpiredLease(t *testing.T) {
	var hits atomic.Int32
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	e := f.engine("w1", nil, nil)

	a := storetest.NewAttempt(f.sub, f.clock.Now())
	a.Lease(e.NewClaim())
	if err := f.store.CreateAttempts(context.Background(), []*delivery.Attempt{a}); err != nil {
		t.Fatal(err)
	}

	// Nobody took the attempt over, so the late try still goes out.
	f.clock.Advance(3 * time.Minute)
	if _, err := e.Execute(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if got := f.get(t, a); got.Status != delivery.StatusDelivered || hits.Load() != 1 {
		t.Fatalf("expected delivered once, got %s (%d requests)", got.Status, hits.Load())
	}
}

func TestEngineStaleExecuteReportsLeaseLost(t *testing.T) {
	var hits atomic.Int32
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	w1 := f.engine("w1", nil, nil)
	w2 := f.engine("w2", nil, nil)

	a := storetest.NewAttempt(f.sub, f.clock.Now())
	a.Lease(w1.NewClaim())
	if err := f.store.CreateAttempts(context.Background(), []*delivery.Attempt{a}); err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(3 * time.Minute)
	if n := sweep(t, w2); n != 1 {
		t.Fatalf("expected w2 to recover the attempt, got %d", n)
	}

	if _, err := w1.Execute(context.Background(), a); !errors.Is(err, delivery.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("stale copy must not be sent, got %d requests", hits.Load())
	}
	if got := f.get(t, a); got.Status != delivery.StatusDelivered {
		t.Fatalf("expected delivered, got %s", got.Status)
	}
}
