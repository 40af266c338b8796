package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/hookline/observability"
	"github.com/xraph/hookline/ratelimit"
	"github.com/xraph/hookline/subscription"
)

// Reasons recorded when an attempt is abandoned without a request.
const (
	ReasonSubscriptionDeleted  = "subscription deleted"
	ReasonSubscriptionInactive = "subscription inactive"
)

// EngineConfig holds engine configuration.
type EngineConfig struct {
	// WorkerID names this process in attempt leases. Empty generates one.
	WorkerID string

	Concurrency    int
	BatchSize      int
	RequestTimeout time.Duration
	ClaimTTL       time.Duration

	// MaxAttempts bounds attempts persisted without their own maximum.
	MaxAttempts int

	BackoffBase time.Duration
	BackoffMax  time.Duration

	// RateLimit is the default number of outbound tries allowed per
	// subscription per RateWindow. Zero disables outbound limiting.
	RateLimit  int
	RateWindow time.Duration

	// SkipInactive exhausts attempts whose subscription was deactivated
	// instead of still trying them.
	SkipInactive bool

	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSender replaces the HTTP sender.
func WithSender(s *Sender) EngineOption {
	return func(e *Engine) { e.sender = s }
}

// WithClock replaces the engine's time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// Engine runs delivery tries: the asynchronous first try of new attempts and
// the retries claimed by Sweep.
type Engine struct {
	store   Store
	subs    SubscriptionSource
	limiter ratelimit.Limiter
	sender  *Sender
	retrier *Retrier
	config  EngineConfig
	logger  *slog.Logger
	now     func() time.Time

	sem     chan struct{}
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewEngine creates a delivery engine. limiter may be nil.
func NewEngine(store Store, subs SubscriptionSource, limiter ratelimit.Limiter, cfg EngineConfig, logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = newWorkerID()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 2 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}

	e := &Engine{
		store:   store,
		subs:    subs,
		limiter: limiter,
		sender:  NewSender(cfg.RequestTimeout),
		retrier: NewRetrier(cfg.BackoffBase, cfg.BackoffMax),
		config:  cfg,
		logger:  logger,
		now:     time.Now,
		sem:     make(chan struct{}, cfg.Concurrency),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func newWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

// WorkerID returns the owner name this engine writes into leases.
func (e *Engine) WorkerID() string { return e.config.WorkerID }

// Now returns the engine's current time in UTC.
func (e *Engine) Now() time.Time { return e.now().UTC() }

// NewClaim returns a lease for this engine starting now.
func (e *Engine) NewClaim() Claim {
	now := e.Now()
	return Claim{
		Owner: e.config.WorkerID,
		Now:   now,
		Until: now.Add(e.config.ClaimTTL).Truncate(time.Millisecond),
	}
}

// renewWithin is the remaining lease below which Execute renews before
// sending: one request plus half the slack ClaimTTL leaves over it.
func (e *Engine) renewWithin() time.Duration {
	return e.config.RequestTimeout + (e.config.ClaimTTL-e.config.RequestTimeout)/2
}

// Submit runs the first try of each attempt in the background. The attempts
// must already be leased to this engine. Tries queued behind Concurrency
// renew the lease when they start, or drop the attempt if another worker
// took it meanwhile. The caller's cancellation does not reach the tries.
func (e *Engine) Submit(ctx context.Context, attempts []*Attempt) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		e.logger.WarnContext(ctx, "engine stopped, leaving attempts to the scheduler", "attempts", len(attempts))
		return
	}
	e.wg.Add(len(attempts))
	e.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	for _, a := range attempts {
		go func(a *Attempt) {
			defer e.wg.Done()
			e.sem <- struct{}{}
			defer func() { <-e.sem }()
			e.run(ctx, a, "first try")
		}(a)
	}
}

// Sweep claims one page of due attempts and tries them, at most Concurrency
// at a time. It returns the number of attempts claimed.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return 0, nil
	}
	e.wg.Add(1)
	e.mu.Unlock()
	defer e.wg.Done()

	batch, err := e.store.ClaimDue(ctx, e.NewClaim(), e.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("hookline: claim due attempts: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	e.logger.DebugContext(ctx, "claimed due attempts", "count", len(batch), "worker", e.config.WorkerID)

	runCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(e.config.Concurrency)
	for _, a := range batch {
		g.Go(func() error {
			e.run(runCtx, a, "retry")
			return nil
		})
	}
	_ = g.Wait()
	return len(batch), nil
}

// run executes a background try and logs what Execute could not persist.
func (e *Engine) run(ctx context.Context, a *Attempt, kind string) {
	_, err := e.Execute(ctx, a)
	switch {
	case err == nil:
	case errors.Is(err, ErrLeaseLost):
		e.logger.WarnContext(ctx, kind+" dropped, lease lost",
			"delivery_id", a.ID, "worker", e.config.WorkerID)
	default:
		e.logger.ErrorContext(ctx, kind+" failed to persist",
			"delivery_id", a.ID, "error", err)
	}
}

// Stop refuses new work and waits for in-flight tries or ctx.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute performs one try of an attempt the caller holds the lease on, then
// persists the transition and releases the lease. A lease close to running
// out is renewed first. Every write is conditional on the lease a still
// carries, so a caller whose lease was taken over gets ErrLeaseLost and the
// newer state stands. The returned error only reports a failure to load or
// persist; the try's own outcome is in Result.
func (e *Engine) Execute(ctx context.Context, a *Attempt) (Result, error) {
	if a.Status.Terminal() {
		return Result{}, fmt.Errorf("hookline: attempt %s is %s", a.ID, a.Status)
	}

	if a.ClaimedUntil == nil || a.ClaimedUntil.Sub(e.Now()) < e.renewWithin() {
		if err := e.renew(ctx, a); err != nil {
			return Result{}, err
		}
	}
	held := a.Hold()

	var span trace.Span
	if e.config.Tracer != nil {
		ctx, span = e.config.Tracer.StartDeliverySpan(ctx, a.ID.String(), a.SubscriptionID.String(), a.EventType, a.AttemptCount+1)
	}

	sub, err := e.subs.LookupSubscription(ctx, a.SubscriptionID)
	switch {
	case errors.Is(err, subscription.ErrNotFound):
		return e.abandon(ctx, span, a, held, ReasonSubscriptionDeleted)
	case err != nil:
		if span != nil {
			e.config.Tracer.EndDeliverySpan(span, 0, 0, err.Error())
		}
		return Result{}, fmt.Errorf("hookline: load subscription: %w", err)
	case !sub.Active && e.config.SkipInactive:
		return e.abandon(ctx, span, a, held, ReasonSubscriptionInactive)
	}

	res := e.try(ctx, sub, a)
	decision := e.apply(a, res)

	if span != nil {
		e.config.Tracer.EndDeliverySpan(span, res.StatusCode, res.LatencyMs, res.Error)
	}

	if updateErr := e.store.CommitAttempt(ctx, a, held); updateErr != nil {
		return res, fmt.Errorf("hookline: update attempt: %w", updateErr)
	}

	latencySeconds := float64(res.LatencyMs) / 1000.0
	switch decision {
	case Delivered:
		e.config.Metrics.RecordDelivery("delivered", latencySeconds)
		e.logger.DebugContext(ctx, "delivered",
			"delivery_id", a.ID, "status", res.StatusCode, "attempt", a.AttemptCount, "latency_ms", res.LatencyMs)
	case Retry:
		e.config.Metrics.RecordDelivery("failed", latencySeconds)
		e.logger.DebugContext(ctx, "retry scheduled",
			"delivery_id", a.ID, "attempt", a.AttemptCount, "next_at", a.NextRetryAt, "error", res.Err())
	case Exhaust:
		e.config.Metrics.RecordDelivery("exhausted", latencySeconds)
		e.logger.WarnContext(ctx, "delivery exhausted",
			"delivery_id", a.ID, "subscription_id", a.SubscriptionID, "attempt", a.AttemptCount,
			"status", res.StatusCode, "error", fmt.Errorf("%w: %s", ErrExhausted, res.Error))
	}
	return res, nil
}

// Probe sends the attempt's signed payload to its destination without
// changing the attempt or charging the rate limiter.
func (e *Engine) Probe(ctx context.Context, a *Attempt) (Result, error) {
	sub, err := e.subs.LookupSubscription(ctx, a.SubscriptionID)
	if err != nil {
		return Result{}, err
	}
	res := e.sender.Send(ctx, sub.URL, sub.Secret, a)
	e.logger.InfoContext(ctx, "probe sent",
		"delivery_id", a.ID, "status", res.StatusCode, "latency_ms", res.LatencyMs)
	return res, nil
}

// try charges the rate limiter and, if allowed, sends the request.
func (e *Engine) try(ctx context.Context, sub *subscription.Subscription, a *Attempt) Result {
	limit := e.config.RateLimit
	if sub.RateLimit > 0 {
		limit = sub.RateLimit
	}
	if e.limiter != nil && limit > 0 {
		rl, err := e.limiter.Allow(ctx, ratelimit.DeliveryKey(sub.ID.String()), limit, e.config.RateWindow)
		switch {
		case err != nil:
			e.logger.WarnContext(ctx, "rate limiter unavailable, sending anyway",
				"subscription_id", sub.ID, "error", err)
		case !rl.Allowed:
			e.config.Metrics.RecordRateLimited("outbound")
			return Result{RateLimited: true, Error: ratelimit.ErrRateLimited.Error()}
		}
	}
	return e.sender.Send(ctx, sub.URL, sub.Secret, a)
}

// apply records the try on the attempt and moves it to its next state.
func (e *Engine) apply(a *Attempt, res Result) Decision {
	now := e.Now()

	if a.MaxAttempts <= 0 {
		a.MaxAttempts = e.config.MaxAttempts
	}
	if a.AttemptCount < a.MaxAttempts {
		a.AttemptCount++
	}

	a.LastStatusCode = nil
	if res.StatusCode != 0 {
		code := res.StatusCode
		a.LastStatusCode = &code
	}
	a.LastError = nil
	if res.Error != "" {
		msg := res.Error
		a.LastError = &msg
	}
	a.LastLatencyMs = res.LatencyMs

	decision := e.retrier.Decide(res, a)
	switch decision {
	case Delivered:
		a.Status = StatusDelivered
		a.DeliveredAt = &now
		a.NextRetryAt = nil
	case Retry:
		next := e.retrier.NextRetry(now, a.AttemptCount)
		a.Status = StatusFailed
		a.NextRetryAt = &next
	case Exhaust:
		a.Status = StatusExhausted
		a.NextRetryAt = nil
	}

	a.Release()
	a.Touch(now)
	return decision
}

// renew extends the lease on a, failing with ErrLeaseLost when the stored
// attempt has moved on.
func (e *Engine) renew(ctx context.Context, a *Attempt) error {
	held := a.Hold()
	a.Lease(e.NewClaim())
	if err := e.store.CommitAttempt(ctx, a, held); err != nil {
		return fmt.Errorf("hookline: renew lease: %w", err)
	}
	return nil
}

// abandon exhausts an attempt whose destination is gone without sending it.
func (e *Engine) abandon(ctx context.Context, span trace.Span, a *Attempt, held Hold, reason string) (Result, error) {
	now := e.Now()
	a.Status = StatusExhausted
	a.NextRetryAt = nil
	a.LastError = &reason
	a.Release()
	a.Touch(now)

	if span != nil {
		e.config.Tracer.EndDeliverySpan(span, 0, 0, reason)
	}
	if err := e.store.CommitAttempt(ctx, a, held); err != nil {
		return Result{Error: reason}, fmt.Errorf("hookline: update attempt: %w", err)
	}

	e.config.Metrics.RecordDelivery("exhausted", 0)
	e.logger.WarnContext(ctx, "delivery abandoned",
		"delivery_id", a.ID, "subscription_id", a.SubscriptionID, "reason", reason)
	return Result{Error: reason}, nil
}
