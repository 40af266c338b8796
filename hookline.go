package hookline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/hookline/catalog"
	"github.com/xraph/hookline/delivery"
	"github.com/xraph/hookline/internal/entity"
	"github.com/xraph/hookline/observability"
	"github.com/xraph/hookline/ratelimit"
	"github.com/xraph/hookline/store"
	"github.com/xraph/hookline/subscription"
)

// Hookline is the root webhook delivery engine.
type Hookline struct {
	config     Config
	store      store.Store
	limiter    ratelimit.Limiter
	catalog    *catalog.Catalog
	validator  *catalog.Validator
	subs       *subscription.Service
	engine     *delivery.Engine
	scheduler  *delivery.Scheduler
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	httpClient *http.Client
	now        func() time.Time
	logger     *slog.Logger
}

// New creates a Hookline with the given options. A store is required. When
// no limiter is given an in-process one is used.
func New(opts ...Option) (*Hookline, error) {
	h := &Hookline{
		config: DefaultConfig(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	if h.store == nil {
		return nil, ErrNoStore
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.limiter == nil {
		h.limiter = ratelimit.NewMemory(ratelimit.WithClock(h.now))
	}
	if h.config.ClaimTTL <= h.config.RequestTimeout {
		return nil, fmt.Errorf("hookline: claim ttl %s must exceed request timeout %s",
			h.config.ClaimTTL, h.config.RequestTimeout)
	}
	h.wireServices()
	return h, nil
}

// wireServices initializes the internal services after options have been applied.
func (h *Hookline) wireServices() {
	h.catalog = catalog.NewCatalog(h.store, catalog.Config{
		CacheTTL: h.config.CacheTTL,
	}, h.logger)

	h.validator = catalog.NewValidator()

	var subOpts []subscription.ServiceOption
	if h.config.StrictEventTypes {
		subOpts = append(subOpts, subscription.WithTypeChecker(h.checkEventType))
	}
	h.subs = subscription.NewService(h.store, h.logger, subOpts...)

	engineOpts := []delivery.EngineOption{delivery.WithClock(h.now)}
	if h.httpClient != nil {
		engineOpts = append(engineOpts, delivery.WithSender(
			delivery.NewSender(h.config.RequestTimeout, delivery.WithHTTPClient(h.httpClient)),
		))
	}
	h.engine = delivery.NewEngine(h.store, h.store, h.limiter, delivery.EngineConfig{
		WorkerID:       h.config.WorkerID,
		Concurrency:    h.config.Concurrency,
		BatchSize:      h.config.BatchSize,
		RequestTimeout: h.config.RequestTimeout,
		ClaimTTL:       h.config.ClaimTTL,
		MaxAttempts:    h.config.MaxAttempts,
		BackoffBase:    h.config.BackoffBase,
		BackoffMax:     h.config.BackoffMax,
		RateLimit:      h.config.OutboundRateLimit,
		RateWindow:     h.config.OutboundRateWindow,
		SkipInactive:   h.config.SkipInactive,
		Metrics:        h.metrics,
		Tracer:         h.tracer,
	}, h.logger, engineOpts...)

	h.scheduler = delivery.NewScheduler(h.engine, h.config.PollInterval, h.logger)
}

// Start begins the retry scheduler. First tries run whether or not it is
// started.
func (h *Hookline) Start(ctx context.Context) error {
	return h.scheduler.Start(ctx)
}

// Stop halts the scheduler and waits up to ShutdownTimeout for in-flight
// tries. Attempts that miss the deadline are recovered by another worker
// once their lease expires.
func (h *Hookline) Stop(ctx context.Context) error {
	if h.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.ShutdownTimeout)
		defer cancel()
	}
	return errors.Join(h.scheduler.Stop(ctx), h.engine.Stop(ctx))
}

// RegisterEventType registers an event type definition in the catalog.
func (h *Hookline) RegisterEventType(ctx context.Context, def catalog.Definition) (*catalog.EventType, error) {
	if def.Name == "" {
		return nil, &ValidationError{Field: "name", Message: "cannot be blank"}
	}
	if len(def.Schema) > 0 {
		if err := h.validator.Check(def.Schema); err != nil {
			return nil, &ValidationError{Field: "schema", Message: err.Error()}
		}
	}
	return h.catalog.RegisterType(ctx, def)
}

// Emit fans an event out to the tenant's matching subscriptions and returns
// the delivery IDs it created.
//
// The critical path:
//  1. Validate the event type, tenant and data.
//  2. Check the catalog (deprecation, JSON Schema, strict mode).
//  3. Serialize the envelope once.
//  4. Resolve matching active subscriptions.
//  5. Persist one pending attempt per subscription, leased to this worker.
//  6. Hand the attempts to the engine for their first try.
//
// Delivery failures are never returned here.
func (h *Hookline) Emit(ctx context.Context, eventType string, data any, tenantID string) ([]uuid.UUID, error) {
	if eventType == "" {
		return nil, &ValidationError{Field: "event_type", Message: "cannot be blank"}
	}
	if tenantID == "" {
		return nil, &ValidationError{Field: "tenant_id", Message: "cannot be blank"}
	}

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.StartEmitSpan(ctx, eventType, tenantID)
		defer span.End()
	}

	raw, err := delivery.EncodeData(data)
	if err != nil {
		return nil, &ValidationError{Field: "data", Message: err.Error()}
	}
	if err := h.checkPayload(ctx, eventType, raw); err != nil {
		return nil, err
	}

	now := h.now().UTC()
	payload, err := delivery.EncodeEnvelope(eventType, tenantID, raw, now)
	if err != nil {
		return nil, err
	}

	subs, err := h.subs.Resolve(ctx, tenantID, eventType)
	if err != nil {
		return nil, fmt.Errorf("hookline: resolve subscriptions: %w", err)
	}
	if len(subs) == 0 {
		h.logger.DebugContext(ctx, "no subscriptions matched", "event_type", eventType, "tenant_id", tenantID)
		return []uuid.UUID{}, nil
	}

	claim := h.engine.NewClaim()
	attempts := make([]*delivery.Attempt, 0, len(subs))
	ids := make([]uuid.UUID, 0, len(subs))
	for _, sub := range subs {
		a := &delivery.Attempt{
			Entity:         entity.At(now),
			ID:             uuid.Must(uuid.NewV7()),
			SubscriptionID: sub.ID,
			TenantID:       tenantID,
			EventType:      eventType,
			Payload:        payload,
			Status:         delivery.StatusPending,
			MaxAttempts:    h.config.MaxAttempts,
		}
		a.Lease(claim)
		attempts = append(attempts, a)
		ids = append(ids, a.ID)
	}

	if err := h.store.CreateAttempts(ctx, attempts); err != nil {
		return nil, fmt.Errorf("hookline: persist attempts: %w", err)
	}

	h.metrics.RecordEmit(len(attempts))
	h.logger.DebugContext(ctx, "event emitted",
		"event_type", eventType,
		"tenant_id", tenantID,
		"subscriptions", len(subs),
	)

	h.engine.Submit(ctx, attempts)
	return ids, nil
}

// checkPayload applies the catalog rules for eventType to data.
func (h *Hookline) checkPayload(ctx context.Context, eventType string, data []byte) error {
	et, err := h.catalog.GetType(ctx, eventType)
	switch {
	case errors.Is(err, ErrEventTypeNotFound):
		if h.config.StrictEventTypes {
			return &ValidationError{Field: "event_type", Message: "unknown event type " + eventType, Err: ErrEventTypeNotFound}
		}
		return nil
	case err != nil:
		return fmt.Errorf("hookline: look up event type: %w", err)
	}

	if et.IsDeprecated {
		return &ValidationError{Field: "event_type", Message: "event type " + eventType + " is deprecated", Err: ErrEventTypeDeprecated}
	}
	if err := h.validator.Validate(et.Definition.Schema, data); err != nil {
		return &ValidationError{Field: "data", Message: err.Error(), Err: ErrPayloadValidationFailed}
	}
	return nil
}

// checkEventType is the strict-mode check for subscription event types.
func (h *Hookline) checkEventType(ctx context.Context, eventType string) error {
	et, err := h.catalog.GetType(ctx, eventType)
	if err != nil {
		return err
	}
	if et.IsDeprecated {
		return ErrEventTypeDeprecated
	}
	return nil
}

// Delivery returns one of the tenant's delivery attempts.
func (h *Hookline) Delivery(ctx context.Context, tenantID string, attemptID uuid.UUID) (*delivery.Attempt, error) {
	a, err := h.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.TenantID != tenantID {
		return nil, ErrDeliveryNotFound
	}
	return a, nil
}

// Deliveries queries the delivery log, newest first.
func (h *Hookline) Deliveries(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Attempt, error) {
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, &ValidationError{Field: "status", Message: "unknown status " + string(opts.Status)}
	}
	return h.store.ListAttempts(ctx, opts)
}

// DeliveryStats returns the tenant's attempt counts by status.
func (h *Hookline) DeliveryStats(ctx context.Context, tenantID string) (map[delivery.Status]int64, error) {
	return h.store.CountByStatus(ctx, tenantID)
}

// TestDelivery re-runs an attempt synchronously. A pending or failed attempt
// gets one real try, which counts like any other. A delivered or exhausted
// attempt is only probed: its payload is sent again and the record is left
// unchanged.
func (h *Hookline) TestDelivery(ctx context.Context, tenantID string, attemptID uuid.UUID) (*delivery.Attempt, *delivery.Result, error) {
	a, err := h.Delivery(ctx, tenantID, attemptID)
	if err != nil {
		return nil, nil, err
	}

	if a.Status.Terminal() {
		res, probeErr := h.engine.Probe(ctx, a)
		if probeErr != nil {
			return nil, nil, probeErr
		}
		return a, &res, nil
	}

	claimed, err := h.store.ClaimAttempt(ctx, attemptID, h.engine.NewClaim())
	if err != nil {
		return nil, nil, err
	}
	if claimed == nil {
		return nil, nil, ErrDeliveryInFlight
	}

	res, err := h.engine.Execute(ctx, claimed)
	if errors.Is(err, delivery.ErrLeaseLost) {
		return nil, nil, ErrDeliveryInFlight
	}
	if err != nil {
		return nil, nil, err
	}
	return claimed, &res, nil
}

// Subscriptions returns the subscription registry.
func (h *Hookline) Subscriptions() *subscription.Service { return h.subs }

// Catalog returns the event type catalog.
func (h *Hookline) Catalog() *catalog.Catalog { return h.catalog }

// Engine returns the delivery engine.
func (h *Hookline) Engine() *delivery.Engine { return h.engine }

// Store returns the underlying store.
func (h *Hookline) Store() store.Store { return h.store }

// Limiter returns the rate limiter.
func (h *Hookline) Limiter() ratelimit.Limiter { return h.limiter }

// Metrics returns the Prometheus collectors, or nil when none are set.
func (h *Hookline) Metrics() *observability.Metrics { return h.metrics }

// Logger returns the configured logger.
func (h *Hookline) Logger() *slog.Logger { return h.logger }
