package subscription

import (
	"context"
	"log/slog"

	"github.com/xraph/hookline/id"
	"github.com/xraph/hookline/internal/entity"
	"github.com/xraph/hookline/signature"
)

// TypeChecker rejects event types unknown to the catalog. It is only set in
// strict mode.
type TypeChecker func(ctx context.Context, eventType string) error

// Service implements the subscription management operations.
type Service struct {
	store     Store
	checkType TypeChecker
	logger    *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithTypeChecker makes Create validate every event type with check.
func WithTypeChecker(check TypeChecker) ServiceOption {
	return func(s *Service) { s.checkType = check }
}

// NewService returns a Service backed by store.
func NewService(store Store, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	svc := &Service{store: store, logger: logger}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Create registers a destination and generates its signing secret. The
// returned Subscription is the only place the secret is ever exposed.
func (svc *Service) Create(ctx context.Context, in Input) (*Subscription, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	types := in.normalizedEventTypes()
	if svc.checkType != nil {
		for _, et := range types {
			if err := svc.checkType(ctx, et); err != nil {
				return nil, &ValidationError{Field: "event_types", Message: "unknown event type " + et, Err: err}
			}
		}
	}

	secret, err := signature.GenerateSecret()
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		Entity:      entity.New(),
		ID:          id.NewSubscriptionID(),
		TenantID:    in.TenantID,
		URL:         in.URL,
		EventTypes:  types,
		Secret:      secret,
		Active:      true,
		Description: in.Description,
		RateLimit:   in.RateLimit,
	}
	if err := svc.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	svc.logger.InfoContext(ctx, "subscription created",
		"subscription_id", sub.ID,
		"tenant_id", sub.TenantID,
		"event_types", sub.EventTypes,
	)
	return sub, nil
}

// Get returns one of the tenant's subscriptions.
func (svc *Service) Get(ctx context.Context, tenantID string, subID id.ID) (*Subscription, error) {
	return svc.store.GetSubscription(ctx, tenantID, subID)
}

// List returns the tenant's subscriptions. Secrets are never serialized.
func (svc *Service) List(ctx context.Context, tenantID string, opts ListOpts) ([]*Subscription, error) {
	return svc.store.ListSubscriptions(ctx, tenantID, opts)
}

// SetActive activates or deactivates a subscription and returns its new state.
// Deactivation is a soft delete: pending deliveries are left alone.
func (svc *Service) SetActive(ctx context.Context, tenantID string, subID id.ID, active bool) (*Subscription, error) {
	if err := svc.store.SetActive(ctx, tenantID, subID, active); err != nil {
		return nil, err
	}
	svc.logger.InfoContext(ctx, "subscription updated",
		"subscription_id", subID, "tenant_id", tenantID, "active", active)
	return svc.store.GetSubscription(ctx, tenantID, subID)
}

// Activate is SetActive(true).
func (svc *Service) Activate(ctx context.Context, tenantID string, subID id.ID) error {
	_, err := svc.SetActive(ctx, tenantID, subID, true)
	return err
}

// Deactivate is SetActive(false).
func (svc *Service) Deactivate(ctx context.Context, tenantID string, subID id.ID) error {
	_, err := svc.SetActive(ctx, tenantID, subID, false)
	return err
}

// Delete removes a subscription. Attempts already recorded for it remain in
// the delivery log.
func (svc *Service) Delete(ctx context.Context, tenantID string, subID id.ID) error {
	if err := svc.store.DeleteSubscription(ctx, tenantID, subID); err != nil {
		return err
	}
	svc.logger.InfoContext(ctx, "subscription deleted", "subscription_id", subID, "tenant_id", tenantID)
	return nil
}

// Resolve returns the tenant's active subscriptions for eventType.
func (svc *Service) Resolve(ctx context.Context, tenantID, eventType string) ([]*Subscription, error) {
	return svc.store.Resolve(ctx, tenantID, eventType)
}
