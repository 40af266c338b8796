package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/hookline"
	"github.com/xraph/hookline/id"
	"github.com/xraph/hookline/internal/entity"
	"github.com/xraph/hookline/subscription"
)

// subscriptionModel is the JSON representation stored in Redis. Unlike the
// domain type it carries the secret.
type subscriptionModel struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	URL         string    `json:"url"`
	EventTypes  []string  `json:"event_types"`
	Secret      string    `json:"secret"`
	Active      bool      `json:"active"`
	Description string    `json:"description"`
	RateLimit   int       `json:"rate_limit"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:          sub.ID.String(),
		TenantID:    sub.TenantID,
		URL:         sub.URL,
		EventTypes:  sub.EventTypes,
		Secret:      sub.Secret,
		Active:      sub.Active,
		Description: sub.Description,
		RateLimit:   sub.RateLimit,
		CreatedAt:   sub.CreatedAt,
		UpdatedAt:   sub.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.ID, err)
	}
	return &subscription.Subscription{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          subID,
		TenantID:    m.TenantID,
		URL:         m.URL,
		EventTypes:  m.EventTypes,
		Secret:      m.Secret,
		Active:      m.Active,
		Description: m.Description,
		RateLimit:   m.RateLimit,
	}, nil
}

// CreateSubscription persists a new subscription and its routing entries.
func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("hookline/redis: marshal subscription: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, entityKey(prefixSubscription, m.ID), raw, 0)
	pipe.ZAdd(ctx, zSubTenant+m.TenantID, goredis.Z{Score: ms(m.CreatedAt), Member: m.ID})
	for _, et := range m.EventTypes {
		pipe.SAdd(ctx, routeKey(m.TenantID, et), m.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hookline/redis: create subscription: %w", err)
	}
	return nil
}

// GetSubscription returns a subscription owned by tenantID.
func (s *Store) GetSubscription(ctx context.Context, tenantID string, subID id.ID) (*subscription.Subscription, error) {
	m, err := s.ownedSubscription(ctx, tenantID, subID)
	if err != nil {
		return nil, err
	}
	return fromSubscriptionModel(m)
}

// LookupSubscription returns a subscription regardless of tenant.
func (s *Store) LookupSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	m, err := s.loadSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	return fromSubscriptionModel(m)
}

// ListSubscriptions returns a tenant's subscriptions, oldest first.
func (s *Store) ListSubscriptions(ctx context.Context, tenantID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	ids, err := s.rdb.ZRange(ctx, zSubTenant+tenantID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("hookline/redis: list subscriptions: %w", err)
	}

	models, err := getEntities[subscriptionModel](ctx, s, subscriptionKeys(ids))
	if err != nil {
		return nil, fmt.Errorf("hookline/redis: list subscriptions: %w", err)
	}

	result := make([]*subscription.Subscription, 0, len(models))
	for _, m := range models {
		if opts.Active != nil && m.Active != *opts.Active {
			continue
		}
		sub, err := fromSubscriptionModel(m)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// SetActive flips a subscription's active flag.
func (s *Store) SetActive(ctx context.Context, tenantID string, subID id.ID, active bool) error {
	m, err := s.ownedSubscription(ctx, tenantID, subID)
	if err != nil {
		return err
	}
	m.Active = active
	m.UpdatedAt = now()

	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("hookline/redis: marshal subscription: %w", err)
	}
	if err := s.rdb.Set(ctx, entityKey(prefixSubscription, m.ID), raw, 0).Err(); err != nil {
		return fmt.Errorf("hookline/redis: set active: %w", err)
	}
	return nil
}

// DeleteSubscription removes a subscription and its routing entries.
func (s *Store) DeleteSubscription(ctx context.Context, tenantID string, subID id.ID) error {
	m, err := s.ownedSubscription(ctx, tenantID, subID)
	if err != nil {
		return err
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, entityKey(prefixSubscription, m.ID))
	pipe.ZRem(ctx, zSubTenant+m.TenantID, m.ID)
	for _, et := range m.EventTypes {
		pipe.SRem(ctx, routeKey(m.TenantID, et), m.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hookline/redis: delete subscription: %w", err)
	}
	return nil
}

// Resolve returns the tenant's active subscriptions for eventType, oldest
// first.
func (s *Store) Resolve(ctx context.Context, tenantID, eventType string) ([]*subscription.Subscription, error) {
	ids, err := s.rdb.SMembers(ctx, routeKey(tenantID, eventType)).Result()
	if err != nil {
		return nil, fmt.Errorf("hookline/redis: resolve: %w", err)
	}

	models, err := getEntities[subscriptionModel](ctx, s, subscriptionKeys(ids))
	if err != nil {
		return nil, fmt.Errorf("hookline/redis: resolve: %w", err)
	}

	result := make([]*subscription.Subscription, 0, len(models))
	for _, m := range models {
		if !m.Active || m.TenantID != tenantID {
			continue
		}
		sub, err := fromSubscriptionModel(m)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) loadSubscription(ctx context.Context, subID id.ID) (*subscriptionModel, error) {
	var m subscriptionModel
	if err := s.getEntity(ctx, entityKey(prefixSubscription, subID.String()), &m); err != nil {
		if isRedisNil(err) {
			return nil, hookline.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("hookline/redis: get subscription: %w", err)
	}
	return &m, nil
}

func (s *Store) ownedSubscription(ctx context.Context, tenantID string, subID id.ID) (*subscriptionModel, error) {
	m, err := s.loadSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	if m.TenantID != tenantID {
		return nil, hookline.ErrSubscriptionNotFound
	}
	return m, nil
}

func subscriptionKeys(ids []string) []string {
	keys := make([]string, len(ids))
	for i, subID := range ids {
		keys[i] = entityKey(prefixSubscription, subID)
	}
	return keys
}
