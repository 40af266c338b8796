package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/hookline"
	"github.com/xraph/hookline/id"
	"github.com/xraph/hookline/subscription"
)

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)

	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("hookline/mongo: create subscription: %w", err)
	}

	return nil
}

// GetSubscription returns a subscription owned by tenantID.
func (s *Store) GetSubscription(ctx context.Context, tenantID string, subID id.ID) (*subscription.Subscription, error) {
	return s.findSubscription(ctx, bson.M{"_id": subID.String(), "tenant_id": tenantID})
}

// LookupSubscription returns a subscription regardless of tenant.
func (s *Store) LookupSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	return s.findSubscription(ctx, bson.M{"_id": subID.String()})
}

func (s *Store) findSubscription(ctx context.Context, filter bson.M) (*subscription.Subscription, error) {
	var m subscriptionModel

	err := s.mdb.NewFind(&m).
		Filter(filter).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, hookline.ErrSubscriptionNotFound
		}

		return nil, fmt.Errorf("hookline/mongo: get subscription: %w", err)
	}

	return fromSubscriptionModel(&m)
}

// ListSubscriptions returns a tenant's subscriptions, oldest first.
func (s *Store) ListSubscriptions(ctx context.Context, tenantID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	filter := bson.M{"tenant_id": tenantID}
	if opts.Active != nil {
		filter["active"] = *opts.Active
	}

	var models []subscriptionModel

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("hookline/mongo: list subscriptions: %w", err)
	}

	return fromSubscriptionModels(models)
}

// SetActive flips the active flag.
func (s *Store) SetActive(ctx context.Context, tenantID string, subID id.ID, active bool) error {
	res, err := s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(bson.M{"_id": subID.String(), "tenant_id": tenantID}).
		Set("active", active).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hookline/mongo: set active: %w", err)
	}

	if res.MatchedCount() == 0 {
		return hookline.ErrSubscriptionNotFound
	}

	return nil
}

// DeleteSubscription removes a subscription. Its attempts stay.
func (s *Store) DeleteSubscription(ctx context.Context, tenantID string, subID id.ID) error {
	res, err := s.mdb.NewDelete((*subscriptionModel)(nil)).
		Filter(bson.M{"_id": subID.String(), "tenant_id": tenantID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hookline/mongo: delete subscription: %w", err)
	}

	if res.DeletedCount() == 0 {
		return hookline.ErrSubscriptionNotFound
	}

	return nil
}

// Resolve returns the tenant's active subscriptions for eventType.
func (s *Store) Resolve(ctx context.Context, tenantID, eventType string) ([]*subscription.Subscription, error) {
	var models []subscriptionModel

	err := s.mdb.NewFind(&models).
		Filter(bson.M{
			"tenant_id":   tenantID,
			"active":      true,
			"event_types": eventType,
		}).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("hookline/mongo: resolve: %w", err)
	}

	return fromSubscriptionModels(models)
}

func fromSubscriptionModels(models []subscriptionModel) ([]*subscription.Subscription, error) {
	result := make([]*subscription.Subscription, 0, len(models))

	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, sub)
	}

	return result, nil
}
