package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/hookline"
	"github.com/xraph/hookline/delivery"
)

// CreateAttempts inserts the attempts of one event in a single batch.
func (s *Store) CreateAttempts(ctx context.Context, as []*delivery.Attempt) error {
	if len(as) == 0 {
		return nil
	}

	models := make([]attemptModel, len(as))
	for i, a := range as {
		models[i] = *toAttemptModel(a)
	}

	if _, err := s.mdb.NewInsert(&models).Exec(ctx); err != nil {
		return fmt.Errorf("hookline/mongo: create attempts: %w", err)
	}

	return nil
}

// GetAttempt returns an attempt by ID.
func (s *Store) GetAttempt(ctx context.Context, attemptID uuid.UUID) (*delivery.Attempt, error) {
	var m attemptModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": attemptID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, hookline.ErrDeliveryNotFound
		}

		return nil, fmt.Errorf("hookline/mongo: get attempt: %w", err)
	}

	return fromAttemptModel(&m)
}

// UpdateAttempt writes every mutable field of a, including its lease.
func (s *Store) UpdateAttempt(ctx context.Context, a *delivery.Attempt) error {
	m := toAttemptModel(a)
	m.UpdatedAt = now()

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hookline/mongo: update attempt: %w", err)
	}

	if res.MatchedCount() == 0 {
		return hookline.ErrDeliveryNotFound
	}

	return nil
}

// CommitAttempt writes a only while the stored lease equals held.
func (s *Store) CommitAttempt(ctx context.Context, a *delivery.Attempt, held delivery.Hold) error {
	m := toAttemptModel(a)
	m.UpdatedAt = now()

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{
			"_id":           m.ID,
			"claimed_by":    held.Owner,
			"claimed_until": held.Until,
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hookline/mongo: commit attempt: %w", err)
	}

	if res.MatchedCount() == 0 {
		if _, err := s.GetAttempt(ctx, a.ID); err != nil {
			return err
		}

		return delivery.ErrLeaseLost
	}

	return nil
}

// notLeased matches attempts whose lease is absent or expired at c.Now.
func notLeased(c delivery.Claim) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"claimed_until": nil},
		bson.M{"claimed_until": bson.M{"$lte": c.Now}},
	}}
}

func leaseUpdate(c delivery.Claim) bson.M {
	return bson.M{"$set": bson.M{
		"claimed_by":    c.Owner,
		"claimed_until": c.Until,
	}}
}

// ClaimDue leases up to limit due attempts, earliest first. Each claim is a
// FindOneAndUpdate, so concurrent workers never lease the same attempt.
func (s *Store) ClaimDue(ctx context.Context, c delivery.Claim, limit int) ([]*delivery.Attempt, error) {
	result := make([]*delivery.Attempt, 0, limit)
	col := s.mdb.Collection(colAttempts)

	filter := bson.M{
		"due_at": bson.M{"$ne": nil},
		"$and": bson.A{
			bson.M{"$or": bson.A{
				bson.M{"status": string(delivery.StatusPending)},
				bson.M{"due_at": bson.M{"$lte": c.Now}},
			}},
			notLeased(c),
		},
	}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{{Key: "due_at", Value: 1}})

	for range limit {
		var m attemptModel

		err := col.FindOneAndUpdate(ctx, filter, leaseUpdate(c), opts).Decode(&m)
		if err != nil {
			if errors.Is(err, mongod.ErrNoDocuments) {
				break
			}

			return nil, fmt.Errorf("hookline/mongo: claim due: %w", err)
		}

		a, err := fromAttemptModel(&m)
		if err != nil {
			return nil, err
		}

		result = append(result, a)
	}

	return result, nil
}

// ClaimAttempt leases one non-terminal attempt that is not leased elsewhere.
func (s *Store) ClaimAttempt(ctx context.Context, attemptID uuid.UUID, c delivery.Claim) (*delivery.Attempt, error) {
	filter := bson.M{
		"_id": attemptID.String(),
		"status": bson.M{"$in": bson.A{
			string(delivery.StatusPending),
			string(delivery.StatusFailed),
		}},
		"$and": bson.A{notLeased(c)},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m attemptModel

	err := s.mdb.Collection(colAttempts).
		FindOneAndUpdate(ctx, filter, leaseUpdate(c), opts).
		Decode(&m)
	if err != nil {
		if !errors.Is(err, mongod.ErrNoDocuments) {
			return nil, fmt.Errorf("hookline/mongo: claim attempt: %w", err)
		}

		if _, err := s.GetAttempt(ctx, attemptID); err != nil {
			return nil, err
		}

		return nil, nil
	}

	return fromAttemptModel(&m)
}

// ListAttempts returns the delivery log, newest first.
func (s *Store) ListAttempts(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Attempt, error) {
	filter := bson.M{}
	if opts.TenantID != "" {
		filter["tenant_id"] = opts.TenantID
	}

	if opts.SubscriptionID != nil {
		filter["subscription_id"] = opts.SubscriptionID.String()
	}

	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	var models []attemptModel

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("hookline/mongo: list attempts: %w", err)
	}

	result := make([]*delivery.Attempt, 0, len(models))

	for i := range models {
		a, err := fromAttemptModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, a)
	}

	return result, nil
}

// CountByStatus returns attempt counts per status. An empty tenantID counts
// every tenant.
func (s *Store) CountByStatus(ctx context.Context, tenantID string) (map[delivery.Status]int64, error) {
	counts := make(map[delivery.Status]int64)

	for _, st := range []delivery.Status{
		delivery.StatusPending,
		delivery.StatusDelivered,
		delivery.StatusFailed,
		delivery.StatusExhausted,
	} {
		filter := bson.M{"status": string(st)}
		if tenantID != "" {
			filter["tenant_id"] = tenantID
		}

		n, err := s.mdb.NewFind((*attemptModel)(nil)).
			Filter(filter).
			Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("hookline/mongo: count by status: %w", err)
		}

		if n > 0 {
			counts[st] = n
		}
	}

	return counts, nil
}
