// Package postgres implements store.Store on PostgreSQL through the grove
// pgdriver. Due attempts are claimed with FOR UPDATE SKIP LOCKED so any
// number of workers can share one database.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/hookline"
	"github.com/xraph/hookline/catalog"
	"github.com/xraph/hookline/delivery"
	"github.com/xraph/hookline/id"
	hookstore "github.com/xraph/hookline/store"
	"github.com/xraph/hookline/subscription"
)

// compile-time interface check
var _ hookstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("hookline/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("hookline/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Catalog Store ====================

func (s *Store) RegisterType(ctx context.Context, et *catalog.EventType) error {
	m := toEventTypeModel(et)
	_, err := s.pg.NewInsert(m).
		OnConflict("(name) DO UPDATE").
		Set("description = EXCLUDED.description").
		Set("schema = EXCLUDED.schema").
		Set("version = EXCLUDED.version").
		Set("is_deprecated = false").
		Set("deprecated_at = NULL").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hookline/postgres: register type: %w", err)
	}

	stored, err := s.GetType(ctx, et.Definition.Name)
	if err != nil {
		return err
	}
	et.ID = stored.ID
	et.CreatedAt = stored.CreatedAt
	return nil
}

func (s *Store) GetType(ctx context.Context, name string) (*catalog.EventType, error) {
	m := new(eventTypeModel)
	err := s.pg.NewSelect(m).
		Where("name = $1", name).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hookline.ErrEventTypeNotFound
		}
		return nil, err
	}
	return fromEventTypeModel(m)
}

func (s *Store) ListTypes(ctx context.Context, opts catalog.ListOpts) ([]*catalog.EventType, error) {
	var models []eventTypeModel
	q := s.pg.NewSelect(&models)
	if !opts.IncludeDeprecated {
		q = q.Where("is_deprecated = false")
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("name ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*catalog.EventType, len(models))
	for i := range models {
		et, err := fromEventTypeModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = et
	}
	return result, nil
}

func (s *Store) DeleteType(ctx context.Context, name string) error {
	now := time.Now().UTC()
	res, err := s.pg.NewUpdate((*eventTypeModel)(nil)).
		Set("is_deprecated = true").
		Set("deprecated_at = COALESCE(deprecated_at, $1)", now).
		Set("updated_at = $2", now).
		Where("name = $3", name).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hookline.ErrEventTypeNotFound
	}
	return nil
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, tenantID string, subID id.ID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", subID.String()).
		Where("tenant_id = $2", tenantID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hookline.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) LookupSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", subID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hookline.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) ListSubscriptions(ctx context.Context, tenantID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.pg.NewSelect(&models).Where("tenant_id = $1", tenantID)
	if opts.Active != nil {
		q = q.Where("active = $2", *opts.Active)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC, id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromSubscriptionModels(models)
}

func (s *Store) SetActive(ctx context.Context, tenantID string, subID id.ID, active bool) error {
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("active = $1", active).
		Set("updated_at = $2", time.Now().UTC()).
		Where("id = $3", subID.String()).
		Where("tenant_id = $4", tenantID).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hookline.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, tenantID string, subID id.ID) error {
	res, err := s.pg.NewDelete((*subscriptionModel)(nil)).
		Where("id = $1", subID.String()).
		Where("tenant_id = $2", tenantID).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hookline.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) Resolve(ctx context.Context, tenantID, eventType string) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	err := s.pg.NewSelect(&models).
		Where("tenant_id = $1", tenantID).
		Where("active = true").
		Where("event_types @> ARRAY[$2]::text[]", eventType).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromSubscriptionModels(models)
}

func fromSubscriptionModels(models []subscriptionModel) ([]*subscription.Subscription, error) {
	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

// ==================== Delivery Store ====================

func (s *Store) CreateAttempts(ctx context.Context, as []*delivery.Attempt) error {
	if len(as) == 0 {
		return nil
	}
	models := make([]attemptModel, len(as))
	for i, a := range as {
		models[i] = *toAttemptModel(a)
	}
	_, err := s.pg.NewInsert(&models).Exec(ctx)
	return err
}

func (s *Store) GetAttempt(ctx context.Context, attemptID uuid.UUID) (*delivery.Attempt, error) {
	m := new(attemptModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", attemptID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hookline.ErrDeliveryNotFound
		}
		return nil, err
	}
	return fromAttemptModel(m)
}

func (s *Store) UpdateAttempt(ctx context.Context, a *delivery.Attempt) error {
	m := toAttemptModel(a)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.pg.NewUpdate(m).
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hookline.ErrDeliveryNotFound
	}
	return nil
}

func (s *Store) CommitAttempt(ctx context.Context, a *delivery.Attempt, held delivery.Hold) error {
	m := toAttemptModel(a)
	var models []attemptModel
	err := s.pg.NewRaw(`
		UPDATE hookline_delivery_attempts
		SET status = $1, attempt_count = $2, max_attempts = $3,
		    last_status_code = $4, last_error = $5, last_latency_ms = $6,
		    next_retry_at = $7, delivered_at = $8,
		    claimed_by = $9, claimed_until = $10, updated_at = $11
		WHERE id = $12
		  AND claimed_by = $13
		  AND claimed_until IS NOT DISTINCT FROM $14::timestamptz
		RETURNING *
	`, m.Status, m.AttemptCount, m.MaxAttempts,
		m.LastStatusCode, m.LastError, m.LastLatencyMs,
		m.NextRetryAt, m.DeliveredAt,
		m.ClaimedBy, m.ClaimedUntil, time.Now().UTC(),
		m.ID, held.Owner, held.Until).Scan(ctx, &models)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		if _, err := s.GetAttempt(ctx, a.ID); err != nil {
			return err
		}
		return delivery.ErrLeaseLost
	}
	return nil
}

func (s *Store) ClaimDue(ctx context.Context, c delivery.Claim, limit int) ([]*delivery.Attempt, error) {
	// Raw SQL for the FOR UPDATE SKIP LOCKED claim pattern.
	var models []attemptModel
	err := s.pg.NewRaw(`
		UPDATE hookline_delivery_attempts
		SET claimed_by = $1, claimed_until = $2
		WHERE id IN (
			SELECT id FROM hookline_delivery_attempts
			WHERE (claimed_until IS NULL OR claimed_until <= $3)
			  AND (status = 'pending' OR (status = 'failed' AND next_retry_at <= $3))
			ORDER BY COALESCE(next_retry_at, created_at) ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`, c.Owner, c.Until, c.Now, limit).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	return fromAttemptModels(models)
}

func (s *Store) ClaimAttempt(ctx context.Context, attemptID uuid.UUID, c delivery.Claim) (*delivery.Attempt, error) {
	var models []attemptModel
	err := s.pg.NewRaw(`
		UPDATE hookline_delivery_attempts
		SET claimed_by = $1, claimed_until = $2
		WHERE id = $3
		  AND status IN ('pending', 'failed')
		  AND (claimed_until IS NULL OR claimed_until <= $4)
		RETURNING *
	`, c.Owner, c.Until, attemptID.String(), c.Now).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		// Distinguish a missing attempt from one that is not claimable.
		if _, err := s.GetAttempt(ctx, attemptID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return fromAttemptModel(&models[0])
}

func (s *Store) ListAttempts(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Attempt, error) {
	var models []attemptModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.TenantID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("tenant_id = $%d", argIdx), opts.TenantID)
	}
	if opts.SubscriptionID != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("subscription_id = $%d", argIdx), opts.SubscriptionID.String())
	}
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromAttemptModels(models)
}

func (s *Store) CountByStatus(ctx context.Context, tenantID string) (map[delivery.Status]int64, error) {
	counts := make(map[delivery.Status]int64)
	for _, st := range []delivery.Status{
		delivery.StatusPending,
		delivery.StatusDelivered,
		delivery.StatusFailed,
		delivery.StatusExhausted,
	} {
		q := s.pg.NewSelect((*attemptModel)(nil)).Where("status = $1", string(st))
		if tenantID != "" {
			q = q.Where("tenant_id = $2", tenantID)
		}
		n, err := q.Count(ctx)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			counts[st] = n
		}
	}
	return counts, nil
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
