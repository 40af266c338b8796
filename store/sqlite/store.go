// Package sqlite implements store.Store on SQLite through the grove
// sqlitedriver. It suits single-node deployments and local development.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
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

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("hookline/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("hookline/sqlite: migration failed: %w", err)
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
	_, err := s.sdb.NewInsert(m).
		OnConflict("(name) DO UPDATE").
		Set("description = EXCLUDED.description").
		Set("schema = EXCLUDED.schema").
		Set("version = EXCLUDED.version").
		Set("is_deprecated = 0").
		Set("deprecated_at = NULL").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hookline/sqlite: register type: %w", err)
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
	err := s.sdb.NewSelect(m).
		Where("name = ?", name).
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
	q := s.sdb.NewSelect(&models)
	if !opts.IncludeDeprecated {
		q = q.Where("is_deprecated = 0")
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
	t := now()
	res, err := s.sdb.NewUpdate((*eventTypeModel)(nil)).
		Set("is_deprecated = 1").
		Set("deprecated_at = COALESCE(deprecated_at, ?)", t).
		Set("updated_at = ?", t).
		Where("name = ?", name).
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
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, tenantID string, subID id.ID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", subID.String()).
		Where("tenant_id = ?", tenantID).
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
	err := s.sdb.NewSelect(m).
		Where("id = ?", subID.String()).
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
	q := s.sdb.NewSelect(&models).Where("tenant_id = ?", tenantID)
	if opts.Active != nil {
		q = q.Where("active = ?", *opts.Active)
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
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("active = ?", active).
		Set("updated_at = ?", now()).
		Where("id = ?", subID.String()).
		Where("tenant_id = ?", tenantID).
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
	res, err := s.sdb.NewDelete((*subscriptionModel)(nil)).
		Where("id = ?", subID.String()).
		Where("tenant_id = ?", tenantID).
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
	err := s.sdb.NewSelect(&models).
		Where("tenant_id = ?", tenantID).
		Where("active = 1").
		Where("EXISTS (SELECT 1 FROM json_each(hookline_subscriptions.event_types) WHERE json_each.value = ?)", eventType).
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
	_, err := s.sdb.NewInsert(&models).Exec(ctx)
	return err
}

func (s *Store) GetAttempt(ctx context.Context, attemptID uuid.UUID) (*delivery.Attempt, error) {
	m := new(attemptModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", attemptID.String()).
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
	m.UpdatedAt = now()
	res, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx)
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
	var heldUntil *int64
	if held.Until != nil {
		ms := held.Until.UnixMilli()
		heldUntil = &ms
	}
	// IS compares NULLs as equal.
	var models []attemptModel
	err := s.sdb.NewRaw(`
		UPDATE hookline_delivery_attempts
		SET status = ?, attempt_count = ?, max_attempts = ?,
		    last_status_code = ?, last_error = ?, last_latency_ms = ?,
		    next_retry_at = ?, delivered_at = ?, due_at = ?,
		    claimed_by = ?, claimed_until = ?, updated_at = ?
		WHERE id = ?
		  AND claimed_by = ?
		  AND claimed_until IS ?
		RETURNING *
	`, m.Status, m.AttemptCount, m.MaxAttempts,
		m.LastStatusCode, m.LastError, m.LastLatencyMs,
		m.NextRetryAt, m.DeliveredAt, m.DueAt,
		m.ClaimedBy, m.ClaimedUntil, now(),
		m.ID, held.Owner, heldUntil).Scan(ctx, &models)
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
	// SQLite serializes writes, so a single UPDATE ... RETURNING is atomic.
	nowMs := c.Now.UnixMilli()
	var models []attemptModel
	err := s.sdb.NewRaw(`
		UPDATE hookline_delivery_attempts
		SET claimed_by = ?, claimed_until = ?
		WHERE id IN (
			SELECT id FROM hookline_delivery_attempts
			WHERE due_at IS NOT NULL
			  AND (status = 'pending' OR due_at <= ?)
			  AND (claimed_until IS NULL OR claimed_until <= ?)
			ORDER BY due_at ASC
			LIMIT ?
		)
		RETURNING *
	`, c.Owner, c.Until.UnixMilli(), nowMs, nowMs, limit).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	return fromAttemptModels(models)
}

func (s *Store) ClaimAttempt(ctx context.Context, attemptID uuid.UUID, c delivery.Claim) (*delivery.Attempt, error) {
	var models []attemptModel
	err := s.sdb.NewRaw(`
		UPDATE hookline_delivery_attempts
		SET claimed_by = ?, claimed_until = ?
		WHERE id = ?
		  AND status IN ('pending', 'failed')
		  AND (claimed_until IS NULL OR claimed_until <= ?)
		RETURNING *
	`, c.Owner, c.Until.UnixMilli(), attemptID.String(), c.Now.UnixMilli()).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		if _, err := s.GetAttempt(ctx, attemptID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return fromAttemptModel(&models[0])
}

func (s *Store) ListAttempts(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Attempt, error) {
	var models []attemptModel
	q := s.sdb.NewSelect(&models)
	if opts.TenantID != "" {
		q = q.Where("tenant_id = ?", opts.TenantID)
	}
	if opts.SubscriptionID != nil {
		q = q.Where("subscription_id = ?", opts.SubscriptionID.String())
	}
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	// Attempt IDs are UUIDv7, so id order is creation order.
	q = q.OrderExpr("id DESC")

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
		q := s.sdb.NewSelect((*attemptModel)(nil)).Where("status = ?", string(st))
		if tenantID != "" {
			q = q.Where("tenant_id = ?", tenantID)
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

func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
