package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/hookline"
	"github.com/xraph/hookline/delivery"
	"github.com/xraph/hookline/id"
	"github.com/xraph/hookline/internal/entity"
)

var statuses = []delivery.Status{
	delivery.StatusPending,
	delivery.StatusDelivered,
	delivery.StatusFailed,
	delivery.StatusExhausted,
}

// attemptModel is the JSON representation stored in Redis. Leases live in
// zAttemptLease and hAttemptOwner so the claim scripts never rewrite the
// document.
type attemptModel struct {
	ID             string     `json:"id"`
	SubscriptionID string     `json:"subscription_id"`
	TenantID       string     `json:"tenant_id"`
	EventType      string     `json:"event_type"`
	Payload        []byte     `json:"payload"`
	Status         string     `json:"status"`
	AttemptCount   int        `json:"attempt_count"`
	MaxAttempts    int        `json:"max_attempts"`
	LastStatusCode *int       `json:"last_status_code,omitempty"`
	LastError      *string    `json:"last_error,omitempty"`
	LastLatencyMs  int        `json:"last_latency_ms"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toAttemptModel(a *delivery.Attempt) *attemptModel {
	return &attemptModel{
		ID:             a.ID.String(),
		SubscriptionID: a.SubscriptionID.String(),
		TenantID:       a.TenantID,
		EventType:      a.EventType,
		Payload:        a.Payload,
		Status:         string(a.Status),
		AttemptCount:   a.AttemptCount,
		MaxAttempts:    a.MaxAttempts,
		LastStatusCode: a.LastStatusCode,
		LastError:      a.LastError,
		LastLatencyMs:  a.LastLatencyMs,
		NextRetryAt:    a.NextRetryAt,
		DeliveredAt:    a.DeliveredAt,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func fromAttemptModel(m *attemptModel) (*delivery.Attempt, error) {
	attemptID, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse attempt ID %q: %w", m.ID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}
	return &delivery.Attempt{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             attemptID,
		SubscriptionID: subID,
		TenantID:       m.TenantID,
		EventType:      m.EventType,
		Payload:        m.Payload,
		Status:         delivery.Status(m.Status),
		AttemptCount:   m.AttemptCount,
		MaxAttempts:    m.MaxAttempts,
		LastStatusCode: m.LastStatusCode,
		LastError:      m.LastError,
		LastLatencyMs:  m.LastLatencyMs,
		NextRetryAt:    m.NextRetryAt,
		DeliveredAt:    m.DeliveredAt,
	}, nil
}

// dueScore is when a sweep may pick a non-terminal attempt up.
func dueScore(a *delivery.Attempt) float64 {
	switch {
	case a.Status == delivery.StatusPending:
		return ms(a.CreatedAt)
	case a.NextRetryAt != nil:
		return ms(*a.NextRetryAt)
	}
	return farFuture
}

// claimDueScript leases up to ARGV[4] due attempts that hold no live lease,
// reading the due index ARGV[4] entries at a time.
// KEYS[1] = due sorted set, KEYS[2] = lease sorted set, KEYS[3] = owner hash
// ARGV[1] = now (ms), ARGV[2] = lease expiry (ms), ARGV[3] = owner, ARGV[4] = limit
var claimDueScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local limit = tonumber(ARGV[4])
local claimed = {}
local offset = 0
while #claimed < limit do
    local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', offset, limit)
    if #ids == 0 then break end
    for _, id in ipairs(ids) do
        if #claimed >= limit then break end
        local held = redis.call('ZSCORE', KEYS[2], id)
        if (not held) or tonumber(held) <= now then
            redis.call('ZADD', KEYS[2], ARGV[2], id)
            redis.call('HSET', KEYS[3], id, ARGV[3])
            table.insert(claimed, id)
        end
    end
    offset = offset + #ids
end
return claimed
`)

// claimOneScript leases a single non-terminal attempt.
// KEYS[1] = attempt key, KEYS[2] = due sorted set, KEYS[3] = lease sorted set, KEYS[4] = owner hash
// ARGV[1] = attempt ID, ARGV[2] = now (ms), ARGV[3] = lease expiry (ms), ARGV[4] = owner
// Returns -1 when the attempt does not exist, 0 when it is terminal or leased.
var claimOneScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if not redis.call('ZSCORE', KEYS[2], ARGV[1]) then return 0 end
local held = redis.call('ZSCORE', KEYS[3], ARGV[1])
if held and tonumber(held) > tonumber(ARGV[2]) then return 0 end
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
redis.call('HSET', KEYS[4], ARGV[1], ARGV[4])
return 1
`)

// commitScript writes an attempt only while its lease equals the held one.
// KEYS[1] = attempt key, KEYS[2] = due sorted set, KEYS[3] = lease sorted set,
// KEYS[4] = owner hash, KEYS[5..12] = tenant and all-tenant status sets, in
// status order.
// ARGV[1] = attempt ID, ARGV[2] = held owner, ARGV[3] = held expiry (ms, "" when
// unleased), ARGV[4] = document, ARGV[5] = due score ("" when terminal),
// ARGV[6] = new lease expiry (ms, "" to release), ARGV[7] = new owner,
// ARGV[8] = index of the new status, ARGV[9] = created at (ms).
// Returns -1 when the attempt does not exist, 0 when the lease moved on.
var commitScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local held = redis.call('ZSCORE', KEYS[3], ARGV[1])
if ARGV[3] == '' then
    if held then return 0 end
else
    if (not held) or tonumber(held) ~= tonumber(ARGV[3]) then return 0 end
end
local owner = redis.call('HGET', KEYS[4], ARGV[1]) or ''
if owner ~= ARGV[2] then return 0 end

redis.call('SET', KEYS[1], ARGV[4])
if ARGV[5] == '' then
    redis.call('ZREM', KEYS[2], ARGV[1])
else
    redis.call('ZADD', KEYS[2], ARGV[5], ARGV[1])
end
if ARGV[6] == '' then
    redis.call('ZREM', KEYS[3], ARGV[1])
    redis.call('HDEL', KEYS[4], ARGV[1])
else
    redis.call('ZADD', KEYS[3], ARGV[6], ARGV[1])
    redis.call('HSET', KEYS[4], ARGV[1], ARGV[7])
end
local status = tonumber(ARGV[8])
for i = 1, 4 do
    if i == status then
        redis.call('ZADD', KEYS[3 + 2 * i], ARGV[9], ARGV[1])
        redis.call('ZADD', KEYS[4 + 2 * i], ARGV[9], ARGV[1])
    else
        redis.call('ZREM', KEYS[3 + 2 * i], ARGV[1])
        redis.call('ZREM', KEYS[4 + 2 * i], ARGV[1])
    end
end
return 1
`)

// CreateAttempts persists a batch of attempts in one transaction.
func (s *Store) CreateAttempts(ctx context.Context, as []*delivery.Attempt) error {
	if len(as) == 0 {
		return nil
	}

	pipe := s.rdb.TxPipeline()
	for _, a := range as {
		key := a.ID.String()
		created := goredis.Z{Score: ms(a.CreatedAt), Member: key}
		pipe.ZAdd(ctx, zAttemptAll, created)
		pipe.ZAdd(ctx, zAttemptTenant+a.TenantID, created)
		pipe.ZAdd(ctx, zAttemptSub+a.SubscriptionID.String(), created)
		if err := s.writeAttempt(ctx, pipe, a); err != nil {
			return err
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hookline/redis: create attempts: %w", err)
	}
	return nil
}

// GetAttempt returns an attempt by ID.
func (s *Store) GetAttempt(ctx context.Context, attemptID uuid.UUID) (*delivery.Attempt, error) {
	as, err := s.loadAttempts(ctx, []string{attemptID.String()})
	if err != nil {
		return nil, fmt.Errorf("hookline/redis: get attempt: %w", err)
	}
	if len(as) == 0 {
		return nil, hookline.ErrDeliveryNotFound
	}
	return as[0], nil
}

// UpdateAttempt replaces the stored attempt and its indexes.
func (s *Store) UpdateAttempt(ctx context.Context, a *delivery.Attempt) error {
	n, err := s.rdb.Exists(ctx, entityKey(prefixAttempt, a.ID.String())).Result()
	if err != nil {
		return fmt.Errorf("hookline/redis: update attempt: %w", err)
	}
	if n == 0 {
		return hookline.ErrDeliveryNotFound
	}

	pipe := s.rdb.TxPipeline()
	if err := s.writeAttempt(ctx, pipe, a); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hookline/redis: update attempt: %w", err)
	}
	return nil
}

// CommitAttempt replaces the stored attempt and its indexes if its lease
// still equals held.
func (s *Store) CommitAttempt(ctx context.Context, a *delivery.Attempt, held delivery.Hold) error {
	m := toAttemptModel(a)
	m.UpdatedAt = now()
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("hookline/redis: marshal attempt: %w", err)
	}
	key := m.ID

	keys := []string{entityKey(prefixAttempt, key), zAttemptDue, zAttemptLease, hAttemptOwner}
	statusIdx := 0
	for i, st := range statuses {
		keys = append(keys, statusKey(a.TenantID, string(st)), statusKey(allTenants, string(st)))
		if st == a.Status {
			statusIdx = i + 1
		}
	}

	var heldUntil, due, until string
	if held.Until != nil {
		heldUntil = strconv.FormatInt(held.Until.UnixMilli(), 10)
	}
	if !a.Status.Terminal() {
		due = strconv.FormatFloat(dueScore(a), 'f', -1, 64)
	}
	if a.ClaimedUntil != nil {
		until = strconv.FormatInt(a.ClaimedUntil.UnixMilli(), 10)
	}

	res, err := commitScript.Run(ctx, s.rdb, keys,
		key, held.Owner, heldUntil, string(raw), due, until, a.ClaimedBy,
		statusIdx, a.CreatedAt.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("hookline/redis: commit attempt: %w", err)
	}
	switch res {
	case -1:
		return hookline.ErrDeliveryNotFound
	case 0:
		return delivery.ErrLeaseLost
	}
	return nil
}

// ClaimDue leases up to limit due attempts, earliest due first.
func (s *Store) ClaimDue(ctx context.Context, c delivery.Claim, limit int) ([]*delivery.Attempt, error) {
	ids, err := claimDueScript.Run(ctx, s.rdb,
		[]string{zAttemptDue, zAttemptLease, hAttemptOwner},
		c.Now.UnixMilli(), c.Until.UnixMilli(), c.Owner, limit,
	).StringSlice()
	if err != nil && !isRedisNil(err) {
		return nil, fmt.Errorf("hookline/redis: claim due: %w", err)
	}
	if len(ids) == 0 {
		return []*delivery.Attempt{}, nil
	}

	as, err := s.loadAttempts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hookline/redis: claim due: %w", err)
	}
	return as, nil
}

// ClaimAttempt leases one non-terminal attempt that is not leased elsewhere.
func (s *Store) ClaimAttempt(ctx context.Context, attemptID uuid.UUID, c delivery.Claim) (*delivery.Attempt, error) {
	key := attemptID.String()
	res, err := claimOneScript.Run(ctx, s.rdb,
		[]string{entityKey(prefixAttempt, key), zAttemptDue, zAttemptLease, hAttemptOwner},
		key, c.Now.UnixMilli(), c.Until.UnixMilli(), c.Owner,
	).Int()
	if err != nil {
		return nil, fmt.Errorf("hookline/redis: claim attempt: %w", err)
	}
	switch res {
	case -1:
		return nil, hookline.ErrDeliveryNotFound
	case 0:
		return nil, nil
	}
	return s.GetAttempt(ctx, attemptID)
}

// ListAttempts returns matching attempts, newest first. Only the requested
// page is read: each filter combination maps to one sorted index, and a
// subscription filtered by status is intersected with the status index.
func (s *Store) ListAttempts(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Attempt, error) {
	start := int64(opts.Offset)
	stop := int64(-1)
	if opts.Limit > 0 {
		stop = start + int64(opts.Limit) - 1
	}

	tenantID := opts.TenantID
	if tenantID == "" {
		tenantID = allTenants
	}

	var ids []string
	var err error
	switch {
	case opts.SubscriptionID != nil && opts.Status != "":
		ids, err = s.rangeIntersection(ctx,
			zAttemptSub+opts.SubscriptionID.String(),
			statusKey(tenantID, string(opts.Status)),
			start, stop)
	case opts.SubscriptionID != nil:
		ids, err = s.rdb.ZRevRange(ctx, zAttemptSub+opts.SubscriptionID.String(), start, stop).Result()
	case opts.Status != "":
		ids, err = s.rdb.ZRevRange(ctx, statusKey(tenantID, string(opts.Status)), start, stop).Result()
	case opts.TenantID != "":
		ids, err = s.rdb.ZRevRange(ctx, zAttemptTenant+opts.TenantID, start, stop).Result()
	default:
		ids, err = s.rdb.ZRevRange(ctx, zAttemptAll, start, stop).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("hookline/redis: list attempts: %w", err)
	}

	as, err := s.loadAttempts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hookline/redis: list attempts: %w", err)
	}

	// A subscription index spans one tenant; this drops pages of another.
	result := make([]*delivery.Attempt, 0, len(as))
	for _, a := range as {
		if opts.Matches(a) {
			result = append(result, a)
		}
	}
	return result, nil
}

// rangeIntersection pages the members of both sorted sets, newest first,
// through a temporary key scored by the first set.
func (s *Store) rangeIntersection(ctx context.Context, scored, filter string, start, stop int64) ([]string, error) {
	tmp := prefixAttemptTmp + uuid.NewString()

	pipe := s.rdb.TxPipeline()
	pipe.ZInterStore(ctx, tmp, &goredis.ZStore{
		Keys:    []string{scored, filter},
		Weights: []float64{1, 0},
	})
	page := pipe.ZRevRange(ctx, tmp, start, stop)
	pipe.Del(ctx, tmp)
	if _, err := pipe.Exec(ctx); err != nil && !isRedisNil(err) {
		return nil, err
	}
	return page.Val(), nil
}

// CountByStatus returns attempt counts per status. An empty tenantID counts
// every tenant.
func (s *Store) CountByStatus(ctx context.Context, tenantID string) (map[delivery.Status]int64, error) {
	if tenantID == "" {
		tenantID = allTenants
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*goredis.IntCmd, len(statuses))
	for i, st := range statuses {
		cmds[i] = pipe.ZCard(ctx, statusKey(tenantID, string(st)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("hookline/redis: count by status: %w", err)
	}

	counts := make(map[delivery.Status]int64)
	for i, st := range statuses {
		if n := cmds[i].Val(); n > 0 {
			counts[st] = n
		}
	}
	return counts, nil
}

// writeAttempt queues the document, due index, lease and status sets for a.
func (s *Store) writeAttempt(ctx context.Context, pipe goredis.Pipeliner, a *delivery.Attempt) error {
	m := toAttemptModel(a)
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now()
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("hookline/redis: marshal attempt: %w", err)
	}
	key := m.ID

	pipe.Set(ctx, entityKey(prefixAttempt, key), raw, 0)

	if a.Status.Terminal() {
		pipe.ZRem(ctx, zAttemptDue, key)
	} else {
		pipe.ZAdd(ctx, zAttemptDue, goredis.Z{Score: dueScore(a), Member: key})
	}

	if a.ClaimedUntil != nil {
		pipe.ZAdd(ctx, zAttemptLease, goredis.Z{Score: ms(*a.ClaimedUntil), Member: key})
		pipe.HSet(ctx, hAttemptOwner, key, a.ClaimedBy)
	} else {
		pipe.ZRem(ctx, zAttemptLease, key)
		pipe.HDel(ctx, hAttemptOwner, key)
	}

	created := goredis.Z{Score: ms(a.CreatedAt), Member: key}
	for _, st := range statuses {
		tenantSet, allSet := statusKey(a.TenantID, string(st)), statusKey(allTenants, string(st))
		if st == a.Status {
			pipe.ZAdd(ctx, tenantSet, created)
			pipe.ZAdd(ctx, allSet, created)
		} else {
			pipe.ZRem(ctx, tenantSet, key)
			pipe.ZRem(ctx, allSet, key)
		}
	}
	return nil
}

// loadAttempts fetches attempts and their leases, keeping the order of ids.
func (s *Store) loadAttempts(ctx context.Context, ids []string) ([]*delivery.Attempt, error) {
	keys := make([]string, len(ids))
	for i, attemptID := range ids {
		keys[i] = entityKey(prefixAttempt, attemptID)
	}
	models, err := getEntities[attemptModel](ctx, s, keys)
	if err != nil || len(models) == 0 {
		return []*delivery.Attempt{}, err
	}

	pipe := s.rdb.Pipeline()
	until := make([]*goredis.FloatCmd, len(models))
	owner := make([]*goredis.StringCmd, len(models))
	for i, m := range models {
		until[i] = pipe.ZScore(ctx, zAttemptLease, m.ID)
		owner[i] = pipe.HGet(ctx, hAttemptOwner, m.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil && !isRedisNil(err) {
		return nil, err
	}

	out := make([]*delivery.Attempt, 0, len(models))
	for i, m := range models {
		a, err := fromAttemptModel(m)
		if err != nil {
			return nil, err
		}
		if score, scoreErr := until[i].Result(); scoreErr == nil {
			t := time.UnixMilli(int64(score)).UTC()
			a.ClaimedUntil = &t
			a.ClaimedBy = owner[i].Val()
		}
		out = append(out, a)
	}
	return out, nil
}
