// Package redis implements store.Store on Redis.
//
// Entities are JSON documents under per-type prefixes. Sorted sets index
// them by tenant, subscription and due time. Claims run as Lua scripts so a
// due attempt is leased by exactly one worker.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/grove/kv"
	"github.com/xraph/grove/kv/drivers/redisdriver"

	hookstore "github.com/xraph/hookline/store"
)

// compile-time interface check
var _ hookstore.Store = (*Store)(nil)

// Store implements store.Store using Redis.
type Store struct {
	rdb goredis.UniversalClient
	kv  *kv.Store
}

// New creates a store over an existing go-redis client.
func New(rdb goredis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

// NewFromKV creates a store that shares the connection of a Grove KV store.
// Ping and Close go through the KV store.
func NewFromKV(store *kv.Store) *Store {
	return &Store{
		rdb: redisdriver.UnwrapClient(store),
		kv:  store,
	}
}

// Migrate is a no-op for Redis (no schema migrations needed).
func (s *Store) Migrate(_ context.Context) error {
	return nil
}

// Ping checks Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s.kv != nil {
		return s.kv.Ping(ctx)
	}
	return s.rdb.Ping(ctx).Err()
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	if s.kv != nil {
		return s.kv.Close()
	}
	return s.rdb.Close()
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// ms converts t to a sorted set score.
func ms(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// isRedisNil checks if an error is a Redis nil (key not found).
func isRedisNil(err error) bool {
	return errors.Is(err, goredis.Nil)
}

// getEntity retrieves and decodes a JSON entity. It returns goredis.Nil when
// the key does not exist.
func (s *Store) getEntity(ctx context.Context, key string, dest any) error {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// getEntities loads keys with MGET, skipping keys that vanished.
func getEntities[T any](ctx context.Context, s *Store, keys []string) ([]*T, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		m := new(T)
		if err := json.Unmarshal([]byte(str), m); err != nil {
			return nil, fmt.Errorf("hookline/redis: decode entity: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// applyPagination applies offset and limit to a slice.
func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 {
		if offset >= len(items) {
			return []*T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
