package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// compile-time interface check
var _ Limiter = (*Redis)(nil)

// slidingWindowScript runs prune, count and conditional insert atomically.
// KEYS[1] = window sorted set
// ARGV[1] = now (unix ms)
// ARGV[2] = window (ms)
// ARGV[3] = limit
// ARGV[4] = unique member for this call
// Returns {allowed, remaining, retry_after_ms}.
var slidingWindowScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local count = redis.call('ZCARD', KEYS[1])
if count < limit then
    redis.call('ZADD', KEYS[1], now, ARGV[4])
    redis.call('PEXPIRE', KEYS[1], window)
    return {1, limit - count - 1, 0}
end

local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local retry = window
if oldest[2] then
    retry = tonumber(oldest[2]) + window - now
end
return {0, 0, retry}
`)

// Redis is a sliding-window limiter shared by every process using the same
// Redis deployment.
type Redis struct {
	rdb  goredis.UniversalClient
	opts options
}

// NewRedis returns a limiter backed by rdb.
func NewRedis(rdb goredis.UniversalClient, opts ...Option) *Redis {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Redis{rdb: rdb, opts: o}
}

// Allow implements Limiter.
func (r *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	if limit <= 0 {
		return unlimited(), nil
	}

	now := r.opts.now().UnixMilli()
	res, err := slidingWindowScript.Run(ctx, r.rdb,
		[]string{r.opts.prefix + key},
		now, window.Milliseconds(), limit, fmt.Sprintf("%d-%s", now, uuid.NewString()),
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("hookline/ratelimit: allow %q: %w", key, err)
	}
	if len(res) != 3 {
		return Result{}, fmt.Errorf("hookline/ratelimit: allow %q: unexpected reply %v", key, res)
	}

	return Result{
		Allowed:    res[0] == 1,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}
