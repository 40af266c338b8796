// Package ratelimit implements sliding-window admission control.
//
// A window is the set of request markers for one key that are younger than
// the window length. Allow prunes expired markers, counts the rest and
// records a new marker only when the count is below the limit, all as one
// atomic step. Two concurrent callers can therefore never both take the last
// slot.
//
// Redis is the shared backend used across processes. Memory serves single
// process deployments and tests.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrRateLimited reports that a key is over its limit for the current window.
var ErrRateLimited = errors.New("hookline: rate limited")

// Result is the outcome of one Allow call.
type Result struct {
	// Allowed is true when a marker was recorded.
	Allowed bool

	// Remaining is the number of further calls the window admits.
	Remaining int

	// RetryAfter is how long until the oldest marker expires. Zero when allowed.
	RetryAfter time.Duration
}

// Limiter is the check-and-increment contract shared by all backends.
type Limiter interface {
	// Allow admits one call for key if fewer than limit calls were admitted
	// within the trailing window. A limit <= 0 admits everything.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

// Option configures a limiter backend.
type Option func(*options)

type options struct {
	now    func() time.Time
	prefix string
}

func defaultOptions() options {
	return options{now: time.Now, prefix: "hookline:rl:"}
}

// WithClock overrides the time source. Tests use it to move windows forward.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithKeyPrefix sets the namespace prepended to every key.
func WithKeyPrefix(p string) Option {
	return func(o *options) { o.prefix = p }
}

// DeliveryKey is the limiter key for outbound tries to one subscription.
func DeliveryKey(subscriptionID string) string { return "delivery:" + subscriptionID }

// TenantKey is the limiter key for management calls made by one tenant.
func TenantKey(tenantID string) string { return "api:" + tenantID }

// unlimited is the result for limit <= 0.
func unlimited() Result {
	return Result{Allowed: true, Remaining: -1}
}
