package delivery

import (
	"errors"
	"time"

	"github.com/xraph/hookline/ratelimit"
)

var (
	// ErrTransient marks a try that failed but will be retried.
	ErrTransient = errors.New("hookline: transient delivery failure")

	// ErrExhausted marks an attempt that used its last try.
	ErrExhausted = errors.New("hookline: delivery exhausted")
)

// Decision is the outcome of evaluating a try.
type Decision int

const (
	// Delivered means the destination answered 2xx.
	Delivered Decision = iota

	// Retry means another try is scheduled.
	Retry

	// Exhaust means the attempt has no tries left.
	Exhaust
)

// Result holds the outcome of a single try.
type Result struct {
	StatusCode  int    `json:"status_code,omitempty"`
	Error       string `json:"error,omitempty"`
	Response    string `json:"response,omitempty"`
	LatencyMs   int    `json:"latency_ms"`
	RateLimited bool   `json:"rate_limited,omitempty"`
}

// OK reports whether the try succeeded.
func (r Result) OK() bool {
	return !r.RateLimited && r.Error == "" && r.StatusCode >= 200 && r.StatusCode < 300
}

// Err classifies a failed try. It returns nil on success.
func (r Result) Err() error {
	switch {
	case r.OK():
		return nil
	case r.RateLimited:
		return ratelimit.ErrRateLimited
	default:
		return ErrTransient
	}
}

// Retrier decides what happens after a try and when the next one runs.
type Retrier struct {
	base time.Duration
	max  time.Duration
}

// NewRetrier returns a retrier doubling base after every failed try, capped
// at max. A max of zero means no cap.
func NewRetrier(base, max time.Duration) *Retrier {
	return &Retrier{base: base, max: max}
}

// Decide classifies a try. a.AttemptCount must already include it.
//
// Every non-2xx status, transport error or rate-limit denial is retried
// until the attempt's MaxAttempts is reached.
func (r *Retrier) Decide(res Result, a *Attempt) Decision {
	if res.OK() {
		return Delivered
	}
	if a.AttemptCount >= a.MaxAttempts {
		return Exhaust
	}
	return Retry
}

// Backoff returns the wait after the given number of failed tries:
// base * 2^(count-1).
func (r *Retrier) Backoff(count int) time.Duration {
	if count < 1 {
		count = 1
	}
	d := r.base
	for i := 1; i < count; i++ {
		d *= 2
		if r.max > 0 && d >= r.max {
			return r.max
		}
	}
	if r.max > 0 && d > r.max {
		return r.max
	}
	return d
}

// NextRetry returns when the try following count failures should run.
func (r *Retrier) NextRetry(now time.Time, count int) time.Time {
	return now.Add(r.Backoff(count))
}
