package hookline

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/xraph/hookline/observability"
	"github.com/xraph/hookline/ratelimit"
	"github.com/xraph/hookline/store"
)

// Option configures a Hookline instance.
type Option func(*Hookline) error

// WithStore sets the persistence backend.
func WithStore(s store.Store) Option {
	return func(h *Hookline) error {
		h.store = s
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hookline) error {
		h.logger = logger
		return nil
	}
}

// WithConfig replaces the whole configuration. Options applied after it
// still override single fields.
func WithConfig(cfg Config) Option {
	return func(h *Hookline) error {
		h.config = cfg
		return nil
	}
}

// WithLimiter sets the rate limiter shared by outbound tries. Use a
// ratelimit.Redis when more than one process delivers.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(h *Hookline) error {
		h.limiter = l
		return nil
	}
}

// WithMetrics records Prometheus metrics on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Hookline) error {
		h.metrics = m
		return nil
	}
}

// WithTracer records OpenTelemetry spans with t.
func WithTracer(t *observability.Tracer) Option {
	return func(h *Hookline) error {
		h.tracer = t
		return nil
	}
}

// WithHTTPClient sets the client used for outbound webhooks.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Hookline) error {
		if c == nil {
			return errors.New("hookline: nil http client")
		}
		h.httpClient = c
		return nil
	}
}

// WithClock replaces the time source used for event timestamps, retry
// scheduling and leases.
func WithClock(now func() time.Time) Option {
	return func(h *Hookline) error {
		h.now = now
		return nil
	}
}

// WithWorkerID names this process in attempt leases.
func WithWorkerID(workerID string) Option {
	return func(h *Hookline) error {
		h.config.WorkerID = workerID
		return nil
	}
}

// WithConcurrency sets the maximum number of tries in flight.
func WithConcurrency(n int) Option {
	return func(h *Hookline) error {
		h.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the retry scheduler sweeps.
func WithPollInterval(d time.Duration) Option {
	return func(h *Hookline) error {
		h.config.PollInterval = d
		return nil
	}
}

// WithBatchSize sets the maximum number of attempts claimed per sweep.
func WithBatchSize(n int) Option {
	return func(h *Hookline) error {
		h.config.BatchSize = n
		return nil
	}
}

// WithRequestTimeout sets the per-request timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Hookline) error {
		h.config.RequestTimeout = d
		return nil
	}
}

// WithMaxAttempts sets the number of tries before an attempt is exhausted.
func WithMaxAttempts(n int) Option {
	return func(h *Hookline) error {
		if n < 1 {
			return errors.New("hookline: max attempts must be at least 1")
		}
		h.config.MaxAttempts = n
		return nil
	}
}

// WithBackoff sets the first retry delay and its cap.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(h *Hookline) error {
		h.config.BackoffBase = base
		h.config.BackoffMax = maxDelay
		return nil
	}
}

// WithClaimTTL sets how long a lease on an attempt lasts.
func WithClaimTTL(d time.Duration) Option {
	return func(h *Hookline) error {
		h.config.ClaimTTL = d
		return nil
	}
}

// WithOutboundRateLimit sets the default per-subscription outbound limit.
func WithOutboundRateLimit(limit int, window time.Duration) Option {
	return func(h *Hookline) error {
		h.config.OutboundRateLimit = limit
		h.config.OutboundRateWindow = window
		return nil
	}
}

// WithSkipInactive exhausts attempts of deactivated subscriptions instead of
// delivering them.
func WithSkipInactive(skip bool) Option {
	return func(h *Hookline) error {
		h.config.SkipInactive = skip
		return nil
	}
}

// WithStrictEventTypes requires every event type to be registered in the
// catalog.
func WithStrictEventTypes(strict bool) Option {
	return func(h *Hookline) error {
		h.config.StrictEventTypes = strict
		return nil
	}
}

// WithShutdownTimeout sets the maximum time Stop waits for in-flight tries.
func WithShutdownTimeout(d time.Duration) Option {
	return func(h *Hookline) error {
		h.config.ShutdownTimeout = d
		return nil
	}
}

// WithCacheTTL sets the TTL for the catalog's in-memory event type cache.
func WithCacheTTL(d time.Duration) Option {
	return func(h *Hookline) error {
		h.config.CacheTTL = d
		return nil
	}
}
