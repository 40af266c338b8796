package hookline

import "time"

// Config holds the configuration for a Hookline instance.
type Config struct {
	// WorkerID names this process in attempt leases. Empty generates one
	// from the hostname and PID.
	WorkerID string

	// Concurrency is the maximum number of tries in flight per sweep and for
	// first tries.
	Concurrency int

	// PollInterval is how often the retry scheduler sweeps for due attempts.
	PollInterval time.Duration

	// BatchSize is the maximum number of attempts claimed per sweep.
	BatchSize int

	// RequestTimeout bounds each outbound HTTP request.
	RequestTimeout time.Duration

	// MaxAttempts is the number of tries before an attempt is exhausted.
	MaxAttempts int

	// BackoffBase is the wait after the first failed try. It doubles after
	// every further failure up to BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// ClaimTTL is how long a worker's lease on an attempt lasts. It must
	// exceed RequestTimeout.
	ClaimTTL time.Duration

	// OutboundRateLimit is the default number of tries per subscription per
	// OutboundRateWindow. Zero disables outbound limiting.
	OutboundRateLimit  int
	OutboundRateWindow time.Duration

	// SkipInactive exhausts attempts of deactivated subscriptions instead of
	// delivering them.
	SkipInactive bool

	// StrictEventTypes rejects events and subscriptions naming event types
	// absent from the catalog.
	StrictEventTypes bool

	// ShutdownTimeout is the maximum time Stop waits for in-flight tries.
	ShutdownTimeout time.Duration

	// CacheTTL is the TTL for the catalog's in-memory event type cache.
	// Set to a negative value to disable caching.
	CacheTTL time.Duration
}

// DefaultConfig returns a Config with the production defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        10,
		PollInterval:       5 * time.Second,
		BatchSize:          50,
		RequestTimeout:     10 * time.Second,
		MaxAttempts:        5,
		BackoffBase:        1 * time.Minute,
		BackoffMax:         16 * time.Minute,
		ClaimTTL:           2 * time.Minute,
		OutboundRateLimit:  60,
		OutboundRateWindow: 1 * time.Minute,
		ShutdownTimeout:    30 * time.Second,
		CacheTTL:           30 * time.Second,
	}
}
