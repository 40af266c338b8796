package ratelimit

import (
	"context"
	"sync"
	"time"
)

// compile-time interface check
var _ Limiter = (*Memory)(nil)

// Memory is an in-process sliding-window limiter. Windows are not shared
// between processes.
type Memory struct {
	mu      sync.Mutex
	windows map[string][]time.Time // markers per key, oldest first
	opts    options
}

// NewMemory returns an empty in-process limiter.
func NewMemory(opts ...Option) *Memory {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Memory{
		windows: make(map[string][]time.Time),
		opts:    o,
	}
}

// Allow implements Limiter.
func (m *Memory) Allow(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	if limit <= 0 {
		return unlimited(), nil
	}

	now := m.opts.now()
	cutoff := now.Add(-window)
	key = m.opts.prefix + key

	m.mu.Lock()
	defer m.mu.Unlock()

	marks := m.windows[key]
	i := 0
	for i < len(marks) && !marks[i].After(cutoff) {
		i++
	}
	marks = marks[i:]

	if len(marks) >= limit {
		m.windows[key] = marks
		return Result{RetryAfter: marks[0].Add(window).Sub(now)}, nil
	}

	marks = append(marks, now)
	m.windows[key] = marks
	return Result{Allowed: true, Remaining: limit - len(marks)}, nil
}

// Reset forgets every window.
func (m *Memory) Reset() {
	m.mu.Lock()
	m.windows = make(map[string][]time.Time)
	m.mu.Unlock()
}
