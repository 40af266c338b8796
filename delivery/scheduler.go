package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler sweeps due attempts on a fixed interval. Any number of
// schedulers may run against the same store; claims keep them apart.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler that calls engine.Sweep every interval.
func NewScheduler(engine *Engine, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{engine: engine, interval: interval, logger: logger}
}

// Start begins sweeping. A sweep still running when the next tick arrives
// causes that tick to be skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return errors.New("hookline: scheduler interval must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("hookline: scheduler already started")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	l := cronLogger{s.logger}
	s.cron = cron.New(
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
	s.cron.Schedule(every(s.interval), cron.FuncJob(func() {
		if _, err := s.engine.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "sweep failed", "error", err)
		}
	}))
	s.cron.Start()

	s.logger.InfoContext(ctx, "retry scheduler started",
		"interval", s.interval, "worker", s.engine.WorkerID())
	return nil
}

// Stop halts the schedule and waits for a running sweep or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	cancel()
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// every is a cron schedule firing at a constant interval. cron.Every rounds
// to whole seconds.
type every time.Duration

func (d every) Next(t time.Time) time.Time { return t.Add(time.Duration(d)) }

// cronLogger routes cron's logging to slog.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
