package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/hookline"
	"github.com/xraph/hookline/api"
	"github.com/xraph/hookline/delivery"
	"github.com/xraph/hookline/observability"
	"github.com/xraph/hookline/ratelimit"
	"github.com/xraph/hookline/store"
	"github.com/xraph/hookline/store/memory"
	redisstore "github.com/xraph/hookline/store/redis"
)

// app holds the process-wide dependencies shared by the commands.
type app struct {
	cfg      Config
	logger   *slog.Logger
	store    store.Store
	limiter  ratelimit.Limiter
	registry *prometheus.Registry
	hl       *hookline.Hookline
}

func newApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	rt := &app{cfg: cfg, logger: logger}

	if err := rt.openStore(ctx); err != nil {
		return nil, err
	}

	rt.registry = prometheus.NewRegistry()
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		observability.NewBacklogCollector(rt.backlog, 5*time.Second),
	)

	opts := append(cfg.ToOptions(),
		hookline.WithStore(rt.store),
		hookline.WithLogger(logger),
		hookline.WithMetrics(observability.NewMetrics(rt.registry)),
		hookline.WithTracer(observability.NewTracer()),
	)
	if rt.limiter != nil {
		opts = append(opts, hookline.WithLimiter(rt.limiter))
	}

	hl, err := hookline.New(opts...)
	if err != nil {
		rt.store.Close() //nolint:errcheck // already failing
		return nil, err
	}
	rt.hl = hl
	return rt, nil
}

// backlog counts every tenant's pending and failed attempts.
func (rt *app) backlog(ctx context.Context) (float64, error) {
	counts, err := rt.store.CountByStatus(ctx, "")
	if err != nil {
		return 0, err
	}
	return float64(counts[delivery.StatusPending] + counts[delivery.StatusFailed]), nil
}

func (rt *app) openStore(ctx context.Context) error {
	switch rt.cfg.Store.Driver {
	case "memory":
		rt.store = memory.New()
	case "redis":
		opts, err := goredis.ParseURL(rt.cfg.Store.RedisURL)
		if err != nil {
			return fmt.Errorf("parse store.redis_url: %w", err)
		}
		rdb := goredis.NewClient(opts)
		rt.store = redisstore.New(rdb)
		rt.limiter = ratelimit.NewRedis(rdb)
	default:
		return fmt.Errorf("unknown store driver %q", rt.cfg.Store.Driver)
	}

	if err := rt.store.Ping(ctx); err != nil {
		rt.store.Close() //nolint:errcheck // already failing
		return fmt.Errorf("store unavailable: %w", err)
	}
	if err := rt.store.Migrate(ctx); err != nil {
		rt.store.Close() //nolint:errcheck // already failing
		return err
	}
	rt.logger.InfoContext(ctx, "store ready", "driver", rt.cfg.Store.Driver)
	return nil
}

// handler serves health and metrics, plus the management API when withAPI
// is set.
func (rt *app) handler(withAPI bool) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := rt.store.Ping(r.Context()); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if rt.cfg.Metrics.Enabled {
		mux.Handle("GET "+rt.cfg.Metrics.Path, promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{
			ErrorHandling: promhttp.ContinueOnError,
		}))
	}
	if withAPI {
		mux.Handle("/", api.NewHandler(rt.hl,
			api.WithRateLimit(rt.cfg.API.RateLimit, rt.cfg.API.RateWindow),
			api.WithLogger(rt.logger),
		))
	}
	return mux
}

func (rt *app) Close() error {
	return rt.store.Close()
}

// listen serves h until ctx ends, then shuts the server and the engine down.
func (rt *app) listen(ctx context.Context, h http.Handler) func() error {
	srv := &http.Server{
		Addr:         rt.cfg.Server.Address,
		Handler:      h,
		ReadTimeout:  rt.cfg.Server.ReadTimeout,
		WriteTimeout: rt.cfg.Server.WriteTimeout,
	}
	return func() error {
		errc := make(chan error, 1)
		go func() {
			rt.logger.InfoContext(ctx, "http server listening", "address", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
			close(errc)
		}()

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
