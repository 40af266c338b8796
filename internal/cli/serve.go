package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(cfg *Config, logger **slog.Logger) *cobra.Command {
	var noScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the management API, first tries and the retry scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), *cfg, *logger, true, !noScheduler)
		},
	}
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not sweep for due retries in this process")
	return cmd
}

func newWorkerCommand(cfg *Config, logger **slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the retry scheduler, with health and metrics endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), *cfg, *logger, false, true)
		},
	}
}

func newMigrateCommand(cfg *Config, logger **slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply store schema migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt := &app{cfg: *cfg, logger: *logger}
			if err := rt.openStore(cmd.Context()); err != nil {
				return err
			}
			return rt.Close()
		},
	}
}

func run(ctx context.Context, cfg Config, logger *slog.Logger, withAPI, withScheduler bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close() //nolint:errcheck // best effort on exit

	g, ctx := errgroup.WithContext(ctx)

	if withScheduler {
		if err := rt.hl.Start(ctx); err != nil {
			return err
		}
	}

	g.Go(rt.listen(ctx, rt.handler(withAPI)))
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		// Stop applies delivery.shutdown_timeout to in-flight tries.
		return rt.hl.Stop(context.Background())
	})

	if err := g.Wait(); err != nil {
		logger.Error("hookline exited with error", "error", err)
		return err
	}
	logger.Info("hookline exited")
	return nil
}
