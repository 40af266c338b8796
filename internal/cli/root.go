// Package cli implements the hookline command: the API server, the retry
// worker and schema migrations.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	var (
		cfgFile string
		cfg     Config
		logger  *slog.Logger
	)

	root := &cobra.Command{
		Use:           "hookline",
		Short:         "Tenant-scoped webhook delivery service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cfg, err = LoadConfig(viper.New(), cfgFile)
			if err != nil {
				return err
			}
			logger, err = NewLogger(cmd.ErrOrStderr(), cfg.Log)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./hookline.yaml)")

	root.AddCommand(
		newServeCommand(&cfg, &logger),
		newWorkerCommand(&cfg, &logger),
		newMigrateCommand(&cfg, &logger),
	)
	return root
}
