package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"job-coordinator/pkg/config"
	"job-coordinator/pkg/observability"

	"github.com/spf13/cobra"
)

// Command builds the root command of a binary. run receives a context cancelled on
// SIGINT or SIGTERM and a connected App that is closed after run returns.
func Command(name, short string, run func(ctx context.Context, a *App) error) *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           name,
		Short:         short,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			log := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					log.WithError(err).Warn("error while closing connections")
				}
			}()
			return run(ctx, a)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	return cmd
}
