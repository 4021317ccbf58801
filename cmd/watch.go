package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"casawatch/internal/app"
)

// newWatchCmd creates the 'watch' subcommand: the long-running service
// mode that loops cycles on the configured interval.
func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the monitor continuously",
		Long: `Starts the ops HTTP server and runs monitoring cycles on the
configured interval until interrupted. A POST to /api/trigger starts
the next cycle early.`,
		RunE: runWatchCommand,
	}
}

func runWatchCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run monitor: %w", err)
	}
	return nil
}
