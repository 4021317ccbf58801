package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"casawatch/internal/app"
)

// newCycleCmd creates the 'cycle' subcommand: run exactly one cycle and
// exit, which suits cron-style deployments.
func newCycleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run a single monitoring cycle and exit",
		RunE:  runCycleCommand,
	}
}

func runCycleCommand(cmd *cobra.Command, _ []string) error {
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

	report, err := a.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("run cycle: %w", err)
	}

	a.Logger().Info("cycle complete",
		zap.String("cycle_id", report.ID),
		zap.Int("total", report.Total),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("new_listings", report.NewCount()),
	)
	if report.Failed > 0 && report.Succeeded == 0 {
		return fmt.Errorf("all %d targets failed", report.Failed)
	}
	return nil
}
