// Package cmd defines the CLI commands for the casawatch executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"casawatch/internal/config"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "casawatch",
		Short: "Real-estate listing monitor for Portuguese property portals",
		Long: `casawatch periodically fetches configured portal search pages,
extracts property listings, deduplicates them against previous cycles
and alerts on anything new.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default uses built-in defaults and CASAWATCH_* env)")

	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newCycleCmd())

	return cmd
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
