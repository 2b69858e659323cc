// Command flow drives a visual challenge through the resolution state
// machine: it attaches to (or launches) a browser, watches for the
// challenge, and resolves it with the help of an external solving service.
package main

import (
	"fmt"
	"os"

	"challengeflow/internal/config"
	"challengeflow/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	verbose    bool
	configPath string

	cfg       *config.Config
	logger    *zap.Logger
	closeLogs func() error
)

var rootCmd = &cobra.Command{
	Use:   "flow",
	Short: "Challenge resolution state machine",
	Long: `flow observes an on-screen grid challenge, classifies its instruction text,
and resolves it: tapping verify, retrying, or submitting the grid to a
solving service and tapping the returned cells.

Every run is one Session with a bounded attempt budget. Interrupting a run
(Ctrl+C) ends it as Interrupted and reports any solver task left pending.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded

		l, closer, err := logging.New(cfg.Logging, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger, closeLogs = l, closer
		logging.For(logger, logging.CategoryBoot).Debug("config loaded", zap.String("path", configPath))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		if closeLogs != nil {
			_ = closeLogs()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "challengeflow.yaml", "Path to the YAML config file")

	rootCmd.AddCommand(runCmd, classifyCmd, configCmd, journalCmd)
	configCmd.AddCommand(configInitCmd)
	journalCmd.AddCommand(journalListCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
