// Package cmd defines the CLI commands for the pricesense executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pricesense/crawler/internal/config"
	"github.com/pricesense/crawler/internal/logging"
)

var cfgFile string

// newRootCmd creates the root command. Config and logging are built in
// PersistentPreRunE so every subcommand sees the same initialized state.
func newRootCmd() *cobra.Command {
	var (
		cfg    config.Config
		logger *zap.Logger
	)

	cmd := &cobra.Command{
		Use:   "pricesense",
		Short: "Distributed product-page crawler for Korean e-commerce platforms",
		Long: `pricesense consumes crawl tasks from a Redis work queue, extracts
price and stock data from Coupang, Naver Shopping and SmartStore product
pages, validates the extracted fields and records them in Postgres.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err = logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newWorkerCmd(&cfg, &logger))
	cmd.AddCommand(newScrapeCmd(&cfg, &logger))
	cmd.AddCommand(newEnqueueCmd(&cfg, &logger))
	cmd.AddCommand(newStatsCmd(&cfg, &logger))

	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
