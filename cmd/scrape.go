package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pricesense/crawler/internal/clock/system"
	"github.com/pricesense/crawler/internal/config"
	"github.com/pricesense/crawler/internal/crawler"
	"github.com/pricesense/crawler/internal/extract"
	"github.com/pricesense/crawler/internal/fetch"
	"github.com/pricesense/crawler/internal/orchestrator"
	"github.com/pricesense/crawler/internal/validate"
)

// newScrapeCmd builds the one-shot scrape command: fetch a single URL,
// extract, and print the result as JSON without touching the queue or the
// database. Useful for selector debugging against live pages.
func newScrapeCmd(cfg *config.Config, logger **zap.Logger) *cobra.Command {
	var (
		productID string
		headless  bool
	)

	cmd := &cobra.Command{
		Use:   "scrape <url>",
		Short: "Scrape a single product URL and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScrape(cmd, *cfg, *logger, args[0], productID, headless)
		},
	}
	cmd.Flags().StringVar(&productID, "product-id", "adhoc", "product id to stamp on the result")
	cmd.Flags().BoolVar(&headless, "headless", false, "allow browser-render fallback")
	return cmd
}

func runScrape(cmd *cobra.Command, cfg config.Config, logger *zap.Logger, rawURL, productID string, headless bool) error {
	clock := system.New()

	platform, err := crawler.PlatformForURL(rawURL)
	if err != nil {
		return err
	}

	factory := extract.NewFactory(
		fetch.HTTPConfig{
			UserAgent: cfg.Crawler.UserAgent,
			Timeout:   cfg.RequestTimeout(),
		},
		fetch.HeadlessConfig{
			MaxParallel:       1,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		},
		headless || cfg.Headless.Enabled,
		logger.Named("extract"),
	)
	defer func() {
		if cerr := factory.Close(); cerr != nil {
			logger.Warn("factory close failed", zap.Error(cerr))
		}
	}()

	strategy, err := factory.New(platform)
	if err != nil {
		return err
	}

	marker := validate.NewMemoryMarker(cfg.DuplicateWindow(), clock)
	validator := validate.New(marker, cfg.Validation.MinScore, logger.Named("validate"))
	orch := orchestrator.New(orchestrator.Config{
		MaxAttempts:   1,
		BaseDelay:     cfg.BaseDelay(),
		SaveThreshold: cfg.Crawler.SaveThreshold,
	}, validator, marker, nil, clock, clock, logger.Named("orchestrator"))

	res, err := orch.Scrape(cmd.Context(), strategy, crawler.Task{
		TaskID:    "adhoc",
		ProductID: productID,
		URL:       rawURL,
		Platform:  platform,
		CreatedAt: clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("scrape failed: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}
