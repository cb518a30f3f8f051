package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pricesense/crawler/internal/clock/system"
	"github.com/pricesense/crawler/internal/config"
	"github.com/pricesense/crawler/internal/queue/redisq"
)

func newStatsCmd(cfg *config.Config, logger **zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print queue depths as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd, *cfg, *logger)
		},
	}
}

func runStats(cmd *cobra.Command, cfg config.Config, logger *zap.Logger) error {
	queue, err := redisq.New(cmd.Context(), redisq.Config{
		Address:   cfg.Broker.Address,
		Password:  cfg.Broker.Password,
		DB:        cfg.Broker.DB,
		KeyPrefix: cfg.Broker.KeyPrefix,
		PoolSize:  cfg.Broker.PoolSize,
	}, system.New(), logger.Named("queue"))
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer func() {
		if cerr := queue.Close(); cerr != nil {
			logger.Warn("queue close failed", zap.Error(cerr))
		}
	}()

	stats, err := queue.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("queue stats: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(stats); err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	return nil
}
