package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pricesense/crawler/internal/clock/system"
	"github.com/pricesense/crawler/internal/config"
	"github.com/pricesense/crawler/internal/crawler"
	"github.com/pricesense/crawler/internal/id/uuid"
	"github.com/pricesense/crawler/internal/queue/redisq"
)

func newEnqueueCmd(cfg *config.Config, logger **zap.Logger) *cobra.Command {
	var (
		productID string
		priority  string
		userID    string
	)

	cmd := &cobra.Command{
		Use:   "enqueue <url>",
		Short: "Submit a crawl task to the Redis queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(cmd, *cfg, *logger, args[0], productID, priority, userID)
		},
	}
	cmd.Flags().StringVar(&productID, "product-id", "", "product id (required)")
	cmd.Flags().StringVar(&priority, "priority", string(crawler.PriorityNormal), "queue priority: high or normal")
	cmd.Flags().StringVar(&userID, "user-id", "", "submitting user id")
	_ = cmd.MarkFlagRequired("product-id")
	return cmd
}

func runEnqueue(cmd *cobra.Command, cfg config.Config, logger *zap.Logger, rawURL, productID, priority, userID string) error {
	prio := crawler.Priority(priority)
	if !prio.Valid() {
		return fmt.Errorf("invalid priority %q", priority)
	}
	platform, err := crawler.PlatformForURL(rawURL)
	if err != nil {
		return err
	}

	clock := system.New()
	queue, err := redisq.New(cmd.Context(), redisq.Config{
		Address:   cfg.Broker.Address,
		Password:  cfg.Broker.Password,
		DB:        cfg.Broker.DB,
		KeyPrefix: cfg.Broker.KeyPrefix,
		PoolSize:  cfg.Broker.PoolSize,
	}, clock, logger.Named("queue"))
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer func() {
		if cerr := queue.Close(); cerr != nil {
			logger.Warn("queue close failed", zap.Error(cerr))
		}
	}()

	taskID, err := uuid.NewUUIDGenerator().NewID()
	if err != nil {
		return err
	}
	task := crawler.Task{
		TaskID:    taskID,
		ProductID: productID,
		URL:       rawURL,
		Platform:  platform,
		UserID:    userID,
		CreatedAt: clock.Now(),
	}
	if err := queue.Enqueue(cmd.Context(), task, prio); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}

	fmt.Printf("enqueued task %s (%s, %s priority)\n", taskID, platform, prio)
	return nil
}
