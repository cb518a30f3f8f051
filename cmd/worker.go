package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pricesense/crawler/internal/api"
	"github.com/pricesense/crawler/internal/clock/system"
	"github.com/pricesense/crawler/internal/config"
	"github.com/pricesense/crawler/internal/extract"
	"github.com/pricesense/crawler/internal/fetch"
	"github.com/pricesense/crawler/internal/id/uuid"
	"github.com/pricesense/crawler/internal/orchestrator"
	"github.com/pricesense/crawler/internal/queue/redisq"
	"github.com/pricesense/crawler/internal/storage/postgres"
	"github.com/pricesense/crawler/internal/validate"
	"github.com/pricesense/crawler/internal/worker"
)

func newWorkerCmd(cfg *config.Config, logger **zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the crawl worker pool and ops HTTP server",
		Long: `Starts N workers consuming tasks from the Redis queue, plus an HTTP
server exposing /healthz, /readyz, /stats, /metrics and task submission.
Runs until SIGINT or SIGTERM, then drains in-flight tasks.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context(), *cfg, *logger)
		},
	}
}

func runWorker(parent context.Context, cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()

	queue, err := redisq.New(ctx, redisq.Config{
		Address:    cfg.Broker.Address,
		Password:   cfg.Broker.Password,
		DB:         cfg.Broker.DB,
		KeyPrefix:  cfg.Broker.KeyPrefix,
		PoolSize:   cfg.Broker.PoolSize,
		MaxRetries: cfg.Crawler.MaxRetries,
		RetryDelay: cfg.BaseDelay(),
	}, clock, logger.Named("queue"))
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}

	gateway, err := postgres.NewGateway(ctx, postgres.GatewayConfig{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifeM) * time.Minute,
	}, logger.Named("storage"))
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer gateway.Close()

	marker := validate.NewRedisMarker(queue.Client(), cfg.DuplicateWindow(), clock)
	validator := validate.New(marker, cfg.Validation.MinScore, logger.Named("validate"))

	factory := extract.NewFactory(
		fetch.HTTPConfig{
			UserAgent: cfg.Crawler.UserAgent,
			Timeout:   cfg.RequestTimeout(),
		},
		fetch.HeadlessConfig{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		},
		cfg.Headless.Enabled,
		logger.Named("extract"),
	)

	orch := orchestrator.New(orchestrator.Config{
		MaxAttempts:   cfg.Crawler.MaxAttempts,
		RequestDelay:  time.Duration(cfg.Crawler.RequestDelaySec) * time.Second,
		BaseDelay:     cfg.BaseDelay(),
		SaveThreshold: cfg.Crawler.SaveThreshold,
	}, validator, marker, gateway, clock, clock, logger.Named("orchestrator"))

	pool := worker.NewPool(worker.PoolConfig{
		Workers:       cfg.Crawler.Workers,
		ShutdownGrace: cfg.ShutdownGrace(),
		Worker: worker.Config{
			PollTimeout:   cfg.PollTimeout(),
			IdleSleep:     time.Duration(cfg.Crawler.IdleSleepSeconds) * time.Second,
			MaxEmptyPolls: cfg.Crawler.MaxEmptyPollCycles,
		},
	}, queue, orch, factory, clock, clock, logger.Named("worker"))

	apiServer := api.NewServer(queue, gateway, pool.Stats, uuid.NewUUIDGenerator(), clock, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("ops server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server error", zap.Error(err))
			stop()
		}
	}()

	// Blocks until the signal context is canceled and workers drain. The
	// pool owns queue and factory teardown.
	runErr := pool.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return runErr
}
