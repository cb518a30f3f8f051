package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pricesense/crawler/internal/crawler"
)

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Workers int
	// WorkerPrefix names workers "<prefix>-1" through "<prefix>-N".
	WorkerPrefix string
	// ShutdownGrace bounds how long Run waits for in-flight tasks after
	// cancellation before giving up on stragglers.
	ShutdownGrace time.Duration
	Worker        Config
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.WorkerPrefix == "" {
		c.WorkerPrefix = "worker"
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
	return c
}

// Pool runs N workers over one queue and owns shared-resource teardown.
type Pool struct {
	cfg      PoolConfig
	queue    crawler.TaskQueue
	scraper  Scraper
	provider StrategyProvider
	sleeper  crawler.Sleeper
	clock    crawler.Clock
	logger   *zap.Logger
	workers  []*Worker
}

// NewPool builds the pool and its workers.
func NewPool(cfg PoolConfig, queue crawler.TaskQueue, scraper Scraper, provider StrategyProvider, sleeper crawler.Sleeper, clock crawler.Clock, logger *zap.Logger) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{
		cfg:      cfg,
		queue:    queue,
		scraper:  scraper,
		provider: provider,
		sleeper:  sleeper,
		clock:    clock,
		logger:   logger,
	}
	for i := 1; i <= cfg.Workers; i++ {
		id := fmt.Sprintf("%s-%d", cfg.WorkerPrefix, i)
		p.workers = append(p.workers, New(id, cfg.Worker, queue, scraper, provider, sleeper, logger))
	}
	return p
}

// Run starts every worker and blocks until the context is canceled and all
// workers drain, or the shutdown grace expires. Shared resources are
// released before returning.
func (p *Pool) Run(ctx context.Context) error {
	start := p.clock.Now()
	p.logger.Info("worker pool starting", zap.Int("workers", len(p.workers)))

	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Run(ctx)
		}(w)
	}

	<-ctx.Done()
	p.logger.Info("shutdown requested, waiting for workers",
		zap.Duration("grace", p.cfg.ShutdownGrace))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var drainErr error
	select {
	case <-done:
	case <-time.After(p.cfg.ShutdownGrace):
		drainErr = fmt.Errorf("workers did not drain within %s", p.cfg.ShutdownGrace)
		p.logger.Error("shutdown grace expired with workers still running")
	}

	if err := p.provider.Close(); err != nil {
		p.logger.Warn("strategy provider close failed", zap.Error(err))
	}
	if err := p.queue.Close(); err != nil {
		p.logger.Warn("queue close failed", zap.Error(err))
	}

	p.logFinalStats(p.clock.Now().Sub(start))
	return drainErr
}

// Stats aggregates the counters of every worker.
func (p *Pool) Stats() Stats {
	var total Stats
	for _, w := range p.workers {
		s := w.Stats()
		total.Processed += s.Processed
		total.Succeeded += s.Succeeded
		total.Failed += s.Failed
	}
	return total
}

func (p *Pool) logFinalStats(runtime time.Duration) {
	stats := p.Stats()
	fields := []zap.Field{
		zap.Duration("runtime", runtime),
		zap.Int64("processed", stats.Processed),
		zap.Int64("succeeded", stats.Succeeded),
		zap.Int64("failed", stats.Failed),
	}
	if stats.Processed > 0 {
		fields = append(fields,
			zap.Float64("success_rate", float64(stats.Succeeded)/float64(stats.Processed)),
		)
	}
	p.logger.Info("worker pool stopped", fields...)
}
