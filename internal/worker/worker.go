// Package worker consumes crawl tasks from the broker and drives them
// through the scrape pipeline.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pricesense/crawler/internal/crawler"
	"github.com/pricesense/crawler/internal/metrics"
)

// Scraper runs one task end to end. Implemented by the orchestrator.
type Scraper interface {
	Scrape(ctx context.Context, strategy crawler.Strategy, task crawler.Task) (crawler.CrawlResult, error)
}

// StrategyProvider builds platform strategies. Implemented by the extract
// factory.
type StrategyProvider interface {
	New(platform crawler.Platform) (crawler.Strategy, error)
	Close() error
}

// Config tunes the poll loop.
type Config struct {
	// PollTimeout is how long a single dequeue blocks.
	PollTimeout time.Duration
	// IdleSleep is the pause after MaxEmptyPolls consecutive empty polls.
	IdleSleep time.Duration
	// MaxEmptyPolls is the empty-poll streak that triggers the idle sleep.
	MaxEmptyPolls int
	// ErrorBackoff is the pause after a broker error.
	ErrorBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollTimeout <= 0 {
		c.PollTimeout = 10 * time.Second
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = 10 * time.Second
	}
	if c.MaxEmptyPolls <= 0 {
		c.MaxEmptyPolls = 6
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 5 * time.Second
	}
	return c
}

// Stats counts task outcomes for one worker.
type Stats struct {
	Processed int64
	Succeeded int64
	Failed    int64
}

// Worker is one consumer loop. Strategies are built lazily per platform and
// reused across tasks; a worker is single-goroutine so strategies need no
// internal locking.
type Worker struct {
	id         string
	cfg        Config
	queue      crawler.TaskQueue
	scraper    Scraper
	provider   StrategyProvider
	sleeper    crawler.Sleeper
	logger     *zap.Logger
	strategies map[crawler.Platform]crawler.Strategy

	mu    sync.Mutex
	stats Stats
}

// New builds a Worker.
func New(id string, cfg Config, queue crawler.TaskQueue, scraper Scraper, provider StrategyProvider, sleeper crawler.Sleeper, logger *zap.Logger) *Worker {
	return &Worker{
		id:         id,
		cfg:        cfg.withDefaults(),
		queue:      queue,
		scraper:    scraper,
		provider:   provider,
		sleeper:    sleeper,
		logger:     logger.With(zap.String("worker_id", id)),
		strategies: make(map[crawler.Platform]crawler.Strategy),
	}
}

// Run consumes tasks until the context is canceled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started")
	defer w.logger.Info("worker stopped")
	defer w.closeStrategies()

	emptyPolls := 0
	for {
		if ctx.Err() != nil {
			return
		}

		task, err := w.queue.Dequeue(ctx, w.cfg.PollTimeout)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return
		case err != nil:
			w.logger.Error("dequeue failed", zap.Error(err))
			if serr := w.sleeper.Sleep(ctx, w.cfg.ErrorBackoff); serr != nil {
				return
			}
			continue
		case task == nil:
			emptyPolls++
			if emptyPolls >= w.cfg.MaxEmptyPolls {
				w.logger.Debug("no tasks for a while, sleeping")
				if serr := w.sleeper.Sleep(ctx, w.cfg.IdleSleep); serr != nil {
					return
				}
				emptyPolls = 0
			}
			continue
		}

		emptyPolls = 0
		w.process(ctx, *task)
	}
}

func (w *Worker) process(ctx context.Context, task crawler.Task) {
	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	w.logger.Info("processing task",
		zap.String("task_id", task.TaskID),
		zap.String("product_id", task.ProductID),
		zap.String("platform", string(task.Platform)),
		zap.Int("retry_count", task.RetryCount),
	)

	strategy, err := w.strategyFor(task.Platform)
	if err != nil {
		w.recordFailure(ctx, task, crawler.Tagf(crawler.TaxonomyInvalidInput, "unsupported platform %q: %w", task.Platform, err), 0)
		return
	}

	res, err := w.scraper.Scrape(ctx, strategy, task)
	if err != nil {
		w.recordFailure(ctx, task, err, res.ExecutionTime)
		return
	}
	w.recordSuccess(ctx, task, res)
}

// strategyFor returns the cached strategy for the platform, building it on
// first use.
func (w *Worker) strategyFor(platform crawler.Platform) (crawler.Strategy, error) {
	if s, ok := w.strategies[platform]; ok {
		return s, nil
	}
	s, err := w.provider.New(platform)
	if err != nil {
		return nil, err
	}
	w.strategies[platform] = s
	w.logger.Info("created strategy", zap.String("platform", string(platform)))
	return s, nil
}

func (w *Worker) recordSuccess(ctx context.Context, task crawler.Task, res crawler.CrawlResult) {
	msg := crawler.ResultMessage{
		TaskID:          task.TaskID,
		Status:          crawler.ResultSuccess,
		Platform:        task.Platform,
		WorkerID:        w.id,
		Data:            crawler.SuccessData(res),
		RetryCount:      task.RetryCount,
		ExecutionTimeMS: res.ExecutionTime.Milliseconds(),
	}
	if !w.queue.PublishResult(ctx, msg) {
		w.logger.Error("failed to publish result", zap.String("task_id", task.TaskID))
	}

	metrics.TasksProcessed.WithLabelValues(string(task.Platform), "success").Inc()
	w.mu.Lock()
	w.stats.Processed++
	w.stats.Succeeded++
	w.mu.Unlock()

	w.logger.Info("task completed",
		zap.String("task_id", task.TaskID),
		zap.Float64("confidence", res.ConfidenceScore),
		zap.Duration("execution_time", res.ExecutionTime),
	)
}

// recordFailure routes the task for retry or dead-letter and publishes the
// failure on the result channel so the submitting side sees every attempt.
func (w *Worker) recordFailure(ctx context.Context, task crawler.Task, cause error, execution time.Duration) {
	if err := w.queue.PublishFailure(ctx, task, cause); err != nil {
		w.logger.Error("failed to route task failure",
			zap.String("task_id", task.TaskID), zap.Error(err))
	}

	msg := crawler.ResultMessage{
		TaskID:          task.TaskID,
		Status:          crawler.ResultFailed,
		Platform:        task.Platform,
		WorkerID:        w.id,
		Error:           cause.Error(),
		ErrorCode:       string(crawler.ClassOf(cause)),
		RetryCount:      task.RetryCount,
		ExecutionTimeMS: execution.Milliseconds(),
	}
	if !w.queue.PublishResult(ctx, msg) {
		w.logger.Error("failed to publish failure result", zap.String("task_id", task.TaskID))
	}

	metrics.TasksProcessed.WithLabelValues(string(task.Platform), "failed").Inc()
	w.mu.Lock()
	w.stats.Processed++
	w.stats.Failed++
	w.mu.Unlock()
}

// Stats returns a snapshot of this worker's counters.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Worker) closeStrategies() {
	for platform, s := range w.strategies {
		if err := s.Close(); err != nil {
			w.logger.Warn("strategy close failed",
				zap.String("platform", string(platform)), zap.Error(err))
		}
	}
	w.strategies = make(map[crawler.Platform]crawler.Strategy)
}
