// Package orchestrator runs the end-to-end scrape of one task: input
// checks, the attempt loop with backoff, validation and persistence.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pricesense/crawler/internal/crawler"
	"github.com/pricesense/crawler/internal/metrics"
	"github.com/pricesense/crawler/internal/validate"
)

// Config tunes the per-task attempt loop and the persistence bar.
type Config struct {
	// MaxAttempts bounds in-process extraction attempts per task. Queue
	// level retries are separate and owned by the broker.
	MaxAttempts int
	// RequestDelay is the politeness pause before every attempt.
	RequestDelay time.Duration
	// BaseDelay is the linear backoff unit between failed attempts:
	// the n-th failure waits n*BaseDelay.
	BaseDelay time.Duration
	// SaveThreshold is the minimum confidence score for persistence.
	SaveThreshold float64
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 2 * time.Second
	}
	if c.SaveThreshold <= 0 {
		c.SaveThreshold = 0.7
	}
	return c
}

// Orchestrator coordinates one scrape from task to stored record.
type Orchestrator struct {
	cfg       Config
	validator *validate.Validator
	marker    crawler.DuplicateMarker
	gateway   crawler.Gateway
	clock     crawler.Clock
	sleeper   crawler.Sleeper
	logger    *zap.Logger
}

// New wires an Orchestrator.
func New(
	cfg Config,
	validator *validate.Validator,
	marker crawler.DuplicateMarker,
	gateway crawler.Gateway,
	clock crawler.Clock,
	sleeper crawler.Sleeper,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg.withDefaults(),
		validator: validator,
		marker:    marker,
		gateway:   gateway,
		clock:     clock,
		sleeper:   sleeper,
		logger:    logger,
	}
}

// Scrape executes the task with the given strategy. The returned result is
// always populated with timing; a non-nil error means the task failed and
// carries the taxonomy used for retry routing. A validation hard error or a
// persistence failure fails the task (non-retryable); a merely weak result
// only skips the save.
func (o *Orchestrator) Scrape(ctx context.Context, strategy crawler.Strategy, task crawler.Task) (crawler.CrawlResult, error) {
	start := o.clock.Now()
	res := crawler.CrawlResult{
		ProductID:   task.ProductID,
		Platform:    task.Platform,
		URL:         task.URL,
		StockStatus: crawler.StockUnknown,
	}

	finish := func(r crawler.CrawlResult, err error) (crawler.CrawlResult, error) {
		r.ExecutionTime = o.clock.Now().Sub(start)
		r.ScrapedAt = o.clock.Now()
		if err != nil {
			r.Success = false
			r.ErrorMessage = err.Error()
		}
		metrics.ScrapeDuration.WithLabelValues(string(task.Platform)).Observe(r.ExecutionTime.Seconds())
		return r, err
	}

	// Fail fast on input the retry loop can never fix.
	if !isWellFormedURL(task.URL) {
		return finish(res, crawler.Tagf(crawler.TaxonomyInvalidInput, "task %s: %w: %s", task.TaskID, crawler.ErrInvalidURL, task.URL))
	}
	if !strategy.OwnsURL(task.URL) {
		return finish(res, crawler.Tagf(crawler.TaxonomyInvalidInput, "task %s: %w", task.TaskID, crawler.ErrWrongPlatform))
	}

	extracted, err := o.extractWithRetry(ctx, strategy, task)
	if err != nil {
		return finish(res, err)
	}
	res, _ = finish(extracted, nil)
	if err := o.maybeSave(ctx, task, res); err != nil {
		res.Success = false
		res.ErrorMessage = err.Error()
		return res, err
	}
	return res, nil
}

// extractWithRetry runs the attempt loop. Every attempt is preceded by the
// politeness delay; failed retryable attempts back off linearly.
func (o *Orchestrator) extractWithRetry(ctx context.Context, strategy crawler.Strategy, task crawler.Task) (crawler.CrawlResult, error) {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		if o.cfg.RequestDelay > 0 {
			if err := o.sleeper.Sleep(ctx, o.cfg.RequestDelay); err != nil {
				return crawler.CrawlResult{}, fmt.Errorf("scrape canceled: %w", err)
			}
		}

		res, err := strategy.Extract(ctx, task.ProductID, task.URL)
		if err == nil {
			return res, nil
		}
		lastErr = err

		class := crawler.ClassOf(err)
		o.logger.Warn("scrape attempt failed",
			zap.String("task_id", task.TaskID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", o.cfg.MaxAttempts),
			zap.String("class", string(class)),
			zap.Error(err),
		)
		if !class.Retryable() {
			return crawler.CrawlResult{}, err
		}
		if attempt < o.cfg.MaxAttempts {
			backoff := time.Duration(attempt) * o.cfg.BaseDelay
			if err := o.sleeper.Sleep(ctx, backoff); err != nil {
				return crawler.CrawlResult{}, fmt.Errorf("scrape canceled: %w", err)
			}
		}
	}
	return crawler.CrawlResult{}, lastErr
}

// maybeSave persists the result when it clears confidence and validation.
// The duplicate mark is claimed atomically so concurrent workers finishing
// the same product store it once per window. A hard validation error or a
// failed write comes back as a taxonomy-tagged error; low confidence, a
// weak-but-valid score and a lost duplicate race only skip the save.
func (o *Orchestrator) maybeSave(ctx context.Context, task crawler.Task, res crawler.CrawlResult) error {
	if o.gateway == nil {
		// One-shot runs carry no persistence backend.
		return nil
	}
	if res.ConfidenceScore < o.cfg.SaveThreshold {
		o.logger.Info("result below save threshold",
			zap.String("task_id", task.TaskID),
			zap.Float64("confidence", res.ConfidenceScore),
			zap.Float64("threshold", o.cfg.SaveThreshold),
		)
		return nil
	}

	verdict, err := o.validator.Validate(ctx, res)
	if err != nil {
		if errors.Is(err, crawler.ErrRecentlyCrawled) {
			// The window suppresses the write, not the scrape.
			o.logger.Info("product crawled recently, skipping save",
				zap.String("product_id", res.ProductID))
			return nil
		}
		return err
	}
	if !verdict.Valid {
		return crawler.Tagf(crawler.TaxonomyValidationRejected,
			"task %s: validation rejected: %s", task.TaskID, strings.Join(verdict.Errors, "; "))
	}
	if !validate.ShouldSave(verdict, o.cfg.SaveThreshold) {
		o.logger.Info("quality score below save threshold",
			zap.String("task_id", task.TaskID),
			zap.Float64("quality_score", verdict.Score),
			zap.Strings("warnings", verdict.Warnings),
		)
		return nil
	}

	won, err := o.marker.TryMark(ctx, res.ProductID)
	if err != nil {
		o.logger.Warn("duplicate mark failed, saving anyway",
			zap.String("product_id", res.ProductID), zap.Error(err))
	} else if !won {
		o.logger.Info("another worker saved this product first",
			zap.String("product_id", res.ProductID))
		return nil
	}

	if err := o.gateway.SaveResult(ctx, res); err != nil {
		o.logger.Error("persist failed",
			zap.String("task_id", task.TaskID),
			zap.String("product_id", res.ProductID),
			zap.Error(err),
		)
		return err
	}
	o.logger.Debug("result persisted",
		zap.String("product_id", res.ProductID),
		zap.Float64("confidence", res.ConfidenceScore),
	)
	return nil
}

func isWellFormedURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}
