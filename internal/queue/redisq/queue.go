// Package redisq implements the task queue protocol on Redis lists.
package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pricesense/crawler/internal/crawler"
	"github.com/pricesense/crawler/internal/metrics"
	"github.com/pricesense/crawler/internal/queue"
)

// promoteBatch bounds how many due retries are moved per dequeue poll.
const promoteBatch = 32

// Config controls broker connection and protocol behavior.
type Config struct {
	Address    string
	Password   string
	DB         int
	KeyPrefix  string
	PoolSize   int
	MaxRetries int
	RetryDelay time.Duration
}

// Queue is the Redis-backed crawler.TaskQueue. Priority is realized as two
// lists consulted in fixed order by a multi-key blocking pop; delayed
// retries live in a due-time-scored sorted set until promotion.
type Queue struct {
	client *redis.Client
	cfg    Config
	clock  crawler.Clock
	logger *zap.Logger

	keyHigh   string
	keyNormal string
	keyRetry  string
	keyResult string
	keyDead   string
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, clock crawler.Clock, logger *zap.Logger) (*Queue, error) {
	if cfg.Address == "" {
		return nil, errors.New("broker address is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "pricesense"
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Queue{
		client:    client,
		cfg:       cfg,
		clock:     clock,
		logger:    logger,
		keyHigh:   cfg.KeyPrefix + ":crawl:high",
		keyNormal: cfg.KeyPrefix + ":crawl:normal",
		keyRetry:  cfg.KeyPrefix + ":crawl:retry",
		keyResult: cfg.KeyPrefix + ":result",
		keyDead:   cfg.KeyPrefix + ":dead",
	}, nil
}

// Client exposes the underlying connection for collaborators that share the
// broker (the duplicate-suppression cache).
func (q *Queue) Client() *redis.Client {
	return q.client
}

func (q *Queue) priorityKey(p crawler.Priority) string {
	if p == crawler.PriorityHigh {
		return q.keyHigh
	}
	return q.keyNormal
}

// Enqueue appends the task to the tail of its priority list. Missing
// metadata (created_at, priority) is stamped before serialization.
func (q *Queue) Enqueue(ctx context.Context, task crawler.Task, priority crawler.Priority) error {
	if !priority.Valid() {
		priority = crawler.PriorityNormal
	}
	task.Priority = priority
	if task.CreatedAt.IsZero() {
		task.CreatedAt = q.clock.Now()
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := q.client.LPush(ctx, q.priorityKey(priority), payload).Err(); err != nil {
		return fmt.Errorf("enqueue task %s: %w", task.TaskID, err)
	}
	q.logger.Debug("task enqueued",
		zap.String("task_id", task.TaskID),
		zap.String("priority", string(priority)),
	)
	return nil
}

// Dequeue blocks up to timeout on the high then normal list. Due retries
// are promoted back onto their priority list first. A nil task with a nil
// error signals an idle poll cycle.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*crawler.Task, error) {
	if err := q.promoteDueRetries(ctx); err != nil {
		q.logger.Warn("retry promotion failed", zap.Error(err))
	}

	res, err := q.client.BRPop(ctx, timeout, q.keyHigh, q.keyNormal).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("brpop: %w", err)
	}
	// BRPop returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("brpop: unexpected reply of %d elements", len(res))
	}

	var task crawler.Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &task, nil
}

// promoteDueRetries moves retry entries whose due time has passed back onto
// their priority list. ZRem acts as the claim: whichever caller removes the
// member re-enqueues it, so concurrent workers cannot double-promote.
func (q *Queue) promoteDueRetries(ctx context.Context) error {
	now := q.clock.Now()
	members, err := q.client.ZRangeByScore(ctx, q.keyRetry, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return fmt.Errorf("zrangebyscore: %w", err)
	}

	for _, member := range members {
		removed, err := q.client.ZRem(ctx, q.keyRetry, member).Result()
		if err != nil {
			return fmt.Errorf("zrem: %w", err)
		}
		if removed == 0 {
			continue // another worker claimed it
		}

		var task crawler.Task
		if err := json.Unmarshal([]byte(member), &task); err != nil {
			q.logger.Error("dropping unreadable retry entry", zap.Error(err))
			continue
		}
		if err := q.client.LPush(ctx, q.priorityKey(task.Priority), member).Err(); err != nil {
			return fmt.Errorf("requeue retry %s: %w", task.TaskID, err)
		}
		q.logger.Debug("retry promoted",
			zap.String("task_id", task.TaskID),
			zap.Int("retry_count", task.RetryCount),
		)
	}
	return nil
}

// PublishResult appends a result message to the result list. Broker errors
// are logged and reported as false rather than raised: a dropped result is
// less damaging than a crashed worker.
func (q *Queue) PublishResult(ctx context.Context, msg crawler.ResultMessage) bool {
	if msg.CompletedAt.IsZero() {
		msg.CompletedAt = q.clock.Now()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		q.logger.Error("marshal result failed", zap.String("task_id", msg.TaskID), zap.Error(err))
		metrics.ResultsDropped.Inc()
		return false
	}
	if err := q.client.LPush(ctx, q.keyResult, payload).Err(); err != nil {
		q.logger.Error("publish result failed", zap.String("task_id", msg.TaskID), zap.Error(err))
		metrics.ResultsDropped.Inc()
		return false
	}
	return true
}

// PublishFailure routes a failed task: back onto the delayed-retry set while
// budget remains, otherwise onto the dead-letter list exactly once.
func (q *Queue) PublishFailure(ctx context.Context, task crawler.Task, cause error) error {
	now := q.clock.Now()
	stamped, disposition := queue.DecideFailure(task, cause, q.cfg.MaxRetries, q.cfg.RetryDelay, now)

	payload, err := json.Marshal(stamped)
	if err != nil {
		return fmt.Errorf("marshal failed task: %w", err)
	}

	switch disposition {
	case queue.DispositionRetry:
		score := float64(stamped.RetryAt.Unix())
		if err := q.client.ZAdd(ctx, q.keyRetry, redis.Z{Score: score, Member: payload}).Err(); err != nil {
			return fmt.Errorf("schedule retry %s: %w", stamped.TaskID, err)
		}
		metrics.TasksRetried.WithLabelValues(string(stamped.Platform)).Inc()
		q.logger.Warn("task scheduled for retry",
			zap.String("task_id", stamped.TaskID),
			zap.Int("retry_count", stamped.RetryCount),
			zap.String("last_error", stamped.LastError),
		)
	case queue.DispositionDeadLetter:
		if err := q.client.LPush(ctx, q.keyDead, payload).Err(); err != nil {
			return fmt.Errorf("dead-letter %s: %w", stamped.TaskID, err)
		}
		metrics.TasksDeadLettered.WithLabelValues(string(stamped.Platform)).Inc()
		q.logger.Error("task moved to dead letter",
			zap.String("task_id", stamped.TaskID),
			zap.String("final_error", stamped.FinalError),
		)
	}
	return nil
}

// Stats returns the current depth of each broker list. The snapshot is
// eventually consistent with concurrent pushes.
func (q *Queue) Stats(ctx context.Context) (crawler.QueueStats, error) {
	pipe := q.client.Pipeline()
	high := pipe.LLen(ctx, q.keyHigh)
	normal := pipe.LLen(ctx, q.keyNormal)
	retry := pipe.ZCard(ctx, q.keyRetry)
	result := pipe.LLen(ctx, q.keyResult)
	dead := pipe.LLen(ctx, q.keyDead)
	if _, err := pipe.Exec(ctx); err != nil {
		return crawler.QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}

	stats := crawler.QueueStats{
		CrawlHigh:   high.Val(),
		CrawlNormal: normal.Val(),
		Retry:       retry.Val(),
		Result:      result.Val(),
		DeadLetter:  dead.Val(),
	}
	metrics.QueueDepth.WithLabelValues("crawl_high").Set(float64(stats.CrawlHigh))
	metrics.QueueDepth.WithLabelValues("crawl_normal").Set(float64(stats.CrawlNormal))
	metrics.QueueDepth.WithLabelValues("retry").Set(float64(stats.Retry))
	metrics.QueueDepth.WithLabelValues("dead_letter").Set(float64(stats.DeadLetter))
	return stats, nil
}

// Ping verifies broker connectivity.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the broker connection pool.
func (q *Queue) Close() error {
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}
