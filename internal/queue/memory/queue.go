// Package memory provides an in-process TaskQueue for tests and local runs
// without a broker.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pricesense/crawler/internal/crawler"
	"github.com/pricesense/crawler/internal/queue"
)

// Queue implements crawler.TaskQueue on in-process slices guarded by one
// mutex. Dequeue polls rather than blocks on a condition variable so the
// timeout and retry-promotion semantics mirror the Redis backend.
type Queue struct {
	mu sync.Mutex

	high   []crawler.Task
	normal []crawler.Task
	retry  []crawler.Task
	result []crawler.ResultMessage
	dead   []crawler.Task

	clock      crawler.Clock
	maxRetries int
	retryDelay time.Duration
	closed     bool
}

// New builds an empty in-memory queue with the given retry policy.
func New(clock crawler.Clock, maxRetries int, retryDelay time.Duration) *Queue {
	return &Queue{
		clock:      clock,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// Enqueue appends the task to its priority sub-queue.
func (q *Queue) Enqueue(_ context.Context, task crawler.Task, priority crawler.Priority) error {
	if !priority.Valid() {
		priority = crawler.PriorityNormal
	}
	task.Priority = priority
	if task.CreatedAt.IsZero() {
		task.CreatedAt = q.clock.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if priority == crawler.PriorityHigh {
		q.high = append(q.high, task)
	} else {
		q.normal = append(q.normal, task)
	}
	return nil
}

// Dequeue returns the oldest task, high priority first, polling until the
// timeout elapses. Due retries are promoted before each poll.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*crawler.Task, error) {
	deadline := q.clock.Now().Add(timeout)
	for {
		if task := q.tryPop(); task != nil {
			return task, nil
		}
		if !q.clock.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (q *Queue) tryPop() *crawler.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.promoteDueRetriesLocked()

	if len(q.high) > 0 {
		task := q.high[0]
		q.high = q.high[1:]
		return &task
	}
	if len(q.normal) > 0 {
		task := q.normal[0]
		q.normal = q.normal[1:]
		return &task
	}
	return nil
}

func (q *Queue) promoteDueRetriesLocked() {
	now := q.clock.Now()
	var pending []crawler.Task
	for _, task := range q.retry {
		if task.RetryAt != nil && !task.RetryAt.After(now) {
			if task.Priority == crawler.PriorityHigh {
				q.high = append(q.high, task)
			} else {
				q.normal = append(q.normal, task)
			}
			continue
		}
		pending = append(pending, task)
	}
	q.retry = pending
}

// PublishResult records the message on the result channel.
func (q *Queue) PublishResult(_ context.Context, msg crawler.ResultMessage) bool {
	if msg.CompletedAt.IsZero() {
		msg.CompletedAt = q.clock.Now()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.result = append(q.result, msg)
	return true
}

// PublishFailure routes a failed task to the retry set or dead letter.
func (q *Queue) PublishFailure(_ context.Context, task crawler.Task, cause error) error {
	stamped, disposition := queue.DecideFailure(task, cause, q.maxRetries, q.retryDelay, q.clock.Now())

	q.mu.Lock()
	defer q.mu.Unlock()
	if disposition == queue.DispositionRetry {
		q.retry = append(q.retry, stamped)
	} else {
		q.dead = append(q.dead, stamped)
	}
	return nil
}

// Stats reports current sub-queue depths.
func (q *Queue) Stats(_ context.Context) (crawler.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return crawler.QueueStats{
		CrawlHigh:   int64(len(q.high)),
		CrawlNormal: int64(len(q.normal)),
		Retry:       int64(len(q.retry)),
		Result:      int64(len(q.result)),
		DeadLetter:  int64(len(q.dead)),
	}, nil
}

// Close marks the queue closed. Pending items remain readable via the
// inspection accessors.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// Results returns a copy of the published result messages.
func (q *Queue) Results() []crawler.ResultMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]crawler.ResultMessage, len(q.result))
	copy(out, q.result)
	return out
}

// DeadLetters returns a copy of the dead-lettered tasks.
func (q *Queue) DeadLetters() []crawler.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]crawler.Task, len(q.dead))
	copy(out, q.dead)
	return out
}

// PendingRetries returns a copy of tasks awaiting their retry due time.
func (q *Queue) PendingRetries() []crawler.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]crawler.Task, len(q.retry))
	copy(out, q.retry)
	return out
}
