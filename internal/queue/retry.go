// Package queue implements the work-distribution protocol shared by the
// broker backends: priority sub-queues, a result channel, delayed retries
// and a dead-letter destination.
package queue

import (
	"time"

	"github.com/pricesense/crawler/internal/crawler"
)

// Disposition is the outcome of a failure decision.
type Disposition int

// Failure dispositions.
const (
	DispositionRetry Disposition = iota
	DispositionDeadLetter
)

// DecideFailure applies the retry state machine to a failed task. A
// retryable cause with budget remaining returns the task stamped for
// re-enqueue (RetryCount incremented, LastError and RetryAt set); a
// non-retryable cause or an exhausted budget returns it stamped for the
// dead-letter destination (FinalError, FailedAt). The input task is not
// modified.
func DecideFailure(task crawler.Task, cause error, maxRetries int, retryDelay time.Duration, now time.Time) (crawler.Task, Disposition) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	if crawler.ClassOf(cause).Retryable() && task.RetryCount < maxRetries {
		due := now.Add(retryDelay)
		task.RetryCount++
		task.LastError = msg
		task.RetryAt = &due
		return task, DispositionRetry
	}

	failedAt := now
	task.FinalError = msg
	task.FailedAt = &failedAt
	return task, DispositionDeadLetter
}
