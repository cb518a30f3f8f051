package crawler

import (
	"context"
	"time"
)

// TaskQueue is the broker-backed work distribution primitive. Dequeue
// delivers each task to exactly one caller; PublishFailure owns the
// retry / dead-letter decision.
type TaskQueue interface {
	Enqueue(ctx context.Context, task Task, priority Priority) error
	// Dequeue blocks up to timeout. A nil task with a nil error means the
	// poll window elapsed with nothing available (idle cycle, not an error).
	Dequeue(ctx context.Context, timeout time.Duration) (*Task, error)
	// PublishResult reports success as a boolean instead of an error: a
	// dropped result is less damaging than a crashed worker.
	PublishResult(ctx context.Context, msg ResultMessage) bool
	PublishFailure(ctx context.Context, task Task, cause error) error
	Stats(ctx context.Context) (QueueStats, error)
	Close() error
}

// Strategy extracts structured product data for one platform. Implementations
// must be safe to reuse across tasks within a single worker but are not
// required to be safe for concurrent use.
type Strategy interface {
	Platform() Platform
	// OwnsURL reports whether url belongs to this strategy's platform.
	OwnsURL(url string) bool
	// Extract fetches the page and returns the extracted field set, or a
	// taxonomy-tagged error (timeout, domain mismatch, parse failure, blocked).
	Extract(ctx context.Context, productID, url string) (CrawlResult, error)
	// Close releases the fetch session owned by this strategy.
	Close() error
}

// Gateway durably records a validated crawl result: price history, stock
// history and an audit log entry in one atomic unit.
type Gateway interface {
	SaveResult(ctx context.Context, res CrawlResult) error
}

// DuplicateMarker is the cross-worker duplicate-suppression cache keyed by
// product ID.
type DuplicateMarker interface {
	IsRecentlyCrawled(ctx context.Context, productID string) (bool, error)
	MarkCrawled(ctx context.Context, productID string) error
	// TryMark atomically marks productID if no fresh mark exists, returning
	// whether this caller won. Used to keep two workers from both persisting
	// the same product within the window.
	TryMark(ctx context.Context, productID string) (bool, error)
}

// Clock returns the current time (a seam for tests).
type Clock interface {
	Now() time.Time
}

// Sleeper waits for d or until the context finishes (a seam for tests of
// backoff schedules).
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces task and worker IDs.
type IDGenerator interface {
	NewID() (string, error)
}
