package validate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pricesense/crawler/internal/crawler"
)

const markerKeyPrefix = "crawl_history:"

// RedisMarker is the cross-worker duplicate-suppression cache. A product's
// key lives for the configured window; SET NX makes TryMark a single
// atomic claim, so two workers finishing the same product within the
// window persist it only once.
type RedisMarker struct {
	client *redis.Client
	window time.Duration
	clock  crawler.Clock
}

// NewRedisMarker builds a marker over a shared broker connection.
func NewRedisMarker(client *redis.Client, window time.Duration, clock crawler.Clock) *RedisMarker {
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &RedisMarker{client: client, window: window, clock: clock}
}

func markerKey(productID string) string {
	return markerKeyPrefix + productID
}

// IsRecentlyCrawled reports whether a fresh mark exists for the product.
func (m *RedisMarker) IsRecentlyCrawled(ctx context.Context, productID string) (bool, error) {
	n, err := m.client.Exists(ctx, markerKey(productID)).Result()
	if err != nil {
		return false, fmt.Errorf("duplicate check %s: %w", productID, err)
	}
	return n > 0, nil
}

// MarkCrawled unconditionally stamps the product, refreshing the window.
func (m *RedisMarker) MarkCrawled(ctx context.Context, productID string) error {
	stamp := m.clock.Now().Format(time.RFC3339)
	if err := m.client.Set(ctx, markerKey(productID), stamp, m.window).Err(); err != nil {
		return fmt.Errorf("mark crawled %s: %w", productID, err)
	}
	return nil
}

// TryMark stamps the product only if no fresh mark exists, reporting
// whether this caller won the claim.
func (m *RedisMarker) TryMark(ctx context.Context, productID string) (bool, error) {
	stamp := m.clock.Now().Format(time.RFC3339)
	won, err := m.client.SetNX(ctx, markerKey(productID), stamp, m.window).Result()
	if err != nil {
		return false, fmt.Errorf("try mark %s: %w", productID, err)
	}
	return won, nil
}
