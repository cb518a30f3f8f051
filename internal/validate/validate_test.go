package validate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pricesense/crawler/internal/crawler"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func goodResult() crawler.CrawlResult {
	return crawler.CrawlResult{
		Success:     true,
		ProductID:   "p-1",
		Platform:    crawler.PlatformCoupang,
		URL:         "https://www.coupang.com/vp/products/1",
		ProductName: "무선 청소기 파워 V10",
		Price:       crawler.Float64Ptr(129000),
		StockStatus: crawler.StockAvailable,
	}
}

func newValidator(marker crawler.DuplicateMarker) *Validator {
	return New(marker, 0, zap.NewNop())
}

func TestValidateAcceptsCleanResult(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	v := newValidator(NewMemoryMarker(10*time.Minute, clock))

	r, err := v.Validate(context.Background(), goodResult())
	require.NoError(t, err)
	require.True(t, r.Valid)
	require.InDelta(t, 1.0, r.Score, 0.001)
	require.True(t, ShouldSave(r, 0.7))
}

func TestValidateRejectsRecentDuplicateFirst(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	marker := NewMemoryMarker(10*time.Minute, clock)
	require.NoError(t, marker.MarkCrawled(context.Background(), "p-1"))

	v := newValidator(marker)
	// Even a result that would fail every field check reports the
	// duplicate, not the field errors.
	res := goodResult()
	res.ProductName = ""

	r, err := v.Validate(context.Background(), res)
	require.ErrorIs(t, err, crawler.ErrRecentlyCrawled)
	require.False(t, r.Valid)
	require.Len(t, r.Errors, 1)
	require.Contains(t, r.Errors[0], "crawled recently")
}

func TestValidateDuplicateWindowExpires(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	marker := NewMemoryMarker(10*time.Minute, clock)
	require.NoError(t, marker.MarkCrawled(context.Background(), "p-1"))

	clock.now = clock.now.Add(11 * time.Minute)

	v := newValidator(marker)
	r, err := v.Validate(context.Background(), goodResult())
	require.NoError(t, err)
	require.True(t, r.Valid)
}

func TestValidateAggregatesMeanOfChecks(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	v := newValidator(NewMemoryMarker(10*time.Minute, clock))

	res := goodResult()
	res.URL = "http://www.coupang.com/vp/products/1" // 0.9
	res.Price = crawler.Float64Ptr(11111)            // 0.6

	r, err := v.Validate(context.Background(), res)
	require.NoError(t, err)
	require.True(t, r.Valid)
	// mean of url 0.9, name 1.0, price 0.6, stock 1.0
	require.InDelta(t, (0.9+1.0+0.6+1.0)/4, r.Score, 0.001)
}

func TestValidateHardErrorInvalidatesRegardlessOfScore(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	v := newValidator(NewMemoryMarker(10*time.Minute, clock))

	res := goodResult()
	res.Price = crawler.Float64Ptr(-1)

	r, err := v.Validate(context.Background(), res)
	require.NoError(t, err)
	require.False(t, r.Valid)
	require.False(t, ShouldSave(r, 0.0))
}

func TestValidateMixedQualityStaysBelowSaveThreshold(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	v := newValidator(NewMemoryMarker(10*time.Minute, clock))

	res := goodResult()
	res.URL = "https://www.coupang.com/"  // 0.8 root path
	res.ProductName = "!@# $%^ &*("       // 0.7 no letters
	res.Price = crawler.Float64Ptr(0)     // 0.3 * 0.7 * 0.6
	res.StockQuantity = crawler.IntPtr(0) // 0.5 zero but available

	r, err := v.Validate(context.Background(), res)
	require.NoError(t, err)
	require.True(t, r.Valid) // warnings only, no hard error
	require.InDelta(t, (0.8+0.7+0.3*0.7*0.6+0.5)/4, r.Score, 0.001)
	require.False(t, ShouldSave(r, 0.7))
}

func TestValidateConfiguredFloorRejectsWeakRecord(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	v := New(NewMemoryMarker(10*time.Minute, clock), 0.6, zap.NewNop())

	res := goodResult()
	res.URL = "https://www.coupang.com/"  // 0.8 root path
	res.ProductName = "!@# $%^ &*("       // 0.7 no letters
	res.Price = crawler.Float64Ptr(0)     // 0.3 * 0.7 * 0.6
	res.StockQuantity = crawler.IntPtr(0) // 0.5 zero but available

	r, err := v.Validate(context.Background(), res)
	require.NoError(t, err)
	require.False(t, r.Valid)
	require.Contains(t, r.Errors, "overall data quality score too low")
}

func TestMemoryMarkerTryMark(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	marker := NewMemoryMarker(10*time.Minute, clock)
	ctx := context.Background()

	won, err := marker.TryMark(ctx, "p-1")
	require.NoError(t, err)
	require.True(t, won)

	won, err = marker.TryMark(ctx, "p-1")
	require.NoError(t, err)
	require.False(t, won)

	clock.now = clock.now.Add(11 * time.Minute)
	won, err = marker.TryMark(ctx, "p-1")
	require.NoError(t, err)
	require.True(t, won)
}
