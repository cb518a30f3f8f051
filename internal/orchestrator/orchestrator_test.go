package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pricesense/crawler/internal/crawler"
	"github.com/pricesense/crawler/internal/validate"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingSleeper captures the backoff schedule instead of waiting.
type recordingSleeper struct {
	mu    sync.Mutex
	slept []time.Duration
	clock *fakeClock
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()
	if s.clock != nil {
		s.clock.advance(d)
	}
	return nil
}

type scriptedStrategy struct {
	platform crawler.Platform
	results  []crawler.CrawlResult
	errs     []error
	calls    int
}

func (s *scriptedStrategy) Platform() crawler.Platform { return s.platform }
func (s *scriptedStrategy) OwnsURL(string) bool        { return true }
func (s *scriptedStrategy) Close() error               { return nil }

func (s *scriptedStrategy) Extract(context.Context, string, string) (crawler.CrawlResult, error) {
	i := s.calls
	s.calls++
	if i >= len(s.errs) {
		i = len(s.errs) - 1
	}
	return s.results[i], s.errs[i]
}

type captureGateway struct {
	mu    sync.Mutex
	saved []crawler.CrawlResult
	err   error
}

func (g *captureGateway) SaveResult(_ context.Context, res crawler.CrawlResult) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.saved = append(g.saved, res)
	return nil
}

func goodExtraction() crawler.CrawlResult {
	return crawler.CrawlResult{
		Success:         true,
		ProductID:       "p-1",
		Platform:        crawler.PlatformCoupang,
		URL:             "https://www.coupang.com/vp/products/1",
		ProductName:     "무선 청소기 파워 V10",
		Price:           crawler.Float64Ptr(129000),
		StockStatus:     crawler.StockAvailable,
		ImageURL:        "https://img.coupang.com/v10.jpg",
		ConfidenceScore: 0.85,
	}
}

func testTask() crawler.Task {
	return crawler.Task{
		TaskID:    "t-1",
		ProductID: "p-1",
		URL:       "https://www.coupang.com/vp/products/1",
		Platform:  crawler.PlatformCoupang,
	}
}

type fixture struct {
	orch    *Orchestrator
	gateway *captureGateway
	sleeper *recordingSleeper
	marker  *validate.MemoryMarker
}

func newFixture(cfg Config) *fixture {
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	marker := validate.NewMemoryMarker(10*time.Minute, clock)
	gateway := &captureGateway{}
	sleeper := &recordingSleeper{clock: clock}
	orch := New(cfg, validate.New(marker, 0, zap.NewNop()), marker, gateway, clock, sleeper, zap.NewNop())
	return &fixture{orch: orch, gateway: gateway, sleeper: sleeper, marker: marker}
}

func TestScrapeSuccessSavesResult(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{MaxAttempts: 3, BaseDelay: 2 * time.Second, SaveThreshold: 0.7})
	strategy := &scriptedStrategy{
		platform: crawler.PlatformCoupang,
		results:  []crawler.CrawlResult{goodExtraction()},
		errs:     []error{nil},
	}

	res, err := f.orch.Scrape(context.Background(), strategy, testTask())
	require.NoError(t, err)
	require.True(t, res.Success)
	require.False(t, res.ScrapedAt.IsZero())
	require.Len(t, f.gateway.saved, 1)

	// The saved product is marked: a second scrape within the window skips
	// the save but still succeeds.
	res, err = f.orch.Scrape(context.Background(), strategy, testTask())
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Len(t, f.gateway.saved, 1)
}

func TestScrapeRetriesWithLinearBackoff(t *testing.T) {
	t.Parallel()

	delay := 500 * time.Millisecond
	base := 2 * time.Second
	f := newFixture(Config{MaxAttempts: 3, RequestDelay: delay, BaseDelay: base, SaveThreshold: 0.7})

	transient := crawler.Tag(crawler.TaxonomyTransientFetch, crawler.ErrFetchTimeout)
	strategy := &scriptedStrategy{
		platform: crawler.PlatformCoupang,
		results:  []crawler.CrawlResult{{}, {}, goodExtraction()},
		errs:     []error{transient, transient, nil},
	}

	res, err := f.orch.Scrape(context.Background(), strategy, testTask())
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 3, strategy.calls)

	// delay, backoff 1*base, delay, backoff 2*base, delay
	require.Equal(t, []time.Duration{delay, base, delay, 2 * base, delay}, f.sleeper.slept)
}

func TestScrapeExhaustedAttemptsReturnsLastError(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{MaxAttempts: 2, BaseDelay: time.Second, SaveThreshold: 0.7})
	transient := crawler.Tag(crawler.TaxonomyTransientFetch, crawler.ErrFetchTimeout)
	strategy := &scriptedStrategy{
		platform: crawler.PlatformCoupang,
		results:  []crawler.CrawlResult{{}, {}},
		errs:     []error{transient, transient},
	}

	res, err := f.orch.Scrape(context.Background(), strategy, testTask())
	require.ErrorIs(t, err, crawler.ErrFetchTimeout)
	require.False(t, res.Success)
	require.NotEmpty(t, res.ErrorMessage)
	require.Equal(t, 2, strategy.calls)
	require.Empty(t, f.gateway.saved)
}

func TestScrapeNonRetryableErrorStopsImmediately(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{MaxAttempts: 3, BaseDelay: time.Second, SaveThreshold: 0.7})
	rejected := crawler.Tag(crawler.TaxonomyValidationRejected, crawler.ErrRecentlyCrawled)
	strategy := &scriptedStrategy{
		platform: crawler.PlatformCoupang,
		results:  []crawler.CrawlResult{{}},
		errs:     []error{rejected},
	}

	_, err := f.orch.Scrape(context.Background(), strategy, testTask())
	require.ErrorIs(t, err, crawler.ErrRecentlyCrawled)
	require.Equal(t, 1, strategy.calls)
}

func TestScrapeInvalidURLFailsFast(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{MaxAttempts: 3, SaveThreshold: 0.7})
	strategy := &scriptedStrategy{platform: crawler.PlatformCoupang}

	task := testTask()
	task.URL = "not a url"
	res, err := f.orch.Scrape(context.Background(), strategy, task)
	require.ErrorIs(t, err, crawler.ErrInvalidURL)
	require.Equal(t, crawler.TaxonomyInvalidInput, crawler.ClassOf(err))
	require.False(t, res.Success)
	require.Zero(t, strategy.calls)
}

func TestScrapeLowConfidenceSkipsSave(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{MaxAttempts: 1, SaveThreshold: 0.7})
	thin := goodExtraction()
	thin.ImageURL = ""
	thin.ConfidenceScore = 0.5
	strategy := &scriptedStrategy{
		platform: crawler.PlatformCoupang,
		results:  []crawler.CrawlResult{thin},
		errs:     []error{nil},
	}

	res, err := f.orch.Scrape(context.Background(), strategy, testTask())
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Empty(t, f.gateway.saved)
}

func TestScrapeValidationHardErrorFailsTask(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{MaxAttempts: 1, SaveThreshold: 0.7})
	bogus := goodExtraction()
	bogus.ProductName = "테스트 상품"
	bogus.Price = crawler.Float64Ptr(0)
	strategy := &scriptedStrategy{
		platform: crawler.PlatformCoupang,
		results:  []crawler.CrawlResult{bogus},
		errs:     []error{nil},
	}

	res, err := f.orch.Scrape(context.Background(), strategy, testTask())
	require.Error(t, err)
	require.Equal(t, crawler.TaxonomyValidationRejected, crawler.ClassOf(err))
	require.False(t, crawler.ClassOf(err).Retryable())
	require.False(t, res.Success)
	require.Contains(t, res.ErrorMessage, "validation rejected")
	require.Empty(t, f.gateway.saved)
	// One extraction attempt; the rejection must not re-enter the loop.
	require.Equal(t, 1, strategy.calls)
}

func TestScrapePersistenceFailureSurfaced(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{MaxAttempts: 1, SaveThreshold: 0.7})
	f.gateway.err = crawler.Tagf(crawler.TaxonomyPersistence, "insert price history: deadlock detected")
	strategy := &scriptedStrategy{
		platform: crawler.PlatformCoupang,
		results:  []crawler.CrawlResult{goodExtraction()},
		errs:     []error{nil},
	}

	res, err := f.orch.Scrape(context.Background(), strategy, testTask())
	require.Error(t, err)
	require.Equal(t, crawler.TaxonomyPersistence, crawler.ClassOf(err))
	require.False(t, res.Success)
	require.Empty(t, f.gateway.saved)
}
