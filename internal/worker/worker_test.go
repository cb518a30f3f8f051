package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pricesense/crawler/internal/clock/system"
	"github.com/pricesense/crawler/internal/crawler"
	"github.com/pricesense/crawler/internal/orchestrator"
	"github.com/pricesense/crawler/internal/queue/memory"
	"github.com/pricesense/crawler/internal/validate"
)

type fakeStrategy struct {
	platform crawler.Platform
	closed   bool
}

func (s *fakeStrategy) Platform() crawler.Platform { return s.platform }
func (s *fakeStrategy) OwnsURL(string) bool        { return true }
func (s *fakeStrategy) Close() error               { s.closed = true; return nil }
func (s *fakeStrategy) Extract(context.Context, string, string) (crawler.CrawlResult, error) {
	return crawler.CrawlResult{}, nil
}

type fakeProvider struct {
	mu      sync.Mutex
	built   map[crawler.Platform]*fakeStrategy
	buildN  int
	failFor crawler.Platform
	closed  bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{built: make(map[crawler.Platform]*fakeStrategy)}
}

func (p *fakeProvider) New(platform crawler.Platform) (crawler.Strategy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if platform == p.failFor {
		return nil, crawler.Tagf(crawler.TaxonomyInvalidInput, "no strategy for %q", platform)
	}
	p.buildN++
	s := &fakeStrategy{platform: platform}
	p.built[platform] = s
	return s, nil
}

func (p *fakeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type fakeScraper struct {
	mu      sync.Mutex
	results map[string]crawler.CrawlResult
	errs    map[string]error
	seen    []string
}

func (s *fakeScraper) Scrape(_ context.Context, _ crawler.Strategy, task crawler.Task) (crawler.CrawlResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, task.TaskID)
	if err, ok := s.errs[task.TaskID]; ok {
		return crawler.CrawlResult{}, err
	}
	res := s.results[task.TaskID]
	return res, nil
}

func testWorkerConfig() Config {
	return Config{
		PollTimeout:   20 * time.Millisecond,
		IdleSleep:     10 * time.Millisecond,
		MaxEmptyPolls: 2,
		ErrorBackoff:  10 * time.Millisecond,
	}
}

func successTask(id string) crawler.Task {
	return crawler.Task{
		TaskID:    id,
		ProductID: "p-" + id,
		URL:       "https://www.coupang.com/vp/products/1",
		Platform:  crawler.PlatformCoupang,
	}
}

func TestWorkerProcessesSuccessfulTask(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := memory.New(system.Clock{}, 3, 10*time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, successTask("t1"), crawler.PriorityNormal))

	scraper := &fakeScraper{results: map[string]crawler.CrawlResult{
		"t1": {
			Success:         true,
			ProductID:       "p-t1",
			ProductName:     "상품",
			Price:           crawler.Float64Ptr(10000),
			StockStatus:     crawler.StockAvailable,
			ConfidenceScore: 0.9,
			ExecutionTime:   120 * time.Millisecond,
		},
	}}
	provider := newFakeProvider()
	w := New("worker-1", testWorkerConfig(), q, scraper, provider, system.Clock{}, zap.NewNop())

	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return len(q.Results()) == 1
	}, time.Second, 10*time.Millisecond)
	cancel()

	msg := q.Results()[0]
	require.Equal(t, "t1", msg.TaskID)
	require.Equal(t, crawler.ResultSuccess, msg.Status)
	require.Equal(t, "worker-1", msg.WorkerID)
	require.Equal(t, int64(120), msg.ExecutionTimeMS)
	require.Equal(t, 10000.0, msg.Data["price"])

	stats := w.Stats()
	require.Equal(t, int64(1), stats.Processed)
	require.Equal(t, int64(1), stats.Succeeded)
}

func TestWorkerRoutesFailureAndPublishesFailedResult(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := memory.New(system.Clock{}, 3, time.Hour)
	require.NoError(t, q.Enqueue(ctx, successTask("t1"), crawler.PriorityNormal))

	cause := crawler.Tag(crawler.TaxonomyTransientFetch, crawler.ErrFetchTimeout)
	scraper := &fakeScraper{errs: map[string]error{"t1": cause}}
	w := New("worker-1", testWorkerConfig(), q, scraper, newFakeProvider(), system.Clock{}, zap.NewNop())

	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return len(q.Results()) == 1 && len(q.PendingRetries()) == 1
	}, time.Second, 10*time.Millisecond)
	cancel()

	msg := q.Results()[0]
	require.Equal(t, crawler.ResultFailed, msg.Status)
	require.Equal(t, string(crawler.TaxonomyTransientFetch), msg.ErrorCode)
	require.Contains(t, msg.Error, crawler.ErrFetchTimeout.Error())

	retry := q.PendingRetries()[0]
	require.Equal(t, 1, retry.RetryCount)

	stats := w.Stats()
	require.Equal(t, int64(1), stats.Failed)
}

func TestWorkerUnknownPlatformGoesToDeadLetter(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := memory.New(system.Clock{}, 3, time.Hour)
	task := successTask("t1")
	task.Platform = crawler.Platform("gmarket")
	require.NoError(t, q.Enqueue(ctx, task, crawler.PriorityNormal))

	provider := newFakeProvider()
	provider.failFor = crawler.Platform("gmarket")
	w := New("worker-1", testWorkerConfig(), q, &fakeScraper{}, provider, system.Clock{}, zap.NewNop())

	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return len(q.DeadLetters()) == 1
	}, time.Second, 10*time.Millisecond)
	cancel()

	dead := q.DeadLetters()[0]
	require.Equal(t, "t1", dead.TaskID)
	require.NotEmpty(t, dead.FinalError)
	require.Empty(t, q.PendingRetries())
}

func TestWorkerReusesStrategyAcrossTasks(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := memory.New(system.Clock{}, 3, time.Hour)
	require.NoError(t, q.Enqueue(ctx, successTask("t1"), crawler.PriorityNormal))
	require.NoError(t, q.Enqueue(ctx, successTask("t2"), crawler.PriorityNormal))

	provider := newFakeProvider()
	scraper := &fakeScraper{results: map[string]crawler.CrawlResult{}}
	w := New("worker-1", testWorkerConfig(), q, scraper, provider, system.Clock{}, zap.NewNop())

	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return len(q.Results()) == 2
	}, time.Second, 10*time.Millisecond)
	cancel()

	provider.mu.Lock()
	defer provider.mu.Unlock()
	require.Equal(t, 1, provider.buildN)
}

func TestWorkerClosesStrategiesOnExit(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	q := memory.New(system.Clock{}, 3, time.Hour)
	require.NoError(t, q.Enqueue(ctx, successTask("t1"), crawler.PriorityNormal))

	provider := newFakeProvider()
	w := New("worker-1", testWorkerConfig(), q, &fakeScraper{}, provider, system.Clock{}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(q.Results()) == 1
	}, time.Second, 10*time.Millisecond)
	cancel()
	<-done

	provider.mu.Lock()
	defer provider.mu.Unlock()
	require.True(t, provider.built[crawler.PlatformCoupang].closed)
}

type scriptedExtraction struct {
	fakeStrategy
	res crawler.CrawlResult
}

func (s *scriptedExtraction) Extract(context.Context, string, string) (crawler.CrawlResult, error) {
	return s.res, nil
}

type singleStrategyProvider struct {
	strategy crawler.Strategy
}

func (p *singleStrategyProvider) New(crawler.Platform) (crawler.Strategy, error) {
	return p.strategy, nil
}

func (p *singleStrategyProvider) Close() error { return nil }

type countingGateway struct {
	mu    sync.Mutex
	saved int
}

func (g *countingGateway) SaveResult(context.Context, crawler.CrawlResult) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.saved++
	return nil
}

// A confident extraction whose fields fail validation hard (forbidden name,
// zero price) must not be stored and must reach the result channel as a
// failed message carrying the rejection, with the task dead-lettered
// instead of retried.
func TestWorkerRejectedDataPublishesFailedResult(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := memory.New(system.Clock{}, 3, time.Hour)
	task := successTask("t1")
	require.NoError(t, q.Enqueue(ctx, task, crawler.PriorityNormal))

	strategy := &scriptedExtraction{
		fakeStrategy: fakeStrategy{platform: crawler.PlatformCoupang},
		res: crawler.CrawlResult{
			Success:         true,
			ProductID:       task.ProductID,
			Platform:        crawler.PlatformCoupang,
			URL:             task.URL,
			ProductName:     "테스트 상품",
			Price:           crawler.Float64Ptr(0),
			StockStatus:     crawler.StockAvailable,
			ConfidenceScore: 0.85,
		},
	}

	marker := validate.NewMemoryMarker(10*time.Minute, system.Clock{})
	gateway := &countingGateway{}
	orch := orchestrator.New(
		orchestrator.Config{MaxAttempts: 1, SaveThreshold: 0.7},
		validate.New(marker, 0, zap.NewNop()),
		marker, gateway, system.Clock{}, system.Clock{}, zap.NewNop(),
	)
	w := New("worker-1", testWorkerConfig(), q, orch, &singleStrategyProvider{strategy: strategy}, system.Clock{}, zap.NewNop())

	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return len(q.Results()) == 1 && len(q.DeadLetters()) == 1
	}, time.Second, 10*time.Millisecond)
	cancel()

	msg := q.Results()[0]
	require.Equal(t, crawler.ResultFailed, msg.Status)
	require.Equal(t, string(crawler.TaxonomyValidationRejected), msg.ErrorCode)
	require.Contains(t, msg.Error, "validation rejected")
	require.Contains(t, msg.Error, "forbidden keyword")

	require.Empty(t, q.PendingRetries())
	gateway.mu.Lock()
	defer gateway.mu.Unlock()
	require.Zero(t, gateway.saved)
}

func TestPoolRunsAndShutsDownCleanly(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	q := memory.New(system.Clock{}, 3, time.Hour)
	for _, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, q.Enqueue(ctx, successTask(id), crawler.PriorityNormal))
	}

	provider := newFakeProvider()
	scraper := &fakeScraper{results: map[string]crawler.CrawlResult{}}
	pool := NewPool(PoolConfig{
		Workers:       2,
		ShutdownGrace: time.Second,
		Worker:        testWorkerConfig(),
	}, q, scraper, provider, system.Clock{}, system.Clock{}, zap.NewNop())

	errCh := make(chan error, 1)
	go func() { errCh <- pool.Run(ctx) }()

	require.Eventually(t, func() bool {
		return pool.Stats().Processed == 3
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	require.NoError(t, <-errCh)
	provider.mu.Lock()
	defer provider.mu.Unlock()
	require.True(t, provider.closed)
}
