package extract

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/pricesense/crawler/internal/crawler"
	"github.com/pricesense/crawler/internal/fetch"
)

// Factory builds platform strategies over a shared fetch stack. The HTTP
// collector is shared eagerly; Chrome is expensive, so the headless fetcher
// is created on first use and only when enabled.
type Factory struct {
	httpFetcher fetch.Fetcher
	headlessCfg fetch.HeadlessConfig
	useHeadless bool
	logger      *zap.Logger

	mu       sync.Mutex
	headless *fetch.HeadlessFetcher
}

// NewFactory wires the fetch stack for strategy construction.
func NewFactory(httpCfg fetch.HTTPConfig, headlessCfg fetch.HeadlessConfig, useHeadless bool, logger *zap.Logger) *Factory {
	return &Factory{
		httpFetcher: fetch.NewHTTP(httpCfg),
		headlessCfg: headlessCfg,
		useHeadless: useHeadless,
		logger:      logger,
	}
}

// New returns a strategy for the platform.
func (f *Factory) New(platform crawler.Platform) (crawler.Strategy, error) {
	fetcher, err := f.buildFetcher()
	if err != nil {
		return nil, err
	}

	switch platform {
	case crawler.PlatformCoupang:
		return NewCoupang(fetcher, nil, f.logger), nil
	case crawler.PlatformNaverShopping:
		return NewNaverShopping(fetcher, nil, f.logger), nil
	case crawler.PlatformSmartStore:
		return NewSmartStore(fetcher, nil, f.logger), nil
	}
	return nil, fmt.Errorf("no strategy for platform %q", platform)
}

// ForURL returns a strategy for whichever platform owns the URL, or nil
// when none does.
func (f *Factory) ForURL(rawURL string) (crawler.Strategy, error) {
	for _, platform := range []crawler.Platform{
		crawler.PlatformCoupang,
		crawler.PlatformNaverShopping,
		crawler.PlatformSmartStore,
	} {
		s, err := f.New(platform)
		if err != nil {
			return nil, err
		}
		if s.OwnsURL(rawURL) {
			return s, nil
		}
	}
	return nil, crawler.Tagf(crawler.TaxonomyInvalidInput, "no platform owns url %s: %w", rawURL, crawler.ErrWrongPlatform)
}

func (f *Factory) buildFetcher() (fetch.Fetcher, error) {
	if !f.useHeadless {
		return f.httpFetcher, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.headless == nil {
		h, err := fetch.NewHeadless(f.headlessCfg)
		if err != nil {
			return nil, fmt.Errorf("start headless fetcher: %w", err)
		}
		f.headless = h
	}
	return fetch.NewPromoting(f.httpFetcher, f.headless, f.logger), nil
}

// Close releases the shared browser, if one was started.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.headless != nil {
		f.headless.Close()
		f.headless = nil
	}
	return nil
}
