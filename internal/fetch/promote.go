package fetch

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// thinPageBytes is the body size below which an HTTP response is assumed to
// be an empty client-rendered shell worth re-fetching with a browser.
const thinPageBytes = 2048

// PromotingFetcher tries plain HTTP first and escalates to the headless
// renderer when the cheap path is blocked or returns a shell page. Requests
// with RenderJS set skip the HTTP attempt entirely.
type PromotingFetcher struct {
	http     Fetcher
	headless Fetcher
	logger   *zap.Logger
}

// NewPromoting composes the two fetchers. headless may be nil, in which
// case no escalation happens and the HTTP outcome is final.
func NewPromoting(httpFetcher, headless Fetcher, logger *zap.Logger) *PromotingFetcher {
	return &PromotingFetcher{http: httpFetcher, headless: headless, logger: logger}
}

// Fetch retrieves the page, escalating at most once.
func (f *PromotingFetcher) Fetch(ctx context.Context, req Request) (Response, error) {
	if req.RenderJS && f.headless != nil {
		return f.headless.Fetch(ctx, req)
	}

	res, err := f.http.Fetch(ctx, req)
	if f.headless == nil {
		return res, err
	}
	if err == nil && !needsRender(res) {
		return res, nil
	}

	if err != nil {
		f.logger.Debug("http fetch failed, promoting to headless",
			zap.String("url", req.URL), zap.Error(err))
	} else {
		f.logger.Debug("http fetch returned shell page, promoting to headless",
			zap.String("url", req.URL),
			zap.Int("status", res.StatusCode),
			zap.Int("body_bytes", len(res.Body)),
		)
	}
	return f.headless.Fetch(ctx, req)
}

func needsRender(res Response) bool {
	switch res.StatusCode {
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	}
	return len(res.Body) < thinPageBytes
}
