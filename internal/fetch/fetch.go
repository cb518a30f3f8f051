// Package fetch retrieves product pages, over plain HTTP when possible and
// through a headless browser when the page needs JavaScript.
package fetch

import (
	"context"
	"net/http"
	"time"
)

// Request describes one page retrieval.
type Request struct {
	URL string
	// WaitSelector, when non-empty, is the CSS selector the headless
	// renderer waits for before capturing the DOM.
	WaitSelector string
	// RenderJS forces the headless path, skipping the HTTP attempt.
	RenderJS bool
	Headers  http.Header
}

// Response is a retrieved page.
type Response struct {
	URL          string
	StatusCode   int
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Fetcher retrieves a single page.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}
