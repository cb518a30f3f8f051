package extract

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/pricesense/crawler/internal/crawler"
	"github.com/pricesense/crawler/internal/fetch"
)

// fieldSelectors is the per-platform selector table. Chains are ordered
// current-markup first, legacy fallbacks after.
type fieldSelectors struct {
	name          []string
	price         []string
	originalPrice []string
	discountRate  []string
	promotion     []string
	image         []string
	category      []string
	brand         []string
	rating        []string
	reviewCount   []string
}

// stockFunc derives availability from page signals, optionally with a
// remaining-quantity figure.
type stockFunc func(p *Page) (crawler.StockStatus, *int)

// strategy is the shared extraction machinery behind every platform. The
// platform constructors differ only in selector tables, fetch settings and
// stock rules.
type strategy struct {
	platform     crawler.Platform
	fetcher      fetch.Fetcher
	closer       func() error
	sel          fieldSelectors
	waitSelector string
	renderJS     bool
	stock        stockFunc
	useNextData  bool
	logger       *zap.Logger
}

func (s *strategy) Platform() crawler.Platform { return s.platform }

// OwnsURL reports whether the URL's host falls under one of the platform's
// domains.
func (s *strategy) OwnsURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, domain := range s.platform.Domains() {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// Extract fetches the page and pulls the product field set out of it.
// Structured data (ld+json, Next.js bootstrap) takes precedence over CSS
// selectors because it survives markup churn.
func (s *strategy) Extract(ctx context.Context, productID, rawURL string) (crawler.CrawlResult, error) {
	res := crawler.CrawlResult{
		ProductID:   productID,
		Platform:    s.platform,
		URL:         rawURL,
		StockStatus: crawler.StockUnknown,
	}

	resp, err := s.fetcher.Fetch(ctx, fetch.Request{
		URL:          rawURL,
		WaitSelector: s.waitSelector,
		RenderJS:     s.renderJS,
	})
	if ferr := classifyFetch(resp, err); ferr != nil {
		return res, ferr
	}

	page, err := ParsePage(resp.Body)
	if err != nil {
		return res, crawler.Tagf(crawler.TaxonomyParseFailure, "parse html: %w", err)
	}

	s.fillFromSelectors(page, &res)
	if ld := page.LDJSONProduct(); ld != nil {
		mergeStructured(&res, ld)
	}
	if s.useNextData {
		if nd := page.NextDataProduct(); nd != nil {
			mergeStructured(&res, nd)
		}
	}

	status, quantity := s.stock(page)
	res.StockStatus = status
	res.StockQuantity = quantity

	if res.ProductName == "" && res.Price == nil {
		return res, crawler.Tag(crawler.TaxonomyParseFailure, crawler.ErrNothingExtracted)
	}

	res.Success = true
	res.ConfidenceScore = crawler.ConfidenceScore(res)
	s.logger.Debug("page extracted",
		zap.String("product_id", productID),
		zap.String("platform", string(s.platform)),
		zap.Float64("confidence", res.ConfidenceScore),
		zap.Bool("headless", resp.UsedHeadless),
	)
	return res, nil
}

func (s *strategy) fillFromSelectors(page *Page, res *crawler.CrawlResult) {
	res.ProductName = page.FirstText(s.sel.name...)
	res.Price = crawler.ParsePrice(page.FirstText(s.sel.price...))
	res.OriginalPrice = crawler.ParsePrice(page.FirstText(s.sel.originalPrice...))
	res.DiscountRate = crawler.ParseDiscountRate(page.FirstText(s.sel.discountRate...))
	res.ImageURL = page.ImageURL(s.sel.image...)
	res.Brand = page.FirstText(s.sel.brand...)
	res.Rating = crawler.ParseRating(page.FirstText(s.sel.rating...))
	res.ReviewCount = crawler.ParseReviewCount(page.FirstText(s.sel.reviewCount...))

	if promos := page.CollectTexts(s.sel.promotion...); len(promos) > 0 {
		res.PromotionInfo = strings.Join(promos, ", ")
	}
	if crumbs := page.CollectTexts(s.sel.category...); len(crumbs) > 0 {
		res.Category = strings.Join(crumbs, " > ")
	}
}

// mergeStructured overlays the embedded-JSON product onto the selector
// pass. Structured data wins where both carry a field: it is the page's own
// machine-readable record and immune to markup churn. Selector hits remain
// for fields the blob lacks or cannot be parsed from.
func mergeStructured(res *crawler.CrawlResult, ld *LDProduct) {
	if ld.Name != "" {
		res.ProductName = ld.Name
	}
	if price := crawler.ParsePrice(ld.Price); price != nil {
		res.Price = price
	}
	if ld.ImageURL != "" {
		res.ImageURL = ld.ImageURL
	}
	if ld.Brand != "" {
		res.Brand = ld.Brand
	}
	if rating := crawler.ParseRating(ld.Rating); rating != nil {
		res.Rating = rating
	}
}

func (s *strategy) Close() error {
	if s.closer != nil {
		return s.closer()
	}
	return nil
}

// classifyFetch maps a fetch outcome onto the failure taxonomy.
func classifyFetch(resp fetch.Response, err error) error {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return crawler.Tag(crawler.TaxonomyTransientFetch, crawler.ErrFetchTimeout)
		}
		if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
			return crawler.Tag(crawler.TaxonomyBlocked, crawler.ErrBlocked)
		}
		return crawler.Tag(crawler.TaxonomyTransientFetch, err)
	}
	switch {
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusTooManyRequests:
		return crawler.Tag(crawler.TaxonomyBlocked, crawler.ErrBlocked)
	case resp.StatusCode >= 500:
		return crawler.Tagf(crawler.TaxonomyTransientFetch, "upstream returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return crawler.Tagf(crawler.TaxonomyParseFailure, "page returned %d", resp.StatusCode)
	}
	return nil
}
