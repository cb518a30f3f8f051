package extract

import (
	"strings"

	"go.uber.org/zap"

	"github.com/pricesense/crawler/internal/crawler"
	"github.com/pricesense/crawler/internal/fetch"
)

// NewCoupang builds the Coupang strategy. Coupang pages render server-side,
// so the plain HTTP path usually suffices; the promoting fetcher escalates
// on its aggressive bot blocking.
func NewCoupang(fetcher fetch.Fetcher, closer func() error, logger *zap.Logger) crawler.Strategy {
	return &strategy{
		platform:     crawler.PlatformCoupang,
		fetcher:      fetcher,
		closer:       closer,
		waitSelector: ".prod-buy-header",
		stock:        coupangStock,
		logger:       logger,
		sel: fieldSelectors{
			name: []string{
				".prod-buy-header__title",
				".product-title h2",
				".prod-buy-header .title",
			},
			price: []string{
				".total-price strong.price-value",
				".price .total-price .price-value",
				".prod-price .total-price .price-value",
				".price-wrap .total-price",
			},
			originalPrice: []string{
				".origin-price .price-value",
				".prod-origin-price .price-value",
				".price-wrap .origin-price",
			},
			discountRate: []string{
				".discount-percentage",
				".prod-coupon-price .discount-percentage",
			},
			promotion: []string{
				".badge.rocket",
				".prod-shipping-fee-and-pdd-arrival-info",
				".shipping-fee-info",
				".badge-list .badge",
			},
			image: []string{
				".prod-image__detail img",
				".prod-image-container img",
				".product-image img",
			},
			category: []string{
				".prod-navigation__list li",
				".breadcrumb-list li",
			},
			brand: []string{
				".prod-sale-vendor-name",
				".brand-name",
			},
			rating: []string{
				".rating-star-num",
				".prod-review-average-rating",
			},
			reviewCount: []string{
				".count",
				".prod-review-count",
			},
		},
	}
}

// coupangStock resolves availability. Signals are checked strongest first:
// an explicit out-of-stock marker beats inventory keywords, which beat the
// buy-button heuristic.
func coupangStock(p *Page) (crawler.StockStatus, *int) {
	if p.Exists(".out-of-stock", ".sold-out", ".temporary-out-of-stock") {
		return crawler.StockOutOfStock, nil
	}

	inventory := strings.ToLower(p.FirstText(".prod-option-inventory", ".quantity-info"))
	if inventory != "" {
		switch {
		case strings.Contains(inventory, "품절"), strings.Contains(inventory, "out of stock"):
			return crawler.StockOutOfStock, nil
		case strings.Contains(inventory, "수량한정"), strings.Contains(inventory, "한정"):
			return crawler.StockLimited, quantityFrom(inventory)
		case strings.Contains(inventory, "재고부족"), strings.Contains(inventory, "재고 부족"):
			return crawler.StockCritical, quantityFrom(inventory)
		}
	}

	if p.Exists(".prod-buy-btn", ".buy-button") {
		return crawler.StockAvailable, nil
	}
	return crawler.StockAvailable, nil
}

// quantityFrom pulls a remaining-quantity number out of inventory copy like
// "재고 3개 남음".
func quantityFrom(text string) *int {
	return crawler.ParseReviewCount(text)
}
