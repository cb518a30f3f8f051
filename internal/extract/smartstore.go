package extract

import (
	"strings"

	"go.uber.org/zap"

	"github.com/pricesense/crawler/internal/crawler"
	"github.com/pricesense/crawler/internal/fetch"
)

// NewSmartStore builds the Smart Store strategy. The storefront is a React
// app with hashed class names, so the tables lean on attribute-contains
// selectors, the Next.js bootstrap blob is consulted, and rendering is
// forced through the headless path.
func NewSmartStore(fetcher fetch.Fetcher, closer func() error, logger *zap.Logger) crawler.Strategy {
	return &strategy{
		platform:     crawler.PlatformSmartStore,
		fetcher:      fetcher,
		closer:       closer,
		waitSelector: `[class*="ProductTitle"]`,
		renderJS:     true,
		useNextData:  true,
		stock:        smartStoreStock,
		logger:       logger,
		sel: fieldSelectors{
			name: []string{
				`h2[class*="ProductTitle"]`,
				"._2huTLaXgWw",
				".product_name h2",
			},
			price: []string{
				`[class*="ProductPrice"] [class*="value"]`,
				"._1Z7oH6yCQ0",
				".price .num strong",
			},
			originalPrice: []string{
				`[class*="ProductPrice"] [class*="origin"]`,
				".origin_price .num",
			},
			discountRate: []string{
				`[class*="ProductPrice"] [class*="discount"]`,
				".discount_rate",
			},
			promotion: []string{
				`[class*="ProductDelivery"]`,
				".delivery_info",
			},
			image: []string{
				`[class*="ProductImage"] img`,
				".product_image img",
				".thumb_area img",
			},
			category: []string{
				`[class*="Breadcrumb"] li`,
				".breadcrumb_item",
			},
			brand: []string{
				`[class*="ProductBrand"]`,
				".brand_name",
				".store_name",
			},
			rating: []string{
				`[class*="ProductReview"] [class*="rating"]`,
				".review_rating .num",
			},
			reviewCount: []string{
				`[class*="ProductReview"] [class*="count"]`,
				".review_count",
			},
		},
	}
}

// smartStoreStock reads availability off the buy button and option list. A
// sold-out option with a live buy button means partial availability.
func smartStoreStock(p *Page) (crawler.StockStatus, *int) {
	if p.Exists(`[class*="soldout"]`, `[class*="SoldOut"]`, ".soldout") {
		return crawler.StockOutOfStock, nil
	}

	button := strings.ToLower(p.FirstText(`[class*="ProductButton"]`, ".buy_button"))
	if button != "" {
		switch {
		case strings.Contains(button, "품절"), strings.Contains(button, "soldout"), strings.Contains(button, "판매종료"):
			return crawler.StockOutOfStock, nil
		}
	}

	for _, option := range p.CollectTexts(`[class*="ProductOption"]`, ".product_option_area") {
		lower := strings.ToLower(option)
		switch {
		case strings.Contains(lower, "품절"), strings.Contains(lower, "soldout"):
			return crawler.StockLimited, nil
		case strings.Contains(lower, "재고부족"):
			return crawler.StockCritical, quantityFrom(lower)
		}
	}
	return crawler.StockAvailable, nil
}
