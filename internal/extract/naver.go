package extract

import (
	"go.uber.org/zap"

	"github.com/pricesense/crawler/internal/crawler"
	"github.com/pricesense/crawler/internal/fetch"
)

// NewNaverShopping builds the Naver Shopping strategy. These pages carry
// ld+json Product records, so structured data does most of the work and the
// selector chains fill the rest.
func NewNaverShopping(fetcher fetch.Fetcher, closer func() error, logger *zap.Logger) crawler.Strategy {
	return &strategy{
		platform:     crawler.PlatformNaverShopping,
		fetcher:      fetcher,
		closer:       closer,
		waitSelector: ".product_title",
		stock:        naverShoppingStock,
		logger:       logger,
		sel: fieldSelectors{
			name: []string{
				".product_title",
				".prod_tit",
				"h2.product_name",
				".product_info .title",
			},
			price: []string{
				".price_num",
				".sale_price .price",
				".product_price .num",
				".price_area .price",
			},
			originalPrice: []string{
				".origin_price .price",
				".before_price .price",
				".product_price .origin_price",
			},
			discountRate: []string{
				".discount_rate",
				".sale_rate",
				".discount_percent",
			},
			promotion: []string{
				".delivery_info",
				".shipping_fee",
				".delivery_fee",
			},
			image: []string{
				".product_image img",
				".prod_img img",
				".thumb_area img",
			},
			category: []string{
				".product_category",
				".category_info",
				".breadcrumb li",
			},
			brand: []string{
				".brand",
				".shop_name",
				".seller_name",
			},
			rating: []string{
				".rating_num",
				".score_num",
				".review_point",
			},
			reviewCount: []string{
				".review_count",
				".count_num",
			},
		},
	}
}

// naverShoppingStock: the aggregator does not expose stock. A listed product
// is treated as purchasable; delisted ones never reach extraction.
func naverShoppingStock(_ *Page) (crawler.StockStatus, *int) {
	return crawler.StockAvailable, nil
}
