package crawler

import "math"

// Confidence weights. Name, price, stock and image carry fixed weights; the
// remaining 0.15 is split proportionally over the optional trio of
// promotion, category and brand.
const (
	weightName     = 0.20
	weightPrice    = 0.30
	weightStock    = 0.20
	weightImage    = 0.15
	weightOptional = 0.15
)

// ConfidenceScore measures extracted-field completeness on [0,1]. It is a
// pure function of the result's fields and says nothing about correctness.
func ConfidenceScore(res CrawlResult) float64 {
	score := 0.0
	if res.ProductName != "" {
		score += weightName
	}
	if res.Price != nil {
		score += weightPrice
	}
	if res.StockStatus != StockUnknown && res.StockStatus != "" {
		score += weightStock
	}
	if res.ImageURL != "" {
		score += weightImage
	}

	optional := 0
	if res.PromotionInfo != "" {
		optional++
	}
	if res.Category != "" {
		optional++
	}
	if res.Brand != "" {
		optional++
	}
	score += float64(optional) / 3 * weightOptional

	return math.Round(score*100) / 100
}
