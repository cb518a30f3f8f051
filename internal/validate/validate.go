package validate

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pricesense/crawler/internal/crawler"
)

// defaultMinScore is the floor below which a record is rejected even
// without a hard error, used when no floor is configured.
const defaultMinScore = 0.3

// Validator aggregates the field checks and the duplicate window.
type Validator struct {
	marker   crawler.DuplicateMarker
	minScore float64
	logger   *zap.Logger
}

// New builds a Validator. minScore is the aggregate-score floor
// (validation.min_score); zero or negative falls back to the default.
func New(marker crawler.DuplicateMarker, minScore float64, logger *zap.Logger) *Validator {
	if minScore <= 0 {
		minScore = defaultMinScore
	}
	return &Validator{marker: marker, minScore: minScore, logger: logger}
}

// Validate runs every applicable check on the result. The duplicate window
// is consulted first so a fresh crawl of the same product is rejected
// before any field scoring. The aggregate score is the mean of the
// per-check scores; a record is invalid on any hard error or when the
// aggregate falls below the floor.
func (v *Validator) Validate(ctx context.Context, res crawler.CrawlResult) (Result, error) {
	recent, err := v.marker.IsRecentlyCrawled(ctx, res.ProductID)
	if err != nil {
		// Cache trouble must not block the pipeline; treat as not recent.
		v.logger.Warn("duplicate check failed", zap.String("product_id", res.ProductID), zap.Error(err))
	} else if recent {
		return Result{Valid: false, Score: 0, Errors: []string{
			fmt.Sprintf("product %s was crawled recently", res.ProductID),
		}}, crawler.Tag(crawler.TaxonomyValidationRejected, crawler.ErrRecentlyCrawled)
	}

	overall := newResult()
	var scores []float64

	merge := func(r Result) {
		scores = append(scores, r.Score)
		overall.Errors = append(overall.Errors, r.Errors...)
		overall.Warnings = append(overall.Warnings, r.Warnings...)
	}

	merge(CheckURL(res.URL, res.Platform))
	merge(CheckName(res.ProductName))
	if res.Price != nil {
		merge(CheckPrice(*res.Price, res.Platform))
		if res.DiscountRate != nil {
			merge(CheckDiscountRate(*res.DiscountRate, res.Price, res.OriginalPrice))
		}
	}
	merge(CheckStock(res.StockStatus, res.StockQuantity))

	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	overall.Score = sum / float64(len(scores))

	if overall.Score < v.minScore {
		overall.Errors = append(overall.Errors, "overall data quality score too low")
	}
	overall.Valid = len(overall.Errors) == 0

	if !overall.Valid {
		v.logger.Debug("validation rejected result",
			zap.String("product_id", res.ProductID),
			zap.Float64("score", overall.Score),
			zap.Strings("errors", overall.Errors),
		)
	}
	return overall, nil
}

// ShouldSave reports whether a validated record clears the persistence bar.
func ShouldSave(r Result, minScore float64) bool {
	return r.Valid && r.Score >= minScore
}
