package crawler

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	nonPriceChars  = regexp.MustCompile(`[^\d,.]`)
	discountRateRe = regexp.MustCompile(`(\d+(?:\.\d+)?)%`)
	ratingRe       = regexp.MustCompile(`(\d+(?:\.\d+)?)`)
)

// ParsePrice normalizes raw price text ("₩12,345원", "1,000.50") into a
// numeric amount. Returns nil for text with no parseable number; unparseable
// input is a data condition, not an error.
func ParsePrice(text string) *float64 {
	cleaned := nonPriceChars.ReplaceAllString(text, "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" || cleaned == "." {
		return nil
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &v
}

// ParseDiscountRate pulls a percentage out of text like "23%" or "23% 할인".
func ParseDiscountRate(text string) *float64 {
	m := discountRateRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	return &v
}

// ParseRating extracts a star rating, accepting only the usual 0-5 scale.
func ParseRating(text string) *float64 {
	m := ratingRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v < 0 || v > 5 {
		return nil
	}
	return &v
}

// ParseReviewCount extracts a non-negative integer count from text like
// "리뷰 1,234" or "(567)".
func ParseReviewCount(text string) *int {
	cleaned := nonPriceChars.ReplaceAllString(text, "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.Split(cleaned, ".")[0]
	if cleaned == "" {
		return nil
	}
	v, err := strconv.Atoi(cleaned)
	if err != nil || v < 0 {
		return nil
	}
	return &v
}
