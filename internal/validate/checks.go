package validate

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/pricesense/crawler/internal/crawler"
)

// Per-platform plausible price ranges in KRW.
type priceRange struct {
	min, max float64
}

var priceRanges = map[crawler.Platform]priceRange{
	crawler.PlatformCoupang:       {100, 10_000_000},
	crawler.PlatformNaverShopping: {100, 5_000_000},
	crawler.PlatformSmartStore:    {100, 5_000_000},
}

var defaultPriceRange = priceRange{50, 10_000_000}

// Suspicious whole-price patterns: repeated digits and 999-tails usually
// mean a placeholder or a broken selector, not a real price.
var suspiciousPricePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^1+$`),
	regexp.MustCompile(`^0+$`),
	regexp.MustCompile(`^\d*999+$`),
}

// CheckPrice scores a price value against platform plausibility rules.
func CheckPrice(price float64, platform crawler.Platform) Result {
	r := newResult()

	if price < 0 {
		r.addError("price cannot be negative")
		r.Score = 0
		return r
	}
	if price == 0 {
		r.penalize("price is 0, may indicate unavailable product", 0.3)
	}

	bounds, ok := priceRanges[platform]
	if !ok {
		bounds = defaultPriceRange
	}
	if price < bounds.min {
		r.penalize(fmt.Sprintf("price %.0f below expected minimum %.0f", price, bounds.min), 0.7)
	}
	if price > bounds.max {
		r.penalize(fmt.Sprintf("price %.0f above expected maximum %.0f", price, bounds.max), 0.8)
	}

	whole := fmt.Sprintf("%d", int64(price))
	for _, pattern := range suspiciousPricePatterns {
		if pattern.MatchString(whole) {
			r.penalize("suspicious price pattern: "+whole, 0.6)
			break
		}
	}

	if price != math.Trunc(price) {
		r.penalize("price has decimal places, unusual for KRW", 0.9)
	}
	return r
}

// CheckDiscountRate validates a stated discount against the price pair.
func CheckDiscountRate(rate float64, price, originalPrice *float64) Result {
	r := newResult()

	if rate < 0 || rate > 100 {
		r.addError(fmt.Sprintf("discount rate %.1f%% out of range", rate))
		r.Score = 0
		return r
	}

	if price != nil && originalPrice != nil && *price > 0 && *originalPrice > 0 {
		calculated := (*originalPrice - *price) / *originalPrice * 100
		if math.Abs(calculated-rate) > 5.0 {
			r.penalize(fmt.Sprintf("discount mismatch: stated %.1f%%, calculated %.1f%%", rate, calculated), 0.7)
		}
	}

	if rate > 80 {
		r.penalize(fmt.Sprintf("very high discount rate %.1f%%", rate), 0.8)
	}
	return r
}

const (
	minNameLength = 3
	maxNameLength = 500
)

var invalidNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^[\s\-_.]+$`),
	regexp.MustCompile(`^[0-9]+$`),
	regexp.MustCompile(`^\w{1,2}$`),
}

// Error copy and test fixtures leaking into a product-name field.
var forbiddenNameKeywords = []string{
	"error", "에러", "오류", "404", "500",
	"not found", "찾을 수 없", "unavailable",
	"test", "테스트", "sample", "샘플",
}

// CheckName scores a product name.
func CheckName(name string) Result {
	r := newResult()
	name = strings.TrimSpace(name)

	if name == "" {
		r.addError("product name is empty")
		r.Score = 0
		return r
	}
	if runeLen := len([]rune(name)); runeLen < minNameLength {
		r.addError(fmt.Sprintf("product name too short: %d < %d", runeLen, minNameLength))
		r.Score = 0
		return r
	} else if runeLen > maxNameLength {
		r.penalize(fmt.Sprintf("product name very long: %d", runeLen), 0.9)
	}

	for _, pattern := range invalidNamePatterns {
		if pattern.MatchString(name) {
			r.addError("invalid product name pattern: " + name)
			r.Score = 0
			return r
		}
	}

	lower := strings.ToLower(name)
	for _, keyword := range forbiddenNameKeywords {
		if strings.Contains(lower, keyword) {
			r.addError("forbidden keyword in product name: " + keyword)
			r.Score = 0
			return r
		}
	}

	hasLetter := false
	for _, c := range name {
		if unicode.IsLetter(c) {
			hasLetter = true
			break
		}
	}
	if !hasLetter {
		r.penalize("product name has no letters", 0.7)
	}
	return r
}

// CheckStock verifies quantity and status agree with each other.
func CheckStock(status crawler.StockStatus, quantity *int) Result {
	r := newResult()
	if quantity == nil {
		return r
	}

	qty := *quantity
	if qty < 0 {
		r.addError("stock quantity cannot be negative")
		r.Score = 0
		return r
	}
	if qty == 0 && status == crawler.StockAvailable {
		r.penalize("stock quantity is 0 but status is available", 0.5)
	}
	if qty > 0 && status == crawler.StockOutOfStock {
		r.penalize(fmt.Sprintf("stock quantity is %d but status is out_of_stock", qty), 0.5)
	}
	if qty > 10000 {
		r.penalize(fmt.Sprintf("very high stock quantity: %d", qty), 0.9)
	}
	return r
}

// CheckURL verifies the URL belongs to the claimed platform.
func CheckURL(raw string, platform crawler.Platform) Result {
	r := newResult()

	if raw == "" {
		r.addError("url is empty")
		r.Score = 0
		return r
	}

	u, err := url.Parse(raw)
	if err != nil {
		r.addError("url parsing error: " + err.Error())
		r.Score = 0
		return r
	}

	switch u.Scheme {
	case "https":
	case "http":
		r.penalize("http url, https recommended", 0.9)
	default:
		r.addError("invalid url scheme: " + u.Scheme)
		r.Score = 0
		return r
	}

	host := strings.ToLower(u.Hostname())
	owned := false
	for _, domain := range platform.Domains() {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			owned = true
			break
		}
	}
	if !owned {
		r.addError(fmt.Sprintf("invalid domain %s for platform %s", host, platform))
		r.Score = 0
		return r
	}

	if u.Path == "" || u.Path == "/" {
		r.penalize("url has no specific path", 0.8)
	}
	return r
}
