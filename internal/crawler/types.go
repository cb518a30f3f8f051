// Package crawler defines core types shared across subsystems.
package crawler

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Platform identifies a supported e-commerce site.
type Platform string

// Supported platforms.
const (
	PlatformCoupang       Platform = "coupang"
	PlatformNaverShopping Platform = "naver_shopping"
	PlatformSmartStore    Platform = "smartstore"
)

// Valid reports whether p is a known platform tag.
func (p Platform) Valid() bool {
	switch p {
	case PlatformCoupang, PlatformNaverShopping, PlatformSmartStore:
		return true
	}
	return false
}

// Domains returns the domain suffixes a platform's product URLs must match.
func (p Platform) Domains() []string {
	switch p {
	case PlatformCoupang:
		return []string{"coupang.com"}
	case PlatformNaverShopping:
		return []string{"shopping.naver.com"}
	case PlatformSmartStore:
		return []string{"smartstore.naver.com"}
	}
	return nil
}

// PlatformForURL maps a product URL onto the platform that owns its domain.
// smartstore.naver.com is checked before shopping.naver.com so the two Naver
// surfaces stay disjoint.
func PlatformForURL(rawURL string) (Platform, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("unparseable url %q", rawURL)
	}
	host := strings.ToLower(u.Hostname())
	for _, p := range []Platform{PlatformSmartStore, PlatformNaverShopping, PlatformCoupang} {
		for _, domain := range p.Domains() {
			if host == domain || strings.HasSuffix(host, "."+domain) {
				return p, nil
			}
		}
	}
	return "", fmt.Errorf("no platform owns host %q", host)
}

// StockStatus describes product availability as derived from page signals.
type StockStatus string

// Stock status values, ordered roughly by decreasing availability.
const (
	StockAvailable  StockStatus = "available"
	StockLimited    StockStatus = "limited"
	StockCritical   StockStatus = "critical"
	StockOutOfStock StockStatus = "out_of_stock"
	StockPreorder   StockStatus = "preorder"
	StockUnknown    StockStatus = "unknown"
)

// Priority selects which sub-queue a task is routed to.
type Priority string

// Queue priorities. High is always drained before Normal.
const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// Valid reports whether p is a recognized priority.
func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityNormal
}

// Task is one unit of crawl work. It is owned by the queue until a worker
// claims it; only RetryCount and the retry/failure stamps change across
// re-enqueues.
type Task struct {
	TaskID     string   `json:"task_id"`
	ProductID  string   `json:"product_id"`
	URL        string   `json:"url"`
	Platform   Platform `json:"platform"`
	Priority   Priority `json:"priority"`
	RetryCount int      `json:"retry_count"`
	UserID     string   `json:"user_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// Stamped by the queue on retry / dead-letter transitions.
	LastError  string     `json:"last_error,omitempty"`
	RetryAt    *time.Time `json:"retry_at,omitempty"`
	FinalError string     `json:"final_error,omitempty"`
	FailedAt   *time.Time `json:"failed_at,omitempty"`
}

// CrawlResult is the outcome of a single scrape attempt. It is constructed
// once by the orchestrator and never mutated afterwards.
type CrawlResult struct {
	Success   bool     `json:"success"`
	ProductID string   `json:"product_id"`
	Platform  Platform `json:"platform"`
	URL       string   `json:"url"`

	ProductName   string      `json:"product_name,omitempty"`
	Price         *float64    `json:"price,omitempty"`
	OriginalPrice *float64    `json:"original_price,omitempty"`
	DiscountRate  *float64    `json:"discount_rate,omitempty"`
	StockStatus   StockStatus `json:"stock_status"`
	StockQuantity *int        `json:"stock_quantity,omitempty"`
	PromotionInfo string      `json:"promotion_info,omitempty"`
	ImageURL      string      `json:"image_url,omitempty"`
	Category      string      `json:"category,omitempty"`
	Brand         string      `json:"brand,omitempty"`
	Rating        *float64    `json:"rating,omitempty"`
	ReviewCount   *int        `json:"review_count,omitempty"`

	ConfidenceScore float64       `json:"confidence_score"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	ExecutionTime   time.Duration `json:"execution_time"`
	ScrapedAt       time.Time     `json:"scraped_at"`
}

// ResultStatus tags a result-channel message.
type ResultStatus string

// Result channel statuses.
const (
	ResultSuccess ResultStatus = "success"
	ResultFailed  ResultStatus = "failed"
)

// ResultMessage is the wire record published to the result channel for
// every attempt outcome, success or failure.
type ResultMessage struct {
	TaskID          string         `json:"task_id"`
	Status          ResultStatus   `json:"status"`
	Platform        Platform       `json:"platform"`
	WorkerID        string         `json:"worker_id"`
	Data            map[string]any `json:"data,omitempty"`
	Error           string         `json:"error,omitempty"`
	ErrorCode       string         `json:"error_code,omitempty"`
	RetryCount      int            `json:"retry_count,omitempty"`
	ExecutionTimeMS int64          `json:"execution_time,omitempty"`
	CompletedAt     time.Time      `json:"completed_at"`
}

// QueueStats is an eventually-consistent snapshot of broker list depths.
type QueueStats struct {
	CrawlHigh   int64 `json:"crawl_high"`
	CrawlNormal int64 `json:"crawl_normal"`
	Retry       int64 `json:"retry"`
	Result      int64 `json:"result"`
	DeadLetter  int64 `json:"dead_letter"`
}

// SuccessData flattens the extracted fields of a successful result into the
// payload shape consumed from the result channel.
func SuccessData(res CrawlResult) map[string]any {
	return map[string]any{
		"product_name":     emptyToNil(res.ProductName),
		"price":            floatOrNil(res.Price),
		"original_price":   floatOrNil(res.OriginalPrice),
		"discount_rate":    floatOrNil(res.DiscountRate),
		"stock_status":     string(res.StockStatus),
		"stock_quantity":   intOrNil(res.StockQuantity),
		"promotion_info":   emptyToNil(res.PromotionInfo),
		"confidence_score": res.ConfidenceScore,
		"image_url":        emptyToNil(res.ImageURL),
		"category":         emptyToNil(res.Category),
		"brand":            emptyToNil(res.Brand),
		"rating":           floatOrNil(res.Rating),
		"review_count":     intOrNil(res.ReviewCount),
	}
}

func emptyToNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func floatOrNil(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func intOrNil(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}

// Float64Ptr returns a pointer to v. Convenience for optional fields.
func Float64Ptr(v float64) *float64 { return &v }

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }
