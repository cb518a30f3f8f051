// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pricesense/crawler/internal/crawler"
)

// GatewayConfig controls the Postgres connection pool.
type GatewayConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Gateway writes crawl outcomes into Postgres: a price history row, a stock
// history row and a scrape log entry, in one transaction.
type Gateway struct {
	pool   txBeginner
	logger *zap.Logger
}

// NewGateway connects a Postgres-backed Gateway.
func NewGateway(ctx context.Context, cfg GatewayConfig, logger *zap.Logger) (*Gateway, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Gateway{pool: pool, logger: logger}, nil
}

// NewGatewayWithPool constructs a Gateway from an existing pool (primarily
// for testing).
func NewGatewayWithPool(pool txBeginner, logger *zap.Logger) (*Gateway, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Gateway{pool: pool, logger: logger}, nil
}

// Ping verifies database connectivity.
func (g *Gateway) Ping(ctx context.Context) error {
	if err := g.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (g *Gateway) Close() {
	if g == nil || g.pool == nil {
		return
	}
	g.pool.Close()
}

const (
	insertPriceHistory = `
INSERT INTO price_history (
	product_id, price, original_price, discount_rate, confidence_score, recorded_at
) VALUES ($1,$2,$3,$4,$5,$6)`

	insertStockHistory = `
INSERT INTO stock_history (
	product_id, stock_status, stock_quantity, confidence_score, recorded_at
) VALUES ($1,$2,$3,$4,$5)`

	insertScrapeLog = `
INSERT INTO scrape_logs (
	product_id, platform, url, status, execution_time, confidence_score,
	error_message, scraped_data, scraped_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
)

// SaveResult records the crawl outcome. The price row is written only when
// a price was extracted; the stock row and the audit log are always
// written. All three land or none do.
func (g *Gateway) SaveResult(ctx context.Context, res crawler.CrawlResult) error {
	if res.ProductID == "" {
		return crawler.Tagf(crawler.TaxonomyPersistence, "product id is required")
	}

	snapshot, err := json.Marshal(res)
	if err != nil {
		return crawler.Tagf(crawler.TaxonomyPersistence, "marshal result snapshot: %w", err)
	}

	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return crawler.Tagf(crawler.TaxonomyPersistence, "begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if res.Price != nil {
		if _, err := tx.Exec(ctx, insertPriceHistory,
			res.ProductID,
			*res.Price,
			res.OriginalPrice,
			res.DiscountRate,
			res.ConfidenceScore,
			res.ScrapedAt,
		); err != nil {
			return crawler.Tagf(crawler.TaxonomyPersistence, "insert price history: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, insertStockHistory,
		res.ProductID,
		string(res.StockStatus),
		res.StockQuantity,
		res.ConfidenceScore,
		res.ScrapedAt,
	); err != nil {
		return crawler.Tagf(crawler.TaxonomyPersistence, "insert stock history: %w", err)
	}

	status := "success"
	if !res.Success {
		status = "failed"
	}
	if _, err := tx.Exec(ctx, insertScrapeLog,
		res.ProductID,
		string(res.Platform),
		res.URL,
		status,
		res.ExecutionTime.Seconds(),
		res.ConfidenceScore,
		nullIfEmpty(res.ErrorMessage),
		snapshot,
		res.ScrapedAt,
	); err != nil {
		return crawler.Tagf(crawler.TaxonomyPersistence, "insert scrape log: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return crawler.Tagf(crawler.TaxonomyPersistence, "commit: %w", err)
	}
	g.logger.Debug("crawl result stored", zap.String("product_id", res.ProductID))
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
