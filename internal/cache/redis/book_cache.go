package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/chainbot/internal/domain"
)

// BookCache implements domain.BookCache using one Redis hash per symbol.
//
// Key schema:
//
//	top:{symbol} - hash with fields "bid", "ask", "mid", "ts"
//
// Entries expire after the configured TTL so stale quotes disappear when the
// bot stops publishing.
type BookCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewBookCache creates a BookCache backed by the given Client. A ttl of zero
// keeps entries forever.
func NewBookCache(c *Client, ttl time.Duration) *BookCache {
	return &BookCache{rdb: c.Underlying(), ttl: ttl}
}

func topKey(symbol string) string { return "top:" + symbol }

// SetTop publishes the top-of-book quote for a symbol.
func (bc *BookCache) SetTop(ctx context.Context, top domain.TopOfBook) error {
	key := topKey(top.Symbol)

	pipe := bc.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"bid", top.BestBid.String(),
		"ask", top.BestAsk.String(),
		"mid", top.Mid.String(),
		"ts", strconv.FormatInt(top.Timestamp.UnixNano(), 10),
	)
	if bc.ttl > 0 {
		pipe.Expire(ctx, key, bc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set top %s: %w", top.Symbol, err)
	}
	return nil
}

// GetTop reads back a published quote. It returns domain.ErrNotFound when the
// symbol has never been published or its entry expired.
func (bc *BookCache) GetTop(ctx context.Context, symbol string) (domain.TopOfBook, error) {
	vals, err := bc.rdb.HGetAll(ctx, topKey(symbol)).Result()
	if err != nil {
		return domain.TopOfBook{}, fmt.Errorf("redis: get top %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.TopOfBook{}, domain.ErrNotFound
	}

	top := domain.TopOfBook{Symbol: symbol}
	if top.BestBid, err = decimal.NewFromString(vals["bid"]); err != nil {
		return domain.TopOfBook{}, fmt.Errorf("redis: top %s bid %q: %w", symbol, vals["bid"], err)
	}
	if top.BestAsk, err = decimal.NewFromString(vals["ask"]); err != nil {
		return domain.TopOfBook{}, fmt.Errorf("redis: top %s ask %q: %w", symbol, vals["ask"], err)
	}
	if top.Mid, err = decimal.NewFromString(vals["mid"]); err != nil {
		return domain.TopOfBook{}, fmt.Errorf("redis: top %s mid %q: %w", symbol, vals["mid"], err)
	}
	if tsStr, ok := vals["ts"]; ok {
		if tsNano, err := strconv.ParseInt(tsStr, 10, 64); err == nil {
			top.Timestamp = time.Unix(0, tsNano)
		}
	}
	return top, nil
}

// Compile-time interface check.
var _ domain.BookCache = (*BookCache)(nil)
