package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TopOfBook is the published best-bid/best-ask view of one symbol.
type TopOfBook struct {
	Symbol    string
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	Mid       decimal.Decimal
	Timestamp time.Time
}

// BookCache publishes top-of-book quotes for external consumers (dashboards,
// other processes). It is a write-mostly side channel; the core never reads
// its own books back from the cache.
type BookCache interface {
	SetTop(ctx context.Context, top TopOfBook) error
	GetTop(ctx context.Context, symbol string) (TopOfBook, error)
}
