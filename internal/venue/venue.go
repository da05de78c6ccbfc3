// Package venue defines the full trading-venue surface: order submission as
// seen by the order package plus market-data access for strategies.
package venue

import (
	"github.com/alanyoungcy/chainbot/internal/book"
	"github.com/alanyoungcy/chainbot/internal/order"
)

// Venue is a tradable venue with observable order books.
type Venue interface {
	order.Venue
	// Book returns the live order book for a symbol.
	Book(symbol string) (*book.OrderBook, bool)
	// Symbols lists the pairs this venue is configured to trade.
	Symbols() []string
}
