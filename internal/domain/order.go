package domain

import "github.com/shopspring/decimal"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType indicates the execution policy.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeLimitMaker OrderType = "LIMIT_MAKER"
	OrderTypeLimitIOC   OrderType = "LIMIT_IOC" // Immediate-Or-Cancel
)

// OrderStatus tracks the order lifecycle against a venue.
type OrderStatus string

const (
	OrderStatusNotSent         OrderStatus = "not_sent"
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusExecuted        OrderStatus = "executed"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

// Terminal reports whether the status is final. Executed and cancelled
// orders never transition again.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusExecuted || s == OrderStatusCancelled
}

// Commission is a fee charged on a fill, denominated in an arbitrary asset
// (not necessarily one of the pair's two assets).
type Commission struct {
	Asset  string
	Amount decimal.Decimal
}

// Fill is one partial execution reported by the venue. Fills are append-only;
// an order accumulates them in arrival order.
type Fill struct {
	Amount      decimal.Decimal
	Price       decimal.Decimal
	Commissions []Commission
}

// PairInfo describes one trading pair on a venue. Asset1 is the base asset
// (received when buying, given when selling); Asset2 is the quote asset.
// Tick, step and minimum-notional constraints come from the venue's symbol
// filters and are applied when constructing orders.
type PairInfo struct {
	Symbol      string
	Asset1      string
	Asset2      string
	TickSize    decimal.Decimal
	StepSize    decimal.Decimal
	MinNotional decimal.Decimal
}
