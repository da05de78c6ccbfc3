package book

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/chainbot/internal/domain"
	"github.com/alanyoungcy/chainbot/internal/pubsub"
)

// PreparedOrder is one (price, amount, side) tuple that would have to be
// submitted as a real order to realize a simulation.
type PreparedOrder struct {
	Symbol string
	Side   domain.OrderSide
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// Simulation is the read-only result of walking one side of a book: the
// volume-weighted average price, the amount of the destination asset that
// would be received, and the orders needed to realize it. Simulations never
// mutate the book.
type Simulation struct {
	AvgPrice       decimal.Decimal
	ReceivedAmount decimal.Decimal
	Prepared       []PreparedOrder
}

// OrderBook owns the two price indexes for one trading pair. Asset1 is
// received when buying and given when selling; asset2 is the quote asset.
// The book becomes ready only after the market-data collaborator has seeded
// it with a full snapshot; reads before readiness are undefined.
type OrderBook struct {
	symbol string
	asset1 string
	asset2 string

	mu       sync.RWMutex
	bids     *Tree
	asks     *Tree
	makerFee decimal.Decimal
	takerFee decimal.Decimal
	ready    bool

	changed *pubsub.Signal
}

// New creates an empty, not-yet-ready order book for the given pair.
func New(symbol, asset1, asset2 string) *OrderBook {
	return &OrderBook{
		symbol:  symbol,
		asset1:  asset1,
		asset2:  asset2,
		bids:    NewTree(),
		asks:    NewTree(),
		changed: pubsub.NewSignal(),
	}
}

func (b *OrderBook) Symbol() string { return b.symbol }
func (b *OrderBook) Asset1() string { return b.asset1 }
func (b *OrderBook) Asset2() string { return b.asset2 }

// Changed returns the coalescing change signal for this book. Subscribers
// receive at least one notification after one or more updates.
func (b *OrderBook) Changed() *pubsub.Signal { return b.changed }

// ReceivingAsset returns the asset obtained by trading on the given side.
func (b *OrderBook) ReceivingAsset(side domain.OrderSide) string {
	if side == domain.OrderSideBuy {
		return b.asset1
	}
	return b.asset2
}

// InAsset returns the asset spent by trading on the given side.
func (b *OrderBook) InAsset(side domain.OrderSide) string {
	if side == domain.OrderSideBuy {
		return b.asset2
	}
	return b.asset1
}

// UpdateAsks applies an absolute level update to the ask side. A zero
// quantity removes the level.
func (b *OrderBook) UpdateAsks(price, qty decimal.Decimal) {
	b.mu.Lock()
	b.asks.Upsert(price, qty)
	b.mu.Unlock()
	b.changed.Broadcast()
}

// UpdateBids applies an absolute level update to the bid side. A zero
// quantity removes the level.
func (b *OrderBook) UpdateBids(price, qty decimal.Decimal) {
	b.mu.Lock()
	b.bids.Upsert(price, qty)
	b.mu.Unlock()
	b.changed.Broadcast()
}

// AskQuantity returns the resting quantity at an exact ask price.
func (b *OrderBook) AskQuantity(price decimal.Decimal) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.asks.Get(price)
}

// BidQuantity returns the resting quantity at an exact bid price.
func (b *OrderBook) BidQuantity(price decimal.Decimal) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.Get(price)
}

// Clear drops all levels from both sides and marks the book not ready.
// Used when a market-data connection is lost and must be re-seeded.
func (b *OrderBook) Clear() {
	b.mu.Lock()
	b.bids = NewTree()
	b.asks = NewTree()
	b.ready = false
	b.mu.Unlock()
	b.changed.Broadcast()
}

// HighestBid returns the current best bid price. ok=false means the side is
// empty, which consumers treat as a transient race with concurrent updates.
func (b *OrderBook) HighestBid() (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	lvl, ok := b.bids.Max()
	return lvl.Price, ok
}

// LowestAsk returns the current best ask price.
func (b *OrderBook) LowestAsk() (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	lvl, ok := b.asks.Min()
	return lvl.Price, ok
}

// Ready reports whether the book has been seeded with a full snapshot.
func (b *OrderBook) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready
}

// SetReady flips the readiness flag. The market-data collaborator calls this
// after the initial snapshot and any buffered updates have been applied.
func (b *OrderBook) SetReady(ready bool) {
	b.mu.Lock()
	b.ready = ready
	b.mu.Unlock()
	b.changed.Broadcast()
}

// SetFees sets the maker and taker fee rates for this pair.
func (b *OrderBook) SetFees(maker, taker decimal.Decimal) {
	b.mu.Lock()
	b.makerFee = maker
	b.takerFee = taker
	b.mu.Unlock()
}

// MakerFee returns the maker fee rate.
func (b *OrderBook) MakerFee() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.makerFee
}

// TakerFee returns the taker fee rate.
func (b *OrderBook) TakerFee() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.takerFee
}

// firstLevel returns the single best level for the side: lowest ask for a
// buy, highest bid for a sell.
func (b *OrderBook) firstLevel(side domain.OrderSide) (Level, bool) {
	if side == domain.OrderSideBuy {
		return b.asks.Min()
	}
	return b.bids.Max()
}

// SimulateExecution walks the opposite side's index in price-improving order
// and plans how inAmount (denominated in the asset being spent) would be
// consumed level by level. It is a pure planning query over the current
// snapshot; the indexes are never mutated.
//
// A zero inAmount returns a one-level quote of the best price. firstLevelOnly
// truncates the walk to a single level for worst-case estimates. A negative
// inAmount is an invariant violation. An empty (or exhausted-before-any-fill)
// side returns domain.ErrNoLiquidity, an expected business outcome.
func (b *OrderBook) SimulateExecution(side domain.OrderSide, inAmount decimal.Decimal, firstLevelOnly bool) (Simulation, error) {
	if inAmount.IsNegative() {
		return Simulation{}, fmt.Errorf("book %s: simulate with negative amount %s: %w", b.symbol, inAmount, domain.ErrNegativeAmount)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if inAmount.IsZero() {
		lvl, ok := b.firstLevel(side)
		if !ok {
			return Simulation{}, fmt.Errorf("book %s: %w", b.symbol, domain.ErrNoLiquidity)
		}
		received := lvl.Quantity
		if side == domain.OrderSideSell {
			received = lvl.Quantity.Mul(lvl.Price)
		}
		return Simulation{
			AvgPrice:       lvl.Price,
			ReceivedAmount: received,
			Prepared:       []PreparedOrder{{Symbol: b.symbol, Side: side, Price: lvl.Price, Amount: lvl.Quantity}},
		}, nil
	}

	if side == domain.OrderSideBuy {
		return b.simulateBuy(inAmount, firstLevelOnly)
	}
	return b.simulateSell(inAmount, firstLevelOnly)
}

// simulateBuy consumes asks ascending. inAmount is denominated in asset2;
// a level of quantity q at price p absorbs q*p of it.
func (b *OrderBook) simulateBuy(inAmount decimal.Decimal, firstLevelOnly bool) (Simulation, error) {
	var (
		prepared  []PreparedOrder
		received  decimal.Decimal
		remaining = inAmount
		last      Level
	)
	it := b.asks.Ascending()
	for remaining.IsPositive() && it.HasNext() {
		lvl, _ := it.Next()
		last = lvl
		want := remaining.Div(lvl.Price)
		if lvl.Quantity.GreaterThanOrEqual(want) {
			prepared = append(prepared, PreparedOrder{Symbol: b.symbol, Side: domain.OrderSideBuy, Price: lvl.Price, Amount: want})
			received = received.Add(want)
			remaining = decimal.Zero
		} else {
			prepared = append(prepared, PreparedOrder{Symbol: b.symbol, Side: domain.OrderSideBuy, Price: lvl.Price, Amount: lvl.Quantity})
			received = received.Add(lvl.Quantity)
			remaining = remaining.Sub(lvl.Quantity.Mul(lvl.Price))
		}
		if firstLevelOnly {
			break
		}
	}
	if received.IsZero() {
		return Simulation{}, fmt.Errorf("book %s: buy: %w", b.symbol, domain.ErrNoLiquidity)
	}
	avg := last.Price
	if !firstLevelOnly {
		avg = inAmount.Sub(remaining).Div(received)
	}
	return Simulation{AvgPrice: avg, ReceivedAmount: received, Prepared: prepared}, nil
}

// simulateSell consumes bids descending. inAmount is denominated in asset1
// and maps one-to-one onto level quantities.
func (b *OrderBook) simulateSell(inAmount decimal.Decimal, firstLevelOnly bool) (Simulation, error) {
	var (
		prepared  []PreparedOrder
		received  decimal.Decimal
		remaining = inAmount
		last      Level
	)
	it := b.bids.Descending()
	for remaining.IsPositive() && it.HasNext() {
		lvl, _ := it.Next()
		last = lvl
		if lvl.Quantity.GreaterThanOrEqual(remaining) {
			prepared = append(prepared, PreparedOrder{Symbol: b.symbol, Side: domain.OrderSideSell, Price: lvl.Price, Amount: remaining})
			received = received.Add(remaining.Mul(lvl.Price))
			remaining = decimal.Zero
		} else {
			prepared = append(prepared, PreparedOrder{Symbol: b.symbol, Side: domain.OrderSideSell, Price: lvl.Price, Amount: lvl.Quantity})
			received = received.Add(lvl.Quantity.Mul(lvl.Price))
			remaining = remaining.Sub(lvl.Quantity)
		}
		if firstLevelOnly {
			break
		}
	}
	if received.IsZero() {
		return Simulation{}, fmt.Errorf("book %s: sell: %w", b.symbol, domain.ErrNoLiquidity)
	}
	avg := last.Price
	if !firstLevelOnly {
		avg = received.Div(inAmount.Sub(remaining))
	}
	return Simulation{AvgPrice: avg, ReceivedAmount: received, Prepared: prepared}, nil
}
