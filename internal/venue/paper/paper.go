// Package paper implements an in-process venue that matches orders against
// the live local books. It backs the dry-run mode and makes chain execution
// testable end to end without touching a real exchange.
package paper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/chainbot/internal/account"
	"github.com/alanyoungcy/chainbot/internal/book"
	"github.com/alanyoungcy/chainbot/internal/domain"
	"github.com/alanyoungcy/chainbot/internal/order"
)

// Option configures a Venue.
type Option func(*Venue)

// WithPartialFirstFill makes the first submitted order fill only ratio of
// each marketable level before being cancelled, exercising the partial-fill
// path. Subsequent orders fill normally.
func WithPartialFirstFill(ratio decimal.Decimal) Option {
	return func(v *Venue) { v.firstFill = &ratio }
}

// Venue fills immediate-or-cancel orders against registered books, consuming
// the liquidity it takes so repeated executions see a thinner book, the way
// a real venue would between feed updates.
type Venue struct {
	name   string
	acct   *account.Account
	logger *slog.Logger

	mu        sync.Mutex
	books     map[string]*book.OrderBook
	pairs     map[string]domain.PairInfo
	firstFill *decimal.Decimal
}

// New creates an empty paper venue.
func New(name string, logger *slog.Logger, opts ...Option) *Venue {
	v := &Venue{
		name:   name,
		acct:   account.New(),
		logger: logger.With(slog.String("component", "paper"), slog.String("venue", name)),
		books:  make(map[string]*book.OrderBook),
		pairs:  make(map[string]domain.PairInfo),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Register adds a tradable pair and its book.
func (v *Venue) Register(pair domain.PairInfo, b *book.OrderBook) {
	v.mu.Lock()
	v.pairs[pair.Symbol] = pair
	v.books[pair.Symbol] = b
	v.mu.Unlock()
}

func (v *Venue) Name() string              { return v.name }
func (v *Venue) Account() *account.Account { return v.acct }

func (v *Venue) Pair(symbol string) (domain.PairInfo, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.pairs[symbol]
	return p, ok
}

func (v *Venue) Book(symbol string) (*book.OrderBook, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	b, ok := v.books[symbol]
	return b, ok
}

func (v *Venue) Symbols() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, 0, len(v.pairs))
	for s := range v.pairs {
		out = append(out, s)
	}
	return out
}

// ApplyFilters rounds price to the tick size and amount down to the step
// size, then enforces the minimum notional. Zero filter values disable the
// corresponding constraint.
func (v *Venue) ApplyFilters(o *order.Order) bool {
	p, ok := v.Pair(o.Symbol())
	if !ok {
		return false
	}
	price, amount := o.Price(), o.Amount()
	if p.TickSize.IsPositive() {
		price = price.Div(p.TickSize).Floor().Mul(p.TickSize)
	}
	if p.StepSize.IsPositive() {
		amount = amount.Div(p.StepSize).Floor().Mul(p.StepSize)
	}
	if price.IsZero() || amount.IsZero() {
		return false
	}
	if p.MinNotional.IsPositive() && price.Mul(amount).LessThan(p.MinNotional) {
		return false
	}
	o.SetPrice(price)
	o.SetAmount(amount)
	return true
}

// SubmitOrder matches the order against the book immediately: every level at
// or better than the limit price fills up to the order amount, taker fee
// charged in the receiving asset. Whatever does not fill is cancelled, so
// the caller always observes a terminal status.
func (v *Venue) SubmitOrder(ctx context.Context, o *order.Order) error {
	b, ok := v.Book(o.Symbol())
	if !ok {
		return fmt.Errorf("paper %s: submit %s: %w", v.name, o.Symbol(), domain.ErrUnknownPair)
	}

	inAmount := o.Amount()
	if o.Side() == domain.OrderSideBuy {
		inAmount = o.Amount().Mul(o.Price())
	}
	sim, err := b.SimulateExecution(o.Side(), inAmount, false)
	if err != nil {
		if errors.Is(err, domain.ErrNoLiquidity) {
			return o.Update(domain.OrderStatusCancelled, nil)
		}
		return err
	}

	ratio := decimal.NewFromInt(1)
	v.mu.Lock()
	if v.firstFill != nil {
		ratio = *v.firstFill
		v.firstFill = nil
	}
	v.mu.Unlock()

	var fills []domain.Fill
	filled := decimal.Zero
	for _, lvl := range sim.Prepared {
		if o.Side() == domain.OrderSideBuy && lvl.Price.GreaterThan(o.Price()) {
			break
		}
		if o.Side() == domain.OrderSideSell && lvl.Price.LessThan(o.Price()) {
			break
		}
		take := lvl.Amount.Mul(ratio)
		if remaining := o.Amount().Sub(filled); take.GreaterThan(remaining) {
			take = remaining
		}
		if take.IsZero() {
			continue
		}
		fills = append(fills, domain.Fill{
			Amount:      take,
			Price:       lvl.Price,
			Commissions: v.commission(b, o.Side(), take, lvl.Price),
		})
		filled = filled.Add(take)
		v.consume(b, o.Side(), lvl.Price, take)
	}

	if len(fills) == 0 {
		return o.Update(domain.OrderStatusCancelled, nil)
	}
	if filled.Equal(o.Amount()) {
		return o.Update(domain.OrderStatusExecuted, fills)
	}
	if err := o.Update(domain.OrderStatusPartiallyFilled, fills); err != nil {
		return err
	}
	return o.Update(domain.OrderStatusCancelled, nil)
}

// CancelOrder cancels whatever has not filled. With immediate matching there
// is never a resting remainder, so this only settles the status.
func (v *Venue) CancelOrder(ctx context.Context, o *order.Order) (bool, error) {
	if o.Status().Terminal() {
		return false, nil
	}
	return true, o.Update(domain.OrderStatusCancelled, nil)
}

// commission charges the taker fee in the asset the order receives.
func (v *Venue) commission(b *book.OrderBook, side domain.OrderSide, amount, price decimal.Decimal) []domain.Commission {
	fee := b.TakerFee()
	if fee.IsZero() {
		return nil
	}
	received := amount
	if side == domain.OrderSideSell {
		received = amount.Mul(price)
	}
	return []domain.Commission{{Asset: b.ReceivingAsset(side), Amount: received.Mul(fee)}}
}

// consume removes taken quantity from the book level.
func (v *Venue) consume(b *book.OrderBook, side domain.OrderSide, price, taken decimal.Decimal) {
	if side == domain.OrderSideBuy {
		if qty, ok := b.AskQuantity(price); ok {
			b.UpdateAsks(price, qty.Sub(taken))
		}
		return
	}
	if qty, ok := b.BidQuantity(price); ok {
		b.UpdateBids(price, qty.Sub(taken))
	}
}
