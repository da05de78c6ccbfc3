// Package order implements the lifecycle of a single order against a venue:
// construction under venue filters, fund reservation, fill accumulation, and
// the balance reconciliation that keeps the owning account consistent no
// matter how fills and cancellations interleave.
package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/chainbot/internal/account"
	"github.com/alanyoungcy/chainbot/internal/domain"
)

// Venue is the collaborator that validates and executes orders. Concrete
// implementations live in internal/venue; the order package only depends on
// this capability set.
type Venue interface {
	Name() string
	Account() *account.Account
	// Pair returns the pair metadata for a symbol.
	Pair(symbol string) (domain.PairInfo, bool)
	// ApplyFilters rounds the order's price and amount to the venue's tick,
	// step and minimum-notional constraints, mutating the order in place.
	// false means the order is unrepresentable on this venue.
	ApplyFilters(o *Order) bool
	// SubmitOrder attempts execution. The venue must eventually call back
	// into Update with an intermediate or terminal status and any fills.
	SubmitOrder(ctx context.Context, o *Order) error
	// CancelOrder requests cancellation; the resulting status arrives
	// through the same Update callback.
	CancelOrder(ctx context.Context, o *Order) (bool, error)
}

// Handler is the state-transition callback registered per order. It runs
// after every applied update, with the order passed explicitly.
type Handler func(o *Order)

// Order is the state machine for one order's life against a venue.
//
// Transitions: not_sent -> new -> partially_filled* -> executed | cancelled.
// Repeating a terminal status or new is an idempotent no-op; only
// partially_filled may repeat, each time carrying fresh fill data.
type Order struct {
	venue   Venue
	symbol  string
	asset1  string
	asset2  string
	side    domain.OrderSide
	typ     domain.OrderType
	ref     string
	created time.Time

	mu          sync.Mutex
	price       decimal.Decimal
	amount      decimal.Decimal
	status      domain.OrderStatus
	fills       []domain.Fill
	exchangeRef string
	handler     Handler
	submitted   bool
	cancelSent  bool
	done        chan struct{}
}

// Create constructs an order, applies the venue's filters, and reserves the
// funds that back it (buy: asset2 = amount*price, sell: asset1 = amount).
// Filter rejection surfaces domain.ErrUnconstructible and reservation
// failure domain.ErrInsufficientFunds; both are expected outcomes the caller
// branches on, not defects. An order returned without error is ready to be
// executed unconditionally.
func Create(v Venue, symbol string, price, amount decimal.Decimal, side domain.OrderSide, typ domain.OrderType, h Handler) (*Order, error) {
	pair, ok := v.Pair(symbol)
	if !ok {
		return nil, fmt.Errorf("order: create %s on %s: %w", symbol, v.Name(), domain.ErrUnknownPair)
	}

	o := &Order{
		venue:   v,
		symbol:  symbol,
		asset1:  pair.Asset1,
		asset2:  pair.Asset2,
		side:    side,
		typ:     typ,
		ref:     uuid.NewString(),
		created: time.Now().UTC(),
		price:   price,
		amount:  amount,
		status:  domain.OrderStatusNotSent,
		handler: h,
		done:    make(chan struct{}),
	}

	if !v.ApplyFilters(o) {
		return nil, fmt.Errorf("order: create %s %s on %s: %w", side, symbol, v.Name(), domain.ErrUnconstructible)
	}

	reserved := v.Account().Balance(o.InAsset()).Reserve(o.reservation())
	if reserved.IsZero() {
		return nil, fmt.Errorf("order: create %s %s on %s: reserve %s %s: %w",
			side, symbol, v.Name(), o.reservation(), o.InAsset(), domain.ErrInsufficientFunds)
	}
	return o, nil
}

// reservation is the amount of the spent asset locked behind this order.
func (o *Order) reservation() decimal.Decimal {
	if o.side == domain.OrderSideBuy {
		return o.amount.Mul(o.price)
	}
	return o.amount
}

func (o *Order) Venue() Venue           { return o.venue }
func (o *Order) Symbol() string         { return o.symbol }
func (o *Order) Side() domain.OrderSide { return o.side }
func (o *Order) Type() domain.OrderType { return o.typ }
func (o *Order) Ref() string            { return o.ref }
func (o *Order) CreatedAt() time.Time   { return o.created }

// ReceivingAsset is the asset this order obtains when it fills.
func (o *Order) ReceivingAsset() string {
	if o.side == domain.OrderSideBuy {
		return o.asset1
	}
	return o.asset2
}

// InAsset is the asset this order spends.
func (o *Order) InAsset() string {
	if o.side == domain.OrderSideBuy {
		return o.asset2
	}
	return o.asset1
}

// Price returns the (filtered) limit price.
func (o *Order) Price() decimal.Decimal {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.price
}

// Amount returns the (filtered) order quantity in asset1.
func (o *Order) Amount() decimal.Decimal {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.amount
}

// SetPrice adjusts the price. Venue filters call this before submission.
func (o *Order) SetPrice(p decimal.Decimal) {
	o.mu.Lock()
	o.price = p
	o.mu.Unlock()
}

// SetAmount adjusts the quantity. Venue filters call this before submission.
func (o *Order) SetAmount(a decimal.Decimal) {
	o.mu.Lock()
	o.amount = a
	o.mu.Unlock()
}

// Status returns the current lifecycle status.
func (o *Order) Status() domain.OrderStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// ExchangeRef returns the venue-assigned order id, if any.
func (o *Order) ExchangeRef() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.exchangeRef
}

// SetExchangeRef records the venue-assigned order id.
func (o *Order) SetExchangeRef(ref string) {
	o.mu.Lock()
	o.exchangeRef = ref
	o.mu.Unlock()
}

// Done returns a channel closed when the order reaches a terminal status.
func (o *Order) Done() <-chan struct{} { return o.done }

// Fills returns a copy of the accumulated fills in arrival order.
func (o *Order) Fills() []domain.Fill {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.Fill, len(o.fills))
	copy(out, o.fills)
	return out
}

// Execute submits the order to the venue. Idempotent: a second call is a
// no-op. A transport failure during submission surfaces as a cancelled
// terminal status with balance reconciliation run as usual, so funds are
// never left stuck behind a broken request.
func (o *Order) Execute(ctx context.Context) error {
	o.mu.Lock()
	if o.submitted {
		o.mu.Unlock()
		return nil
	}
	o.submitted = true
	o.mu.Unlock()

	if err := o.venue.SubmitOrder(ctx, o); err != nil {
		if uerr := o.Update(domain.OrderStatusCancelled, nil); uerr != nil {
			return fmt.Errorf("order %s: submit failed (%v) and reconcile failed: %w", o.ref, err, uerr)
		}
		return fmt.Errorf("order %s: submit: %w", o.ref, err)
	}
	return nil
}

// Cancel requests cancellation from the venue. Idempotent and best-effort: a
// cancel racing the venue's own fill notification may observe either outcome;
// reconciliation is computed from accumulated fills, so the final balances
// are correct regardless of which arrives first.
func (o *Order) Cancel(ctx context.Context) (bool, error) {
	o.mu.Lock()
	if o.cancelSent || o.status.Terminal() {
		o.mu.Unlock()
		return false, nil
	}
	o.cancelSent = true
	o.mu.Unlock()
	return o.venue.CancelOrder(ctx, o)
}

// Drop aborts a not-yet-sent order, releasing its reservation. Used by a
// strategy that reserved funds and then decided not to trade.
func (o *Order) Drop() {
	o.mu.Lock()
	if o.status != domain.OrderStatusNotSent {
		o.mu.Unlock()
		return
	}
	o.status = domain.OrderStatusCancelled
	close(o.done)
	o.mu.Unlock()
	o.venue.Account().Balance(o.InAsset()).Release(o.reservation())
}

// Update is the sole mutation entry point, invoked by the venue collaborator
// when external state changes arrive. It appends fills, reconciles balances,
// releases any unconsumed reservation on cancellation, and finally invokes
// the registered transition handler.
//
// Re-announcing a terminal status, or repeating new, is a safe no-op. A
// returned error is an invariant violation (double-counted fill, negative
// amount) and must not be swallowed.
func (o *Order) Update(status domain.OrderStatus, fills []domain.Fill) error {
	o.mu.Lock()
	if o.status.Terminal() || (o.status == status && status != domain.OrderStatusPartiallyFilled) {
		o.mu.Unlock()
		return nil
	}
	o.status = status
	o.fills = append(o.fills, fills...)
	if status.Terminal() {
		close(o.done)
	}
	handler := o.handler
	o.mu.Unlock()

	if err := o.reconcile(status, fills); err != nil {
		return fmt.Errorf("order %s (%s %s): %w", o.ref, o.side, o.symbol, err)
	}
	if handler != nil {
		handler(o)
	}
	return nil
}

// reconcile applies the balance effects of newly arrived fills and, on
// cancellation, returns the unfilled remainder of the reservation.
func (o *Order) reconcile(status domain.OrderStatus, fills []domain.Fill) error {
	total1 := decimal.Zero // executed amount in asset1
	total2 := decimal.Zero // executed cost in asset2
	comm1 := decimal.Zero
	comm2 := decimal.Zero
	acct := o.venue.Account()

	for _, f := range fills {
		total1 = total1.Add(f.Amount)
		total2 = total2.Add(f.Amount.Mul(f.Price))
		for _, c := range f.Commissions {
			switch c.Asset {
			case o.asset1:
				comm1 = comm1.Add(c.Amount)
			case o.asset2:
				comm2 = comm2.Add(c.Amount)
			default:
				// Commissions outside the pair are debited from that
				// asset's available balance without a reservation.
				if err := acct.Balance(c.Asset).DecreaseAvailable(c.Amount); err != nil {
					return err
				}
			}
		}
	}

	bal1 := acct.Balance(o.asset1)
	bal2 := acct.Balance(o.asset2)
	if o.side == domain.OrderSideBuy {
		if err := bal1.IncreaseAvailable(total1); err != nil {
			return err
		}
		if err := bal1.DecreaseAvailable(comm1); err != nil {
			return err
		}
		if err := bal2.DecreaseLocked(total2); err != nil {
			return err
		}
		if err := bal2.DecreaseAvailable(comm2); err != nil {
			return err
		}
	} else {
		if err := bal1.DecreaseLocked(total1); err != nil {
			return err
		}
		if err := bal1.DecreaseAvailable(comm1); err != nil {
			return err
		}
		if err := bal2.IncreaseAvailable(total2); err != nil {
			return err
		}
		if err := bal2.DecreaseAvailable(comm2); err != nil {
			return err
		}
	}

	if status == domain.OrderStatusCancelled {
		// Release only the gap between what was originally locked and what
		// fills have consumed; converted funds were already unlocked above.
		if o.side == domain.OrderSideBuy {
			locked := o.price.Mul(o.amount)
			consumed := o.ExecutedAmount().Mul(o.AveragePrice())
			bal2.Release(locked.Sub(consumed))
		} else {
			bal1.Release(o.amount.Sub(o.ExecutedAmount()))
		}
	}
	return nil
}

// ExecutedAmount is the sum of fill amounts, in asset1.
func (o *Order) ExecutedAmount() decimal.Decimal {
	o.mu.Lock()
	defer o.mu.Unlock()
	sum := decimal.Zero
	for _, f := range o.fills {
		sum = sum.Add(f.Amount)
	}
	return sum
}

// AveragePrice is the volume-weighted average fill price, zero if unfilled.
func (o *Order) AveragePrice() decimal.Decimal {
	o.mu.Lock()
	defer o.mu.Unlock()
	sum := decimal.Zero
	cnt := decimal.Zero
	for _, f := range o.fills {
		sum = sum.Add(f.Amount.Mul(f.Price))
		cnt = cnt.Add(f.Amount)
	}
	if cnt.IsZero() {
		return decimal.Zero
	}
	return sum.Div(cnt)
}

// ReceivedAmount is the total obtained in the receiving asset, net of
// commissions charged in that same asset.
func (o *Order) ReceivedAmount() decimal.Decimal {
	executed := o.ExecutedAmount()
	received := executed
	if o.side == domain.OrderSideSell {
		received = executed.Mul(o.AveragePrice())
	}
	for _, c := range o.Commissions() {
		if c.Asset == o.ReceivingAsset() {
			received = received.Sub(c.Amount)
		}
	}
	return received
}

// RemainingAmount is the unfilled quantity in asset1.
func (o *Order) RemainingAmount() decimal.Decimal {
	return o.Amount().Sub(o.ExecutedAmount())
}

// InAssetRemaining is the unspent quantity in the spent asset: the unfilled
// amount for a sell, the unconsumed cost for a buy.
func (o *Order) InAssetRemaining() decimal.Decimal {
	executed := o.ExecutedAmount()
	if o.side == domain.OrderSideSell {
		return o.Amount().Sub(executed)
	}
	return o.Amount().Mul(o.Price()).Sub(executed.Mul(o.AveragePrice()))
}

// Commissions aggregates all fill commissions by asset.
func (o *Order) Commissions() []domain.Commission {
	o.mu.Lock()
	defer o.mu.Unlock()
	byAsset := make(map[string]decimal.Decimal)
	var order []string
	for _, f := range o.fills {
		for _, c := range f.Commissions {
			if _, ok := byAsset[c.Asset]; !ok {
				order = append(order, c.Asset)
			}
			byAsset[c.Asset] = byAsset[c.Asset].Add(c.Amount)
		}
	}
	out := make([]domain.Commission, 0, len(order))
	for _, asset := range order {
		out = append(out, domain.Commission{Asset: asset, Amount: byAsset[asset]})
	}
	return out
}

// String returns a compact human-readable description for logs.
func (o *Order) String() string {
	return fmt.Sprintf("Order(%s %s %s price=%s amount=%s status=%s)",
		o.venue.Name(), o.side, o.symbol, o.Price(), o.Amount(), o.Status())
}
