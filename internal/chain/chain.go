// Package chain executes multi-hop conversions: a sequence of order books
// whose pairs share assets so that the output of one hop funds the next.
// A conversion is first simulated against the local books, then executed
// hop by hop with a slippage budget that aborts the run in place when live
// prices drift too far from the simulation.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/chainbot/internal/book"
	"github.com/alanyoungcy/chainbot/internal/domain"
	"github.com/alanyoungcy/chainbot/internal/order"
)

// Simulation is one recorded dry run across the whole chain. Simulations are
// append-only; an id stays valid for the lifetime of the chain and Execute
// replays against live books, never against the recorded levels.
type Simulation struct {
	ID             int
	AssetIn        string
	AvgPrice       decimal.Decimal
	ReceivedAmount decimal.Decimal
	InAmount       decimal.Decimal
	TotalTakerFee  decimal.Decimal
	QuoteDivisor   bool
	Hops           []book.Simulation
}

// Result reports where a chain execution ended up. On Success the funds
// arrived in the final asset; otherwise they rest in ReceivedAsset wherever
// the run stopped, with RemainingAmount still unconverted in RemainingAsset.
// Hops records how each traversed hop actually filled, in order.
type Result struct {
	ReceivedAmount  decimal.Decimal
	ReceivedAsset   string
	RemainingAmount decimal.Decimal
	RemainingAsset  string
	Success         bool
	Hops            []HopOutcome
}

// HopOutcome is the realized outcome of one hop: what went in, what came
// out, and how far the filled price drifted from the simulated expectation.
// Hops that never executed anything are not recorded.
type HopOutcome struct {
	Symbol        string
	Side          domain.OrderSide
	ExpectedPrice decimal.Decimal
	FilledPrice   decimal.Decimal
	AmountIn      decimal.Decimal
	AmountOut     decimal.Decimal
	Slippage      decimal.Decimal
}

// Option configures a Chain.
type Option func(*Chain)

// WithAbortOnUnconstructible makes Execute fail fast when a prepared order
// cannot be constructed (filters or funds), instead of counting it as done
// and carrying its amount as remainder.
func WithAbortOnUnconstructible() Option {
	return func(c *Chain) { c.abortOnUnconstructible = true }
}

// Chain ties an ordered list of books on one venue into an executable path.
type Chain struct {
	venue  order.Venue
	books  []*book.OrderBook
	logger *slog.Logger

	abortOnUnconstructible bool

	mu   sync.Mutex
	sims []*Simulation
}

// New builds a chain over books. The books must form a walkable path:
// every adjacent pair shares an asset. Which asset enters each hop is only
// known at simulation time, so full path validation happens again there.
func New(v order.Venue, logger *slog.Logger, books ...*book.OrderBook) (*Chain, error) {
	if len(books) == 0 {
		return nil, fmt.Errorf("chain: %w: no books", domain.ErrInvalidChain)
	}
	for i := 1; i < len(books); i++ {
		prev, cur := books[i-1], books[i]
		if !sharesAsset(prev, cur) {
			return nil, fmt.Errorf("chain: %w: %s and %s share no asset",
				domain.ErrInvalidChain, prev.Symbol(), cur.Symbol())
		}
	}
	return &Chain{
		venue:  v,
		books:  books,
		logger: logger.With(slog.String("component", "chain")),
	}, nil
}

func sharesAsset(a, b *book.OrderBook) bool {
	return a.Asset1() == b.Asset1() || a.Asset1() == b.Asset2() ||
		a.Asset2() == b.Asset1() || a.Asset2() == b.Asset2()
}

// NewWithOptions is New plus options.
func NewWithOptions(v order.Venue, logger *slog.Logger, opts []Option, books ...*book.OrderBook) (*Chain, error) {
	c, err := New(v, logger, books...)
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Books returns the chain's books in hop order.
func (c *Chain) Books() []*book.OrderBook { return c.books }

// Simulation returns a previously recorded simulation by id.
func (c *Chain) Simulation(id int) (*Simulation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id < 0 || id >= len(c.sims) {
		return nil, fmt.Errorf("chain: simulation %d: %w", id, domain.ErrUnknownSimulation)
	}
	return c.sims[id], nil
}

// Simulate walks amount of assetIn through every hop against the current
// books, threading each hop's received amount into the next. The compounded
// average price is expressed with assetIn as the divisor when quoteDivisor is
// true, as the dividend otherwise. With firstLevelOnly only the touch price
// of each book is used.
//
// The simulation is recorded and its id can be passed to Execute. The books
// keep moving underneath; a recorded simulation is a snapshot expectation,
// not a guarantee.
func (c *Chain) Simulate(assetIn string, amount decimal.Decimal, quoteDivisor, firstLevelOnly bool) (*Simulation, error) {
	currentAsset := assetIn
	currentAmount := amount
	avgPrice := decimal.NewFromInt(1)
	totalTakerFee := decimal.Zero
	hops := make([]book.Simulation, 0, len(c.books))

	var startSide domain.OrderSide
	if c.books[0].Asset1() == assetIn {
		startSide = domain.OrderSideSell
	} else {
		startSide = domain.OrderSideBuy
	}

	for _, b := range c.books {
		var hopSide domain.OrderSide
		var nextAsset string
		switch currentAsset {
		case b.Asset1():
			hopSide = domain.OrderSideSell
			nextAsset = b.Asset2()
		case b.Asset2():
			hopSide = domain.OrderSideBuy
			nextAsset = b.Asset1()
		default:
			return nil, fmt.Errorf("chain: %w: asset %s matches neither side of %s",
				domain.ErrInvalidChain, currentAsset, b.Symbol())
		}

		hop, err := b.SimulateExecution(hopSide, currentAmount, firstLevelOnly)
		if err != nil {
			return nil, fmt.Errorf("chain: simulate hop %s: %w", b.Symbol(), err)
		}
		hops = append(hops, hop)

		// Same-direction hops compound multiplicatively, opposite hops
		// divide, so the product always relates assetIn to the final asset.
		if hopSide == startSide {
			avgPrice = avgPrice.Mul(hop.AvgPrice)
		} else {
			avgPrice = avgPrice.Div(hop.AvgPrice)
		}
		totalTakerFee = totalTakerFee.Add(b.TakerFee())
		currentAmount = hop.ReceivedAmount
		currentAsset = nextAsset
	}

	if (startSide == domain.OrderSideSell && quoteDivisor) ||
		(startSide == domain.OrderSideBuy && !quoteDivisor) {
		avgPrice = decimal.NewFromInt(1).Div(avgPrice)
	}
	inAmount := currentAmount.Div(avgPrice)
	if quoteDivisor {
		inAmount = currentAmount.Mul(avgPrice)
	}

	c.mu.Lock()
	sim := &Simulation{
		ID:             len(c.sims),
		AssetIn:        assetIn,
		AvgPrice:       avgPrice,
		ReceivedAmount: currentAmount,
		InAmount:       inAmount,
		TotalTakerFee:  totalTakerFee,
		QuoteDivisor:   quoteDivisor,
		Hops:           hops,
	}
	c.sims = append(c.sims, sim)
	c.mu.Unlock()
	return sim, nil
}

// Execute replays simulation simID against live books with real orders.
//
// Before every batch of orders the hop is re-simulated and the would-be
// slippage against the recorded expectation is checked against the remaining
// tolerance; a breach stops the run in place, leaving funds in whatever asset
// the previous hop produced. After each executed batch the budget is debited
// by the realized slippage weighted by the filled fraction, so partial fills
// consume tolerance proportionally. Partial fills loop on the remainder
// until the hop's amount is exhausted or the budget is; a batch that fills
// nothing stops the run in place instead of retrying it.
func (c *Chain) Execute(ctx context.Context, simID int, slippageTolerance decimal.Decimal) (Result, error) {
	sim, err := c.Simulation(simID)
	if err != nil {
		return Result{}, err
	}

	budget := slippageTolerance
	inAmount := sim.InAmount
	var outcomes []HopOutcome
	var last hopExec
	haveLast := false

	stopInPlace := func() Result {
		res := Result{ReceivedAmount: inAmount, ReceivedAsset: sim.AssetIn, Success: false, Hops: outcomes}
		if haveLast {
			res.ReceivedAsset = last.receivedAsset
			res.RemainingAsset = last.inAsset
			res.RemainingAmount = last.remainingIn
		}
		return res
	}

	for i, b := range c.books {
		expected := sim.Hops[i]
		if len(expected.Prepared) == 0 {
			return Result{}, fmt.Errorf("chain: execute %s: simulation hop %d has no levels", b.Symbol(), i)
		}
		side := expected.Prepared[0].Side

		hopIn := inAmount
		hopExecuted := decimal.Zero
		hopAvg := decimal.Zero
		recordHop := func() {
			if !hopExecuted.IsPositive() {
				return
			}
			outcomes = append(outcomes, HopOutcome{
				Symbol:        b.Symbol(),
				Side:          side,
				ExpectedPrice: expected.AvgPrice,
				FilledPrice:   hopAvg,
				AmountIn:      hopIn,
				AmountOut:     inAmount,
				Slippage:      slippage(expected.AvgPrice, hopAvg, side),
			})
		}
		absorb := func(exec hopExec) {
			if !exec.executed.IsPositive() {
				return
			}
			total := hopExecuted.Add(exec.executed)
			hopAvg = hopAvg.Mul(hopExecuted).
				Add(exec.avgPrice.Mul(exec.executed)).
				Div(total)
			hopExecuted = total
		}

		live, err := b.SimulateExecution(side, inAmount, false)
		if err != nil {
			return stopInPlace(), fmt.Errorf("chain: execute hop %s: %w", b.Symbol(), err)
		}
		if budget.Sub(slippage(expected.AvgPrice, live.AvgPrice, side)).Sign() <= 0 {
			c.logger.Warn("slippage budget breached before hop",
				slog.String("symbol", b.Symbol()),
				slog.Int("hop", i),
				slog.String("budget", budget.String()))
			return stopInPlace(), nil
		}

		exec, err := c.executePrepared(ctx, b, live.Prepared)
		if err != nil {
			recordHop()
			return stopInPlace(), err
		}
		last, haveLast = exec, true
		inAmount = exec.received
		// A batch that converts nothing can never progress: the same book
		// would be replayed against the same filters on every retry, and
		// with no fills there is no average price to debit the budget by.
		if exec.received.IsZero() {
			c.logger.Warn("hop batch converted nothing",
				slog.String("symbol", b.Symbol()), slog.Int("hop", i))
			recordHop()
			return stopInPlace(), nil
		}
		absorb(exec)
		budget = budget.Sub(fillRatio(expected.ReceivedAmount, exec.received).
			Mul(slippage(expected.AvgPrice, exec.avgPrice, side)))

		for exec.remaining.IsPositive() {
			live, err = b.SimulateExecution(side, exec.remainingIn, false)
			if err != nil {
				recordHop()
				return stopInPlace(), fmt.Errorf("chain: execute hop %s remainder: %w", b.Symbol(), err)
			}
			if budget.Sub(slippage(expected.AvgPrice, live.AvgPrice, side)).Sign() <= 0 {
				c.logger.Warn("slippage budget breached on remainder",
					slog.String("symbol", b.Symbol()),
					slog.Int("hop", i))
				recordHop()
				return stopInPlace(), nil
			}
			exec, err = c.executePrepared(ctx, b, live.Prepared)
			if err != nil {
				recordHop()
				return stopInPlace(), err
			}
			last = exec
			inAmount = inAmount.Add(exec.received)
			if exec.received.IsZero() {
				c.logger.Warn("hop batch converted nothing",
					slog.String("symbol", b.Symbol()), slog.Int("hop", i))
				recordHop()
				return stopInPlace(), nil
			}
			absorb(exec)
			budget = budget.Sub(fillRatio(expected.ReceivedAmount, exec.received).
				Mul(slippage(expected.AvgPrice, exec.avgPrice, side)))
		}

		recordHop()

		// Nothing advanced to the next asset; continuing would convert zero
		// through every further hop and report a hollow success.
		if inAmount.IsZero() {
			c.logger.Warn("hop produced nothing", slog.String("symbol", b.Symbol()), slog.Int("hop", i))
			return stopInPlace(), nil
		}
	}

	return Result{
		ReceivedAmount:  inAmount,
		ReceivedAsset:   last.receivedAsset,
		RemainingAmount: last.remainingIn,
		RemainingAsset:  last.inAsset,
		Success:         true,
		Hops:            outcomes,
	}, nil
}

// slippage is the signed fraction by which the actual average price is worse
// than expected: paying more on a buy, receiving less on a sell. Negative
// values (price improvement) credit the budget.
func slippage(expected, actual decimal.Decimal, side domain.OrderSide) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if side == domain.OrderSideBuy {
		return actual.Div(expected).Sub(one)
	}
	return expected.Div(actual).Sub(one)
}

// fillRatio weights a batch's slippage by how much of the expectation it
// actually converted.
func fillRatio(fullExpected, actual decimal.Decimal) decimal.Decimal {
	if fullExpected.IsZero() {
		return decimal.Zero
	}
	return actual.Div(fullExpected)
}

// hopExec aggregates one batch of orders placed for a single hop.
type hopExec struct {
	avgPrice      decimal.Decimal
	received      decimal.Decimal
	remainingIn   decimal.Decimal
	executed      decimal.Decimal
	remaining     decimal.Decimal
	receivedAsset string
	inAsset       string
}

// executePrepared places one immediate-or-cancel order per prepared level,
// waits for all of them to reach a terminal status, and aggregates fills.
// Orders that cannot be constructed are, by default, counted as done with
// their full amount carried as remainder so the caller's retry loop can take
// another pass at the book.
func (c *Chain) executePrepared(ctx context.Context, b *book.OrderBook, prepared []book.PreparedOrder) (hopExec, error) {
	if len(prepared) == 0 {
		return hopExec{}, fmt.Errorf("chain: execute on %s: empty preparation", b.Symbol())
	}
	side := prepared[0].Side
	out := hopExec{
		receivedAsset: b.ReceivingAsset(side),
		inAsset:       b.InAsset(side),
	}

	// Orders are cancelled as soon as they rest on the book; combined with
	// the LIMIT_IOC type this bounds how long a hop can hold the chain.
	handler := func(o *order.Order) {
		switch o.Status() {
		case domain.OrderStatusNew, domain.OrderStatusPartiallyFilled:
			go func() {
				if _, err := o.Cancel(ctx); err != nil {
					c.logger.Error("cancel failed", slog.String("order", o.Ref()), slog.Any("error", err))
				}
			}()
		}
	}

	orders := make([]*order.Order, 0, len(prepared))
	for _, p := range prepared {
		o, err := order.Create(c.venue, p.Symbol, p.Price, p.Amount, p.Side, domain.OrderTypeLimitIOC, handler)
		if err != nil {
			if !errors.Is(err, domain.ErrUnconstructible) && !errors.Is(err, domain.ErrInsufficientFunds) {
				return out, err
			}
			if c.abortOnUnconstructible {
				return out, fmt.Errorf("chain: execute on %s: %w", b.Symbol(), err)
			}
			// Count the level as settled with its amount untouched.
			c.logger.Warn("skipping unconstructible level",
				slog.String("symbol", p.Symbol), slog.Any("error", err))
			if p.Side == domain.OrderSideSell {
				out.remainingIn = out.remainingIn.Add(p.Amount)
			} else {
				out.remainingIn = out.remainingIn.Add(p.Amount.Mul(p.Price))
			}
			out.remaining = out.remaining.Add(p.Amount)
			continue
		}
		orders = append(orders, o)
		if err := o.Execute(ctx); err != nil {
			c.logger.Warn("submit failed, order cancelled",
				slog.String("order", o.Ref()), slog.Any("error", err))
		}
	}

	for _, o := range orders {
		select {
		case <-o.Done():
		case <-ctx.Done():
			return out, fmt.Errorf("chain: execute on %s: %w", b.Symbol(), ctx.Err())
		}
	}

	for _, o := range orders {
		out.remainingIn = out.remainingIn.Add(o.InAssetRemaining())
		out.remaining = out.remaining.Add(o.RemainingAmount())
		executed := o.ExecutedAmount()
		if executed.IsZero() {
			continue
		}
		total := out.executed.Add(executed)
		out.avgPrice = out.avgPrice.Mul(out.executed).
			Add(o.AveragePrice().Mul(executed)).
			Div(total)
		out.executed = total
		out.received = out.received.Add(o.ReceivedAmount())
	}
	return out, nil
}
