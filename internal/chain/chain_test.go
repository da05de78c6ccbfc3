package chain

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/chainbot/internal/book"
	"github.com/alanyoungcy/chainbot/internal/domain"
	"github.com/alanyoungcy/chainbot/internal/venue/paper"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func pair(symbol, a1, a2 string) domain.PairInfo {
	return domain.PairInfo{Symbol: symbol, Asset1: a1, Asset2: a2}
}

// newTriangle builds a profitable USDT -> BTC -> ETH -> USDT cycle:
// 100 USDT buys 1 BTC, 1 BTC buys 20 ETH, 20 ETH sells for 104 USDT.
func newTriangle(t *testing.T, opts ...paper.Option) (*paper.Venue, []*book.OrderBook) {
	t.Helper()
	v := paper.New("paper", discard(), opts...)

	btcusdt := book.New("BTCUSDT", "BTC", "USDT")
	btcusdt.UpdateAsks(d("100"), d("10"))
	ethbtc := book.New("ETHBTC", "ETH", "BTC")
	ethbtc.UpdateAsks(d("0.05"), d("1000"))
	ethusdt := book.New("ETHUSDT", "ETH", "USDT")
	ethusdt.UpdateBids(d("5.2"), d("1000"))

	v.Register(pair("BTCUSDT", "BTC", "USDT"), btcusdt)
	v.Register(pair("ETHBTC", "ETH", "BTC"), ethbtc)
	v.Register(pair("ETHUSDT", "ETH", "USDT"), ethusdt)
	return v, []*book.OrderBook{btcusdt, ethbtc, ethusdt}
}

func fund(t *testing.T, v *paper.Venue, asset, amount string) {
	t.Helper()
	require.NoError(t, v.Account().Balance(asset).IncreaseAvailable(d(amount)))
}

func TestNewRejectsBrokenChains(t *testing.T) {
	v := paper.New("paper", discard())

	_, err := New(v, discard())
	assert.ErrorIs(t, err, domain.ErrInvalidChain)

	a := book.New("BTCUSDT", "BTC", "USDT")
	b := book.New("XRPEUR", "XRP", "EUR")
	_, err = New(v, discard(), a, b)
	assert.ErrorIs(t, err, domain.ErrInvalidChain)
}

func TestSimulateSingleHop(t *testing.T) {
	v := paper.New("paper", discard())
	b := book.New("BTCUSDT", "BTC", "USDT")
	b.UpdateAsks(d("100"), d("1"))
	b.UpdateAsks(d("101"), d("3"))
	v.Register(pair("BTCUSDT", "BTC", "USDT"), b)

	c, err := New(v, discard(), b)
	require.NoError(t, err)

	sim, err := c.Simulate("USDT", d("150"), true, false)
	require.NoError(t, err)

	// 100 USDT takes the full first level, the remaining 50 buys 50/101.
	wantReceived := d("1").Add(d("50").Div(d("101")))
	assert.InDelta(t, wantReceived.InexactFloat64(), sim.ReceivedAmount.InexactFloat64(), 1e-12)
	// With USDT as divisor the average price is USDT per BTC.
	assert.InDelta(t, d("150").Div(wantReceived).InexactFloat64(), sim.AvgPrice.InexactFloat64(), 1e-9)
	assert.InDelta(t, 150, sim.InAmount.InexactFloat64(), 1e-9)
	assert.Equal(t, 0, sim.ID)
	assert.Len(t, sim.Hops, 1)
}

func TestSimulateTriangle(t *testing.T) {
	v, books := newTriangle(t)
	c, err := New(v, discard(), books...)
	require.NoError(t, err)

	sim, err := c.Simulate("USDT", d("100"), true, false)
	require.NoError(t, err)

	assert.InDelta(t, 104, sim.ReceivedAmount.InexactFloat64(), 1e-9)
	assert.InDelta(t, 100, sim.InAmount.InexactFloat64(), 1e-9)
	assert.True(t, sim.TotalTakerFee.IsZero())

	// A second simulation gets the next id and both remain retrievable.
	sim2, err := c.Simulate("USDT", d("50"), true, false)
	require.NoError(t, err)
	assert.Equal(t, 1, sim2.ID)
	got, err := c.Simulation(0)
	require.NoError(t, err)
	assert.Equal(t, sim, got)
}

func TestSimulateRejectsUnwalkableAsset(t *testing.T) {
	v, books := newTriangle(t)
	c, err := New(v, discard(), books...)
	require.NoError(t, err)

	_, err = c.Simulate("DOGE", d("1"), true, false)
	assert.ErrorIs(t, err, domain.ErrInvalidChain)
}

func TestSimulateSumsTakerFees(t *testing.T) {
	v, books := newTriangle(t)
	for _, b := range books {
		b.SetFees(d("0.001"), d("0.002"))
	}
	c, err := New(v, discard(), books...)
	require.NoError(t, err)

	sim, err := c.Simulate("USDT", d("100"), true, false)
	require.NoError(t, err)
	assert.True(t, sim.TotalTakerFee.Equal(d("0.006")), "fee %s", sim.TotalTakerFee)
}

func TestExecuteUnknownSimulation(t *testing.T) {
	v, books := newTriangle(t)
	c, err := New(v, discard(), books...)
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), 7, d("0.01"))
	assert.ErrorIs(t, err, domain.ErrUnknownSimulation)
}

func TestExecuteTriangleRoundTrip(t *testing.T) {
	v, books := newTriangle(t)
	fund(t, v, "USDT", "100")
	c, err := New(v, discard(), books...)
	require.NoError(t, err)

	sim, err := c.Simulate("USDT", d("100"), true, false)
	require.NoError(t, err)

	res, err := c.Execute(context.Background(), sim.ID, d("0.02"))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "USDT", res.ReceivedAsset)
	assert.InDelta(t, 104, res.ReceivedAmount.InexactFloat64(), 1e-9)
	assert.True(t, res.RemainingAmount.IsZero())

	// The round trip banked the profit in the account.
	usdt := v.Account().Balance("USDT")
	assert.InDelta(t, 104, usdt.Available().InexactFloat64(), 1e-9)
	assert.True(t, usdt.Locked().IsZero())

	// Every hop filled at its simulated price, so the journal shows no drift.
	require.Len(t, res.Hops, 3)
	assert.Equal(t, "BTCUSDT", res.Hops[0].Symbol)
	assert.Equal(t, domain.OrderSideBuy, res.Hops[0].Side)
	assert.True(t, res.Hops[0].FilledPrice.Equal(d("100")))
	assert.True(t, res.Hops[0].Slippage.IsZero())
	assert.Equal(t, "ETHUSDT", res.Hops[2].Symbol)
	assert.InDelta(t, 104, res.Hops[2].AmountOut.InexactFloat64(), 1e-9)
}

func TestExecuteStopsBeforeHopOnSlippageBreach(t *testing.T) {
	v := paper.New("paper", discard())
	b := book.New("BTCUSDT", "BTC", "USDT")
	b.UpdateAsks(d("100"), d("5"))
	v.Register(pair("BTCUSDT", "BTC", "USDT"), b)
	fund(t, v, "USDT", "150")

	c, err := New(v, discard(), b)
	require.NoError(t, err)
	sim, err := c.Simulate("USDT", d("150"), true, false)
	require.NoError(t, err)

	// The book moves 3% against the simulation; tolerance is 2%.
	b.UpdateAsks(d("100"), d("0"))
	b.UpdateAsks(d("103"), d("5"))

	res, err := c.Execute(context.Background(), sim.ID, d("0.02"))
	require.NoError(t, err)

	assert.False(t, res.Success)
	// Nothing executed: funds never left the starting asset.
	assert.Equal(t, "USDT", res.ReceivedAsset)
	assert.InDelta(t, 150, res.ReceivedAmount.InexactFloat64(), 1e-9)
	assert.True(t, v.Account().Balance("USDT").Available().Equal(d("150")))
	assert.True(t, v.Account().Balance("USDT").Locked().IsZero())
}

func TestExecuteBudgetDebitAcrossHops(t *testing.T) {
	v := paper.New("paper", discard())
	btcusdt := book.New("BTCUSDT", "BTC", "USDT")
	btcusdt.UpdateAsks(d("100"), d("10"))
	ethbtc := book.New("ETHBTC", "ETH", "BTC")
	ethbtc.UpdateAsks(d("0.05"), d("1000"))
	v.Register(pair("BTCUSDT", "BTC", "USDT"), btcusdt)
	v.Register(pair("ETHBTC", "ETH", "BTC"), ethbtc)
	// A little slack over the simulated notional: the rounded level amount
	// times the price can land a hair above 100.
	fund(t, v, "USDT", "100.000001")

	c, err := New(v, discard(), btcusdt, ethbtc)
	require.NoError(t, err)
	sim, err := c.Simulate("USDT", d("100"), true, false)
	require.NoError(t, err)

	// Hop one slips 1.5% (inside the 2% budget), hop two slips another 1%.
	// The realized debit from hop one leaves less than 1% of budget, so the
	// run stops holding BTC.
	btcusdt.UpdateAsks(d("100"), d("0"))
	btcusdt.UpdateAsks(d("101.5"), d("10"))
	ethbtc.UpdateAsks(d("0.05"), d("0"))
	ethbtc.UpdateAsks(d("0.0505"), d("1000"))

	res, err := c.Execute(context.Background(), sim.ID, d("0.02"))
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "BTC", res.ReceivedAsset)
	wantBTC := d("100").Div(d("101.5"))
	assert.InDelta(t, wantBTC.InexactFloat64(), res.ReceivedAmount.InexactFloat64(), 1e-9)
	assert.InDelta(t, wantBTC.InexactFloat64(), v.Account().Balance("BTC").Available().InexactFloat64(), 1e-9)
}

func TestExecutePartialFillRetriesRemainder(t *testing.T) {
	v := paper.New("paper", discard(), paper.WithPartialFirstFill(d("0.5")))
	b := book.New("BTCUSDT", "BTC", "USDT")
	b.UpdateAsks(d("100"), d("2"))
	v.Register(pair("BTCUSDT", "BTC", "USDT"), b)
	fund(t, v, "USDT", "100")

	c, err := New(v, discard(), b)
	require.NoError(t, err)
	sim, err := c.Simulate("USDT", d("100"), true, false)
	require.NoError(t, err)

	res, err := c.Execute(context.Background(), sim.ID, d("0.02"))
	require.NoError(t, err)

	// First pass fills half, the retry converts the released remainder.
	assert.True(t, res.Success)
	assert.Equal(t, "BTC", res.ReceivedAsset)
	assert.InDelta(t, 1, res.ReceivedAmount.InexactFloat64(), 1e-9)
	assert.InDelta(t, 1, v.Account().Balance("BTC").Available().InexactFloat64(), 1e-9)
	assert.True(t, v.Account().Balance("USDT").Locked().IsZero())
}

func TestExecuteStopsWhenHopProducesNothing(t *testing.T) {
	v := paper.New("paper", discard())
	b := book.New("BTCUSDT", "BTC", "USDT")
	b.UpdateAsks(d("100"), d("2"))
	// A 100% taker fee consumes the whole fill; the hop completes but
	// advances nothing to convert further.
	b.SetFees(d("1"), d("1"))
	v.Register(pair("BTCUSDT", "BTC", "USDT"), b)
	fund(t, v, "USDT", "100")

	c, err := New(v, discard(), b)
	require.NoError(t, err)
	sim, err := c.Simulate("USDT", d("100"), true, false)
	require.NoError(t, err)

	res, err := c.Execute(context.Background(), sim.ID, d("0.02"))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.ReceivedAmount.IsZero())
	assert.Equal(t, "BTC", res.ReceivedAsset)
}

func TestExecuteStopsWhenSellBatchIsUnconstructible(t *testing.T) {
	v := paper.New("paper", discard())
	b := book.New("ETHUSDT", "ETH", "USDT")
	b.UpdateBids(d("5.2"), d("1000"))
	// A min notional far above the book makes every prepared order
	// unconstructible, so the batch fills nothing at all.
	p := pair("ETHUSDT", "ETH", "USDT")
	p.MinNotional = d("1000000000")
	v.Register(p, b)
	fund(t, v, "ETH", "20")

	c, err := New(v, discard(), b)
	require.NoError(t, err)
	sim, err := c.Simulate("ETH", d("20"), true, false)
	require.NoError(t, err)

	res, err := c.Execute(context.Background(), sim.ID, d("0.02"))
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.True(t, res.ReceivedAmount.IsZero())
	assert.Equal(t, "USDT", res.ReceivedAsset)
	assert.Equal(t, "ETH", res.RemainingAsset)
	assert.InDelta(t, 20, res.RemainingAmount.InexactFloat64(), 1e-9)
	assert.Empty(t, res.Hops)
	// Funds never left the account.
	assert.True(t, v.Account().Balance("ETH").Available().Equal(d("20")))
	assert.True(t, v.Account().Balance("ETH").Locked().IsZero())
}

func TestExecuteReturnsWhenBuyBatchIsUnconstructible(t *testing.T) {
	v := paper.New("paper", discard())
	b := book.New("BTCUSDT", "BTC", "USDT")
	b.UpdateAsks(d("100"), d("10"))
	p := pair("BTCUSDT", "BTC", "USDT")
	p.MinNotional = d("1000000000")
	v.Register(p, b)
	fund(t, v, "USDT", "100")

	c, err := New(v, discard(), b)
	require.NoError(t, err)
	sim, err := c.Simulate("USDT", d("100"), true, false)
	require.NoError(t, err)

	type execResult struct {
		res Result
		err error
	}
	done := make(chan execResult, 1)
	go func() {
		res, err := c.Execute(context.Background(), sim.ID, d("0.02"))
		done <- execResult{res, err}
	}()

	var got execResult
	select {
	case got = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("execute did not return on an unfillable hop")
	}
	require.NoError(t, got.err)

	assert.False(t, got.res.Success)
	assert.True(t, got.res.ReceivedAmount.IsZero())
	assert.Equal(t, "BTC", got.res.ReceivedAsset)
	assert.Equal(t, "USDT", got.res.RemainingAsset)
	assert.InDelta(t, 100, got.res.RemainingAmount.InexactFloat64(), 1e-9)
	assert.True(t, v.Account().Balance("USDT").Available().Equal(d("100")))
}

func TestExecuteAbortOnUnconstructible(t *testing.T) {
	v := paper.New("paper", discard())
	b := book.New("BTCUSDT", "BTC", "USDT")
	b.UpdateAsks(d("100"), d("2"))
	v.Register(pair("BTCUSDT", "BTC", "USDT"), b)
	// No funds: order creation fails on reservation.

	c, err := NewWithOptions(v, discard(), []Option{WithAbortOnUnconstructible()}, b)
	require.NoError(t, err)
	sim, err := c.Simulate("USDT", d("100"), true, false)
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), sim.ID, d("0.02"))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}
