package book

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/chainbot/internal/domain"
)

func testBook() *OrderBook {
	return New("BTCUSDT", "BTC", "USDT")
}

func TestSimulateBuyWalksAsksAscending(t *testing.T) {
	b := testBook()
	b.UpdateAsks(d("100"), d("1"))
	b.UpdateAsks(d("101"), d("3"))

	sim, err := b.SimulateExecution(domain.OrderSideBuy, d("150"), false)
	require.NoError(t, err)

	// Level 100 provides 1 unit costing 100; the remaining 50 buys 50/101
	// units at 101.
	require.Len(t, sim.Prepared, 2)
	assert.True(t, sim.Prepared[0].Price.Equal(d("100")))
	assert.True(t, sim.Prepared[0].Amount.Equal(d("1")))
	assert.True(t, sim.Prepared[1].Price.Equal(d("101")))

	expectedReceived := d("1").Add(d("50").Div(d("101")))
	assert.True(t, sim.ReceivedAmount.Equal(expectedReceived),
		"received %s want %s", sim.ReceivedAmount, expectedReceived)

	expectedAvg := d("150").Div(expectedReceived)
	assert.True(t, sim.AvgPrice.Equal(expectedAvg),
		"avg %s want %s", sim.AvgPrice, expectedAvg)
}

func TestSimulateBuySingleLevelAbsorbs(t *testing.T) {
	b := testBook()
	b.UpdateAsks(d("100"), d("2"))
	b.UpdateAsks(d("101"), d("3"))

	sim, err := b.SimulateExecution(domain.OrderSideBuy, d("150"), false)
	require.NoError(t, err)

	// 150/100 = 1.5 units needed; the first level holds 2, so the walk never
	// touches 101 and the average equals the touch price.
	require.Len(t, sim.Prepared, 1)
	assert.True(t, sim.Prepared[0].Amount.Equal(d("1.5")))
	assert.True(t, sim.ReceivedAmount.Equal(d("1.5")))
	assert.True(t, sim.AvgPrice.Equal(d("100")))
}

func TestSimulateSellWalksBidsDescending(t *testing.T) {
	b := testBook()
	b.UpdateBids(d("99"), d("1"))
	b.UpdateBids(d("98"), d("5"))

	sim, err := b.SimulateExecution(domain.OrderSideSell, d("3"), false)
	require.NoError(t, err)

	require.Len(t, sim.Prepared, 2)
	assert.True(t, sim.Prepared[0].Price.Equal(d("99")))
	assert.True(t, sim.Prepared[0].Amount.Equal(d("1")))
	assert.True(t, sim.Prepared[1].Price.Equal(d("98")))
	assert.True(t, sim.Prepared[1].Amount.Equal(d("2")))

	expectedReceived := d("99").Add(d("196")) // 1*99 + 2*98
	assert.True(t, sim.ReceivedAmount.Equal(expectedReceived))
	assert.True(t, sim.AvgPrice.Equal(expectedReceived.Div(d("3"))))
}

func TestSimulateZeroAmountReturnsBestLevelQuote(t *testing.T) {
	b := testBook()
	b.UpdateAsks(d("100"), d("2"))
	b.UpdateBids(d("99"), d("4"))

	buy, err := b.SimulateExecution(domain.OrderSideBuy, decimal.Zero, false)
	require.NoError(t, err)
	assert.True(t, buy.AvgPrice.Equal(d("100")))
	assert.True(t, buy.ReceivedAmount.Equal(d("2")))
	require.Len(t, buy.Prepared, 1)

	sell, err := b.SimulateExecution(domain.OrderSideSell, decimal.Zero, false)
	require.NoError(t, err)
	assert.True(t, sell.AvgPrice.Equal(d("99")))
	assert.True(t, sell.ReceivedAmount.Equal(d("396"))) // 4 * 99
}

func TestSimulateFirstLevelOnlyTruncatesWalk(t *testing.T) {
	b := testBook()
	b.UpdateAsks(d("100"), d("1"))
	b.UpdateAsks(d("101"), d("100"))

	sim, err := b.SimulateExecution(domain.OrderSideBuy, d("500"), true)
	require.NoError(t, err)
	require.Len(t, sim.Prepared, 1)
	assert.True(t, sim.AvgPrice.Equal(d("100")))
	assert.True(t, sim.ReceivedAmount.Equal(d("1")))
}

func TestSimulateNegativeAmountIsInvariantViolation(t *testing.T) {
	b := testBook()
	b.UpdateAsks(d("100"), d("1"))

	_, err := b.SimulateExecution(domain.OrderSideBuy, d("-1"), false)
	assert.ErrorIs(t, err, domain.ErrNegativeAmount)
}

func TestSimulateEmptySideIsNoLiquidity(t *testing.T) {
	b := testBook()

	_, err := b.SimulateExecution(domain.OrderSideBuy, d("10"), false)
	assert.ErrorIs(t, err, domain.ErrNoLiquidity)
	_, err = b.SimulateExecution(domain.OrderSideSell, decimal.Zero, false)
	assert.ErrorIs(t, err, domain.ErrNoLiquidity)
}

func TestSimulateIsPure(t *testing.T) {
	b := testBook()
	b.UpdateAsks(d("100"), d("1"))
	b.UpdateAsks(d("101"), d("3"))

	first, err := b.SimulateExecution(domain.OrderSideBuy, d("150"), false)
	require.NoError(t, err)
	second, err := b.SimulateExecution(domain.OrderSideBuy, d("150"), false)
	require.NoError(t, err)

	assert.True(t, first.AvgPrice.Equal(second.AvgPrice))
	assert.True(t, first.ReceivedAmount.Equal(second.ReceivedAmount))
	assert.Equal(t, len(first.Prepared), len(second.Prepared))
}

func TestTouchPricesAndReadiness(t *testing.T) {
	b := testBook()
	_, ok := b.HighestBid()
	assert.False(t, ok)
	assert.False(t, b.Ready())

	b.UpdateBids(d("99"), d("1"))
	b.UpdateAsks(d("100"), d("1"))
	b.SetReady(true)

	bid, ok := b.HighestBid()
	require.True(t, ok)
	assert.True(t, bid.Equal(d("99")))
	ask, ok := b.LowestAsk()
	require.True(t, ok)
	assert.True(t, ask.Equal(d("100")))
	assert.True(t, b.Ready())

	b.Clear()
	assert.False(t, b.Ready())
	_, ok = b.LowestAsk()
	assert.False(t, ok)
}

func TestBookChangeSignalCoalesces(t *testing.T) {
	b := testBook()
	ch := b.Changed().Subscribe()

	b.UpdateAsks(d("100"), d("1"))
	b.UpdateAsks(d("101"), d("2"))
	b.UpdateBids(d("99"), d("1"))

	assert.Len(t, ch, 1)

	assets := b.ReceivingAsset(domain.OrderSideBuy)
	assert.Equal(t, "BTC", assets)
	assert.Equal(t, "USDT", b.InAsset(domain.OrderSideBuy))
	assert.Equal(t, "USDT", b.ReceivingAsset(domain.OrderSideSell))
	assert.Equal(t, "BTC", b.InAsset(domain.OrderSideSell))
}
