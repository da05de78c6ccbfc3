package paper

import (
	"context"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/chainbot/internal/book"
	"github.com/alanyoungcy/chainbot/internal/domain"
	"github.com/alanyoungcy/chainbot/internal/order"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newVenue(t *testing.T, opts ...Option) (*Venue, *book.OrderBook) {
	t.Helper()
	v := New("paper", slog.New(slog.DiscardHandler), opts...)
	b := book.New("BTCUSDT", "BTC", "USDT")
	v.Register(domain.PairInfo{
		Symbol: "BTCUSDT", Asset1: "BTC", Asset2: "USDT",
		TickSize: d("0.01"), StepSize: d("0.0001"), MinNotional: d("10"),
	}, b)
	return v, b
}

func TestApplyFiltersRounds(t *testing.T) {
	v, _ := newVenue(t)
	require.NoError(t, v.Account().Balance("USDT").IncreaseAvailable(d("1000")))

	o, err := order.Create(v, "BTCUSDT", d("100.0567"), d("0.123456"), domain.OrderSideBuy, domain.OrderTypeLimit, nil)
	require.NoError(t, err)
	assert.True(t, o.Price().Equal(d("100.05")), "price %s", o.Price())
	assert.True(t, o.Amount().Equal(d("0.1234")), "amount %s", o.Amount())
}

func TestApplyFiltersMinNotional(t *testing.T) {
	v, _ := newVenue(t)
	require.NoError(t, v.Account().Balance("USDT").IncreaseAvailable(d("1000")))

	// 0.0001 BTC at 100 is 0.01 USDT, far below the 10 USDT floor.
	_, err := order.Create(v, "BTCUSDT", d("100"), d("0.0001"), domain.OrderSideBuy, domain.OrderTypeLimit, nil)
	assert.ErrorIs(t, err, domain.ErrUnconstructible)
}

func TestSubmitFillsAndConsumesLiquidity(t *testing.T) {
	v, b := newVenue(t)
	b.UpdateAsks(d("100"), d("2"))
	require.NoError(t, v.Account().Balance("USDT").IncreaseAvailable(d("100")))

	o, err := order.Create(v, "BTCUSDT", d("100"), d("0.5"), domain.OrderSideBuy, domain.OrderTypeLimitIOC, nil)
	require.NoError(t, err)
	require.NoError(t, o.Execute(context.Background()))

	assert.Equal(t, domain.OrderStatusExecuted, o.Status())
	qty, ok := b.AskQuantity(d("100"))
	require.True(t, ok)
	assert.True(t, qty.Equal(d("1.5")), "qty %s", qty)
}

func TestSubmitRespectsLimitPrice(t *testing.T) {
	v, b := newVenue(t)
	b.UpdateAsks(d("100"), d("1"))
	b.UpdateAsks(d("110"), d("5"))
	require.NoError(t, v.Account().Balance("USDT").IncreaseAvailable(d("1000")))

	// The order asks for 2 BTC at up to 105; only the 100 level qualifies.
	o, err := order.Create(v, "BTCUSDT", d("105"), d("2"), domain.OrderSideBuy, domain.OrderTypeLimitIOC, nil)
	require.NoError(t, err)
	require.NoError(t, o.Execute(context.Background()))

	assert.Equal(t, domain.OrderStatusCancelled, o.Status())
	assert.True(t, o.ExecutedAmount().Equal(d("1")))
	// The unfilled half of the reservation came back.
	assert.True(t, v.Account().Balance("USDT").Locked().IsZero())
}

func TestSubmitNoLiquidityCancels(t *testing.T) {
	v, _ := newVenue(t)
	require.NoError(t, v.Account().Balance("USDT").IncreaseAvailable(d("100")))

	o, err := order.Create(v, "BTCUSDT", d("100"), d("0.5"), domain.OrderSideBuy, domain.OrderTypeLimitIOC, nil)
	require.NoError(t, err)
	require.NoError(t, o.Execute(context.Background()))
	assert.Equal(t, domain.OrderStatusCancelled, o.Status())
	assert.True(t, v.Account().Balance("USDT").Available().Equal(d("100")))
}

func TestSellChargesFeeInQuote(t *testing.T) {
	v, b := newVenue(t)
	b.UpdateBids(d("100"), d("2"))
	b.SetFees(d("0.001"), d("0.002"))
	require.NoError(t, v.Account().Balance("BTC").IncreaseAvailable(d("1")))

	o, err := order.Create(v, "BTCUSDT", d("100"), d("1"), domain.OrderSideSell, domain.OrderTypeLimitIOC, nil)
	require.NoError(t, err)
	require.NoError(t, o.Execute(context.Background()))

	assert.Equal(t, domain.OrderStatusExecuted, o.Status())
	// 100 USDT received minus 0.2% taker fee.
	assert.True(t, v.Account().Balance("USDT").Available().Equal(d("99.8")))
	assert.True(t, v.Account().Balance("BTC").Available().IsZero())
}
