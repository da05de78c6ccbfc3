package order

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/chainbot/internal/account"
	"github.com/alanyoungcy/chainbot/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeVenue struct {
	acct          *account.Account
	pairs         map[string]domain.PairInfo
	rejectFilters bool
	submitErr     error
	submitted     []*Order
	cancelled     []*Order
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		acct: account.New(),
		pairs: map[string]domain.PairInfo{
			"BTCUSDT": {Symbol: "BTCUSDT", Asset1: "BTC", Asset2: "USDT"},
			"ETHBTC":  {Symbol: "ETHBTC", Asset1: "ETH", Asset2: "BTC"},
		},
	}
}

func (v *fakeVenue) Name() string              { return "fake" }
func (v *fakeVenue) Account() *account.Account { return v.acct }

func (v *fakeVenue) Pair(symbol string) (domain.PairInfo, bool) {
	p, ok := v.pairs[symbol]
	return p, ok
}

func (v *fakeVenue) ApplyFilters(o *Order) bool { return !v.rejectFilters }

func (v *fakeVenue) SubmitOrder(ctx context.Context, o *Order) error {
	if v.submitErr != nil {
		return v.submitErr
	}
	v.submitted = append(v.submitted, o)
	return nil
}

func (v *fakeVenue) CancelOrder(ctx context.Context, o *Order) (bool, error) {
	v.cancelled = append(v.cancelled, o)
	return true, o.Update(domain.OrderStatusCancelled, nil)
}

func fund(v *fakeVenue, asset, amount string) {
	if err := v.acct.Balance(asset).IncreaseAvailable(d(amount)); err != nil {
		panic(err)
	}
}

func TestCreateReservesFunds(t *testing.T) {
	v := newFakeVenue()
	fund(v, "USDT", "500")

	o, err := Create(v, "BTCUSDT", d("100"), d("2"), domain.OrderSideBuy, domain.OrderTypeLimit, nil)
	require.NoError(t, err)

	assert.Equal(t, "USDT", o.InAsset())
	assert.Equal(t, "BTC", o.ReceivingAsset())
	assert.True(t, v.acct.Balance("USDT").Available().Equal(d("300")))
	assert.True(t, v.acct.Balance("USDT").Locked().Equal(d("200")))
	assert.Equal(t, domain.OrderStatusNotSent, o.Status())
}

func TestCreateSellReservesBaseAsset(t *testing.T) {
	v := newFakeVenue()
	fund(v, "BTC", "2")

	_, err := Create(v, "BTCUSDT", d("100"), d("1.5"), domain.OrderSideSell, domain.OrderTypeLimit, nil)
	require.NoError(t, err)
	assert.True(t, v.acct.Balance("BTC").Available().Equal(d("0.5")))
	assert.True(t, v.acct.Balance("BTC").Locked().Equal(d("1.5")))
}

func TestCreateRejections(t *testing.T) {
	v := newFakeVenue()
	fund(v, "USDT", "100")

	_, err := Create(v, "DOGEUSDT", d("1"), d("1"), domain.OrderSideBuy, domain.OrderTypeLimit, nil)
	assert.ErrorIs(t, err, domain.ErrUnknownPair)

	v.rejectFilters = true
	_, err = Create(v, "BTCUSDT", d("100"), d("0.5"), domain.OrderSideBuy, domain.OrderTypeLimit, nil)
	assert.ErrorIs(t, err, domain.ErrUnconstructible)
	v.rejectFilters = false

	_, err = Create(v, "BTCUSDT", d("100"), d("2"), domain.OrderSideBuy, domain.OrderTypeLimit, nil)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	// Failed creation leaves the account untouched.
	assert.True(t, v.acct.Balance("USDT").Available().Equal(d("100")))
	assert.True(t, v.acct.Balance("USDT").Locked().IsZero())
}

func TestBuyFillReconciliation(t *testing.T) {
	v := newFakeVenue()
	fund(v, "USDT", "500")
	o, err := Create(v, "BTCUSDT", d("100"), d("2"), domain.OrderSideBuy, domain.OrderTypeLimit, nil)
	require.NoError(t, err)

	require.NoError(t, o.Update(domain.OrderStatusNew, nil))
	require.NoError(t, o.Update(domain.OrderStatusExecuted, []domain.Fill{{
		Amount: d("2"), Price: d("100"),
		Commissions: []domain.Commission{{Asset: "BTC", Amount: d("0.002")}},
	}}))

	assert.True(t, v.acct.Balance("BTC").Available().Equal(d("1.998")))
	assert.True(t, v.acct.Balance("USDT").Available().Equal(d("300")))
	assert.True(t, v.acct.Balance("USDT").Locked().IsZero())
	assert.Equal(t, domain.OrderStatusExecuted, o.Status())

	select {
	case <-o.Done():
	default:
		t.Fatal("done channel not closed after terminal status")
	}
}

func TestSellFillReconciliation(t *testing.T) {
	v := newFakeVenue()
	fund(v, "BTC", "2")
	o, err := Create(v, "BTCUSDT", d("100"), d("1"), domain.OrderSideSell, domain.OrderTypeLimit, nil)
	require.NoError(t, err)

	require.NoError(t, o.Update(domain.OrderStatusExecuted, []domain.Fill{{
		Amount: d("1"), Price: d("101"),
		Commissions: []domain.Commission{{Asset: "USDT", Amount: d("0.1")}},
	}}))

	assert.True(t, v.acct.Balance("BTC").Locked().IsZero())
	assert.True(t, v.acct.Balance("BTC").Available().Equal(d("1")))
	assert.True(t, v.acct.Balance("USDT").Available().Equal(d("100.9")))
	assert.True(t, o.ReceivedAmount().Equal(d("100.9")))
}

func TestPartialFillThenCancelReleasesRemainder(t *testing.T) {
	v := newFakeVenue()
	fund(v, "USDT", "500")
	o, err := Create(v, "BTCUSDT", d("100"), d("2"), domain.OrderSideBuy, domain.OrderTypeLimit, nil)
	require.NoError(t, err)

	require.NoError(t, o.Update(domain.OrderStatusPartiallyFilled, []domain.Fill{{
		Amount: d("0.5"), Price: d("100"),
	}}))
	assert.True(t, v.acct.Balance("BTC").Available().Equal(d("0.5")))
	assert.True(t, v.acct.Balance("USDT").Locked().Equal(d("150")))

	require.NoError(t, o.Update(domain.OrderStatusCancelled, nil))
	assert.True(t, v.acct.Balance("USDT").Locked().IsZero())
	assert.True(t, v.acct.Balance("USDT").Available().Equal(d("450")))
	assert.True(t, o.RemainingAmount().Equal(d("1.5")))
	assert.True(t, o.InAssetRemaining().Equal(d("150")))
}

func TestThirdAssetCommission(t *testing.T) {
	v := newFakeVenue()
	fund(v, "USDT", "200")
	fund(v, "BNB", "1")
	o, err := Create(v, "BTCUSDT", d("100"), d("1"), domain.OrderSideBuy, domain.OrderTypeLimit, nil)
	require.NoError(t, err)

	require.NoError(t, o.Update(domain.OrderStatusExecuted, []domain.Fill{{
		Amount: d("1"), Price: d("100"),
		Commissions: []domain.Commission{{Asset: "BNB", Amount: d("0.01")}},
	}}))
	assert.True(t, v.acct.Balance("BNB").Available().Equal(d("0.99")))
	assert.True(t, v.acct.Balance("BTC").Available().Equal(d("1")))
}

func TestTerminalStatusIsSticky(t *testing.T) {
	v := newFakeVenue()
	fund(v, "USDT", "200")
	o, err := Create(v, "BTCUSDT", d("100"), d("1"), domain.OrderSideBuy, domain.OrderTypeLimit, nil)
	require.NoError(t, err)

	require.NoError(t, o.Update(domain.OrderStatusExecuted, []domain.Fill{{Amount: d("1"), Price: d("100")}}))
	// A late duplicate or contradictory notification changes nothing.
	require.NoError(t, o.Update(domain.OrderStatusCancelled, nil))
	require.NoError(t, o.Update(domain.OrderStatusExecuted, []domain.Fill{{Amount: d("1"), Price: d("100")}}))

	assert.Equal(t, domain.OrderStatusExecuted, o.Status())
	assert.True(t, o.ExecutedAmount().Equal(d("1")))
	assert.True(t, v.acct.Balance("BTC").Available().Equal(d("1")))
}

func TestRepeatedNewIsNoOp(t *testing.T) {
	v := newFakeVenue()
	fund(v, "USDT", "200")
	calls := 0
	o, err := Create(v, "BTCUSDT", d("100"), d("1"), domain.OrderSideBuy, domain.OrderTypeLimit, func(*Order) { calls++ })
	require.NoError(t, err)

	require.NoError(t, o.Update(domain.OrderStatusNew, nil))
	require.NoError(t, o.Update(domain.OrderStatusNew, nil))
	assert.Equal(t, 1, calls)
}

func TestHandlerSeesEachTransition(t *testing.T) {
	v := newFakeVenue()
	fund(v, "USDT", "200")
	var seen []domain.OrderStatus
	o, err := Create(v, "BTCUSDT", d("100"), d("1"), domain.OrderSideBuy, domain.OrderTypeLimit,
		func(o *Order) { seen = append(seen, o.Status()) })
	require.NoError(t, err)

	require.NoError(t, o.Update(domain.OrderStatusNew, nil))
	require.NoError(t, o.Update(domain.OrderStatusPartiallyFilled, []domain.Fill{{Amount: d("0.4"), Price: d("100")}}))
	require.NoError(t, o.Update(domain.OrderStatusExecuted, []domain.Fill{{Amount: d("0.6"), Price: d("100")}}))

	assert.Equal(t, []domain.OrderStatus{
		domain.OrderStatusNew,
		domain.OrderStatusPartiallyFilled,
		domain.OrderStatusExecuted,
	}, seen)
}

func TestAveragePriceOverFills(t *testing.T) {
	v := newFakeVenue()
	fund(v, "USDT", "500")
	o, err := Create(v, "BTCUSDT", d("103"), d("3"), domain.OrderSideBuy, domain.OrderTypeLimit, nil)
	require.NoError(t, err)

	require.NoError(t, o.Update(domain.OrderStatusPartiallyFilled, []domain.Fill{{Amount: d("1"), Price: d("100")}}))
	require.NoError(t, o.Update(domain.OrderStatusExecuted, []domain.Fill{{Amount: d("2"), Price: d("103")}}))

	// (1*100 + 2*103) / 3 = 102
	assert.True(t, o.AveragePrice().Equal(d("102")), "avg %s", o.AveragePrice())
	assert.True(t, o.ExecutedAmount().Equal(d("3")))
	assert.True(t, o.ReceivedAmount().Equal(d("3")))
}

func TestExecuteSubmitFailureCancels(t *testing.T) {
	v := newFakeVenue()
	fund(v, "USDT", "200")
	o, err := Create(v, "BTCUSDT", d("100"), d("1"), domain.OrderSideBuy, domain.OrderTypeLimit, nil)
	require.NoError(t, err)

	v.submitErr = errors.New("connection reset")
	err = o.Execute(context.Background())
	require.Error(t, err)

	// The order lands in a clean terminal state with the reservation back.
	assert.Equal(t, domain.OrderStatusCancelled, o.Status())
	assert.True(t, v.acct.Balance("USDT").Available().Equal(d("200")))
	assert.True(t, v.acct.Balance("USDT").Locked().IsZero())
}

func TestExecuteIsIdempotent(t *testing.T) {
	v := newFakeVenue()
	fund(v, "USDT", "200")
	o, err := Create(v, "BTCUSDT", d("100"), d("1"), domain.OrderSideBuy, domain.OrderTypeLimit, nil)
	require.NoError(t, err)

	require.NoError(t, o.Execute(context.Background()))
	require.NoError(t, o.Execute(context.Background()))
	assert.Len(t, v.submitted, 1)
}

func TestCancelIdempotentAndSkipsTerminal(t *testing.T) {
	v := newFakeVenue()
	fund(v, "USDT", "200")
	o, err := Create(v, "BTCUSDT", d("100"), d("1"), domain.OrderSideBuy, domain.OrderTypeLimit, nil)
	require.NoError(t, err)
	require.NoError(t, o.Execute(context.Background()))

	sent, err := o.Cancel(context.Background())
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = o.Cancel(context.Background())
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Len(t, v.cancelled, 1)
}

func TestDropReleasesUnsentReservation(t *testing.T) {
	v := newFakeVenue()
	fund(v, "USDT", "200")
	o, err := Create(v, "BTCUSDT", d("100"), d("1"), domain.OrderSideBuy, domain.OrderTypeLimit, nil)
	require.NoError(t, err)

	o.Drop()
	assert.Equal(t, domain.OrderStatusCancelled, o.Status())
	assert.True(t, v.acct.Balance("USDT").Available().Equal(d("200")))
	assert.True(t, v.acct.Balance("USDT").Locked().IsZero())
}
