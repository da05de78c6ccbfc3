package binance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/chainbot/internal/account"
	"github.com/alanyoungcy/chainbot/internal/book"
	"github.com/alanyoungcy/chainbot/internal/crypto"
	"github.com/alanyoungcy/chainbot/internal/domain"
	"github.com/alanyoungcy/chainbot/internal/feed"
	"github.com/alanyoungcy/chainbot/internal/order"
)

// symbolLimits holds the exchange filters that do not fit in PairInfo.
type symbolLimits struct {
	minPrice decimal.Decimal
	maxPrice decimal.Decimal
	minQty   decimal.Decimal
	maxQty   decimal.Decimal
}

// Venue is the live Binance spot venue. Init must be called before trading:
// it loads pair metadata, the balance snapshot, and commission rates.
type Venue struct {
	client        *Client
	acct          *account.Account
	logger        *slog.Logger
	wsHost        string
	snapshotLimit int

	defaultMakerFee decimal.Decimal
	defaultTakerFee decimal.Decimal

	mu           sync.Mutex
	pairs        map[string]domain.PairInfo
	limits       map[string]symbolLimits
	fees         map[string]pairFees
	books        map[string]*book.OrderBook
	orders       map[string]*order.Order // venue order id -> order
	lastTransact map[string]int64        // venue order id -> transactTime already applied
}

type pairFees struct {
	maker decimal.Decimal
	taker decimal.Decimal
}

// Config carries what New needs from the application configuration.
type Config struct {
	RestHost      string
	WsHost        string
	ApiKey        string
	ApiSecret     string
	RecvWindow    time.Duration
	SnapshotLimit int
	MakerFee      decimal.Decimal
	TakerFee      decimal.Decimal
}

// New creates an uninitialized venue.
func New(cfg Config, logger *slog.Logger) *Venue {
	auth := &crypto.HMACAuth{Key: cfg.ApiKey, Secret: cfg.ApiSecret}
	return &Venue{
		client:          NewClient(cfg.RestHost, auth, cfg.RecvWindow),
		acct:            account.New(),
		logger:          logger.With(slog.String("component", "binance")),
		wsHost:          cfg.WsHost,
		snapshotLimit:   cfg.SnapshotLimit,
		defaultMakerFee: cfg.MakerFee,
		defaultTakerFee: cfg.TakerFee,
		pairs:           make(map[string]domain.PairInfo),
		limits:          make(map[string]symbolLimits),
		fees:            make(map[string]pairFees),
		books:           make(map[string]*book.OrderBook),
		orders:          make(map[string]*order.Order),
		lastTransact:    make(map[string]int64),
	}
}

// Init loads exchange metadata, the account balance snapshot, and commission
// rates. Fee lookup failures fall back to the configured defaults.
func (v *Venue) Init(ctx context.Context) error {
	info, err := v.client.ExchangeInfo(ctx)
	if err != nil {
		return fmt.Errorf("binance: init: %w", err)
	}
	v.mu.Lock()
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		pair, limits, err := parseSymbolInfo(s)
		if err != nil {
			v.logger.Warn("skipping symbol with bad filters",
				slog.String("symbol", s.Symbol), slog.Any("error", err))
			continue
		}
		v.pairs[s.Symbol] = pair
		v.limits[s.Symbol] = limits
	}
	v.mu.Unlock()

	snap, err := v.client.AccountSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("binance: init: %w", err)
	}
	for _, b := range snap.Balances {
		free, err1 := decimal.NewFromString(b.Free)
		locked, err2 := decimal.NewFromString(b.Locked)
		if err1 != nil || err2 != nil {
			continue
		}
		bal := v.acct.Balance(b.Asset)
		bal.SetAvailable(free)
		bal.SetLocked(locked)
	}

	fees, err := v.client.TradeFees(ctx)
	if err != nil {
		v.logger.Warn("trade fee lookup failed, using defaults", slog.Any("error", err))
	} else {
		v.mu.Lock()
		for _, f := range fees {
			maker, err1 := decimal.NewFromString(f.MakerCommission)
			taker, err2 := decimal.NewFromString(f.TakerCommission)
			if err1 != nil || err2 != nil {
				continue
			}
			v.fees[f.Symbol] = pairFees{maker: maker, taker: taker}
		}
		v.mu.Unlock()
	}

	v.logger.Info("venue initialized",
		slog.Int("pairs", len(v.pairs)),
		slog.Int("balances", len(snap.Balances)))
	return nil
}

func parseSymbolInfo(s symbolInfo) (domain.PairInfo, symbolLimits, error) {
	pair := domain.PairInfo{
		Symbol: s.Symbol,
		Asset1: s.BaseAsset,
		Asset2: s.QuoteAsset,
	}
	var limits symbolLimits
	for _, f := range s.Filters {
		var err error
		switch f.FilterType {
		case "PRICE_FILTER":
			if pair.TickSize, err = decimal.NewFromString(f.TickSize); err != nil {
				return pair, limits, err
			}
			if limits.minPrice, err = decimal.NewFromString(f.MinPrice); err != nil {
				return pair, limits, err
			}
			if limits.maxPrice, err = decimal.NewFromString(f.MaxPrice); err != nil {
				return pair, limits, err
			}
		case "LOT_SIZE":
			if pair.StepSize, err = decimal.NewFromString(f.StepSize); err != nil {
				return pair, limits, err
			}
			if limits.minQty, err = decimal.NewFromString(f.MinQty); err != nil {
				return pair, limits, err
			}
			if limits.maxQty, err = decimal.NewFromString(f.MaxQty); err != nil {
				return pair, limits, err
			}
		case "MIN_NOTIONAL", "NOTIONAL":
			if pair.MinNotional, err = decimal.NewFromString(f.MinNotional); err != nil {
				return pair, limits, err
			}
		}
	}
	return pair, limits, nil
}

func (v *Venue) Name() string              { return "binance" }
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
	out := make([]string, 0, len(v.books))
	for s := range v.books {
		out = append(out, s)
	}
	return out
}

// Observe creates (or returns) the order book for symbol together with the
// depth feed that keeps it synchronized. The caller owns running the feed.
func (v *Venue) Observe(symbol string) (*book.OrderBook, *feed.DepthFeed, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	pair, ok := v.pairs[symbol]
	if !ok {
		return nil, nil, fmt.Errorf("binance: observe %s: %w", symbol, domain.ErrUnknownPair)
	}
	if b, ok := v.books[symbol]; ok {
		return b, nil, nil
	}

	b := book.New(symbol, pair.Asset1, pair.Asset2)
	if f, ok := v.fees[symbol]; ok {
		b.SetFees(f.maker, f.taker)
	} else {
		b.SetFees(v.defaultMakerFee, v.defaultTakerFee)
	}
	v.books[symbol] = b

	df := feed.NewDepthFeed(v.wsHost, symbol, b, v.client.Depth, v.snapshotLimit, v.logger)
	return b, df, nil
}

// ApplyFilters rounds the order onto the venue's price and lot grids and
// checks the hard limits, mirroring the venue's own rejection rules.
func (v *Venue) ApplyFilters(o *order.Order) bool {
	v.mu.Lock()
	pair, ok := v.pairs[o.Symbol()]
	limits := v.limits[o.Symbol()]
	v.mu.Unlock()
	if !ok {
		return false
	}

	price, amount := o.Price(), o.Amount()
	if pair.TickSize.IsPositive() {
		price = price.Div(pair.TickSize).Floor().Mul(pair.TickSize)
	}
	if limits.minPrice.IsPositive() && price.LessThan(limits.minPrice) {
		return false
	}
	if limits.maxPrice.IsPositive() && price.GreaterThan(limits.maxPrice) {
		return false
	}
	if pair.StepSize.IsPositive() {
		amount = amount.Div(pair.StepSize).Floor().Mul(pair.StepSize)
	}
	if limits.minQty.IsPositive() && amount.LessThan(limits.minQty) {
		return false
	}
	if limits.maxQty.IsPositive() && amount.GreaterThan(limits.maxQty) {
		return false
	}
	if pair.MinNotional.IsPositive() && price.Mul(amount).LessThan(pair.MinNotional) {
		return false
	}
	if price.IsZero() || amount.IsZero() {
		return false
	}
	o.SetPrice(price)
	o.SetAmount(amount)
	return true
}

// SubmitOrder places the order and applies the immediate FULL response. The
// user-data stream delivers any later updates; transactTime dedupes the
// overlap between the two sources.
func (v *Venue) SubmitOrder(ctx context.Context, o *order.Order) error {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(o.Symbol()))
	q.Set("side", strings.ToUpper(string(o.Side())))
	q.Set("type", restOrderType(o.Type()))
	q.Set("quantity", o.Amount().String())
	if o.Type() != domain.OrderTypeMarket {
		q.Set("price", o.Price().String())
	}
	if tif := timeInForce(o.Type()); tif != "" {
		q.Set("timeInForce", tif)
	}

	resp, err := v.client.NewOrder(ctx, q)
	if err != nil {
		return fmt.Errorf("binance: submit %s %s: %w", o.Side(), o.Symbol(), err)
	}

	id := fmt.Sprintf("%d", resp.OrderID)
	o.SetExchangeRef(id)
	v.mu.Lock()
	v.orders[id] = o
	v.lastTransact[id] = resp.TransactTime
	v.mu.Unlock()

	fills := make([]domain.Fill, 0, len(resp.Fills))
	for _, f := range resp.Fills {
		fill, err := parseFill(f.Qty, f.Price, f.Commission, f.CommissionAsset)
		if err != nil {
			return fmt.Errorf("binance: submit %s: bad fill: %w", o.Symbol(), err)
		}
		fills = append(fills, fill)
	}
	return o.Update(orderStatus(resp.Status), fills)
}

// cancelRetryDelay spaces out retries of timestamp-window cancel
// rejections; persistent clock skew then costs requests, not a spin.
const cancelRetryDelay = 250 * time.Millisecond

// CancelOrder requests cancellation, retrying timestamp-window rejections
// until the context is cancelled. The resulting CANCELED execution report
// arrives via the user stream; the local update here just settles the state
// sooner.
func (v *Venue) CancelOrder(ctx context.Context, o *order.Order) (bool, error) {
	id := o.ExchangeRef()
	if id == "" {
		return false, nil
	}
	for {
		err := v.client.CancelOrder(ctx, o.Symbol(), id)
		if err == nil {
			return true, o.Update(domain.OrderStatusCancelled, nil)
		}
		var ae *apiError
		if errors.As(err, &ae) && ae.Code == errTimestampOutOfWindow {
			select {
			case <-ctx.Done():
				return false, fmt.Errorf("binance: cancel %s: %w", o.Symbol(), ctx.Err())
			case <-time.After(cancelRetryDelay):
			}
			continue
		}
		return false, fmt.Errorf("binance: cancel %s: %w", o.Symbol(), err)
	}
}

func restOrderType(t domain.OrderType) string {
	switch t {
	case domain.OrderTypeMarket:
		return "MARKET"
	case domain.OrderTypeLimitMaker:
		return "LIMIT_MAKER"
	default:
		return "LIMIT"
	}
}

func timeInForce(t domain.OrderType) string {
	switch t {
	case domain.OrderTypeLimitIOC:
		return "IOC"
	case domain.OrderTypeMarket, domain.OrderTypeLimitMaker:
		return ""
	default:
		return "GTC"
	}
}

func orderStatus(s string) domain.OrderStatus {
	switch s {
	case "NEW":
		return domain.OrderStatusNew
	case "PARTIALLY_FILLED":
		return domain.OrderStatusPartiallyFilled
	case "FILLED":
		return domain.OrderStatusExecuted
	default: // CANCELED, REJECTED, EXPIRED
		return domain.OrderStatusCancelled
	}
}

func parseFill(qty, price, commission, commissionAsset string) (domain.Fill, error) {
	amount, err := decimal.NewFromString(qty)
	if err != nil {
		return domain.Fill{}, err
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return domain.Fill{}, err
	}
	fill := domain.Fill{Amount: amount, Price: p}
	if commission != "" {
		c, err := decimal.NewFromString(commission)
		if err != nil {
			return domain.Fill{}, err
		}
		if c.IsPositive() {
			fill.Commissions = []domain.Commission{{Asset: commissionAsset, Amount: c}}
		}
	}
	return fill, nil
}
