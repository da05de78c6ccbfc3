package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/chainbot/internal/book"
	"github.com/alanyoungcy/chainbot/internal/chain"
	"github.com/alanyoungcy/chainbot/internal/config"
	"github.com/alanyoungcy/chainbot/internal/domain"
	"github.com/alanyoungcy/chainbot/internal/feed"
	"github.com/alanyoungcy/chainbot/internal/strategy"
	"github.com/alanyoungcy/chainbot/internal/venue"
	"github.com/alanyoungcy/chainbot/internal/venue/binance"
	"github.com/alanyoungcy/chainbot/internal/venue/paper"
)

// TradeMode trades the configured chains against live Binance. It loads
// exchange metadata and the balance snapshot, subscribes a depth feed per
// chain symbol plus the user-data stream, and runs the strategy engine on top.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	v := binance.New(binance.Config{
		RestHost:      a.cfg.Binance.RestHost,
		WsHost:        a.cfg.Binance.WsHost,
		ApiKey:        a.cfg.Binance.ApiKey,
		ApiSecret:     a.cfg.Binance.ApiSecret,
		RecvWindow:    a.cfg.Binance.RecvWindow.Duration,
		SnapshotLimit: a.cfg.Binance.DepthSnapshotLimit,
		MakerFee:      decimal.NewFromFloat(a.cfg.Trading.MakerFee),
		TakerFee:      decimal.NewFromFloat(a.cfg.Trading.TakerFee),
	}, a.logger)
	if err := v.Init(ctx); err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	var books []*book.OrderBook
	for _, symbol := range chainSymbols(a.cfg.Chains) {
		b, df, err := v.Observe(symbol)
		if err != nil {
			return fmt.Errorf("trade mode: %w", err)
		}
		books = append(books, b)
		if df != nil {
			g.Go(func() error { return df.Run(ctx) })
		}
	}

	us := binance.NewUserStream(v)
	g.Go(func() error { return us.Run(ctx) })

	eng, err := a.buildEngine(v, deps)
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}
	g.Go(func() error { return eng.Run(ctx) })

	a.startPublisher(ctx, g, books, deps.BookCache)
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// PaperMode runs the same strategies against the paper venue: live Binance
// market data flows into local books, but orders fill in process against the
// book and a simulated account seeded from config.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	v := paper.New("paper", a.logger)
	for asset, amount := range a.cfg.Paper.Balances {
		v.Account().Balance(asset).SetAvailable(decimal.NewFromFloat(amount))
	}

	maker := decimal.NewFromFloat(a.cfg.Trading.MakerFee)
	taker := decimal.NewFromFloat(a.cfg.Trading.TakerFee)
	books := make(map[string]*book.OrderBook, len(a.cfg.Pairs))
	for _, p := range a.cfg.Pairs {
		b := book.New(p.Symbol, p.Asset1, p.Asset2)
		b.SetFees(maker, taker)
		v.Register(pairInfo(p), b)
		books[p.Symbol] = b
	}

	g, ctx := errgroup.WithContext(ctx)

	client := binance.NewClient(a.cfg.Binance.RestHost, nil, a.cfg.Binance.RecvWindow.Duration)
	var watched []*book.OrderBook
	for _, symbol := range chainSymbols(a.cfg.Chains) {
		b, ok := books[symbol]
		if !ok {
			return fmt.Errorf("paper mode: chain symbol %s is not declared in pairs", symbol)
		}
		watched = append(watched, b)
		df := feed.NewDepthFeed(a.cfg.Binance.WsHost, symbol, b, client.Depth,
			a.cfg.Binance.DepthSnapshotLimit, a.logger)
		g.Go(func() error { return df.Run(ctx) })
	}

	eng, err := a.buildEngine(v, deps)
	if err != nil {
		return fmt.Errorf("paper mode: %w", err)
	}
	g.Go(func() error { return eng.Run(ctx) })

	a.startPublisher(ctx, g, watched, deps.BookCache)
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// MonitorMode watches the configured pairs without trading. Books are fed
// from Binance market data and the top of each book is published to the
// cache, giving external consumers live quotes with no order flow.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	if deps.BookCache == nil {
		a.logger.Warn("monitor mode without redis enabled only logs book syncs")
	}

	g, ctx := errgroup.WithContext(ctx)

	client := binance.NewClient(a.cfg.Binance.RestHost, nil, a.cfg.Binance.RecvWindow.Duration)
	var books []*book.OrderBook
	for _, p := range a.cfg.Pairs {
		b := book.New(p.Symbol, p.Asset1, p.Asset2)
		books = append(books, b)
		df := feed.NewDepthFeed(a.cfg.Binance.WsHost, p.Symbol, b, client.Depth,
			a.cfg.Binance.DepthSnapshotLimit, a.logger)
		g.Go(func() error { return df.Run(ctx) })
	}

	a.startPublisher(ctx, g, books, deps.BookCache)

	return g.Wait()
}

// buildEngine registers one triangle strategy per configured chain and
// activates all of them.
func (a *App) buildEngine(v venue.Venue, deps *Dependencies) (*strategy.Engine, error) {
	var opts []chain.Option
	if a.cfg.Trading.AbortOnUnconstructible {
		opts = append(opts, chain.WithAbortOnUnconstructible())
	}

	registry := strategy.NewRegistry()
	for i, ch := range a.cfg.Chains {
		tri, err := strategy.NewTriangle(v, strategy.TriangleConfig{
			Symbols:           ch.Symbols,
			AssetIn:           ch.AssetIn,
			Amount:            decimal.NewFromFloat(ch.Amount),
			MinEdge:           decimal.NewFromFloat(a.cfg.Trading.MinEdge),
			SlippageTolerance: decimal.NewFromFloat(a.cfg.Trading.SlippageTolerance),
			Cooldown:          a.cfg.Trading.Cooldown.Duration,
			ChainOptions:      opts,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("chain %d: %w", i, err)
		}
		registry.Register(tri)
	}

	eng := strategy.NewEngine(registry, deps.ExecutionStore, deps.Notifier, a.logger)
	if err := eng.SetActiveNames(registry.List()); err != nil {
		return nil, err
	}
	return eng, nil
}

// startPublisher mirrors the top of every book into the cache. No-op when the
// cache is not wired.
func (a *App) startPublisher(ctx context.Context, g *errgroup.Group, books []*book.OrderBook, cache domain.BookCache) {
	if cache == nil {
		return
	}
	for _, b := range books {
		g.Go(func() error { return a.publishTop(ctx, b, cache) })
	}
}

// publishTop pushes a fresh top-of-book quote on every change of the book.
// Publish failures are logged and skipped; quotes are ephemeral and the next
// change supersedes them.
func (a *App) publishTop(ctx context.Context, b *book.OrderBook, cache domain.BookCache) error {
	sub := b.Changed().Subscribe()
	defer b.Changed().Unsubscribe(sub)

	two := decimal.NewFromInt(2)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub:
		}

		bid, okBid := b.HighestBid()
		ask, okAsk := b.LowestAsk()
		if !okBid || !okAsk {
			continue
		}
		top := domain.TopOfBook{
			Symbol:    b.Symbol(),
			BestBid:   bid,
			BestAsk:   ask,
			Mid:       bid.Add(ask).Div(two),
			Timestamp: time.Now().UTC(),
		}
		if err := cache.SetTop(ctx, top); err != nil && ctx.Err() == nil {
			a.logger.Warn("top-of-book publish failed",
				slog.String("symbol", b.Symbol()),
				slog.String("error", err.Error()))
		}
	}
}

// startArchiver runs the journal sweep when object storage is wired.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	interval := a.cfg.S3.ArchiveInterval.Duration
	retention := a.cfg.S3.ArchiveRetention.Duration
	g.Go(func() error { return deps.Archiver.Run(ctx, interval, retention) })
}

// chainSymbols returns the union of all chain symbols in first-seen order.
func chainSymbols(chains []config.ChainConfig) []string {
	seen := make(map[string]bool)
	var out []string
	for _, ch := range chains {
		for _, s := range ch.Symbols {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

func pairInfo(p config.PairConfig) domain.PairInfo {
	return domain.PairInfo{
		Symbol:      p.Symbol,
		Asset1:      p.Asset1,
		Asset2:      p.Asset2,
		TickSize:    decimal.NewFromFloat(p.TickSize),
		StepSize:    decimal.NewFromFloat(p.StepSize),
		MinNotional: decimal.NewFromFloat(p.MinNotional),
	}
}
