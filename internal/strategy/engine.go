package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/chainbot/internal/domain"
	"github.com/alanyoungcy/chainbot/internal/notify"
)

// Engine runs the active strategies. Each strategy gets one goroutine that
// sleeps on the strategy's watch signals and evaluates on every wake.
// Execution records coming out of evaluations are journaled to the store and
// forwarded to the notifier; both are optional and may be nil.
type Engine struct {
	registry *Registry
	store    domain.ExecutionStore
	notifier *notify.Notifier
	logger   *slog.Logger

	mu          sync.Mutex
	activeNames []string
	recent      []domain.ExecutionRecord
	recentLimit int
}

// NewEngine creates an Engine over the registry. store and notifier may be
// nil; records are then only logged and kept in the in-memory ring.
func NewEngine(registry *Registry, store domain.ExecutionStore, notifier *notify.Notifier, logger *slog.Logger) *Engine {
	return &Engine{
		registry:    registry,
		store:       store,
		notifier:    notifier,
		logger:      logger.With(slog.String("component", "strategy_engine")),
		recentLimit: 500,
	}
}

// SetActiveNames selects which registered strategies Run will drive. All
// names must be registered.
func (e *Engine) SetActiveNames(names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("active names cannot be empty")
	}
	for _, name := range names {
		if _, err := e.registry.Get(name); err != nil {
			return fmt.Errorf("strategy %q: %w", name, err)
		}
	}
	e.mu.Lock()
	e.activeNames = names
	e.mu.Unlock()
	e.logger.Info("active strategies set", slog.Any("strategies", names))
	return nil
}

// ActiveNames returns the currently selected strategy names.
func (e *Engine) ActiveNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.activeNames))
	copy(out, e.activeNames)
	return out
}

// RecentExecutions returns up to limit most recent records, newest first.
func (e *Engine) RecentExecutions(limit int) []domain.ExecutionRecord {
	if limit <= 0 {
		limit = 20
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.recent)
	if limit > n {
		limit = n
	}
	out := make([]domain.ExecutionRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, e.recent[i])
	}
	return out
}

// Run starts one goroutine per active strategy and blocks until the context
// is cancelled or a strategy fails to initialize.
func (e *Engine) Run(ctx context.Context) error {
	names := e.ActiveNames()
	if len(names) == 0 {
		e.logger.Info("no active strategies, idling until context done")
		<-ctx.Done()
		return ctx.Err()
	}

	e.logger.Info("strategy engine started", slog.Any("strategies", names))
	defer e.logger.Info("strategy engine stopped")

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			return e.runStrategy(gctx, name)
		})
	}
	return g.Wait()
}

// runStrategy drives a single strategy: subscribe to its watch signals,
// evaluate on every wake, journal what it did.
func (e *Engine) runStrategy(ctx context.Context, name string) error {
	strat, err := e.registry.Get(name)
	if err != nil {
		return err
	}
	if err := strat.Init(ctx); err != nil {
		e.logger.Error("strategy init failed", slog.String("strategy", name), slog.Any("error", err))
		return fmt.Errorf("strategy %s init: %w", name, err)
	}
	defer func() { _ = strat.Close() }()

	wake := make(chan struct{}, 1)
	var unsubscribe []func()
	for _, sig := range strat.Watch() {
		sig := sig
		sub := sig.Subscribe()
		unsubscribe = append(unsubscribe, func() { sig.Unsubscribe(sub) })
		go forward(ctx, sub, wake)
	}
	defer func() {
		for _, u := range unsubscribe {
			u()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
			recs, err := strat.Evaluate(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				e.logger.Warn("strategy evaluation failed",
					slog.String("strategy", name), slog.Any("error", err))
				continue
			}
			for _, rec := range recs {
				e.handle(ctx, name, rec)
			}
		}
	}
}

// forward relays coalesced notifications from one subscription into the
// strategy's shared wake channel, itself coalescing.
func forward(ctx context.Context, sub <-chan struct{}, wake chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub:
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}
}

// handle journals one execution record and fans it out to the notifier.
func (e *Engine) handle(ctx context.Context, name string, rec domain.ExecutionRecord) {
	e.logger.Info("execution recorded",
		slog.String("strategy", name),
		slog.String("id", rec.ID),
		slog.String("status", string(rec.Status)),
		slog.String("asset_in", rec.AssetIn),
		slog.String("amount_in", rec.AmountIn.String()),
		slog.String("received_asset", rec.ReceivedAsset),
		slog.String("received_amount", rec.ReceivedAmount.String()))

	e.mu.Lock()
	e.recent = append(e.recent, rec)
	if overflow := len(e.recent) - e.recentLimit; overflow > 0 {
		e.recent = append([]domain.ExecutionRecord(nil), e.recent[overflow:]...)
	}
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.Create(ctx, rec); err != nil {
			e.logger.Error("journal write failed",
				slog.String("id", rec.ID), slog.Any("error", err))
		}
	}

	if e.notifier != nil {
		event := notify.EventChainExecuted
		title := "chain executed"
		if rec.Status == domain.ExecutionStopped {
			event = notify.EventChainStopped
			title = "chain stopped"
		}
		msg := fmt.Sprintf("%s: %s %s in, %s %s out (%s)",
			name, rec.AmountIn, rec.AssetIn, rec.ReceivedAmount, rec.ReceivedAsset, rec.Status)
		if err := e.notifier.Notify(ctx, event, title, msg); err != nil {
			e.logger.Warn("notification failed", slog.Any("error", err))
		}
	}
}
