package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/chainbot/internal/book"
	"github.com/alanyoungcy/chainbot/internal/chain"
	"github.com/alanyoungcy/chainbot/internal/domain"
	"github.com/alanyoungcy/chainbot/internal/pubsub"
	"github.com/alanyoungcy/chainbot/internal/venue"
)

// TriangleConfig describes one cyclic conversion to watch: the ordered
// symbols of the cycle, the asset and amount that enter it, and the
// thresholds guarding execution.
type TriangleConfig struct {
	Symbols           []string
	AssetIn           string
	Amount            decimal.Decimal
	MinEdge           decimal.Decimal
	SlippageTolerance decimal.Decimal
	Cooldown          time.Duration
	ChainOptions      []chain.Option
}

// Triangle watches one conversion cycle on a single venue. On every book
// change it simulates pushing the configured amount around the cycle and
// executes when the round trip returns more than it consumes, net of taker
// fees and the minimum edge.
type Triangle struct {
	venue  venue.Venue
	chain  *chain.Chain
	cfg    TriangleConfig
	name   string
	logger *slog.Logger

	mu      sync.Mutex
	lastRun time.Time
}

// NewTriangle builds the strategy and its chain over the venue's books.
// Every configured symbol must already have a book registered on the venue.
func NewTriangle(v venue.Venue, cfg TriangleConfig, logger *slog.Logger) (*Triangle, error) {
	if len(cfg.Symbols) < 2 {
		return nil, fmt.Errorf("triangle: %w: need at least two symbols", domain.ErrInvalidChain)
	}
	if !cfg.Amount.IsPositive() {
		return nil, fmt.Errorf("triangle: %w: amount %s", domain.ErrNegativeAmount, cfg.Amount)
	}
	books := make([]*book.OrderBook, 0, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		b, ok := v.Book(sym)
		if !ok {
			return nil, fmt.Errorf("triangle: %w: %s", domain.ErrUnknownPair, sym)
		}
		books = append(books, b)
	}
	c, err := chain.NewWithOptions(v, logger, cfg.ChainOptions, books...)
	if err != nil {
		return nil, err
	}

	name := "triangle_" + strings.ToLower(strings.Join(cfg.Symbols, "_"))
	return &Triangle{
		venue:  v,
		chain:  c,
		cfg:    cfg,
		name:   name,
		logger: logger.With(slog.String("component", name)),
	}, nil
}

func (t *Triangle) Name() string { return t.name }

func (t *Triangle) Init(ctx context.Context) error { return nil }

func (t *Triangle) Close() error { return nil }

// Watch wakes the strategy on any change to any book in the cycle.
func (t *Triangle) Watch() []*pubsub.Signal {
	books := t.chain.Books()
	sigs := make([]*pubsub.Signal, 0, len(books))
	for _, b := range books {
		sigs = append(sigs, b.Changed())
	}
	return sigs
}

// Evaluate simulates the cycle and executes when the net edge clears the
// configured minimum. A failed or stopped execution is still journaled.
func (t *Triangle) Evaluate(ctx context.Context) ([]domain.ExecutionRecord, error) {
	if t.coolingDown() {
		return nil, nil
	}
	for _, b := range t.chain.Books() {
		if !b.Ready() {
			return nil, nil
		}
	}

	sim, err := t.chain.Simulate(t.cfg.AssetIn, t.cfg.Amount, true, false)
	if err != nil {
		if errors.Is(err, domain.ErrNoLiquidity) {
			return nil, nil
		}
		return nil, fmt.Errorf("triangle: simulate: %w", err)
	}
	if !sim.InAmount.IsPositive() {
		return nil, nil
	}

	edge := sim.ReceivedAmount.Div(sim.InAmount).
		Sub(decimal.NewFromInt(1)).
		Sub(sim.TotalTakerFee)
	if edge.LessThan(t.cfg.MinEdge) {
		return nil, nil
	}
	t.logger.Info("edge found",
		slog.String("edge", edge.String()),
		slog.String("asset_in", t.cfg.AssetIn),
		slog.String("in_amount", sim.InAmount.String()),
		slog.String("received", sim.ReceivedAmount.String()))

	// The cooldown covers failed attempts too; retrying a broken cycle
	// immediately would just burn the same funds on the same prices.
	t.stamp()

	started := time.Now().UTC()
	res, execErr := t.chain.Execute(ctx, sim.ID, t.cfg.SlippageTolerance)
	if execErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		t.logger.Warn("chain execution failed", slog.Any("error", execErr))
	}
	completed := time.Now().UTC()

	rec := domain.ExecutionRecord{
		ID:             uuid.NewString(),
		Venue:          t.venue.Name(),
		AssetIn:        t.cfg.AssetIn,
		AmountIn:       sim.InAmount,
		ReceivedAsset:  res.ReceivedAsset,
		ReceivedAmount: res.ReceivedAmount,
		RemainingAsset: res.RemainingAsset,
		RemainingAmt:   res.RemainingAmount,
		SlippageBudget: t.cfg.SlippageTolerance,
		Status:         executionStatus(res),
		StartedAt:      started,
		CompletedAt:    &completed,
	}
	for _, h := range res.Hops {
		rec.Hops = append(rec.Hops, domain.HopRecord{
			Symbol:        h.Symbol,
			Side:          h.Side,
			ExpectedPrice: h.ExpectedPrice,
			FilledPrice:   h.FilledPrice,
			AmountIn:      h.AmountIn,
			AmountOut:     h.AmountOut,
			Slippage:      h.Slippage,
		})
	}
	return []domain.ExecutionRecord{rec}, nil
}

func executionStatus(res chain.Result) domain.ExecutionStatus {
	switch {
	case res.Success && res.RemainingAmount.IsZero():
		return domain.ExecutionFilled
	case res.Success:
		return domain.ExecutionPartial
	default:
		return domain.ExecutionStopped
	}
}

func (t *Triangle) coolingDown() bool {
	if t.cfg.Cooldown <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Since(t.lastRun) < t.cfg.Cooldown
}

func (t *Triangle) stamp() {
	t.mu.Lock()
	t.lastRun = time.Now()
	t.mu.Unlock()
}
