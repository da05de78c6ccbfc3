// Package strategy hosts the decision layer. Strategies watch order books
// through coalescing change signals, simulate conversions against the local
// state, and execute through the chain layer when an opportunity clears
// their thresholds. The execution core below this package makes no decisions
// of its own.
package strategy

import (
	"context"

	"github.com/alanyoungcy/chainbot/internal/domain"
	"github.com/alanyoungcy/chainbot/internal/pubsub"
)

// Strategy is one autonomous decision maker. The engine wakes it whenever
// any of its Watch signals fires and calls Evaluate; whatever the strategy
// executed comes back as journal records.
type Strategy interface {
	Name() string
	Init(ctx context.Context) error
	// Watch returns the change signals that should wake this strategy.
	Watch() []*pubsub.Signal
	// Evaluate inspects current market state and may execute. It returns
	// a record per execution it performed, possibly none.
	Evaluate(ctx context.Context) ([]domain.ExecutionRecord, error)
	Close() error
}
