package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionStatus is the terminal disposition of one chain execution.
type ExecutionStatus string

const (
	ExecutionFilled  ExecutionStatus = "filled"
	ExecutionPartial ExecutionStatus = "partial"
	ExecutionStopped ExecutionStatus = "stopped"
)

// HopRecord is one order-book traversal within a recorded chain execution.
type HopRecord struct {
	Symbol        string
	Side          OrderSide
	ExpectedPrice decimal.Decimal
	FilledPrice   decimal.Decimal
	AmountIn      decimal.Decimal
	AmountOut     decimal.Decimal
	Slippage      decimal.Decimal
}

// ExecutionRecord is the journal entry for one multi-hop chain execution and
// its outcome. The core itself keeps no history; the bot journals what it did.
type ExecutionRecord struct {
	ID             string
	Venue          string
	AssetIn        string
	AmountIn       decimal.Decimal
	ReceivedAsset  string
	ReceivedAmount decimal.Decimal
	RemainingAsset string
	RemainingAmt   decimal.Decimal
	SlippageBudget decimal.Decimal
	Hops           []HopRecord
	Status         ExecutionStatus
	StartedAt      time.Time
	CompletedAt    *time.Time
}

// ExecutionStore persists chain execution records.
type ExecutionStore interface {
	Create(ctx context.Context, rec ExecutionRecord) error
	Get(ctx context.Context, id string) (ExecutionRecord, error)
	List(ctx context.Context, limit int) ([]ExecutionRecord, error)
}
