package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/chainbot/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
// Monetary columns are NUMERIC and cross the wire as strings so the decimal
// values survive exactly.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates an ExecutionStore over the given pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Create inserts a chain execution and its hops in one transaction.
func (s *ExecutionStore) Create(ctx context.Context, rec domain.ExecutionRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO chain_executions (id, venue, asset_in, amount_in, received_asset, received_amount, remaining_asset, remaining_amount, slippage_budget, status, started_at, completed_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6::numeric, $7, $8::numeric, $9::numeric, $10, $11, $12)`,
		rec.ID, rec.Venue, rec.AssetIn, rec.AmountIn.String(),
		rec.ReceivedAsset, rec.ReceivedAmount.String(),
		rec.RemainingAsset, rec.RemainingAmt.String(),
		rec.SlippageBudget.String(), string(rec.Status), rec.StartedAt, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert chain_execution: %w", err)
	}

	for _, hop := range rec.Hops {
		_, err = tx.Exec(ctx, `
			INSERT INTO chain_execution_hops (execution_id, symbol, side, expected_price, filled_price, amount_in, amount_out, slippage)
			VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8::numeric)`,
			rec.ID, hop.Symbol, string(hop.Side),
			hop.ExpectedPrice.String(), hop.FilledPrice.String(),
			hop.AmountIn.String(), hop.AmountOut.String(), hop.Slippage.String(),
		)
		if err != nil {
			return fmt.Errorf("postgres: insert chain_execution_hop: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// Get returns an execution with its hops.
func (s *ExecutionStore) Get(ctx context.Context, id string) (domain.ExecutionRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, venue, asset_in, amount_in::text, received_asset, received_amount::text, remaining_asset, remaining_amount::text, slippage_budget::text, status, started_at, completed_at
		FROM chain_executions WHERE id = $1`,
		id,
	)
	rec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionRecord{}, domain.ErrNotFound
		}
		return domain.ExecutionRecord{}, fmt.Errorf("postgres: get chain_execution %s: %w", id, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT symbol, side, expected_price::text, filled_price::text, amount_in::text, amount_out::text, slippage::text
		FROM chain_execution_hops WHERE execution_id = $1 ORDER BY id`,
		id,
	)
	if err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("postgres: get chain_execution_hops: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var hop domain.HopRecord
		var side, expected, filled, in, out, slip string
		if err := rows.Scan(&hop.Symbol, &side, &expected, &filled, &in, &out, &slip); err != nil {
			return domain.ExecutionRecord{}, err
		}
		hop.Side = domain.OrderSide(side)
		if err := parseDecimals(
			dec{&hop.ExpectedPrice, expected},
			dec{&hop.FilledPrice, filled},
			dec{&hop.AmountIn, in},
			dec{&hop.AmountOut, out},
			dec{&hop.Slippage, slip},
		); err != nil {
			return domain.ExecutionRecord{}, fmt.Errorf("postgres: hop for %s: %w", id, err)
		}
		rec.Hops = append(rec.Hops, hop)
	}
	if err := rows.Err(); err != nil {
		return domain.ExecutionRecord{}, err
	}
	return rec, nil
}

// List returns the most recent executions, newest first, without hops.
func (s *ExecutionStore) List(ctx context.Context, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, venue, asset_in, amount_in::text, received_asset, received_amount::text, remaining_asset, remaining_amount::text, slippage_budget::text, status, started_at, completed_at
		FROM chain_executions ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list chain_executions: %w", err)
	}
	defer rows.Close()

	var list []domain.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

// ListBefore returns all executions started strictly before the cutoff,
// oldest first, without hops. Used by the archive sweeper.
func (s *ExecutionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, venue, asset_in, amount_in::text, received_asset, received_amount::text, remaining_asset, remaining_amount::text, slippage_budget::text, status, started_at, completed_at
		FROM chain_executions WHERE started_at < $1 ORDER BY started_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list chain_executions before %s: %w", before, err)
	}
	defer rows.Close()

	var list []domain.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

type dec struct {
	dst *decimal.Decimal
	src string
}

func parseDecimals(cols ...dec) error {
	for _, c := range cols {
		d, err := decimal.NewFromString(c.src)
		if err != nil {
			return fmt.Errorf("parse numeric %q: %w", c.src, err)
		}
		*c.dst = d
	}
	return nil
}

func scanExecution(row pgx.Row) (domain.ExecutionRecord, error) {
	var rec domain.ExecutionRecord
	var amountIn, received, remaining, budget, status string
	var completedAt *time.Time
	err := row.Scan(&rec.ID, &rec.Venue, &rec.AssetIn, &amountIn,
		&rec.ReceivedAsset, &received, &rec.RemainingAsset, &remaining,
		&budget, &status, &rec.StartedAt, &completedAt)
	if err != nil {
		return domain.ExecutionRecord{}, err
	}
	rec.Status = domain.ExecutionStatus(status)
	rec.CompletedAt = completedAt
	if err := parseDecimals(
		dec{&rec.AmountIn, amountIn},
		dec{&rec.ReceivedAmount, received},
		dec{&rec.RemainingAmt, remaining},
		dec{&rec.SlippageBudget, budget},
	); err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("execution %s: %w", rec.ID, err)
	}
	return rec, nil
}
