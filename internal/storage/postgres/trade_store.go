package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

// InsertBulk adds a run's trades atomically. Fails entire batch on any duplicate.
func (s *TradeStore) InsertBulk(ctx context.Context, runID string, trades []domain.Trade) error {
	if runID == "" {
		return storage.ErrInvalidInput
	}
	if len(trades) == 0 {
		return nil
	}

	query := `
		INSERT INTO run_trades (
			run_id, seq, order_id, symbol, side,
			price, quantity, fee, timestamp_ms,
			is_partial, liquidity, realized_pnl
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12
		)
	`

	var batch pgx.Batch
	for _, t := range trades {
		batch.Queue(query,
			runID, t.Seq, t.Fill.OrderID, t.Fill.Symbol, string(t.Fill.Side),
			t.Fill.Price, t.Fill.Quantity, t.Fill.Fee, t.Fill.Timestamp,
			t.Fill.IsPartial, string(t.Fill.Liquidity), t.RealizedPnL,
		)
	}

	return s.pool.InTx(ctx, func(tx pgx.Tx) error {
		err := tx.SendBatch(ctx, &batch).Close()
		return translate(err, "insert trades", "trade", runID)
	})
}

// GetByRunID retrieves a run's trades ordered by seq.
func (s *TradeStore) GetByRunID(ctx context.Context, runID string) ([]domain.Trade, error) {
	query := `
		SELECT
			seq, order_id, symbol, side,
			price, quantity, fee, timestamp_ms,
			is_partial, liquidity, realized_pnl
		FROM run_trades
		WHERE run_id = $1
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query trades by run id: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side, liquidity string
		err := rows.Scan(
			&t.Seq, &t.Fill.OrderID, &t.Fill.Symbol, &side,
			&t.Fill.Price, &t.Fill.Quantity, &t.Fill.Fee, &t.Fill.Timestamp,
			&t.Fill.IsPartial, &liquidity, &t.RealizedPnL,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Fill.Side = domain.Side(side)
		t.Fill.Liquidity = domain.Liquidity(liquidity)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	return trades, nil
}
