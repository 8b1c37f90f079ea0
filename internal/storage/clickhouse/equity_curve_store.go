package clickhouse

import (
	"context"
	"fmt"

	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/storage"
)

// EquityCurveStore implements storage.SnapshotStore using ClickHouse.
type EquityCurveStore struct {
	conn *Conn
}

// NewEquityCurveStore creates a new EquityCurveStore.
func NewEquityCurveStore(conn *Conn) *EquityCurveStore {
	return &EquityCurveStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*EquityCurveStore)(nil)

// InsertBulk stores a run's equity curve. A run is written once.
func (s *EquityCurveStore) InsertBulk(ctx context.Context, runID string, snapshots []domain.PortfolioSnapshot) error {
	if runID == "" {
		return storage.ErrInvalidInput
	}
	if len(snapshots) == 0 {
		return nil
	}

	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count(*) FROM equity_curve WHERE run_id = ?`, runID).Scan(&count)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if count > 0 {
		return storage.Duplicate("snapshot", runID)
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO equity_curve (
			run_id, seq, timestamp_ms,
			cash, positions_value, equity, unrealized_pnl,
			realized_pnl_cumulative, fees_cumulative, open_positions
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for i, snap := range snapshots {
		err = batch.Append(
			runID, uint32(i+1), snap.Timestamp,
			snap.Cash, snap.PositionsValue, snap.Equity, snap.UnrealizedPnL,
			snap.RealizedPnLCumulative, snap.FeesCumulative, uint32(snap.OpenPositions),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByRunID retrieves a run's snapshots in append order.
func (s *EquityCurveStore) GetByRunID(ctx context.Context, runID string) ([]domain.PortfolioSnapshot, error) {
	query := `
		SELECT
			timestamp_ms, cash, positions_value, equity, unrealized_pnl,
			realized_pnl_cumulative, fees_cumulative, open_positions
		FROM equity_curve
		WHERE run_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.conn.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query equity curve: %w", err)
	}
	defer rows.Close()

	return scanEquityCurve(rows)
}

func scanEquityCurve(rows chRows) ([]domain.PortfolioSnapshot, error) {
	var snaps []domain.PortfolioSnapshot

	for rows.Next() {
		var snap domain.PortfolioSnapshot
		var openPositions uint32
		err := rows.Scan(
			&snap.Timestamp, &snap.Cash, &snap.PositionsValue, &snap.Equity, &snap.UnrealizedPnL,
			&snap.RealizedPnLCumulative, &snap.FeesCumulative, &openPositions,
		)
		if err != nil {
			return nil, fmt.Errorf("scan equity curve row: %w", err)
		}
		snap.OpenPositions = int(openPositions)
		snaps = append(snaps, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate equity curve rows: %w", err)
	}

	return snaps, nil
}
