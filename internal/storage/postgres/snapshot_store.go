package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *Pool
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(pool *Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// InsertBulk stores a run's equity curve. Snapshots are numbered from 1 in
// append order, so a second write for the same run hits the primary key.
func (s *SnapshotStore) InsertBulk(ctx context.Context, runID string, snapshots []domain.PortfolioSnapshot) error {
	if runID == "" {
		return storage.ErrInvalidInput
	}
	if len(snapshots) == 0 {
		return nil
	}

	query := `
		INSERT INTO run_snapshots (
			run_id, seq, timestamp_ms,
			cash, positions_value, equity, unrealized_pnl,
			realized_pnl_cumulative, fees_cumulative, open_positions
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			$8, $9, $10
		)
	`

	var batch pgx.Batch
	for i, snap := range snapshots {
		batch.Queue(query,
			runID, i+1, snap.Timestamp,
			snap.Cash, snap.PositionsValue, snap.Equity, snap.UnrealizedPnL,
			snap.RealizedPnLCumulative, snap.FeesCumulative, snap.OpenPositions,
		)
	}

	return s.pool.InTx(ctx, func(tx pgx.Tx) error {
		err := tx.SendBatch(ctx, &batch).Close()
		return translate(err, "insert snapshots", "snapshot", runID)
	})
}

// GetByRunID retrieves a run's snapshots in append order.
func (s *SnapshotStore) GetByRunID(ctx context.Context, runID string) ([]domain.PortfolioSnapshot, error) {
	query := `
		SELECT
			timestamp_ms, cash, positions_value, equity, unrealized_pnl,
			realized_pnl_cumulative, fees_cumulative, open_positions
		FROM run_snapshots
		WHERE run_id = $1
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query snapshots by run id: %w", err)
	}
	defer rows.Close()

	var snaps []domain.PortfolioSnapshot
	for rows.Next() {
		var snap domain.PortfolioSnapshot
		err := rows.Scan(
			&snap.Timestamp, &snap.Cash, &snap.PositionsValue, &snap.Equity, &snap.UnrealizedPnL,
			&snap.RealizedPnLCumulative, &snap.FeesCumulative, &snap.OpenPositions,
		)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return snaps, nil
}
