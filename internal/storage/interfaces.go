package storage

import (
	"context"

	"trading-sim-lab/internal/domain"
)

// BarStore provides access to OHLCV bars.
type BarStore interface {
	// InsertBulk adds multiple bars atomically. Returns ErrDuplicateKey if any
	// (symbol, timestamp) exists, including duplicates within the batch.
	InsertBulk(ctx context.Context, bars []*domain.Bar) error

	// GetByTimeRange retrieves bars for a symbol within [start, end] (inclusive),
	// ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, symbol string, start, end int64) ([]*domain.Bar, error)

	// ListSymbols returns all symbols with stored bars, sorted.
	ListSymbols(ctx context.Context) ([]string, error)
}

// RunStore provides access to finished run records.
type RunStore interface {
	// Insert adds a run record. Returns ErrDuplicateKey if run_id exists.
	Insert(ctx context.Context, r *domain.RunRecord) error

	// GetByID retrieves a run by ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, runID string) (*domain.RunRecord, error)

	// List returns all runs ordered by (started_at ASC, run_id ASC).
	List(ctx context.Context) ([]*domain.RunRecord, error)
}

// TradeStore provides access to the per-run trade log.
type TradeStore interface {
	// InsertBulk adds a run's trades atomically. Returns ErrDuplicateKey if
	// any (run_id, seq) exists.
	InsertBulk(ctx context.Context, runID string, trades []domain.Trade) error

	// GetByRunID retrieves a run's trades ordered by seq ASC.
	GetByRunID(ctx context.Context, runID string) ([]domain.Trade, error)
}

// SnapshotStore provides access to the per-run equity curve.
// Snapshots are keyed by (run_id, position in the run).
type SnapshotStore interface {
	// InsertBulk appends a run's snapshots. Returns ErrDuplicateKey if the
	// run already has snapshots.
	InsertBulk(ctx context.Context, runID string, snapshots []domain.PortfolioSnapshot) error

	// GetByRunID retrieves a run's snapshots in append order.
	GetByRunID(ctx context.Context, runID string) ([]domain.PortfolioSnapshot, error)
}

// ViolationStore provides access to the per-run risk violations log.
type ViolationStore interface {
	// InsertBulk appends a run's violations. Returns ErrDuplicateKey if the
	// run already has violations.
	InsertBulk(ctx context.Context, runID string, violations []domain.RiskEvaluation) error

	// GetByRunID retrieves a run's violations in append order.
	GetByRunID(ctx context.Context, runID string) ([]domain.RiskEvaluation, error)
}
