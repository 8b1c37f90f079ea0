package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/storage"
)

// RunStore implements storage.RunStore using PostgreSQL.
type RunStore struct {
	pool *Pool
}

// NewRunStore creates a new RunStore.
func NewRunStore(pool *Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RunStore = (*RunStore)(nil)

const runColumns = `
	run_id, strategy_name, symbols, state, error,
	started_at, finished_at, bars_processed,
	initial_cash, final_equity, realized_pnl, total_fees,
	trade_count, fingerprint, kill_switch_note
`

// Insert adds a new run. Returns ErrDuplicateKey if run_id exists.
func (s *RunStore) Insert(ctx context.Context, r *domain.RunRecord) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO runs (` + runColumns + `) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15
		)
	`

	symbols := r.Symbols
	if symbols == nil {
		symbols = []string{}
	}

	_, err := s.pool.Exec(ctx, query,
		r.RunID, r.StrategyName, symbols, string(r.State), r.Error,
		r.StartedAt, r.FinishedAt, r.BarsProcessed,
		r.InitialCash, r.FinalEquity, r.RealizedPnL, r.TotalFees,
		r.TradeCount, r.Fingerprint, r.KillSwitchNote,
	)
	return translate(err, "insert run", "run", r.RunID)
}

// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
func (s *RunStore) GetByID(ctx context.Context, runID string) (*domain.RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE run_id = $1`

	r, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		return nil, translate(err, "get run", "run", runID)
	}
	return r, nil
}

// List returns all runs ordered by (started_at, run_id).
func (s *RunStore) List(ctx context.Context) ([]*domain.RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at ASC, run_id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (*domain.RunRecord, error) {
	var r domain.RunRecord
	var state string
	err := row.Scan(
		&r.RunID, &r.StrategyName, &r.Symbols, &state, &r.Error,
		&r.StartedAt, &r.FinishedAt, &r.BarsProcessed,
		&r.InitialCash, &r.FinalEquity, &r.RealizedPnL, &r.TotalFees,
		&r.TradeCount, &r.Fingerprint, &r.KillSwitchNote,
	)
	if err != nil {
		return nil, err
	}
	r.State = domain.RunState(state)
	return &r, nil
}
