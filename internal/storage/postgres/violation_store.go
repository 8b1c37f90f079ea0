package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/storage"
)

// ViolationStore implements storage.ViolationStore using PostgreSQL.
type ViolationStore struct {
	pool *Pool
}

// NewViolationStore creates a new ViolationStore.
func NewViolationStore(pool *Pool) *ViolationStore {
	return &ViolationStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ViolationStore = (*ViolationStore)(nil)

// InsertBulk stores a run's violations numbered from 1 in append order.
func (s *ViolationStore) InsertBulk(ctx context.Context, runID string, violations []domain.RiskEvaluation) error {
	if runID == "" {
		return storage.ErrInvalidInput
	}
	if len(violations) == 0 {
		return nil
	}

	query := `
		INSERT INTO run_violations (
			run_id, seq, rule_name, kind, critical,
			value, threshold, symbol, message, timestamp_ms
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10
		)
	`

	var batch pgx.Batch
	for i, v := range violations {
		batch.Queue(query,
			runID, i+1, v.RuleName, v.Kind, v.Critical,
			v.Value, v.Threshold, v.Symbol, v.Message, v.Timestamp,
		)
	}

	return s.pool.InTx(ctx, func(tx pgx.Tx) error {
		err := tx.SendBatch(ctx, &batch).Close()
		return translate(err, "insert violations", "violation", runID)
	})
}

// GetByRunID retrieves a run's violations in append order.
func (s *ViolationStore) GetByRunID(ctx context.Context, runID string) ([]domain.RiskEvaluation, error) {
	query := `
		SELECT
			rule_name, kind, critical, value, threshold,
			symbol, message, timestamp_ms
		FROM run_violations
		WHERE run_id = $1
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query violations by run id: %w", err)
	}
	defer rows.Close()

	var out []domain.RiskEvaluation
	for rows.Next() {
		v := domain.RiskEvaluation{IsViolated: true}
		err := rows.Scan(
			&v.RuleName, &v.Kind, &v.Critical, &v.Value, &v.Threshold,
			&v.Symbol, &v.Message, &v.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate violations: %w", err)
	}
	return out, nil
}
