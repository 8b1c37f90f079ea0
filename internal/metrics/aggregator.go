package metrics

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/storage"
)

// ErrNoSnapshots is returned when a run has no equity curve to measure.
var ErrNoSnapshots = errors.New("no snapshots available for run")

// Aggregator computes performance of persisted runs.
type Aggregator struct {
	runStore      storage.RunStore
	tradeStore    storage.TradeStore
	snapshotStore storage.SnapshotStore
}

// NewAggregator creates a new metrics aggregator.
func NewAggregator(runStore storage.RunStore, tradeStore storage.TradeStore, snapshotStore storage.SnapshotStore) *Aggregator {
	return &Aggregator{
		runStore:      runStore,
		tradeStore:    tradeStore,
		snapshotStore: snapshotStore,
	}
}

// ComputeForRun loads a run with its trades and snapshots and computes its
// performance. Returns ErrNoSnapshots if the run never processed a bar.
func (a *Aggregator) ComputeForRun(ctx context.Context, runID string) (*domain.RunRecord, *Performance, error) {
	run, err := a.runStore.GetByID(ctx, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	snaps, err := a.snapshotStore.GetByRunID(ctx, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("get snapshots for %s: %w", runID, err)
	}
	if len(snaps) == 0 {
		return run, nil, ErrNoSnapshots
	}
	trades, err := a.tradeStore.GetByRunID(ctx, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("get trades for %s: %w", runID, err)
	}
	return run, Compute(snaps, trades, run.InitialCash), nil
}

// RunPerformance pairs a run with its computed performance.
type RunPerformance struct {
	Run         *domain.RunRecord
	Performance *Performance
}

// Leaderboard computes performance for every stored run with snapshots and
// sorts by total return DESC, then run_id ASC.
// Runs without snapshots are skipped.
func (a *Aggregator) Leaderboard(ctx context.Context) ([]RunPerformance, error) {
	runs, err := a.runStore.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]RunPerformance, 0, len(runs))
	for _, r := range runs {
		run, perf, err := a.ComputeForRun(ctx, r.RunID)
		if err != nil {
			if errors.Is(err, ErrNoSnapshots) {
				continue
			}
			return nil, err
		}
		out = append(out, RunPerformance{Run: run, Performance: perf})
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Performance.TotalReturnPct, out[j].Performance.TotalReturnPct
		if !ri.Equal(rj) {
			return ri.GreaterThan(rj)
		}
		return out[i].Run.RunID < out[j].Run.RunID
	})
	return out, nil
}
