package verification

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"trading-sim-lab/internal/backtest"
	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/replay"
	"trading-sim-lab/internal/storage"
	"trading-sim-lab/internal/strategy"
)

// Replay verifier errors
var (
	ErrRunNotFound = errors.New("run not found")
	ErrNoResolver  = errors.New("config resolver required")
)

// Resolver rebuilds the configuration and strategy a stored run was made with.
type Resolver func(run *domain.RunRecord) (backtest.Config, strategy.Strategy, error)

// ReplayVerifierOptions configures a ReplayVerifier.
type ReplayVerifierOptions struct {
	RunStore      storage.RunStore
	TradeStore    storage.TradeStore
	SnapshotStore storage.SnapshotStore
	Loader        *replay.Loader
	Resolve       Resolver
	Logger        *zap.Logger
}

// ReplayVerifier re-executes persisted runs from stored bars and compares
// the result with what was persisted.
type ReplayVerifier struct {
	runStore      storage.RunStore
	tradeStore    storage.TradeStore
	snapshotStore storage.SnapshotStore
	loader        *replay.Loader
	resolve       Resolver
	log           *zap.Logger
}

// NewReplayVerifier creates a new replay verifier.
func NewReplayVerifier(opts ReplayVerifierOptions) *ReplayVerifier {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &ReplayVerifier{
		runStore:      opts.RunStore,
		tradeStore:    opts.TradeStore,
		snapshotStore: opts.SnapshotStore,
		loader:        opts.Loader,
		resolve:       opts.Resolve,
		log:           log,
	}
}

// VerifyRun replays one stored run over [StartedAt, FinishedAt] and
// compares fills, snapshots and the fingerprint.
func (v *ReplayVerifier) VerifyRun(ctx context.Context, runID string) (*VerificationResult, error) {
	if v.resolve == nil {
		return nil, ErrNoResolver
	}

	stored, err := v.runStore.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}
	trades, err := v.tradeStore.GetByRunID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}
	snaps, err := v.snapshotStore.GetByRunID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}

	replayed, err := v.replayRun(ctx, stored)
	if err != nil {
		return nil, err
	}

	divergences := compareRecords(stored, replayed.Record)
	divergences = append(divergences, CompareTrades(trades, replayed.Trades)...)
	divergences = append(divergences, CompareSnapshots(snaps, replayed.Snapshots)...)

	result := &VerificationResult{
		RunID:               runID,
		Match:               len(divergences) == 0,
		Divergences:         divergences,
		StoredFingerprint:   stored.Fingerprint,
		ReplayedFingerprint: replayed.Record.Fingerprint,
	}
	if !result.Match {
		v.log.Warn("run diverged on replay",
			zap.String("run_id", runID),
			zap.Int("divergences", len(divergences)),
			zap.String("stored", stored.Fingerprint),
			zap.String("replayed", replayed.Record.Fingerprint),
		)
	}
	return result, nil
}

// VerifyAll verifies every stored run. A run that cannot be replayed is
// recorded as divergent with the error as its only divergence.
func (v *ReplayVerifier) VerifyAll(ctx context.Context) (*VerificationReport, error) {
	runs, err := v.runStore.List(ctx)
	if err != nil {
		return nil, err
	}

	report := &VerificationReport{
		TotalRuns: len(runs),
		Results:   make([]VerificationResult, 0, len(runs)),
	}
	for _, run := range runs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := v.VerifyRun(ctx, run.RunID)
		if err != nil {
			report.Results = append(report.Results, VerificationResult{
				RunID:             run.RunID,
				StoredFingerprint: run.Fingerprint,
				Divergences: []FieldDivergence{
					{Index: -1, Field: "Error", Expected: nil, Actual: err.Error()},
				},
			})
			report.DivergentRuns++
			continue
		}

		report.Results = append(report.Results, *result)
		if result.Match {
			report.MatchedRuns++
		} else {
			report.DivergentRuns++
		}
	}
	return report, nil
}

func (v *ReplayVerifier) replayRun(ctx context.Context, stored *domain.RunRecord) (*backtest.Result, error) {
	cfg, strat, err := v.resolve(stored)
	if err != nil {
		return nil, fmt.Errorf("resolve run %s: %w", stored.RunID, err)
	}

	feed := replay.Feed(replay.NewSliceFeed(nil))
	if stored.BarsProcessed > 0 {
		feed, err = v.loader.Feed(ctx, cfg.Symbols, stored.StartedAt, stored.FinishedAt)
		if err != nil {
			return nil, fmt.Errorf("load bars: %w", err)
		}
	}

	engine, err := backtest.NewEngine(cfg, strat, backtest.Options{Logger: v.log})
	if err != nil {
		return nil, err
	}
	if _, err := engine.Run(ctx, feed); err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return backtest.Collect(stored.RunID, engine), nil
}
