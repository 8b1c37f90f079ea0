// Package orchestrator provides end-to-end pipeline orchestration.
// It coordinates: bar check → simulation → metrics → reporting → verification
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"trading-sim-lab/internal/backtest"
	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/metrics"
	"trading-sim-lab/internal/replay"
	"trading-sim-lab/internal/reporting"
	"trading-sim-lab/internal/simulation"
	"trading-sim-lab/internal/storage"
	"trading-sim-lab/internal/strategy"
	"trading-sim-lab/internal/verification"
)

// Orchestrator coordinates the pipeline execution.
type Orchestrator struct {
	// Stores
	barStore       storage.BarStore
	runStore       storage.RunStore
	tradeStore     storage.TradeStore
	snapshotStore  storage.SnapshotStore
	violationStore storage.ViolationStore

	// Inputs
	instances []simulation.Instance
	from, to  int64

	// Options
	concurrency int
	reportDir   string
	verify      bool
	onSnapshot  func(string, domain.PortfolioSnapshot)
	log         *zap.Logger
}

// Options for creating Orchestrator.
type Options struct {
	// Required stores
	BarStore       storage.BarStore
	RunStore       storage.RunStore
	TradeStore     storage.TradeStore
	SnapshotStore  storage.SnapshotStore
	ViolationStore storage.ViolationStore

	// Instances run over bars in [From, To]
	Instances []simulation.Instance
	From      int64
	To        int64

	// Options
	Concurrency int    // max engines running at once, 0 = all
	ReportDir   string // per-run report directories are written here; empty skips reports
	Verify      bool   // replay every run from the store and compare
	OnSnapshot  func(instance string, snap domain.PortfolioSnapshot)
	Logger      *zap.Logger
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		barStore:       opts.BarStore,
		runStore:       opts.RunStore,
		tradeStore:     opts.TradeStore,
		snapshotStore:  opts.SnapshotStore,
		violationStore: opts.ViolationStore,
		instances:      opts.Instances,
		from:           opts.From,
		to:             opts.To,
		concurrency:    opts.Concurrency,
		reportDir:      opts.ReportDir,
		verify:         opts.Verify,
		onSnapshot:     opts.OnSnapshot,
		log:            log,
	}
}

// RunResult contains results from orchestrator execution.
type RunResult struct {
	Runs          []*backtest.Result
	Completed     int
	Halted        int
	Failed        int
	Performance   []metrics.RunPerformance // this pipeline's runs, leaderboard order
	ReportFiles   []string
	Verification  *verification.VerificationReport
	MissingSymbol []string // requested symbols without stored bars
	Errors        []string
}

// Run executes the full pipeline.
// Phases:
//  1. Check requested symbols have stored bars
//  2. Run every instance concurrently and persist the runs
//  3. Compute performance metrics
//  4. Write per-run reports
//  5. Replay and compare every run (optional)
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	result := &RunResult{}
	if len(o.instances) == 0 {
		return result, nil
	}

	// Phase 1: Bars
	o.log.Info("phase 1: checking bars")
	missing, err := o.missingSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("phase 1 (check bars) failed: %w", err)
	}
	result.MissingSymbol = missing
	if len(missing) > 0 {
		o.log.Warn("symbols without stored bars", zap.Strings("symbols", missing))
	}

	// Phase 2: Simulation
	o.log.Info("phase 2: running instances", zap.Int("instances", len(o.instances)))
	loader := replay.NewLoader(o.barStore)
	runner := simulation.NewRunner(simulation.RunnerOptions{
		Loader: loader,
		Backtest: backtest.NewRunner(loader, backtest.Stores{
			Runs:       o.runStore,
			Trades:     o.tradeStore,
			Snapshots:  o.snapshotStore,
			Violations: o.violationStore,
		}, o.log),
		Concurrency: o.concurrency,
		Logger:      o.log,
		OnSnapshot:  o.onSnapshot,
	})
	runs, err := runner.RunAll(ctx, o.instances, o.from, o.to)
	if err != nil {
		return nil, fmt.Errorf("phase 2 (simulation) failed: %w", err)
	}
	result.Runs = runs
	for _, r := range runs {
		switch r.Record.State {
		case domain.RunStateCompleted:
			result.Completed++
		case domain.RunStateHalted:
			result.Halted++
		case domain.RunStateFailed:
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("run %s failed: %s", r.Record.RunID, r.Record.Error))
		}
	}
	o.log.Info("instances finished",
		zap.Int("completed", result.Completed),
		zap.Int("halted", result.Halted),
		zap.Int("failed", result.Failed),
	)

	// Phase 3: Metrics
	o.log.Info("phase 3: computing metrics")
	perf, errs := o.runMetrics(ctx, runs)
	result.Performance = perf
	result.Errors = append(result.Errors, errs...)

	// Phase 4: Reports
	if o.reportDir != "" {
		o.log.Info("phase 4: writing reports", zap.String("dir", o.reportDir))
		files, errs := o.runReports(ctx, runs)
		result.ReportFiles = files
		result.Errors = append(result.Errors, errs...)
		if len(perf) > 0 {
			path, err := o.writeLeaderboard(perf)
			if err != nil {
				result.Errors = append(result.Errors, err.Error())
			} else {
				result.ReportFiles = append(result.ReportFiles, path)
			}
		}
	} else {
		o.log.Info("phase 4: skipping reports (no report dir)")
	}

	// Phase 5: Verification
	if o.verify {
		o.log.Info("phase 5: verifying runs")
		report, err := o.runVerification(ctx, loader, runs)
		if err != nil {
			return nil, fmt.Errorf("phase 5 (verification) failed: %w", err)
		}
		result.Verification = report
		for _, r := range report.Results {
			if !r.Match {
				result.Errors = append(result.Errors, fmt.Sprintf("run %s diverged on replay (%d fields)", r.RunID, len(r.Divergences)))
			}
		}
	}

	o.log.Info("pipeline completed",
		zap.Int("runs", len(runs)),
		zap.Int("reports", len(result.ReportFiles)),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

// missingSymbols returns requested symbols with no stored bars, in request order.
func (o *Orchestrator) missingSymbols(ctx context.Context) ([]string, error) {
	stored, err := o.barStore.ListSymbols(ctx)
	if err != nil {
		return nil, err
	}
	have := make(map[string]struct{}, len(stored))
	for _, s := range stored {
		have[s] = struct{}{}
	}

	var missing []string
	seen := make(map[string]struct{})
	for _, inst := range o.instances {
		for _, s := range inst.Config.Symbols {
			if _, ok := have[s]; ok {
				continue
			}
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			missing = append(missing, s)
		}
	}
	return missing, nil
}

// runMetrics computes performance for the pipeline's runs, leaderboard order.
func (o *Orchestrator) runMetrics(ctx context.Context, runs []*backtest.Result) ([]metrics.RunPerformance, []string) {
	aggregator := metrics.NewAggregator(o.runStore, o.tradeStore, o.snapshotStore)
	board, err := aggregator.Leaderboard(ctx)
	if err != nil {
		return nil, []string{fmt.Sprintf("leaderboard: %v", err)}
	}

	ours := make(map[string]struct{}, len(runs))
	for _, r := range runs {
		ours[r.Record.RunID] = struct{}{}
	}
	out := make([]metrics.RunPerformance, 0, len(runs))
	for _, rp := range board {
		if _, ok := ours[rp.Run.RunID]; ok {
			out = append(out, rp)
		}
	}
	return out, nil
}

// runReports writes one report directory per run.
func (o *Orchestrator) runReports(ctx context.Context, runs []*backtest.Result) ([]string, []string) {
	gen := reporting.NewGenerator(o.runStore, o.tradeStore, o.snapshotStore, o.violationStore)

	var files []string
	var errs []string
	for _, r := range runs {
		runID := r.Record.RunID
		paths, err := gen.WriteFiles(ctx, runID, filepath.Join(o.reportDir, runID))
		if err != nil {
			errs = append(errs, fmt.Sprintf("report %s: %v", runID, err))
			continue
		}
		files = append(files, paths...)
	}
	return files, errs
}

// LeaderboardFile is written to the report dir when any run has metrics.
const LeaderboardFile = "leaderboard.csv"

func (o *Orchestrator) writeLeaderboard(perf []metrics.RunPerformance) (string, error) {
	if err := os.MkdirAll(o.reportDir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(o.reportDir, LeaderboardFile)
	if err := os.WriteFile(path, []byte(reporting.RenderLeaderboardCSV(perf)), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// runVerification replays each run from the store with its instance's
// configuration and strategy.
func (o *Orchestrator) runVerification(ctx context.Context, loader *replay.Loader, runs []*backtest.Result) (*verification.VerificationReport, error) {
	byRun := make(map[string]simulation.Instance, len(runs))
	for i, r := range runs {
		byRun[r.Record.RunID] = o.instances[i]
	}

	verifier := verification.NewReplayVerifier(verification.ReplayVerifierOptions{
		RunStore:      o.runStore,
		TradeStore:    o.tradeStore,
		SnapshotStore: o.snapshotStore,
		Loader:        loader,
		Logger:        o.log,
		Resolve: func(run *domain.RunRecord) (backtest.Config, strategy.Strategy, error) {
			inst, ok := byRun[run.RunID]
			if !ok {
				return backtest.Config{}, nil, errors.New("run not produced by this pipeline")
			}
			return inst.Config, inst.Strategy, nil
		},
	})

	report := &verification.VerificationReport{TotalRuns: len(runs)}
	for _, r := range runs {
		res, err := verifier.VerifyRun(ctx, r.Record.RunID)
		if err != nil {
			return nil, err
		}
		report.Results = append(report.Results, *res)
		if res.Match {
			report.MatchedRuns++
		} else {
			report.DivergentRuns++
		}
	}
	return report, nil
}
