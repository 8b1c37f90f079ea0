package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/idhash"
	"trading-sim-lab/internal/observability"
	"trading-sim-lab/internal/replay"
	"trading-sim-lab/internal/storage"
	"trading-sim-lab/internal/strategy"
)

// Stores groups the persistence targets of a run. Nil stores are skipped.
type Stores struct {
	Runs       storage.RunStore
	Trades     storage.TradeStore
	Snapshots  storage.SnapshotStore
	Violations storage.ViolationStore
}

// Request describes one backtest over a stored time range.
type Request struct {
	RunID    string // generated when empty
	Config   Config
	Strategy strategy.Strategy
	From     int64 // ms, inclusive
	To       int64 // ms, inclusive
	Options  Options
}

// Result is everything a finished run produced.
type Result struct {
	Record     *domain.RunRecord
	Err        error // failure cause when Record.State is failed
	Trades     []domain.Trade
	Snapshots  []domain.PortfolioSnapshot
	Violations []domain.RiskEvaluation
	Rejections []domain.RiskRejection
	Orders     []domain.Order
}

// Runner executes backtests over stored bars and persists the outcome.
type Runner struct {
	loader *replay.Loader
	stores Stores
	log    *zap.Logger
}

// NewRunner creates a new backtest runner.
func NewRunner(loader *replay.Loader, stores Stores, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		loader: loader,
		stores: stores,
		log:    log,
	}
}

// Run loads the bars, runs the engine and persists the result.
// Completed, halted and failed runs all return a Result; the error is
// reserved for problems outside the run (loading, persistence, bad config).
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	feed, err := r.loader.Feed(ctx, req.Config.Symbols, req.From, req.To)
	if err != nil {
		return nil, fmt.Errorf("load bars: %w", err)
	}
	return r.RunFeed(ctx, req, feed)
}

// RunFeed runs the engine over an arbitrary feed and persists the result.
func (r *Runner) RunFeed(ctx context.Context, req Request, feed replay.Feed) (*Result, error) {
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	opts := req.Options
	if opts.Logger == nil {
		opts.Logger = r.log
	}
	opts.Logger = opts.Logger.With(zap.String("run_id", runID))

	engine, err := NewEngine(req.Config, req.Strategy, opts)
	if err != nil {
		return nil, err
	}
	return r.Execute(ctx, runID, engine, feed)
}

// Execute runs an already built engine over feed and persists the result
// under runID. Callers use it when they need the engine before it starts.
func (r *Runner) Execute(ctx context.Context, runID string, engine *Engine, feed replay.Feed) (*Result, error) {
	started := time.Now()
	state, runErr := engine.Run(ctx, feed)
	observability.RecordRun(string(state), time.Since(started).Seconds())

	res := Collect(runID, engine)
	res.Err = runErr

	// A cancelled context must not prevent persisting what was computed
	if err := r.persist(context.WithoutCancel(ctx), res); err != nil {
		return res, err
	}
	if state != domain.RunStateFailed {
		observability.MarkRunSuccess(time.Now().Unix())
	}
	return res, nil
}

// Collect builds the run result from a finished engine.
func Collect(runID string, e *Engine) *Result {
	sum := e.Summary()
	trades := e.Trades()
	snaps := e.Snapshots()

	rec := &domain.RunRecord{
		RunID:         runID,
		StrategyName:  e.StrategyName(),
		Symbols:       append([]string(nil), e.cfg.Symbols...),
		State:         sum.State,
		StartedAt:     sum.FirstTimestamp,
		FinishedAt:    sum.LastTimestamp,
		BarsProcessed: sum.BarsProcessed,
		InitialCash:   e.InitialCash(),
		FinalEquity:   e.InitialCash(),
		TradeCount:    len(trades),
	}
	if n := len(snaps); n > 0 {
		last := snaps[n-1]
		rec.FinalEquity = last.Equity
		rec.RealizedPnL = last.RealizedPnLCumulative
		rec.TotalFees = last.FeesCumulative
	}
	if sum.Err != nil {
		rec.Error = sum.Err.Error()
	}
	if sum.State == domain.RunStateHalted {
		rec.KillSwitchNote = sum.HaltReason
		rec.Error = sum.HaltReason
	}

	fills := make([]domain.Fill, len(trades))
	for i, t := range trades {
		fills[i] = t.Fill
	}
	rec.Fingerprint = idhash.Fingerprint(fills, snaps)

	return &Result{
		Record:     rec,
		Err:        sum.Err,
		Trades:     trades,
		Snapshots:  snaps,
		Violations: e.Violations(),
		Rejections: e.Rejections(),
		Orders:     e.Orders(),
	}
}

func (r *Runner) persist(ctx context.Context, res *Result) error {
	runID := res.Record.RunID
	var errs []error

	if r.stores.Runs != nil {
		if err := timed(ctx, "insert_run", func(ctx context.Context) error {
			return r.stores.Runs.Insert(ctx, res.Record)
		}); err != nil {
			// Without the run row the child tables have nothing to reference
			return fmt.Errorf("persist run %s: %w", runID, err)
		}
	}
	if r.stores.Trades != nil {
		if err := timed(ctx, "insert_trades", func(ctx context.Context) error {
			return r.stores.Trades.InsertBulk(ctx, runID, res.Trades)
		}); err != nil {
			errs = append(errs, fmt.Errorf("persist trades: %w", err))
		}
	}
	if r.stores.Snapshots != nil {
		if err := timed(ctx, "insert_snapshots", func(ctx context.Context) error {
			return r.stores.Snapshots.InsertBulk(ctx, runID, res.Snapshots)
		}); err != nil {
			errs = append(errs, fmt.Errorf("persist snapshots: %w", err))
		}
	}
	if r.stores.Violations != nil {
		if err := timed(ctx, "insert_violations", func(ctx context.Context) error {
			return r.stores.Violations.InsertBulk(ctx, runID, res.Violations)
		}); err != nil {
			errs = append(errs, fmt.Errorf("persist violations: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("run %s: %w", runID, errors.Join(errs...))
	}
	r.log.Info("run persisted",
		zap.String("run_id", runID),
		zap.String("state", string(res.Record.State)),
		zap.Int("trades", len(res.Trades)),
		zap.Int("snapshots", len(res.Snapshots)),
		zap.String("fingerprint", res.Record.Fingerprint),
	)
	return nil
}

func timed(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	observability.RecordDBQuery("runs", op, time.Since(start).Seconds(), err)
	return err
}
