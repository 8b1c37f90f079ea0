// Package backtest runs the per-bar simulation loop: strategy, risk,
// orders, fills, ledger and snapshots for one strategy instance.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/fill"
	"trading-sim-lab/internal/observability"
	"trading-sim-lab/internal/portfolio"
	"trading-sim-lab/internal/replay"
	"trading-sim-lab/internal/risk"
	"trading-sim-lab/internal/strategy"
)

// Engine errors
var (
	ErrNotIdle       = errors.New("engine is not idle")
	ErrRunning       = errors.New("engine is running")
	ErrUnknownSymbol = errors.New("symbol not configured")
	ErrOrderNotFound = errors.New("order not found")
	ErrStrategy      = errors.New("strategy failed")
)

// DefaultLookback is the number of bars per symbol passed to the strategy.
const DefaultLookback = 50

// Cancel reasons set by the engine.
const (
	CancelReasonUser       = "cancelled by user"
	CancelReasonKillSwitch = "kill-switch"
)

// Config configures one simulation instance.
type Config struct {
	Symbols  []string
	Lookback int // 0 uses DefaultLookback
	Fill     fill.Config
	Account  portfolio.Config
	Risk     []risk.Rule
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if len(c.Symbols) == 0 {
		return domain.NewConfigurationError("symbols", "at least one symbol required")
	}
	seen := make(map[string]struct{}, len(c.Symbols))
	for _, s := range c.Symbols {
		if s == "" {
			return domain.NewConfigurationError("symbols", "empty symbol")
		}
		if _, dup := seen[s]; dup {
			return domain.NewConfigurationError("symbols", fmt.Sprintf("duplicate symbol %q", s))
		}
		seen[s] = struct{}{}
	}
	if c.Lookback < 0 {
		return domain.NewConfigurationError("lookback", "must be >= 0")
	}
	return nil
}

// Options holds optional collaborators.
type Options struct {
	Logger   *zap.Logger
	Instance string // label for logs and metrics; defaults to the strategy name

	// OnSnapshot is called after every appended snapshot, outside the
	// engine lock, on the goroutine running Run.
	OnSnapshot func(domain.PortfolioSnapshot)
}

// Summary describes how far a run got.
type Summary struct {
	State          domain.RunState
	Err            error
	BarsProcessed  int
	FirstTimestamp int64
	LastTimestamp  int64
	HaltReason     string
}

// Engine is the simulation loop for one strategy instance. It owns its
// ledger, risk engine and order book exclusively. Run processes bars
// strictly sequentially; the query methods may be called from other
// goroutines and observe state between bars.
type Engine struct {
	cfg      Config
	lookback int
	instance string
	log      *zap.Logger
	onSnap   func(domain.PortfolioSnapshot)

	strategy strategy.Strategy
	model    *fill.Model
	symbols  map[string]struct{}

	mu        sync.RWMutex
	state     domain.RunState
	runErr    error
	ledger    *portfolio.Ledger
	risk      *risk.Engine
	book      *orderBook
	history   map[string][]domain.Bar // last lookback bars per symbol
	lastSeen  map[string]int64
	snapshots []domain.PortfolioSnapshot
	nextID    int64
	bars      int
	firstTs   int64
	lastTs    int64
	halt      string
}

// NewEngine validates cfg and builds an idle engine.
func NewEngine(cfg Config, strat strategy.Strategy, opts Options) (*Engine, error) {
	if strat == nil {
		return nil, domain.NewConfigurationError("strategy", "required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	model, err := fill.NewModel(cfg.Fill)
	if err != nil {
		return nil, err
	}
	ledger, err := portfolio.NewLedger(cfg.Account)
	if err != nil {
		return nil, err
	}
	riskEngine, err := risk.NewEngine(cfg.Risk)
	if err != nil {
		return nil, err
	}

	lookback := cfg.Lookback
	if lookback == 0 {
		lookback = DefaultLookback
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	instance := opts.Instance
	if instance == "" {
		instance = strat.Name()
	}

	symbols := make(map[string]struct{}, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbols[s] = struct{}{}
	}

	return &Engine{
		cfg:      cfg,
		lookback: lookback,
		instance: instance,
		log:      log.With(zap.String("instance", instance)),
		onSnap:   opts.OnSnapshot,
		strategy: strat,
		model:    model,
		symbols:  symbols,
		state:    domain.RunStateIdle,
		ledger:   ledger,
		risk:     riskEngine,
		book:     newOrderBook(),
		history:  make(map[string][]domain.Bar),
		lastSeen: make(map[string]int64),
	}, nil
}

// Run drives the loop until the feed is exhausted (completed), the
// kill-switch fires (halted) or an error aborts the run (failed). The
// returned error is the failure cause and is nil for completed and halted
// runs. Cancelling ctx stops the run between bars.
func (e *Engine) Run(ctx context.Context, feed replay.Feed) (domain.RunState, error) {
	e.mu.Lock()
	if e.state != domain.RunStateIdle {
		state := e.state
		e.mu.Unlock()
		return state, fmt.Errorf("%w: state %s", ErrNotIdle, state)
	}
	e.state = domain.RunStateRunning
	e.mu.Unlock()

	e.log.Info("run started",
		zap.String("strategy", e.strategy.Name()),
		zap.Strings("symbols", e.cfg.Symbols),
		zap.String("fill_mode", string(e.model.Mode())),
	)

	for {
		if err := ctx.Err(); err != nil {
			return e.finish(domain.RunStateFailed, err)
		}

		bar, err := feed.Next(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrDataExhausted) {
				return e.finish(domain.RunStateCompleted, nil)
			}
			return e.finish(domain.RunStateFailed, fmt.Errorf("feed: %w", err))
		}

		e.mu.Lock()
		snaps, halted, err := e.step(ctx, bar)
		e.mu.Unlock()

		for _, s := range snaps {
			e.emit(s)
		}
		if err != nil {
			return e.finish(domain.RunStateFailed, err)
		}
		if halted {
			return e.finish(domain.RunStateHalted, nil)
		}
	}
}

func (e *Engine) finish(state domain.RunState, err error) (domain.RunState, error) {
	e.mu.Lock()
	e.state = state
	e.runErr = err
	e.book.prune()
	bars := e.bars
	e.mu.Unlock()

	fields := []zap.Field{
		zap.String("state", string(state)),
		zap.Int("bars", bars),
	}
	switch state {
	case domain.RunStateFailed:
		e.log.Error("run failed", append(fields, zap.Error(err))...)
	case domain.RunStateHalted:
		e.log.Warn("run halted", append(fields, zap.String("reason", e.halt))...)
	default:
		e.log.Info("run completed", fields...)
	}
	return state, err
}

func (e *Engine) emit(s domain.PortfolioSnapshot) {
	observability.UpdateInstanceEquity(e.instance, s.Equity.InexactFloat64())
	if e.onSnap != nil {
		e.onSnap(s)
	}
}

// step runs the full pipeline for one bar. It returns the snapshots
// appended during the bar and whether the kill-switch halted the run.
// Caller holds e.mu.
func (e *Engine) step(ctx context.Context, bar *domain.Bar) ([]domain.PortfolioSnapshot, bool, error) {
	// 1. Validate the bar before it touches any state
	if err := e.admit(bar); err != nil {
		return nil, false, err
	}

	if e.bars == 0 {
		e.firstTs = bar.Timestamp
		e.risk.SeedEquity(e.ledger.Equity(), bar.Timestamp)
	}
	e.bars++
	e.lastTs = bar.Timestamp
	e.lastSeen[bar.Symbol] = bar.Timestamp
	observability.RecordBarProcessed()

	hist := append(e.history[bar.Symbol], *bar)
	if len(hist) > e.lookback {
		hist = hist[len(hist)-e.lookback:]
	}
	e.history[bar.Symbol] = hist
	e.ledger.UpdateMark(bar.Symbol, bar.Close)
	e.risk.ObserveBar(bar)

	// 2. Resting orders first, in creation order
	for _, o := range e.book.liveFor(bar.Symbol) {
		res, err := e.model.Evaluate(o, bar)
		if err != nil {
			return nil, false, fmt.Errorf("evaluate order %d: %w", o.ID, err)
		}
		if err := e.apply(o, res); err != nil {
			return nil, false, err
		}
	}

	// 3. Strategy
	sig, err := e.strategy.OnBar(ctx, e.input(bar.Symbol))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s on %s@%d: %v", ErrStrategy, e.strategy.Name(), bar.Symbol, bar.Timestamp, err)
	}

	// 4. Signal -> risk -> order -> fill
	if sig != nil {
		if err := e.submit(sig, bar); err != nil {
			return nil, false, err
		}
	}
	e.book.prune()

	// 5. Snapshot
	snap := e.ledger.Snapshot(bar.Timestamp)
	e.snapshots = append(e.snapshots, snap)
	snaps := []domain.PortfolioSnapshot{snap}

	// 6. Post-trade risk
	evals, activated := e.risk.CheckPostTrade(e.ledger, bar.Timestamp)
	for _, ev := range evals {
		if ev.IsViolated {
			observability.RecordRiskViolation(ev.RuleName)
			e.log.Warn("risk violation",
				zap.String("rule", ev.RuleName),
				zap.Bool("critical", ev.Critical),
				zap.String("value", ev.Value.String()),
				zap.String("threshold", ev.Threshold.String()),
				zap.Int64("ts", bar.Timestamp),
			)
		}
	}
	if !activated {
		return snaps, false, nil
	}

	ks := e.risk.KillSwitch()
	e.halt = ks.Reason
	observability.RecordKillSwitch()
	e.log.Warn("kill-switch activated", zap.String("reason", ks.Reason), zap.Int64("ts", bar.Timestamp))

	if err := e.flatten(bar.Timestamp); err != nil {
		return snaps, false, err
	}
	snap = e.ledger.Snapshot(bar.Timestamp)
	e.snapshots = append(e.snapshots, snap)
	return append(snaps, snap), true, nil
}

// admit rejects malformed, unknown or out-of-order bars.
func (e *Engine) admit(bar *domain.Bar) error {
	if bar == nil {
		return &domain.MalformedBarError{Reason: "nil bar"}
	}
	if err := bar.Validate(); err != nil {
		return err
	}
	if _, ok := e.symbols[bar.Symbol]; !ok {
		return fmt.Errorf("%w: bar for %s", ErrUnknownSymbol, bar.Symbol)
	}
	if prev, ok := e.lastSeen[bar.Symbol]; ok && bar.Timestamp <= prev {
		return &domain.OutOfOrderBarError{Symbol: bar.Symbol, Previous: prev, Got: bar.Timestamp}
	}
	return nil
}

// input builds the strategy input. The window and position are copies so
// the strategy cannot mutate engine state.
func (e *Engine) input(symbol string) *strategy.Input {
	hist := e.history[symbol]
	window := make([]domain.Bar, len(hist))
	copy(window, hist)

	in := &strategy.Input{Symbol: symbol, Bars: window}
	if p, ok := e.ledger.Position(symbol); ok {
		in.Position = &p
	}
	return in
}

// submit turns a signal into an order. Invalid signals and risk
// rejections are absorbed. Signals for unconfigured symbols fail the run.
func (e *Engine) submit(sig *domain.Signal, bar *domain.Bar) error {
	if err := sig.Validate(); err != nil {
		e.log.Warn("signal ignored", zap.String("symbol", sig.Symbol), zap.Int64("ts", bar.Timestamp), zap.Error(err))
		return nil
	}
	if _, ok := e.symbols[sig.Symbol]; !ok {
		return fmt.Errorf("%w: signal for %s on bar %s@%d", ErrUnknownSymbol, sig.Symbol, bar.Symbol, bar.Timestamp)
	}
	if sig.Symbol != bar.Symbol {
		err := domain.NewConfigurationError("symbol", fmt.Sprintf("signal for %s on a %s bar", sig.Symbol, bar.Symbol))
		e.log.Warn("signal ignored", zap.String("symbol", sig.Symbol), zap.Int64("ts", bar.Timestamp), zap.Error(err))
		return nil
	}

	ref := bar.Close
	if sig.LimitPrice != nil {
		ref = *sig.LimitPrice
	}

	order := domain.NewOrder(e.nextID+1, sig, bar.Timestamp)
	if err := e.model.ValidateOrder(order, ref); err != nil {
		if !errors.Is(err, domain.ErrConfiguration) {
			return err
		}
		e.nextID++
		_ = order.Reject(err.Error())
		e.book.add(order)
		observability.RecordOrderCancelled(string(order.Status))
		e.log.Warn("order rejected", zap.Int64("order_id", order.ID), zap.String("symbol", order.Symbol), zap.Error(err))
		return nil
	}

	_, err := e.risk.CheckPreTrade(risk.Candidate{
		Symbol:    sig.Symbol,
		Side:      sig.Side,
		Quantity:  sig.Quantity,
		Price:     ref,
		Timestamp: bar.Timestamp,
	}, e.ledger)
	if err != nil {
		var rej *domain.RiskRejection
		if errors.As(err, &rej) {
			observability.RecordRiskRejection(rej.Rule)
			e.log.Info("risk rejection",
				zap.String("rule", rej.Rule),
				zap.String("symbol", rej.Symbol),
				zap.String("reason", rej.Reason),
				zap.Int64("ts", bar.Timestamp),
			)
			return nil
		}
		return err
	}

	e.nextID++
	e.book.add(order)
	observability.RecordOrderSubmitted(string(order.Type))
	e.log.Debug("order accepted",
		zap.Int64("order_id", order.ID),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.String("type", string(order.Type)),
		zap.String("quantity", order.Quantity.String()),
	)

	res, err := e.model.EvaluateOnArrival(order, bar)
	if err != nil {
		return fmt.Errorf("evaluate order %d: %w", order.ID, err)
	}
	return e.apply(order, res)
}

// apply books a fill model result: ledger first, then the order.
// A margin failure rejects a new order and cancels a partially filled one.
func (e *Engine) apply(o *domain.Order, res fill.Result) error {
	if res.Fill != nil {
		if _, err := e.ledger.ApplyFill(res.Fill); err != nil {
			if !errors.Is(err, domain.ErrInsufficientMargin) {
				return fmt.Errorf("apply fill for order %d: %w", o.ID, err)
			}
			if o.Status == domain.OrderStatusNew {
				_ = o.Reject(err.Error())
			} else {
				_ = o.Cancel(err.Error())
			}
			observability.RecordMarginRejection()
			observability.RecordOrderCancelled(string(o.Status))
			e.log.Warn("fill refused",
				zap.Int64("order_id", o.ID),
				zap.String("symbol", o.Symbol),
				zap.String("status", string(o.Status)),
				zap.Error(err),
			)
			return nil
		}
		if err := o.ApplyFill(res.Fill); err != nil {
			return fmt.Errorf("update order %d: %w", o.ID, err)
		}
		observability.RecordFill(string(res.Fill.Liquidity))
		e.log.Debug("fill",
			zap.Int64("order_id", o.ID),
			zap.String("symbol", res.Fill.Symbol),
			zap.String("side", string(res.Fill.Side)),
			zap.String("price", res.Fill.Price.String()),
			zap.String("quantity", res.Fill.Quantity.String()),
			zap.String("fee", res.Fill.Fee.String()),
		)
	}

	if res.Cancel && o.Live() {
		if err := o.Cancel(res.CancelReason); err != nil {
			return fmt.Errorf("cancel order %d: %w", o.ID, err)
		}
		observability.RecordOrderCancelled(string(o.Status))
		e.log.Debug("order cancelled", zap.Int64("order_id", o.ID), zap.String("reason", res.CancelReason))
	}
	return nil
}

// flatten cancels every live order and closes every position at its
// symbol's latest close. Fills are stamped with the halt timestamp.
func (e *Engine) flatten(ts int64) error {
	for _, o := range e.book.liveFor("") {
		if err := o.Cancel(CancelReasonKillSwitch); err != nil {
			return fmt.Errorf("cancel order %d: %w", o.ID, err)
		}
		observability.RecordOrderCancelled(string(o.Status))
	}
	e.book.prune()

	for _, p := range e.ledger.Positions() {
		hist := e.history[p.Symbol]
		if len(hist) == 0 {
			return fmt.Errorf("flatten %s: no bar to price against", p.Symbol)
		}
		last := hist[len(hist)-1]

		e.nextID++
		o := domain.NewOrder(e.nextID, &domain.Signal{
			Symbol:      p.Symbol,
			Side:        closingSide(p.Side),
			Type:        domain.OrderTypeMarket,
			Quantity:    p.Quantity,
			TimeInForce: domain.TimeInForceIOC,
		}, ts)
		o.Liquidation = true
		e.book.add(o)

		res, err := e.model.Liquidate(o, &last)
		if err != nil {
			return fmt.Errorf("liquidate %s: %w", p.Symbol, err)
		}
		if res.Fill != nil {
			res.Fill.Timestamp = ts
		}
		if err := e.apply(o, res); err != nil {
			return err
		}
		e.log.Warn("position flattened",
			zap.String("symbol", p.Symbol),
			zap.String("quantity", p.Quantity.String()),
			zap.String("status", string(o.Status)),
		)
	}
	e.book.prune()
	return nil
}

func closingSide(side domain.PositionSide) domain.Side {
	if side == domain.PositionShort {
		return domain.SideBuy
	}
	return domain.SideSell
}

// CancelOrder cancels a live order. Takes effect between bars.
func (e *Engine) CancelOrder(id int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.book.get(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	if err := o.Cancel(CancelReasonUser); err != nil {
		return err
	}
	observability.RecordOrderCancelled(string(o.Status))
	e.book.prune()
	return nil
}

// CancelAll cancels every live order for symbol, or all live orders when
// symbol is empty. Returns the number cancelled.
func (e *Engine) CancelAll(symbol string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, o := range e.book.liveFor(symbol) {
		if o.Cancel(CancelReasonUser) == nil {
			observability.RecordOrderCancelled(string(o.Status))
			n++
		}
	}
	e.book.prune()
	return n
}

// PendingOrders returns copies of live orders in creation order.
func (e *Engine) PendingOrders() []domain.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return copyOrders(e.book.liveFor(""))
}

// Orders returns copies of every order of the run in creation order.
func (e *Engine) Orders() []domain.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return copyOrders(e.book.all)
}

// State returns the run state.
func (e *Engine) State() domain.RunState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Summary returns run progress and outcome.
func (e *Engine) Summary() Summary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Summary{
		State:          e.state,
		Err:            e.runErr,
		BarsProcessed:  e.bars,
		FirstTimestamp: e.firstTs,
		LastTimestamp:  e.lastTs,
		HaltReason:     e.halt,
	}
}

// Status returns {pnl, equity, balance, positions}.
func (e *Engine) Status() domain.Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Status()
}

// Trades returns the booked trade history in order.
func (e *Engine) Trades() []domain.Trade {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Trades()
}

// Fills returns the fill sequence in booking order.
func (e *Engine) Fills() []domain.Fill {
	trades := e.Trades()
	out := make([]domain.Fill, len(trades))
	for i, t := range trades {
		out[i] = t.Fill
	}
	return out
}

// Risk returns the latest evaluations and the kill-switch state.
func (e *Engine) Risk() domain.RiskStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.risk.Status()
}

// Violations returns every post-trade violation of the run.
func (e *Engine) Violations() []domain.RiskEvaluation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.risk.Violations()
}

// Rejections returns every pre-trade rejection of the run.
func (e *Engine) Rejections() []domain.RiskRejection {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.risk.Rejections()
}

// Snapshots returns the equity curve.
func (e *Engine) Snapshots() []domain.PortfolioSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.PortfolioSnapshot, len(e.snapshots))
	copy(out, e.snapshots)
	return out
}

// InitialCash returns the starting balance.
func (e *Engine) InitialCash() decimal.Decimal {
	return e.cfg.Account.InitialCash
}

// StrategyName returns the strategy identifier.
func (e *Engine) StrategyName() string { return e.strategy.Name() }

// Instance returns the instance label.
func (e *Engine) Instance() string { return e.instance }

// ResetKillSwitch is the administrative reset of the risk engine. The run
// itself stays in its terminal state; a new engine is needed to trade again.
func (e *Engine) ResetKillSwitch() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == domain.RunStateRunning {
		return ErrRunning
	}
	e.risk.Reset()
	e.log.Info("kill-switch reset")
	return nil
}

// Compile-time interface check.
var _ risk.Portfolio = (*portfolio.Ledger)(nil)
