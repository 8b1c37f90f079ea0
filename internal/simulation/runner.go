// Package simulation runs several strategy instances concurrently, each with
// its own engine, ledger and risk engine, over the same stored bars.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trading-sim-lab/internal/backtest"
	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/replay"
	"trading-sim-lab/internal/strategy"
)

// Runner errors
var (
	ErrNoInstances       = errors.New("no instances to run")
	ErrDuplicateInstance = errors.New("duplicate instance name")
	ErrBotNotFound       = errors.New("bot not found")
)

// Instance is one strategy instance to simulate.
type Instance struct {
	Name     string // unique label; defaults to the strategy name
	RunID    string // generated when empty
	Config   backtest.Config
	Strategy strategy.Strategy
}

// Bot is a registered instance and its engine. The engine may be queried
// while it runs.
type Bot struct {
	Name   string
	RunID  string
	Engine *backtest.Engine
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Loader   *replay.Loader
	Backtest *backtest.Runner
	// Concurrency caps the number of engines running at once. Zero means no cap.
	Concurrency int
	Logger      *zap.Logger
	// OnSnapshot receives every snapshot of every instance.
	OnSnapshot func(instance string, snap domain.PortfolioSnapshot)
}

// Runner executes strategy instances concurrently and keeps a registry of
// the bots it started.
type Runner struct {
	loader      *replay.Loader
	backtest    *backtest.Runner
	concurrency int
	log         *zap.Logger
	onSnapshot  func(string, domain.PortfolioSnapshot)

	mu   sync.RWMutex
	bots map[string]*Bot
}

// NewRunner creates a simulation runner.
func NewRunner(opts RunnerOptions) *Runner {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	bt := opts.Backtest
	if bt == nil {
		bt = backtest.NewRunner(opts.Loader, backtest.Stores{}, log)
	}
	return &Runner{
		loader:      opts.Loader,
		backtest:    bt,
		concurrency: opts.Concurrency,
		log:         log,
		onSnapshot:  opts.OnSnapshot,
		bots:        make(map[string]*Bot),
	}
}

// RunAll runs every instance over bars in [from, to]. Engines share no
// mutable state; each gets its own feed over the loaded bars. Results are
// returned in instance order. Failed and halted runs are results, not
// errors; the error reports loading or persistence problems and cancels
// the remaining instances.
func (r *Runner) RunAll(ctx context.Context, instances []Instance, from, to int64) ([]*backtest.Result, error) {
	bots, err := r.register(instances)
	if err != nil {
		return nil, err
	}

	results := make([]*backtest.Result, len(bots))
	g, gctx := errgroup.WithContext(ctx)
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}

	for i, bot := range bots {
		i, bot := i, bot
		symbols := instances[i].Config.Symbols
		g.Go(func() error {
			feed, err := r.loader.Feed(gctx, symbols, from, to)
			if err != nil {
				return fmt.Errorf("instance %s: load bars: %w", bot.Name, err)
			}
			res, err := r.backtest.Execute(gctx, bot.RunID, bot.Engine, feed)
			if err != nil {
				return fmt.Errorf("instance %s: %w", bot.Name, err)
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}

	r.log.Info("instances finished", zap.Int("count", len(results)))
	return results, nil
}

// register validates the instances and builds one idle engine per instance.
// Nothing is registered unless every instance is valid.
func (r *Runner) register(instances []Instance) ([]*Bot, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	bots := make([]*Bot, 0, len(instances))
	seen := make(map[string]struct{}, len(instances))
	for _, inst := range instances {
		if inst.Strategy == nil {
			return nil, domain.NewConfigurationError("strategy", "required")
		}
		name := inst.Name
		if name == "" {
			name = inst.Strategy.Name()
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateInstance, name)
		}
		seen[name] = struct{}{}

		runID := inst.RunID
		if runID == "" {
			runID = uuid.NewString()
		}

		opts := backtest.Options{
			Logger:   r.log.With(zap.String("run_id", runID)),
			Instance: name,
		}
		if r.onSnapshot != nil {
			opts.OnSnapshot = func(s domain.PortfolioSnapshot) { r.onSnapshot(name, s) }
		}
		engine, err := backtest.NewEngine(inst.Config, inst.Strategy, opts)
		if err != nil {
			return nil, fmt.Errorf("instance %s: %w", name, err)
		}
		bots = append(bots, &Bot{Name: name, RunID: runID, Engine: engine})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range bots {
		if prev, ok := r.bots[b.Name]; ok && prev.Engine.State() == domain.RunStateRunning {
			return nil, fmt.Errorf("%w: %s is running", ErrDuplicateInstance, b.Name)
		}
	}
	for _, b := range bots {
		r.bots[b.Name] = b
	}
	return bots, nil
}

// Bots returns the registered bots sorted by name.
func (r *Runner) Bots() []*Bot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Bot, 0, len(r.bots))
	for _, b := range r.bots {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Bot returns a registered bot by name.
func (r *Runner) Bot(name string) (*Bot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bots[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBotNotFound, name)
	}
	return b, nil
}
