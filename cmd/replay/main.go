package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"trading-sim-lab/internal/backtest"
	"trading-sim-lab/internal/config"
	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/replay"
	"trading-sim-lab/internal/simulation"
	"trading-sim-lab/internal/storage/backends"
	"trading-sim-lab/internal/strategy"
	"trading-sim-lab/internal/verification"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "simlab.yaml", "Path to YAML configuration")
	runID := flag.String("run-id", "", "Run to verify (default: every stored run)")
	outputJSON := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	logger := log.New(os.Stderr, "[replay] ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if cfg.Storage.Results == config.BackendMemory || cfg.Storage.Bars == config.BackendMemory {
		logger.Fatal("replay needs persisted bars and results; memory storage is empty at startup")
	}
	instances, err := cfg.SimulationInstances()
	if err != nil {
		logger.Fatalf("build instances: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := backends.Open(ctx, cfg.Storage, nil)
	if err != nil {
		logger.Fatalf("open storage: %v", err)
	}
	defer stores.Close()

	verifier := verification.NewReplayVerifier(verification.ReplayVerifierOptions{
		RunStore:      stores.Runs,
		TradeStore:    stores.Trades,
		SnapshotStore: stores.Snapshots,
		Loader:        replay.NewLoader(stores.Bars),
		Resolve: func(run *domain.RunRecord) (backtest.Config, strategy.Strategy, error) {
			inst, ok := simulation.MatchInstance(instances, run)
			if !ok {
				return backtest.Config{}, nil, fmt.Errorf("no configured instance runs %s on %v", run.StrategyName, run.Symbols)
			}
			return inst.Config, inst.Strategy, nil
		},
	})

	var report *verification.VerificationReport
	if *runID != "" {
		res, err := verifier.VerifyRun(ctx, *runID)
		if err != nil {
			logger.Fatalf("verify %s: %v", *runID, err)
		}
		report = &verification.VerificationReport{TotalRuns: 1, Results: []verification.VerificationResult{*res}}
		if res.Match {
			report.MatchedRuns = 1
		} else {
			report.DivergentRuns = 1
		}
	} else {
		report, err = verifier.VerifyAll(ctx)
		if err != nil {
			logger.Fatalf("verify runs: %v", err)
		}
	}

	if *outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			logger.Fatalf("encode report: %v", err)
		}
	} else {
		fmt.Printf("Verified %d runs: %d matched, %d diverged\n", report.TotalRuns, report.MatchedRuns, report.DivergentRuns)
		for _, r := range report.Results {
			if r.Match {
				continue
			}
			fmt.Printf("\n%s:\n", r.RunID)
			for _, d := range r.Divergences {
				fmt.Printf("  %s\n", d.String())
			}
		}
	}

	if report.DivergentRuns > 0 {
		os.Exit(1)
	}
}
