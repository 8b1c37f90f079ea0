package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"trading-sim-lab/internal/config"
	"trading-sim-lab/internal/metrics"
	"trading-sim-lab/internal/reporting"
	"trading-sim-lab/internal/storage/backends"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "simlab.yaml", "Path to YAML configuration")
	runID := flag.String("run-id", "", "Run to report on (default: every stored run)")
	outputDir := flag.String("output-dir", "reports", "Output directory for generated files")
	flag.Parse()

	logger := log.New(os.Stderr, "[report] ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if cfg.Storage.Results == config.BackendMemory {
		logger.Fatal("storage.results is memory: no persisted runs to report on")
	}

	ctx := context.Background()
	stores, err := backends.Open(ctx, cfg.Storage, nil)
	if err != nil {
		logger.Fatalf("open storage: %v", err)
	}
	defer stores.Close()

	runIDs := []string{*runID}
	if *runID == "" {
		runs, err := stores.Runs.List(ctx)
		if err != nil {
			logger.Fatalf("list runs: %v", err)
		}
		runIDs = runIDs[:0]
		for _, r := range runs {
			runIDs = append(runIDs, r.RunID)
		}
	}
	if len(runIDs) == 0 {
		logger.Println("no runs stored")
		return
	}

	gen := reporting.NewGenerator(stores.Runs, stores.Trades, stores.Snapshots, stores.Violations)
	failed := 0
	for _, id := range runIDs {
		paths, err := gen.WriteFiles(ctx, id, filepath.Join(*outputDir, id))
		if err != nil {
			logger.Printf("run %s: %v", id, err)
			failed++
			continue
		}
		for _, p := range paths {
			fmt.Printf("  - %s\n", p)
		}
	}

	if *runID == "" {
		board, err := metrics.NewAggregator(stores.Runs, stores.Trades, stores.Snapshots).Leaderboard(ctx)
		if err != nil {
			logger.Fatalf("leaderboard: %v", err)
		}
		if err := os.MkdirAll(*outputDir, 0o755); err != nil {
			logger.Fatalf("create output dir: %v", err)
		}
		path := filepath.Join(*outputDir, "leaderboard.csv")
		if err := os.WriteFile(path, []byte(reporting.RenderLeaderboardCSV(board)), 0o644); err != nil {
			logger.Fatalf("write leaderboard: %v", err)
		}
		fmt.Printf("  - %s\n", path)
	}

	if failed > 0 {
		logger.Fatalf("%d of %d reports failed", failed, len(runIDs))
	}
	logger.Printf("generated reports for %d runs", len(runIDs))
}
