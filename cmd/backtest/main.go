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

	"go.uber.org/zap"

	"trading-sim-lab/internal/config"
	"trading-sim-lab/internal/logging"
	"trading-sim-lab/internal/orchestrator"
	"trading-sim-lab/internal/replay"
	"trading-sim-lab/internal/storage/backends"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "simlab.yaml", "Path to YAML configuration")
	barsCSV := flag.String("bars-csv", "", "CSV file of bars to load into the bar store before running")
	reportDir := flag.String("report-dir", "", "Override run.report_dir")
	verify := flag.Bool("verify", false, "Replay every run from the store and compare")
	outputJSON := flag.Bool("json", false, "Print run records as JSON")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *reportDir != "" {
		cfg.Run.ReportDir = *reportDir
	}
	if *verify {
		cfg.Run.Verify = true
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format == "json")
	if err != nil {
		log.Fatalf("create logger: %v", err)
	}
	defer logger.Sync()

	instances, err := cfg.SimulationInstances()
	if err != nil {
		logger.Fatal("build instances", zap.Error(err))
	}
	if len(instances) == 0 {
		logger.Fatal("no instances configured")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	stores, err := backends.Open(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("open storage", zap.Error(err))
	}
	defer stores.Close()

	if *barsCSV != "" {
		n, err := loadBars(ctx, stores, *barsCSV)
		if err != nil {
			logger.Fatal("load bars", zap.String("file", *barsCSV), zap.Error(err))
		}
		logger.Info("bars loaded", zap.String("file", *barsCSV), zap.Int("count", n))
	}

	result, err := orchestrator.New(orchestrator.Options{
		BarStore:       stores.Bars,
		RunStore:       stores.Runs,
		TradeStore:     stores.Trades,
		SnapshotStore:  stores.Snapshots,
		ViolationStore: stores.Violations,
		Instances:      instances,
		From:           cfg.Run.FromMs,
		To:             cfg.Run.ToMs,
		Concurrency:    cfg.Run.Concurrency,
		ReportDir:      cfg.Run.ReportDir,
		Verify:         cfg.Run.Verify,
		Logger:         logger,
	}).Run(ctx)
	if err != nil {
		logger.Fatal("pipeline failed", zap.Error(err))
	}

	if *outputJSON {
		records := make([]interface{}, 0, len(result.Runs))
		for _, r := range result.Runs {
			records = append(records, r.Record)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(records); err != nil {
			logger.Fatal("encode results", zap.Error(err))
		}
	} else {
		printResult(result)
	}

	if len(result.Errors) > 0 {
		os.Exit(1)
	}
}

func loadBars(ctx context.Context, stores *backends.Set, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	bars, err := replay.ReadBarsCSV(f)
	if err != nil {
		return 0, err
	}
	if err := stores.Bars.InsertBulk(ctx, bars); err != nil {
		return 0, err
	}
	return len(bars), nil
}

func printResult(result *orchestrator.RunResult) {
	fmt.Println("=== Backtest Results ===")
	fmt.Printf("Runs: %d (completed %d, halted %d, failed %d)\n",
		len(result.Runs), result.Completed, result.Halted, result.Failed)
	if len(result.MissingSymbol) > 0 {
		fmt.Printf("Symbols without bars: %v\n", result.MissingSymbol)
	}
	fmt.Println()

	for _, rp := range result.Performance {
		fmt.Printf("%-36s %-24s %-9s equity=%s return=%s%% max_dd=%s%% trades=%d\n",
			rp.Run.RunID,
			rp.Run.StrategyName,
			rp.Run.State,
			rp.Run.FinalEquity.StringFixed(2),
			rp.Performance.TotalReturnPct.StringFixed(2),
			rp.Performance.MaxDrawdownPct.StringFixed(2),
			rp.Performance.TotalTrades,
		)
	}

	if v := result.Verification; v != nil {
		fmt.Printf("\nVerification: %d/%d runs matched\n", v.MatchedRuns, v.TotalRuns)
	}
	if len(result.ReportFiles) > 0 {
		fmt.Printf("\nReports: %d files written\n", len(result.ReportFiles))
	}
	for _, e := range result.Errors {
		fmt.Printf("ERROR: %s\n", e)
	}
}
