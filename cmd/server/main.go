// Package main runs configured strategy instances and serves their state:
// - Simulation: every instance replays stored bars concurrently
// - HTTP: status, trades, risk and order control per bot, Prometheus metrics
// - Websocket: live equity-curve stream
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"trading-sim-lab/internal/api"
	"trading-sim-lab/internal/backtest"
	"trading-sim-lab/internal/config"
	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/logging"
	"trading-sim-lab/internal/replay"
	"trading-sim-lab/internal/simulation"
	"trading-sim-lab/internal/storage/backends"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "simlab.yaml", "Path to YAML configuration")
	barsCSV := flag.String("bars-csv", "", "CSV file of bars to load into the bar store at startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := backends.Open(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("open storage", zap.Error(err))
	}
	defer stores.Close()

	if *barsCSV != "" {
		f, err := os.Open(*barsCSV)
		if err != nil {
			logger.Fatal("open bars", zap.Error(err))
		}
		bars, err := replay.ReadBarsCSV(f)
		f.Close()
		if err != nil {
			logger.Fatal("read bars", zap.String("file", *barsCSV), zap.Error(err))
		}
		if err := stores.Bars.InsertBulk(ctx, bars); err != nil {
			logger.Fatal("insert bars", zap.Error(err))
		}
		logger.Info("bars loaded", zap.Int("count", len(bars)))
	}

	// The runner publishes through the server, which reads bots from the runner
	var srv *api.Server
	loader := replay.NewLoader(stores.Bars)
	runner := simulation.NewRunner(simulation.RunnerOptions{
		Loader: loader,
		Backtest: backtest.NewRunner(loader, backtest.Stores{
			Runs:       stores.Runs,
			Trades:     stores.Trades,
			Snapshots:  stores.Snapshots,
			Violations: stores.Violations,
		}, logger),
		Concurrency: cfg.Run.Concurrency,
		Logger:      logger,
		OnSnapshot: func(instance string, snap domain.PortfolioSnapshot) {
			srv.Publish(instance, snap)
		},
	})
	srv = api.NewServer(runner, logger)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	if len(instances) > 0 {
		go func() {
			results, err := runner.RunAll(ctx, instances, cfg.Run.FromMs, cfg.Run.ToMs)
			if err != nil {
				logger.Error("simulation failed", zap.Error(err))
				return
			}
			for _, r := range results {
				logger.Info("instance finished",
					zap.String("run_id", r.Record.RunID),
					zap.String("state", string(r.Record.State)),
					zap.String("final_equity", r.Record.FinalEquity.String()),
				)
			}
		}()
	} else {
		logger.Warn("no instances configured")
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	srv.Hub().Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
}
