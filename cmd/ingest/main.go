package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"trading-sim-lab/internal/config"
	"trading-sim-lab/internal/replay"
	"trading-sim-lab/internal/storage/backends"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "simlab.yaml", "Path to YAML configuration")
	flag.Parse()

	logger := log.New(os.Stdout, "[ingest] ", log.LstdFlags)

	files := flag.Args()
	if len(files) == 0 {
		logger.Fatal("usage: ingest [--config simlab.yaml] bars.csv [more.csv ...]")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if cfg.Storage.Bars == config.BackendMemory {
		logger.Fatal("storage.bars is memory: ingested bars would be discarded on exit")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := backends.Open(ctx, cfg.Storage, nil)
	if err != nil {
		logger.Fatalf("open storage: %v", err)
	}
	defer stores.Close()

	total := 0
	for _, path := range files {
		if ctx.Err() != nil {
			logger.Printf("interrupted, %d bars ingested", total)
			return
		}
		n, err := ingestFile(ctx, stores, path)
		if err != nil {
			logger.Fatalf("%s: %v", path, err)
		}
		logger.Printf("%s: %d bars", path, n)
		total += n
	}

	symbols, err := stores.Bars.ListSymbols(ctx)
	if err != nil {
		logger.Fatalf("list symbols: %v", err)
	}
	logger.Printf("ingested %d bars into %s; stored symbols: %v", total, cfg.Storage.Bars, symbols)
}

// ingestFile inserts one CSV file as a single batch. A duplicate
// (symbol, timestamp) fails the file without writing any of it.
func ingestFile(ctx context.Context, stores *backends.Set, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	bars, err := replay.ReadBarsCSV(f)
	if err != nil {
		return 0, err
	}
	if err := replay.ValidateOrdering(bars); err != nil {
		return 0, err
	}
	if err := stores.Bars.InsertBulk(ctx, bars); err != nil {
		return 0, err
	}
	return len(bars), nil
}
