// Package backends opens the stores selected by configuration.
package backends

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"trading-sim-lab/internal/config"
	"trading-sim-lab/internal/storage"
	chstore "trading-sim-lab/internal/storage/clickhouse"
	"trading-sim-lab/internal/storage/memory"
	"trading-sim-lab/internal/storage/migrations"
	"trading-sim-lab/internal/storage/parquet"
	pgstore "trading-sim-lab/internal/storage/postgres"
)

// Set holds every store a pipeline needs.
type Set struct {
	Bars       storage.BarStore
	Runs       storage.RunStore
	Trades     storage.TradeStore
	Snapshots  storage.SnapshotStore
	Violations storage.ViolationStore

	closers []func()
}

// Close releases database connections.
func (s *Set) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Open connects the configured backends and applies migrations.
// On error every connection opened so far is closed.
func Open(ctx context.Context, cfg config.Storage, log *zap.Logger) (*Set, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Set{}

	var (
		pool *pgstore.Pool
		ch   *chstore.Conn
	)
	needClickHouse := cfg.Bars == config.BackendClickHouse || cfg.EquityCurve == config.BackendClickHouse
	if needClickHouse {
		if err := chstore.EnsureDatabase(ctx, cfg.ClickHouseDSN); err != nil {
			return nil, fmt.Errorf("clickhouse: %w", err)
		}
		conn, err := chstore.NewConn(ctx, cfg.ClickHouseDSN)
		if err != nil {
			return nil, fmt.Errorf("clickhouse: %w", err)
		}
		ch = conn
		s.closers = append(s.closers, func() { conn.Close() })
		versions, err := migrations.Apply(ctx, migrations.ClickHouse, migrations.ExecFunc(
			func(ctx context.Context, stmt string) error { return conn.Exec(ctx, stmt) },
		))
		if err != nil {
			s.Close()
			return nil, err
		}
		log.Debug("clickhouse migrations applied", zap.Strings("versions", versions))
		log.Info("connected to clickhouse")
	}
	if cfg.Results == config.BackendPostgres {
		p, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		s.closers = append(s.closers, p.Close)
		versions, err := migrations.Apply(ctx, migrations.Postgres, migrations.ExecFunc(
			func(ctx context.Context, stmt string) error {
				_, err := p.Exec(ctx, stmt)
				return err
			},
		))
		if err != nil {
			s.Close()
			return nil, err
		}
		log.Debug("postgres migrations applied", zap.Strings("versions", versions))
		pool = p
		log.Info("connected to postgres")
	}

	switch cfg.Bars {
	case config.BackendClickHouse:
		s.Bars = chstore.NewBarStore(ch)
	case config.BackendParquet:
		s.Bars = parquet.NewBarStore(cfg.ParquetDir)
	default:
		s.Bars = memory.NewBarStore()
	}

	if pool != nil {
		s.Runs = pgstore.NewRunStore(pool)
		s.Trades = pgstore.NewTradeStore(pool)
		s.Snapshots = pgstore.NewSnapshotStore(pool)
		s.Violations = pgstore.NewViolationStore(pool)
	} else {
		s.Runs = memory.NewRunStore()
		s.Trades = memory.NewTradeStore()
		s.Snapshots = memory.NewSnapshotStore()
		s.Violations = memory.NewViolationStore()
	}
	if cfg.EquityCurve == config.BackendClickHouse {
		s.Snapshots = chstore.NewEquityCurveStore(ch)
	}

	log.Info("storage ready",
		zap.String("bars", cfg.Bars),
		zap.String("results", cfg.Results),
		zap.String("equity_curve", cfg.EquityCurve),
	)
	return s, nil
}
