package reporting

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/metrics"
	"trading-sim-lab/internal/observability"
	"trading-sim-lab/internal/storage"
)

// Report file names written by WriteFiles.
const (
	TradeLogFile    = "trades.csv"
	EquityCurveFile = "equity_curve.csv"
	SummaryFile     = "report.md"
)

// Generator produces reports from stored runs.
type Generator struct {
	runStore       storage.RunStore
	tradeStore     storage.TradeStore
	snapshotStore  storage.SnapshotStore
	violationStore storage.ViolationStore
	now            func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(
	runStore storage.RunStore,
	tradeStore storage.TradeStore,
	snapshotStore storage.SnapshotStore,
	violationStore storage.ViolationStore,
) *Generator {
	return &Generator{
		runStore:       runStore,
		tradeStore:     tradeStore,
		snapshotStore:  snapshotStore,
		violationStore: violationStore,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate builds the report for one run.
func (g *Generator) Generate(ctx context.Context, runID string) (*Report, error) {
	agg := metrics.NewAggregator(g.runStore, g.tradeStore, g.snapshotStore)
	run, perf, err := agg.ComputeForRun(ctx, runID)
	if err != nil && !errors.Is(err, metrics.ErrNoSnapshots) {
		return nil, err
	}

	violations, err := g.violationStore.GetByRunID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get violations for %s: %w", runID, err)
	}

	return &Report{
		GeneratedAt:     g.now(),
		Run:             run,
		Performance:     perf,
		Violations:      violations,
		ViolationCounts: countViolations(violations),
	}, nil
}

// WriteFiles renders the trade log, equity curve and markdown summary of a
// run into dir and returns the written paths.
func (g *Generator) WriteFiles(ctx context.Context, runID, dir string) ([]string, error) {
	report, err := g.Generate(ctx, runID)
	if err != nil {
		return nil, err
	}
	trades, err := g.tradeStore.GetByRunID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get trades for %s: %w", runID, err)
	}
	snaps, err := g.snapshotStore.GetByRunID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get snapshots for %s: %w", runID, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}

	files := []struct {
		name    string
		content string
	}{
		{TradeLogFile, RenderTradeLogCSV(trades)},
		{EquityCurveFile, RenderEquityCSV(snaps)},
		{SummaryFile, RenderMarkdown(report)},
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := os.WriteFile(path, []byte(f.content), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	observability.RecordReportGenerated()
	return paths, nil
}

// countViolations groups violations by rule, sorted by rule name.
func countViolations(violations []domain.RiskEvaluation) []ViolationCountRow {
	byRule := make(map[string]*ViolationCountRow)
	for _, v := range violations {
		row, ok := byRule[v.RuleName]
		if !ok {
			row = &ViolationCountRow{Rule: v.RuleName, First: v.Timestamp}
			byRule[v.RuleName] = row
		}
		row.Count++
		row.Critical = row.Critical || v.Critical
		if v.Timestamp < row.First {
			row.First = v.Timestamp
		}
		if v.Timestamp > row.Last {
			row.Last = v.Timestamp
		}
	}

	rows := make([]ViolationCountRow, 0, len(byRule))
	for _, row := range byRule {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Rule < rows[j].Rule
	})
	return rows
}
