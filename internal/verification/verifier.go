// Package verification checks that simulation runs are reproducible:
// the same bars and configuration must yield identical fills and snapshots.
package verification

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"trading-sim-lab/internal/backtest"
	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/replay"
)

// ErrNilBuild is returned when Verify is called without a build function.
var ErrNilBuild = errors.New("build function required")

// FieldDivergence represents a mismatch between expected and actual values.
type FieldDivergence struct {
	Index    int // position in the trade or snapshot sequence; -1 for run-level fields
	Field    string
	Expected interface{}
	Actual   interface{}
}

func (d FieldDivergence) String() string {
	if d.Index < 0 {
		return fmt.Sprintf("%s: expected %v, got %v", d.Field, d.Expected, d.Actual)
	}
	return fmt.Sprintf("%s[%d]: expected %v, got %v", d.Field, d.Index, d.Expected, d.Actual)
}

// VerificationResult holds the comparison of two executions of one run.
type VerificationResult struct {
	RunID               string
	Match               bool
	Divergences         []FieldDivergence
	StoredFingerprint   string
	ReplayedFingerprint string
}

// VerificationReport aggregates results across runs.
type VerificationReport struct {
	TotalRuns     int
	MatchedRuns   int
	DivergentRuns int
	Results       []VerificationResult
}

// BuildFunc returns a fresh idle engine and the feed to drive it with.
// Every call must construct new instances.
type BuildFunc func() (*backtest.Engine, replay.Feed, error)

// Verify executes build twice and compares the two runs field by field.
// The engines' own run errors are part of the comparison, not failures of
// Verify: a run that fails identically twice is still deterministic.
func Verify(ctx context.Context, build BuildFunc) (*VerificationResult, error) {
	if build == nil {
		return nil, ErrNilBuild
	}

	first, err := execute(ctx, build)
	if err != nil {
		return nil, fmt.Errorf("first run: %w", err)
	}
	second, err := execute(ctx, build)
	if err != nil {
		return nil, fmt.Errorf("second run: %w", err)
	}

	divergences := compareRecords(first.Record, second.Record)
	divergences = append(divergences, CompareTrades(first.Trades, second.Trades)...)
	divergences = append(divergences, CompareSnapshots(first.Snapshots, second.Snapshots)...)

	return &VerificationResult{
		Match:               len(divergences) == 0,
		Divergences:         divergences,
		StoredFingerprint:   first.Record.Fingerprint,
		ReplayedFingerprint: second.Record.Fingerprint,
	}, nil
}

func execute(ctx context.Context, build BuildFunc) (*backtest.Result, error) {
	engine, feed, err := build()
	if err != nil {
		return nil, err
	}
	if _, err := engine.Run(ctx, feed); err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return backtest.Collect("", engine), nil
}

// compareRecords compares the run-level outcome. Run IDs are not compared.
func compareRecords(expected, actual *domain.RunRecord) []FieldDivergence {
	var out []FieldDivergence
	if expected.State != actual.State {
		out = append(out, FieldDivergence{Index: -1, Field: "State", Expected: expected.State, Actual: actual.State})
	}
	if expected.BarsProcessed != actual.BarsProcessed {
		out = append(out, FieldDivergence{Index: -1, Field: "BarsProcessed", Expected: expected.BarsProcessed, Actual: actual.BarsProcessed})
	}
	out = appendDecimal(out, -1, "InitialCash", expected.InitialCash, actual.InitialCash)
	out = appendDecimal(out, -1, "FinalEquity", expected.FinalEquity, actual.FinalEquity)
	if expected.Fingerprint != actual.Fingerprint {
		out = append(out, FieldDivergence{Index: -1, Field: "Fingerprint", Expected: expected.Fingerprint, Actual: actual.Fingerprint})
	}
	return out
}

// CompareTrades compares two trade sequences position by position.
// Decimal fields must be exactly equal; no tolerance is applied.
func CompareTrades(expected, actual []domain.Trade) []FieldDivergence {
	var out []FieldDivergence
	if len(expected) != len(actual) {
		out = append(out, FieldDivergence{Index: -1, Field: "TradeCount", Expected: len(expected), Actual: len(actual)})
	}

	n := min(len(expected), len(actual))
	for i := 0; i < n; i++ {
		e, a := expected[i], actual[i]
		if e.Seq != a.Seq {
			out = append(out, FieldDivergence{Index: i, Field: "Seq", Expected: e.Seq, Actual: a.Seq})
		}
		if e.Fill.OrderID != a.Fill.OrderID {
			out = append(out, FieldDivergence{Index: i, Field: "OrderID", Expected: e.Fill.OrderID, Actual: a.Fill.OrderID})
		}
		if e.Fill.Symbol != a.Fill.Symbol {
			out = append(out, FieldDivergence{Index: i, Field: "Symbol", Expected: e.Fill.Symbol, Actual: a.Fill.Symbol})
		}
		if e.Fill.Side != a.Fill.Side {
			out = append(out, FieldDivergence{Index: i, Field: "Side", Expected: e.Fill.Side, Actual: a.Fill.Side})
		}
		if e.Fill.Timestamp != a.Fill.Timestamp {
			out = append(out, FieldDivergence{Index: i, Field: "Timestamp", Expected: e.Fill.Timestamp, Actual: a.Fill.Timestamp})
		}
		out = appendDecimal(out, i, "Price", e.Fill.Price, a.Fill.Price)
		out = appendDecimal(out, i, "Quantity", e.Fill.Quantity, a.Fill.Quantity)
		out = appendDecimal(out, i, "Fee", e.Fill.Fee, a.Fill.Fee)
		out = appendDecimal(out, i, "RealizedPnL", e.RealizedPnL, a.RealizedPnL)
	}
	return out
}

// CompareSnapshots compares two equity curves position by position.
func CompareSnapshots(expected, actual []domain.PortfolioSnapshot) []FieldDivergence {
	var out []FieldDivergence
	if len(expected) != len(actual) {
		out = append(out, FieldDivergence{Index: -1, Field: "SnapshotCount", Expected: len(expected), Actual: len(actual)})
	}

	n := min(len(expected), len(actual))
	for i := 0; i < n; i++ {
		e, a := expected[i], actual[i]
		if e.Timestamp != a.Timestamp {
			out = append(out, FieldDivergence{Index: i, Field: "SnapshotTimestamp", Expected: e.Timestamp, Actual: a.Timestamp})
		}
		if e.OpenPositions != a.OpenPositions {
			out = append(out, FieldDivergence{Index: i, Field: "OpenPositions", Expected: e.OpenPositions, Actual: a.OpenPositions})
		}
		out = appendDecimal(out, i, "Cash", e.Cash, a.Cash)
		out = appendDecimal(out, i, "Equity", e.Equity, a.Equity)
		out = appendDecimal(out, i, "UnrealizedPnL", e.UnrealizedPnL, a.UnrealizedPnL)
		out = appendDecimal(out, i, "RealizedPnLCumulative", e.RealizedPnLCumulative, a.RealizedPnLCumulative)
		out = appendDecimal(out, i, "FeesCumulative", e.FeesCumulative, a.FeesCumulative)
	}
	return out
}

func appendDecimal(out []FieldDivergence, idx int, field string, expected, actual decimal.Decimal) []FieldDivergence {
	if expected.Equal(actual) {
		return out
	}
	return append(out, FieldDivergence{
		Index:    idx,
		Field:    field,
		Expected: expected.String(),
		Actual:   actual.String(),
	})
}
