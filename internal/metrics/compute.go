// Package metrics computes performance statistics of a finished run from
// its equity curve and trade history.
package metrics

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"trading-sim-lab/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Performance summarizes one run.
// Percentages are in percent units (5 means 5%).
type Performance struct {
	InitialCash    decimal.Decimal
	FinalEquity    decimal.Decimal
	TotalReturnPct decimal.Decimal
	MaxDrawdownPct decimal.Decimal
	TotalFees      decimal.Decimal
	RealizedPnL    decimal.Decimal

	// MaxDrawdownDurationMs is the longest stretch spent below the running
	// peak, from the first snapshot under it to the one back at it (or the
	// last snapshot when equity never recovers).
	MaxDrawdownDurationMs int64
	PeriodMs              int64 // first to last snapshot
	CAGRPct               float64
	Calmar                float64 // CAGRPct / MaxDrawdownPct; +Inf when growing without drawdown

	// Per-snapshot equity returns
	Bars         int
	MeanReturn   float64
	ReturnStddev float64
	Sharpe       float64 // mean / stddev, not annualized
	Sortino      float64 // mean / stddev of negative returns; +Inf when positive with no losing bar

	// Closing fills: trades that realized non-zero PnL
	TotalTrades          int
	ClosingTrades        int
	Wins                 int
	Losses               int
	WinRatePct           float64
	ProfitFactor         float64 // +Inf when there are wins and no losses
	GrossProfit          decimal.Decimal
	GrossLoss            decimal.Decimal // positive
	MedianTradePnL       float64
	MaxConsecutiveLosses int
}

// Compute calculates performance from snapshots (append order) and trades
// (booking order). initial is the starting cash.
func Compute(snapshots []domain.PortfolioSnapshot, trades []domain.Trade, initial decimal.Decimal) *Performance {
	p := &Performance{
		InitialCash:    initial,
		FinalEquity:    initial,
		TotalReturnPct: decimal.Zero,
		MaxDrawdownPct: decimal.Zero,
		TotalFees:      decimal.Zero,
		RealizedPnL:    decimal.Zero,
		GrossProfit:    decimal.Zero,
		GrossLoss:      decimal.Zero,
		TotalTrades:    len(trades),
		Bars:           len(snapshots),
	}

	if n := len(snapshots); n > 0 {
		last := snapshots[n-1]
		p.FinalEquity = last.Equity
		p.TotalFees = last.FeesCumulative
		p.RealizedPnL = last.RealizedPnLCumulative
	}
	if initial.IsPositive() {
		p.TotalReturnPct = p.FinalEquity.Sub(initial).Div(initial).Mul(hundred).Round(6)
	}
	p.MaxDrawdownPct, p.MaxDrawdownDurationMs = computeDrawdown(snapshots, initial)

	returns := computeReturns(snapshots, initial)
	p.MeanReturn = computeMean(returns)
	p.ReturnStddev = computeStddev(returns, p.MeanReturn)
	if p.ReturnStddev > 0 {
		p.Sharpe = p.MeanReturn / p.ReturnStddev
	}
	p.Sortino = computeSortino(returns, p.MeanReturn)

	if n := len(snapshots); n > 0 {
		p.PeriodMs = snapshots[n-1].Timestamp - snapshots[0].Timestamp
	}
	p.CAGRPct = computeCAGRPct(initial, p.FinalEquity, p.PeriodMs)
	p.Calmar = computeCalmar(p.CAGRPct, p.MaxDrawdownPct)

	computeTradeStats(p, trades)
	return p
}

// computeDrawdown returns the worst peak-to-trough fall of equity, as a
// percent of the running peak, and the longest time spent under a peak.
// The peak starts at initial.
func computeDrawdown(snapshots []domain.PortfolioSnapshot, initial decimal.Decimal) (decimal.Decimal, int64) {
	peak := initial
	worst := decimal.Zero
	var longest int64
	underSince := int64(-1)
	for _, s := range snapshots {
		if s.Equity.GreaterThanOrEqual(peak) {
			peak = s.Equity
			if underSince >= 0 {
				longest = max(longest, s.Timestamp-underSince)
				underSince = -1
			}
			continue
		}
		if underSince < 0 {
			underSince = s.Timestamp
		}
		if !peak.IsPositive() {
			continue
		}
		dd := peak.Sub(s.Equity).Div(peak).Mul(hundred)
		if dd.GreaterThan(worst) {
			worst = dd
		}
	}
	if underSince >= 0 {
		longest = max(longest, snapshots[len(snapshots)-1].Timestamp-underSince)
	}
	return worst.Round(6), longest
}

// computeSortino divides the mean return by the sample stddev of the
// negative returns.
func computeSortino(returns []float64, mean float64) float64 {
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) == 0 {
		if mean > 0 {
			return math.Inf(1)
		}
		return 0
	}
	dev := computeStddev(downside, computeMean(downside))
	if dev == 0 {
		return 0
	}
	return mean / dev
}

const msPerYear = 365.25 * 24 * 60 * 60 * 1000

// computeCAGRPct annualizes the total return over periodMs.
func computeCAGRPct(initial, final decimal.Decimal, periodMs int64) float64 {
	if periodMs <= 0 || !initial.IsPositive() {
		return 0
	}
	ratio, _ := final.Div(initial).Float64()
	if ratio <= 0 {
		return -100
	}
	years := float64(periodMs) / msPerYear
	return (math.Pow(ratio, 1/years) - 1) * 100
}

func computeCalmar(cagrPct float64, maxDrawdownPct decimal.Decimal) float64 {
	dd, _ := maxDrawdownPct.Float64()
	switch {
	case dd > 0:
		return cagrPct / dd
	case cagrPct > 0:
		return math.Inf(1)
	default:
		return 0
	}
}

// computeReturns returns simple equity returns between consecutive
// snapshots, starting from initial.
func computeReturns(snapshots []domain.PortfolioSnapshot, initial decimal.Decimal) []float64 {
	if len(snapshots) == 0 {
		return nil
	}
	out := make([]float64, 0, len(snapshots))
	prev := initial
	for _, s := range snapshots {
		if prev.IsPositive() {
			r, _ := s.Equity.Sub(prev).Div(prev).Float64()
			out = append(out, r)
		}
		prev = s.Equity
	}
	return out
}

func computeTradeStats(p *Performance, trades []domain.Trade) {
	var pnls []float64
	streak := 0
	for _, t := range trades {
		if t.RealizedPnL.IsZero() {
			continue
		}
		p.ClosingTrades++
		f, _ := t.RealizedPnL.Float64()
		pnls = append(pnls, f)

		if t.RealizedPnL.IsPositive() {
			p.Wins++
			p.GrossProfit = p.GrossProfit.Add(t.RealizedPnL)
			streak = 0
			continue
		}
		p.Losses++
		p.GrossLoss = p.GrossLoss.Add(t.RealizedPnL.Abs())
		streak++
		if streak > p.MaxConsecutiveLosses {
			p.MaxConsecutiveLosses = streak
		}
	}

	p.WinRatePct = computeWinRate(p.Wins, p.ClosingTrades) * 100
	switch {
	case p.GrossLoss.IsPositive():
		p.ProfitFactor, _ = p.GrossProfit.Div(p.GrossLoss).Float64()
	case p.GrossProfit.IsPositive():
		p.ProfitFactor = math.Inf(1)
	}

	sort.Float64s(pnls)
	p.MedianTradePnL = computePercentile(pnls, 0.50)
}

// computeWinRate calculates win rate as wins / total.
func computeWinRate(wins, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total)
}

// computeMean calculates arithmetic mean.
func computeMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// computeStddev calculates sample standard deviation (n-1 denominator).
func computeStddev(values []float64, mean float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	sumSq := 0.0
	for _, v := range values {
		diff := v - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(n-1))
}

// computePercentile uses linear interpolation.
// sorted must be pre-sorted ASC.
// p is percentile (0.10 = 10th percentile).
func computePercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}
