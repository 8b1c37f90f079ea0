// Package risk evaluates a closed set of rules against portfolio state,
// gates new orders and owns the kill-switch.
package risk

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"trading-sim-lab/internal/domain"
)

// Kind identifies a rule variant.
type Kind string

// Rule kinds. Pre-trade kinds gate orders; post-trade kinds flag violations.
const (
	KindMaxPositionNotional Kind = "max_position_notional"
	KindMaxLeverage         Kind = "max_leverage"
	KindMaxOpenPositions    Kind = "max_open_positions"
	KindMaxOrdersPerWindow  Kind = "max_orders_per_window"
	KindMaxDrawdown         Kind = "max_drawdown"
	KindDailyLoss           Kind = "daily_loss"
	KindVolatility          Kind = "volatility"
)

// Phase is when a rule runs.
type Phase string

// Phases
const (
	PhasePreTrade  Phase = "pre_trade"
	PhasePostTrade Phase = "post_trade"
)

// Phase returns the phase the kind runs in, or "" for unknown kinds.
func (k Kind) Phase() Phase {
	switch k {
	case KindMaxPositionNotional, KindMaxLeverage, KindMaxOpenPositions, KindMaxOrdersPerWindow:
		return PhasePreTrade
	case KindMaxDrawdown, KindDailyLoss, KindVolatility:
		return PhasePostTrade
	}
	return ""
}

// DefaultVolatilityLookback is the number of close-to-close returns used
// when a volatility rule sets none.
const DefaultVolatilityLookback = 20

// Rule is one configured risk check.
//
// Threshold units per kind:
//   - max_position_notional: quote currency
//   - max_leverage: gross exposure / equity
//   - max_open_positions, max_orders_per_window: count
//   - max_drawdown, daily_loss, volatility: percent
type Rule struct {
	Name      string
	Kind      Kind
	Threshold decimal.Decimal
	Critical  bool
	WindowMs  int64 // max_orders_per_window
	Lookback  int   // volatility
}

// Validate checks rule parameters.
func (r Rule) Validate() error {
	field := "risk." + r.Name
	if r.Kind.Phase() == "" {
		return domain.NewConfigurationError(field, fmt.Sprintf("unknown rule kind %q", r.Kind))
	}
	if !r.Threshold.IsPositive() {
		return domain.NewConfigurationError(field, "threshold must be > 0")
	}
	if r.Kind == KindMaxOrdersPerWindow && r.WindowMs <= 0 {
		return domain.NewConfigurationError(field, "window_ms must be > 0")
	}
	if r.Lookback < 0 {
		return domain.NewConfigurationError(field, "lookback must be >= 0")
	}
	return nil
}

// Portfolio is the read-only ledger view rules evaluate against.
type Portfolio interface {
	Equity() decimal.Decimal
	GrossExposure() decimal.Decimal
	Position(symbol string) (domain.Position, bool)
	Positions() []domain.Position
	OpenPositionCount() int
	Mark(symbol string) (decimal.Decimal, bool)
}

// Candidate is an order awaiting the pre-trade check.
type Candidate struct {
	Symbol    string
	Side      domain.Side
	Quantity  decimal.Decimal
	Price     decimal.Decimal // limit price, or latest close for market orders
	Timestamp int64
}

// State is everything a rule may read.
type State struct {
	Portfolio      Portfolio
	Candidate      *Candidate // nil in post-trade checks
	Timestamp      int64
	PeakEquity     decimal.Decimal
	DayStartEquity decimal.Decimal
	OrderTimes     []int64                      // accepted order timestamps, ascending
	Closes         map[string][]decimal.Decimal // recent closes per symbol, oldest first
}

var hundred = decimal.NewFromInt(100)

// Evaluate runs the rule against state.
func (r Rule) Evaluate(s *State) domain.RiskEvaluation {
	ev := domain.RiskEvaluation{
		RuleName:  r.Name,
		Kind:      string(r.Kind),
		Critical:  r.Critical,
		Threshold: r.Threshold,
		Value:     decimal.Zero,
		Timestamp: s.Timestamp,
	}

	switch r.Kind {
	case KindMaxPositionNotional:
		r.evalPositionNotional(s, &ev)
	case KindMaxLeverage:
		r.evalLeverage(s, &ev)
	case KindMaxOpenPositions:
		r.evalOpenPositions(s, &ev)
	case KindMaxOrdersPerWindow:
		r.evalOrderRate(s, &ev)
	case KindMaxDrawdown:
		r.evalDrawdown(s, &ev)
	case KindDailyLoss:
		r.evalDailyLoss(s, &ev)
	case KindVolatility:
		r.evalVolatility(s, &ev)
	default:
		ev.IsViolated = true
		ev.Message = fmt.Sprintf("unknown rule kind %q", r.Kind)
	}
	return ev
}

// projection returns the signed position before and after the candidate fills.
func projection(s *State) (cur, next decimal.Decimal) {
	c := s.Candidate
	cur = decimal.Zero
	if p, ok := s.Portfolio.Position(c.Symbol); ok {
		cur = p.SignedQuantity()
	}
	next = cur.Add(c.Side.Sign().Mul(c.Quantity))
	return cur, next
}

func (r Rule) evalPositionNotional(s *State, ev *domain.RiskEvaluation) {
	if s.Candidate == nil {
		return
	}
	ev.Symbol = s.Candidate.Symbol
	cur, next := projection(s)
	ev.Value = next.Abs().Mul(s.Candidate.Price)
	if next.Abs().LessThanOrEqual(cur.Abs()) && next.Sign()*cur.Sign() >= 0 {
		ev.Message = "reducing order"
		return
	}
	if ev.Value.GreaterThan(r.Threshold) {
		ev.IsViolated = true
		ev.Message = fmt.Sprintf("projected notional %s exceeds %s", ev.Value.StringFixed(2), r.Threshold.String())
	}
}

func (r Rule) evalLeverage(s *State, ev *domain.RiskEvaluation) {
	if s.Candidate == nil {
		return
	}
	ev.Symbol = s.Candidate.Symbol
	cur, next := projection(s)
	if next.Abs().LessThanOrEqual(cur.Abs()) && next.Sign()*cur.Sign() >= 0 {
		ev.Message = "reducing order"
		return
	}

	curMark := s.Candidate.Price
	if m, ok := s.Portfolio.Mark(s.Candidate.Symbol); ok {
		curMark = m
	}
	gross := s.Portfolio.GrossExposure().
		Sub(cur.Abs().Mul(curMark)).
		Add(next.Abs().Mul(s.Candidate.Price))

	equity := s.Portfolio.Equity()
	if !equity.IsPositive() {
		ev.IsViolated = true
		ev.Message = "equity is not positive"
		return
	}
	ev.Value = gross.Div(equity).Round(6)
	if ev.Value.GreaterThan(r.Threshold) {
		ev.IsViolated = true
		ev.Message = fmt.Sprintf("projected leverage %s exceeds %s", ev.Value.String(), r.Threshold.String())
	}
}

func (r Rule) evalOpenPositions(s *State, ev *domain.RiskEvaluation) {
	count := s.Portfolio.OpenPositionCount()
	ev.Value = decimal.NewFromInt(int64(count))
	if s.Candidate == nil {
		return
	}
	ev.Symbol = s.Candidate.Symbol
	if _, ok := s.Portfolio.Position(s.Candidate.Symbol); ok {
		return
	}
	ev.Value = decimal.NewFromInt(int64(count + 1))
	if ev.Value.GreaterThan(r.Threshold) {
		ev.IsViolated = true
		ev.Message = fmt.Sprintf("would open position %d, limit %s", count+1, r.Threshold.String())
	}
}

func (r Rule) evalOrderRate(s *State, ev *domain.RiskEvaluation) {
	since := s.Timestamp - r.WindowMs
	n := 0
	for i := len(s.OrderTimes) - 1; i >= 0; i-- {
		if s.OrderTimes[i] <= since {
			break
		}
		n++
	}
	ev.Value = decimal.NewFromInt(int64(n))
	if s.Candidate == nil {
		return
	}
	ev.Symbol = s.Candidate.Symbol
	ev.Value = decimal.NewFromInt(int64(n + 1))
	if ev.Value.GreaterThan(r.Threshold) {
		ev.IsViolated = true
		ev.Message = fmt.Sprintf("%d orders within %dms, limit %s", n+1, r.WindowMs, r.Threshold.String())
	}
}

func (r Rule) evalDrawdown(s *State, ev *domain.RiskEvaluation) {
	if !s.PeakEquity.IsPositive() {
		return
	}
	equity := s.Portfolio.Equity()
	ev.Value = s.PeakEquity.Sub(equity).Div(s.PeakEquity).Mul(hundred).Round(6)
	if ev.Value.GreaterThan(r.Threshold) {
		ev.IsViolated = true
		ev.Message = fmt.Sprintf("drawdown %s%% from peak %s exceeds %s%%",
			ev.Value.StringFixed(2), s.PeakEquity.StringFixed(2), r.Threshold.String())
	}
}

func (r Rule) evalDailyLoss(s *State, ev *domain.RiskEvaluation) {
	if !s.DayStartEquity.IsPositive() {
		return
	}
	equity := s.Portfolio.Equity()
	ev.Value = s.DayStartEquity.Sub(equity).Div(s.DayStartEquity).Mul(hundred).Round(6)
	if ev.Value.GreaterThan(r.Threshold) {
		ev.IsViolated = true
		ev.Message = fmt.Sprintf("daily loss %s%% exceeds %s%%", ev.Value.StringFixed(2), r.Threshold.String())
	}
}

// evalVolatility sums position notional weighted by the stddev of recent
// close-to-close returns, as a percentage of equity.
func (r Rule) evalVolatility(s *State, ev *domain.RiskEvaluation) {
	lookback := r.Lookback
	if lookback == 0 {
		lookback = DefaultVolatilityLookback
	}
	equity := s.Portfolio.Equity()
	if !equity.IsPositive() {
		return
	}

	atRisk := decimal.Zero
	for _, p := range s.Portfolio.Positions() {
		closes := s.Closes[p.Symbol]
		if len(closes) > lookback+1 {
			closes = closes[len(closes)-lookback-1:]
		}
		vol := returnStddev(closes)
		mark, ok := s.Portfolio.Mark(p.Symbol)
		if !ok {
			mark = p.EntryPrice
		}
		atRisk = atRisk.Add(p.Notional(mark).Mul(vol))
	}
	ev.Value = atRisk.Div(equity).Mul(hundred).Round(6)
	if ev.Value.GreaterThan(r.Threshold) {
		ev.IsViolated = true
		ev.Message = fmt.Sprintf("volatility-weighted exposure %s%% exceeds %s%%", ev.Value.StringFixed(2), r.Threshold.String())
	}
}

// returnStddev is the population standard deviation of simple returns.
// Fewer than two returns yield zero.
func returnStddev(closes []decimal.Decimal) decimal.Decimal {
	if len(closes) < 3 {
		return decimal.Zero
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev := closes[i-1].InexactFloat64()
		returns = append(returns, closes[i].InexactFloat64()/prev-1)
	}
	var mean float64
	for _, x := range returns {
		mean += x
	}
	mean /= float64(len(returns))
	var sum float64
	for _, x := range returns {
		sum += (x - mean) * (x - mean)
	}
	return decimal.NewFromFloat(math.Sqrt(sum / float64(len(returns)))).Round(10)
}
