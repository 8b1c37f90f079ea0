package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"trading-sim-lab/internal/domain"
)

// KillSwitchRuleName is reported on rejections caused by an active kill-switch.
const KillSwitchRuleName = "kill_switch"

// Engine evaluates configured rules for one portfolio. Not safe for
// concurrent use; one engine per strategy instance.
type Engine struct {
	pre  []Rule
	post []Rule

	maxLookback int
	closes      map[string][]decimal.Decimal
	orderTimes  []int64

	peak       decimal.Decimal
	dayStart   decimal.Decimal
	lastEquity decimal.Decimal
	day        int64
	seenEquity bool

	last       []domain.RiskEvaluation
	violations []domain.RiskEvaluation
	rejections []domain.RiskRejection
	killSwitch domain.KillSwitchState
}

// NewEngine validates rules and creates an engine. Rules without a name
// are named after their kind; names must be unique.
func NewEngine(rules []Rule) (*Engine, error) {
	e := &Engine{closes: make(map[string][]decimal.Decimal)}
	names := make(map[string]struct{}, len(rules))

	for _, r := range rules {
		if r.Name == "" {
			r.Name = string(r.Kind)
		}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if _, dup := names[r.Name]; dup {
			return nil, domain.NewConfigurationError("risk."+r.Name, "duplicate rule name")
		}
		names[r.Name] = struct{}{}

		if r.Kind.Phase() == PhasePreTrade {
			e.pre = append(e.pre, r)
		} else {
			e.post = append(e.post, r)
		}
		if r.Kind == KindVolatility {
			lb := r.Lookback
			if lb == 0 {
				lb = DefaultVolatilityLookback
			}
			if lb > e.maxLookback {
				e.maxLookback = lb
			}
		}
	}
	return e, nil
}

// Rules returns the configured rules, pre-trade first.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, 0, len(e.pre)+len(e.post))
	out = append(out, e.pre...)
	return append(out, e.post...)
}

// ObserveBar records the close for volatility rules.
func (e *Engine) ObserveBar(bar *domain.Bar) {
	if e.maxLookback == 0 {
		return
	}
	closes := append(e.closes[bar.Symbol], bar.Close)
	if keep := e.maxLookback + 1; len(closes) > keep {
		closes = closes[len(closes)-keep:]
	}
	e.closes[bar.Symbol] = closes
}

// CheckPreTrade evaluates every pre-trade rule against the candidate.
// Any violation rejects the order with *domain.RiskRejection. An active
// kill-switch rejects everything. Accepted candidates count towards
// order-rate windows.
func (e *Engine) CheckPreTrade(c Candidate, p Portfolio) ([]domain.RiskEvaluation, error) {
	if e.killSwitch.Activated {
		rej := domain.RiskRejection{
			Rule:      KillSwitchRuleName,
			Symbol:    c.Symbol,
			Reason:    "kill-switch active: " + e.killSwitch.Reason,
			Timestamp: c.Timestamp,
		}
		e.rejections = append(e.rejections, rej)
		return nil, &rej
	}

	s := &State{
		Portfolio:  p,
		Candidate:  &c,
		Timestamp:  c.Timestamp,
		OrderTimes: e.orderTimes,
	}
	evals := make([]domain.RiskEvaluation, 0, len(e.pre))
	var rejection *domain.RiskRejection
	for _, r := range e.pre {
		ev := r.Evaluate(s)
		evals = append(evals, ev)
		if ev.IsViolated && rejection == nil {
			rejection = &domain.RiskRejection{
				Rule:      r.Name,
				Symbol:    c.Symbol,
				Reason:    ev.Message,
				Timestamp: c.Timestamp,
			}
		}
	}

	if rejection != nil {
		e.rejections = append(e.rejections, *rejection)
		return evals, rejection
	}
	e.orderTimes = append(e.orderTimes, c.Timestamp)
	return evals, nil
}

// CheckPostTrade runs every post-trade rule, without short-circuiting.
// It returns the evaluations in configuration order and whether this call
// activated the kill-switch.
func (e *Engine) CheckPostTrade(p Portfolio, timestamp int64) ([]domain.RiskEvaluation, bool) {
	equity := p.Equity()
	e.trackEquity(equity, timestamp)

	s := &State{
		Portfolio:      p,
		Timestamp:      timestamp,
		PeakEquity:     e.peak,
		DayStartEquity: e.dayStart,
		OrderTimes:     e.orderTimes,
		Closes:         e.closes,
	}

	evals := make([]domain.RiskEvaluation, 0, len(e.post))
	var critical domain.RiskEvaluation
	tripped := false
	for _, r := range e.post {
		ev := r.Evaluate(s)
		evals = append(evals, ev)
		if ev.IsViolated {
			e.violations = append(e.violations, ev)
			if r.Critical && !tripped {
				critical = ev
				tripped = true
			}
		}
	}
	e.last = evals

	if !tripped || e.killSwitch.Activated {
		return evals, false
	}
	e.killSwitch = domain.KillSwitchState{
		Activated:   true,
		Reason:      fmt.Sprintf("%s: %s", critical.RuleName, critical.Message),
		ActivatedAt: timestamp,
	}
	return evals, true
}

// trackEquity updates the running peak and the start-of-day equity.
// The day starts with the equity carried over from the previous day.
func (e *Engine) trackEquity(equity decimal.Decimal, timestamp int64) {
	day := domain.DayIndex(timestamp)
	if !e.seenEquity {
		e.seenEquity = true
		e.peak = equity
		e.dayStart = equity
		e.day = day
		e.lastEquity = equity
		return
	}
	if day != e.day {
		e.day = day
		e.dayStart = e.lastEquity
	}
	if equity.GreaterThan(e.peak) {
		e.peak = equity
	}
	e.lastEquity = equity
}

// SeedEquity sets the starting equity, so the first bar can already be
// measured against the initial balance.
func (e *Engine) SeedEquity(equity decimal.Decimal, timestamp int64) {
	e.seenEquity = false
	e.trackEquity(equity, timestamp)
}

// KillSwitch returns the kill-switch state.
func (e *Engine) KillSwitch() domain.KillSwitchState { return e.killSwitch }

// Reset is the explicit administrative action that clears the kill-switch
// and all run history, readying the engine for a new run.
func (e *Engine) Reset() {
	e.killSwitch = domain.KillSwitchState{}
	e.closes = make(map[string][]decimal.Decimal)
	e.orderTimes = nil
	e.peak = decimal.Zero
	e.dayStart = decimal.Zero
	e.lastEquity = decimal.Zero
	e.seenEquity = false
	e.last = nil
	e.violations = nil
	e.rejections = nil
}

// LastEvaluations returns the most recent post-trade evaluations.
func (e *Engine) LastEvaluations() []domain.RiskEvaluation {
	out := make([]domain.RiskEvaluation, len(e.last))
	copy(out, e.last)
	return out
}

// Violations returns every violated post-trade evaluation of the run.
func (e *Engine) Violations() []domain.RiskEvaluation {
	out := make([]domain.RiskEvaluation, len(e.violations))
	copy(out, e.violations)
	return out
}

// Rejections returns every pre-trade rejection of the run.
func (e *Engine) Rejections() []domain.RiskRejection {
	out := make([]domain.RiskRejection, len(e.rejections))
	copy(out, e.rejections)
	return out
}

// Status returns the risk summary served to status queries.
func (e *Engine) Status() domain.RiskStatus {
	return domain.RiskStatus{
		Evaluations: e.LastEvaluations(),
		KillSwitch:  e.killSwitch,
	}
}
