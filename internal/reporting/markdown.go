package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder
	run, p := r.Run, r.Performance

	// Header
	sb.WriteString(fmt.Sprintf("# Run Report: %s\n\n", run.RunID))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Strategy: %s | Symbols: %s | State: %s\n\n",
		run.StrategyName, strings.Join(run.Symbols, ", "), run.State))
	if run.Error != "" {
		sb.WriteString(fmt.Sprintf("**Stopped:** %s\n\n", run.Error))
	}

	// Run Summary
	sb.WriteString("## Run Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Bars Processed | %d |\n", run.BarsProcessed))
	sb.WriteString(fmt.Sprintf("| Start (ms) | %d |\n", run.StartedAt))
	sb.WriteString(fmt.Sprintf("| End (ms) | %d |\n", run.FinishedAt))
	sb.WriteString(fmt.Sprintf("| Fingerprint | `%s` |\n", run.Fingerprint))
	sb.WriteString("\n")

	// Performance
	sb.WriteString("## Performance\n\n")
	if p != nil {
		sb.WriteString("| Metric | Value |\n")
		sb.WriteString("|--------|-------|\n")
		sb.WriteString(fmt.Sprintf("| Initial Cash | %s |\n", p.InitialCash.StringFixed(2)))
		sb.WriteString(fmt.Sprintf("| Final Equity | %s |\n", p.FinalEquity.StringFixed(2)))
		sb.WriteString(fmt.Sprintf("| Total Return %% | %s |\n", p.TotalReturnPct.StringFixed(2)))
		sb.WriteString(fmt.Sprintf("| Max Drawdown %% | %s |\n", p.MaxDrawdownPct.StringFixed(2)))
		sb.WriteString(fmt.Sprintf("| Max Drawdown Duration | %s |\n", time.Duration(p.MaxDrawdownDurationMs)*time.Millisecond))
		sb.WriteString(fmt.Sprintf("| CAGR %% | %.2f |\n", p.CAGRPct))
		sb.WriteString(fmt.Sprintf("| Sharpe (per bar) | %.4f |\n", p.Sharpe))
		sb.WriteString(fmt.Sprintf("| Sortino (per bar) | %s |\n", formatRatio(p.Sortino)))
		sb.WriteString(fmt.Sprintf("| Calmar | %s |\n", formatRatio(p.Calmar)))
		sb.WriteString(fmt.Sprintf("| Realized PnL | %s |\n", p.RealizedPnL.StringFixed(2)))
		sb.WriteString(fmt.Sprintf("| Total Fees | %s |\n", p.TotalFees.StringFixed(2)))
		sb.WriteString(fmt.Sprintf("| Fills | %d |\n", p.TotalTrades))
		sb.WriteString(fmt.Sprintf("| Closing Trades | %d |\n", p.ClosingTrades))
		sb.WriteString(fmt.Sprintf("| Win Rate %% | %.2f |\n", p.WinRatePct))
		sb.WriteString(fmt.Sprintf("| Profit Factor | %s |\n", formatRatio(p.ProfitFactor)))
		sb.WriteString(fmt.Sprintf("| Median Trade PnL | %.4f |\n", p.MedianTradePnL))
		sb.WriteString(fmt.Sprintf("| Max Consecutive Losses | %d |\n", p.MaxConsecutiveLosses))
	} else {
		sb.WriteString("No performance data available.\n")
	}
	sb.WriteString("\n")

	// Risk
	sb.WriteString("## Risk Violations\n\n")
	if len(r.ViolationCounts) > 0 {
		sb.WriteString("| Rule | Critical | Count | First (ms) | Last (ms) |\n")
		sb.WriteString("|------|----------|-------|------------|-----------|\n")
		for _, v := range r.ViolationCounts {
			sb.WriteString(fmt.Sprintf("| %s | %t | %d | %d | %d |\n",
				v.Rule, v.Critical, v.Count, v.First, v.Last))
		}
	} else {
		sb.WriteString("No risk violations recorded.\n")
	}
	sb.WriteString("\n")

	if run.KillSwitchNote != "" {
		sb.WriteString("### Kill-Switch\n\n")
		sb.WriteString(fmt.Sprintf("- %s\n\n", run.KillSwitchNote))
	}

	return sb.String()
}
