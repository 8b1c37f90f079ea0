package reporting

import (
	"fmt"
	"math"
	"strings"

	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/metrics"
)

// RenderTradeLogCSV renders the trade log in booking order.
func RenderTradeLogCSV(trades []domain.Trade) string {
	var sb strings.Builder

	sb.WriteString("timestamp,symbol,side,price,quantity,fee,realized_pnl\n")

	for _, t := range trades {
		row := domain.TradeLogRowFrom(t)
		sb.WriteString(fmt.Sprintf("%d,%s,%s,%s,%s,%s,%s\n",
			row.Timestamp,
			row.Symbol,
			row.Side,
			row.Price.String(),
			row.Quantity.String(),
			row.Fee.String(),
			row.RealizedPnL.String(),
		))
	}

	return sb.String()
}

// RenderEquityCSV renders the equity curve in append order.
func RenderEquityCSV(snapshots []domain.PortfolioSnapshot) string {
	var sb strings.Builder

	sb.WriteString("timestamp,equity,cash,unrealized_pnl\n")

	for _, s := range snapshots {
		row := domain.EquityRowFrom(s)
		sb.WriteString(fmt.Sprintf("%d,%s,%s,%s\n",
			row.Timestamp,
			row.Equity.String(),
			row.Cash.String(),
			row.UnrealizedPnL.String(),
		))
	}

	return sb.String()
}

// RenderLeaderboardCSV renders ranked run performance.
func RenderLeaderboardCSV(board []metrics.RunPerformance) string {
	var sb strings.Builder

	sb.WriteString("run_id,strategy,state,total_return_pct,max_drawdown_pct,sharpe,sortino,calmar,")
	sb.WriteString("closing_trades,win_rate_pct,profit_factor,total_fees,fingerprint\n")

	for _, rp := range board {
		r, p := rp.Run, rp.Performance
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%s,%.6f,%s,%s,%d,%.4f,%s,%s,%s\n",
			r.RunID,
			r.StrategyName,
			r.State,
			p.TotalReturnPct.String(),
			p.MaxDrawdownPct.String(),
			p.Sharpe,
			formatRatio(p.Sortino),
			formatRatio(p.Calmar),
			p.ClosingTrades,
			p.WinRatePct,
			formatRatio(p.ProfitFactor),
			p.TotalFees.String(),
			r.Fingerprint,
		))
	}

	return sb.String()
}

func formatRatio(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.4f", v)
}
