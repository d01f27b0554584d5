package backtest

import (
	"fmt"
	"math"
	"strings"

	"tvbacktest/internal/model"
)

// FormatReport renders the metrics as a fixed-width text block.
func (m Metrics) FormatReport() string {
	var b strings.Builder
	line := strings.Repeat("=", 52)
	b.WriteString(line + "\n")
	b.WriteString("  BACKTEST PERFORMANCE REPORT\n")
	b.WriteString(line + "\n")
	fmt.Fprintf(&b, "  Net Profit:        %14.2f (%+.2f%%)\n", m.NetProfit, m.NetProfitPct)
	fmt.Fprintf(&b, "  Max Drawdown:      %14.2f (%.2f%%)\n", m.MaxDrawdown, m.MaxDrawdownPct)
	fmt.Fprintf(&b, "  Final Equity:      %14.2f\n", m.FinalEquity)
	fmt.Fprintf(&b, "  Total Trades:      %8d\n", m.TotalTrades)
	fmt.Fprintf(&b, "  Winning Trades:    %8d\n", m.WinningTrades)
	fmt.Fprintf(&b, "  Losing Trades:     %8d\n", m.LosingTrades)
	fmt.Fprintf(&b, "  Win Rate:          %8.1f%%\n", m.WinRate)
	fmt.Fprintf(&b, "  Profit Factor:     %8s\n", formatRatio(m.ProfitFactor))
	fmt.Fprintf(&b, "  Avg Trade:         %8.2f\n", m.AvgTrade)
	fmt.Fprintf(&b, "  Sharpe Ratio:      %8.2f\n", m.SharpeRatio)
	fmt.Fprintf(&b, "  Profit/Drawdown:   %8.2f\n", m.ProfitToDrawdown)
	b.WriteString(line)
	return b.String()
}

// FormatTrades renders the trade ledger as a table.
func FormatTrades(trades []model.Trade) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-4s %-5s %-19s %12s %-19s %12s %12s %12s %-11s\n",
		"#", "side", "entry time", "entry", "exit time", "exit", "size", "net pnl", "reason")
	for i, t := range trades {
		fmt.Fprintf(&b, "%-4d %-5s %-19s %12.2f %-19s %12.2f %12.4f %12.2f %-11s\n",
			i+1, t.Side,
			t.EntryTime.Format("2006-01-02 15:04:05"), t.EntryPrice,
			t.ExitTime.Format("2006-01-02 15:04:05"), t.ExitPrice,
			t.Size, t.NetPnL, t.ExitReason)
	}
	return b.String()
}

func formatRatio(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.2f", v)
}
