package backtest

import (
	"encoding/json"
	"math"
)

// Metrics summarises a Result the way the Strategy Tester overview does.
// Drawdowns are reported as positive magnitudes.
type Metrics struct {
	InitialCapital   float64 `json:"initial_capital"`
	FinalEquity      float64 `json:"final_equity"`
	NetProfit        float64 `json:"net_profit"`
	NetProfitPct     float64 `json:"net_profit_pct"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	MaxDrawdownPct   float64 `json:"max_drawdown_pct"`
	TotalTrades      int     `json:"total_trades"`
	WinningTrades    int     `json:"winning_trades"`
	LosingTrades     int     `json:"losing_trades"`
	WinRate          float64 `json:"win_rate"`
	GrossProfit      float64 `json:"gross_profit"`
	GrossLoss        float64 `json:"gross_loss"`
	ProfitFactor     float64 `json:"profit_factor"` // +Inf when there are wins and no losses
	AvgTrade         float64 `json:"avg_trade"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	ProfitToDrawdown float64 `json:"profit_to_drawdown"`
}

// Calculate derives Metrics from a simulation result.
func Calculate(r *Result) Metrics {
	m := Metrics{
		InitialCapital: r.InitialCapital,
		FinalEquity:    r.FinalEquity,
		NetProfit:      r.FinalEquity - r.InitialCapital,
	}
	m.NetProfitPct = m.NetProfit / r.InitialCapital * 100.0

	equity := r.EquityValues()
	m.MaxDrawdown, m.MaxDrawdownPct = maxDrawdown(equity)
	if m.MaxDrawdownPct > 0 {
		m.ProfitToDrawdown = m.NetProfitPct / m.MaxDrawdownPct
	}

	m.TotalTrades = len(r.Trades)
	if m.TotalTrades == 0 {
		return m
	}

	for _, t := range r.Trades {
		if t.NetPnL > 0 {
			m.WinningTrades++
			m.GrossProfit += t.NetPnL
		} else {
			m.LosingTrades++
			m.GrossLoss -= t.NetPnL
		}
	}
	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100.0
	m.AvgTrade = (m.GrossProfit - m.GrossLoss) / float64(m.TotalTrades)
	switch {
	case m.GrossLoss > 0:
		m.ProfitFactor = m.GrossProfit / m.GrossLoss
	case m.GrossProfit > 0:
		m.ProfitFactor = math.Inf(1)
	}
	m.SharpeRatio = sharpe(equity)
	return m
}

// Degenerate reports a run that cannot be scored by profit-to-drawdown:
// it either never traded or never drew down.
func (m Metrics) Degenerate() bool {
	return m.TotalTrades == 0 || m.MaxDrawdownPct == 0
}

// maxDrawdown tracks the running equity peak and returns the largest
// absolute and percentage declines from it.
func maxDrawdown(equity []float64) (abs, pct float64) {
	if len(equity) == 0 {
		return 0, 0
	}
	peak := equity[0]
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		dd := peak - v
		if dd > abs {
			abs = dd
		}
		if peak > 0 {
			if p := dd / peak * 100.0; p > pct {
				pct = p
			}
		}
	}
	return abs, pct
}

// sharpe annualises the mean/stdev of per-bar equity returns with sqrt(252).
// The stdev is the sample stdev. Returns 0 when it is undefined or zero.
func sharpe(equity []float64) float64 {
	if len(equity) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		returns = append(returns, equity[i]/equity[i-1]-1)
	}
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	ss := 0.0
	for _, r := range returns {
		d := r - mean
		ss += d * d
	}
	std := math.Sqrt(ss / float64(len(returns)-1))
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return mean / std * math.Sqrt(252)
}

type metricsAlias Metrics

// MarshalJSON encodes an infinite profit factor as null.
func (m Metrics) MarshalJSON() ([]byte, error) {
	aux := struct {
		metricsAlias
		ProfitFactor *float64 `json:"profit_factor"`
	}{metricsAlias: metricsAlias(m)}
	if !math.IsInf(m.ProfitFactor, 0) {
		pf := m.ProfitFactor
		aux.ProfitFactor = &pf
	}
	return json.Marshal(aux)
}

// UnmarshalJSON decodes a null profit factor back to +Inf.
func (m *Metrics) UnmarshalJSON(data []byte) error {
	var aux struct {
		metricsAlias
		ProfitFactor *float64 `json:"profit_factor"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*m = Metrics(aux.metricsAlias)
	if aux.ProfitFactor == nil {
		m.ProfitFactor = math.Inf(1)
	} else {
		m.ProfitFactor = *aux.ProfitFactor
	}
	return nil
}
