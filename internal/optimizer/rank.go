package optimizer

import (
	"sort"

	"tvbacktest/internal/strategy"
)

// VariantResult aggregates one parameter set across all datasets.
type VariantResult struct {
	Rank     int             `json:"rank"`
	Index    int             `json:"index"`
	Params   strategy.Params `json:"params"`
	Score    float64         `json:"score"`
	Eligible bool            `json:"eligible"`

	// Scored counts successful cells with trades and drawdown; Failed counts
	// cells that errored.
	Scored int `json:"scored"`
	Failed int `json:"failed"`

	// Varied is how many parameters differ from the strategy defaults.
	Varied int `json:"varied"`

	// Averages over successful cells, degenerate ones included.
	AvgNetProfitPct     float64 `json:"avg_net_profit_pct"`
	AvgMaxDrawdownPct   float64 `json:"avg_max_drawdown_pct"`
	AvgProfitToDrawdown float64 `json:"avg_profit_to_drawdown"`
	AvgWinRate          float64 `json:"avg_win_rate"`
	TotalTrades         int     `json:"total_trades"`

	// Cells holds one result per dataset, in dataset order.
	Cells []CellResult `json:"cells"`
}

func aggregate(v variant, cells []CellResult, defaults strategy.Params, cfg Config) VariantResult {
	vr := VariantResult{
		Index:  v.index,
		Params: v.params,
		Score:  SentinelScore,
		Cells:  cells,
	}
	for name, val := range v.params {
		if def, ok := defaults[name]; !ok || def != val {
			vr.Varied++
		}
	}

	var ok int
	var sum float64
	for i := range cells {
		c := &cells[i]
		if !c.OK() {
			vr.Failed++
			continue
		}
		ok++
		vr.AvgNetProfitPct += c.Metrics.NetProfitPct
		vr.AvgMaxDrawdownPct += c.Metrics.MaxDrawdownPct
		vr.AvgProfitToDrawdown += c.Metrics.ProfitToDrawdown
		vr.AvgWinRate += c.Metrics.WinRate
		vr.TotalTrades += c.Metrics.TotalTrades

		if !c.Scored() {
			continue
		}
		if vr.Scored == 0 {
			vr.Score = c.Score
		}
		vr.Scored++
		sum += c.Score
		if cfg.Reduction == ReduceWorst && c.Score < vr.Score {
			vr.Score = c.Score
		}
	}
	if ok > 0 {
		n := float64(ok)
		vr.AvgNetProfitPct /= n
		vr.AvgMaxDrawdownPct /= n
		vr.AvgProfitToDrawdown /= n
		vr.AvgWinRate /= n
	}
	if vr.Scored > 0 && cfg.Reduction != ReduceWorst {
		vr.Score = sum / float64(vr.Scored)
	}

	vr.Eligible = true
	if cfg.ApplyFilters {
		vr.Eligible = ok > 0 &&
			vr.AvgNetProfitPct > cfg.MinNetProfitPct &&
			vr.AvgMaxDrawdownPct <= cfg.MaxDrawdownPct
	}
	return vr
}

// rank orders variants: eligible first, then score descending, then fewer
// parameters moved off their defaults, then grid order. Ranks start at 1.
func rank(vs []VariantResult) {
	sort.SliceStable(vs, func(i, j int) bool {
		a, b := &vs[i], &vs[j]
		if a.Eligible != b.Eligible {
			return a.Eligible
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Varied != b.Varied {
			return a.Varied < b.Varied
		}
		return a.Index < b.Index
	})
	for i := range vs {
		vs[i].Rank = i + 1
	}
}

func sortFailures(fs []CellFailure) {
	sort.SliceStable(fs, func(i, j int) bool {
		if fs[i].Variant != fs[j].Variant {
			return fs[i].Variant < fs[j].Variant
		}
		return fs[i].Dataset < fs[j].Dataset
	})
}
