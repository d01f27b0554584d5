package optimizer

import (
	"fmt"
	"strings"
	"time"
)

// Report is the ranked outcome of a grid search.
type Report struct {
	Strategy    string          `json:"strategy"`
	ParamNames  []string        `json:"param_names"`
	Datasets    []string        `json:"datasets"`
	Variants    []VariantResult `json:"variants"`
	Cells       int             `json:"cells"`
	FailedCells int             `json:"failed_cells"`
	Failures    []CellFailure   `json:"failures,omitempty"`
	Elapsed     time.Duration   `json:"elapsed"`
}

// Best returns the top-ranked variant. ok is false when there is none, or
// when the top variant is filtered out or has no scorable cell.
func (r *Report) Best() (VariantResult, bool) {
	if len(r.Variants) == 0 {
		return VariantResult{}, false
	}
	top := r.Variants[0]
	return top, top.Eligible && top.Scored > 0
}

// Leaderboard renders the top variants as a fixed-width table.
func (r *Report) Leaderboard(top int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-6s%-40s%-14s%-12s%-12s%-12s\n", "Rank", "Params", "Net Profit %", "Max DD %", "P/DD Ratio", "Score")
	sb.WriteString(strings.Repeat("-", 96))
	sb.WriteByte('\n')

	if top <= 0 || top > len(r.Variants) {
		top = len(r.Variants)
	}
	for _, v := range r.Variants[:top] {
		params := paramsLabel(v, r.ParamNames)
		if len(params) > 37 {
			params = params[:34] + "..."
		}
		score := "n/a"
		if v.Scored > 0 {
			score = fmt.Sprintf("%.2f", v.Score)
		}
		if !v.Eligible {
			score += "*"
		}
		fmt.Fprintf(&sb, "%-6d%-40s%-14.2f%-12.2f%-12.2f%-12s\n",
			v.Rank, params, v.AvgNetProfitPct, v.AvgMaxDrawdownPct, v.AvgProfitToDrawdown, score)
	}
	if r.FailedCells > 0 {
		fmt.Fprintf(&sb, "%d of %d cells failed\n", r.FailedCells, r.Cells)
	}
	return sb.String()
}

func paramsLabel(v VariantResult, names []string) string {
	if len(names) == 0 {
		return "defaults"
	}
	return strings.ReplaceAll(v.Params.Format(names), " ", ", ")
}
