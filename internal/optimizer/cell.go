package optimizer

import (
	"errors"
	"math"
	"time"

	"tvbacktest/internal/backtest"
	"tvbacktest/internal/strategy"
)

// ErrCellPanic wraps a panic recovered while evaluating a cell.
var ErrCellPanic = errors.New("cell panicked")

// CellResult is the outcome of one (variant, dataset) backtest.
type CellResult struct {
	Strategy    string           `json:"strategy"`
	Variant     int              `json:"variant"`
	Dataset     int              `json:"dataset"`
	DatasetName string           `json:"dataset_name"`
	Params      strategy.Params  `json:"params"`
	Metrics     backtest.Metrics `json:"metrics"`
	Score       float64          `json:"score"`
	Cached      bool             `json:"cached"`
	Duration    time.Duration    `json:"duration"`
	Err         error            `json:"-"`
}

// OK reports whether the cell ran to completion.
func (c *CellResult) OK() bool { return c.Err == nil }

// Scored reports whether the cell contributes to its variant's score.
func (c *CellResult) Scored() bool { return c.Err == nil && !c.Metrics.Degenerate() }

// CellFailure records a cell that returned an error or panicked.
type CellFailure struct {
	Variant int             `json:"variant"`
	Dataset string          `json:"dataset"`
	Params  strategy.Params `json:"params"`
	Err     string          `json:"error"`
}

// cellScore is the profit-to-drawdown ratio, or SentinelScore when the cell
// has no trades or no drawdown.
func cellScore(m backtest.Metrics) float64 {
	if m.Degenerate() {
		return SentinelScore
	}
	s := m.ProfitToDrawdown
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return SentinelScore
	}
	return s
}
