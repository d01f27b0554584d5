package model

import "time"

// ExitReason says why a trade was closed.
type ExitReason string

const (
	ExitSignal    ExitReason = "signal"
	ExitReverse   ExitReason = "reverse"
	ExitEndOfData ExitReason = "end_of_data"
)

// Trade is a completed round trip. Commission covers both fills and
// NetPnL = GrossPnL - Commission.
type Trade struct {
	Side       Side       `json:"side"`
	EntryTime  time.Time  `json:"entry_time"`
	EntryBar   int        `json:"entry_bar"`
	EntryPrice float64    `json:"entry_price"`
	ExitTime   time.Time  `json:"exit_time"`
	ExitBar    int        `json:"exit_bar"`
	ExitPrice  float64    `json:"exit_price"`
	Size       float64    `json:"size"`
	GrossPnL   float64    `json:"gross_pnl"`
	Commission float64    `json:"commission"`
	NetPnL     float64    `json:"net_pnl"`
	ExitReason ExitReason `json:"exit_reason"`
}

// BarsHeld is the number of bars between entry and exit fills.
func (t *Trade) BarsHeld() int { return t.ExitBar - t.EntryBar }

// EquityPoint is the account value at a bar's close.
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}
