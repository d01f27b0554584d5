// Package indicator provides technical indicator calculations that match
// TradingView's ta.* built-ins.
//
// Streaming indicators implement the Indicator interface and consume one value
// at a time. The series functions (SMA, RMA, EMA, RSI, MACD, Bollinger, ATR)
// drive those kernels over a whole column and return a slice of the same
// length, with NaN marking positions where the indicator is not yet defined.
package indicator

import "math"

// Indicator is the interface for all streaming technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "SMA", "RSI").
	Name() string

	// Update feeds the next value and recalculates.
	Update(v float64)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool

	// Reset clears accumulated state for reuse.
	Reset()
}

// IsDefined reports whether v is a real indicator value rather than the
// undefined placeholder.
func IsDefined(v float64) bool { return !math.IsNaN(v) }

func undefined(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// windowOK reports whether a window of n can produce any value over length
// inputs. A window at or beyond the series length yields an all-undefined
// column instead of an error.
func windowOK(n, length int) bool {
	return n > 0 && n < length
}

// run drives a streaming indicator across values.
func run(ind Indicator, values []float64) []float64 {
	out := undefined(len(values))
	for i, v := range values {
		ind.Update(v)
		if ind.Ready() {
			out[i] = ind.Value()
		}
	}
	return out
}

func firstDefined(values []float64) int {
	for i, v := range values {
		if IsDefined(v) {
			return i
		}
	}
	return -1
}
