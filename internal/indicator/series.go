package indicator

import "math"

// SMA returns the trailing simple moving average of values over window n.
func SMA(values []float64, n int) []float64 {
	if !windowOK(n, len(values)) {
		return undefined(len(values))
	}
	return run(NewSMA(n), values)
}

// RMA returns Wilder's moving average (ta.rma): SMA-seeded at index n-1,
// then exponentially smoothed with alpha = 1/n.
func RMA(values []float64, n int) []float64 {
	if !windowOK(n, len(values)) {
		return undefined(len(values))
	}
	return run(NewSMMA(n), values)
}

// EMA returns the exponential moving average (ta.ema): SMA-seeded at index
// n-1, then smoothed with alpha = 2/(n+1).
func EMA(values []float64, n int) []float64 {
	if !windowOK(n, len(values)) {
		return undefined(len(values))
	}
	return run(NewEMA(n), values)
}

// RSI returns the relative strength index over window n. The first defined
// value is at index n.
func RSI(values []float64, n int) []float64 {
	if !windowOK(n, len(values)) {
		return undefined(len(values))
	}
	return run(NewRSI(n), values)
}

// MACD returns the MACD line (EMA(fast) - EMA(slow)), its signal line and the
// histogram. The signal EMA is seeded from the first defined MACD values, not
// from the undefined prefix.
func MACD(values []float64, fast, slow, signal int) (macd, sig, hist []float64) {
	n := len(values)
	macd, sig, hist = undefined(n), undefined(n), undefined(n)

	emaFast := EMA(values, fast)
	emaSlow := EMA(values, slow)
	for i := range values {
		if IsDefined(emaFast[i]) && IsDefined(emaSlow[i]) {
			macd[i] = emaFast[i] - emaSlow[i]
		}
	}

	start := firstDefined(macd)
	if start < 0 {
		return macd, sig, hist
	}
	sigTail := EMA(macd[start:], signal)
	for i, v := range sigTail {
		sig[start+i] = v
		if IsDefined(v) {
			hist[start+i] = macd[start+i] - v
		}
	}
	return macd, sig, hist
}

// Stdev returns the rolling population standard deviation (divisor n), which
// is what ta.stdev and ta.bb use.
func Stdev(values []float64, n int) []float64 {
	out := undefined(len(values))
	if !windowOK(n, len(values)) {
		return out
	}
	for i := n - 1; i < len(values); i++ {
		window := values[i-n+1 : i+1]
		mean := 0.0
		for _, v := range window {
			mean += v
		}
		mean /= float64(n)
		sq := 0.0
		for _, v := range window {
			d := v - mean
			sq += d * d
		}
		out[i] = math.Sqrt(sq / float64(n))
	}
	return out
}

// Bollinger returns the upper, middle and lower Bollinger bands: SMA(n) plus
// and minus k population standard deviations.
func Bollinger(values []float64, n int, k float64) (upper, middle, lower []float64) {
	middle = SMA(values, n)
	sd := Stdev(values, n)
	upper = undefined(len(values))
	lower = undefined(len(values))
	for i := range values {
		if IsDefined(middle[i]) && IsDefined(sd[i]) {
			upper[i] = middle[i] + k*sd[i]
			lower[i] = middle[i] - k*sd[i]
		}
	}
	return upper, middle, lower
}

// TrueRange returns ta.tr: max(high-low, |high-prevClose|, |low-prevClose|).
// The first bar has no previous close and uses high-low.
func TrueRange(high, low, close []float64) []float64 {
	out := make([]float64, len(close))
	for i := range close {
		hl := high[i] - low[i]
		if i == 0 {
			out[i] = hl
			continue
		}
		hc := math.Abs(high[i] - close[i-1])
		lc := math.Abs(low[i] - close[i-1])
		out[i] = math.Max(hl, math.Max(hc, lc))
	}
	return out
}

// ATR returns the average true range: RMA of the true range over window n.
func ATR(high, low, close []float64, n int) []float64 {
	return RMA(TrueRange(high, low, close), n)
}

// Crossover reports ta.crossover(a, b) at index i: a moved from at-or-below b
// to strictly above it. Undefined operands never cross.
func Crossover(a, b []float64, i int) bool {
	if i < 1 || !allDefined(a[i], b[i], a[i-1], b[i-1]) {
		return false
	}
	return a[i] > b[i] && a[i-1] <= b[i-1]
}

// Crossunder reports ta.crossunder(a, b) at index i.
func Crossunder(a, b []float64, i int) bool {
	if i < 1 || !allDefined(a[i], b[i], a[i-1], b[i-1]) {
		return false
	}
	return a[i] < b[i] && a[i-1] >= b[i-1]
}

// CrossoverLevel reports a crossing above a constant level at index i.
func CrossoverLevel(a []float64, level float64, i int) bool {
	if i < 1 || !allDefined(a[i], a[i-1]) {
		return false
	}
	return a[i] > level && a[i-1] <= level
}

// CrossunderLevel reports a crossing below a constant level at index i.
func CrossunderLevel(a []float64, level float64, i int) bool {
	if i < 1 || !allDefined(a[i], a[i-1]) {
		return false
	}
	return a[i] < level && a[i-1] >= level
}

func allDefined(vs ...float64) bool {
	for _, v := range vs {
		if !IsDefined(v) {
			return false
		}
	}
	return true
}
