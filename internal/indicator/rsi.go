package indicator

// RSIIndicator calculates the Relative Strength Index using Wilder's smoothing method.
// Update is O(1) per value.
//
// The first value is produced once period changes have been seen, i.e. on the
// (period+1)th input, as ta.rsi does. When the average loss is zero the RSI is
// exactly 100.
type RSIIndicator struct {
	period    int
	count     int
	prevClose float64
	avgGain   float64
	avgLoss   float64
	current   float64
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSIIndicator {
	return &RSIIndicator{period: period}
}

func (r *RSIIndicator) Name() string { return "RSI" }

func (r *RSIIndicator) Update(price float64) {
	r.count++

	if r.count == 1 {
		// First value: record price, no delta yet
		r.prevClose = price
		return
	}

	delta := price - r.prevClose
	r.prevClose = price

	gain := 0.0
	loss := 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	if r.count <= r.period+1 {
		// Accumulation phase: build initial averages
		r.avgGain += gain
		r.avgLoss += loss

		if r.count == r.period+1 {
			r.avgGain /= float64(r.period)
			r.avgLoss /= float64(r.period)
			r.current = rsiValue(r.avgGain, r.avgLoss)
		}
		return
	}

	alpha := 1.0 / float64(r.period)
	r.avgGain = alpha*gain + (1-alpha)*r.avgGain
	r.avgLoss = alpha*loss + (1-alpha)*r.avgLoss
	r.current = rsiValue(r.avgGain, r.avgLoss)
}

func (r *RSIIndicator) Value() float64 { return r.current }
func (r *RSIIndicator) Ready() bool    { return r.count > r.period }

// Reset clears the RSI state for reuse.
func (r *RSIIndicator) Reset() {
	r.count = 0
	r.prevClose = 0
	r.avgGain = 0
	r.avgLoss = 0
	r.current = 0
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}
