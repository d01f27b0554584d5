package indicator

// EMAIndicator calculates Exponential Moving Average.
// O(1) per update, no window storage.
type EMAIndicator struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates a new EMA indicator with the given period.
func NewEMA(period int) *EMAIndicator {
	return &EMAIndicator{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMAIndicator) Name() string { return "EMA" }

func (e *EMAIndicator) Update(price float64) {
	e.count++

	if e.count <= e.period {
		// Accumulate for initial SMA seed
		e.sum += price
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}

	// EMA formula: EMA = (Price * multiplier) + (EMA_prev * (1 - multiplier))
	e.current = (price * e.multiplier) + (e.current * (1 - e.multiplier))
}

func (e *EMAIndicator) Value() float64 { return e.current }
func (e *EMAIndicator) Ready() bool    { return e.count >= e.period }

// Reset clears the EMA state for reuse.
func (e *EMAIndicator) Reset() {
	e.current = 0
	e.count = 0
	e.sum = 0
}
