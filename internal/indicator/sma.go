package indicator

// SMAIndicator calculates Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer for zero-allocation hot path.
type SMAIndicator struct {
	period  int
	buf     []float64 // preallocated circular buffer
	idx     int       // current write position
	count   int       // total values received
	current float64
}

// NewSMA creates a new SMA indicator with the given period.
func NewSMA(period int) *SMAIndicator {
	return &SMAIndicator{
		period: period,
		buf:    make([]float64, period),
	}
}

func (s *SMAIndicator) Name() string { return "SMA" }

func (s *SMAIndicator) Update(v float64) {
	s.buf[s.idx] = v
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count >= s.period {
		// Oldest-first summation over the window; a running sum would drift
		// away from ta.sma over long series.
		sum := 0.0
		for i := 0; i < s.period; i++ {
			sum += s.buf[(s.idx+i)%s.period]
		}
		s.current = sum / float64(s.period)
	}
}

func (s *SMAIndicator) Value() float64 { return s.current }
func (s *SMAIndicator) Ready() bool    { return s.count >= s.period }

// Reset clears the SMA state for reuse.
func (s *SMAIndicator) Reset() {
	s.idx = 0
	s.count = 0
	s.current = 0
	for i := range s.buf {
		s.buf[i] = 0
	}
}
