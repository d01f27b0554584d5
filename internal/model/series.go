package model

import "math"

// Signals holds the four boolean signal columns a strategy attaches to a series.
type Signals struct {
	LongEntry  []bool
	LongExit   []bool
	ShortEntry []bool
	ShortExit  []bool
}

// Series is an ordered price series. Once a strategy has attached indicator
// columns and signals it is an annotated series ready for simulation.
//
// Bars are shared read-only between clones; columns and signals are owned.
type Series struct {
	Bars    []Bar
	Columns map[string][]float64
	Signals Signals
}

// NewSeries wraps bars in a Series with no columns or signals.
func NewSeries(bars []Bar) *Series {
	return &Series{
		Bars:    bars,
		Columns: make(map[string][]float64),
	}
}

func (s *Series) Len() int { return len(s.Bars) }

func (s *Series) Opens() []float64  { return s.field(func(b *Bar) float64 { return b.Open }) }
func (s *Series) Highs() []float64  { return s.field(func(b *Bar) float64 { return b.High }) }
func (s *Series) Lows() []float64   { return s.field(func(b *Bar) float64 { return b.Low }) }
func (s *Series) Closes() []float64 { return s.field(func(b *Bar) float64 { return b.Close }) }

func (s *Series) field(get func(*Bar) float64) []float64 {
	out := make([]float64, len(s.Bars))
	for i := range s.Bars {
		out[i] = get(&s.Bars[i])
	}
	return out
}

// SetColumn attaches a named derived column (e.g. "RSI_14").
func (s *Series) SetColumn(name string, values []float64) {
	if s.Columns == nil {
		s.Columns = make(map[string][]float64)
	}
	s.Columns[name] = values
}

// Column returns a named column, or nil when absent.
func (s *Series) Column(name string) []float64 {
	return s.Columns[name]
}

// Clone returns a copy whose columns and signals can be mutated without
// affecting s. The bars slice is shared.
func (s *Series) Clone() *Series {
	c := &Series{
		Bars:    s.Bars,
		Columns: make(map[string][]float64, len(s.Columns)),
	}
	for name, col := range s.Columns {
		c.Columns[name] = append([]float64(nil), col...)
	}
	c.Signals = Signals{
		LongEntry:  cloneBools(s.Signals.LongEntry),
		LongExit:   cloneBools(s.Signals.LongExit),
		ShortEntry: cloneBools(s.Signals.ShortEntry),
		ShortExit:  cloneBools(s.Signals.ShortExit),
	}
	return c
}

// EnsureSignals allocates any missing signal column as all-false.
func (s *Series) EnsureSignals() {
	n := len(s.Bars)
	for _, col := range []*[]bool{&s.Signals.LongEntry, &s.Signals.LongExit, &s.Signals.ShortEntry, &s.Signals.ShortExit} {
		if *col == nil {
			*col = make([]bool, n)
		}
	}
}

// Validate checks the structural invariants the simulator relies on.
// Errors wrap ErrInvalidData.
func (s *Series) Validate() error {
	if len(s.Bars) == 0 {
		return dataErrorf("series is empty")
	}
	for i := range s.Bars {
		b := &s.Bars[i]
		if i > 0 && !b.Time.After(s.Bars[i-1].Time) {
			return dataErrorf("timestamps not strictly increasing at bar %d (%s)", i, b.Time.Format("2006-01-02 15:04:05"))
		}
		for _, p := range [4]float64{b.Open, b.High, b.Low, b.Close} {
			if !(p > 0) || math.IsInf(p, 0) {
				return dataErrorf("non-positive or non-finite price at bar %d", i)
			}
		}
		if b.High < b.Low {
			return dataErrorf("high %.4f below low %.4f at bar %d", b.High, b.Low, i)
		}
		if !(b.Volume >= 0) || math.IsInf(b.Volume, 0) {
			return dataErrorf("invalid volume %v at bar %d", b.Volume, i)
		}
	}
	n := len(s.Bars)
	for name, col := range s.Columns {
		if len(col) != n {
			return dataErrorf("column %s has %d values, want %d", name, len(col), n)
		}
	}
	sig := map[string][]bool{
		"long_entry":  s.Signals.LongEntry,
		"long_exit":   s.Signals.LongExit,
		"short_entry": s.Signals.ShortEntry,
		"short_exit":  s.Signals.ShortExit,
	}
	for name, col := range sig {
		if col != nil && len(col) != n {
			return dataErrorf("signal %s has %d values, want %d", name, len(col), n)
		}
	}
	return nil
}

func cloneBools(b []bool) []bool {
	if b == nil {
		return nil
	}
	return append([]bool(nil), b...)
}
