package strategy

import (
	"fmt"

	"tvbacktest/internal/indicator"
	"tvbacktest/internal/model"
)

// MACDCrossover trades crossings of the MACD line through its signal line.
type MACDCrossover struct {
	base
	fast, slow, signal int
}

// MACDCrossoverDefinition returns the macd_crossover strategy class.
func MACDCrossoverDefinition() Definition {
	return Definition{
		Name: "macd_crossover",
		Type: Swing,
		Space: ParamSpace{
			{Name: "fast", Values: values(8, 10, 12, 14)},
			{Name: "slow", Values: values(21, 26, 30)},
			{Name: "signal_len", Values: values(7, 9, 12)},
		},
		Defaults: Params{"fast": 12, "slow": 26, "signal_len": 9},
		New:      newMACDCrossover,
	}
}

func newMACDCrossover(p Params) (Strategy, error) {
	if err := requirePositive(p, "fast", "slow", "signal_len"); err != nil {
		return nil, err
	}
	if p.Int("fast") >= p.Int("slow") {
		return nil, fmt.Errorf("%w: fast (%d) must be below slow (%d)", ErrInvalidParams, p.Int("fast"), p.Int("slow"))
	}
	return &MACDCrossover{
		base:   base{name: "MACD Crossover", typ: Swing, params: p.Clone()},
		fast:   p.Int("fast"),
		slow:   p.Int("slow"),
		signal: p.Int("signal_len"),
	}, nil
}

func (m *MACDCrossover) AddIndicators(s *model.Series) {
	line, signal, hist := indicator.MACD(s.Closes(), m.fast, m.slow, m.signal)
	s.SetColumn("macd", line)
	s.SetColumn("macd_signal", signal)
	s.SetColumn("macd_hist", hist)
}

func (m *MACDCrossover) ComputeSignals(s *model.Series) error {
	m.AddIndicators(s)
	line, signal := s.Column("macd"), s.Column("macd_signal")
	sig := resetSignals(s)
	for i := 1; i < s.Len(); i++ {
		above := indicator.Crossover(line, signal, i)
		below := indicator.Crossunder(line, signal, i)
		sig.LongEntry[i] = above
		sig.ShortExit[i] = above
		sig.LongExit[i] = below
		sig.ShortEntry[i] = below
	}
	return nil
}
