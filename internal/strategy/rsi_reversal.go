package strategy

import (
	"fmt"

	"tvbacktest/internal/indicator"
	"tvbacktest/internal/model"
)

// RSIReversal goes long when RSI crosses back above the oversold level and
// short when it crosses back below the overbought level.
type RSIReversal struct {
	base
	length     int
	oversold   float64
	overbought float64
}

// RSIReversalDefinition returns the rsi_reversal strategy class.
func RSIReversalDefinition() Definition {
	return Definition{
		Name: "rsi_reversal",
		Type: Swing,
		Space: ParamSpace{
			{Name: "length", Values: values(7, 10, 14, 21)},
			{Name: "oversold", Values: values(20, 25, 30, 35)},
			{Name: "overbought", Values: values(65, 70, 75, 80)},
		},
		Defaults: Params{"length": 14, "oversold": 30, "overbought": 70},
		New:      newRSIReversal,
	}
}

func newRSIReversal(p Params) (Strategy, error) {
	if err := requirePositive(p, "length"); err != nil {
		return nil, err
	}
	if p.Float("oversold") >= p.Float("overbought") {
		return nil, fmt.Errorf("%w: oversold (%v) must be below overbought (%v)", ErrInvalidParams, p["oversold"], p["overbought"])
	}
	return &RSIReversal{
		base:       base{name: "RSI Reversal", typ: Swing, params: p.Clone()},
		length:     p.Int("length"),
		oversold:   p.Float("oversold"),
		overbought: p.Float("overbought"),
	}, nil
}

func (r *RSIReversal) AddIndicators(s *model.Series) {
	s.SetColumn("rsi", indicator.RSI(s.Closes(), r.length))
}

func (r *RSIReversal) ComputeSignals(s *model.Series) error {
	r.AddIndicators(s)
	rsi := s.Column("rsi")
	sig := resetSignals(s)
	for i := 1; i < s.Len(); i++ {
		up := indicator.CrossoverLevel(rsi, r.oversold, i)
		down := indicator.CrossunderLevel(rsi, r.overbought, i)
		sig.LongEntry[i] = up
		sig.ShortExit[i] = up
		sig.LongExit[i] = down
		sig.ShortEntry[i] = down
	}
	return nil
}
