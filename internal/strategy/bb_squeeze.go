package strategy

import (
	"fmt"

	"tvbacktest/internal/indicator"
	"tvbacktest/internal/model"
)

// BBSqueeze is a Bollinger Band mean-reversion strategy: long when the close
// crosses back above the lower band, short when it crosses back below the
// upper band.
type BBSqueeze struct {
	base
	length int
	mult   float64
}

// BBSqueezeDefinition returns the bb_squeeze strategy class.
func BBSqueezeDefinition() Definition {
	return Definition{
		Name: "bb_squeeze",
		Type: Swing,
		Space: ParamSpace{
			{Name: "length", Values: values(15, 20, 25, 30)},
			{Name: "mult", Values: values(1.5, 2.0, 2.5, 3.0)},
		},
		Defaults: Params{"length": 20, "mult": 2.0},
		New:      newBBSqueeze,
	}
}

func newBBSqueeze(p Params) (Strategy, error) {
	if err := requirePositive(p, "length"); err != nil {
		return nil, err
	}
	if !(p.Float("mult") > 0) {
		return nil, fmt.Errorf("%w: mult must be positive, got %v", ErrInvalidParams, p["mult"])
	}
	return &BBSqueeze{
		base:   base{name: "BB Squeeze", typ: Swing, params: p.Clone()},
		length: p.Int("length"),
		mult:   p.Float("mult"),
	}, nil
}

func (b *BBSqueeze) AddIndicators(s *model.Series) {
	upper, middle, lower := indicator.Bollinger(s.Closes(), b.length, b.mult)
	s.SetColumn("bb_upper", upper)
	s.SetColumn("bb_middle", middle)
	s.SetColumn("bb_lower", lower)
}

func (b *BBSqueeze) ComputeSignals(s *model.Series) error {
	b.AddIndicators(s)
	closes := s.Closes()
	upper, lower := s.Column("bb_upper"), s.Column("bb_lower")
	sig := resetSignals(s)
	for i := 1; i < s.Len(); i++ {
		up := indicator.Crossover(closes, lower, i)
		down := indicator.Crossunder(closes, upper, i)
		sig.LongEntry[i] = up
		sig.ShortExit[i] = up
		sig.LongExit[i] = down
		sig.ShortEntry[i] = down
	}
	return nil
}
