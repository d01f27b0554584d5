package strategy

import (
	"fmt"
	"log/slog"

	"tvbacktest/internal/indicator"
	"tvbacktest/internal/model"
)

// SMACrossover implements a simple SMA crossover strategy.
//
// Long entry / short exit: fast SMA crosses above slow SMA (golden cross)
// Long exit / short entry: fast SMA crosses below slow SMA (death cross)
//
// Optional RSI filter prevents going long when overbought (>70)
// or short when oversold (<30).
type SMACrossover struct {
	base
	fastPeriod int
	slowPeriod int
	rsiEnabled bool
	rsiPeriod  int
}

// SMACrossoverDefinition returns the sma_crossover strategy class.
func SMACrossoverDefinition() Definition {
	return Definition{
		Name: "sma_crossover",
		Type: Swing,
		Space: ParamSpace{
			{Name: "fast", Values: values(5, 9, 13)},
			{Name: "slow", Values: values(21, 34, 50)},
			{Name: "rsi_filter", Values: values(0, 1)},
		},
		Defaults: Params{"fast": 9, "slow": 21, "rsi_filter": 0, "rsi_period": 14},
		New:      newSMACrossover,
	}
}

func newSMACrossover(p Params) (Strategy, error) {
	if err := requirePositive(p, "fast", "slow", "rsi_period"); err != nil {
		return nil, err
	}
	if p.Int("fast") >= p.Int("slow") {
		return nil, fmt.Errorf("%w: fast (%d) must be below slow (%d)", ErrInvalidParams, p.Int("fast"), p.Int("slow"))
	}
	return &SMACrossover{
		base:       base{name: "SMA Crossover", typ: Swing, params: p.Clone()},
		fastPeriod: p.Int("fast"),
		slowPeriod: p.Int("slow"),
		rsiEnabled: p.Int("rsi_filter") != 0,
		rsiPeriod:  p.Int("rsi_period"),
	}, nil
}

func (s *SMACrossover) AddIndicators(series *model.Series) {
	closes := series.Closes()
	series.SetColumn("sma_fast", indicator.SMA(closes, s.fastPeriod))
	series.SetColumn("sma_slow", indicator.SMA(closes, s.slowPeriod))
	if s.rsiEnabled {
		series.SetColumn("rsi", indicator.RSI(closes, s.rsiPeriod))
	}
}

func (s *SMACrossover) ComputeSignals(series *model.Series) error {
	s.AddIndicators(series)
	fast, slow := series.Column("sma_fast"), series.Column("sma_slow")
	rsi := series.Column("rsi")
	sig := resetSignals(series)

	for i := 1; i < series.Len(); i++ {
		golden := indicator.Crossover(fast, slow, i)
		death := indicator.Crossunder(fast, slow, i)

		sig.ShortExit[i] = golden
		sig.LongExit[i] = death

		if golden {
			if s.rsiEnabled && rsi[i] > 70 {
				slog.Debug("golden cross filtered by RSI", "strategy", s.name, "bar", i, "rsi", rsi[i])
			} else {
				sig.LongEntry[i] = true
			}
		}
		if death {
			if s.rsiEnabled && rsi[i] < 30 {
				slog.Debug("death cross filtered by RSI", "strategy", s.name, "bar", i, "rsi", rsi[i])
			} else {
				sig.ShortEntry[i] = true
			}
		}
	}
	return nil
}
