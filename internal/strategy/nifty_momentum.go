package strategy

import (
	"fmt"
	"time"

	"tvbacktest/internal/indicator"
	"tvbacktest/internal/markethours"
	"tvbacktest/internal/model"
)

// NiftyMomentum is an intraday strategy for index futures. It enters on an
// EMA cross confirmed by an outsized candle body and exits on a faster EMA
// cross or at the end of the IST session. No position is carried overnight.
type NiftyMomentum struct {
	base
	entryFast, entrySlow int
	exitFast, exitSlow   int
	candleMult           float64
	candleAvgLen         int
}

// noEntryBars is how many bars before a session's last bar new entries stop.
const noEntryBars = 3

// NiftyMomentumDefinition returns the nifty_momentum strategy class.
func NiftyMomentumDefinition() Definition {
	return Definition{
		Name: "nifty_momentum",
		Type: Intraday,
		Space: ParamSpace{
			{Name: "entry_ema_fast", Values: values(13, 21)},
			{Name: "entry_ema_slow", Values: values(34, 50)},
			{Name: "candle_mult", Values: values(2.0, 2.5)},
			{Name: "candle_avg_len", Values: values(15, 20)},
			{Name: "exit_ema_fast", Values: values(3, 5, 8)},
			{Name: "exit_ema_slow", Values: values(13, 21)},
		},
		Defaults: Params{
			"entry_ema_fast": 21,
			"entry_ema_slow": 50,
			"candle_mult":    2.5,
			"candle_avg_len": 15,
			"exit_ema_fast":  8,
			"exit_ema_slow":  13,
		},
		New: newNiftyMomentum,
	}
}

func newNiftyMomentum(p Params) (Strategy, error) {
	if err := requirePositive(p, "entry_ema_fast", "entry_ema_slow", "candle_avg_len", "exit_ema_fast", "exit_ema_slow"); err != nil {
		return nil, err
	}
	if p.Int("entry_ema_fast") >= p.Int("entry_ema_slow") {
		return nil, fmt.Errorf("%w: entry_ema_fast must be below entry_ema_slow", ErrInvalidParams)
	}
	if p.Int("exit_ema_fast") >= p.Int("exit_ema_slow") {
		return nil, fmt.Errorf("%w: exit_ema_fast must be below exit_ema_slow", ErrInvalidParams)
	}
	if !(p.Float("candle_mult") > 0) {
		return nil, fmt.Errorf("%w: candle_mult must be positive, got %v", ErrInvalidParams, p["candle_mult"])
	}
	return &NiftyMomentum{
		base:         base{name: "Nifty Momentum", typ: Intraday, params: p.Clone()},
		entryFast:    p.Int("entry_ema_fast"),
		entrySlow:    p.Int("entry_ema_slow"),
		exitFast:     p.Int("exit_ema_fast"),
		exitSlow:     p.Int("exit_ema_slow"),
		candleMult:   p.Float("candle_mult"),
		candleAvgLen: p.Int("candle_avg_len"),
	}, nil
}

func (n *NiftyMomentum) AddIndicators(s *model.Series) {
	closes := s.Closes()
	s.SetColumn("entry_ema_fast", indicator.EMA(closes, n.entryFast))
	s.SetColumn("entry_ema_slow", indicator.EMA(closes, n.entrySlow))
	s.SetColumn("exit_ema_fast", indicator.EMA(closes, n.exitFast))
	s.SetColumn("exit_ema_slow", indicator.EMA(closes, n.exitSlow))

	body := make([]float64, s.Len())
	for i := range s.Bars {
		body[i] = s.Bars[i].Body()
	}
	s.SetColumn("body", body)
	s.SetColumn("avg_body", indicator.SMA(body, n.candleAvgLen))
}

func (n *NiftyMomentum) ComputeSignals(s *model.Series) error {
	n.AddIndicators(s)
	ef, es := s.Column("entry_ema_fast"), s.Column("entry_ema_slow")
	xf, xs := s.Column("exit_ema_fast"), s.Column("exit_ema_slow")
	body, avgBody := s.Column("body"), s.Column("avg_body")

	times := make([]time.Time, s.Len())
	for i := range s.Bars {
		times[i] = s.Bars[i].Time
	}
	last := markethours.SessionLast(times)
	sig := resetSignals(s)

	for i := 1; i < s.Len(); i++ {
		b := &s.Bars[i]
		crossUp := strictCrossUp(ef, es, i)
		crossDown := strictCrossDown(ef, es, i)
		bigBull := b.Close > b.Open && body[i] > n.candleMult*avgBody[i]
		bigBear := b.Close < b.Open && body[i] > n.candleMult*avgBody[i]

		blocked := nearSessionEnd(last, i)
		sig.LongEntry[i] = crossUp && bigBull && !blocked
		sig.ShortEntry[i] = crossDown && bigBear && !blocked

		force := forceExit(last, i)
		sig.LongExit[i] = strictCrossDown(xf, xs, i) || force
		sig.ShortExit[i] = strictCrossUp(xf, xs, i) || force
	}
	return nil
}

// strictCrossUp is a crossover where a was strictly below b on the previous
// bar. Touching EMAs do not count, unlike indicator.Crossover. NaN compares
// false on both sides.
func strictCrossUp(a, b []float64, i int) bool {
	return a[i] > b[i] && a[i-1] < b[i-1]
}

func strictCrossDown(a, b []float64, i int) bool {
	return a[i] < b[i] && a[i-1] > b[i-1]
}

// forceExit reports whether an exit decided at bar i must be taken so the
// position is flat by the session's last bar. Exits fill on the next open,
// so the signal goes on the bar before the session ends.
func forceExit(last []bool, i int) bool {
	return i == len(last)-1 || last[i+1]
}

func nearSessionEnd(last []bool, i int) bool {
	for k := i; k <= i+noEntryBars && k < len(last); k++ {
		if last[k] {
			return true
		}
	}
	return false
}
