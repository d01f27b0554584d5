// Package backtest simulates a strategy's signals against a price series with
// TradingView Strategy Tester semantics: signals are evaluated on a bar's
// close and filled at the next bar's open, commission is charged on both
// fills, and equity is marked to market at every close.
package backtest

import (
	"fmt"
	"time"

	"tvbacktest/internal/model"
)

// Result is the output of one simulation run.
type Result struct {
	Config         Config
	Trades         []model.Trade
	Equity         []model.EquityPoint
	InitialCapital float64
	FinalEquity    float64

	// OpenPosition is set only when ForceCloseAtEnd is off and a position
	// survived the last bar.
	OpenPosition *model.Position
}

// EquityValues returns the equity curve as a plain slice.
func (r *Result) EquityValues() []float64 {
	out := make([]float64, len(r.Equity))
	for i, p := range r.Equity {
		out[i] = p.Equity
	}
	return out
}

type action int

const (
	actNone action = iota
	actOpenLong
	actOpenShort
	actAddLong
	actAddShort
	actClose
	actReverse
)

// Engine runs simulations for a fixed configuration. It holds no per-run
// state, so one Engine may be used for any number of sequential runs.
type Engine struct {
	cfg Config
}

// NewEngine validates cfg and returns an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Run simulates the annotated series. Missing signal columns are treated as
// all-false. The series is not modified apart from that.
func (e *Engine) Run(s *model.Series) (*Result, error) {
	s.EnsureSignals()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}

	sim := &simulation{
		cfg:      e.cfg,
		realized: e.cfg.InitialCapital,
		trades:   make([]model.Trade, 0, 16),
		equity:   make([]model.EquityPoint, len(s.Bars)),
	}

	pending := actNone
	for i := range s.Bars {
		bar := &s.Bars[i]

		if pending != actNone {
			sim.fill(pending, bar, i)
		}

		sim.equity[i] = model.EquityPoint{Time: bar.Time, Equity: sim.markedEquity(bar.Close)}

		pending = sim.decide(&s.Signals, i)
	}

	last := len(s.Bars) - 1
	if sim.pos != nil && e.cfg.ForceCloseAtEnd {
		lastBar := &s.Bars[last]
		sim.close(lastBar.Close, lastBar.Time, last, model.ExitEndOfData)
		sim.equity[last].Equity = sim.realized
	}

	return &Result{
		Config:         e.cfg,
		Trades:         sim.trades,
		Equity:         sim.equity,
		InitialCapital: e.cfg.InitialCapital,
		FinalEquity:    sim.equity[last].Equity,
		OpenPosition:   sim.pos,
	}, nil
}

// simulation is the mutable state of a single Run.
type simulation struct {
	cfg      Config
	pos      *model.Position
	realized float64 // initial capital plus net PnL of closed trades
	trades   []model.Trade
	equity   []model.EquityPoint
}

// markedEquity is realized equity plus the open position marked at price,
// net of the entry commission already paid.
func (sim *simulation) markedEquity(price float64) float64 {
	if sim.pos == nil {
		return sim.realized
	}
	return sim.realized - sim.pos.EntryCommission + sim.pos.UnrealizedPnL(price)
}

// decide turns bar i's signals into the action filled at bar i+1's open.
// Exits take precedence over entries; an opposite-side entry while
// positioned is ignored unless ReverseOnOpposite is set.
func (sim *simulation) decide(sig *model.Signals, i int) action {
	le, lx, se, sx := sig.LongEntry[i], sig.LongExit[i], sig.ShortEntry[i], sig.ShortExit[i]

	if sim.pos == nil {
		switch {
		case le:
			return actOpenLong
		case se:
			return actOpenShort
		}
		return actNone
	}

	long := sim.pos.Side == model.Long
	exit := (long && lx) || (!long && sx)
	opposite := (long && se) || (!long && le)
	same := (long && le) || (!long && se)

	switch {
	case opposite && sim.cfg.ReverseOnOpposite:
		return actReverse
	case exit:
		return actClose
	case same && sim.cfg.Pyramiding:
		if long {
			return actAddLong
		}
		return actAddShort
	}
	return actNone
}

func (sim *simulation) fill(act action, bar *model.Bar, i int) {
	price := bar.Open
	switch act {
	case actOpenLong:
		sim.open(model.Long, price, bar, i)
	case actOpenShort:
		sim.open(model.Short, price, bar, i)
	case actAddLong, actAddShort:
		sim.add(price)
	case actClose:
		sim.close(price, bar.Time, i, model.ExitSignal)
	case actReverse:
		side := sim.pos.Side.Opposite()
		sim.close(price, bar.Time, i, model.ExitReverse)
		sim.open(side, price, bar, i)
	}
}

func (sim *simulation) open(side model.Side, price float64, bar *model.Bar, i int) {
	equity := sim.markedEquity(price)
	if equity <= 0 {
		return
	}
	size := sim.cfg.entrySize(equity, price)
	if !(size > 0) {
		return
	}
	sim.pos = &model.Position{
		Side:            side,
		EntryPrice:      price,
		EntryTime:       bar.Time,
		EntryBar:        i,
		Size:            size,
		EntryCommission: sim.cfg.commission(size, price),
	}
}

func (sim *simulation) add(price float64) {
	equity := sim.markedEquity(price)
	if equity <= 0 {
		return
	}
	size := sim.cfg.entrySize(equity, price)
	if !(size > 0) {
		return
	}
	sim.pos.Add(size, price, sim.cfg.commission(size, price))
}

func (sim *simulation) close(price float64, ts time.Time, i int, reason model.ExitReason) {
	p := sim.pos
	gross := p.UnrealizedPnL(price)
	commission := p.EntryCommission + sim.cfg.commission(p.Size, price)
	net := gross - commission

	sim.trades = append(sim.trades, model.Trade{
		Side:       p.Side,
		EntryTime:  p.EntryTime,
		EntryBar:   p.EntryBar,
		EntryPrice: p.EntryPrice,
		ExitTime:   ts,
		ExitBar:    i,
		ExitPrice:  price,
		Size:       p.Size,
		GrossPnL:   gross,
		Commission: commission,
		NetPnL:     net,
		ExitReason: reason,
	})
	sim.realized += net
	sim.pos = nil
}
