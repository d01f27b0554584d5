package backtest

import (
	"errors"
	"math"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"tvbacktest/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// flatBars builds bars whose open and close both equal the given price.
func flatBars(prices ...float64) []model.Bar {
	bars := make([]model.Bar, len(prices))
	for i, p := range prices {
		bars[i] = model.Bar{Time: t0.AddDate(0, 0, i), Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 100}
	}
	return bars
}

// distinctBars builds n bars where open and close always differ, so a fill
// at the wrong price is visible.
func distinctBars(n int) []model.Bar {
	bars := make([]model.Bar, n)
	for i := range bars {
		open := 100 + float64(i)
		bars[i] = model.Bar{Time: t0.AddDate(0, 0, i), Open: open, High: open + 2, Low: open - 1, Close: open + 0.5, Volume: 100}
	}
	return bars
}

func seriesWith(bars []model.Bar) *model.Series {
	s := model.NewSeries(bars)
	s.EnsureSignals()
	return s
}

func zeroCommission() Config {
	cfg := DefaultConfig()
	cfg.Commission = 0
	return cfg
}

func mustRun(t *testing.T, cfg Config, s *model.Series) *Result {
	t.Helper()
	eng, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	res, err := eng.Run(s)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// Fill timing
// ────────────────────────────────────────────────────────────

func TestEngine_EntryAndExitFillAtNextOpen(t *testing.T) {
	s := seriesWith(distinctBars(10))
	s.Signals.LongEntry[2] = true
	s.Signals.LongExit[5] = true

	res := mustRun(t, zeroCommission(), s)

	if len(res.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.EntryBar != 3 || tr.EntryPrice != s.Bars[3].Open || !tr.EntryTime.Equal(s.Bars[3].Time) {
		t.Errorf("entry: bar=%d price=%v, want bar 3 open %v", tr.EntryBar, tr.EntryPrice, s.Bars[3].Open)
	}
	if tr.ExitBar != 6 || tr.ExitPrice != s.Bars[6].Open || !tr.ExitTime.Equal(s.Bars[6].Time) {
		t.Errorf("exit: bar=%d price=%v, want bar 6 open %v", tr.ExitBar, tr.ExitPrice, s.Bars[6].Open)
	}
	if tr.ExitReason != model.ExitSignal {
		t.Errorf("exit reason: got %s, want signal", tr.ExitReason)
	}
	if tr.Side != model.Long {
		t.Errorf("side: got %s, want long", tr.Side)
	}
}

func TestEngine_NoLookahead(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	bars := distinctBars(120)

	for trial := 0; trial < 20; trial++ {
		s := seriesWith(bars)
		for i := range bars {
			s.Signals.LongEntry[i] = rng.Intn(6) == 0
			s.Signals.LongExit[i] = rng.Intn(6) == 0
			s.Signals.ShortEntry[i] = rng.Intn(6) == 0
			s.Signals.ShortExit[i] = rng.Intn(6) == 0
		}
		base := mustRun(t, DefaultConfig(), s)

		for _, tr := range base.Trades {
			if tr.EntryBar < 1 || tr.EntryPrice != bars[tr.EntryBar].Open {
				t.Fatalf("trial %d: entry at bar %d price %v is not a next-bar open fill", trial, tr.EntryBar, tr.EntryPrice)
			}
			if tr.ExitReason == model.ExitEndOfData {
				continue
			}
			if tr.ExitBar <= tr.EntryBar || tr.ExitPrice != bars[tr.ExitBar].Open {
				t.Fatalf("trial %d: exit at bar %d price %v is not a next-bar open fill", trial, tr.ExitBar, tr.ExitPrice)
			}
		}

		// Flipping every signal at bar k must leave equity at bars <= k unchanged.
		k := 10 + rng.Intn(100)
		mut := s.Clone()
		mut.Signals.LongEntry[k] = !mut.Signals.LongEntry[k]
		mut.Signals.LongExit[k] = !mut.Signals.LongExit[k]
		mut.Signals.ShortEntry[k] = !mut.Signals.ShortEntry[k]
		mut.Signals.ShortExit[k] = !mut.Signals.ShortExit[k]
		other := mustRun(t, DefaultConfig(), mut)

		for i := 0; i <= k; i++ {
			if base.Equity[i] != other.Equity[i] {
				t.Fatalf("trial %d: signal change at bar %d altered equity at bar %d", trial, k, i)
			}
		}
	}
}

// ────────────────────────────────────────────────────────────
// Invariants
// ────────────────────────────────────────────────────────────

func TestEngine_SinglePositionNoOverlap(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	bars := distinctBars(200)
	for _, reverse := range []bool{false, true} {
		s := seriesWith(bars)
		for i := range bars {
			s.Signals.LongEntry[i] = rng.Intn(4) == 0
			s.Signals.LongExit[i] = rng.Intn(5) == 0
			s.Signals.ShortEntry[i] = rng.Intn(4) == 0
			s.Signals.ShortExit[i] = rng.Intn(5) == 0
		}
		cfg := DefaultConfig()
		cfg.ReverseOnOpposite = reverse
		res := mustRun(t, cfg, s)
		if len(res.Trades) < 2 {
			t.Fatalf("reverse=%v: expected several trades, got %d", reverse, len(res.Trades))
		}
		for k := 1; k < len(res.Trades); k++ {
			prev, next := res.Trades[k-1], res.Trades[k]
			if next.EntryTime.Before(prev.ExitTime) {
				t.Fatalf("reverse=%v: trade %d enters at %v before trade %d exits at %v",
					reverse, k, next.EntryTime, k-1, prev.ExitTime)
			}
		}
	}
}

func TestEngine_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	s := seriesWith(distinctBars(80))
	for i := range s.Bars {
		s.Signals.LongEntry[i] = rng.Intn(5) == 0
		s.Signals.LongExit[i] = rng.Intn(5) == 0
		s.Signals.ShortEntry[i] = rng.Intn(5) == 0
		s.Signals.ShortExit[i] = rng.Intn(5) == 0
	}
	a := mustRun(t, DefaultConfig(), s)
	b := mustRun(t, DefaultConfig(), s)
	if !reflect.DeepEqual(a.Trades, b.Trades) {
		t.Error("trade ledgers differ between identical runs")
	}
	if !reflect.DeepEqual(a.Equity, b.Equity) {
		t.Error("equity curves differ between identical runs")
	}
}

func TestEngine_ForceCloseAtFinalClose(t *testing.T) {
	s := seriesWith(distinctBars(10))
	s.Signals.LongEntry[6] = true

	res := mustRun(t, DefaultConfig(), s)
	if len(res.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(res.Trades))
	}
	tr := res.Trades[0]
	last := s.Bars[9]
	if tr.ExitPrice != last.Close {
		t.Errorf("exit price: got %v, want last close %v", tr.ExitPrice, last.Close)
	}
	if !tr.ExitTime.Equal(last.Time) {
		t.Errorf("exit time: got %v, want %v", tr.ExitTime, last.Time)
	}
	if tr.ExitReason != model.ExitEndOfData {
		t.Errorf("exit reason: got %s, want end_of_data", tr.ExitReason)
	}
	want := res.InitialCapital + tr.NetPnL
	assertClose(t, "last equity", res.Equity[9].Equity, want, 1e-9)
	assertClose(t, "final equity", res.FinalEquity, want, 1e-9)
	if res.OpenPosition != nil {
		t.Error("open position should be nil after force close")
	}
}

func TestEngine_NoForceCloseLeavesPositionOpen(t *testing.T) {
	s := seriesWith(distinctBars(10))
	s.Signals.LongEntry[6] = true
	cfg := DefaultConfig()
	cfg.ForceCloseAtEnd = false

	res := mustRun(t, cfg, s)
	if len(res.Trades) != 0 {
		t.Fatalf("expected no closed trades, got %d", len(res.Trades))
	}
	if res.OpenPosition == nil || res.OpenPosition.EntryBar != 7 {
		t.Fatalf("expected open long from bar 7, got %+v", res.OpenPosition)
	}
}

func TestEngine_SignalOnLastBarIsDropped(t *testing.T) {
	s := seriesWith(distinctBars(5))
	s.Signals.LongEntry[4] = true
	res := mustRun(t, DefaultConfig(), s)
	if len(res.Trades) != 0 {
		t.Errorf("expected no trades, got %d", len(res.Trades))
	}
	assertClose(t, "final equity", res.FinalEquity, res.InitialCapital, 0)
}

// ────────────────────────────────────────────────────────────
// Accounting
// ────────────────────────────────────────────────────────────

func TestEngine_CommissionOnBothFills(t *testing.T) {
	// 10,000 capital, 100% sizing at 100 → 100 units.
	// Entry commission: 100*100*0.1% = 10. Exit at 120: 100*120*0.1% = 12.
	// Gross 2000, net 1978.
	s := seriesWith(flatBars(100, 100, 110, 120, 120))
	s.Signals.LongEntry[0] = true
	s.Signals.LongExit[2] = true

	cfg := DefaultConfig()
	cfg.InitialCapital = 10000
	res := mustRun(t, cfg, s)

	if len(res.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(res.Trades))
	}
	tr := res.Trades[0]
	assertClose(t, "size", tr.Size, 100, 1e-9)
	assertClose(t, "gross", tr.GrossPnL, 2000, 1e-9)
	assertClose(t, "commission", tr.Commission, 22, 1e-9)
	assertClose(t, "net", tr.NetPnL, 1978, 1e-9)

	want := []float64{10000, 9990, 10990, 11978, 11978}
	for i, w := range want {
		assertClose(t, "equity", res.Equity[i].Equity, w, 1e-9)
	}
	assertClose(t, "final", res.FinalEquity, 11978, 1e-9)
}

func TestEngine_ShortTrade(t *testing.T) {
	s := seriesWith(flatBars(100, 100, 90, 80, 80))
	s.Signals.ShortEntry[0] = true
	s.Signals.ShortExit[2] = true

	cfg := zeroCommission()
	cfg.InitialCapital = 10000
	res := mustRun(t, cfg, s)

	if len(res.Trades) != 1 || res.Trades[0].Side != model.Short {
		t.Fatalf("expected one short trade, got %+v", res.Trades)
	}
	assertClose(t, "short gross", res.Trades[0].GrossPnL, 2000, 1e-9)
	assertClose(t, "equity at bar 2", res.Equity[2].Equity, 11000, 1e-9)
}

func TestEngine_FixedCommissionAndUnits(t *testing.T) {
	s := seriesWith(flatBars(50, 50, 55, 60))
	s.Signals.LongEntry[0] = true
	s.Signals.LongExit[1] = true

	cfg := DefaultConfig()
	cfg.CommissionType = CommissionFixed
	cfg.Commission = 2.5
	cfg.SizingType = SizeFixedUnits
	cfg.PositionSize = 10
	res := mustRun(t, cfg, s)

	tr := res.Trades[0]
	assertClose(t, "size", tr.Size, 10, 0)
	assertClose(t, "gross", tr.GrossPnL, 50, 1e-9) // (55-50)*10
	assertClose(t, "commission", tr.Commission, 5, 1e-9)
	assertClose(t, "net", tr.NetPnL, 45, 1e-9)
}

func TestEngine_ZeroEquitySkipsEntry(t *testing.T) {
	// A fixed commission larger than capital drives equity negative after the
	// first trade; later entries are skipped rather than failing.
	s := seriesWith(flatBars(100, 100, 100, 100, 100, 100))
	s.Signals.LongEntry[0] = true
	s.Signals.LongExit[1] = true
	s.Signals.LongEntry[3] = true

	cfg := DefaultConfig()
	cfg.InitialCapital = 100
	cfg.CommissionType = CommissionFixed
	cfg.Commission = 80
	res := mustRun(t, cfg, s)

	if len(res.Trades) != 1 {
		t.Fatalf("expected the second entry to be skipped, got %d trades", len(res.Trades))
	}
	assertClose(t, "final", res.FinalEquity, -60, 1e-9)
}

// ────────────────────────────────────────────────────────────
// Signal precedence
// ────────────────────────────────────────────────────────────

func TestEngine_LongEntryWinsWhenFlat(t *testing.T) {
	s := seriesWith(distinctBars(6))
	s.Signals.LongEntry[1] = true
	s.Signals.ShortEntry[1] = true
	res := mustRun(t, DefaultConfig(), s)
	if len(res.Trades) != 1 || res.Trades[0].Side != model.Long {
		t.Fatalf("expected a single long trade, got %+v", res.Trades)
	}
}

func TestEngine_OppositeEntryIgnoredByDefault(t *testing.T) {
	s := seriesWith(flatBars(100, 101, 102, 103, 104, 105))
	s.Signals.LongEntry[0] = true
	s.Signals.ShortEntry[2] = true

	res := mustRun(t, zeroCommission(), s)
	if len(res.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.Side != model.Long || tr.ExitReason != model.ExitEndOfData {
		t.Errorf("expected long closed at end of data, got %s/%s", tr.Side, tr.ExitReason)
	}
}

func TestEngine_ReverseOnOpposite(t *testing.T) {
	s := seriesWith(flatBars(100, 101, 102, 103, 104, 105))
	s.Signals.LongEntry[0] = true
	s.Signals.ShortEntry[2] = true

	cfg := zeroCommission()
	cfg.ReverseOnOpposite = true
	res := mustRun(t, cfg, s)

	if len(res.Trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(res.Trades))
	}
	first, second := res.Trades[0], res.Trades[1]
	if first.Side != model.Long || first.ExitReason != model.ExitReverse || first.ExitPrice != 103 {
		t.Errorf("first trade: %+v", first)
	}
	if second.Side != model.Short || second.EntryPrice != 103 || second.EntryBar != 3 {
		t.Errorf("second trade: %+v", second)
	}
	if !second.EntryTime.Equal(first.ExitTime) {
		t.Error("reversal should enter at the same bar it exits")
	}
}

func TestEngine_ExitAndEntrySameBarNoReentry(t *testing.T) {
	// Exit flagged on bar 2 while long; a long entry also flagged on bar 2 is
	// not acted on because the position was still open when it was flagged.
	s := seriesWith(distinctBars(8))
	s.Signals.LongEntry[0] = true
	s.Signals.LongExit[2] = true
	s.Signals.LongEntry[2] = true
	res := mustRun(t, DefaultConfig(), s)
	if len(res.Trades) != 1 || res.Trades[0].ExitBar != 3 {
		t.Fatalf("expected a single trade exiting at bar 3, got %+v", res.Trades)
	}
}

func TestEngine_Pyramiding(t *testing.T) {
	s := seriesWith(flatBars(100, 100, 110, 120, 130))
	s.Signals.LongEntry[0] = true
	s.Signals.LongEntry[1] = true

	cfg := zeroCommission()
	cfg.SizingType = SizeFixedUnits
	cfg.PositionSize = 10

	single := mustRun(t, cfg, s)
	assertClose(t, "no pyramiding gross", single.Trades[0].GrossPnL, 300, 1e-9)

	cfg.Pyramiding = true
	pyr := mustRun(t, cfg, s)
	if len(pyr.Trades) != 1 {
		t.Fatalf("expected 1 combined trade, got %d", len(pyr.Trades))
	}
	tr := pyr.Trades[0]
	assertClose(t, "size", tr.Size, 20, 1e-9)
	assertClose(t, "avg entry", tr.EntryPrice, 105, 1e-9)
	assertClose(t, "gross", tr.GrossPnL, 500, 1e-9)
	assertClose(t, "equity bar 2", pyr.Equity[2].Equity, 100100, 1e-9)
}

// ────────────────────────────────────────────────────────────
// Errors
// ────────────────────────────────────────────────────────────

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero_capital", func(c *Config) { c.InitialCapital = 0 }},
		{"negative_commission", func(c *Config) { c.Commission = -1 }},
		{"huge_percent_commission", func(c *Config) { c.Commission = 100 }},
		{"unknown_commission_type", func(c *Config) { c.CommissionType = "bps" }},
		{"unknown_sizing", func(c *Config) { c.SizingType = "kelly" }},
		{"zero_size", func(c *Config) { c.PositionSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if _, err := NewEngine(cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestEngine_RejectsInvalidSeries(t *testing.T) {
	bars := distinctBars(5)
	bars[3].Time = bars[2].Time
	eng, _ := NewEngine(DefaultConfig())
	if _, err := eng.Run(seriesWith(bars)); !errors.Is(err, model.ErrInvalidData) {
		t.Errorf("expected ErrInvalidData, got %v", err)
	}
}

func TestEngine_MissingSignalsTreatedAsFalse(t *testing.T) {
	s := model.NewSeries(distinctBars(5))
	s.Signals.LongEntry = []bool{false, true, false, false, false}
	res := mustRun(t, DefaultConfig(), s)
	if len(res.Trades) != 1 {
		t.Errorf("expected 1 trade, got %d", len(res.Trades))
	}
}
