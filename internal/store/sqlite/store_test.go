package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tvbacktest/internal/backtest"
	"tvbacktest/internal/model"
	"tvbacktest/internal/optimizer"
	"tvbacktest/internal/strategy"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func dailyBars(n int) []model.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]model.Bar, n)
	for i := range bars {
		c := 100 + float64(i)
		bars[i] = model.Bar{Time: start.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 10}
	}
	return bars
}

func TestBars_RoundTripAndRange(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	var _ model.BarReader = s
	var _ model.BarWriter = s

	bars := dailyBars(10)
	if err := s.WriteBars(ctx, "NIFTY", bars); err != nil {
		t.Fatal(err)
	}
	// upsert of an overlapping batch must not duplicate rows
	if err := s.WriteBars(ctx, "NIFTY", bars[5:]); err != nil {
		t.Fatal(err)
	}

	all, err := s.ReadBars(ctx, "NIFTY", time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 10 {
		t.Fatalf("ReadBars: got %d bars, want 10", len(all))
	}
	if !all[3].Time.Equal(bars[3].Time) || all[3].Close != 103 {
		t.Errorf("bar 3: got %+v", all[3])
	}

	some, err := s.ReadBars(ctx, "NIFTY", bars[2].Time, bars[4].Time)
	if err != nil {
		t.Fatal(err)
	}
	if len(some) != 3 {
		t.Errorf("range read: got %d bars, want 3", len(some))
	}

	last, err := s.GetLastTimestamp(ctx, "NIFTY")
	if err != nil || !last.Equal(bars[9].Time) {
		t.Errorf("GetLastTimestamp: got %v, %v", last, err)
	}
	if last, _ := s.GetLastTimestamp(ctx, "NONE"); !last.IsZero() {
		t.Errorf("unknown symbol: got %v, want zero time", last)
	}

	syms, err := s.Symbols(ctx)
	if err != nil || len(syms) != 1 || syms[0] != "NIFTY" {
		t.Errorf("Symbols: got %v, %v", syms, err)
	}
}

func TestJournal_RecordAndGet(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	entry := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	trades := []model.Trade{
		{Side: model.Long, EntryTime: entry, EntryPrice: 100, ExitTime: entry.AddDate(0, 0, 2), ExitPrice: 110,
			Size: 10, GrossPnL: 100, Commission: 2.1, NetPnL: 97.9, ExitReason: model.ExitSignal},
		{Side: model.Short, EntryTime: entry.AddDate(0, 0, 3), EntryPrice: 110, ExitTime: entry.AddDate(0, 0, 5), ExitPrice: 112,
			Size: 10, GrossPnL: -20, Commission: 2.22, NetPnL: -22.22, ExitReason: model.ExitEndOfData},
	}
	runID := NewRunID()
	if err := s.RecordTrades(ctx, runID, "sma_crossover", "NIFTY", trades); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetTrades(ctx, runID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d trades, want 2", len(got))
	}
	if got[1].Side != model.Short || got[1].ExitReason != model.ExitEndOfData || got[1].NetPnL != -22.22 {
		t.Errorf("trade 1: got %+v", got[1])
	}
	if !got[0].ExitTime.Equal(trades[0].ExitTime) || got[0].Strategy != "sma_crossover" {
		t.Errorf("trade 0: got %+v", got[0])
	}
}

func TestSaveReport_Leaderboard(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	r := &optimizer.Report{
		Strategy: "rsi_reversal",
		Datasets: []string{"A", "B"},
		Variants: []optimizer.VariantResult{
			{Rank: 1, Index: 4, Params: strategy.Params{"length": 14}, Score: 2.5, Scored: 2, Eligible: true, AvgNetProfitPct: 12},
			{Rank: 2, Index: 0, Params: strategy.Params{"length": 7}, Score: optimizer.SentinelScore, Eligible: true},
		},
		Cells:   4,
		Elapsed: 1500 * time.Millisecond,
	}
	runID, err := s.SaveReport(ctx, r, backtest.DefaultConfig(), optimizer.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	run, err := s.GetRun(ctx, runID)
	if err != nil {
		t.Fatal(err)
	}
	if run.Strategy != "rsi_reversal" || len(run.Datasets) != 2 || run.Elapsed != 1500*time.Millisecond {
		t.Errorf("run: got %+v", run)
	}

	rows, err := s.Leaderboard(ctx, runID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Score == nil || *rows[0].Score != 2.5 || rows[0].Params.Int("length") != 14 {
		t.Errorf("row 0: got %+v", rows[0])
	}
	if rows[1].Score != nil {
		t.Errorf("sentinel score should load as nil, got %v", *rows[1].Score)
	}

	top, err := s.Leaderboard(ctx, runID, 1)
	if err != nil || len(top) != 1 {
		t.Errorf("top 1: got %d rows, %v", len(top), err)
	}
}
