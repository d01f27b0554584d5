package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"tvbacktest/internal/backtest"
	"tvbacktest/internal/model"
	"tvbacktest/internal/optimizer"
	sqlitestore "tvbacktest/internal/store/sqlite"
	"tvbacktest/internal/strategy"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func openStore(t *testing.T) *sqlitestore.Store {
	t.Helper()
	s, err := sqlitestore.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRouter_Strategies(t *testing.T) {
	mux := NewRouter(strategy.Builtins(), nil, nil)
	rec := get(t, mux, "/api/v1/strategies")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var out []strategyInfo
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 5 || out[0].Name != "sma_crossover" {
		t.Fatalf("strategies: got %+v", out)
	}
	if out[0].Variants != 18 || len(out[0].Space["fast"]) != 3 {
		t.Errorf("sma space: got %+v", out[0])
	}
}

func TestRouter_RunAndTrades(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	r := &optimizer.Report{
		Strategy: "sma_crossover",
		Datasets: []string{"NIFTY"},
		Cells:    2,
		Variants: []optimizer.VariantResult{
			{Rank: 1, Params: strategy.Params{"fast": 9}, Score: 1.5, Scored: 1, Eligible: true},
			{Rank: 2, Index: 1, Params: strategy.Params{"fast": 5}, Score: optimizer.SentinelScore},
		},
	}
	runID, err := s.SaveReport(ctx, r, backtest.DefaultConfig(), optimizer.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	t0 := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	trades := []model.Trade{{Side: model.Long, EntryTime: t0, ExitTime: t0.AddDate(0, 0, 3), EntryPrice: 100, ExitPrice: 110, Size: 1, NetPnL: 10}}
	if err := s.RecordTrades(ctx, runID, "sma_crossover", "NIFTY", trades); err != nil {
		t.Fatal(err)
	}

	mux := NewRouter(strategy.Builtins(), s, nil)

	rec := get(t, mux, "/api/v1/runs/"+runID+"?top=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("run status: got %d: %s", rec.Code, rec.Body.String())
	}
	var run struct {
		ID       string `json:"id"`
		Strategy string `json:"strategy"`
		Variants []struct {
			Rank  int      `json:"rank"`
			Score *float64 `json:"score"`
		} `json:"variants"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&run); err != nil {
		t.Fatal(err)
	}
	if run.ID != runID || run.Strategy != "sma_crossover" || len(run.Variants) != 1 || *run.Variants[0].Score != 1.5 {
		t.Errorf("run: got %+v", run)
	}

	rec = get(t, mux, "/api/v1/runs/"+runID+"/trades")
	var got []sqlitestore.TradeRecord
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].NetPnL != 10 || got[0].Symbol != "NIFTY" {
		t.Errorf("trades: got %+v", got)
	}
}

func TestRouter_Errors(t *testing.T) {
	mux := NewRouter(strategy.Builtins(), openStore(t), nil)

	if rec := get(t, mux, "/api/v1/runs/missing"); rec.Code != http.StatusNotFound {
		t.Errorf("missing run: got %d, want 404", rec.Code)
	}
	if rec := get(t, mux, "/api/v1/runs/x?top=abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad top: got %d, want 400", rec.Code)
	}
	if rec := get(t, mux, "/api/v1/stream"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("stream without hub: got %d, want 503", rec.Code)
	}

	bare := NewRouter(strategy.Builtins(), nil, nil)
	if rec := get(t, bare, "/api/v1/runs/x/trades"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("no store: got %d, want 503", rec.Code)
	}
	if rec := get(t, bare, "/api/v1/health"); rec.Code != http.StatusOK || rec.Body.String() != `{"status":"ok"}` {
		t.Errorf("health: got %d %s", rec.Code, rec.Body.String())
	}
}
