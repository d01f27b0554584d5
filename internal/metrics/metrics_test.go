package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"tvbacktest/internal/backtest"
	"tvbacktest/internal/optimizer"
)

func TestOnCell_CountsByStatus(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.OnCell(optimizer.CellResult{Strategy: "sma", Duration: time.Millisecond, Metrics: backtest.Metrics{TotalTrades: 4}})
	m.OnCell(optimizer.CellResult{Strategy: "sma", Duration: time.Millisecond})
	m.OnCell(optimizer.CellResult{Strategy: "sma", Cached: true, Metrics: backtest.Metrics{TotalTrades: 9}})
	m.OnCell(optimizer.CellResult{Strategy: "sma", Err: errors.New("boom")})

	tests := []struct {
		status string
		want   float64
	}{
		{"ok", 2},
		{"cached", 1},
		{"failed", 1},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(m.CellsTotal.WithLabelValues("sma", tt.status))
		if got != tt.want {
			t.Errorf("cells{status=%s}: got %v, want %v", tt.status, got, tt.want)
		}
	}
	if got := testutil.ToFloat64(m.TradesTotal); got != 4 {
		t.Errorf("trades: got %v, want 4 (cached cells excluded)", got)
	}
}

func TestObserveReport(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	r := &optimizer.Report{
		Strategy: "rsi",
		Variants: []optimizer.VariantResult{{Score: 2.5, Eligible: true, Scored: 1}, {Score: 1}},
		Elapsed:  time.Second,
	}
	m.ObserveReport(r)

	if got := testutil.ToFloat64(m.BestScore.WithLabelValues("rsi")); got != 2.5 {
		t.Errorf("best score: got %v, want 2.5", got)
	}
	if got := testutil.ToFloat64(m.Variants.WithLabelValues("rsi")); got != 2 {
		t.Errorf("variants: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("rsi")); got != 1 {
		t.Errorf("runs: got %v, want 1", got)
	}
}

func TestHealthz(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	health := NewHealthStatus()
	health.StartRun("sma", 4)
	health.OnCell(optimizer.CellResult{})
	health.OnCell(optimizer.CellResult{Err: errors.New("x")})

	srv := NewServer(":0", reg, health)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status code: got %d, want 200", rec.Code)
	}
	var body struct {
		Status      string  `json:"status"`
		CellsDone   int     `json:"cells_done"`
		Failed      int     `json:"failed"`
		ProgressPct float64 `json:"progress_pct"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "healthy" || body.CellsDone != 2 || body.Failed != 1 || body.ProgressPct != 50 {
		t.Errorf("got %+v", body)
	}

	health.mu.Lock()
	health.RedisEnabled = true
	health.mu.Unlock()
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("redis down: got %d, want 503", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.TradesTotal.Add(3)

	srv := NewServer(":0", reg, NewHealthStatus())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "tvbt_optimizer_trades_total 3") {
		t.Errorf("metrics output missing trades counter:\n%s", rec.Body.String())
	}
}
