package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tvbacktest/internal/optimizer"
)

// Metrics holds all Prometheus metrics for backtest and optimizer runs.
type Metrics struct {
	// Optimizer cells, labelled by strategy and status=ok|failed|cached.
	CellsTotal   *prometheus.CounterVec
	CellDuration *prometheus.HistogramVec // labels: strategy

	// Whole runs
	RunsTotal   *prometheus.CounterVec // labels: strategy
	RunDuration *prometheus.HistogramVec
	BestScore   *prometheus.GaugeVec // labels: strategy
	Variants    *prometheus.GaugeVec // labels: strategy

	// Trades simulated by freshly evaluated cells
	TradesTotal prometheus.Counter

	// Circuit breaker in front of the Redis result cache
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CellsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tvbt_optimizer_cells_total",
			Help: "Optimizer cells finished (by strategy and status)",
		}, []string{"strategy", "status"}),
		CellDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tvbt_optimizer_cell_duration_seconds",
			Help:    "Wall time of one variant x dataset backtest",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"strategy"}),

		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tvbt_optimizer_runs_total",
			Help: "Completed optimizer runs",
		}, []string{"strategy"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tvbt_optimizer_run_duration_seconds",
			Help:    "Wall time of a full grid search",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"strategy"}),
		BestScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tvbt_optimizer_best_score",
			Help: "Score of the top-ranked variant of the last run",
		}, []string{"strategy"}),
		Variants: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tvbt_optimizer_variants",
			Help: "Variants evaluated in the last run",
		}, []string{"strategy"}),

		TradesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tvbt_optimizer_trades_total",
			Help: "Trades closed by freshly evaluated optimizer cells",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tvbt_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tvbt_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
	}

	reg.MustRegister(
		m.CellsTotal,
		m.CellDuration,
		m.RunsTotal,
		m.RunDuration,
		m.BestScore,
		m.Variants,
		m.TradesTotal,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
	)

	return m
}

// OnCell records one finished optimizer cell.
func (m *Metrics) OnCell(c optimizer.CellResult) {
	status := "ok"
	switch {
	case !c.OK():
		status = "failed"
	case c.Cached:
		status = "cached"
	}
	m.CellsTotal.WithLabelValues(c.Strategy, status).Inc()
	if !c.Cached {
		m.CellDuration.WithLabelValues(c.Strategy).Observe(c.Duration.Seconds())
		if c.OK() {
			m.TradesTotal.Add(float64(c.Metrics.TotalTrades))
		}
	}
}

// ObserveReport records the outcome of a finished run.
func (m *Metrics) ObserveReport(r *optimizer.Report) {
	m.RunsTotal.WithLabelValues(r.Strategy).Inc()
	m.RunDuration.WithLabelValues(r.Strategy).Observe(r.Elapsed.Seconds())
	m.Variants.WithLabelValues(r.Strategy).Set(float64(len(r.Variants)))
	if best, ok := r.Best(); ok {
		m.BestScore.WithLabelValues(r.Strategy).Set(best.Score)
	}
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisEnabled   bool `json:"redis_enabled"`
	RedisConnected bool `json:"redis_connected"`
	SQLiteEnabled  bool `json:"sqlite_enabled"`
	SQLiteOK       bool `json:"sqlite_ok"`

	// Progress of the current run
	Strategy  string `json:"strategy"`
	CellsDone int    `json:"cells_done"`
	CellsAll  int    `json:"cells_all"`
	Failed    int    `json:"failed"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

// StartRun resets progress for a run of cells cells.
func (h *HealthStatus) StartRun(strategy string, cells int) {
	h.mu.Lock()
	h.Strategy = strategy
	h.CellsDone = 0
	h.CellsAll = cells
	h.Failed = 0
	h.mu.Unlock()
}

// OnCell advances run progress.
func (h *HealthStatus) OnCell(c optimizer.CellResult) {
	h.mu.Lock()
	h.CellsDone++
	if !c.OK() {
		h.Failed++
	}
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteEnabled = true
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil dependencies are
// skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint. Only enabled dependencies count
// towards the overall status.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	redisDown := h.RedisEnabled && !h.RedisConnected
	sqliteDown := h.SQLiteEnabled && !h.SQLiteOK

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if redisDown || sqliteDown {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if redisDown && sqliteDown {
		overallStatus = "unhealthy"
	}

	progress := 0.0
	if h.CellsAll > 0 {
		progress = float64(h.CellsDone) / float64(h.CellsAll) * 100
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		Strategy        string  `json:"strategy,omitempty"`
		CellsDone       int     `json:"cells_done"`
		CellsAll        int     `json:"cells_all"`
		Failed          int     `json:"failed"`
		ProgressPct     float64 `json:"progress_pct"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		Strategy:        h.Strategy,
		CellsDone:       h.CellsDone,
		CellsAll:        h.CellsAll,
		Failed:          h.Failed,
		ProgressPct:     progress,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server serving metrics from g.
func NewServer(addr string, g prometheus.Gatherer, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
