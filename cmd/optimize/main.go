// cmd/optimize grid-searches one or all strategies over a set of datasets and
// prints the leaderboard ranked by profit-to-drawdown.
//
// Usage:
//
//	go run ./cmd/optimize -strategy=sma_crossover -data-dir=data -top=10
//	go run ./cmd/optimize -all -data-dir=data -filter -redis=localhost:6379 -db=data/backtest.db -serve
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"tvbacktest/config"
	"tvbacktest/internal/api"
	"tvbacktest/internal/dataset"
	"tvbacktest/internal/logger"
	"tvbacktest/internal/metrics"
	"tvbacktest/internal/model"
	"tvbacktest/internal/notification"
	"tvbacktest/internal/optimizer"
	"tvbacktest/internal/progress"
	"tvbacktest/internal/store/parquet"
	redisstore "tvbacktest/internal/store/redis"
	sqlitestore "tvbacktest/internal/store/sqlite"
	"tvbacktest/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	os.Exit(run())
}

// run wires the services, optimizes each strategy and returns the exit code.
func run() int {

	configPath := flag.String("config", "", "YAML config file (optional)")
	strategyName := flag.String("strategy", "sma_crossover", "Strategy to optimize")
	all := flag.Bool("all", false, "Optimize every built-in strategy")
	dataDir := flag.String("data-dir", "", "Directory of CSV/Parquet datasets (overrides config)")
	symbols := flag.String("symbols", "", "Comma-separated symbols to read from -db or -parquet instead of -data-dir")
	parquetDir := flag.String("parquet", "", "Parquet bar store directory (with -symbols)")
	maxVariants := flag.Int("max-variants", 0, "Variant cap (overrides config)")
	workers := flag.Int("workers", -1, "Concurrent cells, 0 = GOMAXPROCS (overrides config)")
	reduction := flag.String("reduction", "", "mean|worst (overrides config)")
	top := flag.Int("top", 20, "Leaderboard rows to print")
	filter := flag.Bool("filter", false, "Rank variants failing the profit/drawdown filters last")
	minProfit := flag.Float64("min-profit", 0, "Filter: average net profit % must exceed this")
	maxDD := flag.Float64("max-dd", 0, "Filter: average max drawdown % must not exceed this (0 keeps config)")
	redisAddr := flag.String("redis", "", "Redis address for the cell result cache (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "Serve /metrics and /healthz here (overrides config)")
	wsAddr := flag.String("ws-addr", "", "Serve the progress stream and run API here (overrides config)")
	dbPath := flag.String("db", "", "SQLite database to persist runs in (overrides config; \"-\" disables)")
	serve := flag.Bool("serve", false, "Keep the HTTP servers up after the run until interrupted")
	logLevel := flag.String("log-level", "", "debug|info|warn|error (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[optimize] config: %v", err)
	}
	applyFlags(cfg, flagOverrides{
		dataDir: *dataDir, maxVariants: *maxVariants, workers: *workers, reduction: *reduction,
		filter: *filter, minProfit: *minProfit, maxDD: *maxDD, redisAddr: *redisAddr,
		metricsAddr: *metricsAddr, wsAddr: *wsAddr, dbPath: *dbPath, logLevel: *logLevel,
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[optimize] %v", err)
	}
	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("[optimize] %v", err)
	}
	slog.SetDefault(logger.New(os.Stderr, "optimize", level, cfg.Logging.Format))

	registry := strategy.Builtins()
	var defs []strategy.Definition
	if *all {
		defs = registry.List()
	} else {
		def, ok := registry.Get(*strategyName)
		if !ok {
			log.Fatalf("[optimize] unknown strategy %q", *strategyName)
		}
		defs = []strategy.Definition{def}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[optimize] interrupt received, stopping...")
		cancel()
	}()

	// ---- Persistence ----
	var store *sqlitestore.Store
	if cfg.Storage.SQLitePath != "" {
		store, err = sqlitestore.Open(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatalf("[optimize] sqlite open failed: %v", err)
		}
		defer store.Close()
	}

	datasets, err := loadDatasets(ctx, cfg, store, *symbols, *parquetDir)
	if err != nil {
		log.Fatalf("[optimize] %v", err)
	}

	// ---- Observability ----
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus()
	hub := progress.NewHub(0)

	var servers []*http.Server
	if cfg.Server.MetricsAddr != "" {
		ms := metrics.NewServer(cfg.Server.MetricsAddr, reg, health)
		ms.Start()
		defer shutdown(ms.Stop)
	}
	if cfg.Server.WSAddr != "" {
		var runs api.RunStore
		if store != nil {
			runs = store
		}
		srv := &http.Server{Addr: cfg.Server.WSAddr, Handler: api.NewRouter(registry, runs, hub)}
		go func() {
			log.Printf("[optimize] progress stream at ws://localhost%s/api/v1/stream", cfg.Server.WSAddr)
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				log.Printf("[optimize] server error: %v", err)
			}
		}()
		servers = append(servers, srv)
	}
	defer func() {
		for _, srv := range servers {
			shutdown(func(ctx context.Context) { srv.Shutdown(ctx) })
		}
	}()

	// ---- Result cache ----
	opts := []optimizer.Option{
		optimizer.WithLogger(slog.Default()),
		optimizer.WithObserver(m),
		optimizer.WithObserver(health),
		optimizer.WithObserver(hub),
	}
	var (
		cache *redisstore.BufferedCache
		rdb   *goredis.Client
		sqlDB *sql.DB
	)
	if cfg.Redis.Addr != "" {
		rc, err := redisstore.New(redisstore.CacheConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			TTL:         cfg.Redis.TTL,
			MaxFailures: cfg.Redis.MaxFailures,
		})
		if err != nil {
			log.Printf("[optimize] redis unavailable, running without cache: %v", err)
		} else {
			defer rc.Close()
			rc.Breaker().OnStateChange = func(from, to redisstore.State) {
				m.RedisCircuitBreakerState.Set(float64(to))
				if to == redisstore.StateOpen {
					m.RedisCircuitBreakerTrips.Inc()
				}
				log.Printf("[redis] circuit breaker %s -> %s", from, to)
			}
			cache = redisstore.NewBufferedCache(ctx, rc, 0)
			opts = append(opts, optimizer.WithCache(cache))
			rdb = rc.Client()
			health.CheckRedis(ctx, rdb)
		}
	}
	if store != nil {
		sqlDB = store.DB()
		health.CheckSQLite(ctx, sqlDB)
	}
	health.StartLivenessChecker(ctx, rdb, sqlDB, 5*time.Second)

	notifier := buildNotifier(cfg.Notify)

	// ---- Runs ----
	exitCode := 0
	for _, def := range defs {
		if ctx.Err() != nil {
			break
		}
		runCtx := logger.WithTraceID(ctx, logger.GenerateTraceID(def.Name, time.Now()))
		if err := runOne(runCtx, def, cfg, datasets, opts, *top, health, m, hub, store, cache, notifier); err != nil {
			log.Printf("[optimize] %s: %v", def.Name, err)
			exitCode = 1
		}
	}

	if cache != nil {
		if err := cache.Flush(context.Background()); err != nil {
			log.Printf("[optimize] %d cache writes left unflushed", cache.PendingCount())
		}
	}

	if *serve && ctx.Err() == nil && (cfg.Server.MetricsAddr != "" || cfg.Server.WSAddr != "") {
		log.Println("[optimize] run complete, serving until interrupted")
		<-ctx.Done()
	}
	return exitCode
}

func runOne(ctx context.Context, def strategy.Definition, cfg *config.Config, datasets []model.Dataset,
	opts []optimizer.Option, top int, health *metrics.HealthStatus, m *metrics.Metrics, hub *progress.Hub,
	store *sqlitestore.Store, cache *redisstore.BufferedCache, notifier notification.Notifier) error {

	opt, err := optimizer.New(def, cfg.Engine, cfg.Optimizer, opts...)
	if err != nil {
		return err
	}
	cells := optimizer.NewGrid(def.Space, cfg.Optimizer.MaxVariants).Len() * len(datasets)
	health.StartRun(def.Name, cells)
	slog.Info("run started", append(logger.LogWithTrace(ctx), "strategy", def.Name, "cells", cells)...)

	report, runErr := opt.Run(ctx, datasets)
	if report == nil {
		return runErr
	}
	m.ObserveReport(report)
	hub.Finish(report)

	fmt.Printf("\n%s: %d variants x %d datasets in %s\n", report.Strategy, len(report.Variants), len(report.Datasets), report.Elapsed.Round(time.Millisecond))
	fmt.Print(report.Leaderboard(top))
	if best, ok := report.Best(); ok {
		fmt.Printf("Best: %s (score %.2f)\n", best.Params.Format(report.ParamNames), best.Score)
	} else {
		fmt.Println("Best: none (no eligible variant could be scored)")
	}

	if runErr != nil {
		// Partial reports are shown but not persisted.
		return runErr
	}

	runID := ""
	if store != nil {
		runID, err = store.SaveReport(ctx, report, cfg.Engine, cfg.Optimizer)
		if err != nil {
			return fmt.Errorf("save report: %w", err)
		}
		fmt.Printf("Saved run %s\n", runID)
	}
	if cache != nil {
		if err := cache.PublishReport(ctx, runID, report); err != nil && !errors.Is(err, redisstore.ErrCircuitOpen) {
			log.Printf("[optimize] publish leaderboard: %v", err)
		}
	}
	if notifier != nil {
		if err := notifier.Send(ctx, notification.RunAlert(runID, report)); err != nil {
			log.Printf("[optimize] notify: %v", err)
		}
	}
	return nil
}

// buildNotifier returns nil when no alert channel is configured.
func buildNotifier(cfg config.Notify) notification.Notifier {
	var ns notification.Multi
	if cfg.WebhookURL != "" {
		ns = append(ns, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		ns = append(ns, notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if len(ns) == 0 {
		return nil
	}
	return append(ns, notification.NewLogNotifier())
}

func loadDatasets(ctx context.Context, cfg *config.Config, store *sqlitestore.Store, symbols, parquetDir string) ([]model.Dataset, error) {
	if symbols == "" {
		return dataset.LoadDir(cfg.Storage.DataDir)
	}
	var syms []string
	for _, s := range strings.Split(symbols, ",") {
		if s = strings.TrimSpace(s); s != "" {
			syms = append(syms, s)
		}
	}
	switch {
	case parquetDir != "":
		return dataset.LoadStore(ctx, parquet.New(parquetDir), syms, time.Time{}, time.Time{})
	case store != nil:
		return dataset.LoadStore(ctx, store, syms, time.Time{}, time.Time{})
	}
	return nil, fmt.Errorf("-symbols needs -db or -parquet")
}

type flagOverrides struct {
	dataDir     string
	maxVariants int
	workers     int
	reduction   string
	filter      bool
	minProfit   float64
	maxDD       float64
	redisAddr   string
	metricsAddr string
	wsAddr      string
	dbPath      string
	logLevel    string
}

func applyFlags(cfg *config.Config, f flagOverrides) {
	if f.dataDir != "" {
		cfg.Storage.DataDir = f.dataDir
	}
	if f.maxVariants > 0 {
		cfg.Optimizer.MaxVariants = f.maxVariants
	}
	if f.workers >= 0 {
		cfg.Optimizer.Workers = f.workers
	}
	if f.reduction != "" {
		cfg.Optimizer.Reduction = optimizer.Reduction(f.reduction)
	}
	if f.filter {
		cfg.Optimizer.ApplyFilters = true
		cfg.Optimizer.MinNetProfitPct = f.minProfit
		if f.maxDD > 0 {
			cfg.Optimizer.MaxDrawdownPct = f.maxDD
		}
	}
	if f.redisAddr != "" {
		cfg.Redis.Addr = f.redisAddr
	}
	if f.metricsAddr != "" {
		cfg.Server.MetricsAddr = f.metricsAddr
	}
	if f.wsAddr != "" {
		cfg.Server.WSAddr = f.wsAddr
	}
	switch f.dbPath {
	case "":
	case "-":
		cfg.Storage.SQLitePath = ""
	default:
		cfg.Storage.SQLitePath = f.dbPath
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
}

func shutdown(stop func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stop(ctx)
}
