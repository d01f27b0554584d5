// cmd/backtest runs one strategy with one parameter set over one dataset and
// prints a TradingView-style performance report.
//
// Usage:
//
//	go run ./cmd/backtest -strategy=sma_crossover -data=data/NIFTY_D.csv -params=fast=9,slow=21
//	go run ./cmd/backtest -strategy=nifty_momentum -db=data/backtest.db -symbol=NIFTY -journal
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"tvbacktest/config"
	"tvbacktest/internal/backtest"
	"tvbacktest/internal/dataset"
	"tvbacktest/internal/indicator"
	"tvbacktest/internal/logger"
	"tvbacktest/internal/model"
	"tvbacktest/internal/store/parquet"
	sqlitestore "tvbacktest/internal/store/sqlite"
	"tvbacktest/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	configPath := flag.String("config", "", "YAML config file (optional)")
	strategyName := flag.String("strategy", "sma_crossover", "Strategy name")
	list := flag.Bool("list", false, "List strategies and their parameters, then exit")
	dataPath := flag.String("data", "", "CSV or Parquet file to backtest")
	dbPath := flag.String("db", "", "SQLite database (bars source with -symbol, trade journal with -journal)")
	parquetDir := flag.String("parquet", "", "Parquet bar store directory (bars source with -symbol)")
	symbol := flag.String("symbol", "", "Symbol to read from -db or -parquet")
	from := flag.String("from", "", "First bar time to include (store sources)")
	to := flag.String("to", "", "Last bar time to include (store sources)")
	paramStr := flag.String("params", "", "Parameter overrides: name=value,...")
	capital := flag.Float64("capital", 0, "Initial capital (overrides config)")
	commission := flag.Float64("commission", -1, "Commission per fill (overrides config)")
	showTrades := flag.Bool("trades", false, "Print the trade list")
	indicatorRows := flag.Int("indicators", 0, "Print the last N rows of indicator columns")
	extraIndicators := flag.String("add-indicators", "", "Extra columns to compute for -indicators, e.g. SMA:50,RSI:14")
	journal := flag.Bool("journal", false, "Record trades in the SQLite journal (-db)")
	storeBars := flag.Bool("store-bars", false, "Copy the -data bars into -db and/or -parquet under -symbol")
	logLevel := flag.String("log-level", "", "debug|info|warn|error (overrides config)")
	flag.Parse()

	registry := strategy.Builtins()
	if *list {
		printStrategies(registry)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[backtest] config: %v", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	slog.SetDefault(logger.New(os.Stderr, "backtest", level, cfg.Logging.Format))

	if *capital > 0 {
		cfg.Engine.InitialCapital = *capital
	}
	if *commission >= 0 {
		cfg.Engine.Commission = *commission
	}

	def, ok := registry.Get(*strategyName)
	if !ok {
		log.Fatalf("[backtest] unknown strategy %q (use -list)", *strategyName)
	}
	params, err := strategy.ParseParams(*paramStr)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	strat, err := def.FromParams(params)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var store *sqlitestore.Store
	if *dbPath != "" {
		store, err = sqlitestore.Open(*dbPath)
		if err != nil {
			log.Fatalf("[backtest] sqlite open failed: %v", err)
		}
		defer store.Close()
	}

	ds, err := loadDataset(ctx, *dataPath, store, *parquetDir, *symbol, *from, *to)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	for _, issue := range dataset.Check(ds.Series) {
		slog.Warn("dataset check", "dataset", ds.Name, "issue", issue)
	}

	if *storeBars {
		if err := copyBars(ctx, ds, *symbol, store, *parquetDir); err != nil {
			log.Fatalf("[backtest] %v", err)
		}
	}

	runID := sqlitestore.NewRunID()
	ctx = logger.WithTraceID(ctx, runID)
	slog.Info("backtest started", append(logger.LogWithTrace(ctx),
		"strategy", strat.Name(), "params", strat.Params().String(), "dataset", ds.Name, "bars", ds.Series.Len())...)

	series := ds.Series.Clone()
	if err := strat.ComputeSignals(series); err != nil {
		log.Fatalf("[backtest] signals: %v", err)
	}
	engine, err := backtest.NewEngine(cfg.Engine)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	start := time.Now()
	res, err := engine.Run(series)
	if err != nil {
		log.Fatalf("[backtest] run: %v", err)
	}
	m := backtest.Calculate(res)
	slog.Info("backtest finished", append(logger.LogWithTrace(ctx),
		"trades", m.TotalTrades, "net_profit_pct", m.NetProfitPct, "elapsed", time.Since(start))...)

	fmt.Printf("%s  %s on %s (%d bars)\n", strat.Name(), strat.Params().String(), ds.Name, ds.Series.Len())
	fmt.Println(m.FormatReport())
	if res.OpenPosition != nil {
		fmt.Printf("Open position at end: %s %.4f @ %.2f\n", res.OpenPosition.Side, res.OpenPosition.Size, res.OpenPosition.EntryPrice)
	}
	if *showTrades && len(res.Trades) > 0 {
		fmt.Println()
		fmt.Print(backtest.FormatTrades(res.Trades))
	}
	if *indicatorRows > 0 {
		indicator.Apply(series, indicator.ParseConfigs(*extraIndicators))
		fmt.Println()
		fmt.Print(formatIndicators(series, *indicatorRows))
	}

	if *journal {
		if store == nil {
			log.Fatal("[backtest] -journal requires -db")
		}
		if err := store.RecordTrades(ctx, runID, strat.Name(), ds.Name, res.Trades); err != nil {
			log.Fatalf("[backtest] journal: %v", err)
		}
		fmt.Printf("\nJournal run ID: %s\n", runID)
	}
}

// loadDataset reads bars from a file when -data is given, otherwise from a
// bar store under -symbol.
func loadDataset(ctx context.Context, path string, store *sqlitestore.Store, parquetDir, symbol, from, to string) (model.Dataset, error) {
	if path != "" {
		return dataset.LoadFile(path)
	}
	if symbol == "" {
		return model.Dataset{}, fmt.Errorf("need -data, or -symbol with -db or -parquet")
	}
	start, err := parseBound(from)
	if err != nil {
		return model.Dataset{}, err
	}
	end, err := parseBound(to)
	if err != nil {
		return model.Dataset{}, err
	}

	var reader model.BarReader
	switch {
	case parquetDir != "":
		reader = parquet.New(parquetDir)
	case store != nil:
		reader = store
	default:
		return model.Dataset{}, fmt.Errorf("-symbol needs -db or -parquet")
	}
	ds, err := dataset.LoadStore(ctx, reader, []string{symbol}, start, end)
	if err != nil {
		return model.Dataset{}, err
	}
	return ds[0], nil
}

func parseBound(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return dataset.ParseTime(s, dataset.DefaultLocation)
}

func copyBars(ctx context.Context, ds model.Dataset, symbol string, store *sqlitestore.Store, parquetDir string) error {
	if symbol == "" {
		symbol = ds.Name
	}
	var writers []model.BarWriter
	if store != nil {
		writers = append(writers, store)
	}
	if parquetDir != "" {
		writers = append(writers, parquet.New(parquetDir))
	}
	if len(writers) == 0 {
		return fmt.Errorf("-store-bars needs -db or -parquet")
	}
	for _, w := range writers {
		if err := w.WriteBars(ctx, symbol, ds.Series.Bars); err != nil {
			return fmt.Errorf("store bars: %w", err)
		}
	}
	return nil
}

func printStrategies(r *strategy.Registry) {
	for _, d := range r.List() {
		fmt.Printf("%-16s %-9s defaults: %s\n", d.Name, d.Type, d.Defaults.String())
		for _, p := range d.Space {
			vals := make([]string, len(p.Values))
			for i, v := range p.Values {
				vals[i] = fmt.Sprint(v)
			}
			fmt.Printf("%18s %s: [%s]\n", "", p.Name, strings.Join(vals, " "))
		}
	}
}

// formatIndicators renders the last n rows of every indicator column.
func formatIndicators(s *model.Series, n int) string {
	names := make([]string, 0, len(s.Columns))
	for name := range s.Columns {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "%-19s %12s", "time", "close")
	for _, name := range names {
		fmt.Fprintf(&b, " %14s", name)
	}
	b.WriteByte('\n')

	first := s.Len() - n
	if first < 0 {
		first = 0
	}
	for i := first; i < s.Len(); i++ {
		fmt.Fprintf(&b, "%-19s %12.2f", s.Bars[i].Time.Format("2006-01-02 15:04:05"), s.Bars[i].Close)
		for _, name := range names {
			v := s.Columns[name][i]
			if math.IsNaN(v) {
				fmt.Fprintf(&b, " %14s", "NaN")
				continue
			}
			fmt.Fprintf(&b, " %14.4f", v)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
