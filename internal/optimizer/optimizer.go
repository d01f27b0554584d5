// Package optimizer runs a strategy over every parameter variant of its
// search space on every dataset, scores each variant and ranks them.
//
// Cells (variant x dataset) are independent and run on a bounded worker
// pool. Results are gathered by a single collector and placed by index, so
// the ranking never depends on completion order.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"tvbacktest/internal/backtest"
	"tvbacktest/internal/model"
	"tvbacktest/internal/strategy"
)

// Observer is notified of every finished cell from the collector goroutine.
// Implementations must not block for long.
type Observer interface {
	OnCell(c CellResult)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(c CellResult)

func (f ObserverFunc) OnCell(c CellResult) { f(c) }

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithCache consults c before evaluating each cell and stores new results.
func WithCache(c Cache) Option { return func(o *Optimizer) { o.cache = c } }

// WithObserver adds a cell observer.
func WithObserver(obs Observer) Option {
	return func(o *Optimizer) { o.observers = append(o.observers, obs) }
}

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) Option { return func(o *Optimizer) { o.log = l } }

// Optimizer grid-searches one strategy definition.
type Optimizer struct {
	def       strategy.Definition
	engine    backtest.Config
	cfg       Config
	cache     Cache
	observers []Observer
	log       *slog.Logger
}

// New validates both configurations and returns an Optimizer.
func New(def strategy.Definition, engine backtest.Config, cfg Config, opts ...Option) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := engine.Validate(); err != nil {
		return nil, fmt.Errorf("optimizer: %w", err)
	}
	if def.New == nil {
		return nil, fmt.Errorf("%w: strategy %q has no factory", ErrInvalidConfig, def.Name)
	}
	o := &Optimizer{def: def, engine: engine, cfg: cfg, log: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

type variant struct {
	index  int
	params strategy.Params
}

type cellTask struct {
	v           variant
	dataset     int
	fingerprint uint64
}

// Run evaluates every variant on every dataset and returns the ranked report.
//
// A failing or panicking cell never aborts the run; it is recorded in the
// report. If ctx is cancelled, cells that have not started are recorded as
// failed with ctx.Err() and Run returns the partial report together with
// that error.
func (o *Optimizer) Run(ctx context.Context, datasets []model.Dataset) (*Report, error) {
	if len(datasets) == 0 {
		return nil, fmt.Errorf("%w: no datasets", ErrInvalidConfig)
	}
	start := time.Now()

	grid := NewGrid(o.def.Space, o.cfg.MaxVariants)
	variants := make([]variant, 0, grid.Len())
	for p, ok := grid.Next(); ok; p, ok = grid.Next() {
		variants = append(variants, variant{index: len(variants), params: p})
	}

	var fingerprints []uint64
	if o.cache != nil {
		fingerprints = make([]uint64, len(datasets))
		for i, d := range datasets {
			fingerprints[i] = d.Fingerprint()
		}
	}

	workers := o.cfg.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	o.log.Info("optimizer started",
		"strategy", o.def.Name,
		"variants", len(variants),
		"datasets", len(datasets),
		"workers", workers,
	)

	results := make(chan CellResult, workers)
	go func() {
		var g errgroup.Group
		g.SetLimit(workers)
		for _, v := range variants {
			for d := range datasets {
				task := cellTask{v: v, dataset: d}
				if fingerprints != nil {
					task.fingerprint = fingerprints[d]
				}
				if err := ctx.Err(); err != nil {
					results <- o.failed(task, datasets[d].Name, err)
					continue
				}
				g.Go(func() error {
					results <- o.evaluate(ctx, task, datasets[task.dataset])
					return nil
				})
			}
		}
		_ = g.Wait()
		close(results)
	}()

	cells := make([][]CellResult, len(variants))
	for i := range cells {
		cells[i] = make([]CellResult, len(datasets))
	}
	report := &Report{
		Strategy:   o.def.Name,
		ParamNames: o.def.Space.Names(),
		Cells:      len(variants) * len(datasets),
	}
	for _, d := range datasets {
		report.Datasets = append(report.Datasets, d.Name)
	}

	for res := range results {
		cells[res.Variant][res.Dataset] = res
		if !res.OK() {
			report.FailedCells++
			report.Failures = append(report.Failures, CellFailure{
				Variant: res.Variant,
				Dataset: res.DatasetName,
				Params:  res.Params,
				Err:     res.Err.Error(),
			})
			if !errors.Is(res.Err, context.Canceled) && !errors.Is(res.Err, context.DeadlineExceeded) {
				o.log.Warn("cell failed",
					"strategy", o.def.Name,
					"variant", res.Variant,
					"dataset", res.DatasetName,
					"params", res.Params.String(),
					"error", res.Err,
				)
			}
		}
		for _, obs := range o.observers {
			obs.OnCell(res)
		}
	}

	report.Variants = make([]VariantResult, len(variants))
	for i, v := range variants {
		report.Variants[i] = aggregate(v, cells[i], o.def.Defaults, o.cfg)
	}
	rank(report.Variants)
	sortFailures(report.Failures)
	report.Elapsed = time.Since(start)

	o.log.Info("optimizer finished",
		"strategy", o.def.Name,
		"cells", report.Cells,
		"failed", report.FailedCells,
		"elapsed", report.Elapsed,
	)
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("optimizer: %w", err)
	}
	return report, nil
}

func (o *Optimizer) failed(t cellTask, name string, err error) CellResult {
	return CellResult{
		Strategy:    o.def.Name,
		Variant:     t.v.index,
		Dataset:     t.dataset,
		DatasetName: name,
		Params:      t.v.params,
		Score:       SentinelScore,
		Err:         err,
	}
}

// evaluate runs one cell on a private clone of the dataset. Panics raised by
// strategy code are recovered into the cell's error.
func (o *Optimizer) evaluate(ctx context.Context, t cellTask, ds model.Dataset) (res CellResult) {
	start := time.Now()
	res = o.failed(t, ds.Name, nil)
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("%w: %v", ErrCellPanic, r)
			res.Score = SentinelScore
		}
		res.Duration = time.Since(start)
	}()

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	var key string
	if o.cache != nil {
		key = CacheKey(o.def.Name, t.v.params, t.fingerprint, o.engine)
		m, ok, err := o.cache.Get(ctx, key)
		switch {
		case err != nil:
			o.log.Debug("cache get failed", "key", key, "error", err)
		case ok:
			res.Metrics, res.Score, res.Cached = m, cellScore(m), true
			return res
		}
	}

	strat, err := o.def.FromParams(t.v.params)
	if err != nil {
		res.Err = err
		return res
	}
	s := ds.Series.Clone()
	if err := strat.ComputeSignals(s); err != nil {
		res.Err = fmt.Errorf("compute signals: %w", err)
		return res
	}
	eng, err := backtest.NewEngine(o.engine)
	if err != nil {
		res.Err = err
		return res
	}
	result, err := eng.Run(s)
	if err != nil {
		res.Err = err
		return res
	}
	res.Metrics = backtest.Calculate(result)
	res.Score = cellScore(res.Metrics)

	if o.cache != nil {
		if err := o.cache.Put(ctx, key, res.Metrics); err != nil {
			o.log.Debug("cache put failed", "key", key, "error", err)
		}
	}
	return res
}
