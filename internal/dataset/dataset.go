// Package dataset loads price series from CSV and Parquet files or from a
// bar store, and reports data quality problems before a run.
package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"tvbacktest/internal/model"
	"tvbacktest/internal/store/parquet"
)

// LoadParquet reads a Parquet bar file and sorts it by time.
func LoadParquet(path string) (*model.Series, error) {
	bars, err := parquet.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: %w: no rows", path, model.ErrInvalidData)
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return model.NewSeries(bars), nil
}

// Load dispatches on the file extension.
func Load(path string) (*model.Series, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return LoadCSV(path)
	case ".parquet":
		return LoadParquet(path)
	default:
		return nil, fmt.Errorf("%s: unsupported file type", path)
	}
}

// LoadFile loads one file as a dataset named after its base name without
// extension.
func LoadFile(path string) (model.Dataset, error) {
	s, err := Load(path)
	if err != nil {
		return model.Dataset{}, err
	}
	return model.Dataset{Name: stem(path), Series: s}, nil
}

// LoadDir loads every .csv and .parquet file in dir, sorted by dataset name.
// Each dataset's Check warnings are logged.
func LoadDir(dir string) ([]model.Dataset, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var datasets []model.Dataset
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".csv", ".parquet":
		default:
			continue
		}
		ds, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		logWarnings(ds)
		datasets = append(datasets, ds)
	}
	if len(datasets) == 0 {
		return nil, fmt.Errorf("no .csv or .parquet files in %s", dir)
	}
	sort.SliceStable(datasets, func(i, j int) bool { return datasets[i].Name < datasets[j].Name })
	return datasets, nil
}

// LoadStore reads each symbol from a bar store as a dataset named after the
// symbol. A zero start or end leaves that side open.
func LoadStore(ctx context.Context, r model.BarReader, symbols []string, start, end time.Time) ([]model.Dataset, error) {
	datasets := make([]model.Dataset, 0, len(symbols))
	for _, sym := range symbols {
		bars, err := r.ReadBars(ctx, sym, start, end)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", sym, err)
		}
		if len(bars) == 0 {
			return nil, fmt.Errorf("%w: no bars stored for %s", model.ErrInvalidData, sym)
		}
		ds := model.Dataset{Name: sym, Series: model.NewSeries(bars)}
		logWarnings(ds)
		datasets = append(datasets, ds)
	}
	return datasets, nil
}

// Check lists data quality problems: NaN prices, bars whose high is below
// their low, and timestamps that are not strictly increasing.
func Check(s *model.Series) []string {
	var issues []string
	if s.Len() == 0 {
		return []string{"series is empty"}
	}

	cols := []struct {
		name string
		get  func(*model.Bar) float64
	}{
		{"open", func(b *model.Bar) float64 { return b.Open }},
		{"high", func(b *model.Bar) float64 { return b.High }},
		{"low", func(b *model.Bar) float64 { return b.Low }},
		{"close", func(b *model.Bar) float64 { return b.Close }},
	}
	for _, c := range cols {
		n := 0
		for i := range s.Bars {
			if math.IsNaN(c.get(&s.Bars[i])) {
				n++
			}
		}
		if n > 0 {
			issues = append(issues, fmt.Sprintf("column '%s' has %d NaN values", c.name, n))
		}
	}

	badHL, dup, back := 0, 0, 0
	for i := range s.Bars {
		b := &s.Bars[i]
		if b.High < b.Low {
			badHL++
		}
		if i == 0 {
			continue
		}
		prev := s.Bars[i-1].Time
		switch {
		case b.Time.Equal(prev):
			dup++
		case b.Time.Before(prev):
			back++
		}
	}
	if badHL > 0 {
		issues = append(issues, fmt.Sprintf("%d bars where high < low", badHL))
	}
	if back > 0 {
		issues = append(issues, "timestamps are not monotonically increasing")
	}
	if dup > 0 {
		issues = append(issues, fmt.Sprintf("%d duplicate timestamps", dup))
	}
	return issues
}

func logWarnings(ds model.Dataset) {
	for _, issue := range Check(ds.Series) {
		slog.Warn("dataset check", "dataset", ds.Name, "issue", issue)
	}
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
