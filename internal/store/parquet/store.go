package parquet

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	pq "github.com/parquet-go/parquet-go"

	"tvbacktest/internal/model"
)

// Compile-time interface checks.
var _ model.BarReader = (*Store)(nil)
var _ model.BarWriter = (*Store)(nil)

const ext = ".parquet"

// Store keeps one Parquet file of bars per symbol:
//
//	<Dir>/<SYMBOL>.parquet
type Store struct {
	Dir string
}

// New returns a Store rooted at dir.
func New(dir string) *Store {
	return &Store{Dir: dir}
}

// BarRecord is the on-disk schema.
type BarRecord struct {
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

// WriteBars merges bars into the symbol's file. Bars at an existing
// timestamp replace the stored ones.
func (s *Store) WriteBars(_ context.Context, symbol string, bars []model.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	path := s.path(symbol)
	existing, err := pq.ReadFile[BarRecord](path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("parquet read %s: %w", path, err)
	}
	merged := mergeRecords(existing, toRecords(bars))
	if err := writeFile(path, merged); err != nil {
		return fmt.Errorf("parquet write %s: %w", symbol, err)
	}
	log.Printf("[parquet] wrote %d bars for %s (%d total)", len(bars), symbol, len(merged))
	return nil
}

// ReadBars returns the symbol's bars in [start, end]. A zero start or end
// leaves that side open. A missing file is an empty result.
func (s *Store) ReadBars(_ context.Context, symbol string, start, end time.Time) ([]model.Bar, error) {
	records, err := pq.ReadFile[BarRecord](s.path(symbol))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("parquet read %s: %w", symbol, err)
	}

	bars := make([]model.Bar, 0, len(records))
	for _, r := range records {
		ts := time.UnixMilli(r.Timestamp).UTC()
		if !start.IsZero() && ts.Before(start) {
			continue
		}
		if !end.IsZero() && ts.After(end) {
			continue
		}
		bars = append(bars, fromRecord(r))
	}
	return bars, nil
}

// Symbols lists the symbols with a bar file, sorted.
func (s *Store) Symbols() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var symbols []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ext) {
			symbols = append(symbols, strings.TrimSuffix(e.Name(), ext))
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

func (s *Store) path(symbol string) string {
	return filepath.Join(s.Dir, strings.ToUpper(symbol)+ext)
}

// ReadFile reads every bar in a Parquet file written with the BarRecord
// schema, in file order.
func ReadFile(path string) ([]model.Bar, error) {
	records, err := pq.ReadFile[BarRecord](path)
	if err != nil {
		return nil, err
	}
	bars := make([]model.Bar, len(records))
	for i, r := range records {
		bars[i] = fromRecord(r)
	}
	return bars, nil
}

// WriteFile writes bars to path, replacing any existing file.
func WriteFile(path string, bars []model.Bar) error {
	return writeFile(path, toRecords(bars))
}

func writeFile(path string, records []BarRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return pq.WriteFile(path, records)
}

func toRecords(bars []model.Bar) []BarRecord {
	out := make([]BarRecord, len(bars))
	for i, b := range bars {
		out[i] = BarRecord{
			Timestamp: b.Time.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		}
	}
	return out
}

func fromRecord(r BarRecord) model.Bar {
	return model.Bar{
		Time:   time.UnixMilli(r.Timestamp).UTC(),
		Open:   r.Open,
		High:   r.High,
		Low:    r.Low,
		Close:  r.Close,
		Volume: r.Volume,
	}
}

// mergeRecords deduplicates by timestamp, preferring incoming records, and
// sorts ascending.
func mergeRecords(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}
	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
