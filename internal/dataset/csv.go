package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"tvbacktest/internal/markethours"
	"tvbacktest/internal/model"
)

// DefaultLocation is applied to timestamps that carry no zone.
var DefaultLocation = markethours.IST

var timeColumns = []string{"time", "date", "datetime", "timestamp"}

var columnAliases = map[string]string{
	"o": "open", "open": "open",
	"h": "high", "high": "high",
	"l": "low", "low": "low",
	"c": "close", "close": "close",
	"v": "volume", "vol": "volume", "volume": "volume",
}

var naiveLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

// LoadCSV reads a TradingView chart export. Headers are trimmed and
// lowercased, the first of time/date/datetime/timestamp is the time column
// and o/h/l/c/v style aliases are accepted. Bars are returned sorted by time.
// Empty or unparsable price cells load as NaN so that Check can report them.
func LoadCSV(path string) (*model.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ReadCSV is LoadCSV over an arbitrary reader.
func ReadCSV(r io.Reader) (*model.Series, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", model.ErrInvalidData, err)
	}
	timeIdx, cols, err := mapHeader(header)
	if err != nil {
		return nil, err
	}

	var bars []model.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", model.ErrInvalidData, line, err)
		}
		if timeIdx >= len(rec) {
			return nil, fmt.Errorf("%w: line %d: missing time value", model.ErrInvalidData, line)
		}
		ts, err := ParseTime(rec[timeIdx], DefaultLocation)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", model.ErrInvalidData, line, err)
		}
		bars = append(bars, model.Bar{
			Time:   ts,
			Open:   cell(rec, cols["open"]),
			High:   cell(rec, cols["high"]),
			Low:    cell(rec, cols["low"]),
			Close:  cell(rec, cols["close"]),
			Volume: volumeCell(rec, cols),
		})
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no rows", model.ErrInvalidData)
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return model.NewSeries(bars), nil
}

func mapHeader(header []string) (int, map[string]int, error) {
	names := make([]string, len(header))
	for i, h := range header {
		names[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	}

	timeIdx := -1
	for _, candidate := range timeColumns {
		for i, n := range names {
			if n == candidate {
				timeIdx = i
				break
			}
		}
		if timeIdx >= 0 {
			break
		}
	}
	if timeIdx < 0 {
		return 0, nil, fmt.Errorf("%w: no date/time column, expected one of %s, got %v",
			model.ErrInvalidData, strings.Join(timeColumns, ", "), names)
	}

	cols := make(map[string]int)
	for i, n := range names {
		if canon, ok := columnAliases[n]; ok {
			if _, dup := cols[canon]; !dup {
				cols[canon] = i
			}
		}
	}
	var missing []string
	for _, req := range []string{"open", "high", "low", "close"} {
		if _, ok := cols[req]; !ok {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return 0, nil, fmt.Errorf("%w: missing columns %v", model.ErrInvalidData, missing)
	}
	return timeIdx, cols, nil
}

func cell(rec []string, idx int) float64 {
	if idx >= len(rec) {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(rec[idx]), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func volumeCell(rec []string, cols map[string]int) float64 {
	idx, ok := cols["volume"]
	if !ok {
		return 0
	}
	v := cell(rec, idx)
	if math.IsNaN(v) {
		return 0
	}
	return v
}

// ParseTime accepts Unix seconds or milliseconds, RFC 3339, and the common
// zone-less layouts, which are read in loc.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
