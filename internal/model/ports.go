package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple dataset loading from concrete storage
// implementations (SQLite, Parquet).

// BarReader reads historical bars for a symbol in ascending time order.
// A zero start or end leaves that side of the range open.
type BarReader interface {
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error)
}

// BarWriter persists historical bars for a symbol.
type BarWriter interface {
	WriteBars(ctx context.Context, symbol string, bars []Bar) error
}
