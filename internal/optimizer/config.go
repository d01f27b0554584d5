package optimizer

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig marks an optimizer configuration that cannot be run.
var ErrInvalidConfig = errors.New("invalid optimizer config")

// SentinelScore ranks below every real score. It is assigned to cells and
// variants that cannot be scored (no trades, zero drawdown, failures).
const SentinelScore = -math.MaxFloat64

// Reduction combines per-dataset scores into one variant score.
type Reduction string

const (
	ReduceMean  Reduction = "mean"
	ReduceWorst Reduction = "worst"
)

// Config controls a grid search.
type Config struct {
	// MaxVariants caps the grid in declaration order.
	MaxVariants int `yaml:"max_variants" json:"max_variants"`

	// Workers bounds concurrent cell evaluations. Zero means GOMAXPROCS.
	Workers int `yaml:"workers" json:"workers"`

	Reduction Reduction `yaml:"reduction" json:"reduction"`

	// ApplyFilters marks variants whose average net profit is not above
	// MinNetProfitPct, or whose average drawdown exceeds MaxDrawdownPct,
	// as ineligible. Ineligible variants rank after all eligible ones.
	ApplyFilters    bool    `yaml:"apply_filters" json:"apply_filters"`
	MinNetProfitPct float64 `yaml:"min_net_profit_pct" json:"min_net_profit_pct"`
	MaxDrawdownPct  float64 `yaml:"max_drawdown_pct" json:"max_drawdown_pct"`
}

// DefaultConfig returns a 500-variant cap, mean reduction and filters off.
func DefaultConfig() Config {
	return Config{
		MaxVariants:     500,
		Reduction:       ReduceMean,
		MinNetProfitPct: 0,
		MaxDrawdownPct:  50,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxVariants < 1 {
		return fmt.Errorf("%w: max_variants must be at least 1, got %d", ErrInvalidConfig, c.MaxVariants)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative, got %d", ErrInvalidConfig, c.Workers)
	}
	switch c.Reduction {
	case ReduceMean, ReduceWorst:
	default:
		return fmt.Errorf("%w: unknown reduction %q", ErrInvalidConfig, c.Reduction)
	}
	if c.ApplyFilters && !(c.MaxDrawdownPct >= 0) {
		return fmt.Errorf("%w: max_drawdown_pct must not be negative", ErrInvalidConfig)
	}
	return nil
}
