package backtest

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig marks an engine configuration that cannot be simulated.
var ErrInvalidConfig = errors.New("invalid backtest config")

// CommissionType selects how per-fill commission is charged.
type CommissionType string

const (
	CommissionPercent CommissionType = "percent" // percent of fill notional
	CommissionFixed   CommissionType = "fixed"   // flat cash amount per fill
)

// SizingType selects how entry quantity is derived.
type SizingType string

const (
	SizePercentOfEquity SizingType = "percent_of_equity"
	SizeFixedUnits      SizingType = "fixed_units"
)

// Config holds the strategy-tester properties of a simulation.
type Config struct {
	InitialCapital float64        `yaml:"initial_capital" json:"initial_capital"`
	CommissionType CommissionType `yaml:"commission_type" json:"commission_type"`
	Commission     float64        `yaml:"commission" json:"commission"`
	SizingType     SizingType     `yaml:"sizing_type" json:"sizing_type"`
	PositionSize   float64        `yaml:"position_size" json:"position_size"`

	// Pyramiding lets a same-side entry add to an open position.
	Pyramiding bool `yaml:"pyramiding" json:"pyramiding"`

	// ForceCloseAtEnd closes any open position at the final bar's close.
	ForceCloseAtEnd bool `yaml:"force_close_at_end" json:"force_close_at_end"`

	// ReverseOnOpposite turns an opposite-side entry signal into an atomic
	// close-and-reverse at the next open. When false such signals are ignored
	// until the open position exits.
	ReverseOnOpposite bool `yaml:"reverse_on_opposite" json:"reverse_on_opposite"`
}

// DefaultConfig returns 100,000 starting capital, 0.1% commission per fill
// and 100% of equity per trade, closing any open position at the end.
func DefaultConfig() Config {
	return Config{
		InitialCapital:  100000,
		CommissionType:  CommissionPercent,
		Commission:      0.1,
		SizingType:      SizePercentOfEquity,
		PositionSize:    100,
		ForceCloseAtEnd: true,
	}
}

// Validate reports the first invalid field, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	if !(c.InitialCapital > 0) || math.IsInf(c.InitialCapital, 0) {
		return fmt.Errorf("%w: initial capital must be positive, got %v", ErrInvalidConfig, c.InitialCapital)
	}
	switch c.CommissionType {
	case CommissionPercent:
		if c.Commission >= 100 {
			return fmt.Errorf("%w: percent commission must be below 100, got %v", ErrInvalidConfig, c.Commission)
		}
	case CommissionFixed:
	default:
		return fmt.Errorf("%w: unknown commission type %q", ErrInvalidConfig, c.CommissionType)
	}
	if c.Commission < 0 || math.IsNaN(c.Commission) {
		return fmt.Errorf("%w: commission must be non-negative, got %v", ErrInvalidConfig, c.Commission)
	}
	switch c.SizingType {
	case SizePercentOfEquity, SizeFixedUnits:
	default:
		return fmt.Errorf("%w: unknown sizing type %q", ErrInvalidConfig, c.SizingType)
	}
	if !(c.PositionSize > 0) || math.IsInf(c.PositionSize, 0) {
		return fmt.Errorf("%w: position size must be positive, got %v", ErrInvalidConfig, c.PositionSize)
	}
	return nil
}

// commission returns the charge for one fill of size units at price.
func (c Config) commission(size, price float64) float64 {
	if c.CommissionType == CommissionFixed {
		return c.Commission
	}
	return size * price * c.Commission / 100.0
}

// entrySize returns the quantity to fill at price given current equity.
func (c Config) entrySize(equity, price float64) float64 {
	if c.SizingType == SizeFixedUnits {
		return c.PositionSize
	}
	return equity * c.PositionSize / 100.0 / price
}
