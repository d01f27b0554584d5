package indicator

import (
	"log"
	"strconv"
	"strings"

	"tvbacktest/internal/model"
)

// IndicatorConfig specifies a single close-price indicator column.
type IndicatorConfig struct {
	Type   string // "SMA", "EMA", "RMA"/"SMMA", "RSI"
	Period int
}

// Name returns the column name, e.g. "SMA_20".
func (c IndicatorConfig) Name() string {
	return c.Type + "_" + strconv.Itoa(c.Period)
}

// Compute evaluates cfg over closes. ok is false for an unknown type.
func Compute(cfg IndicatorConfig, closes []float64) (values []float64, ok bool) {
	switch cfg.Type {
	case "SMA":
		return SMA(closes, cfg.Period), true
	case "EMA":
		return EMA(closes, cfg.Period), true
	case "RMA", "SMMA":
		return RMA(closes, cfg.Period), true
	case "RSI":
		return RSI(closes, cfg.Period), true
	}
	return nil, false
}

// Apply computes every config over the series closes and attaches the
// results as named columns. Unknown types are skipped.
func Apply(s *model.Series, configs []IndicatorConfig) {
	closes := s.Closes()
	for _, cfg := range configs {
		values, ok := Compute(cfg, closes)
		if !ok {
			log.Printf("[indicator] skipping unknown type %q", cfg.Type)
			continue
		}
		s.SetColumn(cfg.Name(), values)
	}
}

// ParseConfigs parses "TYPE:PERIOD,..." entries, skipping malformed ones and
// types Compute does not know.
func ParseConfigs(s string) []IndicatorConfig {
	var configs []IndicatorConfig
	for _, part := range strings.Split(s, ",") {
		tokens := strings.SplitN(strings.TrimSpace(part), ":", 2)
		if len(tokens) != 2 {
			continue
		}
		period, err := strconv.Atoi(strings.TrimSpace(tokens[1]))
		if err != nil || period <= 0 {
			log.Printf("[indicator] skipping invalid entry: %q", part)
			continue
		}
		cfg := IndicatorConfig{
			Type:   strings.ToUpper(strings.TrimSpace(tokens[0])),
			Period: period,
		}
		if _, ok := Compute(cfg, nil); !ok {
			log.Printf("[indicator] skipping unknown type: %q", part)
			continue
		}
		configs = append(configs, cfg)
	}
	return configs
}
