// Package strategy defines the contract between trading strategies and the
// simulator.
//
// A Strategy attaches its indicator columns to a series and then writes the
// four boolean signal columns (long entry/exit, short entry/exit) the engine
// consumes. A Definition is the class-level half: the ordered parameter space
// the optimizer searches and a factory that builds a Strategy from one
// parameter set.
package strategy

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"tvbacktest/internal/model"
)

// ErrInvalidParams marks a parameter set a strategy cannot be built from.
var ErrInvalidParams = errors.New("invalid strategy parameters")

// Type classifies how a strategy holds positions.
type Type string

const (
	Swing    Type = "swing"
	Intraday Type = "intraday"
)

// Strategy is the interface that all trading strategies must implement.
type Strategy interface {
	// Name returns the display name of the strategy.
	Name() string

	// Type returns swing or intraday.
	Type() Type

	// Params returns the parameter values this instance was built with.
	Params() Params

	// AddIndicators attaches the strategy's indicator columns to s.
	AddIndicators(s *model.Series)

	// ComputeSignals calls AddIndicators and writes all four signal columns.
	ComputeSignals(s *model.Series) error
}

// Params maps parameter names to values. Integer parameters are stored as
// whole floats and read back with Int.
type Params map[string]float64

// Int returns the named parameter rounded to an int.
func (p Params) Int(name string) int { return int(math.Round(p[name])) }

// Float returns the named parameter.
func (p Params) Float(name string) float64 { return p[name] }

// Clone returns an independent copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// String renders the parameters sorted by name, e.g. "fast=9 slow=21".
func (p Params) String() string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	return p.Format(names)
}

// Format renders the named parameters in the given order.
func (p Params) Format(names []string) string {
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+strconv.FormatFloat(p[name], 'g', -1, 64))
	}
	return strings.Join(parts, " ")
}

// ParseParams parses "name=value,name=value" into Params.
func ParseParams(s string) (Params, error) {
	p := Params{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("%w: malformed %q", ErrInvalidParams, part)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParams, kv[0], err)
		}
		p[strings.TrimSpace(kv[0])] = v
	}
	return p, nil
}

// Param is one searchable dimension with its candidate values.
type Param struct {
	Name   string
	Values []float64
}

// ParamSpace is an ordered list of parameters. Declaration order drives grid
// enumeration and tie-breaking in the optimizer.
type ParamSpace []Param

// Names returns parameter names in declaration order.
func (s ParamSpace) Names() []string {
	names := make([]string, len(s))
	for i, p := range s {
		names[i] = p.Name
	}
	return names
}

// Size returns the number of grid combinations.
func (s ParamSpace) Size() int {
	if len(s) == 0 {
		return 0
	}
	n := 1
	for _, p := range s {
		n *= len(p.Values)
	}
	return n
}

// Definition describes a strategy class: its searchable space, its default
// parameters and a factory.
type Definition struct {
	Name     string
	Type     Type
	Space    ParamSpace
	Defaults Params
	New      func(p Params) (Strategy, error)
}

// FromParams builds a strategy from p merged over the defaults. Unknown
// parameter names are rejected.
func (d Definition) FromParams(p Params) (Strategy, error) {
	merged := d.Defaults.Clone()
	for k, v := range p {
		if _, ok := d.Defaults[k]; !ok {
			return nil, fmt.Errorf("%w: %s has no parameter %q", ErrInvalidParams, d.Name, k)
		}
		merged[k] = v
	}
	return d.New(merged)
}

// Registry holds strategy definitions by name, in registration order.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]Definition
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds a definition. Names must be unique.
func (r *Registry) Register(d Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[d.Name]; exists {
		return fmt.Errorf("strategy %q already registered", d.Name)
	}
	r.defs[d.Name] = d
	r.order = append(r.order, d.Name)
	return nil
}

// Get returns the named definition.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	return d, ok
}

// List returns all definitions in registration order.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name])
	}
	return out
}

// Builtins returns a registry with every built-in strategy.
func Builtins() *Registry {
	r := NewRegistry()
	for _, d := range []Definition{
		SMACrossoverDefinition(),
		RSIReversalDefinition(),
		MACDCrossoverDefinition(),
		BBSqueezeDefinition(),
		NiftyMomentumDefinition(),
	} {
		// names are distinct constants
		_ = r.Register(d)
	}
	return r
}

// base carries the identity every strategy reports.
type base struct {
	name   string
	typ    Type
	params Params
}

func (b *base) Name() string   { return b.name }
func (b *base) Type() Type     { return b.typ }
func (b *base) Params() Params { return b.params.Clone() }

func resetSignals(s *model.Series) *model.Signals {
	n := s.Len()
	s.Signals = model.Signals{
		LongEntry:  make([]bool, n),
		LongExit:   make([]bool, n),
		ShortEntry: make([]bool, n),
		ShortExit:  make([]bool, n),
	}
	return &s.Signals
}

func requirePositive(p Params, names ...string) error {
	for _, name := range names {
		if p.Int(name) <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidParams, name, p[name])
		}
	}
	return nil
}

func values(vs ...float64) []float64 { return vs }
