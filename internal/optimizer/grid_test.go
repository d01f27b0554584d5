package optimizer

import (
	"errors"
	"testing"

	"tvbacktest/internal/strategy"
)

func testSpace() strategy.ParamSpace {
	return strategy.ParamSpace{
		{Name: "a", Values: []float64{1, 2}},
		{Name: "b", Values: []float64{10, 20, 30}},
	}
}

func TestGrid_OrderLastFastest(t *testing.T) {
	g := NewGrid(testSpace(), 0)
	if g.Len() != 6 {
		t.Fatalf("Len: got %d, want 6", g.Len())
	}
	want := [][2]float64{{1, 10}, {1, 20}, {1, 30}, {2, 10}, {2, 20}, {2, 30}}
	for i, w := range want {
		p, ok := g.Next()
		if !ok {
			t.Fatalf("grid exhausted at %d", i)
		}
		if p["a"] != w[0] || p["b"] != w[1] {
			t.Errorf("set %d: got a=%v b=%v, want a=%v b=%v", i, p["a"], p["b"], w[0], w[1])
		}
	}
	if _, ok := g.Next(); ok {
		t.Error("expected exhausted grid")
	}
}

func TestGrid_TruncateAndReset(t *testing.T) {
	g := NewGrid(testSpace(), 4)
	if g.Len() != 4 {
		t.Fatalf("Len: got %d, want 4", g.Len())
	}
	n := 0
	for _, ok := g.Next(); ok; _, ok = g.Next() {
		n++
	}
	if n != 4 {
		t.Errorf("yielded %d sets, want 4", n)
	}

	g.Reset()
	p, ok := g.Next()
	if !ok || p["a"] != 1 || p["b"] != 10 {
		t.Errorf("after Reset: got %v, %v", p, ok)
	}
}

func TestGrid_EmptySpaceYieldsDefaults(t *testing.T) {
	g := NewGrid(nil, 500)
	if g.Len() != 1 {
		t.Fatalf("Len: got %d, want 1", g.Len())
	}
	p, ok := g.Next()
	if !ok || len(p) != 0 {
		t.Errorf("got %v, %v; want one empty set", p, ok)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"worst", func(c *Config) { c.Reduction = ReduceWorst }, true},
		{"zero variants", func(c *Config) { c.MaxVariants = 0 }, false},
		{"negative workers", func(c *Config) { c.Workers = -1 }, false},
		{"unknown reduction", func(c *Config) { c.Reduction = "median" }, false},
		{"negative dd filter", func(c *Config) { c.ApplyFilters = true; c.MaxDrawdownPct = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("got %v, want ErrInvalidConfig", err)
			}
		})
	}
}
