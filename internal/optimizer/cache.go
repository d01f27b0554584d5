package optimizer

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"

	"tvbacktest/internal/backtest"
	"tvbacktest/internal/strategy"
)

// Cache stores cell metrics across runs. Implementations must be safe for
// concurrent use. A miss is (zero, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) (backtest.Metrics, bool, error)
	Put(ctx context.Context, key string, m backtest.Metrics) error
}

// CacheKey identifies one cell: the strategy, its full parameter set, the
// dataset contents and the engine configuration.
func CacheKey(strategyName string, p strategy.Params, fingerprint uint64, cfg backtest.Config) string {
	engine := xxhash.Sum64String(fmt.Sprintf("%+v", cfg))
	return "bt:" + strategyName +
		":" + p.String() +
		":" + strconv.FormatUint(fingerprint, 16) +
		":" + strconv.FormatUint(engine, 16)
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	m sync.Map
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache { return &MemoryCache{} }

func (c *MemoryCache) Get(_ context.Context, key string) (backtest.Metrics, bool, error) {
	v, ok := c.m.Load(key)
	if !ok {
		return backtest.Metrics{}, false, nil
	}
	return v.(backtest.Metrics), true, nil
}

func (c *MemoryCache) Put(_ context.Context, key string, m backtest.Metrics) error {
	c.m.Store(key, m)
	return nil
}
