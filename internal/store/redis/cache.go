package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"tvbacktest/internal/backtest"
	"tvbacktest/internal/optimizer"
)

const (
	defaultCacheTTL       = 24 * time.Hour
	defaultLeaderboardTTL = 7 * 24 * time.Hour
	leaderboardTop        = 20
)

// CacheConfig configures the Redis result cache.
type CacheConfig struct {
	Addr         string // Redis address, e.g. "localhost:6379"
	Password     string
	DB           int
	TTL          time.Duration // per-cell expiry; 0 uses 24h
	MaxFailures  int           // consecutive failures before the breaker opens
	ResetTimeout time.Duration // open time before a probe is let through
}

// Cache is an optimizer.Cache backed by Redis. Every call goes through a
// circuit breaker so an unreachable server costs one rejected call per cell
// instead of a dial timeout.
type Cache struct {
	client *goredis.Client
	cb     *CircuitBreaker
	ttl    time.Duration
}

var _ optimizer.Cache = (*Cache)(nil)

// New connects to Redis, pings it and returns a Cache.
func New(cfg CacheConfig) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *goredis.Client, cfg CacheConfig) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	maxFailures := cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}
	reset := cfg.ResetTimeout
	if reset <= 0 {
		reset = 10 * time.Second
	}
	return &Cache{
		client: client,
		cb:     NewCircuitBreaker(maxFailures, reset),
		ttl:    ttl,
	}
}

// Client returns the underlying Redis client for health checks.
func (c *Cache) Client() *goredis.Client { return c.client }

// Breaker returns the circuit breaker guarding the client.
func (c *Cache) Breaker() *CircuitBreaker { return c.cb }

// Get looks up cached metrics. A missing key is a miss, not an error.
func (c *Cache) Get(ctx context.Context, key string) (backtest.Metrics, bool, error) {
	var raw []byte
	err := c.cb.Execute(func() error {
		b, err := c.client.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		raw = b
		return err
	})
	if err != nil {
		return backtest.Metrics{}, false, err
	}
	if raw == nil {
		return backtest.Metrics{}, false, nil
	}
	m, err := decodeMetrics(raw)
	if err != nil {
		return backtest.Metrics{}, false, fmt.Errorf("redis decode %s: %w", key, err)
	}
	return m, true, nil
}

// Put stores metrics under key with the configured TTL.
func (c *Cache) Put(ctx context.Context, key string, m backtest.Metrics) error {
	data, err := encodeMetrics(m)
	if err != nil {
		return err
	}
	return c.cb.Execute(func() error {
		return c.client.Set(ctx, key, data, c.ttl).Err()
	})
}

// LeaderboardKey is where the latest leaderboard of a strategy is kept.
func LeaderboardKey(strategyName string) string {
	return "lb:" + strategyName + ":latest"
}

// LeaderboardChannel is the pub/sub channel a finished run is announced on.
func LeaderboardChannel(strategyName string) string {
	return "pub:lb:" + strategyName
}

type leaderboardEntry struct {
	Rank     int      `json:"rank"`
	Params   string   `json:"params"`
	Score    *float64 `json:"score,omitempty"`
	Eligible bool     `json:"eligible"`
	NetPct   float64  `json:"net_profit_pct"`
	DDPct    float64  `json:"max_drawdown_pct"`
	P2D      float64  `json:"profit_to_drawdown"`
	Trades   int      `json:"total_trades"`
}

type leaderboard struct {
	RunID    string             `json:"run_id,omitempty"`
	Strategy string             `json:"strategy"`
	Datasets []string           `json:"datasets"`
	Cells    int                `json:"cells"`
	Failed   int                `json:"failed_cells"`
	Variants []leaderboardEntry `json:"variants"`
}

// PublishReport stores the top of a report under LeaderboardKey and
// announces it on LeaderboardChannel in a single pipeline.
func (c *Cache) PublishReport(ctx context.Context, runID string, r *optimizer.Report) error {
	data, err := json.Marshal(buildLeaderboard(runID, r))
	if err != nil {
		return fmt.Errorf("marshal leaderboard: %w", err)
	}
	return c.cb.Execute(func() error {
		pipe := c.client.Pipeline()
		pipe.Set(ctx, LeaderboardKey(r.Strategy), data, defaultLeaderboardTTL)
		pipe.Publish(ctx, LeaderboardChannel(r.Strategy), data)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redis leaderboard pipeline: %w", err)
		}
		return nil
	})
}

func buildLeaderboard(runID string, r *optimizer.Report) leaderboard {
	lb := leaderboard{
		RunID:    runID,
		Strategy: r.Strategy,
		Datasets: r.Datasets,
		Cells:    r.Cells,
		Failed:   r.FailedCells,
	}
	n := len(r.Variants)
	if n > leaderboardTop {
		n = leaderboardTop
	}
	lb.Variants = make([]leaderboardEntry, 0, n)
	for _, v := range r.Variants[:n] {
		e := leaderboardEntry{
			Rank:     v.Rank,
			Params:   v.Params.Format(r.ParamNames),
			Eligible: v.Eligible,
			NetPct:   v.AvgNetProfitPct,
			DDPct:    v.AvgMaxDrawdownPct,
			P2D:      v.AvgProfitToDrawdown,
			Trades:   v.TotalTrades,
		}
		if v.Scored > 0 {
			score := v.Score
			e.Score = &score
		}
		lb.Variants = append(lb.Variants, e)
	}
	return lb
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// cachedMetrics carries ProfitFactor as text since JSON has no infinity.
type cachedMetrics struct {
	backtest.Metrics
	ProfitFactor string `json:"profit_factor"`
}

func encodeMetrics(m backtest.Metrics) ([]byte, error) {
	return json.Marshal(cachedMetrics{
		Metrics:      m,
		ProfitFactor: strconv.FormatFloat(m.ProfitFactor, 'g', -1, 64),
	})
}

func decodeMetrics(data []byte) (backtest.Metrics, error) {
	var cm cachedMetrics
	if err := json.Unmarshal(data, &cm); err != nil {
		return backtest.Metrics{}, err
	}
	m := cm.Metrics
	if cm.ProfitFactor != "" {
		pf, err := strconv.ParseFloat(cm.ProfitFactor, 64)
		if err != nil {
			return backtest.Metrics{}, fmt.Errorf("profit factor %q: %w", cm.ProfitFactor, err)
		}
		m.ProfitFactor = pf
	}
	return m, nil
}
