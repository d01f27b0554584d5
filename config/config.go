package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tvbacktest/internal/backtest"
	"tvbacktest/internal/optimizer"
)

// Config is the complete configuration of the backtest and optimize tools.
type Config struct {
	Engine    backtest.Config  `yaml:"engine"`
	Optimizer optimizer.Config `yaml:"optimizer"`
	Storage   Storage          `yaml:"storage"`
	Redis     Redis            `yaml:"redis"`
	Server    Server           `yaml:"server"`
	Logging   Logging          `yaml:"logging"`
	Notify    Notify           `yaml:"notify"`
}

// Storage holds data and persistence paths.
type Storage struct {
	DataDir    string `yaml:"data_dir"`    // CSV/Parquet datasets
	ParquetDir string `yaml:"parquet_dir"` // per-symbol Parquet bar store
	SQLitePath string `yaml:"sqlite_path"` // bars, trade journal, optimizer runs
}

// Redis configures the optimizer result cache. An empty Addr disables it.
type Redis struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	TTL         time.Duration `yaml:"ttl"`
	MaxFailures int           `yaml:"max_failures"`
}

// Server holds listener addresses. Empty disables the listener.
type Server struct {
	MetricsAddr string `yaml:"metrics_addr"`
	WSAddr      string `yaml:"ws_addr"`
}

// Logging configures the slog handler.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Notify configures run-completion alerts. Each channel is enabled by
// setting its fields.
type Notify struct {
	WebhookURL     string `yaml:"webhook_url"`
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Engine:    backtest.DefaultConfig(),
		Optimizer: optimizer.DefaultConfig(),
		Storage: Storage{
			DataDir:    "data",
			ParquetDir: "data/bars",
			SQLitePath: "data/backtest.db",
		},
		Redis: Redis{
			TTL:         24 * time.Hour,
			MaxFailures: 5,
		},
		Logging: Logging{Level: "info", Format: "json"},
	}
}

// Load builds the configuration in layers: defaults, then the YAML file at
// path (skipped when path is empty), then a .env file in the working
// directory if present, then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the engine and optimizer sections.
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	return c.Optimizer.Validate()
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	cfg.Storage.DataDir = getEnv("DATA_DIR", cfg.Storage.DataDir)
	cfg.Storage.ParquetDir = getEnv("PARQUET_DIR", cfg.Storage.ParquetDir)
	cfg.Storage.SQLitePath = getEnv("SQLITE_PATH", cfg.Storage.SQLitePath)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)

	cfg.Server.MetricsAddr = getEnv("METRICS_ADDR", cfg.Server.MetricsAddr)
	cfg.Server.WSAddr = getEnv("WS_ADDR", cfg.Server.WSAddr)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)

	cfg.Notify.WebhookURL = getEnv("NOTIFY_WEBHOOK_URL", cfg.Notify.WebhookURL)
	cfg.Notify.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", cfg.Notify.TelegramToken)
	cfg.Notify.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", cfg.Notify.TelegramChatID)

	cfg.Engine.InitialCapital = getEnvFloat("INITIAL_CAPITAL", cfg.Engine.InitialCapital)
	cfg.Engine.Commission = getEnvFloat("COMMISSION", cfg.Engine.Commission)
	cfg.Optimizer.Workers = getEnvInt("WORKERS", cfg.Optimizer.Workers)
	cfg.Optimizer.MaxVariants = getEnvInt("MAX_VARIANTS", cfg.Optimizer.MaxVariants)
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] ignoring invalid %s=%q", key, v)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] ignoring invalid %s=%q", key, v)
		return fallback
	}
	return f
}
