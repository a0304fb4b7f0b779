package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"KlineAnalyzer/internal/model"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "KLINES_"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Intervals lists the kline intervals the exchange accepts.
var Intervals = []string{"1", "3", "5", "15", "30", "60", "120", "240", "360", "720", "D", "W", "M"}

// Config holds all application configuration.
type Config struct {
	Source   SourceConfig   `yaml:"source" envPrefix:"SOURCE_"`
	Job      JobConfig      `yaml:"job" envPrefix:"JOB_"`
	Retry    RetryConfig    `yaml:"retry" envPrefix:"RETRY_"`
	Cache    CacheConfig    `yaml:"cache" envPrefix:"CACHE_"`
	Database DatabaseConfig `yaml:"database" envPrefix:"DATABASE_"`
	Schedule ScheduleConfig `yaml:"schedule" envPrefix:"SCHEDULE_"`
	Metrics  MetricsConfig  `yaml:"metrics" envPrefix:"METRICS_"`
	Notify   NotifyConfig   `yaml:"notify" envPrefix:"NOTIFY_"`
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`
}

// SourceConfig selects the kline API.
type SourceConfig struct {
	BaseURL   string        `yaml:"base_url" env:"BASE_URL"`
	Category  string        `yaml:"category" env:"CATEGORY"`
	Proxy     string        `yaml:"proxy" env:"PROXY"`
	PageSize  int           `yaml:"page_size" env:"PAGE_SIZE"`
	PageDelay time.Duration `yaml:"page_delay" env:"PAGE_DELAY"`
}

// JobConfig describes what one run downloads and exports.
type JobConfig struct {
	Symbol         string               `yaml:"symbol" env:"SYMBOL"`
	Interval       string               `yaml:"interval" env:"INTERVAL"`
	Days           int                  `yaml:"days" env:"DAYS"`
	MaxPoints      int                  `yaml:"max_points" env:"MAX_POINTS"`
	Indicators     model.IndicatorFlags `yaml:"indicators" envPrefix:"INDICATORS_"`
	DropIncomplete bool                 `yaml:"drop_incomplete" env:"DROP_INCOMPLETE"`
	ExportPath     string               `yaml:"export_path" env:"EXPORT_PATH"`
	ExportFields   []string             `yaml:"export_fields" env:"EXPORT_FIELDS" envSeparator:","`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	Delay       time.Duration `yaml:"delay" env:"DELAY"`
}

// CacheConfig enables the Redis page cache when Addr is set.
type CacheConfig struct {
	Addr     string        `yaml:"addr" env:"ADDR"`
	Password string        `yaml:"password" env:"PASSWORD"`
	DB       int           `yaml:"db" env:"DB"`
	Prefix   string        `yaml:"prefix" env:"PREFIX"`
	TTL      time.Duration `yaml:"ttl" env:"TTL"`
}

type DatabaseConfig struct {
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`
}

// ScheduleConfig runs the job on a cron spec (with seconds) when Cron is set.
type ScheduleConfig struct {
	Cron       string `yaml:"cron" env:"CRON"`
	RunOnStart bool   `yaml:"run_on_start" env:"RUN_ON_START"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// NotifyConfig enables Telegram summaries of scheduled runs when both fields are set.
type NotifyConfig struct {
	TelegramToken  string `yaml:"telegram_token" env:"TELEGRAM_TOKEN"`
	TelegramChatID string `yaml:"telegram_chat_id" env:"TELEGRAM_CHAT_ID"`
}

// Enabled reports whether a chat is configured.
func (n NotifyConfig) Enabled() bool { return n.TelegramToken != "" && n.TelegramChatID != "" }

type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
}

// Load reads config from a .env file (if any) and a YAML file, then applies
// environment variable overrides and defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "read config")
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "parse config")
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, errors.Wrap(err, "parse env")
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" && cfg.Source.Proxy == "" {
		cfg.Source.Proxy = v
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Source.BaseURL == "" {
		c.Source.BaseURL = "https://api.bybit.com"
	}
	if c.Source.Category == "" {
		c.Source.Category = "linear"
	}
	if c.Source.PageSize == 0 {
		c.Source.PageSize = 1000
	}
	if c.Source.PageDelay == 0 {
		c.Source.PageDelay = 100 * time.Millisecond
	}
	if c.Job.Symbol == "" {
		c.Job.Symbol = "BTCUSDT"
	}
	if c.Job.Interval == "" {
		c.Job.Interval = "60"
	}
	if c.Job.Days == 0 {
		c.Job.Days = 7
	}
	if c.Job.MaxPoints == 0 {
		c.Job.MaxPoints = 200
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.Delay == 0 {
		c.Retry.Delay = 50 * time.Millisecond
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = "klines:"
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 24 * time.Hour
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks the job inputs and source limits.
func (c *Config) Validate() error {
	if c.Job.Symbol == "" {
		return errors.Wrap(ErrInvalid, "job.symbol is required")
	}
	if !slices.Contains(Intervals, c.Job.Interval) {
		return errors.Wrapf(ErrInvalid, "job.interval %q is not one of %v", c.Job.Interval, Intervals)
	}
	if c.Job.Days < 1 || c.Job.Days > 365 {
		return errors.Wrapf(ErrInvalid, "job.days must be between 1 and 365, got %d", c.Job.Days)
	}
	if c.Job.MaxPoints < 50 || c.Job.MaxPoints > 1000 {
		return errors.Wrapf(ErrInvalid, "job.max_points must be between 50 and 1000, got %d", c.Job.MaxPoints)
	}
	if c.Source.PageSize < 1 || c.Source.PageSize > 1000 {
		return errors.Wrapf(ErrInvalid, "source.page_size must be between 1 and 1000, got %d", c.Source.PageSize)
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.Wrap(ErrInvalid, "retry.max_attempts must be positive")
	}
	return nil
}

// Warnings reports settings that are valid but likely to misbehave.
func (c *Config) Warnings() []string {
	var out []string
	switch c.Job.Interval {
	case "1", "3", "5":
		if c.Job.Days > 90 {
			out = append(out, fmt.Sprintf(
				"history for the %s-minute interval may be limited; %d days can be slow or incomplete, consider 90 or fewer",
				c.Job.Interval, c.Job.Days))
		}
	}
	return out
}

// Range returns the [start, end] window in milliseconds ending at now.
func (j JobConfig) Range(now time.Time) (startMS, endMS int64) {
	endMS = now.UnixMilli()
	startMS = endMS - int64(j.Days)*24*60*60*1000
	return startMS, endMS
}
