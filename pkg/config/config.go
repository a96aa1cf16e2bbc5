// Package config loads indicator feed settings with viper.
//
// Values come from defaults, an optional YAML file and INDICATOR_* environment
// variables, in increasing precedence. Nested keys map to environment names
// by replacing dots with underscores:
//
//	upstream.api_key  ->  INDICATOR_UPSTREAM_API_KEY
//	retry.max_retries ->  INDICATOR_RETRY_MAX_RETRIES
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Sternrassler/indicator-feed/pkg/client"
	"github.com/Sternrassler/indicator-feed/pkg/logging"
	"github.com/Sternrassler/indicator-feed/pkg/pagination"
	"github.com/Sternrassler/indicator-feed/pkg/ratelimit"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "INDICATOR"

// Config holds all configuration of the indicator feed.
type Config struct {
	Upstream   UpstreamConfig     `mapstructure:"upstream"`
	Pagination PaginationConfig   `mapstructure:"pagination"`
	Retry      client.RetryConfig `mapstructure:"retry"`
	Trigger    TriggerConfig      `mapstructure:"trigger"`
	Search     SearchConfig       `mapstructure:"search"`
	RateLimit  RateLimitConfig    `mapstructure:"ratelimit"`
	Server     ServerConfig       `mapstructure:"server"`
	Log        LogConfig          `mapstructure:"log"`
}

// UpstreamConfig describes the indicator endpoint.
type UpstreamConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	APIKeySSMParam    string        `mapstructure:"api_key_ssm_param"`
	Timeout           time.Duration `mapstructure:"timeout"`
	PageSize          int           `mapstructure:"page_size"`
	Window            int           `mapstructure:"window"`
	Timespan          string        `mapstructure:"timespan"`
	SeriesType        string        `mapstructure:"series_type"`
	Order             string        `mapstructure:"order"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// PaginationConfig tunes the query coordinator.
type PaginationConfig struct {
	StaleTime     time.Duration `mapstructure:"stale_time"`
	Retention     time.Duration `mapstructure:"retention"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
}

// TriggerConfig tunes the scroll trigger, in pixels.
type TriggerConfig struct {
	Margin             float64 `mapstructure:"margin"`
	ScrollTopThreshold float64 `mapstructure:"scroll_top_threshold"`
}

// SearchConfig tunes search input handling.
type SearchConfig struct {
	Debounce      time.Duration `mapstructure:"debounce"`
	DefaultSymbol string        `mapstructure:"default_symbol"`
}

// RateLimitConfig configures the shared 429 cooldown.
type RateLimitConfig struct {
	Cooldown time.Duration `mapstructure:"cooldown"`

	// RedisAddr selects the Redis store when set; empty keeps state in memory.
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// ServerConfig configures the HTTP/WebSocket server.
type ServerConfig struct {
	Addr               string        `mapstructure:"addr"`
	AllowedOrigins     []string      `mapstructure:"allowed_origins"`
	SessionIdleTimeout time.Duration `mapstructure:"session_idle_timeout"`
}

// LogConfig configures zerolog output.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Pretty     bool   `mapstructure:"pretty"`
	OutputFile string `mapstructure:"output_file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("upstream.base_url", "https://api.polygon.io/v1/indicators/rsi/")
	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.api_key_ssm_param", "")
	v.SetDefault("upstream.timeout", 30*time.Second)
	v.SetDefault("upstream.page_size", 20)
	v.SetDefault("upstream.window", 14)
	v.SetDefault("upstream.timespan", "day")
	v.SetDefault("upstream.series_type", "close")
	v.SetDefault("upstream.order", "desc")
	v.SetDefault("upstream.requests_per_second", 5.0)
	v.SetDefault("upstream.burst", 1)

	v.SetDefault("pagination.stale_time", 5*time.Minute)
	v.SetDefault("pagination.retention", 30*time.Minute)
	v.SetDefault("pagination.sweep_interval", time.Minute)
	v.SetDefault("pagination.fetch_timeout", 15*time.Second)

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial_backoff", time.Second)
	v.SetDefault("retry.max_backoff", 30*time.Second)
	v.SetDefault("retry.multiplier", 2.0)

	v.SetDefault("trigger.margin", float64(pagination.DefaultTriggerMargin))
	v.SetDefault("trigger.scroll_top_threshold", float64(pagination.DefaultScrollTopThreshold))

	v.SetDefault("search.debounce", 500*time.Millisecond)
	v.SetDefault("search.default_symbol", "AAPL")

	v.SetDefault("ratelimit.cooldown", ratelimit.DefaultCooldown)
	v.SetDefault("ratelimit.redis_addr", "")
	v.SetDefault("ratelimit.redis_password", "")
	v.SetDefault("ratelimit.redis_db", 0)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("server.session_idle_timeout", 30*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.output_file", "")
}

// Load reads configuration. An explicit path must exist; with an empty path
// a config.yaml in the working directory or ~/.indicator-feed is used when present.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.indicator-feed")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate reports every missing or invalid setting in a single error.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Upstream.BaseURL == "" {
		add("upstream.base_url is required")
	}
	if c.Upstream.APIKey == "" && c.Upstream.APIKeySSMParam == "" {
		add("upstream.api_key or upstream.api_key_ssm_param is required")
	}
	if c.Upstream.PageSize <= 0 {
		add("upstream.page_size must be > 0 (got %d)", c.Upstream.PageSize)
	}
	if c.Upstream.Timeout <= 0 {
		add("upstream.timeout must be > 0")
	}
	if c.Upstream.Burst < 0 {
		add("upstream.burst must be >= 0 (got %d)", c.Upstream.Burst)
	}

	if c.Pagination.StaleTime < 0 {
		add("pagination.stale_time must be >= 0")
	}
	if c.Pagination.Retention <= 0 {
		add("pagination.retention must be > 0")
	}
	if c.Pagination.SweepInterval <= 0 {
		add("pagination.sweep_interval must be > 0")
	}
	if c.Pagination.FetchTimeout <= 0 {
		add("pagination.fetch_timeout must be > 0")
	}

	if err := c.Retry.Validate(); err != nil {
		add("retry: %v", err)
	}

	if c.Trigger.Margin < 0 {
		add("trigger.margin must be >= 0")
	}
	if c.Search.Debounce <= 0 {
		add("search.debounce must be > 0")
	}
	if c.RateLimit.Cooldown <= 0 {
		add("ratelimit.cooldown must be > 0")
	}

	if c.Server.Addr == "" {
		add("server.addr is required")
	}
	if c.Server.SessionIdleTimeout <= 0 {
		add("server.session_idle_timeout must be > 0")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ClientConfig returns the page fetcher settings. tracker may be nil.
func (c *Config) ClientConfig(tracker *ratelimit.Tracker) client.Config {
	cfg := client.DefaultConfig(c.Upstream.BaseURL, c.Upstream.APIKey)
	cfg.PageSize = c.Upstream.PageSize
	cfg.Window = c.Upstream.Window
	cfg.Timespan = c.Upstream.Timespan
	cfg.SeriesType = c.Upstream.SeriesType
	cfg.Order = c.Upstream.Order
	cfg.Timeout = c.Upstream.Timeout
	cfg.RequestsPerSecond = c.Upstream.RequestsPerSecond
	cfg.Burst = c.Upstream.Burst
	cfg.Cooldown = tracker
	return cfg
}

// CoordinatorConfig returns the coordinator settings without clock or logger.
func (c *Config) CoordinatorConfig() pagination.Config {
	return pagination.Config{
		StaleTime:     c.Pagination.StaleTime,
		Retention:     c.Pagination.Retention,
		SweepInterval: c.Pagination.SweepInterval,
		FetchTimeout:  c.Pagination.FetchTimeout,
		Retry:         c.Retry,
	}
}

// LoggingConfig returns the logger settings.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Log.Level)
	cfg.Pretty = c.Log.Pretty
	cfg.OutputFile = c.Log.OutputFile
	return cfg
}
