// Package config provides configuration management for the inventory collector.
//
// Configuration is loaded in the following order (later sources override
// earlier ones):
//  1. Default values (hardcoded)
//  2. An optional YAML configuration file
//  3. Environment variables (SANINV_ prefix, underscores for nested keys,
//     e.g. SANINV_HTTP_REQUEST_TIMEOUT=20s)
//
// The CLI layer that produces the file path and the credential store that
// resolves secrets live outside this module; this package only describes the
// knobs the collector core consumes.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure for the collector.
type Config struct {
	// Endpoint is the base URL of the management REST API.
	Endpoint string `mapstructure:"endpoint"`

	// Auth selects and parameterizes the authentication strategy.
	Auth AuthConfig `mapstructure:"auth"`

	// HTTP contains transport-level settings.
	HTTP HTTPConfig `mapstructure:"http"`

	// Retry controls backoff for transient request failures.
	Retry RetryConfig `mapstructure:"retry"`

	// Fetch controls the paginated fetcher.
	Fetch FetchConfig `mapstructure:"fetch"`

	// Collector controls the fan-out engine.
	Collector CollectorConfig `mapstructure:"collector"`

	// Cache contains the optional response cache settings.
	Cache CacheConfig `mapstructure:"cache"`

	// Logging contains logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
}

// AuthConfig selects the authentication strategy.
type AuthConfig struct {
	// Strategy is one of "basic", "bearer", "apikey".
	Strategy string `mapstructure:"strategy"`

	// Username and Password are used by the basic and bearer strategies.
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// LoginPath is the token exchange endpoint for the bearer strategy.
	LoginPath string `mapstructure:"login_path"`

	// APIKey is the static key for the apikey strategy.
	APIKey string `mapstructure:"api_key"`

	// APIKeyHeader is the header the key is sent in.
	APIKeyHeader string `mapstructure:"api_key_header"`
}

// HTTPConfig contains transport-level settings.
type HTTPConfig struct {
	// UserAgent is sent on every request.
	UserAgent string `mapstructure:"user_agent"`

	// RequestTimeout bounds each individual HTTP call. This is distinct
	// from the overall collection timeout.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// RateLimit is the client-side request rate in requests per second.
	// Zero disables rate limiting.
	RateLimit float64 `mapstructure:"rate_limit"`

	// RateBurst is the rate limiter burst size.
	RateBurst int `mapstructure:"rate_burst"`

	// InsecureSkipVerify disables TLS verification. Many SAN managers
	// ship self-signed certificates.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`
}

// RetryConfig controls retry behavior for transient failures.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int `mapstructure:"max_attempts"`

	// InitialBackoff is the first backoff duration.
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`

	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration `mapstructure:"max_backoff"`

	// BackoffMultiplier is the exponential growth factor.
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
}

// FetchConfig controls the paginated fetcher.
type FetchConfig struct {
	// PageSize is the limit parameter for offset/limit pagination.
	PageSize int `mapstructure:"page_size"`

	// MaxIterations caps pagination rounds per resource. Hitting it is
	// anomalous, not a normal termination.
	MaxIterations int `mapstructure:"max_iterations"`
}

// CollectorConfig controls the fan-out engine.
type CollectorConfig struct {
	// Concurrency is the bounded worker pool size per traversal level.
	Concurrency int `mapstructure:"concurrency"`

	// Timeout bounds the whole collection run. Zero means no bound
	// beyond the caller's context.
	Timeout time.Duration `mapstructure:"timeout"`

	// Interval is the pause between collection runs in daemon mode.
	Interval time.Duration `mapstructure:"interval"`

	// ClientMajor is the API major version series this client targets.
	ClientMajor int `mapstructure:"client_major"`
}

// CacheConfig contains the optional redis response cache settings.
type CacheConfig struct {
	// RedisAddr enables the discovery response cache when non-empty.
	RedisAddr string `mapstructure:"redis_addr"`

	// TTL is how long discovery documents are cached.
	TTL time.Duration `mapstructure:"ttl"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Pretty enables human-readable console output.
	Pretty bool `mapstructure:"pretty"`
}

// Load reads configuration from defaults, an optional YAML file, and
// SANINV_ environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SANINV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			// A missing file is fine; defaults and env still apply.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(errors.Unwrap(err)) {
				return nil, fmt.Errorf("read config file %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("endpoint", "")

	v.SetDefault("auth.strategy", "basic")
	v.SetDefault("auth.login_path", "/api/login")
	v.SetDefault("auth.api_key_header", "X-API-Key")

	v.SetDefault("http.user_agent", "saninv/0.1.0")
	v.SetDefault("http.request_timeout", 30*time.Second)
	v.SetDefault("http.rate_limit", 10.0)
	v.SetDefault("http.rate_burst", 5)
	v.SetDefault("http.insecure_skip_verify", false)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff", 1*time.Second)
	v.SetDefault("retry.max_backoff", 30*time.Second)
	v.SetDefault("retry.backoff_multiplier", 2.0)

	v.SetDefault("fetch.page_size", 500)
	v.SetDefault("fetch.max_iterations", 1000)

	v.SetDefault("collector.concurrency", 4)
	v.SetDefault("collector.timeout", 15*time.Minute)
	v.SetDefault("collector.interval", 30*time.Minute)
	v.SetDefault("collector.client_major", 10)

	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.ttl", 5*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", false)
}

// Validate checks invariants the rest of the module relies on.
func (c *Config) Validate() error {
	switch c.Auth.Strategy {
	case "basic", "bearer", "apikey":
	default:
		return fmt.Errorf("auth.strategy must be basic, bearer or apikey (got %q)", c.Auth.Strategy)
	}

	if c.HTTP.RequestTimeout <= 0 {
		return errors.New("http.request_timeout must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be >= 1")
	}
	if c.Fetch.PageSize < 1 {
		return errors.New("fetch.page_size must be >= 1")
	}
	if c.Fetch.MaxIterations < 1 {
		return errors.New("fetch.max_iterations must be >= 1")
	}
	if c.Collector.Concurrency < 1 {
		return errors.New("collector.concurrency must be >= 1")
	}

	return nil
}
