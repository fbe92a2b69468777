// Package config loads the typed application configuration. Every recognized
// option is an explicit struct field with a default; nothing is looked up
// dynamically at run time.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/daasalpha/alphahunter/internal/backtest"
	"github.com/daasalpha/alphahunter/internal/regime"
)

// Duration wraps time.Duration so YAML configs can say "30s" or "6h".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) { return time.Duration(d).String(), nil }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the full application configuration.
type Config struct {
	Backtest  backtest.Config `yaml:"backtest"`
	Factors   FactorsConfig   `yaml:"factors"`
	Regime    regime.Config   `yaml:"regime"`
	Benchmark string          `yaml:"benchmark"` // benchmark index asset ID
	Provider  ProviderConfig  `yaml:"provider"`
	Cache     CacheConfig     `yaml:"cache"`
	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// FactorsConfig sets the factor pipeline windows.
type FactorsConfig struct {
	RPSWindow    int     `yaml:"rps_window"`
	MAWindow     int     `yaml:"ma_window"`
	VolumeWindow int     `yaml:"volume_window"`
	MaxValuation float64 `yaml:"max_valuation"`
}

// ProviderConfig configures the market data client.
type ProviderConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RPS            float64       `yaml:"rps"`             // request rate per host
	Burst          int           `yaml:"burst"`           // token bucket burst
	MaxConcurrency int           `yaml:"max_concurrency"` // fetch worker pool size
	Timeout        Duration      `yaml:"timeout"`
	CacheTTL       Duration      `yaml:"cache_ttl"`
	Breaker        BreakerConfig `yaml:"breaker"`

	// Token comes from the environment, never from the YAML file.
	Token string `yaml:"-"`
}

// BreakerConfig configures the provider circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // probes allowed half-open
	Interval            Duration `yaml:"interval"`             // closed-state count reset
	Timeout             Duration `yaml:"timeout"`              // open-state cool down
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // failures to trip
}

// CacheConfig selects the history cache backend.
type CacheConfig struct {
	RedisAddr string   `yaml:"redis_addr"` // empty = in-memory cache
	TTL       Duration `yaml:"ttl"`
}

// DatabaseConfig configures result persistence. An empty DSN disables it.
type DatabaseConfig struct {
	DSN     string   `yaml:"dsn"`
	Timeout Duration `yaml:"timeout"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// SchedulerConfig holds the scheduled jobs.
type SchedulerConfig struct {
	Jobs []Job `yaml:"jobs"`
}

// Job is one scheduled task.
type Job struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"` // "backtest" or "screen"
	Interval Duration `yaml:"interval"`
	Enabled  bool     `yaml:"enabled"`
	Lookback int      `yaml:"lookback_days"` // history window for the run
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		Backtest: backtest.DefaultConfig(),
		Factors: FactorsConfig{
			RPSWindow:    60,
			MAWindow:     20,
			VolumeWindow: 5,
			MaxValuation: 30,
		},
		Regime:    regime.DefaultConfig(),
		Benchmark: "000300.SH",
		Provider: ProviderConfig{
			BaseURL:        "https://api.daasalpha.io",
			RPS:            5,
			Burst:          10,
			MaxConcurrency: 8,
			Timeout:        Duration(10 * time.Second),
			CacheTTL:       Duration(6 * time.Hour),
			Breaker: BreakerConfig{
				MaxRequests:         3,
				Interval:            Duration(60 * time.Second),
				Timeout:             Duration(30 * time.Second),
				ConsecutiveFailures: 5,
			},
		},
		Cache: CacheConfig{
			TTL: Duration(6 * time.Hour),
		},
		Database: DatabaseConfig{
			Timeout: Duration(5 * time.Second),
		},
		Server: ServerConfig{
			Addr: ":8087",
		},
	}
}

// Load reads a YAML config file over the defaults, then applies environment
// overrides for secrets and addresses (ALPHAHUNTER_DB_DSN, REDIS_ADDR,
// PROVIDER_TOKEN). A missing file is fine; defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if dsn := os.Getenv("ALPHAHUNTER_DB_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Cache.RedisAddr = addr
	}
	cfg.Provider.Token = os.Getenv("PROVIDER_TOKEN")

	if err := cfg.Backtest.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid backtest config: %w", err)
	}
	return cfg, nil
}
