// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers file, .env and environment values over the defaults.
// - Errors are wrapped with this package's sentinel kinds.
package config

import (
	"fmt"
	"runtime"
	"sort"
	"time"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// Storage selects the metrics repository: memory or postgres.
	Storage          string `koanf:"storage"`
	DatabaseURL      string `koanf:"database_url"`
	DBMaxOpenConns   int    `koanf:"db_max_open_conns"`
	DBQueryTimeoutMS int    `koanf:"db_query_timeout_ms"`

	// RedisAddr enables the shared explorer response cache when set.
	RedisAddr       string `koanf:"redis_addr"`
	RedisDB         int    `koanf:"redis_db"`
	CacheTTLSeconds int    `koanf:"cache_ttl_seconds"`

	// TraderWorkers bounds how many traders are validated at once.
	TraderWorkers int `koanf:"trader_workers"`
	// VerifyWorkers and VerifyQueueSize size the shared verification pool.
	VerifyWorkers   int `koanf:"verify_workers"`
	VerifyQueueSize int `koanf:"verify_queue_size"`

	// Explorer call budget and retry policy.
	VerifyRatePerSec    float64 `koanf:"verify_rate_per_sec"`
	VerifyBurst         int     `koanf:"verify_burst"`
	VerifyTimeoutMS     int     `koanf:"verify_timeout_ms"`
	VerifyMaxRetries    int     `koanf:"verify_max_retries"`
	VerifyBackoffMS     int     `koanf:"verify_backoff_ms"`
	VerifyWindowMinutes int     `koanf:"verify_window_minutes"`

	ExplorerBaseURL string `koanf:"explorer_base_url"`
	ExplorerAPIKey  string `koanf:"explorer_api_key"`

	// Networks maps chain names to chain ids.
	Networks map[string]int64 `koanf:"networks"`
	// ExchangeWallets extends the built-in exchange hot-wallet list.
	ExchangeWallets []string `koanf:"exchange_wallets"`

	// MaxRankingsLimit caps GET /v1/rankings?limit.
	MaxRankingsLimit int `koanf:"max_rankings_limit"`

	// SignalResearchMinutes is the minimum research time per signal before
	// a burst of signals counts as clustered.
	SignalResearchMinutes int `koanf:"signal_research_minutes"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		LogFormat:             "text",
		Addr:                  ":9080",
		Storage:               StorageMemory,
		DBMaxOpenConns:        10,
		DBQueryTimeoutMS:      5000,
		CacheTTLSeconds:       600,
		TraderWorkers:         runtime.NumCPU() * 2,
		VerifyWorkers:         8,
		VerifyQueueSize:       1024,
		VerifyRatePerSec:      5,
		VerifyBurst:           5,
		VerifyTimeoutMS:       5000,
		VerifyMaxRetries:      2,
		VerifyBackoffMS:       500,
		VerifyWindowMinutes:   30,
		ExplorerBaseURL:       "https://api.etherscan.io/v2/api",
		Networks:              map[string]int64{"ethereum": 1, "bsc": 56},
		MaxRankingsLimit:      100,
		SignalResearchMinutes: 5,
	}
}

// Validate checks values that would make the service unusable.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.Storage != StorageMemory && c.Storage != StoragePostgres:
		return fmt.Errorf("%w: unknown storage %q", ErrInvalidConfig, c.Storage)
	case c.Storage == StoragePostgres && c.DatabaseURL == "":
		return fmt.Errorf("%w: database_url is required for postgres storage", ErrInvalidConfig)
	case c.TraderWorkers < 1 || c.VerifyWorkers < 1 || c.VerifyQueueSize < 1:
		return fmt.Errorf("%w: worker pools and queues must be positive", ErrInvalidConfig)
	case c.VerifyRatePerSec <= 0 || c.VerifyBurst < 1:
		return fmt.Errorf("%w: verify rate and burst must be positive", ErrInvalidConfig)
	case c.VerifyMaxRetries < 0:
		return fmt.Errorf("%w: verify_max_retries must not be negative", ErrInvalidConfig)
	case c.MaxRankingsLimit < 1:
		return fmt.Errorf("%w: max_rankings_limit must be positive", ErrInvalidConfig)
	case len(c.Networks) == 0:
		return fmt.Errorf("%w: at least one network is required", ErrInvalidConfig)
	}
	return nil
}

// NetworkNames returns configured networks ordered by chain id, which is
// the order verification tries them in.
func (c *Config) NetworkNames() []string {
	names := make([]string, 0, len(c.Networks))
	for name := range c.Networks {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := c.Networks[names[i]], c.Networks[names[j]]
		if a != b {
			return a < b
		}
		return names[i] < names[j]
	})
	return names
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// DBQueryTimeout returns the per-statement database timeout.
func (c *Config) DBQueryTimeout() time.Duration { return ms(c.DBQueryTimeoutMS) }

// VerifyTimeout returns the per-call explorer timeout.
func (c *Config) VerifyTimeout() time.Duration { return ms(c.VerifyTimeoutMS) }

// VerifyBackoff returns the retry backoff base.
func (c *Config) VerifyBackoff() time.Duration { return ms(c.VerifyBackoffMS) }

// VerifyWindow returns the half-width of the verification window.
func (c *Config) VerifyWindow() time.Duration {
	return time.Duration(c.VerifyWindowMinutes) * time.Minute
}

// CacheTTL returns the explorer response cache TTL.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// SignalResearchTime returns the per-signal research time.
func (c *Config) SignalResearchTime() time.Duration {
	return time.Duration(c.SignalResearchMinutes) * time.Minute
}
