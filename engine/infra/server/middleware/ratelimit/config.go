package ratelimit

import (
	"fmt"
	"time"

	"github.com/compozy/autoflow/pkg/config"
	"github.com/ulule/limiter/v3"
)

// Config represents rate limiting configuration
type Config struct {
	// Per-client rate applied to every limited route
	Rate RateConfig

	// Options
	Prefix   string
	MaxRetry int

	// Exclude patterns
	ExcludedPaths []string
}

// RateConfig represents a single rate limit configuration
type RateConfig struct {
	Period time.Duration
	Limit  int64
}

// DefaultConfig returns default rate limiting configuration
func DefaultConfig() *Config {
	return &Config{
		Rate: RateConfig{
			Limit:  120,
			Period: 1 * time.Minute,
		},
		Prefix:        "autoflow:ratelimit:",
		MaxRetry:      3,
		ExcludedPaths: []string{"/healthz", "/metrics"},
	}
}

// FromAppConfig overlays the server rate limit section on the defaults.
func FromAppConfig(cfg *config.RateLimitConfig) *Config {
	out := DefaultConfig()
	if cfg == nil {
		return out
	}
	if cfg.Limit > 0 {
		out.Rate.Limit = cfg.Limit
	}
	if cfg.Period > 0 {
		out.Rate.Period = cfg.Period
	}
	return out
}

// ToLimiterRate converts RateConfig to limiter.Rate
func (rc RateConfig) ToLimiterRate() limiter.Rate {
	return limiter.Rate{
		Period: rc.Period,
		Limit:  rc.Limit,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Rate.Limit <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	if c.Rate.Period <= 0 {
		return fmt.Errorf("rate limit period must be positive")
	}
	return nil
}
