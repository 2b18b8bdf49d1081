package cache

import (
	"time"

	"github.com/compozy/autoflow/pkg/config"
)

// Config selects a Redis server or an embedded one. With neither URL nor
// Embedded set, no client is created.
type Config struct {
	URL         string
	Embedded    bool
	PoolSize    int
	PingTimeout time.Duration
}

func FromAppConfig(cfg *config.RedisConfig) *Config {
	if cfg == nil {
		return &Config{}
	}
	return &Config{
		URL:         cfg.URL,
		Embedded:    cfg.Embedded,
		PoolSize:    cfg.PoolSize,
		PingTimeout: cfg.PingTimeout,
	}
}

// Enabled reports whether a Redis client should be built.
func (c *Config) Enabled() bool {
	return c != nil && (c.URL != "" || c.Embedded)
}
