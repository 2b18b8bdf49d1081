package monitoring

import (
	"errors"
	"fmt"
	"strings"

	"github.com/compozy/autoflow/pkg/config"
)

// Config holds configuration for the monitoring service.
type Config struct {
	Enabled bool
	Path    string
}

func DefaultConfig() *Config {
	return &Config{
		Enabled: false,
		Path:    "/metrics",
	}
}

// FromAppConfig maps the application monitoring section, filling the default path.
func FromAppConfig(cfg *config.MonitoringConfig) *Config {
	out := DefaultConfig()
	if cfg == nil {
		return out
	}
	out.Enabled = cfg.Enabled
	if cfg.Path != "" {
		out.Path = cfg.Path
	}
	return out
}

func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.New("monitoring path cannot be empty")
	}
	if c.Path[0] != '/' {
		return fmt.Errorf("monitoring path must start with '/': got %s", c.Path)
	}
	if strings.HasPrefix(c.Path, "/api/") {
		return errors.New("monitoring path cannot be under /api/")
	}
	if strings.ContainsRune(c.Path, '?') {
		return errors.New("monitoring path cannot contain query parameters")
	}
	return nil
}
