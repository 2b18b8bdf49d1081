package logger

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ConfigFromFlags reads the persistent --log-* flags. Logs go to stderr so
// commands can print machine-readable output on stdout.
func ConfigFromFlags(cmd *cobra.Command) (*Config, error) {
	flags := cmd.Flags()
	level, err := flags.GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	cfg := DefaultConfig()
	cfg.Level = LogLevel(level)
	if cfg.JSON, err = flags.GetBool("log-json"); err != nil {
		return nil, fmt.Errorf("failed to get log-json flag: %w", err)
	}
	if cfg.AddSource, err = flags.GetBool("log-source"); err != nil {
		return nil, fmt.Errorf("failed to get log-source flag: %w", err)
	}
	return cfg, nil
}

// Setup installs cfg as the default logger and returns it.
func Setup(cfg *Config) Logger {
	Init(cfg)
	return GetDefault()
}
