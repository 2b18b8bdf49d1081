package cli

import (
	"context"
	"fmt"

	"github.com/compozy/autoflow/pkg/config"
	"github.com/compozy/autoflow/pkg/logger"
	"github.com/spf13/cobra"
)

const (
	defaultConfigFile = "autoflow.yaml"
	defaultEnvFile    = ".env"
)

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "autoflow",
		Short:         "Durable trigger-driven workflow engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return SetupGlobalConfig(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.String("config", defaultConfigFile, "Path to the YAML configuration file")
	flags.String("env-file", defaultEnvFile, "Path to an environment file loaded before configuration")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "Emit logs as JSON")
	flags.Bool("log-source", false, "Include source locations in logs")
	flags.String("db-driver", "", "Store driver (postgres, sqlite, memory)")
	flags.String("db-conn-string", "", "Postgres connection string")
	flags.String("sqlite-path", "", "SQLite database file")

	root.AddCommand(
		ServeCmd(),
		ProcessCmd(),
		MigrateCmd(),
		WorkflowsCmd(),
		ConfigCmd(),
	)
	return root
}

// SetupGlobalConfig loads the env file, configuration and logger, and
// attaches config and logger to the command context.
func SetupGlobalConfig(cmd *cobra.Command) error {
	if _, err := loadEnvFile(cmd); err != nil {
		return err
	}
	logCfg, err := logger.ConfigFromFlags(cmd)
	if err != nil {
		return err
	}
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, _, err := loadConfigWithSources(ctx, cmd, configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if !cmd.Flags().Changed("log-level") && cfg.Runtime.LogLevel != "" {
		logCfg.Level = logger.LogLevel(cfg.Runtime.LogLevel)
	}
	log := logger.Setup(logCfg)
	ctx = logger.ContextWithLogger(ctx, log)
	ctx = config.ContextWithConfig(ctx, cfg)
	cmd.SetContext(ctx)
	log.Debug("Configuration loaded", "config_file", configFile, "driver", cfg.Database.Driver)
	return nil
}

func configFromCmd(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.FromContext(cmd.Context())
	if cfg == nil {
		return nil, fmt.Errorf("configuration missing from command context")
	}
	return cfg, nil
}
