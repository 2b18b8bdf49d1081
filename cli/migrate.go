package cli

import (
	"fmt"

	"github.com/compozy/autoflow/engine/infra/repo"
	"github.com/compozy/autoflow/pkg/logger"
	"github.com/spf13/cobra"
)

func MigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations for the configured driver",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFromCmd(cmd)
			if err != nil {
				return err
			}
			if err := repo.Migrate(cmd.Context(), &cfg.Database); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			logger.FromContext(cmd.Context()).Info("Migrations applied", "driver", cfg.Database.Driver)
			return nil
		},
	}
}
