package cli

import (
	"context"
	"fmt"

	"github.com/compozy/autoflow/engine/infra/repo"
	"github.com/compozy/autoflow/engine/workflow"
	"github.com/compozy/autoflow/pkg/logger"
	"github.com/spf13/cobra"
)

func WorkflowsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflows",
		Short: "Manage workflow definitions",
	}
	cmd.AddCommand(workflowsSyncCmd())
	return cmd
}

func workflowsSyncCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Load YAML workflow definitions from a directory into the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFromCmd(cmd)
			if err != nil {
				return err
			}
			defs, err := workflow.LoadDir(dir)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := repo.Open(ctx, &cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer func() {
				if err := st.Close(context.WithoutCancel(ctx)); err != nil {
					logger.FromContext(ctx).Warn("Failed to close store", "error", err)
				}
			}()
			n, err := syncDefinitions(ctx, st, defs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced %d workflow(s) from %s\n", n, dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "workflows", "Directory holding *.yaml workflow definitions")
	return cmd
}

func syncDefinitions(ctx context.Context, workflows workflow.Repository, defs []*workflow.Definition) (int, error) {
	log := logger.FromContext(ctx)
	for i, def := range defs {
		if err := workflows.SaveDefinition(ctx, def); err != nil {
			return i, fmt.Errorf("failed to save workflow %s: %w", def.ID, err)
		}
		log.Info("Workflow synced", "workflow_id", def.ID, "active", def.IsActive)
	}
	return len(defs), nil
}
