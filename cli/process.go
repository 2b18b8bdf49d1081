package cli

import (
	"context"
	"encoding/json"

	"github.com/compozy/autoflow/engine/infra/server"
	"github.com/spf13/cobra"
)

// ProcessCmd runs a single processor tick, for external schedulers.
func ProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Run one processor tick and print its summary as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			deps, err := server.BuildDependencies(ctx, cfg)
			if err != nil {
				return err
			}
			defer deps.Close(context.WithoutCancel(ctx))
			summary, err := deps.Processor.Tick(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
}
