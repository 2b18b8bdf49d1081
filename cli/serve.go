package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/compozy/autoflow/engine/infra/server"
	"github.com/compozy/autoflow/pkg/logger"
	"github.com/spf13/cobra"
)

// ServeCmd runs the HTTP API with the processor loop and cron scheduler.
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server, the processor loop and the scheduler",
		RunE:  runServe,
	}
	cmd.Flags().String("host", "", "Host to listen on")
	cmd.Flags().Int("port", 0, "Port to listen on")
	cmd.Flags().Duration("tick-interval", 0, "Processor tick interval (0 disables the loop)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := configFromCmd(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	deps, err := server.BuildDependencies(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close(context.WithoutCancel(ctx))
	srv, err := server.NewServer(ctx, deps)
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Info("Starting autoflow server",
		"address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"tick_interval", cfg.Processor.TickInterval,
	)
	return srv.Run(ctx)
}
