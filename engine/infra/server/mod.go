package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/compozy/autoflow/pkg/logger"
)

// Run serves HTTP and drives the background loops until ctx is cancelled:
// processor ticks every processor.tick_interval and the cron scheduler when
// enabled. A zero tick interval leaves ticking to POST /queue/process.
func (s *Server) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-runCtx.Done():
		case <-s.ctx.Done():
		}
		cancel()
	}()
	if err := s.startBackground(runCtx); err != nil {
		return err
	}
	s.httpServer = s.createHTTPServer()
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-time.After(serverStartProbeDelay):
		s.logStartupBanner()
	}
	select {
	case <-runCtx.Done():
		log.Debug("Received shutdown signal, initiating graceful shutdown")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	}
	return s.shutdown(ctx)
}

func (s *Server) startBackground(ctx context.Context) error {
	log := logger.FromContext(ctx)
	interval := s.cfg.Processor.TickInterval
	if interval > 0 {
		go s.deps.Processor.Run(ctx, interval)
	} else {
		log.Info("Processor loop disabled; ticks are driven externally")
	}
	if s.deps.Scheduler != nil {
		if err := s.deps.Scheduler.Start(ctx, s.cfg.Schedule.ReconcileInterval); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}
	return nil
}

// Shutdown stops accepting requests and cancels the background loops.
func (s *Server) Shutdown() {
	s.cancel()
}

func (s *Server) shutdown(ctx context.Context) error {
	s.cancel()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
	defer cancel()
	if s.deps.Scheduler != nil {
		s.deps.Scheduler.Stop(shutdownCtx)
	}
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.FromContext(ctx).Info("Server shutdown completed successfully")
	return nil
}
