package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/compozy/autoflow/engine/infra/server/appstate"
	"github.com/compozy/autoflow/engine/infra/server/middleware/ratelimit"
	"github.com/compozy/autoflow/engine/infra/server/router"
	"github.com/compozy/autoflow/engine/infra/server/routes"
	"github.com/compozy/autoflow/pkg/logger"
	"github.com/compozy/autoflow/pkg/version"
	"github.com/gin-gonic/gin"
)

func (s *Server) buildRateLimiter() gin.HandlerFunc {
	rl := s.cfg.Server.RateLimit
	if !rl.Enabled || rl.Limit <= 0 {
		return nil
	}
	log := logger.FromContext(s.ctx)
	rateLimitConfig := ratelimit.FromAppConfig(&rl)
	rateLimitConfig.ExcludedPaths = append(rateLimitConfig.ExcludedPaths, s.deps.Monitoring.Path())
	var (
		manager *ratelimit.Manager
		err     error
		driver  = "memory"
	)
	redisClient := s.redisClient()
	if redisClient != nil {
		driver = "redis"
	}
	if s.deps.Monitoring.IsInitialized() {
		manager, err = ratelimit.NewManagerWithMetrics(s.ctx, rateLimitConfig, redisClient, s.deps.Monitoring.Meter())
	} else {
		manager, err = ratelimit.NewManager(rateLimitConfig, redisClient)
	}
	if err != nil {
		log.Error("Failed to initialize rate limiting", "error", err)
		return nil
	}
	log.Info("Rate limiter initialized", "driver", driver, "limit", rl.Limit, "period", rl.Period)
	return manager.Middleware()
}

func (s *Server) buildRouter() error {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.deps.Monitoring.GinMiddleware())
	r.Use(LoggerMiddleware(s.ctx))
	r.Use(appstate.StateMiddleware(s.state))
	if s.deps.Monitoring.IsInitialized() {
		r.GET(s.deps.Monitoring.Path(), gin.WrapH(s.deps.Monitoring.ExporterHandler()))
	}
	if err := RegisterRoutes(s.ctx, r, s.state, s); err != nil {
		return err
	}
	r.NoRoute(func(c *gin.Context) {
		router.RespondWithError(c, router.NewRequestError(http.StatusNotFound, "route not found", nil))
	})
	s.router = r
	return nil
}

func (s *Server) logStartupBanner() {
	log := logger.FromContext(s.ctx)
	httpURL := fmt.Sprintf("http://%s:%d", friendlyHost(s.serverConfig.Host), s.serverConfig.Port)
	lines := []string{
		fmt.Sprintf("Autoflow %s", version.Get().Version),
		fmt.Sprintf("  API           > %s%s", httpURL, routes.Base()),
		fmt.Sprintf("  Health        > %s%s", httpURL, routes.Health()),
		fmt.Sprintf("  Webhooks      > %s%s", httpURL, routes.Hooks()),
		fmt.Sprintf("  Store         > %s", s.cfg.Database.Driver),
	}
	if s.deps.Monitoring.IsInitialized() {
		lines = append(lines, fmt.Sprintf("  Metrics       > %s%s", httpURL, s.deps.Monitoring.Path()))
	}
	log.Info("\n" + strings.Join(lines, "\n"))
}

func friendlyHost(h string) string {
	if h == hostAny || h == "::" || h == "" {
		return hostLoopback
	}
	return h
}
