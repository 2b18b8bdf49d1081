package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/compozy/autoflow/engine/infra/server/appstate"
	"github.com/compozy/autoflow/pkg/config"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	statusNotReady        = "not_ready"
	statusReady           = "ready"
	serverShutdownTimeout = 5 * time.Second
	httpReadTimeout       = 15 * time.Second
	httpIdleTimeout       = 60 * time.Second
	serverStartProbeDelay = 100 * time.Millisecond
	hostAny               = "0.0.0.0"
	hostLoopback          = "127.0.0.1"
)

type Server struct {
	serverConfig *config.ServerConfig
	cfg          *config.Config
	deps         *Dependencies
	state        *appstate.State
	router       *gin.Engine
	ctx          context.Context
	cancel       context.CancelFunc
	httpServer   *http.Server
}

// NewServer builds the router over deps. The caller keeps ownership of deps
// and closes them after Run returns.
func NewServer(ctx context.Context, deps *Dependencies) (*Server, error) {
	if deps == nil || deps.Config == nil {
		return nil, fmt.Errorf("server dependencies are required")
	}
	state, err := appstate.NewState(appstate.NewBaseDeps(deps.Store, deps.Triggers, deps.Processor, deps.Webhooks))
	if err != nil {
		return nil, fmt.Errorf("failed to create app state: %w", err)
	}
	if deps.Scheduler != nil {
		state.SetScheduler(deps.Scheduler)
	}
	serverCtx, cancel := context.WithCancel(ctx)
	s := &Server{
		serverConfig: &deps.Config.Server,
		cfg:          deps.Config,
		deps:         deps,
		state:        state,
		ctx:          serverCtx,
		cancel:       cancel,
	}
	if err := s.buildRouter(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build router: %w", err)
	}
	return s, nil
}

// Handler exposes the router for in-process use.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) address() string {
	return fmt.Sprintf("%s:%d", s.serverConfig.Host, s.serverConfig.Port)
}

func (s *Server) createHTTPServer() *http.Server {
	writeTimeout := s.serverConfig.Timeout
	if writeTimeout <= 0 {
		writeTimeout = httpReadTimeout
	}
	return &http.Server{
		Addr:              s.address(),
		Handler:           s.router,
		ReadTimeout:       httpReadTimeout,
		ReadHeaderTimeout: httpReadTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       httpIdleTimeout,
	}
}

func (s *Server) redisClient() redis.UniversalClient {
	if s.deps.Redis == nil {
		return nil
	}
	return s.deps.Redis.Client()
}
