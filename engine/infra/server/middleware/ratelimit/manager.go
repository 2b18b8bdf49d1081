package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"github.com/compozy/autoflow/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.opentelemetry.io/otel/metric"
)

// Manager builds the per-client limiter middleware.
type Manager struct {
	config    *Config
	limiter   *limiter.Limiter
	storeKind string
	blocked   *blockCounter
}

// NewManager uses Redis when a client is given so limits hold across
// replicas, otherwise an in-process store.
func NewManager(cfg *Config, client redis.UniversalClient) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := limiter.StoreOptions{Prefix: cfg.Prefix, MaxRetry: cfg.MaxRetry}
	var (
		store limiter.Store
		kind  = "memory"
		err   error
	)
	if client != nil {
		kind = "redis"
		store, err = sredis.NewStoreWithOptions(client, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis limiter store: %w", err)
		}
	} else {
		store = memory.NewStoreWithOptions(opts)
	}
	return &Manager{
		config:    cfg,
		limiter:   limiter.New(store, cfg.Rate.ToLimiterRate()),
		storeKind: kind,
	}, nil
}

// NewManagerWithMetrics also registers the blocked-requests counter.
func NewManagerWithMetrics(
	ctx context.Context,
	cfg *Config,
	client redis.UniversalClient,
	meter metric.Meter,
) (*Manager, error) {
	m, err := NewManager(cfg, client)
	if err != nil || meter == nil {
		return m, err
	}
	if m.blocked, err = newBlockCounter(meter); err != nil {
		logger.FromContext(ctx).Error("Failed to initialize rate limit metrics", "error", err)
	}
	return m, nil
}

func (m *Manager) Middleware() gin.HandlerFunc {
	limit := mgin.NewMiddleware(
		m.limiter,
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			m.blocked.record(c.Request.Context(), c.FullPath(), m.storeKind)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			// Store errors fail open.
			logger.FromContext(c.Request.Context()).Warn("Rate limiter unavailable", "error", err)
			c.Next()
		}),
	)
	return func(c *gin.Context) {
		if slices.Contains(m.config.ExcludedPaths, c.Request.URL.Path) {
			c.Next()
			return
		}
		limit(c)
	}
}
