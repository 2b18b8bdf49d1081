package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/compozy/autoflow/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const fallbackRedisPingTimeout = 10 * time.Second

// Redis wraps a go-redis client. In embedded mode it also owns an in-process
// miniredis server, which keeps state only for the life of the process.
type Redis struct {
	client   redis.UniversalClient
	embedded *miniredis.Miniredis
	once     sync.Once
}

// NewRedis connects to the configured server and verifies it with a ping.
func NewRedis(ctx context.Context, cfg *Config) (*Redis, error) {
	if !cfg.Enabled() {
		return nil, errors.New("redis is not configured")
	}
	r := &Redis{}
	opt, err := r.options(cfg)
	if err != nil {
		return nil, err
	}
	r.client = redis.NewClient(opt)
	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = fallbackRedisPingTimeout
	}
	if err := pingRedis(ctx, r.client, timeout); err != nil {
		_ = r.Close()
		return nil, err
	}
	logger.FromContext(ctx).Info("Redis connection established",
		"embedded", cfg.Embedded,
		"addr", opt.Addr,
		"pool_size", opt.PoolSize,
	)
	return r, nil
}

func (r *Redis) options(cfg *Config) (*redis.Options, error) {
	var opt *redis.Options
	if cfg.Embedded {
		srv, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("starting embedded redis: %w", err)
		}
		r.embedded = srv
		opt = &redis.Options{Addr: srv.Addr()}
	} else {
		var err error
		opt, err = redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing Redis URL: %w", err)
		}
	}
	if cfg.PoolSize > 0 {
		opt.PoolSize = cfg.PoolSize
	}
	return opt, nil
}

func pingRedis(ctx context.Context, client redis.UniversalClient, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("pinging Redis server (timeout=%s): %w", timeout, err)
	}
	return nil
}

func (r *Redis) Client() redis.UniversalClient {
	return r.client
}

// SetNX stores value under key only if the key does not exist.
func (r *Redis) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	return r.client.SetNX(ctx, key, value, expiration)
}

// Del removes keys.
func (r *Redis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	return r.client.Del(ctx, keys...)
}

func (r *Redis) HealthCheck(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close is idempotent.
func (r *Redis) Close() error {
	var err error
	r.once.Do(func() {
		if r.client != nil {
			err = r.client.Close()
		}
		if r.embedded != nil {
			r.embedded.Close()
		}
	})
	return err
}
