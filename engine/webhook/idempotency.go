package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/compozy/autoflow/engine/core"
	"github.com/redis/go-redis/v9"
)

const (
	HeaderIdempotencyKey = "X-Idempotency-Key"
	maxIdempotencyKeyLen = 128
	idempotencyNamespace = "idempotency:webhook"
)

// ErrDuplicate is returned by CheckAndSet when the key was seen within its TTL.
var ErrDuplicate = core.ErrDuplicate

// Service records idempotency keys.
type Service interface {
	CheckAndSet(ctx context.Context, key string, ttl time.Duration) error
	// Release forgets a key so a request that was not processed can be retried.
	Release(ctx context.Context, key string) error
}

// RedisClient is the subset of go-redis used for dedupe.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type redisService struct {
	client RedisClient
	prefix string
}

// NewRedisService stores keys with SET NX so only the first caller wins.
func NewRedisService(client RedisClient, prefix string) Service {
	return &redisService{client: client, prefix: strings.Trim(prefix, ":")}
}

func (s *redisService) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

func (s *redisService) CheckAndSet(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, s.fullKey(key), "1", ttl).Result()
	if err != nil {
		return fmt.Errorf("idempotency check failed: %w", err)
	}
	if !ok {
		return ErrDuplicate
	}
	return nil
}

func (s *redisService) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.fullKey(key)).Err(); err != nil {
		return fmt.Errorf("idempotency release failed: %w", err)
	}
	return nil
}

// DeriveKey returns the caller-supplied idempotency key, or "" when none was sent.
func DeriveKey(h http.Header) (string, error) {
	key := strings.TrimSpace(h.Get(HeaderIdempotencyKey))
	if len(key) > maxIdempotencyKeyLen {
		return "", errors.New("idempotency key is too long")
	}
	return key, nil
}

// KeyWithNamespace scopes an idempotency key to one routing key.
func KeyWithNamespace(routingKey, key string) string {
	return idempotencyNamespace + ":" + routingKey + ":" + key
}
