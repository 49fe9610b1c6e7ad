package decisioncache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/gatehouse/pkg/access"
)

// Cache backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// Config selects and tunes a cache backend
type Config struct {
	Backend    string
	TTL        time.Duration
	MaxEntries int
	KeyPrefix  string
	Redis      RedisConfig
}

// New builds the configured cache. The Redis client is returned for the redis
// backend so callers can health-check and close it; it is nil otherwise.
func New(ctx context.Context, cfg Config) (access.DecisionCache, *redis.Client, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryCache(cfg.MaxEntries, cfg.TTL), nil, nil
	case BackendRedis:
		client, err := NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return NewRedisCache(client, cfg.KeyPrefix), client, nil
	case BackendNone:
		return Noop{}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
