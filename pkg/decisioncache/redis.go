package decisioncache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/gatehouse/pkg/access"
)

// DefaultKeyPrefix namespaces decision keys in a shared Redis
const DefaultKeyPrefix = "gatehouse:decision"

const scanBatch = 200

// RedisConfig configures the Redis connection of a RedisCache
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
}

// NewRedisClient connects to Redis and verifies the connection with a ping
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.DB = cfg.DB
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	return client, nil
}

// RedisCache stores decisions as JSON values with a TTL. Invalidation is
// global across every instance sharing the Redis database.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache creates a cache on client. An empty prefix selects DefaultKeyPrefix.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

// Get implements access.DecisionCache
func (c *RedisCache) Get(ctx context.Context, key access.Key) (access.Decision, bool, error) {
	redisKey := c.key(key)

	data, err := c.client.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return access.Decision{}, false, nil
	}
	if err != nil {
		return access.Decision{}, false, fmt.Errorf("redis get failed: %w", err)
	}

	var decision access.Decision
	if err := json.Unmarshal(data, &decision); err != nil {
		if delErr := c.client.Del(ctx, redisKey).Err(); delErr != nil {
			return access.Decision{}, false, fmt.Errorf("%w: %v (delete failed: %v)", ErrCorruptEntry, err, delErr)
		}
		return access.Decision{}, false, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	return decision, true, nil
}

// Set implements access.DecisionCache
func (c *RedisCache) Set(ctx context.Context, key access.Key, decision access.Decision, ttl time.Duration) error {
	data, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Invalidate implements access.DecisionCache with SCAN and batched DEL
func (c *RedisCache) Invalidate(ctx context.Context, pattern access.KeyPattern) error {
	match := c.pattern(pattern)

	iter := c.client.Scan(ctx, 0, match, scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("failed to delete decision keys: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan failed for pattern %s: %w", match, err)
	}
	return flush()
}

// key renders prefix:subject:type:resource:permission:scope. Segments are
// query-escaped so they carry neither the separator nor glob metacharacters.
func (c *RedisCache) key(k access.Key) string {
	scope := "d"
	if k.Inherited {
		scope = "i"
	}
	return strings.Join([]string{
		c.prefix,
		url.QueryEscape(k.SubjectID),
		url.QueryEscape(string(k.ResourceType)),
		url.QueryEscape(k.ResourceID),
		url.QueryEscape(k.Permission),
		scope,
	}, ":")
}

func (c *RedisCache) pattern(p access.KeyPattern) string {
	segment := func(v string) string {
		if v == "" {
			return "*"
		}
		return url.QueryEscape(v)
	}
	return strings.Join([]string{
		c.prefix,
		segment(p.SubjectID),
		segment(string(p.ResourceType)),
		segment(p.ResourceID),
		segment(p.Permission),
		"*",
	}, ":")
}
