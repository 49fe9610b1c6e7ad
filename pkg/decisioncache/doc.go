// Package decisioncache provides the access.DecisionCache implementations.
//
//   - MemoryCache: bounded in-process LRU with per-entry TTL, for single-instance deployments
//   - RedisCache: shared cache with SCAN based pattern invalidation
//   - Noop: caching disabled
//
// New selects one from configuration:
//
//	cache, redisClient, err := decisioncache.New(ctx, decisioncache.Config{Backend: "redis", Redis: redisCfg})
package decisioncache
