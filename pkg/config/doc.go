// Package config loads gatehouse configuration.
//
// Values come from three layers, later ones winning: built-in defaults, an
// optional YAML file named by GATEHOUSE_CONFIG_FILE, and GATEHOUSE_*
// environment variables.
//
// Database settings:
//
//	GATEHOUSE_POSTGRES_URL="postgres://localhost/gatehouse?sslmode=disable"
//	GATEHOUSE_POSTGRES_MAX_CONNS="20"
//	GATEHOUSE_AUTO_MIGRATE="true"
//
// Decision cache settings:
//
//	GATEHOUSE_CACHE_BACKEND="memory"  # memory, redis, none
//	GATEHOUSE_CACHE_TTL="5m"
//	GATEHOUSE_CACHE_MAX_ENTRIES="100000"
//	GATEHOUSE_REDIS_URL="redis://localhost:6379"
//
// The memory backend only invalidates entries held by its own process. Run
// several instances against the redis backend.
//
// Maintenance settings:
//
//	GATEHOUSE_PATH_VERIFY_SCHEDULE="@every 1h"
//	GATEHOUSE_HIERARCHY_MAX_DEPTH="64"
//
// Observability settings:
//
//	GATEHOUSE_LOG_LEVEL="info"
//	GATEHOUSE_HEALTH_PORT="9090"
//	GATEHOUSE_OTEL_ENABLED="false"
//	GATEHOUSE_OTEL_ENDPOINT="localhost:4317"
//
// The same keys in YAML:
//
//	database:
//	  url: postgres://localhost/gatehouse
//	cache:
//	  backend: redis
//	  ttl: 5m
//	maintenance:
//	  path_verify_schedule: "@every 30m"
package config
