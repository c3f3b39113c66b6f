package domain

import (
	"context"
	"time"
)

// Cache defines the interface for result caching.
// Supports two-phase caching: local LRU + Redis.
// All methods are scoped to a namespace, normally the dataset.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, namespace string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, namespace string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, namespace string, key string) error

	// Purge drops every entry of a namespace.
	Purge(ctx context.Context, namespace string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `koanf:"type" validate:"oneof=memory redis"`

	// Local LRU cache settings
	LocalMaxSize int           `koanf:"local_max_size"`
	LocalTTL     time.Duration `koanf:"local_ttl"`

	// Redis settings
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`

	// Two-phase settings
	EnableTwoPhase bool `koanf:"enable_two_phase"` // If true, check local first, then Redis

	// ResultTTL bounds how long analysis results are reused.
	ResultTTL time.Duration `koanf:"result_ttl"`
}
