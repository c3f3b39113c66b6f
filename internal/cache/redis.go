package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "kestrel:"

// RedisCache implements domain.Cache using Redis.
// Used in the distributed profile and as L2 in two-phase caching.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get retrieves a value from Redis. A miss returns nil, nil.
func (c *RedisCache) Get(ctx context.Context, namespace string, key string) ([]byte, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}

	val, err := c.client.Get(ctx, redisKey(namespace, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value in Redis with TTL.
func (c *RedisCache) Set(ctx context.Context, namespace string, key string, value []byte, ttl time.Duration) error {
	if namespace == "" {
		return fmt.Errorf("namespace is required")
	}
	return c.client.Set(ctx, redisKey(namespace, key), value, ttl).Err()
}

// Delete removes a value from Redis.
func (c *RedisCache) Delete(ctx context.Context, namespace string, key string) error {
	if namespace == "" {
		return fmt.Errorf("namespace is required")
	}
	return c.client.Del(ctx, redisKey(namespace, key)).Err()
}

// Purge unlinks every key of namespace, scanning in batches.
func (c *RedisCache) Purge(ctx context.Context, namespace string) error {
	if namespace == "" {
		return fmt.Errorf("namespace is required")
	}

	iter := c.client.Scan(ctx, 0, redisKey(namespace, "*"), 500).Iterator()
	batch := make([]string, 0, 500)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := c.client.Unlink(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan namespace %s: %w", namespace, err)
	}
	if len(batch) > 0 {
		return c.client.Unlink(ctx, batch...).Err()
	}
	return nil
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func redisKey(namespace, key string) string {
	return redisPrefix + namespace + ":" + key
}
