package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domain "github.com/erp/syncengine/internal/domain/sync"
)

const defaultKeyPrefix = "sync:idempotency:"

// RedisIdempotencyCache implements domain.IdempotencyCache using Redis,
// so multiple instances share the fast path.
type RedisIdempotencyCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// RedisOptions holds Redis connection settings for the cache.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisIdempotencyCache connects to Redis and verifies the connection.
func NewRedisIdempotencyCache(opts RedisOptions) (*RedisIdempotencyCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisIdempotencyCacheWithClient(client, "", opts.TTL), nil
}

// NewRedisIdempotencyCacheWithClient wraps an existing client. Useful
// for testing or when sharing a client across components.
func NewRedisIdempotencyCacheWithClient(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisIdempotencyCache {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &RedisIdempotencyCache{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

// MarkProcessed marks a key with SETNX so the check and set are atomic.
// Returns true if the key was newly marked.
func (c *RedisIdempotencyCache) MarkProcessed(ctx context.Context, key string) (bool, error) {
	set, err := c.client.SetNX(ctx, c.keyPrefix+key, "1", c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark key as processed: %w", err)
	}
	return set, nil
}

// IsProcessed checks whether a key has been marked.
func (c *RedisIdempotencyCache) IsProcessed(ctx context.Context, key string) (bool, error) {
	exists, err := c.client.Exists(ctx, c.keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check processed key: %w", err)
	}
	return exists > 0, nil
}

// Close closes the Redis client.
func (c *RedisIdempotencyCache) Close() error {
	return c.client.Close()
}

var _ domain.IdempotencyCache = (*RedisIdempotencyCache)(nil)
