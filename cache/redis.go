package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis cache provider.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	// Prefix for all keys written by the proxy (default "grache:").
	KeyPrefix string
}

// RedisCache stores entries in Redis, which also takes care of expiry.
type RedisCache struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisCache connects to Redis and checks the connection.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisCacheWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisCacheWithClient creates a cache with an existing Redis client.
func NewRedisCacheWithClient(client redis.UniversalClient, keyPrefix string) *RedisCache {
	if keyPrefix == "" {
		keyPrefix = "grache:"
	}
	return &RedisCache{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (rc *RedisCache) fullKey(key uint64) string {
	return rc.keyPrefix + FormatKey(key)
}

func (rc *RedisCache) Get(ctx context.Context, key uint64) ([]byte, bool, error) {
	b, err := rc.client.Get(ctx, rc.fullKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (rc *RedisCache) Set(ctx context.Context, key uint64, bytes []byte) error {
	return rc.client.Set(ctx, rc.fullKey(key), bytes, 0).Err()
}

func (rc *RedisCache) Expire(ctx context.Context, key uint64, ttl time.Duration) error {
	return rc.client.PExpire(ctx, rc.fullKey(key), ttl).Err()
}

func (rc *RedisCache) Purge(ctx context.Context, key uint64) error {
	return rc.client.Del(ctx, rc.fullKey(key)).Err()
}

func (rc *RedisCache) Close() error {
	return rc.client.Close()
}
