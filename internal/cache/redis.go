package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "pulse:agg:"

// RedisCache is a read-through cache for aggregation results. Values are
// stored as JSON under short TTLs and never explicitly invalidated.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects lazily to addr.
func NewRedisCache(addr, password string, db int, ttl time.Duration) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{client: rdb, ttl: ttl}
}

// Key joins the parts of a cache key under the aggregation namespace.
func Key(parts ...string) string {
	return keyPrefix + strings.Join(parts, ":")
}

// Get decodes the value stored under key into dest. It reports false on a
// miss; err is non-nil only for transport or decoding failures.
func (r *RedisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get: %w", err)
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, fmt.Errorf("decode cached value: %w", err)
	}
	return true, nil
}

// Set stores value under key for the configured TTL.
func (r *RedisCache) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cached value: %w", err)
	}
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
