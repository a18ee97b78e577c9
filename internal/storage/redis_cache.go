package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/user/nostrgit/internal/errors"
)

// RedisCache stores cache entries as plain redis strings.
type RedisCache struct {
	client *redis.Client
	quota  int
	feed   changeFeed
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string, quota int) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, &apperrors.NetworkError{Target: opts.Addr, Err: err}
	}

	return NewRedisCacheWithClient(client, quota), nil
}

// NewRedisCacheWithClient creates a cache from an existing client.
func NewRedisCacheWithClient(client *redis.Client, quota int) *RedisCache {
	return &RedisCache{client: client, quota: quota}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := decode(key, raw, dst); err != nil {
		return false, err
	}
	return true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, value any) error {
	b, err := encode(key, value, c.quota)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, b, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	c.feed.notify(key)
	return nil
}

// Delete implements Cache.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	c.feed.notify(key)
	return nil
}

// Subscribe implements Cache.
func (c *RedisCache) Subscribe(fn func(key string)) func() {
	return c.feed.subscribe(fn)
}

// Close closes the redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
