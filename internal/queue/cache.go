package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/finshield/fraud-engine/configs"
)

// CacheClient provides caching and bounded-list operations on Redis.
type CacheClient struct {
	client *redis.Client
}

// NewCacheClient creates a new cache client.
func NewCacheClient(cfg configs.RedisConfig) (*CacheClient, error) {
	client, err := NewRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	return &CacheClient{client: client}, nil
}

// NewCacheClientWith wraps an existing Redis connection.
func NewCacheClientWith(client *redis.Client) *CacheClient {
	return &CacheClient{client: client}
}

// Set sets a JSON-encoded value with an expiration.
func (c *CacheClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, expiration).Err()
}

// Get retrieves a JSON-encoded value.
func (c *CacheClient) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// Delete removes keys.
func (c *CacheClient) Delete(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}

// PushCapped pushes a value onto the head of a list and trims the list to
// the given capacity, evicting the oldest entries. Both operations run in
// one pipeline so the list never grows past capacity.
func (c *CacheClient) PushCapped(ctx context.Context, key string, value interface{}, capacity int64) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	pipe := c.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, capacity-1)
	_, err = pipe.Exec(ctx)
	return err
}

// Range returns list elements in [start, stop].
func (c *CacheClient) Range(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return c.client.LRange(ctx, key, start, stop).Result()
}

// HSetAll writes all fields of a hash in one call.
func (c *CacheClient) HSetAll(ctx context.Context, key string, fields map[string]interface{}) error {
	return c.client.HSet(ctx, key, fields).Err()
}

// HGetAll reads all fields of a hash.
func (c *CacheClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.client.HGetAll(ctx, key).Result()
}

// HealthCheck pings Redis.
func (c *CacheClient) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the cache client.
func (c *CacheClient) Close() error {
	return c.client.Close()
}
