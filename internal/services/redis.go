package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisCache backs two concerns: the unpaid-months dashboard cache and
// the per-payment-intent locks that serialize racing webhook
// deliveries against admin-triggered updates.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects and pings within a bounded timeout.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Info().Msg("redis connection established")
	return &RedisCache{client: client}, nil
}

// Set stores a JSON-encoded value with expiration.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, expiration).Err()
}

// Get retrieves a JSON-encoded value into dest.
func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// GetOrSet returns the cached value for key, or computes, caches and
// returns it. Cache write failures are ignored; the computed value is
// still returned.
func GetOrSet[T any](c *RedisCache, ctx context.Context, key string, expiration time.Duration, fn func() (T, error)) (T, error) {
	var result T

	err := c.Get(ctx, key, &result)
	if err == nil {
		return result, nil
	}

	result, err = fn()
	if err != nil {
		return result, err
	}

	_ = c.Set(ctx, key, result, expiration)

	return result, nil
}

// Delete removes a key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// AcquireLock takes a best-effort mutex on key via SETNX. Returns a
// release func when acquired. The TTL bounds how long a crashed holder
// can block others.
func (c *RedisCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	ok, err := c.client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	release := func() {
		if err := c.client.Del(context.Background(), key).Err(); err != nil {
			log.Warn().Str("key", key).Err(err).Msg("failed to release lock")
		}
	}
	return release, true, nil
}

// InvalidateFamily drops the family's cached outstanding computation.
func (c *RedisCache) InvalidateFamily(ctx context.Context, familyID uint) {
	key := FamilyOutstandingKey(familyID)
	if err := c.Delete(ctx, key); err != nil && err != redis.Nil {
		log.Warn().Uint("family_id", familyID).Err(err).Msg("failed to invalidate outstanding cache")
	}
}

// FamilyOutstandingKey is the cache key for a family's unpaid months.
func FamilyOutstandingKey(familyID uint) string {
	return fmt.Sprintf("outstanding:family:%d", familyID)
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
