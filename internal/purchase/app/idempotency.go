package app

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyCache is a fast-path lookup from idempotency key to the number
// already created for it. It is an optimization only: the durable guard is
// the unique index on numbers.idempotency_key.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) (numberID string, ok bool)
	Set(ctx context.Context, key, numberID string, ttl time.Duration)
}

type RedisIdempotencyCache struct {
	client *redis.Client
}

func NewRedisIdempotencyCache(client *redis.Client) *RedisIdempotencyCache {
	return &RedisIdempotencyCache{client: client}
}

func (c *RedisIdempotencyCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, "purchase:idem:"+key).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

func (c *RedisIdempotencyCache) Set(ctx context.Context, key, numberID string, ttl time.Duration) {
	// Best effort: a miss only costs one extra database lookup.
	c.client.Set(ctx, "purchase:idem:"+key, numberID, ttl)
}
