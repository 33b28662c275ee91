package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is the durable idempotency cache backend, grounded on
// internal/ratelimit.go's Redis INCR/EXPIRE usage and key-namespacing
// style (there "ratelimit:...:%s", here "veilchain:idem:%s:%s"), adapted
// from a counter to a SETNX-style insert-once record store.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an already-connected client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func redisKey(ledgerID, key string) string {
	return fmt.Sprintf("veilchain:idem:%s:%s", ledgerID, key)
}

func (c *RedisCache) Get(ctx context.Context, ledgerID, key string) (json.RawMessage, bool, error) {
	val, err := c.client.Get(ctx, redisKey(ledgerID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency: redis get: %w", err)
	}
	return json.RawMessage(val), true, nil
}

// Set stores payload under (ledgerID, key) with SetNX so two concurrent
// appends sharing an idempotency key converge on whichever record wins the
// race, matching spec §5's "idempotency store's (ledger, key) uniqueness
// constraint is the backstop" guarantee in the absence of a held lock.
func (c *RedisCache) Set(ctx context.Context, ledgerID, key string, payload json.RawMessage, ttl time.Duration) error {
	ok, err := c.client.SetNX(ctx, redisKey(ledgerID, key), []byte(payload), ttl).Result()
	if err != nil {
		return fmt.Errorf("idempotency: redis setnx: %w", err)
	}
	if !ok {
		// A record already exists for this key; that's the desired
		// outcome of the race, not a failure.
		return nil
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, ledgerID, key string) error {
	if err := c.client.Del(ctx, redisKey(ledgerID, key)).Err(); err != nil {
		return fmt.Errorf("idempotency: redis del: %w", err)
	}
	return nil
}

// Cleanup is a no-op: Redis expires keys natively via the TTL passed to Set.
func (c *RedisCache) Cleanup(_ context.Context) error {
	return nil
}
