package idempotency

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type record struct {
	payload   json.RawMessage
	expiresAt time.Time
}

// MemoryCache is a mutex-guarded in-process idempotency cache, used for
// tests and single-process deployments.
type MemoryCache struct {
	mu      sync.Mutex
	records map[string]record
}

// NewMemoryCache returns an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{records: make(map[string]record)}
}

func scopedKey(ledgerID, key string) string {
	return ledgerID + "\x00" + key
}

func (c *MemoryCache) Get(_ context.Context, ledgerID, key string) (json.RawMessage, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[scopedKey(ledgerID, key)]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(rec.expiresAt) {
		delete(c.records, scopedKey(ledgerID, key))
		return nil, false, nil
	}
	return rec.payload, true, nil
}

func (c *MemoryCache) Set(_ context.Context, ledgerID, key string, payload json.RawMessage, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[scopedKey(ledgerID, key)] = record{payload: payload, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, ledgerID, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, scopedKey(ledgerID, key))
	return nil
}

func (c *MemoryCache) Cleanup(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, rec := range c.records {
		if now.After(rec.expiresAt) {
			delete(c.records, k)
		}
	}
	return nil
}
