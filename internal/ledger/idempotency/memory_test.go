package idempotency

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheSetThenGet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	payload := json.RawMessage(`{"position":1}`)

	require.NoError(t, c.Set(ctx, "ledger1", "key1", payload, time.Minute))

	got, found, err := c.Get(ctx, "ledger1", "key1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, string(payload), string(got))
}

func TestMemoryCacheMissReturnsNotFound(t *testing.T) {
	_, found, err := NewMemoryCache().Get(context.Background(), "ledger1", "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCacheScopedByLedger(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	require.NoError(t, c.Set(ctx, "ledgerA", "same-key", json.RawMessage(`1`), time.Minute))

	_, found, err := c.Get(ctx, "ledgerB", "same-key")
	require.NoError(t, err)
	assert.False(t, found, "idempotency keys must not leak across ledgers")
}

func TestMemoryCacheExpiresEntries(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	require.NoError(t, c.Set(ctx, "l1", "k1", json.RawMessage(`1`), -time.Second))

	_, found, err := c.Get(ctx, "l1", "k1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCacheDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	require.NoError(t, c.Set(ctx, "l1", "k1", json.RawMessage(`1`), time.Minute))
	require.NoError(t, c.Delete(ctx, "l1", "k1"))

	_, found, err := c.Get(ctx, "l1", "k1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCacheCleanupSweepsExpired(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	require.NoError(t, c.Set(ctx, "l1", "expired", json.RawMessage(`1`), -time.Second))
	require.NoError(t, c.Set(ctx, "l1", "live", json.RawMessage(`2`), time.Minute))

	require.NoError(t, c.Cleanup(ctx))

	assert.Len(t, c.records, 1)
	_, found, _ := c.Get(ctx, "l1", "live")
	assert.True(t, found)
}
