// Package idempotency implements the (ledger, key) -> cached append
// result cache of spec §4.6. Implementations store an opaque JSON payload
// (the caller's serialized AppendResult) rather than importing the ledger
// service's types directly, avoiding a dependency cycle.
package idempotency

import (
	"context"
	"encoding/json"
	"time"
)

// Cache is the idempotency-cache contract. Keys are scoped per ledger: the
// same key string in two different ledgers is two distinct records.
type Cache interface {
	Get(ctx context.Context, ledgerID, key string) (json.RawMessage, bool, error)
	Set(ctx context.Context, ledgerID, key string, payload json.RawMessage, ttl time.Duration) error
	Delete(ctx context.Context, ledgerID, key string) error
	// Cleanup purges expired records. A no-op for backends (like Redis)
	// that expire records natively.
	Cleanup(ctx context.Context) error
}

// DefaultTTL is the bounded default lifetime of an idempotency record
// (spec §4.6: "Default TTL is bounded, e.g. 24h").
const DefaultTTL = 24 * time.Hour
