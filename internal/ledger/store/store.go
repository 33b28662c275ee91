// Package store defines the storage backend contract of spec §4.4: ledger
// metadata CRUD plus append-only entry persistence, with backends
// (in-memory, SQL, tiered) interchangeable behind this interface. The
// ledger service depends on nothing else for persistence.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Ledger is the persisted metadata row for one ledger (spec §3). It is
// mutated only by the ledger service, on append.
type Ledger struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	HashAlgorithm string    `json:"hash_algorithm"`
	RootHash      string    `json:"root_hash"`
	EntryCount    uint64    `json:"entry_count,string"`
	CreatedAt     time.Time `json:"created_at"`
	LastEntryAt   time.Time `json:"last_entry_at,omitempty"`
}

// LedgerPatch carries the fields an UpdateLedgerMetadata call wants to
// change; nil fields are left untouched.
type LedgerPatch struct {
	RootHash    *string
	EntryCount  *uint64
	LastEntryAt *time.Time
}

// Entry is one persisted append-only record (spec §3). Immutable once
// persisted; it carries no proof: the append-time inclusion proof travels
// beside it in the ledger service's AppendResult and is never part of the
// stored row (spec §9.3 — see DESIGN.md).
type Entry struct {
	ID         string          `json:"id"`
	Position   uint64          `json:"position,string"`
	Data       json.RawMessage `json:"data"`
	LeafHash   string          `json:"leaf_hash"`
	ParentHash string          `json:"parent_hash"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ListOptions paginates an ordered-by-position listing.
type ListOptions struct {
	Offset int
	Limit  int
}

// ListLedgersOptions paginates a ledger listing.
type ListLedgersOptions struct {
	Offset int
	Limit  int
}

// Backend is the storage contract of spec §4.4. Implementations
// (memstore, sqlstore, and the tiered decorator wrapping either) must be
// freely substitutable: the ledger service never type-asserts down to a
// concrete backend.
type Backend interface {
	CreateLedgerMetadata(ctx context.Context, ledger *Ledger) error
	UpdateLedgerMetadata(ctx context.Context, id string, patch LedgerPatch) error
	GetLedgerMetadata(ctx context.Context, id string) (*Ledger, error)
	ListLedgers(ctx context.Context, opts ListLedgersOptions) ([]*Ledger, error)

	// Put persists an entry. Implementations MUST reject with
	// verrors.ErrStorageConflict if an entry already exists at
	// (ledgerID, entry.Position) — the concurrency backstop of spec §5.
	Put(ctx context.Context, ledgerID string, entry *Entry) error
	Get(ctx context.Context, ledgerID, entryID string) (*Entry, error)
	GetByPosition(ctx context.Context, ledgerID string, position uint64) (*Entry, error)
	List(ctx context.Context, ledgerID string, opts ListOptions) ([]*Entry, error)

	// GetAllLeafHashes returns the ordered leaf-hash sequence used to
	// materialize or reconstruct the in-memory Merkle tree.
	GetAllLeafHashes(ctx context.Context, ledgerID string) ([]string, error)
}
