// Package service implements the central ledger append protocol of spec
// §4.7: per-ledger-locked, idempotent, rollback-on-failure appends over a
// pluggable store.Backend, with an in-memory Merkle tree cache per active
// ledger.
//
// Grounded on internal/transparency/service.go's Service struct shape:
// there a single RWMutex guards currentEpoch/currentRoot and a background
// batchProcessor goroutine periodically commits pending state; here a
// sync.Map of per-ledger mutexes guards each ledger's in-memory tree (spec
// §5's per-ledger mutex requirement), and the background role is filled by
// the root publisher's threshold-polling goroutine (internal/ledger/publisher).
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jasonsutter87/veilchain/internal/ledger/canon"
	"github.com/jasonsutter87/veilchain/internal/ledger/hashing"
	"github.com/jasonsutter87/veilchain/internal/ledger/idempotency"
	"github.com/jasonsutter87/veilchain/internal/ledger/merkletree"
	"github.com/jasonsutter87/veilchain/internal/ledger/store"
	"github.com/jasonsutter87/veilchain/internal/verrors"
)

// AppendResult is the full outcome of an append, including the entry,
// the proof computed at append time, and the root transition (spec §3's
// "Idempotency record" stores exactly this so a replay can return it
// unchanged).
type AppendResult struct {
	Entry        *store.Entry     `json:"entry"`
	Proof        *merkletree.Proof `json:"proof"`
	PreviousRoot string           `json:"previous_root"`
	NewRoot      string           `json:"new_root"`
	Replayed     bool             `json:"replayed"`
}

// Event is emitted on the service's listener channel for each append-path
// state transition (spec §4.7 step 10, §6.2).
type Event struct {
	Type         string    `json:"type"` // "entry_append" | "root_change" | "error"
	LedgerID     string    `json:"ledger_id"`
	Position     uint64    `json:"position,omitempty"`
	Hash         string    `json:"hash,omitempty"`
	PreviousRoot string    `json:"previous_root,omitempty"`
	NewRoot      string    `json:"new_root,omitempty"`
	EntryCount   uint64    `json:"entry_count,omitempty"`
	Err          string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"ts"`
}

// Listener receives events best-effort; a panic or long block inside a
// listener must never affect append correctness (spec §4.7 step 10).
type Listener func(Event)

// Service is the ledger append/read API.
type Service struct {
	backend  store.Backend
	idemCache idempotency.Cache
	idemTTL  time.Duration

	locks sync.Map // ledgerID -> *sync.Mutex
	trees sync.Map // ledgerID -> *merkletree.Tree

	listenersMu sync.RWMutex
	listeners   []Listener
}

// New returns a ledger service over backend, caching idempotent append
// results in idemCache with the given TTL (idempotency.DefaultTTL if
// ttl <= 0).
func New(backend store.Backend, idemCache idempotency.Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	return &Service{backend: backend, idemCache: idemCache, idemTTL: ttl}
}

// Subscribe registers a listener for append-path events.
func (s *Service) Subscribe(l Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Service) emit(ev Event) {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	for _, l := range s.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[ledger] listener panic on %s event for ledger %s: %v", ev.Type, ev.LedgerID, r)
				}
			}()
			l(ev)
		}()
	}
}

func (s *Service) lockFor(ledgerID string) *sync.Mutex {
	actual, _ := s.locks.LoadOrStore(ledgerID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// CreateLedger registers new ledger metadata with an empty tree.
func (s *Service) CreateLedger(ctx context.Context, id, name, description, hashAlgorithm string) (*store.Ledger, error) {
	if hashAlgorithm == "" {
		hashAlgorithm = "sha256"
	}
	ledger := &store.Ledger{
		ID:            id,
		Name:          name,
		Description:   description,
		HashAlgorithm: hashAlgorithm,
		RootHash:      hashing.GenesisHash,
		EntryCount:    0,
		CreatedAt:     time.Now(),
	}
	if err := s.backend.CreateLedgerMetadata(ctx, ledger); err != nil {
		return nil, err
	}
	s.trees.Store(id, merkletree.New(hashing.ByName(hashAlgorithm)))
	return ledger, nil
}

// reconstructTreeLocked rebuilds the in-memory tree for ledgerID from
// storage and asserts it matches metadata.RootHash (spec §4.7 step 2,
// "reconstructTree"). Caller must hold the ledger's lock.
func (s *Service) reconstructTreeLocked(ctx context.Context, ledgerID string, meta *store.Ledger) (*merkletree.Tree, error) {
	leaves, err := s.backend.GetAllLeafHashes(ctx, ledgerID)
	if err != nil {
		return nil, fmt.Errorf("ledger: reconstruct tree: %w", err)
	}
	algo := hashing.ByName(meta.HashAlgorithm)
	tree := merkletree.Import(algo, leaves)
	if tree.Root() != meta.RootHash {
		return nil, fmt.Errorf("ledger: %w: ledger %s reconstructed root %s != metadata root %s",
			verrors.ErrChainIntegrity, ledgerID, tree.Root(), meta.RootHash)
	}
	s.trees.Store(ledgerID, tree)
	return tree, nil
}

// getOrLoadTreeLocked returns the cached tree for ledgerID, reconstructing
// it from storage if this is the first touch. Caller must hold the
// ledger's lock.
func (s *Service) getOrLoadTreeLocked(ctx context.Context, ledgerID string, meta *store.Ledger) (*merkletree.Tree, error) {
	if v, ok := s.trees.Load(ledgerID); ok {
		return v.(*merkletree.Tree), nil
	}
	return s.reconstructTreeLocked(ctx, ledgerID, meta)
}

// ReconstructTree forces a reload of ledgerID's tree from storage, used on
// cold start or cache eviction (spec §4.7).
func (s *Service) ReconstructTree(ctx context.Context, ledgerID string) (*merkletree.Tree, error) {
	mu := s.lockFor(ledgerID)
	mu.Lock()
	defer mu.Unlock()
	meta, err := s.backend.GetLedgerMetadata(ctx, ledgerID)
	if err != nil {
		return nil, err
	}
	return s.reconstructTreeLocked(ctx, ledgerID, meta)
}

// Append executes the ten-step append protocol of spec §4.7, holding the
// ledger's lock across idempotency lookup through event emission (spec §5).
func (s *Service) Append(ctx context.Context, ledgerID string, data any, idempotencyKey string) (result *AppendResult, err error) {
	mu := s.lockFor(ledgerID)
	mu.Lock()
	defer mu.Unlock()
	defer func() {
		if err != nil {
			s.emit(Event{Type: "error", LedgerID: ledgerID, Err: err.Error(), Timestamp: time.Now()})
		}
	}()

	// Step 1: idempotency lookup.
	if idempotencyKey != "" && s.idemCache != nil {
		cached, hit, err := s.idemCache.Get(ctx, ledgerID, idempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("ledger: idempotency lookup: %w", err)
		}
		if hit {
			var result AppendResult
			if err := json.Unmarshal(cached, &result); err != nil {
				return nil, fmt.Errorf("ledger: decode cached append result: %w", err)
			}
			result.Replayed = true
			return &result, nil
		}
	}

	// Step 3: metadata fetch (also needed to materialize the tree in step 2).
	meta, err := s.backend.GetLedgerMetadata(ctx, ledgerID)
	if err != nil {
		return nil, err
	}

	// Step 2: tree materialization.
	tree, err := s.getOrLoadTreeLocked(ctx, ledgerID, meta)
	if err != nil {
		return nil, err
	}

	position := meta.EntryCount
	previousRoot := tree.Root()

	// Step 4: parent hash.
	var parentHash string
	if position == 0 {
		parentHash = hashing.GenesisHash
	} else {
		prevEntry, err := s.backend.GetByPosition(ctx, ledgerID, position-1)
		if err != nil {
			return nil, fmt.Errorf("ledger: %w: missing entry at position %d for ledger %s: %v",
				verrors.ErrChainIntegrity, position-1, ledgerID, err)
		}
		parentHash = prevEntry.LeafHash
	}

	// Step 5: leaf hash.
	algo := hashing.ByName(meta.HashAlgorithm)
	canonicalData, err := canon.MarshalJSON(data)
	if err != nil {
		return nil, fmt.Errorf("ledger: canonicalize entry data: %w", err)
	}
	leafHash := hashing.HashEntry(algo, canonicalData, position)
	entryID := hashing.EntryID(leafHash)

	// Step 6: tree append.
	index := tree.Append(leafHash)
	newRoot := tree.Root()
	proof, err := tree.Proof(index)
	if err != nil {
		s.rollbackTree(ledgerID, algo, tree)
		return nil, fmt.Errorf("ledger: compute append-time proof: %w", err)
	}

	entry := &store.Entry{
		ID:         entryID,
		Position:   position,
		Data:       canonicalData,
		LeafHash:   leafHash,
		ParentHash: parentHash,
		CreatedAt:  time.Now(),
	}

	// Step 7: persist.
	if err := s.backend.Put(ctx, ledgerID, entry); err != nil {
		s.rollbackTree(ledgerID, algo, tree)
		return nil, err
	}

	// Step 8: metadata update.
	now := time.Now()
	patch := store.LedgerPatch{RootHash: &newRoot, EntryCount: ptrUint64(position + 1), LastEntryAt: &now}
	if err := s.backend.UpdateLedgerMetadata(ctx, ledgerID, patch); err != nil {
		s.rollbackTree(ledgerID, algo, tree)
		return nil, err
	}

	result = &AppendResult{
		Entry:        entry,
		Proof:        proof,
		PreviousRoot: previousRoot,
		NewRoot:      newRoot,
	}

	// Step 9: cache.
	if idempotencyKey != "" && s.idemCache != nil {
		payload, err := json.Marshal(result)
		if err != nil {
			log.Printf("[ledger] failed to marshal append result for idempotency cache, ledger %s: %v", ledgerID, err)
		} else if err := s.idemCache.Set(ctx, ledgerID, idempotencyKey, payload, s.idemTTL); err != nil {
			log.Printf("[ledger] failed to cache append result, ledger %s: %v", ledgerID, err)
		}
	}

	// Step 10: emit events.
	s.emit(Event{Type: "entry_append", LedgerID: ledgerID, Position: position, Hash: leafHash, NewRoot: newRoot, Timestamp: now})
	s.emit(Event{Type: "root_change", LedgerID: ledgerID, PreviousRoot: previousRoot, NewRoot: newRoot, EntryCount: position + 1, Timestamp: now})

	return result, nil
}

// rollbackTree restores the in-memory tree to exclude its most recent
// append, per spec §4.7's failure-handling rule: "replace the tree with
// Tree.import(currentLeaves[..-1])". Caller must hold the ledger's lock.
func (s *Service) rollbackTree(ledgerID string, algo hashing.Algorithm, tree *merkletree.Tree) {
	leaves := tree.Leaves()
	if len(leaves) == 0 {
		return
	}
	restored := merkletree.Import(algo, leaves[:len(leaves)-1])
	s.trees.Store(ledgerID, restored)
}

func ptrUint64(v uint64) *uint64 { return &v }

// GetLedgerMetadata returns a ledger's current metadata row.
func (s *Service) GetLedgerMetadata(ctx context.Context, ledgerID string) (*store.Ledger, error) {
	return s.backend.GetLedgerMetadata(ctx, ledgerID)
}

// ListLedgers lists known ledgers' metadata.
func (s *Service) ListLedgers(ctx context.Context, opts store.ListLedgersOptions) ([]*store.Ledger, error) {
	return s.backend.ListLedgers(ctx, opts)
}

func (s *Service) GetEntry(ctx context.Context, ledgerID, entryID string) (*store.Entry, error) {
	return s.backend.Get(ctx, ledgerID, entryID)
}

func (s *Service) GetEntryByPosition(ctx context.Context, ledgerID string, position uint64) (*store.Entry, error) {
	return s.backend.GetByPosition(ctx, ledgerID, position)
}

func (s *Service) ListEntries(ctx context.Context, ledgerID string, opts store.ListOptions) ([]*store.Entry, error) {
	return s.backend.List(ctx, ledgerID, opts)
}

// GetProof materializes the tree if needed and returns the inclusion
// proof for position, or verrors.ErrIndexOutOfRange if out of range.
func (s *Service) GetProof(ctx context.Context, ledgerID string, position uint64) (*merkletree.Proof, error) {
	mu := s.lockFor(ledgerID)
	mu.Lock()
	defer mu.Unlock()

	meta, err := s.backend.GetLedgerMetadata(ctx, ledgerID)
	if err != nil {
		return nil, err
	}
	tree, err := s.getOrLoadTreeLocked(ctx, ledgerID, meta)
	if err != nil {
		return nil, err
	}
	return tree.Proof(int(position))
}

// VerifyProof checks proof.Root against the ledger's current live root,
// then recomputes the fold (spec §4.7).
func (s *Service) VerifyProof(ctx context.Context, ledgerID string, proof *merkletree.Proof) (bool, error) {
	meta, err := s.backend.GetLedgerMetadata(ctx, ledgerID)
	if err != nil {
		return false, err
	}
	if proof == nil || proof.Root != meta.RootHash {
		return false, nil
	}
	algo := hashing.ByName(meta.HashAlgorithm)
	return merkletree.Verify(algo, proof), nil
}
