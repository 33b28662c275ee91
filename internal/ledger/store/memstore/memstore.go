// Package memstore is the in-memory reference implementation of the
// storage contract (spec §4.4), used for tests and single-process
// deployments. New code; no direct teacher precedent, but it mirrors the
// mutex-guarded-map shape used throughout the teacher for process-local
// caches (e.g. internal/ratelimit's visitor map).
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jasonsutter87/veilchain/internal/ledger/store"
	"github.com/jasonsutter87/veilchain/internal/verrors"
)

type ledgerEntries struct {
	meta   *store.Ledger
	byID   map[string]*store.Entry
	byPos  map[uint64]*store.Entry
	leaves []string // position-ordered leaf hashes
}

// Store is a mutex-guarded in-memory storage backend.
type Store struct {
	mu      sync.RWMutex
	ledgers map[string]*ledgerEntries
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{ledgers: make(map[string]*ledgerEntries)}
}

func (s *Store) CreateLedgerMetadata(_ context.Context, ledger *store.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ledgers[ledger.ID]; ok {
		return fmt.Errorf("memstore: %w: ledger %s already exists", verrors.ErrStorageConflict, ledger.ID)
	}
	cp := *ledger
	s.ledgers[ledger.ID] = &ledgerEntries{
		meta:  &cp,
		byID:  make(map[string]*store.Entry),
		byPos: make(map[uint64]*store.Entry),
	}
	return nil
}

func (s *Store) UpdateLedgerMetadata(_ context.Context, id string, patch store.LedgerPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	le, ok := s.ledgers[id]
	if !ok {
		return fmt.Errorf("memstore: %w: %s", verrors.ErrLedgerNotFound, id)
	}
	if patch.RootHash != nil {
		le.meta.RootHash = *patch.RootHash
	}
	if patch.EntryCount != nil {
		le.meta.EntryCount = *patch.EntryCount
	}
	if patch.LastEntryAt != nil {
		le.meta.LastEntryAt = *patch.LastEntryAt
	}
	return nil
}

func (s *Store) GetLedgerMetadata(_ context.Context, id string) (*store.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	le, ok := s.ledgers[id]
	if !ok {
		return nil, fmt.Errorf("memstore: %w: %s", verrors.ErrLedgerNotFound, id)
	}
	cp := *le.meta
	return &cp, nil
}

func (s *Store) ListLedgers(_ context.Context, opts store.ListLedgersOptions) ([]*store.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.ledgers))
	for id := range s.ledgers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*store.Ledger, 0, len(ids))
	for _, id := range ids {
		cp := *s.ledgers[id].meta
		out = append(out, &cp)
	}
	return paginateLedgers(out, opts), nil
}

func paginateLedgers(all []*store.Ledger, opts store.ListLedgersOptions) []*store.Ledger {
	if opts.Offset >= len(all) {
		return []*store.Ledger{}
	}
	end := len(all)
	if opts.Limit > 0 && opts.Offset+opts.Limit < end {
		end = opts.Offset + opts.Limit
	}
	return all[opts.Offset:end]
}

func (s *Store) Put(_ context.Context, ledgerID string, entry *store.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	le, ok := s.ledgers[ledgerID]
	if !ok {
		return fmt.Errorf("memstore: %w: %s", verrors.ErrLedgerNotFound, ledgerID)
	}
	if _, exists := le.byPos[entry.Position]; exists {
		return fmt.Errorf("memstore: %w: ledger %s position %d", verrors.ErrStorageConflict, ledgerID, entry.Position)
	}
	if int(entry.Position) != len(le.leaves) {
		return fmt.Errorf("memstore: %w: ledger %s position %d not contiguous (have %d leaves)",
			verrors.ErrStorageConflict, ledgerID, entry.Position, len(le.leaves))
	}
	cp := *entry
	le.byID[entry.ID] = &cp
	le.byPos[entry.Position] = &cp
	le.leaves = append(le.leaves, entry.LeafHash)
	return nil
}

func (s *Store) Get(_ context.Context, ledgerID, entryID string) (*store.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	le, ok := s.ledgers[ledgerID]
	if !ok {
		return nil, fmt.Errorf("memstore: %w: %s", verrors.ErrLedgerNotFound, ledgerID)
	}
	entry, ok := le.byID[entryID]
	if !ok {
		return nil, fmt.Errorf("memstore: %w: entry %s", verrors.ErrNotFound, entryID)
	}
	cp := *entry
	return &cp, nil
}

func (s *Store) GetByPosition(_ context.Context, ledgerID string, position uint64) (*store.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	le, ok := s.ledgers[ledgerID]
	if !ok {
		return nil, fmt.Errorf("memstore: %w: %s", verrors.ErrLedgerNotFound, ledgerID)
	}
	entry, ok := le.byPos[position]
	if !ok {
		return nil, fmt.Errorf("memstore: %w: position %d", verrors.ErrIndexOutOfRange, position)
	}
	cp := *entry
	return &cp, nil
}

func (s *Store) List(_ context.Context, ledgerID string, opts store.ListOptions) ([]*store.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	le, ok := s.ledgers[ledgerID]
	if !ok {
		return nil, fmt.Errorf("memstore: %w: %s", verrors.ErrLedgerNotFound, ledgerID)
	}
	all := make([]*store.Entry, len(le.leaves))
	for i := range le.leaves {
		cp := *le.byPos[uint64(i)]
		all[i] = &cp
	}
	if opts.Offset >= len(all) {
		return []*store.Entry{}, nil
	}
	end := len(all)
	if opts.Limit > 0 && opts.Offset+opts.Limit < end {
		end = opts.Offset + opts.Limit
	}
	return all[opts.Offset:end], nil
}

func (s *Store) GetAllLeafHashes(_ context.Context, ledgerID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	le, ok := s.ledgers[ledgerID]
	if !ok {
		return nil, fmt.Errorf("memstore: %w: %s", verrors.ErrLedgerNotFound, ledgerID)
	}
	out := make([]string, len(le.leaves))
	copy(out, le.leaves)
	return out, nil
}
