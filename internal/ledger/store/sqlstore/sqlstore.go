// Package sqlstore is the Postgres-backed storage backend (spec §4.4),
// grounded on internal/db/db.go's database/sql + lib/pq connection setup
// and internal/transparency/service.go's transactional upsert style.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/jasonsutter87/veilchain/internal/ledger/store"
	"github.com/jasonsutter87/veilchain/internal/verrors"
)

// Store is a Postgres-backed store.Backend.
type Store struct {
	db *sql.DB
}

// Open connects to postgresURL and returns a ready Store. The schema
// (veilchain_ledgers, veilchain_entries) is expected to already exist;
// this module ships no migrations and does not create it.
func Open(postgresURL string) (*Store, error) {
	if postgresURL == "" {
		return nil, fmt.Errorf("sqlstore: DATABASE_URL is required")
	}
	pg, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: connect: %w", err)
	}
	pg.SetMaxOpenConns(25)
	pg.SetMaxIdleConns(5)
	pg.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pg.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}
	return &Store{db: pg}, nil
}

// New wraps an already-open *sql.DB.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying connection, for wiring a sibling History store
// onto the same pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateLedgerMetadata(ctx context.Context, ledger *store.Ledger) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO veilchain_ledgers (id, name, description, hash_algorithm, root_hash, entry_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ledger.ID, ledger.Name, ledger.Description, ledger.HashAlgorithm, ledger.RootHash, ledger.EntryCount, ledger.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("sqlstore: %w: ledger %s already exists", verrors.ErrStorageConflict, ledger.ID)
	}
	if err != nil {
		return fmt.Errorf("sqlstore: create ledger metadata: %w", err)
	}
	return nil
}

func (s *Store) UpdateLedgerMetadata(ctx context.Context, id string, patch store.LedgerPatch) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE veilchain_ledgers SET
			root_hash    = COALESCE($2, root_hash),
			entry_count  = COALESCE($3, entry_count),
			last_entry_at = COALESCE($4, last_entry_at)
		WHERE id = $1
	`, id, patch.RootHash, patch.EntryCount, patch.LastEntryAt)
	if err != nil {
		return fmt.Errorf("sqlstore: update ledger metadata: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: update ledger metadata: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sqlstore: %w: %s", verrors.ErrLedgerNotFound, id)
	}
	return nil
}

func (s *Store) GetLedgerMetadata(ctx context.Context, id string) (*store.Ledger, error) {
	l := &store.Ledger{}
	var lastEntryAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, hash_algorithm, root_hash, entry_count, created_at, last_entry_at
		FROM veilchain_ledgers WHERE id = $1
	`, id).Scan(&l.ID, &l.Name, &l.Description, &l.HashAlgorithm, &l.RootHash, &l.EntryCount, &l.CreatedAt, &lastEntryAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlstore: %w: %s", verrors.ErrLedgerNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get ledger metadata: %w", err)
	}
	if lastEntryAt.Valid {
		l.LastEntryAt = lastEntryAt.Time
	}
	return l, nil
}

func (s *Store) ListLedgers(ctx context.Context, opts store.ListLedgersOptions) ([]*store.Ledger, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, hash_algorithm, root_hash, entry_count, created_at, last_entry_at
		FROM veilchain_ledgers ORDER BY created_at ASC OFFSET $1 LIMIT $2
	`, opts.Offset, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list ledgers: %w", err)
	}
	defer rows.Close()

	var out []*store.Ledger
	for rows.Next() {
		l := &store.Ledger{}
		var lastEntryAt sql.NullTime
		if err := rows.Scan(&l.ID, &l.Name, &l.Description, &l.HashAlgorithm, &l.RootHash, &l.EntryCount, &l.CreatedAt, &lastEntryAt); err != nil {
			return nil, fmt.Errorf("sqlstore: scan ledger: %w", err)
		}
		if lastEntryAt.Valid {
			l.LastEntryAt = lastEntryAt.Time
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Put persists an entry, relying on the (ledger_id, position) UNIQUE
// constraint to surface concurrent double-writes as StorageConflict (spec
// §4.4, §5) — the same backstop role internal/db.go's migrations give
// other unique keys in the teacher's schema.
func (s *Store) Put(ctx context.Context, ledgerID string, entry *store.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO veilchain_entries (id, ledger_id, position, data, leaf_hash, parent_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, ledgerID, entry.Position, []byte(entry.Data), entry.LeafHash, entry.ParentHash, entry.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("sqlstore: %w: ledger %s position %d", verrors.ErrStorageConflict, ledgerID, entry.Position)
	}
	if err != nil {
		return fmt.Errorf("sqlstore: put entry: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, ledgerID, entryID string) (*store.Entry, error) {
	return s.scanOne(ctx, `
		SELECT id, position, data, leaf_hash, parent_hash, created_at
		FROM veilchain_entries WHERE ledger_id = $1 AND id = $2
	`, ledgerID, entryID)
}

func (s *Store) GetByPosition(ctx context.Context, ledgerID string, position uint64) (*store.Entry, error) {
	return s.scanOne(ctx, `
		SELECT id, position, data, leaf_hash, parent_hash, created_at
		FROM veilchain_entries WHERE ledger_id = $1 AND position = $2
	`, ledgerID, position)
}

func (s *Store) scanOne(ctx context.Context, query string, args ...any) (*store.Entry, error) {
	e := &store.Entry{}
	var data []byte
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&e.ID, &e.Position, &data, &e.LeafHash, &e.ParentHash, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlstore: %w", verrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get entry: %w", err)
	}
	e.Data = data
	return e, nil
}

func (s *Store) List(ctx context.Context, ledgerID string, opts store.ListOptions) ([]*store.Entry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, position, data, leaf_hash, parent_hash, created_at
		FROM veilchain_entries WHERE ledger_id = $1 ORDER BY position ASC OFFSET $2 LIMIT $3
	`, ledgerID, opts.Offset, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list entries: %w", err)
	}
	defer rows.Close()

	var out []*store.Entry
	for rows.Next() {
		e := &store.Entry{}
		var data []byte
		if err := rows.Scan(&e.ID, &e.Position, &data, &e.LeafHash, &e.ParentHash, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlstore: scan entry: %w", err)
		}
		e.Data = data
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) GetAllLeafHashes(ctx context.Context, ledgerID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT leaf_hash FROM veilchain_entries WHERE ledger_id = $1 ORDER BY position ASC
	`, ledgerID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get leaf hashes: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("sqlstore: scan leaf hash: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// lib/pq reports unique-violation as SQLSTATE 23505; avoid importing
	// pq's error type directly so this also degrades gracefully against
	// sqlmock-driven tests that return a plain error.
	var pqLike interface{ Error() string }
	if errors.As(err, &pqLike) {
		return containsCode23505(pqLike.Error())
	}
	return false
}

func containsCode23505(msg string) bool {
	return strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate key")
}
