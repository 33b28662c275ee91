package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jasonsutter87/veilchain/internal/ledger/publisher"
	"github.com/jasonsutter87/veilchain/internal/ledger/store"
)

// History implements publisher.History on the same Postgres connection as
// the entry/ledger tables, grounded on internal/transparency/service.go's
// transparency_epochs "insert, then query-latest-by-epoch-number" pattern.
type History struct {
	db *sql.DB
}

// NewHistory wraps an already-open *sql.DB.
func NewHistory(db *sql.DB) *History {
	return &History{db: db}
}

func (h *History) RecordPublishedRoot(ctx context.Context, root *publisher.PublishedRoot) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO veilchain_published_roots
			(id, ledger_id, root_hash, entry_count, published_at, signature, signing_key_fingerprint, external_anchor)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, root.ID, root.LedgerID, root.RootHash, root.EntryCount, root.PublishedAt, root.Signature, root.SigningKeyFP, root.ExternalAnchor)
	if err != nil {
		return fmt.Errorf("sqlstore: record published root: %w", err)
	}
	return nil
}

func (h *History) LastPublishedRoot(ctx context.Context, ledgerID string) (*publisher.PublishedRoot, error) {
	r := &publisher.PublishedRoot{}
	var signature []byte
	var signingKeyFP, externalAnchor sql.NullString
	err := h.db.QueryRowContext(ctx, `
		SELECT id, ledger_id, root_hash, entry_count, published_at, signature, signing_key_fingerprint, external_anchor
		FROM veilchain_published_roots
		WHERE ledger_id = $1
		ORDER BY published_at DESC
		LIMIT 1
	`, ledgerID).Scan(&r.ID, &r.LedgerID, &r.RootHash, &r.EntryCount, &r.PublishedAt, &signature, &signingKeyFP, &externalAnchor)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: last published root: %w", err)
	}
	r.Signature = signature
	r.SigningKeyFP = signingKeyFP.String
	r.ExternalAnchor = externalAnchor.String
	return r, nil
}

func (h *History) ListPublishedRoots(ctx context.Context, ledgerID string, opts store.ListOptions) ([]*publisher.PublishedRoot, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, ledger_id, root_hash, entry_count, published_at, signature, signing_key_fingerprint, external_anchor
		FROM veilchain_published_roots
		WHERE ledger_id = $1
		ORDER BY published_at ASC
		OFFSET $2 LIMIT $3
	`, ledgerID, opts.Offset, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list published roots: %w", err)
	}
	defer rows.Close()

	var out []*publisher.PublishedRoot
	for rows.Next() {
		r := &publisher.PublishedRoot{}
		var signature []byte
		var signingKeyFP, externalAnchor sql.NullString
		if err := rows.Scan(&r.ID, &r.LedgerID, &r.RootHash, &r.EntryCount, &r.PublishedAt, &signature, &signingKeyFP, &externalAnchor); err != nil {
			return nil, fmt.Errorf("sqlstore: scan published root: %w", err)
		}
		r.Signature = signature
		r.SigningKeyFP = signingKeyFP.String
		r.ExternalAnchor = externalAnchor.String
		out = append(out, r)
	}
	return out, rows.Err()
}
