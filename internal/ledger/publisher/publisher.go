// Package publisher implements the root publisher of spec §4.8: decides
// when to snapshot a ledger's current root, signs it, writes it to a
// history store, and best-effort calls an external anchor hook.
//
// Grounded on internal/transparency/service.go's batchProcessor/
// processBatch background-goroutine pattern, generalized from a single
// fixed batch interval to the spec's three independent publish triggers
// (entry count, elapsed time, first-ever publish).
package publisher

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jasonsutter87/veilchain/internal/ledger/service"
	"github.com/jasonsutter87/veilchain/internal/ledger/signing"
	"github.com/jasonsutter87/veilchain/internal/ledger/store"
)

// PublishedRoot is one row of the publish history (spec §3 "Published
// root").
type PublishedRoot struct {
	ID             string
	LedgerID       string
	RootHash       string
	EntryCount     uint64
	PublishedAt    time.Time
	Signature      []byte
	SigningKeyFP   string
	ExternalAnchor string
}

// History is the durable publish-history store the publisher writes to.
type History interface {
	RecordPublishedRoot(ctx context.Context, root *PublishedRoot) error
	LastPublishedRoot(ctx context.Context, ledgerID string) (*PublishedRoot, error)
	ListPublishedRoots(ctx context.Context, ledgerID string, opts store.ListOptions) ([]*PublishedRoot, error)
}

// AnchorFunc is a best-effort external anchor hook (e.g. a blockchain or
// timestamping authority). Its failure MUST NOT prevent the database
// record (spec §4.8).
type AnchorFunc func(ctx context.Context, root PublishedRoot) error

// Thresholds controls when Publisher.MaybePublish decides to snapshot a
// ledger's root (spec §4.8).
type Thresholds struct {
	MinEntries   uint64
	MaxTimeSince time.Duration
}

// Publisher periodically snapshots ledger roots.
type Publisher struct {
	ledgers    *service.Service
	history    History
	signer     *signing.Signer
	anchor     AnchorFunc
	thresholds Thresholds

	idFactory func() string
}

// New returns a Publisher. signer may be nil, in which case published
// roots carry no signature. anchor may be nil to disable external
// anchoring.
func New(ledgers *service.Service, history History, signer *signing.Signer, anchor AnchorFunc, thresholds Thresholds, idFactory func() string) *Publisher {
	return &Publisher{ledgers: ledgers, history: history, signer: signer, anchor: anchor, thresholds: thresholds, idFactory: idFactory}
}

// ShouldPublish implements spec §4.8's three triggers: entries since last
// publish, elapsed time, or a first-ever publish of a non-empty ledger.
func ShouldPublish(last *PublishedRoot, entryCount uint64, now time.Time, t Thresholds) bool {
	if last == nil {
		return entryCount > 0
	}
	if entryCount-last.EntryCount >= t.MinEntries {
		return true
	}
	if now.Sub(last.PublishedAt) >= t.MaxTimeSince {
		return true
	}
	return false
}

// MaybePublish checks the publish triggers for ledgerID and, if met,
// signs and records a new PublishedRoot.
func (p *Publisher) MaybePublish(ctx context.Context, ledgerID string, meta *store.Ledger) (*PublishedRoot, error) {
	last, err := p.history.LastPublishedRoot(ctx, ledgerID)
	if err != nil {
		return nil, fmt.Errorf("publisher: last published root: %w", err)
	}
	now := time.Now()
	if !ShouldPublish(last, meta.EntryCount, now, p.thresholds) {
		return nil, nil
	}

	root := PublishedRoot{
		ID:          p.idFactory(),
		LedgerID:    ledgerID,
		RootHash:    meta.RootHash,
		EntryCount:  meta.EntryCount,
		PublishedAt: now,
	}
	if p.signer != nil {
		payload := []byte(fmt.Sprintf("%s:%d", meta.RootHash, meta.EntryCount))
		sig, err := p.signer.Sign(payload)
		if err != nil {
			return nil, fmt.Errorf("publisher: sign root: %w", err)
		}
		root.Signature = sig
		root.SigningKeyFP = p.signer.Fingerprint()
	}

	if err := p.history.RecordPublishedRoot(ctx, &root); err != nil {
		return nil, fmt.Errorf("publisher: record published root: %w", err)
	}

	if p.anchor != nil {
		if err := p.anchor(ctx, root); err != nil {
			log.Printf("[publisher] external anchor failed for ledger %s root %s: %v", ledgerID, root.RootHash, err)
		}
	}

	return &root, nil
}

// Run polls every interval, checking every ledger known to backend for a
// publish opportunity, until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context, backend store.Backend, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx, backend)
		}
	}
}

func (p *Publisher) pollOnce(ctx context.Context, backend store.Backend) {
	ledgers, err := backend.ListLedgers(ctx, store.ListLedgersOptions{Limit: 1000})
	if err != nil {
		log.Printf("[publisher] list ledgers failed: %v", err)
		return
	}
	for _, meta := range ledgers {
		if _, err := p.MaybePublish(ctx, meta.ID, meta); err != nil {
			log.Printf("[publisher] publish check failed for ledger %s: %v", meta.ID, err)
		}
	}
}
