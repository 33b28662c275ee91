// Package tiered decorates a store.Backend with blob offload: entries
// whose canonical data is at or above a size threshold are written to an
// S3-compatible blob store instead of the primary backend, which instead
// receives a small blob-reference object (spec §4.5).
//
// Grounded on internal/storage/storage.go's minio wiring (client
// construction, bucket existence check/creation, PutObject/GetObject/
// StatObject), generalized into a decorator over the store.Backend
// contract instead of a standalone attachment service.
package tiered

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jasonsutter87/veilchain/internal/ledger/store"
	"github.com/jasonsutter87/veilchain/internal/verrors"
)

// BlobTypeMarker is the __type discriminator of a blob-reference object
// (spec §4.5).
const BlobTypeMarker = "__VEILCHAIN_BLOB__"

// BlobReference replaces an entry's data field in the primary store once
// its payload has been offloaded to blob storage.
type BlobReference struct {
	Type        string `json:"__type"`
	ContentHash string `json:"contentHash"`
	Size        int64  `json:"size"`
	LedgerID    string `json:"ledgerId"`
	EntryID     string `json:"entryId"`
}

// Config holds the MinIO connection and threshold parameters (spec §4.5
// and SPEC_FULL.md §4.5 — TieredStorageThresholdBytes and
// MultipartThresholdBytes are operator-tunable via internal/config).
type Config struct {
	Endpoint         string
	AccessKey        string
	SecretKey        string
	Bucket           string
	Region           string
	UseSSL           bool
	SizeThreshold    int64 // entries at or above this size are offloaded to blob storage
	MultipartAdvised int64 // advisory; minio-go manages its own multipart cutover internally
}

// blobBackend is the subset of *minio.Client's surface tiered.Store
// actually calls, narrowed to an interface so tests can substitute a fake
// in place of a live MinIO server (same seam style as store.Backend itself).
type blobBackend interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (io.ReadCloser, error)
}

// minioBackend adapts a real *minio.Client to blobBackend. *minio.Object
// already implements io.ReadCloser, so this is a pure type-narrowing shim.
type minioBackend struct{ client *minio.Client }

func (m *minioBackend) PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return m.client.PutObject(ctx, bucket, object, reader, size, opts)
}

func (m *minioBackend) GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	return m.client.GetObject(ctx, bucket, object, opts)
}

// Store wraps a primary store.Backend, offloading large entry payloads to
// an S3-compatible blob store.
type Store struct {
	primary       store.Backend
	blob          blobBackend
	bucket        string
	region        string
	sizeThreshold int64

	statsMu   sync.Mutex
	tierCount map[string]int64 // "primary" / "blob" -> entry count
	tierBytes map[string]int64
}

// New wraps primary with blob offload per cfg. Ensures the bucket exists,
// creating it if necessary, mirroring internal/storage.Service.ensureBucket.
func New(ctx context.Context, primary store.Backend, cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("tiered: create blob client: %w", err)
	}
	if err := ensureBucket(ctx, client, cfg.Bucket, cfg.Region); err != nil {
		return nil, fmt.Errorf("tiered: ensure bucket: %w", err)
	}

	return &Store{
		primary:       primary,
		blob:          &minioBackend{client: client},
		bucket:        cfg.Bucket,
		region:        cfg.Region,
		sizeThreshold: cfg.SizeThreshold,
		tierCount:     make(map[string]int64),
		tierBytes:     make(map[string]int64),
	}, nil
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if !exists {
		return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
	}
	return nil
}

func (s *Store) CreateLedgerMetadata(ctx context.Context, ledger *store.Ledger) error {
	return s.primary.CreateLedgerMetadata(ctx, ledger)
}

func (s *Store) UpdateLedgerMetadata(ctx context.Context, id string, patch store.LedgerPatch) error {
	return s.primary.UpdateLedgerMetadata(ctx, id, patch)
}

func (s *Store) GetLedgerMetadata(ctx context.Context, id string) (*store.Ledger, error) {
	return s.primary.GetLedgerMetadata(ctx, id)
}

func (s *Store) ListLedgers(ctx context.Context, opts store.ListLedgersOptions) ([]*store.Ledger, error) {
	return s.primary.ListLedgers(ctx, opts)
}

// Put serializes entry.Data, and if it is at or above the size threshold,
// writes the bytes to blob storage and replaces the primary-stored data
// with a BlobReference (spec §4.5 steps 1-3).
func (s *Store) Put(ctx context.Context, ledgerID string, entry *store.Entry) error {
	raw := []byte(entry.Data)
	if int64(len(raw)) < s.sizeThreshold {
		s.recordTier("primary", int64(len(raw)))
		return s.primary.Put(ctx, ledgerID, entry)
	}

	sum := sha256.Sum256(raw)
	contentHash := hex.EncodeToString(sum[:])
	objectKey := blobKey(ledgerID, entry.ID)

	opts := minio.PutObjectOptions{ContentType: "application/octet-stream"}
	if _, err := s.blob.PutObject(ctx, s.bucket, objectKey, bytes.NewReader(raw), int64(len(raw)), opts); err != nil {
		return fmt.Errorf("tiered: put blob: %w", err)
	}

	ref := BlobReference{
		Type:        BlobTypeMarker,
		ContentHash: contentHash,
		Size:        int64(len(raw)),
		LedgerID:    ledgerID,
		EntryID:     entry.ID,
	}
	refBytes, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("tiered: marshal blob reference: %w", err)
	}

	stored := *entry
	stored.Data = refBytes
	if err := s.primary.Put(ctx, ledgerID, &stored); err != nil {
		return err
	}
	s.recordTier("blob", int64(len(raw)))
	return nil
}

func blobKey(ledgerID, entryID string) string {
	return fmt.Sprintf("%s/%s", ledgerID, entryID)
}

func (s *Store) recordTier(tier string, size int64) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.tierCount[tier]++
	s.tierBytes[tier] += size
}

// TierStats reports the count and total bytes persisted per tier since
// process start (spec §4.5 "statistics").
type TierStats struct {
	Count int64
	Bytes int64
}

// Stats returns per-tier statistics, keyed "primary" and "blob".
func (s *Store) Stats() map[string]TierStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	out := make(map[string]TierStats, len(s.tierCount))
	for tier, count := range s.tierCount {
		out[tier] = TierStats{Count: count, Bytes: s.tierBytes[tier]}
	}
	return out
}

func (s *Store) Get(ctx context.Context, ledgerID, entryID string) (*store.Entry, error) {
	entry, err := s.primary.Get(ctx, ledgerID, entryID)
	if err != nil {
		return nil, err
	}
	return s.resolveBlob(ctx, entry)
}

func (s *Store) GetByPosition(ctx context.Context, ledgerID string, position uint64) (*store.Entry, error) {
	entry, err := s.primary.GetByPosition(ctx, ledgerID, position)
	if err != nil {
		return nil, err
	}
	return s.resolveBlob(ctx, entry)
}

func (s *Store) List(ctx context.Context, ledgerID string, opts store.ListOptions) ([]*store.Entry, error) {
	entries, err := s.primary.List(ctx, ledgerID, opts)
	if err != nil {
		return nil, err
	}
	out := make([]*store.Entry, len(entries))
	for i, e := range entries {
		resolved, err := s.resolveBlob(ctx, e)
		if err != nil {
			return nil, err
		}
		out[i] = resolved
	}
	return out, nil
}

func (s *Store) GetAllLeafHashes(ctx context.Context, ledgerID string) ([]string, error) {
	return s.primary.GetAllLeafHashes(ctx, ledgerID)
}

// resolveBlob replaces a blob-reference data field with the original
// bytes, verifying the content hash (spec §4.5's read-path integrity
// check, which must never be swallowed per spec §7).
func (s *Store) resolveBlob(ctx context.Context, entry *store.Entry) (*store.Entry, error) {
	var ref BlobReference
	if err := json.Unmarshal(entry.Data, &ref); err != nil || ref.Type != BlobTypeMarker {
		return entry, nil
	}

	obj, err := s.blob.GetObject(ctx, s.bucket, blobKey(ref.LedgerID, ref.EntryID), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("tiered: get blob: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("tiered: read blob: %w", err)
	}

	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != ref.ContentHash {
		return nil, fmt.Errorf("tiered: %w: blob %s content hash mismatch", verrors.ErrIntegrity, blobKey(ref.LedgerID, ref.EntryID))
	}

	resolved := *entry
	resolved.Data = data
	return &resolved, nil
}
