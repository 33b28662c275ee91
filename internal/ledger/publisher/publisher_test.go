package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasonsutter87/veilchain/internal/ledger/idempotency"
	"github.com/jasonsutter87/veilchain/internal/ledger/service"
	"github.com/jasonsutter87/veilchain/internal/ledger/store"
	"github.com/jasonsutter87/veilchain/internal/ledger/store/memstore"
)

func TestShouldPublishFirstEverPublish(t *testing.T) {
	assert.True(t, ShouldPublish(nil, 1, time.Now(), Thresholds{MinEntries: 100, MaxTimeSince: time.Hour}))
	assert.False(t, ShouldPublish(nil, 0, time.Now(), Thresholds{MinEntries: 100, MaxTimeSince: time.Hour}))
}

func TestShouldPublishOnEntryThreshold(t *testing.T) {
	now := time.Now()
	last := &PublishedRoot{EntryCount: 10, PublishedAt: now}
	thresholds := Thresholds{MinEntries: 5, MaxTimeSince: time.Hour}

	assert.False(t, ShouldPublish(last, 14, now, thresholds))
	assert.True(t, ShouldPublish(last, 15, now, thresholds))
}

func TestShouldPublishOnElapsedTime(t *testing.T) {
	now := time.Now()
	last := &PublishedRoot{EntryCount: 10, PublishedAt: now.Add(-2 * time.Hour)}
	thresholds := Thresholds{MinEntries: 1000, MaxTimeSince: time.Hour}

	assert.True(t, ShouldPublish(last, 11, now, thresholds))
}

// fakeHistory is an in-memory History for testing MaybePublish without a
// database.
type fakeHistory struct {
	byLedger map[string][]*PublishedRoot
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{byLedger: make(map[string][]*PublishedRoot)}
}

func (f *fakeHistory) RecordPublishedRoot(ctx context.Context, root *PublishedRoot) error {
	f.byLedger[root.LedgerID] = append(f.byLedger[root.LedgerID], root)
	return nil
}

func (f *fakeHistory) LastPublishedRoot(ctx context.Context, ledgerID string) (*PublishedRoot, error) {
	roots := f.byLedger[ledgerID]
	if len(roots) == 0 {
		return nil, nil
	}
	return roots[len(roots)-1], nil
}

func (f *fakeHistory) ListPublishedRoots(ctx context.Context, ledgerID string, opts store.ListOptions) ([]*PublishedRoot, error) {
	return f.byLedger[ledgerID], nil
}

func TestMaybePublishRecordsFirstPublish(t *testing.T) {
	ctx := context.Background()
	backend := memstore.New()
	ledgers := service.New(backend, idempotency.NewMemoryCache(), 0)
	_, err := ledgers.CreateLedger(ctx, "l1", "Ledger One", "", "")
	require.NoError(t, err)
	_, err = ledgers.Append(ctx, "l1", map[string]any{"k": "v"}, "")
	require.NoError(t, err)

	history := newFakeHistory()
	idCounter := 0
	pub := New(ledgers, history, nil, nil, Thresholds{MinEntries: 1, MaxTimeSince: time.Hour}, func() string {
		idCounter++
		return "root-id"
	})

	meta, err := ledgers.GetLedgerMetadata(ctx, "l1")
	require.NoError(t, err)

	published, err := pub.MaybePublish(ctx, "l1", meta)
	require.NoError(t, err)
	require.NotNil(t, published)
	assert.Equal(t, meta.RootHash, published.RootHash)
	assert.Equal(t, uint64(1), published.EntryCount)
}

func TestMaybePublishSkipsWhenThresholdsNotMet(t *testing.T) {
	ctx := context.Background()
	backend := memstore.New()
	ledgers := service.New(backend, idempotency.NewMemoryCache(), 0)
	_, err := ledgers.CreateLedger(ctx, "l1", "Ledger One", "", "")
	require.NoError(t, err)
	_, err = ledgers.Append(ctx, "l1", map[string]any{"k": "v"}, "")
	require.NoError(t, err)

	history := newFakeHistory()
	require.NoError(t, history.RecordPublishedRoot(ctx, &PublishedRoot{
		LedgerID: "l1", RootHash: "prior", EntryCount: 1, PublishedAt: time.Now(),
	}))

	pub := New(ledgers, history, nil, nil, Thresholds{MinEntries: 100, MaxTimeSince: time.Hour}, func() string { return "id" })

	meta, err := ledgers.GetLedgerMetadata(ctx, "l1")
	require.NoError(t, err)

	published, err := pub.MaybePublish(ctx, "l1", meta)
	require.NoError(t, err)
	assert.Nil(t, published)
}

func TestMaybePublishAnchorFailureDoesNotBlockRecord(t *testing.T) {
	ctx := context.Background()
	backend := memstore.New()
	ledgers := service.New(backend, idempotency.NewMemoryCache(), 0)
	_, err := ledgers.CreateLedger(ctx, "l1", "Ledger One", "", "")
	require.NoError(t, err)
	_, err = ledgers.Append(ctx, "l1", map[string]any{"k": "v"}, "")
	require.NoError(t, err)

	history := newFakeHistory()
	anchorCalled := false
	failingAnchor := func(ctx context.Context, root PublishedRoot) error {
		anchorCalled = true
		return assertAnchorErr
	}
	pub := New(ledgers, history, nil, failingAnchor, Thresholds{MinEntries: 1, MaxTimeSince: time.Hour}, func() string { return "id" })

	meta, err := ledgers.GetLedgerMetadata(ctx, "l1")
	require.NoError(t, err)

	published, err := pub.MaybePublish(ctx, "l1", meta)
	require.NoError(t, err, "anchor failure must not fail the publish")
	require.NotNil(t, published)
	assert.True(t, anchorCalled)

	last, err := history.LastPublishedRoot(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, published.ID, last.ID)
}

var assertAnchorErr = &anchorError{}

type anchorError struct{}

func (*anchorError) Error() string { return "simulated anchor failure" }
