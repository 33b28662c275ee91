package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasonsutter87/veilchain/internal/events"
	"github.com/jasonsutter87/veilchain/internal/ledger/idempotency"
	"github.com/jasonsutter87/veilchain/internal/ledger/service"
	"github.com/jasonsutter87/veilchain/internal/ledger/store/memstore"
)

func newTestHandler() *Handler {
	svc := service.New(memstore.New(), idempotency.NewMemoryCache(), 0)
	return New(svc, events.NewBroadcaster(), "sha256")
}

func doRequest(h *Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthCheckReturnsOK(t *testing.T) {
	h := newTestHandler()
	rec := doRequest(h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestCreateLedgerReturns201AndDefaultsAlgorithm(t *testing.T) {
	h := newTestHandler()
	rec := doRequest(h, http.MethodPost, "/ledgers", createLedgerRequest{ID: "l1", Name: "Ledger One"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "sha256", got["hash_algorithm"])
}

func TestCreateLedgerRejectsMissingFields(t *testing.T) {
	h := newTestHandler()
	rec := doRequest(h, http.MethodPost, "/ledgers", createLedgerRequest{Name: "no id"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateLedgerDuplicateIDReturns409(t *testing.T) {
	h := newTestHandler()
	doRequest(h, http.MethodPost, "/ledgers", createLedgerRequest{ID: "l1", Name: "n"})
	rec := doRequest(h, http.MethodPost, "/ledgers", createLedgerRequest{ID: "l1", Name: "n"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetLedgerUnknownReturns404(t *testing.T) {
	h := newTestHandler()
	rec := doRequest(h, http.MethodGet, "/ledgers/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAppendEntryReturns201OnFirstAppend(t *testing.T) {
	h := newTestHandler()
	doRequest(h, http.MethodPost, "/ledgers", createLedgerRequest{ID: "l1", Name: "n"})

	rec := doRequest(h, http.MethodPost, "/ledgers/l1/entries", appendEntryRequest{
		Data: json.RawMessage(`{"k":"v"}`), IdempotencyKey: "k1",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestAppendEntryReplayReturns200(t *testing.T) {
	h := newTestHandler()
	doRequest(h, http.MethodPost, "/ledgers", createLedgerRequest{ID: "l1", Name: "n"})

	req := appendEntryRequest{Data: json.RawMessage(`{"k":"v"}`), IdempotencyKey: "k1"}
	doRequest(h, http.MethodPost, "/ledgers/l1/entries", req)
	rec := doRequest(h, http.MethodPost, "/ledgers/l1/entries", req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAppendEntryMissingIdempotencyKeyIsRejected(t *testing.T) {
	h := newTestHandler()
	doRequest(h, http.MethodPost, "/ledgers", createLedgerRequest{ID: "l1", Name: "n"})
	rec := doRequest(h, http.MethodPost, "/ledgers/l1/entries", appendEntryRequest{Data: json.RawMessage(`{}`)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAppendEntryToUnknownLedgerReturns404(t *testing.T) {
	h := newTestHandler()
	rec := doRequest(h, http.MethodPost, "/ledgers/missing/entries", appendEntryRequest{
		Data: json.RawMessage(`{}`), IdempotencyKey: "k1",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetEntryByPosition(t *testing.T) {
	h := newTestHandler()
	doRequest(h, http.MethodPost, "/ledgers", createLedgerRequest{ID: "l1", Name: "n"})
	doRequest(h, http.MethodPost, "/ledgers/l1/entries", appendEntryRequest{Data: json.RawMessage(`{}`), IdempotencyKey: "k1"})

	rec := doRequest(h, http.MethodGet, "/ledgers/l1/entries/0", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetEntryInvalidPositionReturns400(t *testing.T) {
	h := newTestHandler()
	doRequest(h, http.MethodPost, "/ledgers", createLedgerRequest{ID: "l1", Name: "n"})
	rec := doRequest(h, http.MethodGet, "/ledgers/l1/entries/not-a-number", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetEntryOutOfRangeReturns400(t *testing.T) {
	h := newTestHandler()
	doRequest(h, http.MethodPost, "/ledgers", createLedgerRequest{ID: "l1", Name: "n"})
	rec := doRequest(h, http.MethodGet, "/ledgers/l1/entries/99", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListEntriesDefaultsPagination(t *testing.T) {
	h := newTestHandler()
	doRequest(h, http.MethodPost, "/ledgers", createLedgerRequest{ID: "l1", Name: "n"})
	for i := 0; i < 3; i++ {
		doRequest(h, http.MethodPost, "/ledgers/l1/entries", appendEntryRequest{
			Data: json.RawMessage(`{}`), IdempotencyKey: string(rune('a' + i)),
		})
	}

	rec := doRequest(h, http.MethodGet, "/ledgers/l1/entries", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Len(t, entries, 3)
}

func TestGetProofVerifies(t *testing.T) {
	h := newTestHandler()
	doRequest(h, http.MethodPost, "/ledgers", createLedgerRequest{ID: "l1", Name: "n"})
	doRequest(h, http.MethodPost, "/ledgers/l1/entries", appendEntryRequest{Data: json.RawMessage(`{}`), IdempotencyKey: "k1"})

	rec := doRequest(h, http.MethodGet, "/ledgers/l1/proofs/0", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec2 := doRequest(h, http.MethodPost, "/ledgers/l1/verify", json.RawMessage(rec.Body.Bytes()))
	require.Equal(t, http.StatusOK, rec2.Code)

	var result map[string]bool
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &result))
	assert.True(t, result["valid"])
}

func TestVerifyProofInvalidBodyReturns400(t *testing.T) {
	h := newTestHandler()
	doRequest(h, http.MethodPost, "/ledgers", createLedgerRequest{ID: "l1", Name: "n"})

	req := httptest.NewRequest(http.MethodPost, "/ledgers/l1/verify", bytes.NewBufferString("not-json"))
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
