// Package api exposes internal/ledger/service.Service over HTTP using
// gorilla/mux, following the teacher's handler shape (cmd/users-service's
// http.Error-on-failure, json.NewEncoder(w).Encode-on-success convention)
// and cmd/messaging-service's /ws upgrade-in-a-HandleFunc-closure pattern.
//
// Deliberately out of scope here: authentication, rate limiting, and
// request/response PII redaction. Those are left to a reverse proxy or
// middleware the operator fronts this service with.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/jasonsutter87/veilchain/internal/events"
	"github.com/jasonsutter87/veilchain/internal/ledger/merkletree"
	"github.com/jasonsutter87/veilchain/internal/ledger/service"
	"github.com/jasonsutter87/veilchain/internal/ledger/store"
	"github.com/jasonsutter87/veilchain/internal/verrors"
)

// Handler wires a ledger service and an event broadcaster to HTTP routes.
type Handler struct {
	ledgers     *service.Service
	broadcaster *events.Broadcaster
	defaultAlgo string
}

// New returns a Handler. defaultHashAlgorithm is used when a create-ledger
// request omits one.
func New(ledgers *service.Service, broadcaster *events.Broadcaster, defaultHashAlgorithm string) *Handler {
	return &Handler{ledgers: ledgers, broadcaster: broadcaster, defaultAlgo: defaultHashAlgorithm}
}

// Router builds the full gorilla/mux route table.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/ledgers", h.CreateLedger).Methods(http.MethodPost)
	r.HandleFunc("/ledgers/{ledgerID}", h.GetLedger).Methods(http.MethodGet)
	r.HandleFunc("/ledgers/{ledgerID}/entries", h.AppendEntry).Methods(http.MethodPost)
	r.HandleFunc("/ledgers/{ledgerID}/entries", h.ListEntries).Methods(http.MethodGet)
	r.HandleFunc("/ledgers/{ledgerID}/entries/{position}", h.GetEntry).Methods(http.MethodGet)
	r.HandleFunc("/ledgers/{ledgerID}/proofs/{position}", h.GetProof).Methods(http.MethodGet)
	r.HandleFunc("/ledgers/{ledgerID}/verify", h.VerifyProof).Methods(http.MethodPost)
	r.HandleFunc("/ledgers/{ledgerID}/events", h.StreamEvents).Methods(http.MethodGet)
	return r
}

// HealthCheck reports liveness.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type createLedgerRequest struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	HashAlgorithm string `json:"hashAlgorithm"`
}

// CreateLedger handles POST /ledgers.
func (h *Handler) CreateLedger(w http.ResponseWriter, r *http.Request) {
	var req createLedgerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" || req.Name == "" {
		http.Error(w, "id and name are required", http.StatusBadRequest)
		return
	}
	algo := req.HashAlgorithm
	if algo == "" {
		algo = h.defaultAlgo
	}

	ledger, err := h.ledgers.CreateLedger(r.Context(), req.ID, req.Name, req.Description, algo)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(ledger)
}

// GetLedger handles GET /ledgers/{ledgerID}.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	ledgerID := mux.Vars(r)["ledgerID"]
	meta, err := h.ledgers.GetLedgerMetadata(r.Context(), ledgerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(meta)
}

type appendEntryRequest struct {
	Data           json.RawMessage `json:"data"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

// AppendEntry handles POST /ledgers/{ledgerID}/entries.
func (h *Handler) AppendEntry(w http.ResponseWriter, r *http.Request) {
	ledgerID := mux.Vars(r)["ledgerID"]

	var req appendEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Data) == 0 {
		http.Error(w, "data is required", http.StatusBadRequest)
		return
	}
	if req.IdempotencyKey == "" {
		http.Error(w, "idempotencyKey is required", http.StatusBadRequest)
		return
	}

	result, err := h.ledgers.Append(r.Context(), ledgerID, req.Data, req.IdempotencyKey)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if result.Replayed {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusCreated)
	}
	json.NewEncoder(w).Encode(result)
}

// GetEntry handles GET /ledgers/{ledgerID}/entries/{position}.
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	position, err := strconv.ParseUint(vars["position"], 10, 64)
	if err != nil {
		http.Error(w, "position must be a non-negative integer", http.StatusBadRequest)
		return
	}

	entry, err := h.ledgers.GetEntryByPosition(r.Context(), vars["ledgerID"], position)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry)
}

// ListEntries handles GET /ledgers/{ledgerID}/entries?offset=&limit=.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	ledgerID := mux.Vars(r)["ledgerID"]
	opts := store.ListOptions{
		Offset: parseIntDefault(r.URL.Query().Get("offset"), 0),
		Limit:  parseIntDefault(r.URL.Query().Get("limit"), 100),
	}

	entries, err := h.ledgers.ListEntries(r.Context(), ledgerID, opts)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// GetProof handles GET /ledgers/{ledgerID}/proofs/{position}.
func (h *Handler) GetProof(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	position, err := strconv.ParseUint(vars["position"], 10, 64)
	if err != nil {
		http.Error(w, "position must be a non-negative integer", http.StatusBadRequest)
		return
	}

	proof, err := h.ledgers.GetProof(r.Context(), vars["ledgerID"], position)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(proof)
}

// VerifyProof handles POST /ledgers/{ledgerID}/verify.
func (h *Handler) VerifyProof(w http.ResponseWriter, r *http.Request) {
	ledgerID := mux.Vars(r)["ledgerID"]

	var proof merkletree.Proof
	if err := json.NewDecoder(r.Body).Decode(&proof); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	valid, err := h.ledgers.VerifyProof(r.Context(), ledgerID, &proof)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"valid": valid})
}

// StreamEvents handles GET /ledgers/{ledgerID}/events, upgrading to a
// WebSocket subscription on the ledger's event stream.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	ledgerID := mux.Vars(r)["ledgerID"]
	if err := h.broadcaster.ServeWS(w, r, ledgerID); err != nil {
		http.Error(w, "websocket upgrade failed", http.StatusBadRequest)
		return
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, verrors.ErrLedgerNotFound), errors.Is(err, verrors.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, verrors.ErrIndexOutOfRange), errors.Is(err, verrors.ErrInvalidProof):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, verrors.ErrStorageConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, verrors.ErrChainIntegrity), errors.Is(err, verrors.ErrIntegrity):
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func parseIntDefault(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
