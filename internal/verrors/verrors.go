// Package verrors defines the error kinds surfaced by the ledger core.
//
// Each kind is a sentinel error; callers use errors.Is against these values
// rather than matching on string content. Context is attached with
// fmt.Errorf("%w: ...", verrors.ErrLedgerNotFound).
package verrors

import "errors"

var (
	// ErrLedgerNotFound means the referenced ledger id has no metadata.
	ErrLedgerNotFound = errors.New("ledger not found")

	// ErrIndexOutOfRange means a proof was requested for a non-existent position.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrChainIntegrity means the previous entry is missing or the root
	// recorded in metadata disagrees with the reconstructed tree. Fatal: the
	// operation fails and the service must not silently repair state.
	ErrChainIntegrity = errors.New("chain integrity error")

	// ErrInvalidProof means a proof structure is malformed (length mismatch,
	// bad hex). Verify functions return (false, reason) rather than this
	// error directly; it exists for code paths that must fail loudly instead.
	ErrInvalidProof = errors.New("invalid proof")

	// ErrIntegrity means a blob's content hash did not match its stored
	// reference.
	ErrIntegrity = errors.New("integrity error")

	// ErrStorageConflict means an attempt was made to persist an entry at an
	// already-used position, indicating concurrent writers without proper
	// locking.
	ErrStorageConflict = errors.New("storage conflict")

	// ErrNotFound is a generic not-found for entries, blobs, and published
	// roots that don't warrant their own kind.
	ErrNotFound = errors.New("not found")
)
