package tipio

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientBalance marks a withdrawal whose net amount after
	// fees is zero. Distinct from transport failures so callers can
	// explain "balance too small" instead of "request failed".
	ErrInsufficientBalance = errors.New("balance too small to cover withdrawal fees")

	// ErrWalletDisconnected marks an operation that needs an active
	// wallet session when none is available.
	ErrWalletDisconnected = errors.New("wallet session disconnected")

	// ErrTransferRejected marks a transfer the wallet or ledger refused.
	// Never retried automatically.
	ErrTransferRejected = errors.New("transfer rejected")
)

// MetadataFetchError reports that every metadata field failed to
// resolve for a ledger.
type MetadataFetchError struct {
	LedgerID string
	Err      error
}

func (e *MetadataFetchError) Error() string {
	return fmt.Sprintf("fetch metadata for %s failed: %v", e.LedgerID, e.Err)
}

func (e *MetadataFetchError) Unwrap() error {
	return e.Err
}

// BackendError is an explicit error result returned by the tip
// backend. Expected, recoverable, and shown to the user verbatim.
type BackendError struct {
	Msg string
}

func (e *BackendError) Error() string {
	return e.Msg
}
