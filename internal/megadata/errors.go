package megadata

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedContract is returned when a contract lacks a read function
	// required by the requested operation. It is permanent; callers must not retry.
	ErrUnsupportedContract = errors.New("unsupported contract")

	// ErrUnknownNetwork is returned when no RPC endpoints are configured for a network.
	ErrUnknownNetwork = errors.New("unknown network")

	// ErrNotFound is returned by stores when a requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// RPCError wraps a transport or contract-call failure. It is recoverable; the
// caller decides whether to retry.
type RPCError struct {
	Network string
	Method  string
	Err     error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc %s on %s: %v", e.Method, e.Network, e.Err)
}

func (e *RPCError) Unwrap() error { return e.Err }

// FetchError reports a failed metadata fetch (non-2xx status or unreadable body).
type FetchError struct {
	URI        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetching %s: unexpected status %d", e.URI, e.StatusCode)
	}
	return fmt.Sprintf("fetching %s: %v", e.URI, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// LedgerInconsistencyError reports tokens that exist locally but whose ledger
// publication or local status update failed ("created but not published").
// Those tokens stay pending and are retried by the ledger sync worker.
type LedgerInconsistencyError struct {
	CollectionID string
	TokenIDs     []string
	Err          error
}

func (e *LedgerInconsistencyError) Error() string {
	return fmt.Sprintf("collection %s: %d token(s) created but not published [%s]: %v",
		e.CollectionID, len(e.TokenIDs), strings.Join(e.TokenIDs, ","), e.Err)
}

func (e *LedgerInconsistencyError) Unwrap() error { return e.Err }
