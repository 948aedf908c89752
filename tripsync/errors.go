// ABOUTME: Typed errors for the sync engine and client.
// ABOUTME: Enables programmatic error handling with errors.Is() and errors.As().
package tripsync

import (
	"errors"
	"fmt"
)

// Sentinel errors for programmatic handling.
var (
	ErrBatchTooLarge   = errors.New("push batch too large")
	ErrVersionRequired = errors.New("sync version required")
	ErrUserRequired    = errors.New("user id required")
	ErrBadEntityType   = errors.New("unknown entity type")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNetworkFailure  = errors.New("network failure")
	ErrServerError     = errors.New("server error")
	ErrConflict        = errors.New("conflict detected")
)

// SyncError wraps errors with operation context.
type SyncError struct {
	Op      string // "push", "pull"
	Err     error  // underlying typed error
	Retries int    // attempts made
	Detail  string // server message if any
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Retries, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// StoreError carries entity context when a persistence call fails during a
// push apply phase. The surrounding transaction is rolled back in full.
type StoreError struct {
	Entity   string // "trips" or "user_settings"
	EntityID string
	Cause    error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store write failed for %s %s: %v", e.Entity, e.EntityID, e.Cause)
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}
