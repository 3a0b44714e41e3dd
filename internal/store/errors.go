package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	// This is a generic version of the entity-specific not found errors
	// (e.g., ErrJobNotFound, ErrDocumentNotFound).
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity (e.g., two jobs for the same subsection of a batch).
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrTransactionFailed means the transaction lost to a concurrent one
	// (serialization failure, deadlock or lock timeout) and may be retried.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrNoJobAvailable is returned by ClaimNext when no pending job of the
	// batch is currently claimable. It is a normal outcome, not a failure.
	ErrNoJobAvailable = errors.New("no job available")

	// ErrClaimLost is returned when a post-claim update finds the job no
	// longer held by the caller's claim, typically because its lease expired
	// and the sweeper requeued it.
	ErrClaimLost = errors.New("job claim lost")

	// Entity-specific "not found" errors

	// ErrJobNotFound indicates that the requested job does not exist in the store.
	ErrJobNotFound = fmt.Errorf("%w: job", ErrNotFound)

	// ErrBatchNotFound indicates that the requested batch does not exist in the store.
	ErrBatchNotFound = fmt.Errorf("%w: batch", ErrNotFound)

	// ErrDocumentNotFound indicates that a merge target document does not exist.
	ErrDocumentNotFound = fmt.Errorf("%w: document", ErrNotFound)

	// ErrModuleNotFound indicates that the document exists but has no module
	// with the requested key.
	ErrModuleNotFound = fmt.Errorf("%w: module", ErrNotFound)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsMergeTargetMissing reports whether err means the document or module a
// result should be merged into does not exist.
func IsMergeTargetMissing(err error) bool {
	return errors.Is(err, ErrDocumentNotFound) || errors.Is(err, ErrModuleNotFound)
}
