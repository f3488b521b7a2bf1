// Package domain provides shared domain-level sentinel errors implementing
// the hub's error taxonomy. Adapters and services wrap these with fmt.Errorf
// and %w so callers can still errors.Is against the sentinel.
package domain

import "errors"

var (
	// ErrInvalidArgument indicates a request failed structural or field validation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound indicates the requested entity does not exist or is not
	// visible to the caller (soft-deleted, hard-deleted, or confidentiality-gated).
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates the caller's confidentiality level or machine
	// identity does not permit the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrConfirmationRequired indicates a destructive operation (hard delete,
	// bulk delete) was attempted without the required confirmation flag.
	ErrConfirmationRequired = errors.New("confirmation required")

	// ErrDuplicateDetected indicates a near-duplicate memory exists above the
	// configured similarity threshold and the caller did not request a merge.
	ErrDuplicateDetected = errors.New("duplicate detected")

	// ErrDeletionExpired indicates a soft-deleted memory's recovery window
	// (soft_delete.ttl_days) has elapsed; recovery is no longer possible.
	ErrDeletionExpired = errors.New("deletion recovery window expired")

	// ErrContentTooLarge indicates memory content exceeds the configured
	// maximum size.
	ErrContentTooLarge = errors.New("content too large")

	// ErrStorageError wraps an underlying storage-layer failure (database,
	// vector store, cache) that the caller cannot resolve directly.
	ErrStorageError = errors.New("storage error")

	// ErrConflictDetected indicates a vector-clock comparison found two
	// concurrent, conflicting updates that require merge resolution.
	ErrConflictDetected = errors.New("conflict detected")

	// ErrTryAgainLater indicates a transient condition (circuit breaker open,
	// rate limit exhausted) that should be retried after backoff.
	ErrTryAgainLater = errors.New("try again later")

	// ErrTimeout indicates an operation did not complete within its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrUnavailable indicates a required dependency (peer, embedding
	// provider, database) is currently unreachable.
	ErrUnavailable = errors.New("unavailable")
)
