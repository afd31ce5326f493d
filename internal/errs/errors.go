// Package errs provides the unified error type used across all of docrelay.
//
// Every subsystem (database, filestore, bucket provisioning, pipelines, …)
// wraps its native errors into *errs.Error before returning them to callers.
// Callers use the Is* predicates to handle errors without importing
// driver-specific packages.
//
// Usage:
//
//	// In a driver — wrap native errors:
//	return errs.Wrap(errs.ErrKindTimeout, "put object timed out", minioErr)
//
//	// In a handler — check error kind:
//	if errs.IsProvisioningFailed(err) {
//	    http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing subsystem-specific codes.
// All backends (Postgres, MySQL, MinIO, S3, …) map their native errors to one
// of these kinds, giving callers a single consistent API.
type ErrKind int

const (
	ErrKindUnknown          ErrKind = iota
	ErrKindNotFound                 // no rows, no object, no bucket
	ErrKindConnectionFailed         // cannot reach the backend
	ErrKindTimeout                  // context deadline / cancellation, throttling
	ErrKindQueryFailed              // SQL or storage operation error
	ErrKindInvalidInput             // bad arguments from the caller
	ErrKindPermissionDenied         // access denied / auth failure
	ErrKindAlreadyExists            // bucket or object already present
	ErrKindConflict                 // unique constraint violation
	ErrKindProvisioningFailed       // bucket could not be made ready after retries
	ErrKindIndexWriteFailed         // object stored but its index row was not written/removed
	ErrKindPartialBatch             // some files of a batch failed
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindNotFound:
		return "not_found"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindQueryFailed:
		return "query_failed"
	case ErrKindInvalidInput:
		return "invalid_input"
	case ErrKindPermissionDenied:
		return "permission_denied"
	case ErrKindAlreadyExists:
		return "already_exists"
	case ErrKindConflict:
		return "conflict"
	case ErrKindProvisioningFailed:
		return "provisioning_failed"
	case ErrKindIndexWriteFailed:
		return "index_write_failed"
	case ErrKindPartialBatch:
		return "partial_batch"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all docrelay subsystems.
// Drivers produce it; callers inspect it via the Is* predicates below.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original driver-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf is New with a format string.
func Newf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// --- Predicates ---

// IsNotFound reports whether err represents a "not found" result
// (no rows, missing object, unknown bucket, …).
func IsNotFound(err error) bool {
	return KindOf(err) == ErrKindNotFound
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return KindOf(err) == ErrKindTimeout
}

// IsConnectionFailed reports whether err is a connectivity failure.
func IsConnectionFailed(err error) bool {
	return KindOf(err) == ErrKindConnectionFailed
}

// IsQueryFailed reports whether err is a backend operation failure
// (SQL execution error, storage I/O error, …).
func IsQueryFailed(err error) bool {
	return KindOf(err) == ErrKindQueryFailed
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return KindOf(err) == ErrKindInvalidInput
}

// IsPermissionDenied reports whether err is an access control failure.
func IsPermissionDenied(err error) bool {
	return KindOf(err) == ErrKindPermissionDenied
}

// IsAlreadyExists reports whether err means the target bucket or object
// is already present. Bucket creation treats this as success.
func IsAlreadyExists(err error) bool {
	return KindOf(err) == ErrKindAlreadyExists
}

// IsConflict reports whether err is a unique constraint violation.
func IsConflict(err error) bool {
	return KindOf(err) == ErrKindConflict
}

// IsProvisioningFailed reports whether the storage bucket could not be made
// ready. Every dependent operation is blocked until a retry succeeds.
func IsProvisioningFailed(err error) bool {
	return KindOf(err) == ErrKindProvisioningFailed
}

// IsIndexWriteFailed reports whether the object store and the index diverged
// because an index write or delete failed.
func IsIndexWriteFailed(err error) bool {
	return KindOf(err) == ErrKindIndexWriteFailed
}

// IsPartialBatch reports whether err summarises a batch with failed files.
func IsPartialBatch(err error) bool {
	return KindOf(err) == ErrKindPartialBatch
}

// IsTransient reports whether a retry of the same call may succeed.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case ErrKindTimeout, ErrKindConnectionFailed:
		return true
	}
	return false
}

// KindOf extracts the ErrKind from the outermost *Error in the chain.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}
