package apperrors

import (
	"errors"
	"fmt"
)

// RetryableError indicates an error that might be resolved by retrying.
type RetryableError struct {
	Err error
}

// Error implements the error interface.
func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryable wraps the given error as a RetryableError, adding a message.
// It uses fmt.Errorf with %w to maintain the error chain.
func NewRetryable(err error, message string, args ...interface{}) error {
	format := message + ": %w"
	allArgs := append(args, err)
	return &RetryableError{Err: fmt.Errorf(format, allArgs...)}
}

// FatalError indicates an error that is unlikely to be resolved by retrying.
type FatalError struct {
	Err error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatal wraps the given error as a FatalError, adding a message.
// It uses fmt.Errorf with %w to maintain the error chain.
func NewFatal(err error, message string, args ...interface{}) error {
	format := message + ": %w"
	allArgs := append(args, err)
	return &FatalError{Err: fmt.Errorf(format, allArgs...)}
}

// --- Standard Error Definitions ---

// These sentinel errors define the application-level error conditions of the
// sync engine. They can be checked with errors.Is and are wrapped by
// RetryableError or FatalError depending on the call site.
var (
	// ErrNotFound indicates a requested resource was not found.
	ErrNotFound = errors.New("resource not found")
	// ErrValidation indicates failure during data validation.
	ErrValidation = errors.New("validation failed")
	// ErrStorage indicates a local snapshot store interaction error.
	ErrStorage = errors.New("local store error")
	// ErrRemote indicates a transient remote backend communication error.
	// Callers are expected to fall back to the local store.
	ErrRemote = errors.New("remote backend error")
	// ErrAuthExpired indicates the backend session is no longer valid.
	// This is the only error allowed to propagate up to a full session reset.
	ErrAuthExpired = errors.New("session expired")
	// ErrMalformedData indicates a persisted payload could not be decoded.
	// Non-fatal: the affected collection degrades to empty.
	ErrMalformedData = errors.New("malformed persisted data")
	// ErrIdentityConflict indicates two records share an external identity.
	// Repaired by merging into the earliest-created record.
	ErrIdentityConflict = errors.New("identity conflict")
	// ErrDuplicate indicates a conflict due to duplicate data.
	ErrDuplicate = errors.New("duplicate resource")
	// ErrConflict indicates a general conflict state.
	ErrConflict = errors.New("resource conflict")
	// ErrBadRequest indicates a malformed or invalid request from the caller.
	ErrBadRequest = errors.New("bad request")
	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timeout")
)

// --- Helper functions for checking ---

// IsRetryable checks if the error is a RetryableError or wraps one.
func IsRetryable(err error) bool {
	var target *RetryableError
	return errors.As(err, &target)
}

// IsFatal checks if the error is a FatalError or wraps one.
func IsFatal(err error) bool {
	var target *FatalError
	return errors.As(err, &target)
}

// --- Specific Standard Error Checkers ---

// IsNotFoundError checks if the error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidationError checks if the error is or wraps ErrValidation.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsStorageError checks if the error is or wraps ErrStorage.
func IsStorageError(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IsRemoteError checks if the error is or wraps ErrRemote.
func IsRemoteError(err error) bool {
	return errors.Is(err, ErrRemote)
}

// IsAuthExpiredError checks if the error is or wraps ErrAuthExpired.
func IsAuthExpiredError(err error) bool {
	return errors.Is(err, ErrAuthExpired)
}

// IsMalformedDataError checks if the error is or wraps ErrMalformedData.
func IsMalformedDataError(err error) bool {
	return errors.Is(err, ErrMalformedData)
}

// IsIdentityConflictError checks if the error is or wraps ErrIdentityConflict.
func IsIdentityConflictError(err error) bool {
	return errors.Is(err, ErrIdentityConflict)
}

// IsDuplicateError checks if the error is or wraps ErrDuplicate.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// IsConflictError checks if the error is or wraps ErrConflict.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsBadRequestError checks if the error is or wraps ErrBadRequest.
func IsBadRequestError(err error) bool {
	return errors.Is(err, ErrBadRequest)
}

// IsTimeoutError checks if the error is or wraps ErrTimeout.
func IsTimeoutError(err error) bool {
	return errors.Is(err, ErrTimeout)
}
