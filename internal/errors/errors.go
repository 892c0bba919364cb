package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Tandem error code.
type ErrorCode string

const (
	ErrInvalidChange        ErrorCode = "INVALID_CHANGE"        // 422
	ErrInvalidContent       ErrorCode = "INVALID_CONTENT"       // 422
	ErrInvalidRange         ErrorCode = "INVALID_RANGE"         // 400
	ErrConsistencyViolation ErrorCode = "CONSISTENCY_VIOLATION" // 500
	ErrInvalidRequest       ErrorCode = "INVALID_REQUEST"       // 400
	ErrNotFound             ErrorCode = "NOT_FOUND"             // 404
	ErrFileNotFound         ErrorCode = "FILE_NOT_FOUND"        // 404
	ErrConflict             ErrorCode = "CONFLICT"              // 409
	ErrTooManyChanges       ErrorCode = "TOO_MANY_CHANGES"      // 413
	ErrCancelled            ErrorCode = "CANCELLED"             // 499
	ErrInternal             ErrorCode = "INTERNAL"              // 500
)

// SyncError represents a structured error with code, status, and details.
type SyncError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidChange creates a 422 error for a change that needs more base
// content than is available.
func NewInvalidChange(required, available int) *SyncError {
	return &SyncError{
		Code:    ErrInvalidChange,
		Status:  422,
		Message: fmt.Sprintf("change requires base length %d but only %d is available", required, available),
		Details: map[string]any{"required": required, "available": available},
	}
}

// NewInvalidContent creates a 422 error for malformed content or ops.
func NewInvalidContent(msg string) *SyncError {
	return &SyncError{
		Code:    ErrInvalidContent,
		Status:  422,
		Message: msg,
	}
}

// NewInvalidRange creates a 400 error for crop bounds outside [0, length].
func NewInvalidRange(start, end, length int) *SyncError {
	return &SyncError{
		Code:    ErrInvalidRange,
		Status:  400,
		Message: fmt.Sprintf("range [%d, %d) is outside content of length %d", start, end, length),
		Details: map[string]any{"start": start, "end": end, "length": length},
	}
}

// NewRevisionOutOfRange creates a 400 error for a revision outside [min, max].
func NewRevisionOutOfRange(rev, min, max int) *SyncError {
	return &SyncError{
		Code:    ErrInvalidRange,
		Status:  400,
		Message: fmt.Sprintf("revision %d is outside [%d, %d]", rev, min, max),
		Details: map[string]any{"rev": rev, "min_rev": min, "max_rev": max},
	}
}

// NewConsistencyViolation creates a 500 error for a savepoint that does not
// match a replay of the change log.
func NewConsistencyViolation(rev int, msg string) *SyncError {
	return &SyncError{
		Code:    ErrConsistencyViolation,
		Status:  500,
		Message: fmt.Sprintf("savepoint at revision %d: %s", rev, msg),
		Details: map[string]any{"rev": rev},
	}
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *SyncError {
	return &SyncError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for when a document cannot be found.
func NewNotFound(identifier string) *SyncError {
	return &SyncError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("document not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewFileNotFound creates a 404 error for a missing import file.
func NewFileNotFound(path string) *SyncError {
	return &SyncError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewConflict creates a 409 error for general conflicts.
func NewConflict(msg string) *SyncError {
	return &SyncError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewTooManyChanges creates a 413 error when a request carries too many changes.
func NewTooManyChanges(max, actual int) *SyncError {
	return &SyncError{
		Code:    ErrTooManyChanges,
		Status:  413,
		Message: fmt.Sprintf("too many changes in request: %d (max %d)", actual, max),
		Details: map[string]any{"max_changes": max, "actual_changes": actual},
	}
}

// NewCancelled creates a 499 error when the caller's context is done.
func NewCancelled(operation string) *SyncError {
	return &SyncError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", operation),
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The underlying error is kept in Details for logging, not in Message.
func NewInternal(err error) *SyncError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &SyncError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
	}
}

// Is checks if err, or any error it wraps, is a SyncError with the given code.
func Is(err error, code ErrorCode) bool {
	var sErr *SyncError
	if stderrors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}

// As returns the SyncError wrapped by err, if any.
func As(err error) (*SyncError, bool) {
	var sErr *SyncError
	if stderrors.As(err, &sErr) {
		return sErr, true
	}
	return nil, false
}
