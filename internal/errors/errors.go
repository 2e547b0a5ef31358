package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrTypeNetwork represents transport failures and non-success HTTP responses
	ErrTypeNetwork ErrorType = "network"
	// ErrTypeFileSystem represents file system errors
	ErrTypeFileSystem ErrorType = "filesystem"
	// ErrTypePersistence represents key/value store errors
	ErrTypePersistence ErrorType = "persistence"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypePrecondition represents operations refused because of session state
	ErrTypePrecondition ErrorType = "precondition"
	// ErrTypeCancelled represents operations abandoned by the caller
	ErrTypeCancelled ErrorType = "cancelled"
	// ErrTypeUnknown represents unknown errors
	ErrTypeUnknown ErrorType = "unknown"
)

// ErrNoCurrentUser is returned when a user-scoped write is attempted while
// nobody is signed in.
var ErrNoCurrentUser = &AppError{
	Type:    ErrTypePrecondition,
	Message: "no current user",
}

// AppError represents an application error with context
type AppError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Retryable  bool
	Cause      error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewNetworkError creates a new network error
func NewNetworkError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeNetwork,
		Message:   message,
		Retryable: true,
		Cause:     cause,
	}
}

// NewHTTPStatusError creates a network error for a non-success response
func NewHTTPStatusError(statusCode int) *AppError {
	return &AppError{
		Type:       ErrTypeNetwork,
		Message:    fmt.Sprintf("unexpected status code %d", statusCode),
		StatusCode: statusCode,
		Retryable:  statusCode >= 500 || statusCode == 429,
	}
}

// NewFileSystemError creates a new file system error
func NewFileSystemError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeFileSystem,
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}

// NewPersistenceError creates a new persistence error. Busy/locked database
// errors are the only retryable ones.
func NewPersistenceError(message string, cause error, retryable bool) *AppError {
	return &AppError{
		Type:      ErrTypePersistence,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:    ErrTypeNotFound,
		Message: message,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: message,
	}
}

// NewCancelledError wraps a context error
func NewCancelledError(message string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeCancelled,
		Message: message,
		Cause:   cause,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetErrorType returns the error type from an error. Bare context errors are
// reported as cancelled.
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return ErrTypeCancelled
	}
	return ErrTypeUnknown
}

// IsNetworkError checks if an error is a network error
func IsNetworkError(err error) bool {
	return GetErrorType(err) == ErrTypeNetwork
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return GetErrorType(err) == ErrTypeNotFound
}

// IsCancelled checks if an error came from an abandoned operation
func IsCancelled(err error) bool {
	return GetErrorType(err) == ErrTypeCancelled
}
