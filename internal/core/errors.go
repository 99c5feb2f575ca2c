package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation   ErrorCategory = "validation"    // Invalid input
	ErrCatExecution    ErrorCategory = "execution"     // Runtime failure
	ErrCatTimeout      ErrorCategory = "timeout"       // Operation timed out
	ErrCatSpawn        ErrorCategory = "spawn"         // Binary missing or not launchable
	ErrCatConnectivity ErrorCategory = "connectivity"  // Container engine or socket unreachable
	ErrCatCheckTimeout ErrorCategory = "check_timeout" // A health check itself hung
	ErrCatNotFound     ErrorCategory = "not_found"     // Resource not found
	ErrCatInternal     ErrorCategory = "internal"      // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category    ErrorCategory
	Code        string
	Message     string
	Remediation string
	Retryable   bool
	Cause       error
	Details     map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithRemediation attaches a human-readable suggestion for fixing the error.
func (e *DomainError) WithRemediation(text string) *DomainError {
	e.Remediation = text
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrExecution creates an execution error.
func ErrExecution(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatExecution,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      "TIMEOUT",
		Message:   message,
		Retryable: true,
	}
}

// ErrProcessSpawn creates the error returned when a binary cannot be
// located or launched at all.
func ErrProcessSpawn(path string, cause error) *DomainError {
	return &DomainError{
		Category:    ErrCatSpawn,
		Code:        CodeSpawnFailed,
		Message:     fmt.Sprintf("cannot launch %q", path),
		Remediation: "check that the binary is installed, on PATH and executable",
		Retryable:   false,
		Cause:       cause,
		Details: map[string]interface{}{
			"path": path,
		},
	}
}

// ErrConnectivity creates a connectivity error.
func ErrConnectivity(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatConnectivity,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// ErrCheckTimeout creates the error recorded when a health check hangs.
func ErrCheckTimeout(check string) *DomainError {
	return &DomainError{
		Category:  ErrCatCheckTimeout,
		Code:      CodeCheckTimedOut,
		Message:   "check timed out",
		Retryable: true,
		Details: map[string]interface{}{
			"check": check,
		},
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      CodeNotFound,
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// RemediationOf returns the remediation text carried by err, if any.
func RemediationOf(err error) string {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Remediation
	}
	return ""
}

// Predefined error codes
const (
	CodeSpawnFailed     = "SPAWN_FAILED"
	CodeEmptyCommand    = "EMPTY_COMMAND"
	CodeInvalidTimeout  = "INVALID_TIMEOUT"
	CodeInvalidConfig   = "INVALID_CONFIG"
	CodeCheckTimedOut   = "CHECK_TIMED_OUT"
	CodeCheckPanicked   = "CHECK_PANICKED"
	CodeDuplicateCheck  = "DUPLICATE_CHECK"
	CodeEngineDown      = "ENGINE_UNREACHABLE"
	CodeSocketMissing   = "SOCKET_MISSING"
	CodeSocketDenied    = "SOCKET_PERMISSION_DENIED"
	CodeNoRecordedRun   = "NO_RECORDED_RUN"
	CodeBaselineCorrupt = "BASELINE_CORRUPT"
	CodeNotFound        = "NOT_FOUND"
)
