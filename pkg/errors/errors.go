// Package errors provides a structured error type for nimbusfs with error
// codes and categories, so callers that only see a boolean or a plain error
// return (per the page-cache core's error handling policy) still get a
// machine-checkable code logged at the point of failure.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCode identifies the kind of failure independent of its message text.
type ErrorCode string

const (
	// Configuration errors.
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingConfig ErrorCode = "MISSING_CONFIG"

	// Connection errors.
	ErrCodeConnectionFailed  ErrorCode = "CONNECTION_FAILED"
	ErrCodeConnectionTimeout ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeNetworkError      ErrorCode = "NETWORK_ERROR"

	// Storage backend errors.
	ErrCodeObjectNotFound ErrorCode = "OBJECT_NOT_FOUND"
	ErrCodeStorageWrite   ErrorCode = "STORAGE_WRITE"
	ErrCodeStorageRead    ErrorCode = "STORAGE_READ"
	ErrCodeAccessDenied   ErrorCode = "ACCESS_DENIED"

	// Page-cache errors.
	ErrCodeInvalidRange   ErrorCode = "INVALID_RANGE"
	ErrCodeInodeMismatch  ErrorCode = "INODE_MISMATCH"
	ErrCodeStatsCorrupt   ErrorCode = "STATS_CORRUPT"
	ErrCodeReconcileFail  ErrorCode = "RECONCILE_FAILED"
	ErrCodeSparseProbe    ErrorCode = "SPARSE_PROBE_FAILED"

	// Resource management errors.
	ErrCodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
	ErrCodeWorkerBusy        ErrorCode = "WORKER_BUSY"

	// State management errors.
	ErrCodeAlreadyStarted   ErrorCode = "ALREADY_STARTED"
	ErrCodeNotInitialized   ErrorCode = "NOT_INITIALIZED"
	ErrCodeInvalidState     ErrorCode = "INVALID_STATE"
	ErrCodeComponentStopped ErrorCode = "COMPONENT_STOPPED"

	// Operation errors.
	ErrCodeOperationTimeout  ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeOperationFailed   ErrorCode = "OPERATION_FAILED"
	ErrCodeRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"

	// Internal errors.
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory groups error codes for coarse-grained handling and metrics.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryConnection    ErrorCategory = "connection"
	CategoryStorage       ErrorCategory = "storage"
	CategoryCache         ErrorCategory = "cache"
	CategoryResource      ErrorCategory = "resource"
	CategoryState         ErrorCategory = "state"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// Error is a structured error carrying a code, category, component/operation
// context, and an optional wrapped cause.
type Error struct {
	Code      ErrorCode
	Category  ErrorCategory
	Message   string
	Context   map[string]string
	Cause     error
	Timestamp time.Time
	Component string
	Operation string
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// New creates a new Error with a category derived from the code.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Category:  categoryOf(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: isRetryableByDefault(code),
	}
}

// WithContext attaches a key/value pair of diagnostic context.
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithComponent sets the component that raised the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithOperation sets the operation being performed when the error occurred.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

func categoryOf(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG"), strings.HasPrefix(codeStr, "MISSING_CONFIG"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "CONNECTION_"), strings.HasPrefix(codeStr, "NETWORK_"):
		return CategoryConnection
	case strings.HasPrefix(codeStr, "OBJECT_"), strings.HasPrefix(codeStr, "STORAGE_"), strings.HasPrefix(codeStr, "ACCESS_"):
		return CategoryStorage
	case strings.HasPrefix(codeStr, "INVALID_RANGE"), strings.HasPrefix(codeStr, "INODE_"),
		strings.HasPrefix(codeStr, "STATS_"), strings.HasPrefix(codeStr, "RECONCILE_"), strings.HasPrefix(codeStr, "SPARSE_"):
		return CategoryCache
	case strings.HasPrefix(codeStr, "RESOURCE_"), strings.HasPrefix(codeStr, "WORKER_"):
		return CategoryResource
	case strings.HasPrefix(codeStr, "ALREADY_"), strings.HasPrefix(codeStr, "NOT_INITIALIZED"),
		strings.HasPrefix(codeStr, "INVALID_STATE"), strings.HasPrefix(codeStr, "COMPONENT_"):
		return CategoryState
	case strings.HasPrefix(codeStr, "OPERATION_"), strings.HasPrefix(codeStr, "RETRY_"):
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

func isRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeConnectionTimeout, ErrCodeConnectionFailed, ErrCodeNetworkError,
		ErrCodeOperationTimeout, ErrCodeResourceExhausted, ErrCodeWorkerBusy, ErrCodeInternalError:
		return true
	default:
		return false
	}
}
