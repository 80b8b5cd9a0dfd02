package prospector

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Run-fatal validation errors. These are reported before any scanning starts;
// everything that happens after task submission is recorded as a per-task
// outcome instead of an error return.
var (
	ErrInvalidTarget       = errors.New("invalid target specification")
	ErrResolutionFailed    = errors.New("hostname resolution failed")
	ErrTargetTooLarge      = errors.New("target expansion exceeds safety ceiling")
	ErrInvalidPortSpec     = errors.New("invalid port specification")
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrScanFailed          = errors.New("scan failed")
	ErrReportFailed        = errors.New("report generation failed")
	ErrExternalQueryFailed = errors.New("external vulnerability query failed")
)

// ErrorCode represents specific error codes for better error handling
type ErrorCode int

const (
	// ErrCodeUnknown is used when the error doesn't fit any other category
	ErrCodeUnknown ErrorCode = iota
	// ErrCodeValidation is used for target/port/config validation errors
	ErrCodeValidation
	// ErrCodeResolution is used for hostname resolution failures
	ErrCodeResolution
	// ErrCodeNetworkFailure is used for network connectivity issues
	ErrCodeNetworkFailure
	// ErrCodeTimeout is used when an operation times out
	ErrCodeTimeout
	// ErrCodeExternalAPI is used for errors from external CVE sources
	ErrCodeExternalAPI
	// ErrCodeCancelled is used when a run is cancelled
	ErrCodeCancelled
	// ErrCodeInternal is used for internal engine failures
	ErrCodeInternal
)

// AppError represents an application-specific error with context
type AppError struct {
	// Underlying error
	Err error
	// Error code for programmatic handling
	Code ErrorCode
	// Human-readable message
	Message string
	// Component where the error occurred
	Component string
	// Operation that was being performed
	Operation string
	// Source file and line number for debugging
	Source string
	// Target of the operation (e.g., hostname, IP, CVE ID)
	Target string
	// Additional context as key-value pairs
	Context map[string]string
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap implements the errors.Unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// AddContext adds a key-value pair to the error context
func (e *AppError) AddContext(key, value string) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithSource adds source file and line information to the error
func (e *AppError) WithSource() *AppError {
	_, file, line, ok := runtime.Caller(1)
	if ok {
		// Extract just the filename, not the full path
		parts := strings.Split(file, "/")
		if len(parts) > 0 {
			file = parts[len(parts)-1]
		}
		e.Source = fmt.Sprintf("%s:%d", file, line)
	}
	return e
}

// NewAppError creates a new application error
func NewAppError(err error, code ErrorCode, message, component, operation string) *AppError {
	return &AppError{
		Err:       err,
		Code:      code,
		Message:   message,
		Component: component,
		Operation: operation,
		Context:   make(map[string]string),
	}
}

// IsValidationError checks if an error is a validation error. Validation
// errors abort a run before any task is submitted.
func IsValidationError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeValidation
	}
	return errors.Is(err, ErrInvalidTarget) ||
		errors.Is(err, ErrTargetTooLarge) ||
		errors.Is(err, ErrInvalidPortSpec) ||
		errors.Is(err, ErrInvalidConfig)
}

// IsTimeoutError checks if an error is a timeout error
func IsTimeoutError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeTimeout
	}
	return false
}

// IsNetworkError checks if an error is a network-related error
func IsNetworkError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeNetworkFailure
	}
	return false
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeUnknown
}
