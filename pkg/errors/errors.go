package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime/debug"
)

// Error codes surfaced by the context engine
const (
	CodeNotFound      = "NOT_FOUND"
	CodeInvalidParent = "INVALID_PARENT"
	CodeInvalidConfig = "INVALID_CONFIG"
	CodeIntegrity     = "INTEGRITY_ERROR"
	CodeUpstream      = "UPSTREAM_ERROR"
	CodeBadRequest    = "BAD_REQUEST"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeRateLimited   = "RATE_LIMIT_EXCEEDED"
	CodeInternal      = "INTERNAL_ERROR"
)

// Sentinels for errors.Is; matching is done on Code only.
var (
	ErrNotFound      = &AppError{Code: CodeNotFound}
	ErrInvalidParent = &AppError{Code: CodeInvalidParent}
	ErrInvalidConfig = &AppError{Code: CodeInvalidConfig}
	ErrIntegrity     = &AppError{Code: CodeIntegrity}
	ErrUpstream      = &AppError{Code: CodeUpstream}
)

// AppError represents an application error with HTTP status code and error code
type AppError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	Stack      string `json:"-"`
	// Err is the underlying cause, set for upstream failures
	Err error `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an AppError with the same code
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// NewError creates a new application error
func NewError(statusCode int, code string, message string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		Stack:      string(debug.Stack()),
	}
}

// NotFound reports a message, branch or conversation that is absent or not owned by the caller
func NotFound(format string, args ...any) *AppError {
	return NewError(http.StatusNotFound, CodeNotFound, fmt.Sprintf(format, args...))
}

// InvalidParent reports a regenerate or reply target outside the conversation
func InvalidParent(format string, args ...any) *AppError {
	return NewError(http.StatusBadRequest, CodeInvalidParent, fmt.Sprintf(format, args...))
}

// InvalidConfig reports unusable parameters such as chunk overlap >= chunk size
func InvalidConfig(format string, args ...any) *AppError {
	return NewError(http.StatusBadRequest, CodeInvalidConfig, fmt.Sprintf(format, args...))
}

// Integrity reports a cycle or dangling reference found during traversal
func Integrity(format string, args ...any) *AppError {
	return NewError(http.StatusInternalServerError, CodeIntegrity, fmt.Sprintf(format, args...))
}

// Upstream wraps a failure of the token estimator, model service, embedding
// service or vector index.
func Upstream(service string, err error) *AppError {
	appErr := NewError(http.StatusBadGateway, CodeUpstream, service+" request failed")
	appErr.Err = err
	appErr.Details = map[string]string{"service": service}
	return appErr
}

// Is checks if the target error is of type AppError
func Is(err error, target *AppError) bool {
	return stderrors.Is(err, target)
}

// FromError converts any error into an AppError, defaulting to 500
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		if appErr.StatusCode == 0 {
			appErr.StatusCode = http.StatusInternalServerError
		}
		return appErr
	}

	return &AppError{
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternal,
		Message:    err.Error(),
	}
}
