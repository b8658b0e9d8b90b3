// Package apperror provides structured error handling.
// Scheduler phases and the admin API share one taxonomy so logs and responses agree.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Infrastructure errors (5xx)
	CodeInternal         = "INTERNAL_ERROR"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeTimeout          = "TIMEOUT_ERROR"

	// Scheduler taxonomy
	CodeTransient      = "TRANSIENT_ERROR"
	CodeStoreWrite     = "STORE_WRITE_ERROR"
	CodeAllocation     = "ALLOCATION_ERROR"
	CodeMalformedRange = "MALFORMED_RANGE"
	CodeInvalidStatus  = "INVALID_STATUS_TRANSITION"

	// Validation errors (400)
	CodeValidation   = "VALIDATION_ERROR"
	CodeInvalidInput = "INVALID_INPUT"

	// Authorization errors (401, 403)
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409)
	CodeConflict  = "CONFLICT"
	CodeDuplicate = "DUPLICATE_ENTRY"
)

// AppError is the standard error type.
// It implements error interface and provides structured details for API responses and logs.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (range key, phase, field errors)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions for scheduler phases ---

// NewTransient wraps a retryable external failure (lookup timeout, network).
func NewTransient(phase string, err error) *AppError {
	return &AppError{
		Code:       CodeTransient,
		Message:    "transient external failure",
		HTTPStatus: http.StatusBadGateway,
		Details:    map[string]any{"phase": phase},
		Err:        err,
	}
}

// NewStoreWrite reports a failed status transition write.
func NewStoreWrite(key, phase string, err error) *AppError {
	return &AppError{
		Code:       CodeStoreWrite,
		Message:    "failed to persist range status",
		HTTPStatus: http.StatusInternalServerError,
		Details:    map[string]any{"range_key": key, "phase": phase},
		Err:        err,
	}
}

// NewAllocation reports a failed atomic increment.
func NewAllocation(key string, err error) *AppError {
	return &AppError{
		Code:       CodeAllocation,
		Message:    "failed to allocate next suffix",
		HTTPStatus: http.StatusInternalServerError,
		Details:    map[string]any{"range_key": key, "phase": "allocate"},
		Err:        err,
	}
}

// NewMalformedRange reports a range whose stored configuration cannot be used.
func NewMalformedRange(key, reason string) *AppError {
	return &AppError{
		Code:       CodeMalformedRange,
		Message:    reason,
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"range_key": key},
	}
}

// NewStoreUnavailable reports lost connectivity to the range store.
func NewStoreUnavailable(err error) *AppError {
	return &AppError{
		Code:       CodeStoreUnavailable,
		Message:    "range store unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

// NewInvalidTransition reports an operator status edit the counter does not allow.
func NewInvalidTransition(key string, to any, err error) *AppError {
	return &AppError{
		Code:       CodeInvalidStatus,
		Message:    fmt.Sprintf("cannot move range to %v", to),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"range_key": key, "to": to, "reason": err.Error()},
		Err:        err,
	}
}

// --- Factory functions for the admin API ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewUnauthorized creates an authentication error (401)
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewForbidden creates an authorization error (403)
func NewForbidden(message string) *AppError {
	return &AppError{
		Code:       CodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// NewDuplicate creates a duplicate entry error (409)
func NewDuplicate(entity, field, value string) *AppError {
	return &AppError{
		Code:       CodeDuplicate,
		Message:    fmt.Sprintf("%s with this %s already exists", entity, field),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "field": field, "value": value},
	}
}

// --- Helper functions ---

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether any AppError in the chain carries code.
func HasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}
