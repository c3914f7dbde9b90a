// Package apierror provides the JSON error shape returned by every API route.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a structured API error. StatusCode is never serialized.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Details    any    `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

// WithDetails returns a copy of the error with additional details.
func (e *APIError) WithDetails(details any) *APIError {
	return &APIError{Code: e.Code, Message: e.Message, StatusCode: e.StatusCode, Details: details}
}

// WithMessage returns a copy of the error with a custom message.
func (e *APIError) WithMessage(message string) *APIError {
	return &APIError{Code: e.Code, Message: message, StatusCode: e.StatusCode, Details: e.Details}
}

var (
	ErrBadRequest = &APIError{
		Code:       "bad_request",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}
	ErrUnauthorized = &APIError{
		Code:       "unauthorized",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}
	ErrForbidden = &APIError{
		Code:       "forbidden",
		Message:    "You don't have permission to access this resource",
		StatusCode: http.StatusForbidden,
	}
	ErrNotFound = &APIError{
		Code:       "not_found",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}
	ErrConflict = &APIError{
		Code:       "conflict",
		Message:    "Resource already exists",
		StatusCode: http.StatusConflict,
	}
	ErrRateLimited = &APIError{
		Code:       "rate_limited",
		Message:    "Too many requests. Please try again later.",
		StatusCode: http.StatusTooManyRequests,
	}
	ErrInternal = &APIError{
		Code:       "internal_error",
		Message:    "An internal error occurred",
		StatusCode: http.StatusInternalServerError,
	}
	ErrUpstream = &APIError{
		Code:       "upstream_error",
		Message:    "Upstream service failed",
		StatusCode: http.StatusBadGateway,
	}
)

// AccessDenied is returned when a role is not allowed into the application.
// The offending role is always named in the message and details.
func AccessDenied(role string) *APIError {
	shown := role
	if shown == "" {
		shown = "(none)"
	}
	return &APIError{
		Code:       "access_denied",
		Message:    fmt.Sprintf("role %q is not permitted to use this application", shown),
		StatusCode: http.StatusForbidden,
		Details:    map[string]string{"role": role},
	}
}

// StateMismatch is returned when the OAuth callback state does not match the stored one.
func StateMismatch(retryURL string) *APIError {
	return &APIError{
		Code:       "state_mismatch",
		Message:    "The login response could not be verified. Please sign in again.",
		StatusCode: http.StatusBadRequest,
		Details:    map[string]string{"retry_url": retryURL},
	}
}

// AuthenticationFailed carries the identity provider's error to the error view.
func AuthenticationFailed(reason, retryURL string) *APIError {
	return &APIError{
		Code:       "authentication_failed",
		Message:    reason,
		StatusCode: http.StatusUnauthorized,
		Details:    map[string]string{"retry_url": retryURL},
	}
}

// NewValidationError creates a 400 for a single field.
func NewValidationError(field, message string) *APIError {
	return &APIError{
		Code:       "validation_error",
		Message:    fmt.Sprintf("Validation failed: %s", message),
		StatusCode: http.StatusBadRequest,
		Details:    map[string]string{"field": field, "error": message},
	}
}

// NewNotFoundError creates a not found error for a resource type.
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:       "not_found",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

// NewConflictError creates a conflict error with a custom message.
func NewConflictError(message string) *APIError {
	return &APIError{Code: "conflict", Message: message, StatusCode: http.StatusConflict}
}

// FromUpstream keeps the upstream status and message when the data API fails.
func FromUpstream(status int, message string) *APIError {
	if status < 400 || status > 599 {
		status = http.StatusBadGateway
	}
	if message == "" {
		message = ErrUpstream.Message
	}
	return &APIError{Code: "upstream_error", Message: message, StatusCode: status}
}

// As converts err to an APIError, falling back to ErrInternal.
func As(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return ErrInternal
}
