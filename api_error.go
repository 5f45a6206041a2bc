// Package medigate is the edge gateway for the MediHelp record services.
// It authenticates bearer tokens, authorizes by role, rate-limits against a
// shared counter store, serves read paths cache-aside, and relays everything
// else to the owning downstream service.
//
// This file contains the structured API error types used throughout the
// gateway. Every terminal middleware outcome and every synthesized downstream
// failure is expressed as one of these errors so clients always see a
// consistent JSON error body.
package medigate

import (
	"fmt"
	"net/http"
	"time"
)

// APIError represents a structured API error response.
type APIError struct {
	Type       string       `json:"type"`
	Code       string       `json:"code,omitempty"`
	Message    string       `json:"message"`
	Param      string       `json:"param,omitempty"`
	Errors     []FieldError `json:"errors,omitempty"`
	Downstream string       `json:"downstream,omitempty"`
	MaxReqs    int64        `json:"max_requests,omitempty"`
	WindowSecs int64        `json:"window_seconds,omitempty"`
	Status     int          `json:"-"`
}

// FieldError represents a validation error for a specific field.
type FieldError struct {
	Param   string `json:"param"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error *APIError `json:"error"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// Is implements errors.Is for comparing error types.
func (e *APIError) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// With returns a copy of the error with a custom message.
func (e *APIError) With(message string) *APIError {
	if e == nil {
		return nil
	}
	dup := *e
	dup.Message = message
	return &dup
}

// WithParam returns a copy of the error with a custom message and parameter.
func (e *APIError) WithParam(message, param string) *APIError {
	if e == nil {
		return nil
	}
	dup := *e
	dup.Message = message
	dup.Param = param
	return &dup
}

// Predefined sentinel errors.
//
// The auth_error family carries a reason code so a caller can distinguish a
// missing header from an expired or undecodable token without parsing the
// message text.
var (
	ErrBadRequest            = &APIError{Type: "request_error", Code: "bad_request", Message: "Bad request", Status: http.StatusBadRequest}
	ErrUnauthenticated       = &APIError{Type: "auth_error", Code: "unauthenticated", Message: "Missing or invalid Authorization header", Status: http.StatusUnauthorized}
	ErrTokenMalformed        = &APIError{Type: "auth_error", Code: "token_malformed", Message: "Bearer token could not be decoded", Status: http.StatusUnauthorized}
	ErrTokenExpired          = &APIError{Type: "auth_error", Code: "token_expired", Message: "Bearer token has expired", Status: http.StatusUnauthorized}
	ErrIdentityMissing       = &APIError{Type: "auth_error", Code: "identity_missing", Message: "Token carries no username", Status: http.StatusUnauthorized}
	ErrForbidden             = &APIError{Type: "auth_error", Code: "forbidden", Message: "Caller role not permitted for this operation", Status: http.StatusForbidden}
	ErrNotFound              = &APIError{Type: "not_found", Code: "resource_not_found", Message: "Resource not found", Status: http.StatusNotFound}
	ErrPayloadTooLarge       = &APIError{Type: "request_error", Code: "payload_too_large", Message: "Payload too large", Status: http.StatusRequestEntityTooLarge}
	ErrRateLimited           = &APIError{Type: "rate_limit_error", Code: "rate_limit_exceeded", Message: "Rate limit exceeded", Status: http.StatusTooManyRequests}
	ErrDownstreamUnreachable = &APIError{Type: "upstream_error", Code: "downstream_unreachable", Message: "Downstream service unreachable", Status: http.StatusBadGateway}
	ErrInternal              = &APIError{Type: "internal_error", Code: "internal", Message: "Internal server error", Status: http.StatusInternalServerError}
)

// NewValidationError creates a validation error with multiple field errors.
func NewValidationError(errors []FieldError) *APIError {
	return &APIError{
		Type:    "validation_error",
		Code:    "invalid_request",
		Message: "Validation failed",
		Errors:  errors,
		Status:  http.StatusBadRequest,
	}
}

// NewRateLimitError builds a 429 carrying the configured limit and window so
// the response body is self-describing.
func NewRateLimitError(limit int64, window time.Duration) *APIError {
	dup := *ErrRateLimited
	dup.Message = fmt.Sprintf("Rate limit exceeded: %d requests per %s", limit, window)
	dup.MaxReqs = limit
	dup.WindowSecs = int64(window.Seconds())
	return &dup
}

// NewDownstreamError builds a 502 naming the downstream service that could
// not be reached and the underlying transport error.
func NewDownstreamError(downstream string, cause error) *APIError {
	dup := *ErrDownstreamUnreachable
	dup.Message = fmt.Sprintf("%s unreachable: %v", downstream, cause)
	dup.Downstream = downstream
	return &dup
}
