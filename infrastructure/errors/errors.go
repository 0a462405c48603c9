// Package errors provides the Coordinator's unified error taxonomy.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is a stable, machine-readable error identifier.
type ErrorCode string

const (
	// Envelope / transport (1xxx)
	ErrCodeEnvelopeMalformed ErrorCode = "ENV_1001"
	ErrCodeEnvelopeInvalid   ErrorCode = "ENV_1002"
	ErrCodeTransportError    ErrorCode = "ENV_1003"

	// Registry (2xxx)
	ErrCodeNameConflict     ErrorCode = "REG_2001"
	ErrCodeNotFound         ErrorCode = "REG_2002"
	ErrCodeInvalidManifest  ErrorCode = "REG_2003"
	ErrCodeInvalidURL       ErrorCode = "REG_2004"
	ErrCodeNoActiveServices ErrorCode = "REG_2005"

	// Routing / AI (3xxx)
	ErrCodeAIUnavailable ErrorCode = "ROUTE_3001"

	// Dispatch (4xxx)
	ErrCodeBackendTimeout ErrorCode = "DISPATCH_4001"
	ErrCodeBackendError   ErrorCode = "DISPATCH_4002"
	ErrCodeNoGoodResponse ErrorCode = "DISPATCH_4003"

	// Startup / config (5xxx)
	ErrCodeMisconfiguration ErrorCode = "CFG_5001"

	// Generic (9xxx)
	ErrCodeInternal          ErrorCode = "SVC_9001"
	ErrCodeRateLimitExceeded ErrorCode = "SVC_9002"
)

// CoordinatorError is a structured error with a stable code, an HTTP status,
// a human message, and optional structured details.
type CoordinatorError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface.
func (e *CoordinatorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error, if any.
func (e *CoordinatorError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a structured detail key/value pair.
func (e *CoordinatorError) WithDetails(key string, value interface{}) *CoordinatorError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a CoordinatorError with no wrapped cause.
func New(code ErrorCode, message string, httpStatus int) *CoordinatorError {
	return &CoordinatorError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap creates a CoordinatorError around an existing error.
func Wrap(code ErrorCode, message string, httpStatus int, err error) *CoordinatorError {
	return &CoordinatorError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Envelope errors

func EnvelopeMalformed(err error) *CoordinatorError {
	return Wrap(ErrCodeEnvelopeMalformed, "envelope is not valid JSON", http.StatusBadRequest, err)
}

func EnvelopeInvalid(reason string) *CoordinatorError {
	return New(ErrCodeEnvelopeInvalid, "envelope failed validation", http.StatusBadRequest).
		WithDetails("reason", reason)
}

func TransportError(operation string, err error) *CoordinatorError {
	return Wrap(ErrCodeTransportError, "transport operation failed", http.StatusBadGateway, err).
		WithDetails("operation", operation)
}

// Registry errors

func NameConflict(name string) *CoordinatorError {
	return New(ErrCodeNameConflict, "service name already registered", http.StatusConflict).
		WithDetails("name", name)
}

func NotFound(resource, id string) *CoordinatorError {
	return New(ErrCodeNotFound, "resource not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func InvalidManifest(reason string) *CoordinatorError {
	return New(ErrCodeInvalidManifest, "invalid service manifest", http.StatusBadRequest).
		WithDetails("reason", reason)
}

func InvalidURL(endpoint string) *CoordinatorError {
	return New(ErrCodeInvalidURL, "invalid service endpoint URL", http.StatusBadRequest).
		WithDetails("endpoint", endpoint)
}

func NoActiveServices() *CoordinatorError {
	return New(ErrCodeNoActiveServices, "no active services are registered", http.StatusServiceUnavailable)
}

// Routing errors

func AIUnavailable(err error) *CoordinatorError {
	return Wrap(ErrCodeAIUnavailable, "AI ranking provider unavailable", http.StatusBadGateway, err)
}

// Dispatch errors

func BackendTimeout(service string) *CoordinatorError {
	return New(ErrCodeBackendTimeout, "backend service timed out", http.StatusGatewayTimeout).
		WithDetails("service", service)
}

func BackendError(service string, err error) *CoordinatorError {
	return Wrap(ErrCodeBackendError, "backend service returned an error", http.StatusBadGateway, err).
		WithDetails("service", service)
}

func NoGoodResponse(attempts int) *CoordinatorError {
	return New(ErrCodeNoGoodResponse, "no candidate produced an acceptable response", http.StatusBadGateway).
		WithDetails("attempts", attempts)
}

// Startup errors

func Misconfiguration(key, reason string) *CoordinatorError {
	return New(ErrCodeMisconfiguration, "invalid configuration", http.StatusInternalServerError).
		WithDetails("key", key).
		WithDetails("reason", reason)
}

// Generic errors

func Internal(message string, err error) *CoordinatorError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

func RateLimitExceeded(limit int, window string) *CoordinatorError {
	return New(ErrCodeRateLimitExceeded, "rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Helper functions

// Is reports whether err is a *CoordinatorError.
func Is(err error) bool {
	var coordErr *CoordinatorError
	return errors.As(err, &coordErr)
}

// As extracts a *CoordinatorError from an error chain, if present.
func As(err error) *CoordinatorError {
	var coordErr *CoordinatorError
	if errors.As(err, &coordErr) {
		return coordErr
	}
	return nil
}

// HTTPStatus returns the HTTP status code associated with err, defaulting to
// 500 when err is not a *CoordinatorError.
func HTTPStatus(err error) int {
	if coordErr := As(err); coordErr != nil {
		return coordErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
