// Package apperr defines the typed error taxonomy used across the gateway.
//
// Every error that should produce a specific HTTP status carries that status
// as a field on the error value itself, instead of the handler guessing from
// an error string. Handlers at the edge of the process map these typed
// errors to responses; everything upstream of the edge just returns `error`
// and lets errors.As pull out the parts it needs.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Code is a stable, machine-readable error identifier independent of the
// human-readable Message, so clients can switch on it without string
// matching.
type Code string

const (
	CodeValidation           Code = "validation_error"
	CodeAuthentication       Code = "authentication_error"
	CodeForbidden            Code = "forbidden"
	CodeNotFound             Code = "not_found"
	CodeConflict             Code = "conflict"
	CodeRateLimit            Code = "rate_limit_exceeded"
	CodeCircuitOpen          Code = "circuit_open"
	CodeTimeout              Code = "timeout"
	CodeProvider             Code = "provider_error"
	CodeProviderHTTP         Code = "provider_http_error"
	CodeProviderRateLimit    Code = "provider_rate_limit"
	CodeProviderAuth         Code = "provider_authentication_error"
	CodeProviderSSE          Code = "provider_sse_error"
	CodeStreamRead           Code = "stream_read_error"
	CodeInternal             Code = "internal_error"
	CodeProviderNotConfigured Code = "provider_not_configured"
	CodeRequestAborted       Code = "request_aborted"
)

// Detail describes one field-level validation failure.
type Detail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the single typed-error struct used throughout the gateway. Every
// constructor below (ValidationError, AuthenticationError, ...) just fills
// in different defaults.
type Error struct {
	Name         string   `json:"-"`
	Code         Code     `json:"code"`
	StatusCode   int      `json:"status"`
	Message      string   `json:"message"`
	Details      []Detail `json:"details,omitempty"`
	ProviderName string   `json:"-"`
	Cause        error    `json:"-"`
}

func (e *Error) Error() string {
	if e.ProviderName != "" {
		return fmt.Sprintf("%s (%s): %s", e.Name, e.ProviderName, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(name string, code Code, status int, message string) *Error {
	return &Error{Name: name, Code: code, StatusCode: status, Message: message}
}

func ValidationError(message string, details ...Detail) *Error {
	e := newErr("ValidationError", CodeValidation, http.StatusBadRequest, message)
	e.Details = details
	return e
}

func AuthenticationError(message string) *Error {
	return newErr("AuthenticationError", CodeAuthentication, http.StatusUnauthorized, message)
}

func ForbiddenError(message string) *Error {
	return newErr("ForbiddenError", CodeForbidden, http.StatusForbidden, message)
}

func NotFoundError(message string) *Error {
	return newErr("NotFoundError", CodeNotFound, http.StatusNotFound, message)
}

func ConflictError(message string) *Error {
	return newErr("ConflictError", CodeConflict, http.StatusConflict, message)
}

func RateLimitError(message string) *Error {
	return newErr("RateLimitError", CodeRateLimit, http.StatusTooManyRequests, message)
}

func CircuitOpenError(message string) *Error {
	return newErr("CircuitOpenError", CodeCircuitOpen, http.StatusServiceUnavailable, message)
}

func TimeoutError(message string) *Error {
	return newErr("TimeoutError", CodeTimeout, http.StatusGatewayTimeout, message)
}

func ProviderError(providerName, message string, cause error) *Error {
	e := newErr("ProviderError", CodeProvider, http.StatusBadGateway, message)
	e.ProviderName = providerName
	e.Cause = cause
	return e
}

// ProviderHTTPError passes an upstream HTTP status straight through.
func ProviderHTTPError(providerName string, upstreamStatus int, message string) *Error {
	e := newErr("ProviderHttpError", CodeProviderHTTP, upstreamStatus, message)
	e.ProviderName = providerName
	return e
}

func ProviderRateLimitError(providerName, message string) *Error {
	e := newErr("ProviderRateLimitError", CodeProviderRateLimit, http.StatusTooManyRequests, message)
	e.ProviderName = providerName
	return e
}

func ProviderAuthenticationError(providerName, message string) *Error {
	e := newErr("ProviderAuthenticationError", CodeProviderAuth, http.StatusUnauthorized, message)
	e.ProviderName = providerName
	return e
}

// ProviderSSEError is raised when an upstream SSE stream itself emits a
// typed `event: error` frame. It is always surfaced inside a downstream SSE
// error event, never as a bare HTTP status, since by the time it occurs the
// response headers have already been sent.
func ProviderSSEError(providerName, message string) *Error {
	e := newErr("ProviderSseError", CodeProviderSSE, http.StatusBadGateway, message)
	e.ProviderName = providerName
	return e
}

// StreamReadError wraps a failure reading the upstream stream after the
// downstream response headers were already flushed.
func StreamReadError(message string, cause error) *Error {
	e := newErr("StreamReadError", CodeStreamRead, http.StatusInternalServerError, message)
	e.Cause = cause
	return e
}

func InternalError(message string, cause error) *Error {
	e := newErr("InternalError", CodeInternal, http.StatusInternalServerError, message)
	e.Cause = cause
	return e
}

func ProviderNotConfiguredError(providerName string) *Error {
	e := newErr("ProviderNotConfiguredError", CodeProviderNotConfigured, http.StatusBadRequest,
		fmt.Sprintf("provider %q is not configured or not available", providerName))
	e.ProviderName = providerName
	return e
}

// RequestAbortedError signals a client-triggered cancellation; handlers map
// this to HTTP 499 (a convention borrowed from nginx, not in the IANA
// registry, but well understood for "client closed request").
func RequestAbortedError() *Error {
	return newErr("RequestAbortedError", CodeRequestAborted, 499, "request aborted")
}

// As is a small helper so callers can pull an *Error out of a wrapped chain
// without importing errors.As + a local var declaration at every site.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// StatusCode returns the HTTP status for any error, defaulting unmapped
// errors to 500.
func StatusCode(err error) int {
	if e, ok := As(err); ok {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// ClassifyUpstreamError pattern-matches raw upstream error strings into typed
// errors per the mapper rules: authentication/api-key phrases, rate-limit
// phrases, and not-found phrases take priority over the upstream's own HTTP
// status, which is used as the fallback signal.
func ClassifyUpstreamError(providerName, rawMessage string, upstreamStatus int) *Error {
	msg := rawMessage
	switch {
	case containsAny(msg, "authentication", "api key", "api_key"):
		return ProviderAuthenticationError(providerName, rawMessage)
	case containsAny(msg, "rate limit", "quota exceeded"):
		return ProviderRateLimitError(providerName, rawMessage)
	case containsAny(msg, "model not found", "deployment does not exist"):
		return NotFoundError(rawMessage)
	case upstreamStatus > 0:
		return ProviderHTTPError(providerName, upstreamStatus, rawMessage)
	default:
		return ProviderError(providerName, rawMessage, nil)
	}
}

func containsAny(haystack string, needles ...string) bool {
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
