// Package apierr defines the gateway's error taxonomy and its mapping to
// HTTP status codes and stable client-facing error codes.
//
// Every error that crosses the HTTP boundary is one of the types below.
// Client-fixable errors (authentication, validation) are expected behavior
// and are never logged as failures; infrastructure errors (model
// unavailable, configuration) carry full context for operational tracing.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Stable error codes returned to clients. These are part of the API
// contract and must not change between releases.
const (
	CodeAuthentication    = "AUTHENTICATION_ERROR"
	CodeValidation        = "VALIDATION_ERROR"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeModelUnavailable  = "MODEL_UNAVAILABLE"
	CodeConfiguration     = "CONFIGURATION_ERROR"
	CodeInternal          = "INTERNAL_ERROR"
)

// AuthReason classifies why token verification failed.
type AuthReason string

const (
	ReasonMissing          AuthReason = "missing"
	ReasonMalformed        AuthReason = "malformed"
	ReasonExpired          AuthReason = "expired"
	ReasonBadSignature     AuthReason = "bad_signature"
	ReasonIssuerMismatch   AuthReason = "issuer_mismatch"
	ReasonAudienceMismatch AuthReason = "audience_mismatch"
)

// AuthError is returned when bearer-token verification fails. It maps to
// HTTP 401 and is fully recovered at the boundary.
type AuthError struct {
	Reason AuthReason
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// ValidationError carries every field error found in one validation pass so
// clients can fix all problems at once. Maps to HTTP 400.
type ValidationError struct {
	FieldErrors map[string][]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %d invalid fields", len(e.FieldErrors))
}

// Add appends a message to a field's error list.
func (e *ValidationError) Add(field, msg string) {
	if e.FieldErrors == nil {
		e.FieldErrors = make(map[string][]string)
	}
	e.FieldErrors[field] = append(e.FieldErrors[field], msg)
}

// Empty reports whether no field errors have been recorded.
func (e *ValidationError) Empty() bool { return len(e.FieldErrors) == 0 }

// RateLimitError is returned when a caller exceeds its request budget.
// Maps to HTTP 429 with a Retry-After header.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// ModelUnavailableError is a transient infrastructure failure: an artifact
// could not be loaded. The cache retries the load on the next request, not
// within the current one. Maps to HTTP 503.
type ModelUnavailableError struct {
	Key string
	Err error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("model %q unavailable: %v", e.Key, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Err }

// ConfigurationError is fatal at startup. The process must refuse to serve
// rather than run misconfigured.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("configuration error (%s): %v", e.Field, e.Err)
	}
	return fmt.Sprintf("configuration error: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Classify maps an error to its stable code and HTTP status. Unknown errors
// map to an opaque internal error so internals are never leaked verbatim.
func Classify(err error) (code string, status int) {
	var (
		authErr  *AuthError
		valErr   *ValidationError
		rateErr  *RateLimitError
		modelErr *ModelUnavailableError
		confErr  *ConfigurationError
	)

	switch {
	case errors.As(err, &authErr):
		return CodeAuthentication, http.StatusUnauthorized
	case errors.As(err, &valErr):
		return CodeValidation, http.StatusBadRequest
	case errors.As(err, &rateErr):
		return CodeRateLimitExceeded, http.StatusTooManyRequests
	case errors.As(err, &modelErr):
		return CodeModelUnavailable, http.StatusServiceUnavailable
	case errors.As(err, &confErr):
		return CodeConfiguration, http.StatusInternalServerError
	default:
		return CodeInternal, http.StatusInternalServerError
	}
}
