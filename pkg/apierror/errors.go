// Package apierror defines the typed failure taxonomy shared by the request
// pipeline and its clients, and the uniform JSON envelope every failure is
// serialized to.
//
// Middleware stages return these errors instead of writing responses
// themselves; the outermost layer converts them to HTTP once.
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a failure into one of the pipeline's error classes.
type Kind string

const (
	// KindAuthentication covers missing, malformed, expired or forged
	// credentials and suspended accounts. Clients react by re-authenticating.
	KindAuthentication Kind = "AUTHENTICATION_ERROR"
	// KindAuthorization covers a valid principal lacking the required
	// permission for a specific action.
	KindAuthorization Kind = "AUTHORIZATION_ERROR"
	// KindRateLimit covers exhausted request budgets.
	KindRateLimit Kind = "RATE_LIMIT_EXCEEDED"
	// KindValidation covers malformed request bodies or parameters.
	KindValidation Kind = "VALIDATION_ERROR"
)

// Error is a typed pipeline failure. It carries the machine-readable kind,
// the HTTP status it maps to, and optional retry guidance for rate limits.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int

	// RetryAfter is set for rate-limit errors: time until the window resets.
	RetryAfter time.Duration

	// Err is the underlying cause, if any. Never serialized.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Authentication returns a 401 authentication failure.
func Authentication(message string) *Error {
	return &Error{Kind: KindAuthentication, Message: message, StatusCode: http.StatusUnauthorized}
}

// Authenticationf returns a 401 authentication failure wrapping a cause.
func Authenticationf(err error, message string) *Error {
	return &Error{Kind: KindAuthentication, Message: message, StatusCode: http.StatusUnauthorized, Err: err}
}

// Authorization returns a 403 authorization failure.
func Authorization(message string) *Error {
	return &Error{Kind: KindAuthorization, Message: message, StatusCode: http.StatusForbidden}
}

// RateLimited returns a 429 failure with retry guidance.
func RateLimited(message string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimit, Message: message, StatusCode: http.StatusTooManyRequests, RetryAfter: retryAfter}
}

// Validation returns a 400 validation failure.
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message, StatusCode: http.StatusBadRequest}
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind == kind
	}
	return false
}

// AsError extracts an *Error from err, or wraps unknown errors as an
// internal-style validation-free envelope with status 500.
func AsError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &Error{
		Kind:       "INTERNAL_ERROR",
		Message:    "internal server error",
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// envelope is the wire shape for all failures:
// {"error":{"message":..., "code":..., "statusCode":...}}
type envelope struct {
	Error body `json:"error"`
}

type body struct {
	Message    string `json:"message"`
	Code       Kind   `json:"code"`
	StatusCode int    `json:"statusCode"`
}

// Write serializes err to w as the uniform envelope with the mapped status.
// Rate-limit errors also get a Retry-After header in whole seconds.
func Write(w http.ResponseWriter, err error) {
	apiErr := AsError(err)

	w.Header().Set("Content-Type", "application/json")
	if apiErr.Kind == KindRateLimit && apiErr.RetryAfter > 0 {
		secs := int(apiErr.RetryAfter.Round(time.Second).Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", fmt.Sprintf("%d", secs))
	}
	w.WriteHeader(apiErr.StatusCode)
	json.NewEncoder(w).Encode(envelope{Error: body{
		Message:    apiErr.Message,
		Code:       apiErr.Kind,
		StatusCode: apiErr.StatusCode,
	}})
}

// Decode parses a response body produced by Write back into an *Error.
// Used by the client-side transport to classify server failures.
func Decode(statusCode int, data []byte) *Error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Error.Code == "" {
		return &Error{Kind: kindForStatus(statusCode), Message: http.StatusText(statusCode), StatusCode: statusCode}
	}
	return &Error{Kind: env.Error.Code, Message: env.Error.Message, StatusCode: statusCode}
}

func kindForStatus(statusCode int) Kind {
	switch statusCode {
	case http.StatusUnauthorized:
		return KindAuthentication
	case http.StatusForbidden:
		return KindAuthorization
	case http.StatusTooManyRequests:
		return KindRateLimit
	case http.StatusBadRequest:
		return KindValidation
	default:
		return "INTERNAL_ERROR"
	}
}
