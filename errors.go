package broker

import (
	"fmt"
	"net/http"
)

// Error codes returned in JSON bodies on the API endpoints.
const (
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeMissingSessionID   = "missing_session_id"
	ErrorCodeInvalidSession     = "invalid_session"
	ErrorCodeNoRefreshToken     = "no_refresh_token"
	ErrorCodeUpstreamError      = "upstream_error"
	ErrorCodeStorageError       = "storage_error"
	ErrorCodeConfigurationError = "configuration_error"
	ErrorCodeRateLimitExceeded  = "rate_limit_exceeded"
	ErrorCodeNotFound           = "not_found"
)

// Failure reasons carried back to the application on flow-error redirects.
// These cross the trust boundary, so they stay short and machine-readable;
// diagnostics never travel with them.
const (
	ReasonMissingCodeOrState  = "missing_code_or_state"
	ReasonInvalidState        = "invalid_state"
	ReasonMissingCredentials  = "missing_credentials"
	ReasonTokenExchangeFailed = "token_exchange_failed"
	ReasonNoAccessToken       = "no_access_token"
	ReasonAccessDenied        = "access_denied"
)

// Error represents a broker error that maps onto an HTTP response.
type Error struct {
	Code        string // Machine-readable error code (e.g., "invalid_session")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewError creates a new broker error
func NewError(code, description string, status int) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common errors as reusable constructors
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *Error {
		return NewError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidSession indicates the session handle is unknown or expired
	ErrInvalidSession = func(desc string) *Error {
		return NewError(ErrorCodeInvalidSession, desc, http.StatusUnauthorized)
	}

	// ErrConfiguration indicates required credentials or settings are missing
	ErrConfiguration = func(desc string) *Error {
		return NewError(ErrorCodeConfigurationError, desc, http.StatusInternalServerError)
	}

	// ErrStorage indicates the durable store failed
	ErrStorage = func(desc string) *Error {
		return NewError(ErrorCodeStorageError, desc, http.StatusInternalServerError)
	}
)

// ErrNoRefreshToken indicates a refresh was required but the session holds no
// refresh token; the client must restart the flow.
var ErrNoRefreshToken = NewError(ErrorCodeNoRefreshToken,
	"session has no refresh token; re-authorization required", http.StatusUnauthorized)

// ErrSessionNotFound indicates the session does not exist or has expired.
var ErrSessionNotFound = NewError(ErrorCodeNotFound, "session not found", http.StatusNotFound)

// ErrStateInvalid indicates a CSRF state nonce that does not exist, has
// expired, or was already consumed. The three cases are deliberately
// indistinguishable.
var ErrStateInvalid = NewError(ErrorCodeInvalidRequest, "invalid or expired state", http.StatusBadRequest)

// UpstreamError represents a non-success response from the provider's token
// endpoint. Status and Body are for operator diagnostics only and must never
// be forwarded on the browser redirect path.
type UpstreamError struct {
	// Op is the operation that failed: "exchange" or "refresh"
	Op string

	// Provider is the provider name
	Provider string

	// StatusCode is the upstream HTTP status, or 0 if the call never
	// produced a response (network error, timeout)
	StatusCode int

	// Body is a truncated copy of the upstream response body
	Body string

	// Err is the underlying error
	Err error
}

// Error implements the error interface
func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s failed for %s: status %d", e.Op, e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("upstream %s failed for %s: %v", e.Op, e.Provider, e.Err)
}

// Unwrap returns the underlying error
func (e *UpstreamError) Unwrap() error {
	return e.Err
}
