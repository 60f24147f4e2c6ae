package security

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"regexp"
)

// requestIDContextKey is the context key for storing request IDs
type requestIDContextKey struct{}

// RequestIDHeader is the HTTP header for request IDs
const RequestIDHeader = "X-Request-ID"

// requestIDPattern validates request IDs to prevent header injection attacks.
// Allows: alphanumeric, hyphens, underscores (1-128 chars). This accepts the
// common formats set by upstream proxies while rejecting CRLF payloads.
var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// GenerateRequestID generates a cryptographically secure random request ID:
// 128 bits of entropy encoded as a 22-character base64url string.
//
// The function panics if the system's random number generator fails, which
// indicates a critical system-level security failure.
func GenerateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand.Read failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDContextKey{}).(string); ok {
		return requestID
	}
	return ""
}

// EnsureRequestID returns a request with a request ID in its context, reusing
// a valid inbound X-Request-ID header or generating a fresh one. The chosen
// ID is also set on the response so callers can correlate logs.
func EnsureRequestID(w http.ResponseWriter, r *http.Request) *http.Request {
	requestID := r.Header.Get(RequestIDHeader)
	if !isValidRequestID(requestID) {
		requestID = GenerateRequestID()
	}
	w.Header().Set(RequestIDHeader, requestID)
	return r.WithContext(WithRequestID(r.Context(), requestID))
}

// isValidRequestID validates a request ID to prevent header injection attacks.
func isValidRequestID(requestID string) bool {
	return requestID != "" && requestIDPattern.MatchString(requestID)
}
