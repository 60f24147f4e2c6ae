package security

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
)

const (
	// stateNonceBytes is the entropy of a CSRF state nonce (128 bits)
	stateNonceBytes = 16

	// sessionIDBytes is the entropy of a session identifier (192 bits)
	sessionIDBytes = 24
)

// stateNoncePattern matches a hex-encoded 128-bit state nonce.
var stateNoncePattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// sessionIDPattern matches a base64url-encoded 192-bit session identifier.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{32}$`)

// GenerateStateNonce generates a CSRF state nonce: 128 bits from crypto/rand,
// hex-encoded to 32 characters.
//
// The function panics if the system's random number generator fails, which
// indicates a critical system-level security failure.
func GenerateStateNonce() string {
	return hex.EncodeToString(mustRandom(stateNonceBytes))
}

// GenerateSessionID generates an opaque session identifier: 192 bits from
// crypto/rand, base64url-encoded to 32 characters without padding.
func GenerateSessionID() string {
	return base64.RawURLEncoding.EncodeToString(mustRandom(sessionIDBytes))
}

// ValidStateNonce reports whether s has the shape of a broker-issued state
// nonce. Rejecting malformed nonces up front keeps junk out of the store
// lookup path and out of logs.
func ValidStateNonce(s string) bool {
	return stateNoncePattern.MatchString(s)
}

// ValidSessionID reports whether s has the shape of a broker-issued session
// identifier.
func ValidSessionID(s string) bool {
	return sessionIDPattern.MatchString(s)
}

func mustRandom(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// CRITICAL: System RNG failure - cannot generate secure tokens
		panic(fmt.Sprintf("crypto/rand.Read failed: %v", err))
	}
	return b
}
