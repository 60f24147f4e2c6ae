package security

import (
	"net/http"
	"strings"
)

// SetSecurityHeaders sets defensive headers on HTTP responses.
// These headers protect against clickjacking, MIME sniffing, and caching of
// token material by intermediaries.
func SetSecurityHeaders(w http.ResponseWriter, baseURL string) {
	// Prevent clickjacking attacks
	w.Header().Set("X-Frame-Options", "DENY")

	// Prevent MIME type sniffing
	w.Header().Set("X-Content-Type-Options", "nosniff")

	// Restrict resource loading; the broker serves no HTML of its own
	w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

	// Don't leak authorization callback URLs via referrer
	w.Header().Set("Referrer-Policy", "no-referrer")

	// Enforce HTTPS when the broker is served over it
	if strings.HasPrefix(baseURL, "https://") {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	// Responses carry session handles and access tokens; never cache them
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
}
