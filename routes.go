package broker

import (
	"net/http"
	"strings"
	"time"

	"github.com/focuswriter/oauth-broker/security"
)

// route maps one (method, path) pair onto a handler.
type route struct {
	method  string
	path    string
	handler http.HandlerFunc
}

// buildRoutes returns the fixed route table. Per-provider aliases
// (/auth/{provider}/start and /auth/{provider}/callback) are matched
// dynamically in dispatch because the provider set is configuration.
func (b *Broker) buildRoutes() []route {
	return []route{
		{http.MethodGet, "/health", b.ServeHealth},
		{http.MethodGet, "/auth/start", func(w http.ResponseWriter, r *http.Request) {
			b.ServeAuthStart(w, r, r.URL.Query().Get("provider"))
		}},
		{http.MethodGet, "/auth/callback", func(w http.ResponseWriter, r *http.Request) {
			b.ServeAuthCallback(w, r, "")
		}},
		{http.MethodPost, "/auth/token", b.ServeToken},
		{http.MethodGet, "/session", b.ServeSession},
		{http.MethodDelete, "/session", b.ServeSession},
	}
}

// statusRecorder captures the response status for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

func (sr *statusRecorder) Write(p []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	return sr.ResponseWriter.Write(p)
}

// ServeHTTP dispatches broker requests. Every request runs the same
// pipeline: request id, security headers, rate limit, CORS guard, then the
// route handler. Unmatched paths get a JSON 404 so API clients never see an
// HTML error page.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	r = security.EnsureRequestID(w, r)
	security.SetSecurityHeaders(w, b.cfg.BaseURL)

	sr := &statusRecorder{ResponseWriter: w}
	endpoint := b.dispatch(sr, r)

	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	b.metrics().RecordHTTPRequest(r.Context(), r.Method, endpoint, sr.status,
		float64(time.Since(start).Milliseconds()))
}

// dispatch routes the request and returns the matched endpoint name for
// metrics.
func (b *Broker) dispatch(w http.ResponseWriter, r *http.Request) string {
	path := strings.TrimRight(r.URL.Path, "/")
	if path == "" {
		path = "/"
	}

	// CORS headers go on before rate limiting so a browser client on an
	// allowed origin can read the 429 body.
	b.applyCORS(w, r)

	if !b.allowRate(w, r) {
		return path
	}

	// Preflight never reaches a handler. The response is 204 with the CORS
	// headers, or 204 with none when the origin is not allowed.
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return path
	}

	var pathMatched bool
	for _, rt := range b.routes {
		if rt.path != path {
			continue
		}
		pathMatched = true
		if rt.method != r.Method {
			continue
		}
		rt.handler(w, r)
		return path
	}
	if pathMatched {
		writeMethodNotAllowed(w)
		return path
	}

	// Per-provider aliases.
	if name, op, ok := splitProviderRoute(path); ok {
		if _, registered := b.providers[name]; registered {
			if r.Method != http.MethodGet {
				writeMethodNotAllowed(w)
				return "/auth/{provider}/" + op
			}
			switch op {
			case "start":
				b.ServeAuthStart(w, r, name)
			case "callback":
				b.ServeAuthCallback(w, r, name)
			}
			return "/auth/{provider}/" + op
		}
	}

	writeJSON(w, http.StatusNotFound, struct {
		Error string `json:"error"`
		Path  string `json:"path"`
	}{Error: ErrorCodeNotFound, Path: path})
	return "not_found"
}

// splitProviderRoute parses /auth/{provider}/{start|callback}.
func splitProviderRoute(path string) (provider, op string, ok bool) {
	rest, found := strings.CutPrefix(path, "/auth/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		return "", "", false
	}
	if parts[1] != "start" && parts[1] != "callback" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// allowRate applies per-IP rate limiting. Returns false after writing the
// 429 response.
func (b *Broker) allowRate(w http.ResponseWriter, r *http.Request) bool {
	if b.limiter == nil {
		return true
	}
	ip := b.clientIP(r)
	if b.limiter.Allow(ip) {
		return true
	}
	b.metrics().RecordRateLimitExceeded(r.Context(), r.URL.Path)
	writeError(w, NewError(ErrorCodeRateLimitExceeded, "too many requests", http.StatusTooManyRequests))
	return false
}

// applyCORS sets CORS response headers when the request origin is on the
// allow-list. Denial is silent: the absence of the headers is what blocks
// the cross-origin read, not a status code.
func (b *Broker) applyCORS(w http.ResponseWriter, r *http.Request) {
	// Responses vary by origin whether or not this one is allowed.
	w.Header().Add("Vary", "Origin")

	origin := r.Header.Get("Origin")
	if origin == "" || !b.originAllowed(origin) {
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+security.RequestIDHeader)
	w.Header().Set("Access-Control-Max-Age", "600")
}

// originAllowed matches the Origin header against the allow-list. Matching
// is exact; "*" allows everything and is logged as unsafe at startup.
func (b *Broker) originAllowed(origin string) bool {
	for _, allowed := range b.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, NewError(ErrorCodeInvalidRequest, "method not allowed", http.StatusMethodNotAllowed))
}
