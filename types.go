package broker

import (
	"time"

	"golang.org/x/oauth2"

	"github.com/focuswriter/oauth-broker/providers"
)

// Session is a persisted session record. It is the only place provider
// tokens live; the browser only ever sees the opaque session id and, via the
// token endpoint, the current access token.
type Session struct {
	// ID is the opaque session identifier used as the store key.
	// Not serialized into the stored value.
	ID string `json:"-"`

	// Provider identifies which upstream provider issued the tokens
	Provider string `json:"provider"`

	// User is the profile fetched at exchange time, if any
	User *providers.UserInfo `json:"user,omitempty"`

	// AccessToken is the short-lived bearer credential for provider APIs
	AccessToken string `json:"access_token"`

	// RefreshToken is the long-lived credential used to mint new access
	// tokens; present only if the provider granted one
	RefreshToken string `json:"refresh_token,omitempty"`

	// TokenType is the token type reported by the provider (usually "Bearer")
	TokenType string `json:"token_type,omitempty"`

	// ExpiresAt is the absolute access token expiry in Unix milliseconds.
	// Zero means the token does not expire (classic GitHub OAuth Apps).
	ExpiresAt int64 `json:"expires_at"`

	// CreatedAt is the session creation time in Unix milliseconds
	CreatedAt int64 `json:"created_at"`
}

// TokenFresh reports whether the cached access token is still usable at the
// given instant. A token is usable while strictly more than margin remains
// before ExpiresAt; the margin absorbs clock skew and in-flight API calls.
func (s *Session) TokenFresh(now time.Time, margin time.Duration) bool {
	if s.AccessToken == "" {
		return false
	}
	if s.ExpiresAt == 0 {
		// Non-expiring token
		return true
	}
	return now.UnixMilli() < s.ExpiresAt-margin.Milliseconds()
}

// ExpiresIn returns the remaining access token lifetime in whole seconds at
// the given instant. Returns 0 when expired and -1 when the token does not
// expire.
func (s *Session) ExpiresIn(now time.Time) int64 {
	if s.ExpiresAt == 0 {
		return -1
	}
	remaining := (s.ExpiresAt - now.UnixMilli()) / 1000
	if remaining < 0 {
		return 0
	}
	return remaining
}

// applyToken merges a provider token response into the session.
// Access token and expiry always follow the response; the refresh token is
// overwritten only when the provider returned a new one, since providers are
// not required to rotate it on refresh.
func (s *Session) applyToken(tok *oauth2.Token) {
	s.AccessToken = tok.AccessToken
	if tok.TokenType != "" {
		s.TokenType = tok.TokenType
	}
	if tok.Expiry.IsZero() {
		s.ExpiresAt = 0
	} else {
		s.ExpiresAt = tok.Expiry.UnixMilli()
	}
	if tok.RefreshToken != "" {
		s.RefreshToken = tok.RefreshToken
	}
}

// RedactedSession is the only projection of a session that crosses the trust
// boundary to the browser. Token values never appear here, only presence
// booleans.
type RedactedSession struct {
	Provider        string              `json:"provider"`
	User            *providers.UserInfo `json:"user,omitempty"`
	CreatedAt       int64               `json:"created_at"`
	HasAccessToken  bool                `json:"has_access_token"`
	HasRefreshToken bool                `json:"has_refresh_token"`
}

// Redacted returns the browser-safe projection of the session
func (s *Session) Redacted() *RedactedSession {
	return &RedactedSession{
		Provider:        s.Provider,
		User:            s.User,
		CreatedAt:       s.CreatedAt,
		HasAccessToken:  s.AccessToken != "",
		HasRefreshToken: s.RefreshToken != "",
	}
}

// stateRecord is the persisted CSRF state for one authorization attempt.
type stateRecord struct {
	// Provider is the provider the flow was started against; the callback
	// uses it to pick the right token endpoint
	Provider string `json:"provider"`

	// ClientState is the application's own state value, echoed back on the
	// final redirect so the client can correlate the callback
	ClientState string `json:"client_state,omitempty"`

	// RedirectTarget is the validated application URL the callback redirects
	// to; empty means the default application origin
	RedirectTarget string `json:"redirect_target,omitempty"`

	// CreatedAt is the issue time in Unix milliseconds
	CreatedAt int64 `json:"created_at"`
}

// tokenResponse is the JSON body returned by the token endpoint.
// ExpiresIn is the remaining lifetime in whole seconds; -1 means the token
// does not expire (classic GitHub OAuth App tokens), 0 means already expired.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	ExpiresIn   int64  `json:"expires_in"`
}

// sessionResponse is the JSON body returned by the session endpoint.
type sessionResponse struct {
	Session   *RedactedSession `json:"session"`
	SessionID string           `json:"session_id"`
}

// errorResponse is the JSON error body shared by all API endpoints.
type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}
