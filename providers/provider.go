// Package providers defines the interface for OAuth identity providers and
// holds provider-specific logic for Google and GitHub.
package providers

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// DefaultHTTPTimeout bounds provider HTTP calls when no custom client is
// configured. Upstream token calls must never hang a request slot
// indefinitely.
const DefaultHTTPTimeout = 10 * time.Second

// Provider defines the interface for OAuth identity providers.
// Implementations wrap golang.org/x/oauth2 and return its Token type
// directly; the broker owns persistence and freshness decisions.
type Provider interface {
	// Name returns the provider name (e.g., "google", "github")
	Name() string

	// AuthorizationURL generates the URL to redirect users for
	// authentication, with the given CSRF state parameter embedded.
	AuthorizationURL(state string) string

	// ExchangeCode exchanges an authorization code for tokens
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)

	// RefreshToken mints a fresh access token from a refresh token
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)

	// UserInfo fetches profile information for the holder of accessToken
	UserInfo(ctx context.Context, accessToken string) (*UserInfo, error)

	// RevokeToken revokes a token at the provider
	RevokeToken(ctx context.Context, token string) error
}

// UserInfo represents user information from a provider
type UserInfo struct {
	// ID is the unique user identifier from the provider
	ID string `json:"id,omitempty"`

	// Email is the user's email address
	Email string `json:"email,omitempty"`

	// Name is the user's display name
	Name string `json:"name,omitempty"`

	// Picture is the URL of the user's profile picture
	Picture string `json:"picture,omitempty"`
}
