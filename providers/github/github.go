// Package github implements the providers.Provider interface for GitHub OAuth.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"

	"github.com/focuswriter/oauth-broker/providers"
)

// Compile-time check that Provider implements the providers.Provider interface.
var _ providers.Provider = (*Provider)(nil)

// providerName is the name returned by Provider.Name().
const providerName = "github"

// ErrRefreshNotSupported is returned when attempting to refresh without a
// refresh token. Classic GitHub OAuth Apps issue non-expiring access tokens
// and never grant one; only GitHub Apps with expiring tokens do.
var ErrRefreshNotSupported = errors.New("github oauth apps do not support token refresh")

// GitHub API endpoints
const (
	userEndpoint = "https://api.github.com/user"
)

// userAgent identifies the broker on GitHub API calls, which reject requests
// without a User-Agent header.
const userAgent = "oauth-broker"

// Provider implements the providers.Provider interface for GitHub OAuth.
type Provider struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// Config holds GitHub OAuth configuration.
type Config struct {
	// ClientID is the GitHub OAuth App client ID (required).
	ClientID string

	// ClientSecret is the GitHub OAuth App client secret (required).
	ClientSecret string

	// RedirectURL is the OAuth callback URL.
	RedirectURL string

	// Scopes are optional custom scopes. Defaults to repo, read:user and
	// user:email, which is what the writer application needs to sync
	// documents to a repository.
	Scopes []string

	// HTTPClient is an optional custom HTTP client for provider calls.
	HTTPClient *http.Client
}

// NewProvider creates a new GitHub OAuth provider.
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"repo", "read:user", "user:email"}
	}
	scopesCopy := make([]string, len(scopes))
	copy(scopesCopy, scopes)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: providers.DefaultHTTPTimeout,
		}
	}

	return &Provider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopesCopy,
			Endpoint:     oauthgithub.Endpoint,
		},
		httpClient: httpClient,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// SetRedirectURL overrides the callback URL. Used when the broker computes
// the callback from its own base URL at startup.
func (p *Provider) SetRedirectURL(redirectURL string) {
	p.config.RedirectURL = redirectURL
}

// SetHTTPClient overrides the HTTP client used for all provider calls. Used
// when the broker carries an operator-supplied client.
func (p *Provider) SetHTTPClient(client *http.Client) {
	if client != nil {
		p.httpClient = client
	}
}

// AuthorizationURL generates the GitHub OAuth authorization URL.
func (p *Provider) AuthorizationURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// ExchangeCode exchanges an authorization code for tokens.
// GitHub's token endpoint answers form posts with JSON when asked; the
// oauth2 package handles the negotiation.
func (p *Provider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	return token, nil
}

// RefreshToken mints a fresh access token from a refresh token.
// Only GitHub Apps with expiring user tokens grant refresh tokens; classic
// OAuth Apps never reach this path because the broker requires a refresh
// token before calling it.
func (p *Provider) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, ErrRefreshNotSupported
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	tokenSource := p.config.TokenSource(ctx, &oauth2.Token{
		RefreshToken: refreshToken,
	})
	newToken, err := tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	return newToken, nil
}

// UserInfo fetches the user's profile from the GitHub API
func (p *Provider) UserInfo(ctx context.Context, accessToken string) (*providers.UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user request failed with status %d", resp.StatusCode)
	}

	var githubUser struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&githubUser); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}

	name := githubUser.Name
	if name == "" {
		name = githubUser.Login
	}

	return &providers.UserInfo{
		ID:      fmt.Sprintf("%d", githubUser.ID),
		Email:   githubUser.Email,
		Name:    name,
		Picture: githubUser.AvatarURL,
	}, nil
}

// RevokeToken revokes an OAuth token via GitHub's application grant API.
// Requires basic auth with the client credentials.
func (p *Provider) RevokeToken(ctx context.Context, token string) error {
	endpoint := fmt.Sprintf("https://api.github.com/applications/%s/grant", p.config.ClientID)

	body, err := json.Marshal(map[string]string{"access_token": token})
	if err != nil {
		return fmt.Errorf("failed to marshal revocation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create revocation request: %w", err)
	}
	req.SetBasicAuth(p.config.ClientID, p.config.ClientSecret)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("token revocation failed with status %d", resp.StatusCode)
	}
	return nil
}
