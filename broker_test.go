package broker

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/focuswriter/oauth-broker/providers"
	"github.com/focuswriter/oauth-broker/storage/memory"
)

// fakeProvider is a scriptable provider for tests. Counters track upstream
// calls so tests can assert the cache rule.
type fakeProvider struct {
	name string

	exchangeToken *oauth2.Token
	exchangeErr   error
	exchangeCalls int

	refreshToken  *oauth2.Token
	refreshErr    error
	refreshCalls  int

	userInfo    *providers.UserInfo
	userInfoErr error

	revokeErr   error
	revokeCalls int

	redirectURL string
	httpClient  *http.Client
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{
		name: name,
		exchangeToken: &oauth2.Token{
			AccessToken:  "access-initial",
			RefreshToken: "refresh-initial",
			TokenType:    "Bearer",
		},
		userInfo: &providers.UserInfo{
			ID:    "user-1",
			Email: "user@example.com",
			Name:  "Test User",
		},
	}
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) AuthorizationURL(state string) string {
	return "https://provider.example.com/authorize?state=" + state
}

func (f *fakeProvider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	f.exchangeCalls++
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return f.exchangeToken, nil
}

func (f *fakeProvider) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	f.refreshCalls++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshToken, nil
}

func (f *fakeProvider) UserInfo(ctx context.Context, accessToken string) (*providers.UserInfo, error) {
	if f.userInfoErr != nil {
		return nil, f.userInfoErr
	}
	return f.userInfo, nil
}

func (f *fakeProvider) RevokeToken(ctx context.Context, token string) error {
	f.revokeCalls++
	return f.revokeErr
}

func (f *fakeProvider) SetRedirectURL(redirectURL string) {
	f.redirectURL = redirectURL
}

func (f *fakeProvider) SetHTTPClient(client *http.Client) {
	f.httpClient = client
}

func setupTestBroker(t *testing.T) (*Broker, *fakeProvider, *memory.Store) {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)

	provider := newFakeProvider("google")
	cfg := &Config{
		BaseURL:        "https://broker.example.com",
		AppOrigins:     []string{"https://app.example.com"},
		AllowedOrigins: []string{"https://app.example.com"},
		Logger:         slog.New(slog.DiscardHandler),
	}

	b, err := New(cfg, store, provider)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b, provider, store
}

func TestNew(t *testing.T) {
	b, _, _ := setupTestBroker(t)

	if b.cfg.DefaultProvider != "google" {
		t.Errorf("DefaultProvider = %q, want %q", b.cfg.DefaultProvider, "google")
	}
	if b.cfg.StateTTL != DefaultStateTTL {
		t.Errorf("StateTTL = %v, want %v", b.cfg.StateTTL, DefaultStateTTL)
	}
	if b.cfg.SessionTTL != DefaultSessionTTL {
		t.Errorf("SessionTTL = %v, want %v", b.cfg.SessionTTL, DefaultSessionTTL)
	}
}

func TestNew_Validation(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	cfg := &Config{AppOrigins: []string{"https://app.example.com"}}

	if _, err := New(cfg, nil, newFakeProvider("google")); err == nil {
		t.Error("New() with nil store should fail")
	}
	if _, err := New(cfg, store); err == nil {
		t.Error("New() without providers should fail")
	}
	if _, err := New(&Config{}, store, newFakeProvider("google")); err == nil {
		t.Error("New() without app origins should fail")
	}
	if _, err := New(cfg, store, newFakeProvider("google"), newFakeProvider("google")); err == nil {
		t.Error("New() with duplicate providers should fail")
	}

	badDefault := &Config{
		AppOrigins:      []string{"https://app.example.com"},
		DefaultProvider: "github",
	}
	if _, err := New(badDefault, store, newFakeProvider("google")); err == nil {
		t.Error("New() with unregistered default provider should fail")
	}
}

func TestNew_ComputesCallbackURLs(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	provider := newFakeProvider("google")
	cfg := &Config{
		BaseURL:        "https://broker.example.com/",
		AppOrigins:     []string{"https://app.example.com"},
		AllowedOrigins: []string{"https://app.example.com"},
		Logger:         slog.New(slog.DiscardHandler),
	}
	b, err := New(cfg, store, provider)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer b.Close()

	want := "https://broker.example.com/auth/google/callback"
	if provider.redirectURL != want {
		t.Errorf("redirectURL = %q, want %q", provider.redirectURL, want)
	}
}

func TestNew_CallbackBaseOverridesBaseURL(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	provider := newFakeProvider("google")
	cfg := &Config{
		BaseURL:        "https://internal.example.com",
		CallbackBase:   "https://public.example.com",
		AppOrigins:     []string{"https://app.example.com"},
		AllowedOrigins: []string{"https://app.example.com"},
		Logger:         slog.New(slog.DiscardHandler),
	}
	b, err := New(cfg, store, provider)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer b.Close()

	want := "https://public.example.com/auth/google/callback"
	if provider.redirectURL != want {
		t.Errorf("redirectURL = %q, want %q", provider.redirectURL, want)
	}
}

func TestBroker_Providers(t *testing.T) {
	b, _, _ := setupTestBroker(t)

	names := b.Providers()
	if len(names) != 1 || names[0] != "google" {
		t.Errorf("Providers() = %v, want [google]", names)
	}

	if _, ok := b.Provider("google"); !ok {
		t.Error("Provider(google) not found")
	}
	if _, ok := b.Provider("github"); ok {
		t.Error("Provider(github) should not exist")
	}
}

// A configured HTTP client reaches every provider; without one the provider
// keeps its own.
func TestNew_PushesHTTPClient(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	custom := &http.Client{Timeout: 3 * time.Second}
	provider := newFakeProvider("google")
	cfg := &Config{
		BaseURL:        "https://broker.example.com",
		AppOrigins:     []string{"https://app.example.com"},
		AllowedOrigins: []string{"https://app.example.com"},
		HTTPClient:     custom,
		Logger:         slog.New(slog.DiscardHandler),
	}
	b, err := New(cfg, store, provider)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer b.Close()

	if provider.httpClient != custom {
		t.Error("configured HTTP client was not pushed into the provider")
	}

	_, untouched, _ := setupTestBroker(t)
	if untouched.httpClient != nil {
		t.Error("provider client should stay untouched without a configured client")
	}
}

func TestBroker_AllowedAppOrigin(t *testing.T) {
	b, _, _ := setupTestBroker(t)

	tests := []struct {
		target string
		want   bool
	}{
		{"https://app.example.com", true},
		{"https://app.example.com/oauth/done", true},
		{"https://app.example.com?tab=auth", true},
		{"https://app.example.com#done", true},
		{"https://app.example.com.evil.example.com/", false},
		{"https://evil.example.com", false},
		{"http://app.example.com", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := b.allowedAppOrigin(tt.target); got != tt.want {
			t.Errorf("allowedAppOrigin(%q) = %v, want %v", tt.target, got, tt.want)
		}
	}
}

var errUpstreamDown = errors.New("upstream down")
