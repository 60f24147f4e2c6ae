package github

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := NewProvider(&Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://broker.example.com/auth/github/callback",
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	return p
}

func TestNewProvider_Validation(t *testing.T) {
	if _, err := NewProvider(&Config{ClientSecret: "s"}); err == nil {
		t.Error("NewProvider() without client ID should fail")
	}
	if _, err := NewProvider(&Config{ClientID: "c"}); err == nil {
		t.Error("NewProvider() without client secret should fail")
	}
}

func TestProvider_Name(t *testing.T) {
	p := newTestProvider(t)
	if got := p.Name(); got != "github" {
		t.Errorf("Name() = %q, want %q", got, "github")
	}
}

func TestProvider_AuthorizationURL(t *testing.T) {
	p := newTestProvider(t)

	raw := p.AuthorizationURL("0123456789abcdef0123456789abcdef")
	if !strings.HasPrefix(raw, "https://github.com/login/oauth/authorize") {
		t.Errorf("AuthorizationURL() = %q", raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("AuthorizationURL() is not a URL: %v", err)
	}
	q := u.Query()

	if got := q.Get("state"); got != "0123456789abcdef0123456789abcdef" {
		t.Errorf("state = %q", got)
	}
	if got := q.Get("client_id"); got != "client-id" {
		t.Errorf("client_id = %q", got)
	}

	scope := q.Get("scope")
	for _, want := range []string{"repo", "read:user", "user:email"} {
		if !strings.Contains(scope, want) {
			t.Errorf("scope %q missing %q", scope, want)
		}
	}
}

func TestProvider_RefreshWithoutToken(t *testing.T) {
	p := newTestProvider(t)

	if _, err := p.RefreshToken(context.Background(), ""); !errors.Is(err, ErrRefreshNotSupported) {
		t.Errorf("RefreshToken(\"\") error = %v, want ErrRefreshNotSupported", err)
	}
}

func TestProvider_SetRedirectURL(t *testing.T) {
	p := newTestProvider(t)
	p.SetRedirectURL("https://other.example.com/cb")

	u, _ := url.Parse(p.AuthorizationURL("state"))
	if got := u.Query().Get("redirect_uri"); got != "https://other.example.com/cb" {
		t.Errorf("redirect_uri = %q", got)
	}
}

func TestProvider_SetHTTPClient(t *testing.T) {
	p := newTestProvider(t)

	custom := &http.Client{Timeout: 3 * time.Second}
	p.SetHTTPClient(custom)
	if p.httpClient != custom {
		t.Error("SetHTTPClient did not replace the client")
	}

	// Nil never clobbers the configured client.
	p.SetHTTPClient(nil)
	if p.httpClient != custom {
		t.Error("SetHTTPClient(nil) replaced the client")
	}
}
