package broker

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"

	"github.com/focuswriter/oauth-broker/internal/util"
	"github.com/focuswriter/oauth-broker/providers"
)

// Refresh sources recorded on metrics: whether the token endpoint answered
// from the cached session or had to go upstream.
const (
	refreshSourceCache    = "cache"
	refreshSourceUpstream = "upstream"
)

// maxUpstreamBodyLog caps how much of an upstream error body is retained for
// diagnostics.
const maxUpstreamBodyLog = 512

// errNoAccessToken marks a 200 token response whose payload held no access
// token. Some providers answer bad codes this way instead of a 4xx.
var errNoAccessToken = errors.New("token response contained no access token")

// exchangeCode exchanges an authorization code with the provider, wrapping
// failures so upstream status and body survive for operator logs without
// ever reaching the browser.
func (b *Broker) exchangeCode(ctx context.Context, p providers.Provider, code string) (*oauth2.Token, error) {
	tok, err := p.ExchangeCode(ctx, code)
	if err != nil {
		return nil, wrapUpstreamError("exchange", p.Name(), err)
	}
	if tok.AccessToken == "" {
		return nil, &UpstreamError{
			Op:       "exchange",
			Provider: p.Name(),
			Err:      errNoAccessToken,
		}
	}
	return tok, nil
}

// FreshAccessToken returns a session holding a usable access token, serving
// from the cached token when enough lifetime remains and refreshing upstream
// otherwise. The returned source is refreshSourceCache or
// refreshSourceUpstream.
//
// Returns ErrSessionNotFound for unknown sessions, ErrNoRefreshToken when a
// refresh is needed but the session holds no refresh token, and an
// UpstreamError when the provider rejects the refresh.
func (b *Broker) FreshAccessToken(ctx context.Context, sessionID string) (*Session, string, error) {
	sess, err := b.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}

	if sess.TokenFresh(time.Now(), b.cfg.ExpiryMargin) {
		return sess, refreshSourceCache, nil
	}

	if sess.RefreshToken == "" {
		return nil, "", ErrNoRefreshToken
	}

	p, ok := b.providers[sess.Provider]
	if !ok {
		return nil, "", ErrConfiguration("session provider is not registered: " + sess.Provider)
	}

	tok, err := p.RefreshToken(ctx, sess.RefreshToken)
	if err != nil {
		return nil, "", wrapUpstreamError("refresh", sess.Provider, err)
	}

	updated, err := b.sessions.Update(ctx, sessionID, tok)
	if err != nil {
		return nil, "", err
	}

	b.auditor.LogTokenRefreshed(sess.Provider, sessionID, tok.RefreshToken != "")
	return updated, refreshSourceUpstream, nil
}

// wrapUpstreamError converts a provider call failure into an UpstreamError,
// lifting status and body out of oauth2.RetrieveError when the failure came
// from the token endpoint itself.
func wrapUpstreamError(op, provider string, err error) *UpstreamError {
	ue := &UpstreamError{
		Op:       op,
		Provider: provider,
		Err:      err,
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil {
			ue.StatusCode = re.Response.StatusCode
		}
		ue.Body = util.SafeTruncate(string(re.Body), maxUpstreamBodyLog)
	}
	return ue
}
