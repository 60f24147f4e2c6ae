package broker

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/focuswriter/oauth-broker/security"
)

// maxTokenRequestBody bounds the token endpoint request body. The only valid
// payload is a small JSON object.
const maxTokenRequestBody = 4096

// ServeHealth handles the health check endpoint.
func (b *Broker) ServeHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ServeAuthStart begins an authorization flow: it issues a CSRF state nonce,
// persists the flow context under it, and redirects the browser to the
// provider's authorization URL.
//
// The provider comes from the route (per-provider alias) or falls back to
// the configured default. An optional state query parameter is stored and
// echoed back to the application on the final redirect.
func (b *Broker) ServeAuthStart(w http.ResponseWriter, r *http.Request, providerName string) {
	ctx := r.Context()

	if providerName == "" {
		providerName = b.cfg.DefaultProvider
	}
	p, ok := b.providers[providerName]
	if !ok {
		writeError(w, ErrInvalidRequest("unknown provider: "+providerName))
		return
	}

	clientState := r.URL.Query().Get("state")

	// An explicit redirect target must sit under a configured application
	// origin, or the broker becomes an open redirector.
	redirectTarget := r.URL.Query().Get("redirect_uri")
	if redirectTarget != "" && !b.allowedAppOrigin(redirectTarget) {
		writeError(w, ErrInvalidRequest("redirect_uri is not an allowed application origin"))
		return
	}

	nonce, err := b.states.Issue(ctx, providerName, clientState, redirectTarget)
	if err != nil {
		b.logger.Error("Failed to issue state nonce", "provider", providerName, "error", err)
		writeError(w, ErrStorage("failed to start authorization flow"))
		return
	}

	b.auditor.LogFlowStarted(providerName, b.clientIP(r))
	b.metrics().RecordFlowStarted(ctx, providerName)

	http.Redirect(w, r, p.AuthorizationURL(nonce), http.StatusFound)
}

// ServeAuthCallback completes an authorization flow. Every failure on this
// path redirects back to the application with a short machine-readable error
// reason; upstream diagnostics stay in the server logs.
func (b *Broker) ServeAuthCallback(w http.ResponseWriter, r *http.Request, providerName string) {
	ctx := r.Context()
	q := r.URL.Query()

	code := q.Get("code")
	nonce := q.Get("state")

	// Provider-reported denial arrives without a code. Consume the nonce
	// anyway so it cannot be replayed.
	if providerErr := q.Get("error"); providerErr != "" {
		target, clientState := "", ""
		if nonce != "" {
			if rec, err := b.states.Consume(ctx, nonce); err == nil {
				target, clientState = rec.RedirectTarget, rec.ClientState
			}
		}
		b.logger.Info("Provider reported authorization error",
			"provider", providerName, "error", providerErr)
		b.auditor.LogAuthFailure(providerName, b.clientIP(r), providerErr)
		b.redirectWithError(w, r, target, clientState, ReasonAccessDenied, providerName)
		return
	}

	if code == "" || nonce == "" {
		b.auditor.LogAuthFailure(providerName, b.clientIP(r), ReasonMissingCodeOrState)
		b.redirectWithError(w, r, "", "", ReasonMissingCodeOrState, providerName)
		return
	}

	rec, err := b.states.Consume(ctx, nonce)
	if err != nil {
		if !errors.Is(err, ErrStateInvalid) {
			b.logger.Error("Failed to consume state nonce", "error", err)
		}
		b.auditor.LogAuthFailure(providerName, b.clientIP(r), ReasonInvalidState)
		b.metrics().RecordCallbackProcessed(ctx, providerName, false)
		b.redirectWithError(w, r, "", "", ReasonInvalidState, providerName)
		return
	}

	// The nonce binds the callback to the provider the flow started with;
	// a mismatched alias route loses to what the nonce says.
	if rec.Provider != "" {
		providerName = rec.Provider
	}
	p, ok := b.providers[providerName]
	if !ok {
		b.redirectWithError(w, r, rec.RedirectTarget, rec.ClientState, ReasonMissingCredentials, providerName)
		return
	}

	tok, err := b.exchangeCode(ctx, p, code)
	if err != nil {
		reason := ReasonTokenExchangeFailed
		var ue *UpstreamError
		switch {
		case errors.Is(err, errNoAccessToken):
			reason = ReasonNoAccessToken
			b.logger.Error("Code exchange returned no access token", "provider", providerName)
		case errors.As(err, &ue) && ue.StatusCode != 0:
			b.logger.Error("Code exchange rejected upstream",
				"provider", providerName,
				"status", ue.StatusCode,
				"body", ue.Body)
		default:
			b.logger.Error("Code exchange failed", "provider", providerName, "error", err)
		}
		b.auditor.LogAuthFailure(providerName, b.clientIP(r), reason)
		b.metrics().RecordCallbackProcessed(ctx, providerName, false)
		b.redirectWithError(w, r, rec.RedirectTarget, rec.ClientState, reason, providerName)
		return
	}
	b.metrics().RecordCodeExchange(ctx, providerName)

	// Best effort. A session without a profile is still a valid session.
	user, err := p.UserInfo(ctx, tok.AccessToken)
	if err != nil {
		b.logger.Warn("Failed to fetch user profile", "provider", providerName, "error", err)
		user = nil
	}

	sess, err := b.sessions.Create(ctx, providerName, tok, user)
	if err != nil {
		b.logger.Error("Failed to persist session", "provider", providerName, "error", err)
		b.metrics().RecordCallbackProcessed(ctx, providerName, false)
		b.redirectWithError(w, r, rec.RedirectTarget, rec.ClientState, ReasonTokenExchangeFailed, providerName)
		return
	}

	b.auditor.LogSessionCreated(providerName, sess.ID, b.clientIP(r), sess.RefreshToken != "")
	b.metrics().RecordCallbackProcessed(ctx, providerName, true)

	// Only the opaque session id crosses back to the browser. Tokens in
	// redirect URLs end up in history and referrer logs.
	params := url.Values{}
	params.Set("session_id", sess.ID)
	params.Set("provider", providerName)
	if rec.ClientState != "" {
		params.Set("state", rec.ClientState)
	}
	http.Redirect(w, r, b.appRedirectURL(rec.RedirectTarget, params), http.StatusFound)
}

// ServeToken handles POST /auth/token: it resolves the session and returns
// an access token with its remaining lifetime, refreshing upstream when the
// cached token is within the expiry margin.
func (b *Broker) ServeToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		SessionID string `json:"session_id"`
	}
	body := http.MaxBytesReader(w, r.Body, maxTokenRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, ErrInvalidRequest("request body must be a JSON object"))
		return
	}
	if req.SessionID == "" {
		writeError(w, NewError(ErrorCodeMissingSessionID, "session_id is required", http.StatusBadRequest))
		return
	}

	sess, source, err := b.FreshAccessToken(ctx, req.SessionID)
	if err != nil {
		b.writeTokenError(w, r, err)
		return
	}

	b.metrics().RecordTokenRefresh(ctx, sess.Provider, source)
	if source == refreshSourceUpstream {
		b.logger.Info("Access token refreshed", "provider", sess.Provider)
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: sess.AccessToken,
		TokenType:   sess.TokenType,
		ExpiresIn:   sess.ExpiresIn(time.Now()),
	})
}

// writeTokenError maps token endpoint failures onto the error taxonomy.
func (b *Broker) writeTokenError(w http.ResponseWriter, r *http.Request, err error) {
	var ue *UpstreamError
	switch {
	case errors.Is(err, ErrSessionNotFound):
		writeError(w, ErrInvalidSession("session not found or expired"))
	case errors.Is(err, ErrNoRefreshToken):
		writeError(w, ErrNoRefreshToken)
	case errors.As(err, &ue):
		b.logger.Error("Upstream token refresh failed",
			"provider", ue.Provider,
			"status", ue.StatusCode,
			"body", ue.Body)
		resp := errorResponse{Error: ErrorCodeUpstreamError}
		if ue.StatusCode != 0 {
			resp.Detail = "provider returned status " + httpStatusText(ue.StatusCode)
		}
		writeJSONBody(w, http.StatusBadGateway, resp)
	default:
		var be *Error
		if errors.As(err, &be) {
			writeError(w, be)
			return
		}
		b.logger.Error("Token request failed", "error", err)
		writeError(w, ErrStorage("failed to load session"))
	}
}

// ServeSession handles the session endpoint: GET returns the redacted
// session, DELETE revokes the upstream grant best-effort and removes the
// record.
func (b *Broker) ServeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = r.URL.Query().Get("id")
	}
	if sessionID == "" {
		writeError(w, NewError(ErrorCodeMissingSessionID, "session_id is required", http.StatusBadRequest))
		return
	}

	switch r.Method {
	case http.MethodGet:
		b.serveSessionGet(w, r, sessionID)
	case http.MethodDelete:
		b.serveSessionDelete(w, r, sessionID)
	default:
		writeError(w, NewError(ErrorCodeInvalidRequest, "method not allowed", http.StatusMethodNotAllowed))
	}
}

func (b *Broker) serveSessionGet(w http.ResponseWriter, r *http.Request, sessionID string) {
	red, err := b.sessions.GetRedacted(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			writeError(w, ErrSessionNotFound)
			return
		}
		b.logger.Error("Failed to load session", "error", err)
		writeError(w, ErrStorage("failed to load session"))
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		Session:   red,
		SessionID: sessionID,
	})
}

func (b *Broker) serveSessionDelete(w http.ResponseWriter, r *http.Request, sessionID string) {
	ctx := r.Context()

	sess, err := b.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			writeError(w, ErrSessionNotFound)
			return
		}
		b.logger.Error("Failed to load session", "error", err)
		writeError(w, ErrStorage("failed to load session"))
		return
	}

	// Revocation is best effort: the record is removed either way, and an
	// unreachable revocation endpoint must not keep the session alive.
	if p, ok := b.providers[sess.Provider]; ok && sess.AccessToken != "" {
		if err := p.RevokeToken(ctx, sess.AccessToken); err != nil {
			b.logger.Warn("Upstream token revocation failed",
				"provider", sess.Provider, "error", err)
		}
	}

	if err := b.sessions.Delete(ctx, sessionID); err != nil {
		b.logger.Error("Failed to delete session", "error", err)
		writeError(w, ErrStorage("failed to delete session"))
		return
	}

	b.auditor.LogSessionRevoked(sess.Provider, sessionID, b.clientIP(r))
	b.metrics().RecordSessionRevoked(ctx, sess.Provider)

	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

// redirectWithError sends the browser back to the application with a short
// reason code. Diagnostics never travel on this path.
func (b *Broker) redirectWithError(w http.ResponseWriter, r *http.Request, target, clientState, reason, providerName string) {
	params := url.Values{}
	params.Set("error", reason)
	if providerName != "" {
		params.Set("provider", providerName)
	}
	if clientState != "" {
		params.Set("state", clientState)
	}
	http.Redirect(w, r, b.appRedirectURL(target, params), http.StatusFound)
}

// appRedirectURL builds the final browser redirect. The target was validated
// at flow start; an empty target means the default application origin.
func (b *Broker) appRedirectURL(target string, params url.Values) string {
	if target == "" {
		target = b.defaultAppOrigin()
	}
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + params.Encode()
}

// clientIP resolves the caller address for audit logging and rate limiting.
func (b *Broker) clientIP(r *http.Request) string {
	return security.GetClientIP(r, b.cfg.RateLimit.TrustProxy)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("Failed to encode response", "error", err)
	}
}

// writeJSONBody is writeJSON for pre-built error bodies.
func writeJSONBody(w http.ResponseWriter, status int, body errorResponse) {
	writeJSON(w, status, body)
}

// writeError writes a broker error as a JSON error body.
func writeError(w http.ResponseWriter, err *Error) {
	writeJSON(w, err.Status, errorResponse{
		Error:  err.Code,
		Detail: err.Description,
	})
}

// httpStatusText renders a status code with its text for error details.
func httpStatusText(code int) string {
	text := http.StatusText(code)
	if text == "" {
		return strconv.Itoa(code)
	}
	return strconv.Itoa(code) + " " + text
}
