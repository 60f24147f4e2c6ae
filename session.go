package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/focuswriter/oauth-broker/providers"
	"github.com/focuswriter/oauth-broker/security"
	"github.com/focuswriter/oauth-broker/storage"
)

// SessionManager persists session records and enforces the redaction rule:
// token values leave this package only through the token endpoint, never
// through a session projection.
type SessionManager struct {
	store  storage.Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewSessionManager creates a session manager backed by the given store.
func NewSessionManager(store storage.Store, ttl time.Duration, logger *slog.Logger) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		store:  store,
		ttl:    ttl,
		logger: logger,
	}
}

// Create mints a session id, builds the session from the provider token and
// persists it. The returned session carries the id for the redirect.
func (m *SessionManager) Create(ctx context.Context, provider string, tok *oauth2.Token, user *providers.UserInfo) (*Session, error) {
	sess := &Session{
		ID:        security.GenerateSessionID(),
		Provider:  provider,
		CreatedAt: time.Now().UnixMilli(),
	}
	sess.applyToken(tok)
	if user != nil {
		sess.User = user
	}

	if err := m.put(ctx, sess); err != nil {
		return nil, err
	}

	m.logger.Info("Session created",
		"provider", provider,
		"has_refresh_token", sess.RefreshToken != "")
	return sess, nil
}

// Get loads the session for the given id. Returns ErrSessionNotFound when
// the id is malformed, unknown or expired.
func (m *SessionManager) Get(ctx context.Context, sessionID string) (*Session, error) {
	if !security.ValidSessionID(sessionID) {
		return nil, ErrSessionNotFound
	}

	data, err := m.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	sess.ID = sessionID
	return &sess, nil
}

// GetRedacted loads the session and returns its browser-safe projection.
// This is the only session read exposed to the HTTP surface.
func (m *SessionManager) GetRedacted(ctx context.Context, sessionID string) (*RedactedSession, error) {
	sess, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Redacted(), nil
}

// Update merges a refreshed provider token into the stored session.
// The session is re-read before writing so a concurrent update is not
// clobbered with stale fields, and applyToken never nulls out a refresh
// token the provider chose not to rotate.
func (m *SessionManager) Update(ctx context.Context, sessionID string, tok *oauth2.Token) (*Session, error) {
	sess, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess.applyToken(tok)
	if err := m.put(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Delete removes the session. Deleting an absent session is not an error.
func (m *SessionManager) Delete(ctx context.Context, sessionID string) error {
	if !security.ValidSessionID(sessionID) {
		return ErrSessionNotFound
	}
	if err := m.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// put serializes and stores the session under its id with a refreshed TTL,
// so an active session keeps sliding forward instead of dying mid-use.
func (m *SessionManager) put(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := m.store.Put(ctx, sess.ID, data, m.ttl); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}
