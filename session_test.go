package broker

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/focuswriter/oauth-broker/providers"
	"github.com/focuswriter/oauth-broker/security"
	"github.com/focuswriter/oauth-broker/storage/memory"
)

func setupSessionManager(t *testing.T) *SessionManager {
	t.Helper()
	store := memory.New()
	t.Cleanup(store.Stop)
	return NewSessionManager(store, time.Hour, slog.New(slog.DiscardHandler))
}

func testToken(expiry time.Time) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		Expiry:       expiry,
	}
}

func TestSessionManager_CreateAndGet(t *testing.T) {
	m := setupSessionManager(t)
	ctx := context.Background()

	user := &providers.UserInfo{ID: "u1", Email: "u@example.com"}
	expiry := time.Now().Add(time.Hour)

	sess, err := m.Create(ctx, "google", testToken(expiry), user)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !security.ValidSessionID(sess.ID) {
		t.Errorf("session id %q is not a valid id", sess.ID)
	}

	loaded, err := m.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if loaded.Provider != "google" {
		t.Errorf("Provider = %q, want %q", loaded.Provider, "google")
	}
	if loaded.AccessToken != "access-1" {
		t.Errorf("AccessToken = %q, want %q", loaded.AccessToken, "access-1")
	}
	if loaded.RefreshToken != "refresh-1" {
		t.Errorf("RefreshToken = %q, want %q", loaded.RefreshToken, "refresh-1")
	}
	if loaded.ExpiresAt != expiry.UnixMilli() {
		t.Errorf("ExpiresAt = %d, want %d", loaded.ExpiresAt, expiry.UnixMilli())
	}
	if loaded.User == nil || loaded.User.ID != "u1" {
		t.Errorf("User = %+v, want ID u1", loaded.User)
	}
	if loaded.ID != sess.ID {
		t.Errorf("ID = %q, want %q", loaded.ID, sess.ID)
	}
}

func TestSessionManager_GetUnknown(t *testing.T) {
	m := setupSessionManager(t)
	ctx := context.Background()

	// Well-formed id that was never created.
	id := security.GenerateSessionID()
	if _, err := m.Get(ctx, id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionManager_GetMalformedID(t *testing.T) {
	m := setupSessionManager(t)
	ctx := context.Background()

	tests := []string{"", "short", "state:injected", "has spaces here aaaaaaaaaaaaaaaa"}
	for _, id := range tests {
		if _, err := m.Get(ctx, id); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("Get(%q) error = %v, want ErrSessionNotFound", id, err)
		}
	}
}

func TestSessionManager_UpdatePreservesRefreshToken(t *testing.T) {
	m := setupSessionManager(t)
	ctx := context.Background()

	sess, err := m.Create(ctx, "google", testToken(time.Now().Add(time.Hour)), nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Refresh response without a rotated refresh token.
	newExpiry := time.Now().Add(2 * time.Hour)
	updated, err := m.Update(ctx, sess.ID, &oauth2.Token{
		AccessToken: "access-2",
		Expiry:      newExpiry,
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if updated.AccessToken != "access-2" {
		t.Errorf("AccessToken = %q, want %q", updated.AccessToken, "access-2")
	}
	if updated.RefreshToken != "refresh-1" {
		t.Errorf("RefreshToken = %q, want preserved %q", updated.RefreshToken, "refresh-1")
	}
	if updated.ExpiresAt != newExpiry.UnixMilli() {
		t.Errorf("ExpiresAt = %d, want %d", updated.ExpiresAt, newExpiry.UnixMilli())
	}

	// And the stored record agrees.
	loaded, err := m.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if loaded.RefreshToken != "refresh-1" {
		t.Errorf("stored RefreshToken = %q, want %q", loaded.RefreshToken, "refresh-1")
	}
}

func TestSessionManager_UpdateRotatesRefreshToken(t *testing.T) {
	m := setupSessionManager(t)
	ctx := context.Background()

	sess, err := m.Create(ctx, "google", testToken(time.Now().Add(time.Hour)), nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	updated, err := m.Update(ctx, sess.ID, &oauth2.Token{
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
		Expiry:       time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.RefreshToken != "refresh-2" {
		t.Errorf("RefreshToken = %q, want rotated %q", updated.RefreshToken, "refresh-2")
	}
}

func TestSessionManager_Delete(t *testing.T) {
	m := setupSessionManager(t)
	ctx := context.Background()

	sess, err := m.Create(ctx, "google", testToken(time.Now().Add(time.Hour)), nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := m.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := m.Get(ctx, sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get(deleted) error = %v, want ErrSessionNotFound", err)
	}

	// Deleting again is not an error.
	if err := m.Delete(ctx, sess.ID); err != nil {
		t.Errorf("Delete(absent) error = %v", err)
	}
}

func TestSessionManager_GetRedacted(t *testing.T) {
	m := setupSessionManager(t)
	ctx := context.Background()

	sess, err := m.Create(ctx, "google", testToken(time.Now().Add(time.Hour)), nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	red, err := m.GetRedacted(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetRedacted() error = %v", err)
	}
	if red.Provider != "google" || !red.HasAccessToken || !red.HasRefreshToken {
		t.Errorf("GetRedacted() = %+v", red)
	}

	if _, err := m.GetRedacted(ctx, security.GenerateSessionID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("GetRedacted(unknown) error = %v, want ErrSessionNotFound", err)
	}
}

func TestSession_Redacted(t *testing.T) {
	sess := &Session{
		ID:           "abc",
		Provider:     "google",
		User:         &providers.UserInfo{ID: "u1"},
		AccessToken:  "secret-access",
		RefreshToken: "secret-refresh",
		CreatedAt:    1234,
	}

	red := sess.Redacted()
	if red.Provider != "google" || red.CreatedAt != 1234 {
		t.Errorf("Redacted() = %+v", red)
	}
	if !red.HasAccessToken || !red.HasRefreshToken {
		t.Error("presence booleans should be true")
	}
	if red.User == nil || red.User.ID != "u1" {
		t.Errorf("User = %+v, want ID u1", red.User)
	}
}
