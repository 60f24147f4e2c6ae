package broker

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/focuswriter/oauth-broker/security"
	"github.com/focuswriter/oauth-broker/storage/memory"
)

func setupStateManager(t *testing.T, ttl time.Duration) (*StateManager, *memory.Store) {
	t.Helper()
	store := memory.New()
	t.Cleanup(store.Stop)
	return NewStateManager(store, ttl, slog.New(slog.DiscardHandler)), store
}

func TestStateManager_IssueAndConsume(t *testing.T) {
	m, _ := setupStateManager(t, 0)
	ctx := context.Background()

	nonce, err := m.Issue(ctx, "google", "client-abc", "https://app.example.com/done")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if !security.ValidStateNonce(nonce) {
		t.Errorf("Issue() nonce %q is not 32 lowercase hex chars", nonce)
	}

	rec, err := m.Consume(ctx, nonce)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if rec.Provider != "google" {
		t.Errorf("Provider = %q, want %q", rec.Provider, "google")
	}
	if rec.ClientState != "client-abc" {
		t.Errorf("ClientState = %q, want %q", rec.ClientState, "client-abc")
	}
	if rec.RedirectTarget != "https://app.example.com/done" {
		t.Errorf("RedirectTarget = %q, want %q", rec.RedirectTarget, "https://app.example.com/done")
	}
	if rec.CreatedAt == 0 {
		t.Error("CreatedAt should be set")
	}
}

func TestStateManager_SingleUse(t *testing.T) {
	m, _ := setupStateManager(t, 0)
	ctx := context.Background()

	nonce, err := m.Issue(ctx, "google", "", "")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if _, err := m.Consume(ctx, nonce); err != nil {
		t.Fatalf("first Consume() error = %v", err)
	}
	if _, err := m.Consume(ctx, nonce); !errors.Is(err, ErrStateInvalid) {
		t.Errorf("second Consume() error = %v, want ErrStateInvalid", err)
	}
}

func TestStateManager_ConsumeUnknown(t *testing.T) {
	m, _ := setupStateManager(t, 0)
	ctx := context.Background()

	// Well-formed but never issued.
	if _, err := m.Consume(ctx, "0123456789abcdef0123456789abcdef"); !errors.Is(err, ErrStateInvalid) {
		t.Errorf("Consume(unknown) error = %v, want ErrStateInvalid", err)
	}
}

func TestStateManager_ConsumeMalformed(t *testing.T) {
	m, _ := setupStateManager(t, 0)
	ctx := context.Background()

	tests := []struct {
		name  string
		nonce string
	}{
		{"empty", ""},
		{"too short", "abc123"},
		{"uppercase", "0123456789ABCDEF0123456789ABCDEF"},
		{"non-hex", "zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz"},
		{"injection", "../../../etc/passwd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Consume(ctx, tt.nonce); !errors.Is(err, ErrStateInvalid) {
				t.Errorf("Consume(%q) error = %v, want ErrStateInvalid", tt.nonce, err)
			}
		})
	}
}

func TestStateManager_Expiry(t *testing.T) {
	store := memory.New()
	defer store.Stop()
	m := NewStateManager(store, time.Millisecond, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	nonce, err := m.Issue(ctx, "google", "", "")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	if _, err := m.Consume(ctx, nonce); !errors.Is(err, ErrStateInvalid) {
		t.Errorf("Consume(expired) error = %v, want ErrStateInvalid", err)
	}
}

func TestStateManager_TTLClamped(t *testing.T) {
	m, _ := setupStateManager(t, time.Hour)
	if m.ttl != DefaultStateTTL {
		t.Errorf("ttl = %v, want %v", m.ttl, DefaultStateTTL)
	}
}

func TestStateManager_NoncesUnique(t *testing.T) {
	m, _ := setupStateManager(t, 0)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		nonce, err := m.Issue(ctx, "google", "", "")
		if err != nil {
			t.Fatalf("Issue() error = %v", err)
		}
		if seen[nonce] {
			t.Fatalf("duplicate nonce %q", nonce)
		}
		seen[nonce] = true
	}
}
