package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/focuswriter/oauth-broker/security"
	"github.com/focuswriter/oauth-broker/storage"
)

// statePrefix namespaces nonce keys so they can never collide with session
// ids in the same store.
const statePrefix = "state:"

// StateManager issues and consumes single-use CSRF state nonces.
// A nonce is valid for exactly one callback: consumption is an atomic
// get-and-delete, so two callbacks racing on the same nonce can never both
// succeed.
type StateManager struct {
	store  storage.Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewStateManager creates a state manager backed by the given store.
func NewStateManager(store storage.Store, ttl time.Duration, logger *slog.Logger) *StateManager {
	if ttl <= 0 || ttl > MaxStateTTL {
		ttl = DefaultStateTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StateManager{
		store:  store,
		ttl:    ttl,
		logger: logger,
	}
}

// Issue generates a fresh nonce, persists the flow context under it, and
// returns the nonce for use as the OAuth state parameter. The redirect target
// must already be validated against the application origin allow-list.
func (m *StateManager) Issue(ctx context.Context, provider, clientState, redirectTarget string) (string, error) {
	nonce := security.GenerateStateNonce()

	rec := stateRecord{
		Provider:       provider,
		ClientState:    clientState,
		RedirectTarget: redirectTarget,
		CreatedAt:      time.Now().UnixMilli(),
	}
	data, err := json.Marshal(&rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal state record: %w", err)
	}

	if err := m.store.Put(ctx, statePrefix+nonce, data, m.ttl); err != nil {
		return "", fmt.Errorf("failed to store state: %w", err)
	}

	m.logger.Debug("Issued state nonce", "provider", provider, "ttl", m.ttl)
	return nonce, nil
}

// Consume validates and atomically deletes the nonce, returning the flow
// context stored at issue time. A nonce that is unknown, expired, malformed
// or already consumed fails identically with ErrStateInvalid; callers cannot
// distinguish the cases and neither can an attacker.
func (m *StateManager) Consume(ctx context.Context, nonce string) (*stateRecord, error) {
	if !security.ValidStateNonce(nonce) {
		return nil, ErrStateInvalid
	}

	data, err := m.store.GetDel(ctx, statePrefix+nonce)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrStateInvalid
		}
		return nil, fmt.Errorf("failed to consume state: %w", err)
	}

	var rec stateRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		m.logger.Warn("Discarding undecodable state record", "error", err)
		return nil, ErrStateInvalid
	}
	return &rec, nil
}
