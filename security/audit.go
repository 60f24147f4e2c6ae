package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Auditor handles security event logging with PII protection.
// Session identifiers and user subjects are hashed before logging; only
// event metadata appears in clear text.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	Provider  string
	SessionID string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed identifiers.
// Every event gets a unique id so downstream log pipelines can deduplicate.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_id", uuid.NewString(),
		"event_type", event.Type,
		"provider", event.Provider,
		"session_id_hash", hashForLogging(event.SessionID),
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogFlowStarted logs the start of an authorization flow
func (a *Auditor) LogFlowStarted(provider, ipAddress string) {
	a.LogEvent(Event{
		Type:      "flow_started",
		Provider:  provider,
		IPAddress: ipAddress,
	})
}

// LogSessionCreated logs a successful code exchange and session creation
func (a *Auditor) LogSessionCreated(provider, sessionID, ipAddress string, hasRefreshToken bool) {
	a.LogEvent(Event{
		Type:      "session_created",
		Provider:  provider,
		SessionID: sessionID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"refresh_token_granted": hasRefreshToken,
		},
	})
}

// LogTokenRefreshed logs an access token refresh
func (a *Auditor) LogTokenRefreshed(provider, sessionID string, rotated bool) {
	a.LogEvent(Event{
		Type:      "token_refreshed",
		Provider:  provider,
		SessionID: sessionID,
		Details: map[string]any{
			"refresh_token_rotated": rotated,
		},
	})
}

// LogSessionRevoked logs explicit session revocation
func (a *Auditor) LogSessionRevoked(provider, sessionID, ipAddress string) {
	a.LogEvent(Event{
		Type:      "session_revoked",
		Provider:  provider,
		SessionID: sessionID,
		IPAddress: ipAddress,
	})
}

// LogAuthFailure logs a failed flow transition
func (a *Auditor) LogAuthFailure(provider, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      "auth_failure",
		Provider:  provider,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// hashForLogging returns a short SHA-256 prefix of a sensitive value, or
// empty when the value is empty. Enough to correlate, useless to replay.
func hashForLogging(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:8])
}
