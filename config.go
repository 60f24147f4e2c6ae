package broker

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/focuswriter/oauth-broker/security"
)

// Default TTLs and limits. State TTL is capped at ten minutes: a nonce that
// old no longer proves anything about the flow that issued it.
const (
	DefaultStateTTL = 10 * time.Minute
	MaxStateTTL     = 10 * time.Minute

	DefaultSessionTTL = 120 * 24 * time.Hour
	MinSessionTTL     = 90 * 24 * time.Hour
	MaxSessionTTL     = 180 * 24 * time.Hour

	DefaultExpiryMargin = 30 * time.Second
)

// Config holds the broker configuration.
// Structured using composition: one explicit struct constructed at process
// entry and passed down, instead of environment lookups scattered through
// handlers.
type Config struct {
	// BaseURL is the broker's externally visible base URL. Used to build
	// provider callback URLs unless CallbackBase overrides it.
	BaseURL string

	// CallbackBase overrides the base URL used for provider redirect URIs.
	// Useful behind a reverse proxy that rewrites the externally visible
	// host.
	CallbackBase string

	// AppOrigins are the application URLs the broker may redirect back to
	// after a flow completes or fails. The first entry is the default
	// redirect target.
	AppOrigins []string

	// AllowedOrigins is the CORS allow-list. Origins are matched exactly;
	// "*" allows all origins (development only).
	AllowedOrigins []string

	// DefaultProvider is the provider used by /auth/start when the request
	// does not name one. Defaults to the first registered provider.
	DefaultProvider string

	// StateTTL is how long an issued CSRF state nonce stays valid.
	// Default: 10 minutes. Values above 10 minutes are clamped.
	StateTTL time.Duration

	// SessionTTL is how long session records live in the store.
	// Default: 120 days. Clamped into the 90-180 day range.
	SessionTTL time.Duration

	// ExpiryMargin is how much access token lifetime must remain for the
	// cached token to be served without a refresh. Default: 30 seconds.
	ExpiryMargin time.Duration

	// RateLimit configures per-IP rate limiting
	RateLimit RateLimitConfig

	// Security holds security settings
	Security SecurityConfig

	// Logger for structured logging (optional, uses slog.Default if not provided)
	Logger *slog.Logger

	// HTTPClient is a custom HTTP client for upstream provider requests
	// (proxy, custom timeout, instrumented transport). When set it is pushed
	// into every registered provider that supports it; when nil each provider
	// keeps its own bounded-timeout client.
	HTTPClient *http.Client
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	Burst int

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool
}

// SecurityConfig holds broker security settings
type SecurityConfig struct {
	// EncryptionKey is the AES-256 key (32 bytes) for value encryption at
	// rest. Nil disables encryption. Generate with security.GenerateKey().
	EncryptionKey []byte

	// EnableAuditLogging enables security audit logging.
	// Logs flow events and token operations with hashed identifiers.
	EnableAuditLogging bool
}

// envConfig is the environment surface, parsed with caarlos0/env.
type envConfig struct {
	BaseURL         string        `env:"OAUTH_BASE_URL"`
	CallbackBase    string        `env:"OAUTH_CALLBACK_BASE"`
	AppOrigins      []string      `env:"APP_ORIGINS" envSeparator:","`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envSeparator:","`
	DefaultProvider string        `env:"DEFAULT_PROVIDER"`
	StateTTL        time.Duration `env:"STATE_TTL"`
	SessionTTL      time.Duration `env:"SESSION_TTL"`
	ExpiryMargin    time.Duration `env:"TOKEN_EXPIRY_MARGIN"`
	RateLimitRate   int           `env:"RATE_LIMIT_RATE"`
	RateLimitBurst  int           `env:"RATE_LIMIT_BURST"`
	TrustProxy      bool          `env:"TRUST_PROXY"`
	EncryptionKey   string        `env:"OAUTH_ENCRYPTION_KEY"`
	AuditLogging    bool          `env:"ENABLE_AUDIT_LOGGING"`
}

// ConfigFromEnv builds a Config from environment variables.
// Provider credentials (GOOGLE_CLIENT_ID, GITHUB_CLIENT_ID, ...) are read by
// the provider constructors, not here; this covers the broker's own surface.
func ConfigFromEnv() (*Config, error) {
	var ec envConfig
	if err := env.Parse(&ec); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg := &Config{
		BaseURL:         ec.BaseURL,
		CallbackBase:    ec.CallbackBase,
		AppOrigins:      ec.AppOrigins,
		AllowedOrigins:  ec.AllowedOrigins,
		DefaultProvider: ec.DefaultProvider,
		StateTTL:        ec.StateTTL,
		SessionTTL:      ec.SessionTTL,
		ExpiryMargin:    ec.ExpiryMargin,
		RateLimit: RateLimitConfig{
			Rate:       ec.RateLimitRate,
			Burst:      ec.RateLimitBurst,
			TrustProxy: ec.TrustProxy,
		},
		Security: SecurityConfig{
			EnableAuditLogging: ec.AuditLogging,
		},
	}

	if ec.EncryptionKey != "" {
		key, err := security.KeyFromBase64(ec.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("invalid OAUTH_ENCRYPTION_KEY: %w", err)
		}
		cfg.Security.EncryptionKey = key
	}

	return cfg, nil
}

// applySecureDefaults fills in defaults and clamps TTLs into their safe
// ranges, logging when a configured value had to be adjusted.
func applySecureDefaults(cfg *Config, logger *slog.Logger) {
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = DefaultStateTTL
	}
	if cfg.StateTTL > MaxStateTTL {
		logger.Warn("State TTL exceeds maximum, clamping",
			"configured", cfg.StateTTL,
			"maximum", MaxStateTTL)
		cfg.StateTTL = MaxStateTTL
	}

	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.SessionTTL < MinSessionTTL {
		logger.Warn("Session TTL below minimum, clamping",
			"configured", cfg.SessionTTL,
			"minimum", MinSessionTTL)
		cfg.SessionTTL = MinSessionTTL
	}
	if cfg.SessionTTL > MaxSessionTTL {
		logger.Warn("Session TTL exceeds maximum, clamping",
			"configured", cfg.SessionTTL,
			"maximum", MaxSessionTTL)
		cfg.SessionTTL = MaxSessionTTL
	}

	if cfg.ExpiryMargin <= 0 {
		cfg.ExpiryMargin = DefaultExpiryMargin
	}
}
