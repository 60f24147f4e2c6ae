package broker

import (
	"log/slog"
	"testing"
	"time"
)

func TestApplySecureDefaults(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	cfg := &Config{}
	applySecureDefaults(cfg, logger)

	if cfg.StateTTL != DefaultStateTTL {
		t.Errorf("StateTTL = %v, want %v", cfg.StateTTL, DefaultStateTTL)
	}
	if cfg.SessionTTL != DefaultSessionTTL {
		t.Errorf("SessionTTL = %v, want %v", cfg.SessionTTL, DefaultSessionTTL)
	}
	if cfg.ExpiryMargin != DefaultExpiryMargin {
		t.Errorf("ExpiryMargin = %v, want %v", cfg.ExpiryMargin, DefaultExpiryMargin)
	}
	if cfg.HTTPClient != nil {
		t.Error("HTTPClient should stay nil so providers keep their own clients")
	}
}

func TestApplySecureDefaults_Clamping(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	tests := []struct {
		name           string
		stateTTL       time.Duration
		sessionTTL     time.Duration
		wantStateTTL   time.Duration
		wantSessionTTL time.Duration
	}{
		{
			name:           "state ttl above cap",
			stateTTL:       time.Hour,
			sessionTTL:     DefaultSessionTTL,
			wantStateTTL:   MaxStateTTL,
			wantSessionTTL: DefaultSessionTTL,
		},
		{
			name:           "session ttl below minimum",
			stateTTL:       DefaultStateTTL,
			sessionTTL:     24 * time.Hour,
			wantStateTTL:   DefaultStateTTL,
			wantSessionTTL: MinSessionTTL,
		},
		{
			name:           "session ttl above maximum",
			stateTTL:       DefaultStateTTL,
			sessionTTL:     365 * 24 * time.Hour,
			wantStateTTL:   DefaultStateTTL,
			wantSessionTTL: MaxSessionTTL,
		},
		{
			name:           "values in range untouched",
			stateTTL:       5 * time.Minute,
			sessionTTL:     100 * 24 * time.Hour,
			wantStateTTL:   5 * time.Minute,
			wantSessionTTL: 100 * 24 * time.Hour,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{StateTTL: tt.stateTTL, SessionTTL: tt.sessionTTL}
			applySecureDefaults(cfg, logger)
			if cfg.StateTTL != tt.wantStateTTL {
				t.Errorf("StateTTL = %v, want %v", cfg.StateTTL, tt.wantStateTTL)
			}
			if cfg.SessionTTL != tt.wantSessionTTL {
				t.Errorf("SessionTTL = %v, want %v", cfg.SessionTTL, tt.wantSessionTTL)
			}
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OAUTH_BASE_URL", "https://broker.example.com")
	t.Setenv("APP_ORIGINS", "https://app.example.com,https://beta.example.com")
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com")
	t.Setenv("STATE_TTL", "5m")
	t.Setenv("SESSION_TTL", "2400h")
	t.Setenv("RATE_LIMIT_RATE", "10")
	t.Setenv("TRUST_PROXY", "true")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() error = %v", err)
	}

	if cfg.BaseURL != "https://broker.example.com" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if len(cfg.AppOrigins) != 2 || cfg.AppOrigins[1] != "https://beta.example.com" {
		t.Errorf("AppOrigins = %v", cfg.AppOrigins)
	}
	if cfg.StateTTL != 5*time.Minute {
		t.Errorf("StateTTL = %v, want 5m", cfg.StateTTL)
	}
	if cfg.SessionTTL != 2400*time.Hour {
		t.Errorf("SessionTTL = %v, want 2400h", cfg.SessionTTL)
	}
	if cfg.RateLimit.Rate != 10 {
		t.Errorf("RateLimit.Rate = %d, want 10", cfg.RateLimit.Rate)
	}
	if !cfg.RateLimit.TrustProxy {
		t.Error("TrustProxy should be true")
	}
}

func TestConfigFromEnv_BadEncryptionKey(t *testing.T) {
	t.Setenv("OAUTH_ENCRYPTION_KEY", "not-base64!!")

	if _, err := ConfigFromEnv(); err == nil {
		t.Error("ConfigFromEnv() with bad key should fail")
	}
}
