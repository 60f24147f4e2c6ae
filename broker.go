// Package broker implements a server-side OAuth broker that keeps provider
// tokens out of the browser. The broker runs the authorization-code flow
// against registered providers, stores the resulting tokens server-side under
// an opaque session id, and hands the application short-lived access tokens
// on demand, refreshing upstream when the cached token is stale.
package broker

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/focuswriter/oauth-broker/instrumentation"
	"github.com/focuswriter/oauth-broker/internal/util"
	"github.com/focuswriter/oauth-broker/providers"
	"github.com/focuswriter/oauth-broker/security"
	"github.com/focuswriter/oauth-broker/storage"
)

// Broker is the central coordinator: it owns the state and session managers,
// the registered providers, and the HTTP surface in handler.go and routes.go.
type Broker struct {
	cfg    *Config
	logger *slog.Logger

	store     storage.Store
	states    *StateManager
	sessions  *SessionManager
	providers map[string]providers.Provider
	order     []string

	auditor *security.Auditor
	limiter *security.RateLimiter
	inst    *instrumentation.Instrumentation

	routes []route
}

// redirectSetter is implemented by providers whose callback URL the broker
// computes from its own base URL at startup.
type redirectSetter interface {
	SetRedirectURL(redirectURL string)
}

// httpClientSetter is implemented by providers whose HTTP client the broker
// can override with the operator-configured one.
type httpClientSetter interface {
	SetHTTPClient(client *http.Client)
}

// encryptorSetter is implemented by stores that support value encryption at
// rest.
type encryptorSetter interface {
	SetEncryptor(enc *security.Encryptor)
}

// instrumentedStore is implemented by stores that can report metrics and
// traces.
type instrumentedStore interface {
	SetInstrumentation(inst *instrumentation.Instrumentation)
}

// New creates a broker from the given configuration, store and providers.
// At least one provider and a store are required; the first provider is the
// default when the configuration does not name one.
func New(cfg *Config, store storage.Store, provs ...providers.Provider) (*Broker, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if store == nil {
		return nil, fmt.Errorf("a storage backend is required")
	}
	if len(provs) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	if len(cfg.AppOrigins) == 0 {
		return nil, fmt.Errorf("at least one application origin is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	applySecureDefaults(cfg, logger)

	b := &Broker{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		providers: make(map[string]providers.Provider, len(provs)),
		auditor:   security.NewAuditor(logger, cfg.Security.EnableAuditLogging),
	}

	callbackBase := util.NormalizeURL(cfg.CallbackBase)
	if callbackBase == "" {
		callbackBase = util.NormalizeURL(cfg.BaseURL)
	}

	for _, p := range provs {
		name := p.Name()
		if _, exists := b.providers[name]; exists {
			return nil, fmt.Errorf("provider registered twice: %s", name)
		}
		b.providers[name] = p
		b.order = append(b.order, name)

		if rs, ok := p.(redirectSetter); ok && callbackBase != "" {
			rs.SetRedirectURL(callbackBase + "/auth/" + name + "/callback")
		}
		if hs, ok := p.(httpClientSetter); ok && cfg.HTTPClient != nil {
			hs.SetHTTPClient(cfg.HTTPClient)
		}
	}

	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = b.order[0]
	}
	if _, ok := b.providers[cfg.DefaultProvider]; !ok {
		return nil, fmt.Errorf("default provider is not registered: %s", cfg.DefaultProvider)
	}

	if len(cfg.Security.EncryptionKey) > 0 {
		enc, err := security.NewEncryptor(cfg.Security.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		es, ok := store.(encryptorSetter)
		if !ok {
			return nil, fmt.Errorf("storage backend does not support encryption")
		}
		es.SetEncryptor(enc)
		logger.Info("Storage encryption enabled")
	}

	b.states = NewStateManager(store, cfg.StateTTL, logger)
	b.sessions = NewSessionManager(store, cfg.SessionTTL, logger)

	if cfg.RateLimit.Rate > 0 {
		b.limiter = security.NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst, logger)
	}

	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			logger.Warn("CORS allow-list contains wildcard, all origins will be allowed")
		}
	}

	b.routes = b.buildRoutes()

	logger.Info("OAuth broker initialized",
		"providers", strings.Join(b.order, ","),
		"default_provider", cfg.DefaultProvider,
		"state_ttl", cfg.StateTTL,
		"session_ttl", cfg.SessionTTL)

	return b, nil
}

// SetInstrumentation wires metrics and tracing into the broker and, when the
// store supports it, into the storage layer.
func (b *Broker) SetInstrumentation(inst *instrumentation.Instrumentation) {
	b.inst = inst
	if is, ok := b.store.(instrumentedStore); ok {
		is.SetInstrumentation(inst)
	}
}

// Provider returns the registered provider with the given name.
func (b *Broker) Provider(name string) (providers.Provider, bool) {
	p, ok := b.providers[name]
	return p, ok
}

// Providers returns the registered provider names in registration order.
func (b *Broker) Providers() []string {
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

// Close releases broker-owned background resources. The storage backend is
// owned by the caller and is not closed here.
func (b *Broker) Close() error {
	if b.limiter != nil {
		b.limiter.Stop()
	}
	return nil
}

// metrics returns the instrumentation metrics, or nil when instrumentation
// is not wired. All Metrics record methods are nil-safe.
func (b *Broker) metrics() *instrumentation.Metrics {
	if b.inst == nil {
		return nil
	}
	return b.inst.Metrics()
}

// defaultAppOrigin is the redirect target used when the callback cannot
// determine a better one.
func (b *Broker) defaultAppOrigin() string {
	return b.cfg.AppOrigins[0]
}

// allowedAppOrigin reports whether the broker may redirect the browser to
// the given target. Targets are matched by origin prefix against the
// configured application origins.
func (b *Broker) allowedAppOrigin(target string) bool {
	for _, origin := range b.cfg.AppOrigins {
		o := util.NormalizeURL(origin)
		if target == o || strings.HasPrefix(target, o+"/") || strings.HasPrefix(target, o+"?") || strings.HasPrefix(target, o+"#") {
			return true
		}
	}
	return false
}
