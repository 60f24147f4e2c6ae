package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the broker
type Metrics struct {
	// HTTP layer
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// OAuth flow lifecycle
	FlowsStarted       metric.Int64Counter
	CallbacksProcessed metric.Int64Counter
	CodeExchanges      metric.Int64Counter
	TokenRefreshes     metric.Int64Counter
	SessionsRevoked    metric.Int64Counter

	// Storage layer
	StorageOperations       metric.Int64Counter
	StorageOperationLatency metric.Float64Histogram
	StorageKeysCount        metric.Int64ObservableGauge

	// Security
	RateLimitExceeded metric.Int64Counter
}

func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	httpMeter := inst.Meter("http")
	brokerMeter := inst.Meter("broker")
	storageMeter := inst.Meter("storage")
	securityMeter := inst.Meter("security")

	var err error
	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"broker.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"broker.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.FlowsStarted, err = brokerMeter.Int64Counter(
		"broker.flows.started",
		metric.WithDescription("Number of authorization flows started"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create flows.started counter: %w", err)
	}

	m.CallbacksProcessed, err = brokerMeter.Int64Counter(
		"broker.callbacks.processed",
		metric.WithDescription("Number of provider callbacks processed"),
		metric.WithUnit("{callback}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create callbacks.processed counter: %w", err)
	}

	m.CodeExchanges, err = brokerMeter.Int64Counter(
		"broker.code.exchanges",
		metric.WithDescription("Number of authorization codes exchanged for tokens"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code.exchanges counter: %w", err)
	}

	m.TokenRefreshes, err = brokerMeter.Int64Counter(
		"broker.token.refreshes",
		metric.WithDescription("Number of access token refresh requests, by source (cache or upstream)"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.refreshes counter: %w", err)
	}

	m.SessionsRevoked, err = brokerMeter.Int64Counter(
		"broker.sessions.revoked",
		metric.WithDescription("Number of sessions explicitly revoked"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions.revoked counter: %w", err)
	}

	m.StorageOperations, err = storageMeter.Int64Counter(
		"broker.storage.operations",
		metric.WithDescription("Number of storage operations by type and result"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operations counter: %w", err)
	}

	m.StorageOperationLatency, err = storageMeter.Float64Histogram(
		"broker.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.StorageKeysCount, err = storageMeter.Int64ObservableGauge(
		"broker.storage.keys",
		metric.WithDescription("Current number of keys in storage"),
		metric.WithUnit("{key}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.keys gauge: %w", err)
	}

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"broker.ratelimit.exceeded",
		metric.WithDescription("Number of requests rejected by rate limiting"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.exceeded counter: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric (nil-safe)
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, durationMs, attrs)
}

// RecordFlowStarted records the start of an authorization flow (nil-safe)
func (m *Metrics) RecordFlowStarted(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.FlowsStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrProviderName, provider),
	))
}

// RecordCallbackProcessed records a processed provider callback (nil-safe)
func (m *Metrics) RecordCallbackProcessed(ctx context.Context, provider string, success bool) {
	if m == nil {
		return
	}
	m.CallbacksProcessed.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrProviderName, provider),
		attribute.Bool(AttrSuccess, success),
	))
}

// RecordCodeExchange records an authorization code exchange (nil-safe)
func (m *Metrics) RecordCodeExchange(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.CodeExchanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrProviderName, provider),
	))
}

// RecordTokenRefresh records an access token refresh request.
// source is "cache" when the stored token was still fresh and "upstream" when
// the provider's token endpoint was called.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, provider, source string) {
	if m == nil {
		return
	}
	m.TokenRefreshes.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrProviderName, provider),
		attribute.String(AttrRefreshSource, source),
	))
}

// RecordSessionRevoked records an explicit session revocation (nil-safe)
func (m *Metrics) RecordSessionRevoked(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.SessionsRevoked.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrProviderName, provider),
	))
}

// RecordStorageOperation records a storage operation (nil-safe)
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageResult, result),
	)
	m.StorageOperations.Add(ctx, 1, attrs)
	m.StorageOperationLatency.Record(ctx, durationMs, attrs)
}

// RecordRateLimitExceeded records a rate-limited request (nil-safe)
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrHTTPEndpoint, endpoint),
	))
}
