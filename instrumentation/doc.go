// Package instrumentation provides OpenTelemetry metrics and tracing for the
// OAuth broker.
//
// It is entirely optional: when instrumentation is disabled (or not wired at
// all) every component falls back to no-op providers with zero overhead. The
// broker records HTTP request metrics, flow lifecycle counters, storage
// operation latencies, and spans for the upstream provider calls.
package instrumentation
