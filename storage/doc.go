// Package storage defines the key/value store contract used for CSRF state
// and session persistence.
//
// The broker runs under a stateless-invocation model: no in-process memory
// survives between requests, so everything that crosses a request boundary is
// written through a Store. Values are opaque byte slices (JSON-encoded records
// owned by the callers) and every key carries a TTL.
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development and testing
//   - storage/valkey: Valkey/Redis-compatible distributed storage for production
package storage
