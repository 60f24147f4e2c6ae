// Package valkey provides a Valkey-backed implementation of the storage.Store
// interface for production deployments.
//
// Valkey (Redis-compatible) is a natural fit for the broker's storage contract:
// per-key TTL maps to SET EX, and single-use CSRF nonce consumption maps to the
// atomic GETDEL command. All keys share a configurable prefix so multiple
// broker instances can share one server.
//
// Optional encryption at rest (AES-256-GCM via security.Encryptor) protects
// token material if the Valkey instance or its snapshots are compromised.
package valkey
