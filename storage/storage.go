package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
// Callers must treat "never existed", "expired", and "already consumed"
// identically; the store does not distinguish between them.
var ErrNotFound = errors.New("storage: key not found")

// Store is the contract over a durable key/value store with per-key TTL.
// It is the only shared mutable resource in the broker; everything that has
// to survive a request (CSRF state, session records) goes through it.
//
// All methods accept context.Context for tracing and cancellation.
type Store interface {
	// Get retrieves the value for a key. Returns ErrNotFound if the key
	// does not exist or its TTL has elapsed.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores a value under a key. A ttl of zero means no expiry.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// GetDel atomically retrieves and deletes a key. Returns ErrNotFound
	// if the key does not exist or has expired.
	// SECURITY: This operation MUST be atomic. It backs single-use CSRF
	// nonce consumption; a non-atomic implementation allows replay.
	GetDel(ctx context.Context, key string) ([]byte, error)
}
