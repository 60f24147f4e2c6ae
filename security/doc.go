// Package security provides security primitives for the OAuth broker:
// random token generation, encryption at rest, rate limiting, request ID
// propagation, audit logging, and secure header management.
//
// Everything here is policy-free plumbing; the broker decides when to apply
// it. The only hard requirement is entropy: all nonces and identifiers come
// from crypto/rand and carry at least 128 bits.
package security
