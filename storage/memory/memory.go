// Package memory provides an in-memory implementation of the storage.Store
// interface. It is suitable for development, testing, and single-instance
// deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/focuswriter/oauth-broker/instrumentation"
	"github.com/focuswriter/oauth-broker/security"
	"github.com/focuswriter/oauth-broker/storage"
)

// entry is a stored value with its expiry time. A zero expiresAt means the
// entry never expires.
type entry struct {
	value     []byte
	expiresAt time.Time
}

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry

	// Security
	encryptor *security.Encryptor // value encryption at rest (optional)

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counter for metrics (lock-free access during metric collection)
	keysCountAtomic atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface check to ensure Store implements storage.Store
var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store with default cleanup interval (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		entries:         make(map[string]entry),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	// Start background cleanup
	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger != nil {
		s.logger = logger
	}
}

// SetEncryptor sets the value encryptor for encryption at rest
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encryptor = enc
	if enc != nil && enc.IsEnabled() {
		s.logger.Info("Value encryption at rest enabled for memory storage")
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.keysCountAtomic.Store(int64(len(s.entries)))
	s.mu.Unlock()

	if inst != nil {
		// Size gauge uses the atomic counter so metric collection never
		// contends with request-path locking
		if err := inst.RegisterStorageSizeCallback(func() int64 {
			return s.keysCountAtomic.Load()
		}); err != nil {
			s.logger.Warn("Failed to register storage size callback", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// Len returns the number of live entries. Expired entries awaiting cleanup
// are not counted.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	n := 0
	for _, e := range s.entries {
		if e.expiresAt.IsZero() || now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}

// Get retrieves the value for a key
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := s.startStorageSpan(ctx, "get")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "get", err, startTime)
	}()

	if key == "" {
		err = fmt.Errorf("key cannot be empty")
		return nil, err
	}

	s.mu.RLock()
	e, ok := s.entries[key]
	enc := s.encryptor
	s.mu.RUnlock()

	if !ok || s.expired(e) {
		err = storage.ErrNotFound
		return nil, err
	}

	var value []byte
	value, err = s.decryptValue(enc, e.value)
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Put stores a value under a key. A ttl of zero means no expiry.
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, span := s.startStorageSpan(ctx, "put")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "put", err, startTime)
	}()

	if key == "" {
		err = fmt.Errorf("key cannot be empty")
		return err
	}
	if ttl < 0 {
		err = fmt.Errorf("ttl cannot be negative")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, encErr := s.encryptValue(s.encryptor, value)
	if encErr != nil {
		err = encErr
		return err
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	_, existed := s.entries[key]
	s.entries[key] = entry{value: stored, expiresAt: expiresAt}
	if !existed {
		s.keysCountAtomic.Add(1)
	}
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, span := s.startStorageSpan(ctx, "delete")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "delete", err, startTime)
	}()

	if key == "" {
		err = fmt.Errorf("key cannot be empty")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.entries[key]; existed {
		delete(s.entries, key)
		s.keysCountAtomic.Add(-1)
	}
	return nil
}

// GetDel atomically retrieves and deletes a key.
// The read and the delete happen under a single write lock, so two
// concurrent consumers of the same key cannot both succeed.
func (s *Store) GetDel(ctx context.Context, key string) ([]byte, error) {
	ctx, span := s.startStorageSpan(ctx, "getdel")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "getdel", err, startTime)
	}()

	if key == "" {
		err = fmt.Errorf("key cannot be empty")
		return nil, err
	}

	s.mu.Lock()
	e, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
		s.keysCountAtomic.Add(-1)
	}
	enc := s.encryptor
	s.mu.Unlock()

	if !ok || s.expired(e) {
		err = storage.ErrNotFound
		return nil, err
	}

	var value []byte
	value, err = s.decryptValue(enc, e.value)
	if err != nil {
		return nil, err
	}
	return value, nil
}

// expired reports whether an entry's TTL has elapsed
func (s *Store) expired(e entry) bool {
	return !e.expiresAt.IsZero() && !time.Now().Before(e.expiresAt)
}

// encryptValue encrypts a value if an encryptor is configured.
// The stored bytes are the base64 ciphertext produced by the encryptor.
func (s *Store) encryptValue(enc *security.Encryptor, value []byte) ([]byte, error) {
	if enc == nil || !enc.IsEnabled() {
		// Copy so callers cannot mutate stored state afterwards
		cp := make([]byte, len(value))
		copy(cp, value)
		return cp, nil
	}
	ciphertext, err := enc.Encrypt(string(value))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt value: %w", err)
	}
	return []byte(ciphertext), nil
}

// decryptValue decrypts a stored value if an encryptor is configured
func (s *Store) decryptValue(enc *security.Encryptor, stored []byte) ([]byte, error) {
	if enc == nil || !enc.IsEnabled() {
		cp := make([]byte, len(stored))
		copy(cp, stored)
		return cp, nil
	}
	plaintext, err := enc.Decrypt(string(stored))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt value: %w", err)
	}
	return []byte(plaintext), nil
}

// startStorageSpan starts a tracing span for a storage operation (nil-safe)
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	s.mu.RLock()
	tracer := s.tracer
	s.mu.RUnlock()

	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, "storage.memory."+operation)
}

// recordStorageOperation records metrics and span status for an operation
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if err != nil {
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}

	s.mu.RLock()
	inst := s.instrumentation
	s.mu.RUnlock()

	if inst == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
		if err == storage.ErrNotFound {
			result = "not_found"
		}
	}
	inst.Metrics().RecordStorageOperation(ctx, operation, result, float64(time.Since(startTime).Milliseconds()))
}

// cleanupLoop periodically removes expired entries
func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup removes all expired entries
func (s *Store) cleanup() {
	now := time.Now()

	s.mu.Lock()
	removed := 0
	for key, e := range s.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	if removed > 0 {
		s.keysCountAtomic.Add(int64(-removed))
	}
	logger := s.logger
	s.mu.Unlock()

	if removed > 0 {
		logger.Debug("Cleaned up expired entries", "removed", removed)
	}
}
