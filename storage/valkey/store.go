package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/focuswriter/oauth-broker/security"
	"github.com/focuswriter/oauth-broker/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "broker:"

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxValueSize is the maximum size of a stored value (64KB).
	// Session records are small; anything larger indicates a bug or abuse.
	MaxValueSize = 64 * 1024

	// MaxKeyLength is the maximum allowed length for keys
	MaxKeyLength = 256
)

// Validation errors (generic to prevent information leakage)
var (
	errInputTooLarge = fmt.Errorf("input exceeds maximum allowed size")
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "broker:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of storage.Store.
// All TTL handling is delegated to the server, so records expire even if
// the broker never runs again.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger

	// encryptor provides optional value encryption at rest
	// Access must be synchronized via encryptorMu
	encryptor   *security.Encryptor
	encryptorMu sync.RWMutex
}

// Compile-time interface check to ensure Store implements storage.Store
var _ storage.Store = (*Store)(nil)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetEncryptor sets the value encryptor for encryption at rest.
// When set, values are encrypted before being written to Valkey and
// decrypted when retrieved.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.encryptorMu.Lock()
	defer s.encryptorMu.Unlock()
	s.encryptor = enc
	if enc != nil && enc.IsEnabled() {
		s.logger.Info("Value encryption at rest enabled for Valkey storage")
	}
}

// getEncryptor returns the current encryptor (thread-safe)
func (s *Store) getEncryptor() *security.Encryptor {
	s.encryptorMu.RLock()
	defer s.encryptorMu.RUnlock()
	return s.encryptor
}

// Get retrieves the value for a key
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	fullKey, err := s.key(key)
	if err != nil {
		return nil, err
	}

	data, err := s.client.Do(ctx, s.client.B().Get().Key(fullKey).Build()).ToString()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get value: %w", err)
	}

	return s.decode(data)
}

// Put stores a value under a key. A ttl of zero means no expiry.
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	fullKey, err := s.key(key)
	if err != nil {
		return err
	}
	if ttl < 0 {
		return fmt.Errorf("ttl cannot be negative")
	}

	stored, err := s.encode(value)
	if err != nil {
		return err
	}
	if len(stored) > MaxValueSize {
		return errInputTooLarge
	}

	var execErr error
	if ttl > 0 {
		execErr = s.client.Do(ctx, s.client.B().Set().Key(fullKey).Value(stored).Ex(ttl).Build()).Error()
	} else {
		execErr = s.client.Do(ctx, s.client.B().Set().Key(fullKey).Value(stored).Build()).Error()
	}
	if execErr != nil {
		return fmt.Errorf("failed to put value: %w", execErr)
	}
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	fullKey, err := s.key(key)
	if err != nil {
		return err
	}

	if err := s.client.Do(ctx, s.client.B().Del().Key(fullKey).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete value: %w", err)
	}
	return nil
}

// GetDel atomically retrieves and deletes a key using the server-side GETDEL
// command, so two concurrent consumers of the same key cannot both succeed.
func (s *Store) GetDel(ctx context.Context, key string) ([]byte, error) {
	fullKey, err := s.key(key)
	if err != nil {
		return nil, err
	}

	data, err := s.client.Do(ctx, s.client.B().Getdel().Key(fullKey).Build()).ToString()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to getdel value: %w", err)
	}

	return s.decode(data)
}

// key validates a logical key and prepends the configured prefix
func (s *Store) key(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key cannot be empty")
	}
	if len(key) > MaxKeyLength {
		return "", errInputTooLarge
	}
	return s.prefix + key, nil
}

// encode encrypts a value if an encryptor is configured
func (s *Store) encode(value []byte) (string, error) {
	enc := s.getEncryptor()
	if enc == nil || !enc.IsEnabled() {
		return string(value), nil
	}
	ciphertext, err := enc.Encrypt(string(value))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt value: %w", err)
	}
	return ciphertext, nil
}

// decode decrypts a stored value if an encryptor is configured
func (s *Store) decode(data string) ([]byte, error) {
	enc := s.getEncryptor()
	if enc == nil || !enc.IsEnabled() {
		return []byte(data), nil
	}
	plaintext, err := enc.Decrypt(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt value: %w", err)
	}
	return []byte(plaintext), nil
}
