// Package cache provides a TTL key-value cache for expensive upstream
// responses. Substrate failures never reach callers: they are logged and
// treated as misses.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// Backend is a raw byte store with per-entry expiry. Expired entries must
// read as absent.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Config selects and configures a Backend.
type Config struct {
	Backend    string
	SQLitePath string
	Redis      RedisOptions
}

// Open creates the configured Backend.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemory(), nil
	case BackendSQLite:
		return OpenSQLite(cfg.SQLitePath)
	case BackendRedis:
		return NewRedis(ctx, cfg.Redis)
	case BackendNone:
		return NoOp{}, nil
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
	}
}

// Store is the cache as seen by request handlers.
type Store struct {
	backend  Backend
	logger   *slog.Logger
	onLookup func(hit bool)
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLookupHook registers a callback invoked after every Get.
func WithLookupHook(fn func(hit bool)) StoreOption {
	return func(s *Store) { s.onLookup = fn }
}

// NewStore wraps a backend.
func NewStore(b Backend, logger *slog.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{backend: b, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the live value for key, or false on miss, expiry or any
// backend failure.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	v, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache: get failed", slog.String("key", key), slog.String("error", err.Error()))
		ok = false
	}
	if s.onLookup != nil {
		s.onLookup(ok)
	}
	if !ok {
		return nil, false
	}
	return v, true
}

// Set stores value under key for ttl. Failures are logged only.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := s.backend.Set(ctx, key, value, ttl); err != nil {
		s.logger.Warn("cache: set failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// GetJSON decodes a cached JSON value into out. A value that no longer
// decodes counts as a miss.
func (s *Store) GetJSON(ctx context.Context, key string, out any) bool {
	data, ok := s.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.logger.Warn("cache: decode failed", slog.String("key", key), slog.String("error", err.Error()))
		return false
	}
	return true
}

// SetJSON encodes v as JSON and stores it.
func (s *Store) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("cache: encode failed", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	s.Set(ctx, key, data, ttl)
}

// NoOp never stores anything.
type NoOp struct{}

func (NoOp) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (NoOp) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (NoOp) Close() error { return nil }
