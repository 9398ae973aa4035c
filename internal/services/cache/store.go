package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Egham-7/token-gate/internal/services/metrics"
	"github.com/Egham-7/token-gate/internal/utils"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

const defaultTTL = time.Hour

// Store is the read-through memoization layer. Reads never fail: a miss, a
// backend error and an undecodable payload all look like "not cached".
type Store struct {
	backend    Backend
	prefix     string
	defaultTTL time.Duration
	metrics    *metrics.Recorder
}

type Option func(*Store)

// WithKeyPrefix is prepended before the cache namespace, e.g. "tg:" -> "tg:cache:<key>".
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Store) { s.metrics = r }
}

func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:    backend,
		defaultTTL: defaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(key string) string {
	return s.prefix + CacheNamespace + key
}

// Set serializes value as JSON and stores it. ttl <= 0 uses the default TTL.
// Errors are logged and returned; callers may ignore them.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	payload, err := utils.MarshalJSON(value)
	if err != nil {
		fiberlog.Warnf("CacheStore: failed to encode value for key %s: %v", key, err)
		return fmt.Errorf("failed to encode cache value: %w", err)
	}

	if err := s.backend.Set(ctx, s.key(key), payload, ttl); err != nil {
		fiberlog.Warnf("CacheStore: failed to store key %s: %v", key, err)
		return err
	}
	return nil
}

// Get decodes the entry under key into dest and reports whether it did.
func (s *Store) Get(ctx context.Context, key string, dest any) bool {
	raw, found, err := s.backend.Get(ctx, s.key(key))
	if err != nil {
		fiberlog.Warnf("CacheStore: lookup failed for key %s: %v", key, err)
		s.metrics.RecordCacheLookup(ctx, false)
		return false
	}
	if !found {
		fiberlog.Debugf("CacheStore: miss for key %s", key)
		s.metrics.RecordCacheLookup(ctx, false)
		return false
	}

	if err := decode(raw, dest); err != nil {
		fiberlog.Warnf("CacheStore: failed to decode key %s: %v", key, err)
		s.metrics.RecordCacheLookup(ctx, false)
		return false
	}

	s.metrics.RecordCacheLookup(ctx, true)
	return true
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, s.key(key))
}

// Get is the typed form of Store.Get.
func Get[T any](ctx context.Context, s *Store, key string) (T, bool) {
	var out T
	if !s.Get(ctx, key, &out) {
		var zero T
		return zero, false
	}
	return out, true
}

func decode(raw any, dest any) error {
	var data []byte
	switch v := raw.(type) {
	case nil:
		return fmt.Errorf("nil cache value")
	case string:
		data = []byte(v)
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		// Already decoded by the backend; round-trip to reach dest's type.
		encoded, err := json.Marshal(v)
		if err != nil {
			return err
		}
		data = encoded
	}
	return json.Unmarshal(data, dest)
}
