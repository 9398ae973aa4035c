package cache

import (
	"context"
	"errors"
	"time"
)

// Key namespaces. Memoized payloads and rate-limit windows share a physical
// backend but never share keys.
const (
	CacheNamespace     = "cache:"
	RateLimitNamespace = "ratelimit:"
)

var ErrBackendUnavailable = errors.New("cache backend unavailable")

// Backend is raw keyed storage with per-entry expiry.
//
// Get may return a string, a []byte, a json.RawMessage, or a value that was
// stored already decoded; Store normalizes all of them.
type Backend interface {
	Get(ctx context.Context, key string) (value any, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
