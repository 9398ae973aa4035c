package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/Egham-7/token-gate/internal/services/cache"
	"github.com/Egham-7/token-gate/internal/services/metrics"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

type Result struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"-"`
}

// Headers renders the standard rate-limit response headers. Retry-After is
// only present on limited results.
func (r Result) Headers() map[string]string {
	h := map[string]string{
		HeaderLimit:     strconv.Itoa(r.Limit),
		HeaderRemaining: strconv.Itoa(r.Remaining),
		HeaderReset:     strconv.FormatInt(r.ResetAt.Unix(), 10),
	}
	if !r.Allowed {
		h[HeaderRetryAfter] = strconv.FormatInt(retryAfterSeconds(r.RetryAfter), 10)
	}
	return h
}

func retryAfterSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}

type Info struct {
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Limiter is a fixed-window request counter. It fails open: when the counter
// backend is unreachable every request is allowed.
type Limiter struct {
	counter cache.WindowCounter
	now     func() time.Time
	metrics *metrics.Recorder
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(l *Limiter) { l.metrics = r }
}

func New(counter cache.WindowCounter, opts ...Option) *Limiter {
	l := &Limiter{
		counter: counter,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Identity composes a per-feature identity so each feature is limited independently.
func Identity(feature, subject string) string {
	return feature + ":" + subject
}

// Check counts one request against identity. The limit-th request in a window
// is allowed; the next one is rejected until ResetAt.
func (l *Limiter) Check(ctx context.Context, identity string, limit int, window time.Duration) Result {
	now := l.now()

	w, err := l.counter.Incr(ctx, identity, window)
	if err != nil {
		fiberlog.Warnf("RateLimiter: counter unavailable for %s, allowing request: %v", identity, err)
		return Result{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit,
			ResetAt:   now.Add(window),
		}
	}

	result := Result{
		Allowed: w.Count <= int64(limit),
		Limit:   limit,
		ResetAt: w.ResetAt,
	}
	if result.Allowed {
		result.Remaining = limit - int(w.Count)
	} else {
		result.RetryAfter = w.ResetAt.Sub(now)
		if result.RetryAfter < 0 {
			result.RetryAfter = 0
		}
		fiberlog.Debugf("RateLimiter: %s limited (%d/%d), retry after %s", identity, w.Count, limit, result.RetryAfter)
	}
	return result
}

// Info reports the current window without counting a request. A missing or
// expired window reads as unused.
func (l *Limiter) Info(ctx context.Context, identity string, limit int, window time.Duration) Info {
	now := l.now()
	fresh := Info{Used: 0, Remaining: limit, ResetAt: now.Add(window)}

	w, ok, err := l.counter.Peek(ctx, identity)
	if err != nil {
		fiberlog.Warnf("RateLimiter: counter unavailable for %s: %v", identity, err)
		return fresh
	}
	if !ok || !w.ResetAt.After(now) {
		return fresh
	}

	used := int(w.Count)
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Info{Used: used, Remaining: remaining, ResetAt: w.ResetAt}
}

// Allow is Check plus metrics, keyed by feature and subject.
func (l *Limiter) Allow(ctx context.Context, feature, subject string, limit int, window time.Duration) Result {
	result := l.Check(ctx, Identity(feature, subject), limit, window)
	l.metrics.RecordRateLimit(ctx, feature, result.Allowed)
	return result
}
