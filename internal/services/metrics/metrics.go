package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Egham-7/token-gate/internal/models"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Auth outcomes.
const (
	AuthSuccess            = "success"
	AuthUnauthorized       = "unauthorized"
	AuthInsufficientTokens = "insufficient_tokens"
	AuthError              = "error"
)

// Recorder is nil-safe: every method on a nil *Recorder is a no-op.
type Recorder struct {
	authTotal        metric.Int64Counter
	rateLimitTotal   metric.Int64Counter
	cacheTotal       metric.Int64Counter
	tokensConsumed   metric.Int64Counter
	tokensPurchased  metric.Int64Counter
	tokensRefunded   metric.Int64Counter
	operationSeconds metric.Float64Histogram

	provider *sdkmetric.MeterProvider
	handler  http.Handler
}

// New returns nil when metrics are disabled.
func New(cfg models.MetricsConfig) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("token-gate")
	ns := cfg.Namespace

	r := &Recorder{
		provider: provider,
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}

	if r.authTotal, err = meter.Int64Counter(ns+"_auth_total",
		metric.WithDescription("Credential validations by outcome")); err != nil {
		return nil, fmt.Errorf("failed to create auth counter: %w", err)
	}
	if r.rateLimitTotal, err = meter.Int64Counter(ns+"_rate_limit_decisions_total",
		metric.WithDescription("Rate limit decisions by feature and result")); err != nil {
		return nil, fmt.Errorf("failed to create rate limit counter: %w", err)
	}
	if r.cacheTotal, err = meter.Int64Counter(ns+"_cache_lookups_total",
		metric.WithDescription("Cache lookups by result")); err != nil {
		return nil, fmt.Errorf("failed to create cache counter: %w", err)
	}
	if r.tokensConsumed, err = meter.Int64Counter(ns+"_tokens_consumed_total",
		metric.WithDescription("Tokens consumed from account balances")); err != nil {
		return nil, fmt.Errorf("failed to create tokens consumed counter: %w", err)
	}
	if r.tokensPurchased, err = meter.Int64Counter(ns+"_tokens_purchased_total",
		metric.WithDescription("Tokens added through purchases")); err != nil {
		return nil, fmt.Errorf("failed to create tokens purchased counter: %w", err)
	}
	if r.tokensRefunded, err = meter.Int64Counter(ns+"_tokens_refunded_total",
		metric.WithDescription("Tokens returned by reconciliation")); err != nil {
		return nil, fmt.Errorf("failed to create tokens refunded counter: %w", err)
	}
	if r.operationSeconds, err = meter.Float64Histogram(ns+"_operation_duration_seconds",
		metric.WithDescription("Gated operation duration in seconds")); err != nil {
		return nil, fmt.Errorf("failed to create operation histogram: %w", err)
	}

	return r, nil
}

// Handler serves the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return r.handler
}

func (r *Recorder) Shutdown(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Shutdown(ctx)
}

func (r *Recorder) RecordAuth(ctx context.Context, outcome string) {
	if r == nil {
		return
	}
	r.authTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (r *Recorder) RecordRateLimit(ctx context.Context, feature string, allowed bool) {
	if r == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "limited"
	}
	r.rateLimitTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("feature", feature),
		attribute.String("result", result),
	))
}

func (r *Recorder) RecordCacheLookup(ctx context.Context, hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (r *Recorder) RecordTokensConsumed(ctx context.Context, tier models.Tier, tokens int64) {
	if r == nil || tokens <= 0 {
		return
	}
	r.tokensConsumed.Add(ctx, tokens, metric.WithAttributes(attribute.String("tier", string(tier))))
}

func (r *Recorder) RecordTokensPurchased(ctx context.Context, tokens int64) {
	if r == nil || tokens <= 0 {
		return
	}
	r.tokensPurchased.Add(ctx, tokens)
}

func (r *Recorder) RecordTokensRefunded(ctx context.Context, tokens int64) {
	if r == nil || tokens <= 0 {
		return
	}
	r.tokensRefunded.Add(ctx, tokens)
}

func (r *Recorder) RecordOperation(ctx context.Context, operation string, duration time.Duration, err error) {
	if r == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.operationSeconds.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	))
}
