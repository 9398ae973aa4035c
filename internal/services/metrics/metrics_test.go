package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Egham-7/token-gate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledRecorderIsNoop(t *testing.T) {
	r, err := New(models.MetricsConfig{Enabled: false})
	require.NoError(t, err)
	require.Nil(t, r)

	ctx := context.Background()
	r.RecordAuth(ctx, AuthSuccess)
	r.RecordRateLimit(ctx, "ops", false)
	r.RecordCacheLookup(ctx, true)
	r.RecordTokensConsumed(ctx, models.TierFree, 10)
	r.RecordOperation(ctx, "op", time.Second, nil)
	assert.NoError(t, r.Shutdown(ctx))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecorderExposesPrometheusMetrics(t *testing.T) {
	r, err := New(models.MetricsConfig{Enabled: true, Namespace: "tg_test"})
	require.NoError(t, err)
	require.NotNil(t, r)
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })

	ctx := context.Background()
	r.RecordAuth(ctx, AuthUnauthorized)
	r.RecordRateLimit(ctx, "summarize", true)
	r.RecordCacheLookup(ctx, false)
	r.RecordTokensConsumed(ctx, models.TierPremium, 42)
	r.RecordTokensPurchased(ctx, 1000)
	r.RecordTokensRefunded(ctx, 3)
	r.RecordOperation(ctx, "summarize", 250*time.Millisecond, errors.New("boom"))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, "tg_test_auth_total")
	assert.Contains(t, text, `outcome="unauthorized"`)
	assert.Contains(t, text, "tg_test_rate_limit_decisions_total")
	assert.Contains(t, text, "tg_test_cache_lookups_total")
	assert.Contains(t, text, "tg_test_tokens_consumed_total")
	assert.Contains(t, text, "tg_test_operation_duration_seconds")
}
