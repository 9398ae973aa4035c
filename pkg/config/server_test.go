package config

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/Egham-7/token-gate/internal/models"
	"github.com/Egham-7/token-gate/internal/services/gate"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAdminToken = "admin-secret"

func newTestServer(t *testing.T) *Server {
	t.Helper()

	b := New().
		Environment("production").
		LogLevel("error").
		AdminToken(testAdminToken).
		WithDatabase(models.DatabaseConfig{Type: models.SQLite, FilePath: ":memory:"}).
		WithMetrics("test").
		WithFeatureRateLimit("echo", 3, time.Minute).
		WithOperation(&gate.Operation{
			Name:          "echo",
			EstimatedCost: 10,
			CacheTTL:      time.Minute,
			Run: func(_ context.Context, params map[string]any) (*gate.Outcome, error) {
				return &gate.Outcome{Value: params, Tokens: gate.UseEstimate}, nil
			},
		})

	s := NewServerWithBuilder(b)
	require.NoError(t, s.Setup())
	t.Cleanup(s.Close)
	return s
}

func call(t *testing.T, app *fiber.App, method, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req, 5000)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var payload map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &payload), string(raw))
	}
	return resp, payload
}

func admin() map[string]string {
	return map[string]string{"Authorization": "Bearer " + testAdminToken}
}

func TestServerEndToEnd(t *testing.T) {
	s := newTestServer(t)
	app := s.App()

	resp, _ := call(t, app, http.MethodPost, "/admin/accounts", map[string]any{"id": "acct"}, nil)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, body := call(t, app, http.MethodPost, "/admin/accounts", map[string]any{"id": "acct", "tier": "free"}, admin())
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.EqualValues(t, 100, body["usage"].(map[string]any)["tokensRemaining"])

	resp, _ = call(t, app, http.MethodPost, "/admin/accounts", map[string]any{"id": "acct"}, admin())
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	resp, body = call(t, app, http.MethodPost, "/admin/accounts/acct/api-keys", map[string]any{"name": "ci"}, admin())
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	key := body["key"].(string)
	keyID := int(body["id"].(float64))
	caller := map[string]string{"X-API-Key": key}

	resp, _ = call(t, app, http.MethodPost, "/admin/accounts/acct/api-keys", nil, admin())
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode, "free tier allows one key")

	t.Run("usage", func(t *testing.T) {
		resp, body := call(t, app, http.MethodGet, "/v1/usage", nil, caller)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		usage := body["usage"].(map[string]any)
		assert.EqualValues(t, 100, usage["tokensRemaining"])
		assert.Equal(t, "free", usage["tier"])
		assert.Contains(t, body["rateLimits"], "echo")

		resp, _ = call(t, app, http.MethodGet, "/v1/usage", nil, nil)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("metered operation", func(t *testing.T) {
		resp, body := call(t, app, http.MethodPost, "/v1/ops/echo", map[string]any{"q": "x"}, caller)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
		assert.EqualValues(t, 10, body["charged"])
		assert.Equal(t, "90", resp.Header.Get("X-Tokens-Remaining"))
		assert.Equal(t, "3", resp.Header.Get("X-RateLimit-Limit"))

		resp, body = call(t, app, http.MethodPost, "/v1/ops/echo", map[string]any{"q": "x"}, caller)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
		assert.EqualValues(t, 0, body["charged"])
		assert.Equal(t, map[string]any{"q": "x"}, body["result"])

		resp, _ = call(t, app, http.MethodPost, "/v1/ops/echo", map[string]any{"q": "y"}, caller)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)

		resp, _ = call(t, app, http.MethodPost, "/v1/ops/echo", map[string]any{"q": "z"}, caller)
		assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("Retry-After"))

		resp, _ = call(t, app, http.MethodPost, "/v1/ops/missing", nil, caller)
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

		require.Eventually(t, func() bool {
			_, body := call(t, app, http.MethodGet, "/v1/usage/events", nil, caller)
			data, _ := body["data"].([]any)
			return len(data) >= 4
		}, 2*time.Second, 20*time.Millisecond)
	})

	t.Run("admin ledger operations", func(t *testing.T) {
		resp, body := call(t, app, http.MethodPost, "/admin/accounts/acct/tokens", map[string]any{"amount": 500, "amount_paid": 5}, admin())
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.EqualValues(t, 500, body["usage"].(map[string]any)["purchasedTokens"])

		resp, _ = call(t, app, http.MethodPost, "/admin/accounts/acct/tokens", map[string]any{"amount": 0}, admin())
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

		resp, body = call(t, app, http.MethodPut, "/admin/accounts/acct/tier", map[string]any{"tier": "premium"}, admin())
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		usage := body["usage"].(map[string]any)
		assert.Equal(t, "premium", usage["tier"])
		assert.EqualValues(t, 2500, usage["tokensRemaining"])

		resp, _ = call(t, app, http.MethodPut, "/admin/accounts/acct/tier", map[string]any{"tier": "gold"}, admin())
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

		resp, body = call(t, app, http.MethodGet, "/admin/accounts/acct/transactions", nil, admin())
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, body["data"])

		resp, _ = call(t, app, http.MethodGet, "/admin/accounts/nobody", nil, admin())
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	})

	t.Run("revoked key", func(t *testing.T) {
		resp, _ := call(t, app, http.MethodDelete, "/admin/accounts/acct/api-keys/"+strconv.Itoa(keyID), nil, admin())
		require.Equal(t, fiber.StatusNoContent, resp.StatusCode)

		resp, _ = call(t, app, http.MethodGet, "/v1/usage", nil, caller)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})
}

func TestServerHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	app := s.App()

	resp, body := call(t, app, http.MethodGet, "/health", nil, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "healthy", checks["database"])
	assert.Equal(t, "disabled", checks["redis"])

	call(t, app, http.MethodGet, "/v1/usage", nil, map[string]string{"X-API-Key": "apk_nope"})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "auth_total")

	_, body = call(t, app, http.MethodGet, "/v1/ops", nil, nil)
	ops := body["data"].([]any)
	require.Len(t, ops, 1)
	assert.Equal(t, "echo", ops[0].(map[string]any)["name"])
}

func TestServerTripsBreakerForFailingOperation(t *testing.T) {
	b := New().
		Environment("production").
		LogLevel("error").
		AdminToken(testAdminToken).
		WithDatabase(models.DatabaseConfig{Type: models.SQLite, FilePath: ":memory:"}).
		WithCircuitBreaker(1, time.Hour).
		WithOperation(&gate.Operation{
			Name:          "flaky",
			EstimatedCost: 5,
			Run: func(context.Context, map[string]any) (*gate.Outcome, error) {
				return nil, io.ErrUnexpectedEOF
			},
		})
	s := NewServerWithBuilder(b)
	require.NoError(t, s.Setup())
	t.Cleanup(s.Close)
	app := s.App()

	resp, _ := call(t, app, http.MethodPost, "/admin/accounts", map[string]any{"id": "acct"}, admin())
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	resp, body := call(t, app, http.MethodPost, "/admin/accounts/acct/api-keys", nil, admin())
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	caller := map[string]string{"X-API-Key": body["key"].(string)}

	resp, _ = call(t, app, http.MethodPost, "/v1/ops/flaky", nil, caller)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	resp, body = call(t, app, http.MethodPost, "/v1/ops/flaky", nil, caller)
	require.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	apiErr := body["error"].(map[string]any)
	assert.Equal(t, "unavailable", apiErr["type"])
	assert.Equal(t, true, apiErr["retryable"])

	account, err := s.Ledger().GetAccount(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, int64(100), account.Balance.Total)
}

func TestSetupRejectsInvalidConfig(t *testing.T) {
	s := NewServerWithBuilder(New())
	err := s.Setup()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database")
}

func TestServerPurgesMemoryStoresWithoutRedis(t *testing.T) {
	s := newTestServer(t)
	require.NotNil(t, s.services.purger)
	assert.Equal(t, 0, s.services.purger.RunOnce())
	s.Close()
}
