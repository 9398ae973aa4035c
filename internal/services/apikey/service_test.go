package apikey

import (
	"context"
	"testing"
	"time"

	"github.com/Egham-7/token-gate/internal/models"
	"github.com/Egham-7/token-gate/internal/services/database"
	"github.com/Egham-7/token-gate/internal/services/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *ledger.Service) {
	t.Helper()
	db, err := database.New(models.DatabaseConfig{Type: models.SQLite, FilePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())
	require.NoError(t, Migrate(db.DB))

	ledgerSvc := ledger.NewService(db.DB)
	return NewService(db.DB, ledgerSvc), ledgerSvc
}

func TestCreateAPIKeyEnforcesTierLimit(t *testing.T) {
	svc, ledgerSvc := newTestService(t)
	ctx := context.Background()
	_, err := ledgerSvc.CreateAccount(ctx, "acct", models.TierFree)
	require.NoError(t, err)

	resp, err := svc.CreateAPIKey(ctx, &models.APIKeyCreateRequest{OwnerID: "acct", Name: "cli"})
	require.NoError(t, err)
	assert.True(t, models.ValidAPIKeyFormat(resp.Key))
	assert.Equal(t, models.PreviewAPIKey(resp.Key), resp.KeyPreview)
	assert.Equal(t, models.TierFree, resp.Tier)

	_, err = svc.CreateAPIKey(ctx, &models.APIKeyCreateRequest{OwnerID: "acct", Name: "second"})
	require.ErrorIs(t, err, ErrAPIKeyLimitReached)
	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 1, limitErr.Allowance.Max)

	require.NoError(t, svc.RevokeAPIKey(ctx, "acct", resp.ID))
	_, err = svc.CreateAPIKey(ctx, &models.APIKeyCreateRequest{OwnerID: "acct", Name: "replacement"})
	assert.NoError(t, err)
}

func TestStoredKeyIsHashed(t *testing.T) {
	svc, ledgerSvc := newTestService(t)
	ctx := context.Background()
	_, err := ledgerSvc.CreateAccount(ctx, "acct", models.TierVerified)
	require.NoError(t, err)

	resp, err := svc.CreateAPIKey(ctx, &models.APIKeyCreateRequest{OwnerID: "acct"})
	require.NoError(t, err)

	stored, err := svc.GetByHash(ctx, models.HashAPIKey(resp.Key))
	require.NoError(t, err)
	assert.NotEqual(t, resp.Key, stored.KeyHash)
	assert.Len(t, stored.KeyHash, 64)

	_, err = svc.GetByHash(ctx, models.HashAPIKey("apk_nope"))
	assert.ErrorIs(t, err, ErrAPIKeyNotFound)

	list, err := svc.ListAPIKeys(ctx, "acct")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Empty(t, list[0].Key)
}

func TestRevokeAndTouch(t *testing.T) {
	svc, ledgerSvc := newTestService(t)
	ctx := context.Background()
	_, err := ledgerSvc.CreateAccount(ctx, "acct", models.TierVerified)
	require.NoError(t, err)
	resp, err := svc.CreateAPIKey(ctx, &models.APIKeyCreateRequest{OwnerID: "acct"})
	require.NoError(t, err)

	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	require.NoError(t, svc.Touch(ctx, resp.ID))

	stored, err := svc.GetByHash(ctx, models.HashAPIKey(resp.Key))
	require.NoError(t, err)
	assert.True(t, stored.LastUsedAt.Equal(now))

	assert.ErrorIs(t, svc.RevokeAPIKey(ctx, "someone-else", resp.ID), ErrAPIKeyNotFound)
	require.NoError(t, svc.RevokeAPIKey(ctx, "acct", resp.ID))

	stored, err = svc.GetByHash(ctx, models.HashAPIKey(resp.Key))
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
}

func TestCreateAPIKeyUnknownOwner(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.CreateAPIKey(context.Background(), &models.APIKeyCreateRequest{OwnerID: "ghost"})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}
