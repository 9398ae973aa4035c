package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Egham-7/token-gate/internal/models"
	"github.com/Egham-7/token-gate/internal/services/apikey"
	"github.com/Egham-7/token-gate/internal/services/database"
	"github.com/Egham-7/token-gate/internal/services/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db     *database.DB
	ledger *ledger.Service
	keys   *apikey.Service
	auth   *Authenticator
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.New(models.DatabaseConfig{Type: models.SQLite, FilePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	f := &fixture{db: db, now: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	f.ledger = ledger.NewService(db.DB, ledger.WithClock(clock))
	f.keys = apikey.NewService(db.DB, f.ledger)
	f.auth = NewAuthenticator(f.keys, f.ledger, WithClock(clock))
	return f
}

func (f *fixture) issue(t *testing.T, owner string, tier models.Tier) string {
	t.Helper()
	ctx := context.Background()
	_, err := f.ledger.CreateAccount(ctx, owner, tier)
	require.NoError(t, err)
	resp, err := f.keys.CreateAPIKey(ctx, &models.APIKeyCreateRequest{OwnerID: owner, Name: "test"})
	require.NoError(t, err)
	return resp.Key
}

func TestValidateRejectsMalformedWithoutLookup(t *testing.T) {
	a := NewAuthenticator(nil, nil)
	ctx := context.Background()

	for _, credential := range []string{"", "sk_live_abc", "apk_short"} {
		_, err := a.Validate(ctx, credential, 0)
		assert.ErrorIs(t, err, ErrUnauthorized, credential)
	}
}

func TestValidateUniformUnauthorized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.issue(t, "acct", models.TierVerified)

	unknown, err := models.GenerateAPIKey()
	require.NoError(t, err)
	_, err = f.auth.Validate(ctx, unknown, 0)
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Expired key.
	expiring, err := f.keys.CreateAPIKey(ctx, &models.APIKeyCreateRequest{OwnerID: "acct", ExpiresAt: f.now.Add(time.Hour)})
	require.NoError(t, err)
	_, err = f.auth.Validate(ctx, expiring.Key, 0)
	require.NoError(t, err)
	f.now = f.now.Add(2 * time.Hour)
	_, err = f.auth.Validate(ctx, expiring.Key, 0)
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Revoked key.
	stored, err := f.keys.GetByHash(ctx, models.HashAPIKey(key))
	require.NoError(t, err)
	require.NoError(t, f.keys.RevokeAPIKey(ctx, "acct", stored.ID))
	_, err = f.auth.Validate(ctx, key, 0)
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Key whose account is gone.
	orphan, err := models.GenerateAPIKey()
	require.NoError(t, err)
	require.NoError(t, f.db.Create(&models.APIKey{
		KeyHash:    models.HashAPIKey(orphan),
		KeyPreview: models.PreviewAPIKey(orphan),
		OwnerID:    "ghost",
		IsActive:   true,
	}).Error)
	_, err = f.auth.Validate(ctx, orphan, 0)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestValidateWithoutChargeStampsLastUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.issue(t, "acct", models.TierFree)

	result, err := f.auth.Validate(ctx, key, 0)
	require.NoError(t, err)
	assert.Equal(t, "acct", result.Account.ID)
	assert.Equal(t, int64(0), result.Charged)
	assert.Equal(t, models.UsageSnapshot{
		TokensRemaining: 100,
		DailyFreeTokens: 100,
		DailyRemaining:  100,
		Tier:            models.TierFree,
	}, result.Usage)

	stored, err := f.keys.GetByHash(ctx, models.HashAPIKey(key))
	require.NoError(t, err)
	assert.False(t, stored.LastUsedAt.IsZero())
}

func TestValidateChargesEstimatedCost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.issue(t, "acct", models.TierFree)

	result, err := f.auth.Validate(ctx, key, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(30), result.Charged)
	assert.Equal(t, int64(70), result.Usage.TokensRemaining)
	assert.Equal(t, int64(30), result.Usage.TokensUsed)

	txs, err := f.ledger.Transactions(ctx, "acct", 5, 0)
	require.NoError(t, err)
	require.NotEmpty(t, txs)
	assert.Equal(t, result.APIKey.ID, txs[0].APIKeyID)
}

func TestValidateInsufficientTokensIsDistinct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.issue(t, "acct", models.TierFree)

	_, err := f.auth.Validate(ctx, key, 101)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, err, ledger.ErrInsufficientTokens)

	var ite *ledger.InsufficientTokensError
	require.True(t, errors.As(err, &ite))
	assert.Equal(t, int64(100), ite.Remaining)
	assert.Equal(t, int64(1), ite.Shortfall())

	account, err := f.ledger.GetAccount(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, int64(100), account.Balance.Total)
}

func TestValidateAppliesDailyReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.issue(t, "acct", models.TierFree)

	_, err := f.auth.Validate(ctx, key, 100)
	require.NoError(t, err)
	_, err = f.auth.Validate(ctx, key, 1)
	require.ErrorIs(t, err, ledger.ErrInsufficientTokens)

	f.now = f.now.Add(24 * time.Hour)
	result, err := f.auth.Validate(ctx, key, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(99), result.Usage.TokensRemaining)
}

func TestValidateFailsClosedOnBackendError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.issue(t, "acct", models.TierFree)
	require.NoError(t, f.db.Close())

	result, err := f.auth.Validate(ctx, key, 10)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, ledger.ErrInsufficientTokens)
}

func TestValidateLegacyAccounts(t *testing.T) {
	t.Run("lazy migration disabled", func(t *testing.T) {
		f := newFixture(t)
		f.ledger = ledger.NewService(f.db.DB, ledger.WithClock(func() time.Time { return f.now }), ledger.WithLazyMigration(false))
		f.auth = NewAuthenticator(f.keys, f.ledger, WithClock(func() time.Time { return f.now }))
		ctx := context.Background()

		require.NoError(t, f.db.Create(&models.Account{ID: "old", Kind: models.AccountKindLegacy, Tier: models.TierFree}).Error)
		key, err := models.GenerateAPIKey()
		require.NoError(t, err)
		require.NoError(t, f.db.Create(&models.APIKey{
			KeyHash:    models.HashAPIKey(key),
			KeyPreview: models.PreviewAPIKey(key),
			OwnerID:    "old",
			IsActive:   true,
		}).Error)

		for _, cost := range []int64{0, 10} {
			result, err := f.auth.Validate(ctx, key, cost)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, ErrUnauthorized)
		}
	})

	t.Run("lazy migration enabled", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		require.NoError(t, f.db.Create(&models.Account{ID: "old", Kind: models.AccountKindLegacy, Tier: models.TierVerified}).Error)
		key, err := models.GenerateAPIKey()
		require.NoError(t, err)
		require.NoError(t, f.db.Create(&models.APIKey{
			KeyHash:    models.HashAPIKey(key),
			KeyPreview: models.PreviewAPIKey(key),
			OwnerID:    "old",
			IsActive:   true,
		}).Error)

		result, err := f.auth.Validate(ctx, key, 0)
		require.NoError(t, err)
		require.NotNil(t, result.Account)
		assert.False(t, result.Account.IsLegacy())
		assert.Equal(t, int64(500), result.Usage.TokensRemaining)
	})
}

func TestValidateMissingAccountChargesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	orphan, err := models.GenerateAPIKey()
	require.NoError(t, err)
	require.NoError(t, f.db.Create(&models.APIKey{
		KeyHash:    models.HashAPIKey(orphan),
		KeyPreview: models.PreviewAPIKey(orphan),
		OwnerID:    "ghost",
		IsActive:   true,
	}).Error)

	_, err = f.auth.Validate(ctx, orphan, 25)
	assert.ErrorIs(t, err, ErrUnauthorized)

	var count int64
	require.NoError(t, f.db.Model(&models.TokenTransaction{}).Where("account_id = ?", "ghost").Count(&count).Error)
	assert.Zero(t, count)
}
