package billing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Egham-7/token-gate/internal/models"
	"github.com/Egham-7/token-gate/internal/services/database"
	"github.com/Egham-7/token-gate/internal/services/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

const testWebhookSecret = "whsec_test"

type fakeSessions struct {
	params *stripe.CheckoutSessionParams
	err    error
}

func (f *fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1"}, nil
}

func newTestService(t *testing.T) (*StripeService, *ledger.Service, *fakeSessions) {
	t.Helper()
	db, err := database.New(models.DatabaseConfig{Type: models.SQLite, FilePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	ledgerSvc := ledger.NewService(db.DB)
	_, err = ledgerSvc.CreateAccount(context.Background(), "acct", models.TierFree)
	require.NoError(t, err)

	cfg := models.BillingConfig{
		Enabled:    true,
		Stripe:     models.StripeConfig{SecretKey: "sk_test", WebhookSecret: testWebhookSecret},
		SuccessURL: "https://example.test/ok",
		CancelURL:  "https://example.test/cancel",
		Packs: []models.TokenPack{
			{ID: "starter", Name: "Starter", Tokens: 1000, PriceCents: 499, Currency: "USD"},
		},
	}
	svc := NewStripeService(cfg, ledgerSvc)
	fake := &fakeSessions{}
	svc.sessions = fake
	return svc, ledgerSvc, fake
}

func signedEvent(t *testing.T, eventType string, session map[string]any) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(session)
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_1",
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": json.RawMessage(raw)},
	})
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func paidSession(id string) map[string]any {
	return map[string]any{
		"id":             id,
		"object":         "checkout.session",
		"payment_status": "paid",
		"amount_total":   499,
		"metadata":       map[string]string{"account_id": "acct", "pack_id": "starter", "tokens": "1000"},
	}
}

func TestCreateCheckoutSession(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := context.Background()

	sess, err := svc.CreateCheckoutSession(ctx, "acct", "starter")
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", sess.ID)

	require.NotNil(t, fake.params)
	assert.Equal(t, "acct", *fake.params.ClientReferenceID)
	assert.Equal(t, "1000", fake.params.Metadata["tokens"])
	require.Len(t, fake.params.LineItems, 1)
	assert.Equal(t, int64(499), *fake.params.LineItems[0].PriceData.UnitAmount)
	assert.Equal(t, "usd", *fake.params.LineItems[0].PriceData.Currency)

	_, err = svc.CreateCheckoutSession(ctx, "acct", "whale")
	assert.ErrorIs(t, err, ErrUnknownPack)

	_, err = svc.CreateCheckoutSession(ctx, "nobody", "starter")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	fake.err = errors.New("stripe down")
	_, err = svc.CreateCheckoutSession(ctx, "acct", "starter")
	assert.Error(t, err)
}

func TestHandleWebhookCreditsOnce(t *testing.T) {
	svc, ledgerSvc, _ := newTestService(t)
	ctx := context.Background()

	payload, header := signedEvent(t, "checkout.session.completed", paidSession("cs_paid"))
	require.NoError(t, svc.HandleWebhook(ctx, payload, header))
	require.NoError(t, svc.HandleWebhook(ctx, payload, header))

	account, err := ledgerSvc.GetAccount(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), account.Balance.Purchased)
	assert.Equal(t, int64(1100), account.Balance.Total)
	assert.InDelta(t, 4.99, account.Usage.LifetimeAmountSpent, 0.001)
}

func TestHandleWebhookIgnoresUnpaidAndOtherEvents(t *testing.T) {
	svc, ledgerSvc, _ := newTestService(t)
	ctx := context.Background()

	unpaid := paidSession("cs_unpaid")
	unpaid["payment_status"] = "unpaid"
	payload, header := signedEvent(t, "checkout.session.completed", unpaid)
	require.NoError(t, svc.HandleWebhook(ctx, payload, header))

	payload, header = signedEvent(t, "customer.created", map[string]any{"id": "cus_1"})
	require.NoError(t, svc.HandleWebhook(ctx, payload, header))

	account, err := ledgerSvc.GetAccount(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, int64(0), account.Balance.Purchased)
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	svc, _, _ := newTestService(t)

	payload, _ := signedEvent(t, "checkout.session.completed", paidSession("cs_forged"))
	err := svc.HandleWebhook(context.Background(), payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
