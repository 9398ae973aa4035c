package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Egham-7/token-gate/internal/models"
	"github.com/Egham-7/token-gate/internal/services/ledger"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/webhook"
)

var (
	ErrUnknownPack      = errors.New("unknown token pack")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

const (
	metaAccountID = "account_id"
	metaPackID    = "pack_id"
	metaTokens    = "tokens"
)

type sessionCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type StripeService struct {
	cfg      models.BillingConfig
	ledger   *ledger.Service
	sessions sessionCreator
}

func NewStripeService(cfg models.BillingConfig, ledgerSvc *ledger.Service) *StripeService {
	return &StripeService{
		cfg:    cfg,
		ledger: ledgerSvc,
		sessions: &session.Client{
			B:   stripe.GetBackend(stripe.APIBackend),
			Key: cfg.Stripe.SecretKey,
		},
	}
}

func (s *StripeService) Packs() []models.TokenPack {
	return s.cfg.Packs
}

// CreateCheckoutSession opens a one-off payment for a token pack. Tokens are
// only credited once the completed session comes back through the webhook.
func (s *StripeService) CreateCheckoutSession(ctx context.Context, accountID, packID string) (*stripe.CheckoutSession, error) {
	pack, ok := s.cfg.Pack(packID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPack, packID)
	}

	// Checkout is refused for accounts that cannot be credited.
	if _, err := s.ledger.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	currency := strings.ToLower(pack.Currency)
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currency),
					UnitAmount: stripe.Int64(pack.PriceCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(pack.Name),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(accountID),
		SuccessURL:        stripe.String(s.cfg.SuccessURL),
		CancelURL:         stripe.String(s.cfg.CancelURL),
		Metadata: map[string]string{
			metaAccountID: accountID,
			metaPackID:    pack.ID,
			metaTokens:    strconv.FormatInt(pack.Tokens, 10),
		},
	}
	params.Context = ctx

	sess, err := s.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	fiberlog.Infof("StripeService: checkout %s opened for %s (%s)", sess.ID, accountID, pack.ID)
	return sess, nil
}

// HandleWebhook verifies and applies a Stripe event. Redelivered sessions are
// acknowledged without crediting twice.
func (s *StripeService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.cfg.Stripe.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	switch string(event.Type) {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		return s.handleCheckoutSessionCompleted(ctx, event)
	default:
		fiberlog.Debugf("StripeService: ignoring event %s", event.Type)
		return nil
	}
}

func (s *StripeService) handleCheckoutSessionCompleted(ctx context.Context, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("failed to parse checkout session: %w", err)
	}

	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		fiberlog.Infof("StripeService: session %s not paid yet (%s)", sess.ID, sess.PaymentStatus)
		return nil
	}

	accountID := sess.Metadata[metaAccountID]
	if accountID == "" {
		accountID = sess.ClientReferenceID
	}
	tokens, err := s.tokensFor(sess.Metadata)
	if err != nil {
		return err
	}
	if accountID == "" || tokens <= 0 {
		return fmt.Errorf("invalid checkout session metadata for %s", sess.ID)
	}

	amountPaid := float64(sess.AmountTotal) / 100.0

	_, err = s.ledger.AddTokens(ctx, accountID, tokens, amountPaid,
		ledger.WithStripeSession(sess.ID),
		ledger.WithDescription(fmt.Sprintf("Token purchase via Stripe (%d tokens)", tokens)),
		ledger.WithMetadata(models.Metadata{
			metaPackID:    sess.Metadata[metaPackID],
			"amount_paid": amountPaid,
		}))
	if errors.Is(err, ledger.ErrAlreadyApplied) {
		fiberlog.Infof("StripeService: session %s already applied", sess.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to add tokens: %w", err)
	}
	return nil
}

// tokensFor prefers the configured pack size over the session's own metadata.
func (s *StripeService) tokensFor(meta map[string]string) (int64, error) {
	if pack, ok := s.cfg.Pack(meta[metaPackID]); ok {
		return pack.Tokens, nil
	}
	raw := meta[metaTokens]
	if raw == "" {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPack, meta[metaPackID])
	}
	tokens, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token amount: %w", err)
	}
	return tokens, nil
}
