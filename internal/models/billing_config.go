package models

type StripeConfig struct {
	SecretKey     string `json:"secret_key" yaml:"secret_key"`
	WebhookSecret string `json:"webhook_secret" yaml:"webhook_secret"`
}

// TokenPack is a purchasable bundle of tokens.
type TokenPack struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Tokens     int64  `json:"tokens" yaml:"tokens"`
	PriceCents int64  `json:"price_cents" yaml:"price_cents"`
	Currency   string `json:"currency" yaml:"currency"`
}

type BillingConfig struct {
	Enabled    bool         `json:"enabled" yaml:"enabled"`
	Stripe     StripeConfig `json:"stripe" yaml:"stripe"`
	SuccessURL string       `json:"success_url" yaml:"success_url"`
	CancelURL  string       `json:"cancel_url" yaml:"cancel_url"`
	Packs      []TokenPack  `json:"packs" yaml:"packs"`
}

func (b BillingConfig) Pack(id string) (TokenPack, bool) {
	for _, p := range b.Packs {
		if p.ID == id {
			return p, true
		}
	}
	return TokenPack{}, false
}
