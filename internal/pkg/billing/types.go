package billing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentInput is the payment half of a commit. Amount is already in the
// settlement currency.
type PaymentInput struct {
	UserID    uint
	Amount    decimal.Decimal
	Currency  string
	Provider  string
	Status    string
	Reference string
}

// SubscriptionInput is the subscription half of a commit.
type SubscriptionInput struct {
	UserID    uint
	Plan      string
	Status    string
	StartedAt time.Time
	ExpiresAt time.Time
	Reference string
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

// CompositeReference joins the gateway transaction id and the client
// reference. Payments and subscriptions are deduplicated on this value.
func CompositeReference(transactionID, txRef string) string {
	return strings.TrimSpace(transactionID) + " " + strings.TrimSpace(txRef)
}
