package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/wrldarena/arena/app/models"
	"github.com/wrldarena/arena/internal/pkg/currency"
	"github.com/wrldarena/arena/internal/pkg/flutterwave"
)

const providerFlutterwave = "flutterwave"

// WebhookOutcome describes what ProcessFlutterwaveCharge did with an event.
type WebhookOutcome string

const (
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookIgnored   WebhookOutcome = "ignored"
	WebhookCommitted WebhookOutcome = "committed"
	// WebhookAlreadyCommitted means the reconciler got there first.
	WebhookAlreadyCommitted WebhookOutcome = "already_committed"
)

// ProcessFlutterwaveCharge records a webhook delivery and, for a successful
// charge carrying user and plan meta, commits it under the same composite
// reference the reconciler uses. Whichever path arrives second is a no-op.
func (s *Service) ProcessFlutterwaveCharge(ctx context.Context, ev *flutterwave.WebhookEvent, payload []byte, signatureValid bool) (WebhookOutcome, error) {
	if ev == nil {
		return "", errors.New("webhook event is required")
	}

	created, stored, err := s.RecordWebhookEvent(ctx, WebhookEventInput{
		Provider:        providerFlutterwave,
		ProviderEventID: ev.TransactionID,
		EventType:       ev.Event,
		PayloadJSON:     string(payload),
		SignatureValid:  signatureValid,
	})
	if err != nil {
		return "", fmt.Errorf("record webhook event: %w", err)
	}
	if !created && stored.ProcessedAt != nil {
		log.Debugf("[Billing] Webhook %s already processed", ev.TransactionID)
		return WebhookDuplicate, nil
	}

	outcome, procErr := s.commitCharge(ctx, ev)
	if markErr := s.MarkWebhookProcessed(ctx, stored.ID, procErr); markErr != nil {
		log.Errorf("[Billing] Failed to mark webhook %d processed: %v", stored.ID, markErr)
	}
	return outcome, procErr
}

func (s *Service) commitCharge(ctx context.Context, ev *flutterwave.WebhookEvent) (WebhookOutcome, error) {
	if ev.Event != flutterwave.EventChargeCompleted || ev.Status != flutterwave.StatusSuccessful {
		log.Infof("[Billing] Ignoring webhook %s (%s, %s)", ev.TxRef, ev.Event, ev.Status)
		return WebhookIgnored, nil
	}
	if ev.UserID == 0 || ev.Plan == "" {
		log.Warnf("[Billing] Webhook %s has no user/plan meta, leaving it to the reconciler", ev.TxRef)
		return WebhookIgnored, nil
	}

	start := s.now()
	expires, err := ExpiresAt(ev.Plan, start)
	if err != nil {
		return "", err
	}

	amount := currency.Convert(ctx, s.rates, decimal.NewFromFloat(ev.Amount), ev.Currency, s.settlement)
	reference := CompositeReference(ev.TransactionID, ev.TxRef)

	created, err := s.Commit(ctx,
		PaymentInput{
			UserID:    ev.UserID,
			Amount:    amount,
			Currency:  s.settlement,
			Provider:  models.PaymentProviderFlutterwave,
			Status:    models.PaymentStatusSuccess,
			Reference: reference,
		},
		SubscriptionInput{
			UserID:    ev.UserID,
			Plan:      ev.Plan,
			Status:    models.SubscriptionStatusActive,
			StartedAt: start,
			ExpiresAt: expires,
			Reference: reference,
		},
	)
	if err != nil {
		return "", err
	}
	if !created {
		return WebhookAlreadyCommitted, nil
	}
	return WebhookCommitted, nil
}
