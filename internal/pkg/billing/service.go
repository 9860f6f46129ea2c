package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/wrldarena/arena/app/models"
	"github.com/wrldarena/arena/internal/pkg/currency"
)

// Service records settled payments and the subscriptions they activate.
type Service struct {
	repo       Repository
	rates      currency.RateSource
	settlement string
	now        func() time.Time
}

// NewService creates a billing service from an injected repository. rates may
// be nil, in which case webhook amounts are stored unconverted.
func NewService(repo Repository, rates currency.RateSource, settlement string) *Service {
	if strings.TrimSpace(settlement) == "" {
		settlement = currency.DefaultSettlementCurrency
	}
	return &Service{repo: repo, rates: rates, settlement: settlement, now: time.Now}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, rates currency.RateSource, settlement string) *Service {
	return NewService(NewRepository(db), rates, settlement)
}

// Commit stores the payment and the subscription it activates in one
// transaction. Both rows are keyed by their reference, so committing the same
// settled attempt again is a no-op; the result reports whether anything new
// was written.
func (s *Service) Commit(ctx context.Context, p PaymentInput, sub SubscriptionInput) (bool, error) {
	if p.UserID == 0 || sub.UserID == 0 {
		return false, errors.New("user_id is required")
	}
	if strings.TrimSpace(p.Reference) == "" || strings.TrimSpace(sub.Reference) == "" {
		return false, errors.New("reference is required")
	}
	if sub.ExpiresAt.Before(sub.StartedAt) {
		return false, errors.New("subscription expires before it starts")
	}

	payment := &models.Payment{
		UserID:    p.UserID,
		Amount:    p.Amount,
		Currency:  strings.ToUpper(strings.TrimSpace(p.Currency)),
		Provider:  p.Provider,
		Status:    p.Status,
		Reference: strings.TrimSpace(p.Reference),
	}
	subscription := &models.Subscription{
		UserID:    sub.UserID,
		Plan:      normalizePeriod(sub.Plan),
		Status:    sub.Status,
		StartedAt: sub.StartedAt.UTC(),
		ExpiresAt: sub.ExpiresAt.UTC(),
		Reference: strings.TrimSpace(sub.Reference),
	}
	if subscription.Status == "" {
		subscription.Status = models.SubscriptionStatusActive
	}

	created := false
	err := s.repo.WithContext(ctx).Transaction(func(repo Repository) error {
		paymentCreated, err := repo.CreatePaymentIfNotExists(payment)
		if err != nil {
			return err
		}
		subCreated, err := repo.CreateSubscriptionIfNotExists(subscription)
		if err != nil {
			return err
		}
		created = paymentCreated || subCreated
		return nil
	})
	if err != nil {
		return false, err
	}

	if created {
		log.Infof("[Billing] Committed %s payment %s %s for user %d (%s)",
			payment.Provider, payment.Amount.String(), payment.Currency, payment.UserID, payment.Reference)
	} else {
		log.Infof("[Billing] Commit for %s already recorded, skipping", payment.Reference)
	}
	return created, nil
}

// ActivePlan returns the subscription that entitles the user at now, the one
// running longest when several overlap, or nil when none does.
func (s *Service) ActivePlan(ctx context.Context, userID uint, now time.Time) (*models.Subscription, error) {
	if userID == 0 {
		return nil, errors.New("user_id is required")
	}

	subs, err := s.repo.WithContext(ctx).ListSubscriptionsByUser(userID)
	if err != nil {
		return nil, err
	}

	var best *models.Subscription
	for i := range subs {
		if !subs[i].IsActiveAt(now) {
			continue
		}
		if best == nil || subs[i].ExpiresAt.After(best.ExpiresAt) {
			best = &subs[i]
		}
	}
	return best, nil
}

// ListPricingPlans returns the plans on offer.
func (s *Service) ListPricingPlans(ctx context.Context) ([]models.PricingPlan, error) {
	return s.repo.WithContext(ctx).ListActivePricingPlans()
}

// FindPricingPlan loads an active plan by id.
func (s *Service) FindPricingPlan(ctx context.Context, id string) (*models.PricingPlan, error) {
	return s.repo.WithContext(ctx).FindPricingPlan(strings.TrimSpace(id))
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	payload := in.PayloadJSON
	if strings.TrimSpace(payload) == "" {
		payload = "{}"
	}
	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		Payload:         []byte(payload),
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.WithContext(ctx).CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.WithContext(ctx).MarkWebhookProcessed(webhookEventID, errMsg)
}
