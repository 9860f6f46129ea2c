package controllers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/wrldarena/arena/internal/pkg/billing"
	"github.com/wrldarena/arena/internal/pkg/flutterwave"
	"github.com/wrldarena/arena/internal/pkg/metrics/counter"
)

// CounterIncrementer bumps a payment outcome counter.
type CounterIncrementer interface {
	Incr(ctx context.Context, name string) error
}

// WebhookController receives gateway webhooks. They are a second path to
// commit a payment when no browser session is left to reconcile it.
type WebhookController struct {
	billing    *billing.Service
	secretHash string
	counters   CounterIncrementer
}

func NewWebhookController(svc *billing.Service, secretHash string, counters CounterIncrementer) *WebhookController {
	return &WebhookController{billing: svc, secretHash: secretHash, counters: counters}
}

// HandleFlutterwaveWebhook authenticates the verif-hash header, then records
// and applies a charge event.
func (wc *WebhookController) HandleFlutterwaveWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)

	ctx, cancel := requestContext(c)
	defer cancel()

	if wc.counters != nil {
		if err := wc.counters.Incr(ctx, counter.WebhooksSeen); err != nil {
			log.Warnf("[Webhook] Failed to count webhook: %v", err)
		}
	}

	// Unauthenticated deliveries are not recorded, so a retry carrying the
	// right hash is still processed.
	if !flutterwave.VerifyWebhookSignature(c.Get("verif-hash"), wc.secretHash) {
		log.Warnf("[Webhook] Rejected Flutterwave webhook with invalid verif-hash from %s", c.IP())
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	ev, err := flutterwave.ParseWebhookEvent(rawBody)
	if err != nil {
		log.Warnf("[Webhook] Invalid Flutterwave payload: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	outcome, err := wc.billing.ProcessFlutterwaveCharge(ctx, ev, rawBody, true)
	if err != nil {
		log.Errorf("[Webhook] Processing %s failed: %v", ev.TxRef, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_processing_failed"})
	}

	switch outcome {
	case billing.WebhookDuplicate:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	case billing.WebhookIgnored:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	default:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "outcome": outcome})
	}
}
