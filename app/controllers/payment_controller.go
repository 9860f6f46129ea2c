package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/wrldarena/arena/app/models"
	"github.com/wrldarena/arena/internal/pkg/billing"
	"github.com/wrldarena/arena/internal/pkg/flutterwave"
	"github.com/wrldarena/arena/internal/pkg/pending"
	"github.com/wrldarena/arena/internal/pkg/reconciler"
	"github.com/wrldarena/arena/internal/pkg/usercontext"
	"github.com/wrldarena/arena/internal/pkg/verify"
)

// PaymentTracker is the per-device reconciler surface the payment API drives.
type PaymentTracker interface {
	Begin(ctx context.Context, slot string, in reconciler.BeginInput) (pending.PendingPayment, error)
	HandleCheckout(ctx context.Context, slot, txRef string, outcome reconciler.Outcome) error
	Refresh(slot string) (bool, error)
	Pending(ctx context.Context, slot string) []pending.PendingPayment
}

// PaymentVerifier answers verification requests with sentinel errors.
type PaymentVerifier interface {
	Verify(ctx context.Context, txRef, provider string) (verify.Result, error)
}

// CheckoutBuilder builds the inline widget payload.
type CheckoutBuilder interface {
	CheckoutConfig(in flutterwave.CheckoutInput) flutterwave.CheckoutConfig
}

// CounterSnapshotter reads the payment outcome counters.
type CounterSnapshotter interface {
	Snapshot(ctx context.Context) (map[string]int64, error)
}

// PaymentController serves the payment API.
type PaymentController struct {
	payments PaymentTracker
	verifier PaymentVerifier
	billing  *billing.Service
	checkout CheckoutBuilder
	counters CounterSnapshotter
	db       *gorm.DB

	checkoutTitle string
	checkoutLogo  string
}

type PaymentControllerConfig struct {
	Payments PaymentTracker
	Verifier PaymentVerifier
	Billing  *billing.Service
	Checkout CheckoutBuilder
	Counters CounterSnapshotter
	DB       *gorm.DB

	CheckoutTitle string
	CheckoutLogo  string
}

func NewPaymentController(cfg PaymentControllerConfig) *PaymentController {
	return &PaymentController{
		payments:      cfg.Payments,
		verifier:      cfg.Verifier,
		billing:       cfg.Billing,
		checkout:      cfg.Checkout,
		counters:      cfg.Counters,
		db:            cfg.DB,
		checkoutTitle: cfg.CheckoutTitle,
		checkoutLogo:  cfg.CheckoutLogo,
	}
}

type verifyRequest struct {
	TxRef    string `json:"tx_ref" validate:"required"`
	Provider string `json:"provider"`
}

// HandleVerify reports the gateway status of a payment by client reference.
// Failures keep the {status, message} body so callers can treat any non-2xx
// answer as failed.
func (pc *PaymentController) HandleVerify(c *fiber.Ctx) error {
	var req verifyRequest
	if err := bindJSON(c, &req); err != nil {
		if errors.Is(err, errBadBody) {
			return c.Status(fiber.StatusInternalServerError).JSON(verify.Result{Status: verify.StatusFailed, Message: "Internal server error"})
		}
		return c.Status(fiber.StatusBadRequest).JSON(verify.Result{Status: verify.StatusFailed, Message: "Missing tx_ref parameter"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := pc.verifier.Verify(ctx, req.TxRef, req.Provider)
	if err != nil {
		return c.Status(verifyErrorStatus(err)).JSON(verify.Result{Status: verify.StatusFailed, Message: res.Message})
	}
	return c.JSON(res)
}

func verifyErrorStatus(err error) int {
	switch {
	case errors.Is(err, verify.ErrMissingTxRef), errors.Is(err, verify.ErrUnsupportedProvider):
		return fiber.StatusBadRequest
	case errors.Is(err, verify.ErrTransactionNotFound):
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

type checkoutRequest struct {
	PlanID string `json:"plan_id" validate:"required,max=64"`
}

// HandleCheckout records a new attempt for the session device and returns
// the widget config to open.
func (pc *PaymentController) HandleCheckout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req checkoutRequest
	if err := bindJSON(c, &req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "plan_id is required")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	plan, err := pc.billing.FindPricingPlan(ctx, req.PlanID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Plan not found")
		}
		log.Errorf("[Payment] Failed to load plan %s: %v", req.PlanID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load plan")
	}

	p, err := pc.payments.Begin(ctx, userCtx.DeviceID, reconciler.BeginInput{
		UserID:   userCtx.UserID,
		Plan:     pending.PlanFromModel(*plan),
		Currency: userCtx.Currency,
	})
	if err != nil {
		if errors.Is(err, reconciler.ErrInvalidInput) || errors.Is(err, billing.ErrUnknownPlanPeriod) {
			return jsonError(c, fiber.StatusBadRequest, "invalid_plan", err.Error())
		}
		log.Errorf("[Payment] Failed to begin checkout for user %d: %v", userCtx.UserID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to start payment")
	}

	email, name := userCtx.Email, userCtx.Username
	if email == "" && pc.db != nil {
		if u, err := models.FindUserByID(pc.db, userCtx.UserID); err == nil {
			email, name = u.Email, u.Name
		}
	}

	cfg := pc.checkout.CheckoutConfig(flutterwave.CheckoutInput{
		TxRef:         p.TxRef,
		Amount:        p.Amount,
		Currency:      p.Currency,
		CustomerEmail: email,
		CustomerName:  name,
		UserID:        p.UserID,
		PlanPeriod:    p.Plan.Period,
		PlanName:      p.Plan.Name,
		PlanPrice:     p.Plan.Price,
		Title:         pc.checkoutTitle,
		Logo:          pc.checkoutLogo,
		CreatedAt:     p.CreatedAt(),
	})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"payment":  p,
		"checkout": cfg,
	})
}

type widgetResponse struct {
	Status        string      `json:"status"`
	TransactionID json.Number `json:"transaction_id"`
	TxRef         string      `json:"tx_ref"`
}

type callbackRequest struct {
	TxRef    string         `json:"tx_ref" validate:"required"`
	Event    string         `json:"event" validate:"required,oneof=callback close"`
	Response widgetResponse `json:"response"`
}

// outcome maps what the widget reported onto a checkout outcome.
func (r callbackRequest) outcome() reconciler.Outcome {
	if r.Event == "close" {
		return reconciler.WindowClosed{}
	}
	switch strings.ToLower(r.Response.Status) {
	case "successful", "completed":
		return reconciler.Success{TransactionID: r.Response.TransactionID.String(), Reference: r.Response.TxRef}
	default:
		return reconciler.Failure{Reason: r.Response.Status}
	}
}

// HandleCallback applies the checkout widget callback or close event.
func (pc *PaymentController) HandleCallback(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req callbackRequest
	if err := bindJSON(c, &req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "tx_ref and event are required")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := pc.payments.HandleCheckout(ctx, userCtx.DeviceID, req.TxRef, req.outcome()); err != nil {
		switch {
		case errors.Is(err, pending.ErrNotFound):
			return jsonError(c, fiber.StatusNotFound, "not_found", "Payment not found")
		case errors.Is(err, reconciler.ErrInvalidInput):
			return jsonError(c, fiber.StatusBadRequest, "invalid_request", err.Error())
		default:
			log.Errorf("[Payment] Checkout outcome for %s failed: %v", req.TxRef, err)
			return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to record payment outcome")
		}
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"ok": true})
}

// HandleRefresh queues a sweep of the device's pending payments.
func (pc *PaymentController) HandleRefresh(c *fiber.Ctx) error {
	queued, err := pc.payments.Refresh(usercontext.GetDeviceID(c))
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	}
	if !queued {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"queued": false, "message": "Verification already in progress"})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"queued": true})
}

// HandlePending lists the device's pending payments.
func (pc *PaymentController) HandlePending(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	payments := pc.payments.Pending(ctx, usercontext.GetDeviceID(c))
	if payments == nil {
		payments = []pending.PendingPayment{}
	}
	return c.JSON(fiber.Map{"payments": payments})
}

// HandleStats returns the payment outcome counters.
func (pc *PaymentController) HandleStats(c *fiber.Ctx) error {
	if pc.counters == nil {
		return c.JSON(fiber.Map{"counters": fiber.Map{}})
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	snap, err := pc.counters.Snapshot(ctx)
	if err != nil {
		log.Errorf("[Payment] Failed to read counters: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to read counters")
	}
	return c.JSON(fiber.Map{"counters": snap})
}
