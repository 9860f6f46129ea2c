package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/wrldarena/arena/app/models"
	"github.com/wrldarena/arena/internal/pkg/billing"
	"github.com/wrldarena/arena/internal/pkg/usercontext"
)

// AccountController serves pricing, subscription state and the
// notifications produced by background reconciliation.
type AccountController struct {
	billing *billing.Service
	db      *gorm.DB
	now     func() time.Time
}

func NewAccountController(svc *billing.Service, db *gorm.DB) *AccountController {
	return &AccountController{billing: svc, db: db, now: time.Now}
}

// HandlePricing lists the active pricing plans.
func (ac *AccountController) HandlePricing(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	plans, err := ac.billing.ListPricingPlans(ctx)
	if err != nil {
		log.Errorf("[Pricing] Failed to list plans: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load pricing plans")
	}
	if plans == nil {
		plans = []models.PricingPlan{}
	}
	return c.JSON(fiber.Map{"plans": plans})
}

// HandleSubscription returns the subscription entitling the user now.
func (ac *AccountController) HandleSubscription(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)

	ctx, cancel := requestContext(c)
	defer cancel()

	sub, err := ac.billing.ActivePlan(ctx, userID, ac.now())
	if err != nil {
		log.Errorf("[Billing] Failed to resolve plan of user %d: %v", userID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load subscription")
	}
	if sub == nil {
		return c.JSON(fiber.Map{"active": false})
	}
	return c.JSON(fiber.Map{"active": true, "subscription": sub})
}

// HandleNotifications returns the user's unread notifications.
func (ac *AccountController) HandleNotifications(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	list, err := models.ListUnreadNotifications(ac.db.WithContext(c.UserContext()), userID)
	if err != nil {
		log.Errorf("[Notify] Failed to list notifications of user %d: %v", userID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load notifications")
	}
	if list == nil {
		list = []models.Notification{}
	}
	return c.JSON(fiber.Map{"notifications": list})
}

type markReadRequest struct {
	IDs []uint `json:"ids" validate:"required,min=1,max=100"`
}

// HandleNotificationsRead marks notifications as read.
func (ac *AccountController) HandleNotificationsRead(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)

	var req markReadRequest
	if err := bindJSON(c, &req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "ids are required")
	}
	if err := models.MarkNotificationsRead(ac.db.WithContext(c.UserContext()), userID, req.IDs); err != nil {
		log.Errorf("[Notify] Failed to mark notifications of user %d: %v", userID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to update notifications")
	}
	return c.JSON(fiber.Map{"ok": true})
}
