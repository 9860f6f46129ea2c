package router

import (
	"github.com/gofiber/fiber/v2"
)

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Billing provider webhooks (no session, verif-hash checked in controller)
	app.Post("/webhooks/flutterwave", h.ctrl.Webhooks.HandleFlutterwaveWebhook)
}
