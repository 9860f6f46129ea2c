package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/wrldarena/arena/internal/pkg/env"
	"github.com/wrldarena/arena/internal/pkg/middleware"
)

type ApiRouter struct {
	ctrl Controllers
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", corsMiddleware(), limiter.New(limiter.Config{
		Max:        env.GetInt("API_RATE_LIMIT", 120),
		Expiration: time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "Too many requests",
			})
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	pc, ac := h.ctrl.Payments, h.ctrl.Account

	api.Get("/pricing", ac.HandlePricing)
	api.Post("/payment/verify", middleware.ServiceKeyMiddleware(h.ctrl.VerifyAPIKey), pc.HandleVerify)

	// Per-device reconciliation
	api.Post("/payment/checkout", middleware.RequireDevice, middleware.RequireAPISessionAuth, pc.HandleCheckout)
	api.Post("/payment/callback", middleware.RequireDevice, pc.HandleCallback)
	api.Post("/payment/refresh", middleware.RequireDevice, pc.HandleRefresh)
	api.Get("/payment/pending", middleware.RequireDevice, pc.HandlePending)

	// Account
	api.Get("/subscription", middleware.RequireAPISessionAuth, ac.HandleSubscription)
	api.Get("/notifications", middleware.RequireAPISessionAuth, ac.HandleNotifications)
	api.Post("/notifications/read", middleware.RequireAPISessionAuth, ac.HandleNotificationsRead)

	// Admin
	api.Get("/payment/stats", middleware.RequireAPIAdmin, pc.HandleStats)
}

func NewApiRouter(ctrl Controllers) *ApiRouter {
	return &ApiRouter{ctrl: ctrl}
}

func corsMiddleware() fiber.Handler {
	origins := env.GetEnv("CORS_ALLOW_ORIGINS", "*")
	return cors.New(cors.Config{
		AllowOrigins: origins,
		// credentials cannot be combined with a wildcard origin
		AllowCredentials: origins != "*",
	})
}
