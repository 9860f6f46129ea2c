package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/wrldarena/arena/app/controllers"
)

// Router mounts a set of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Controllers bundles the handlers the routers mount.
type Controllers struct {
	Payments *controllers.PaymentController
	Account  *controllers.AccountController
	Webhooks *controllers.WebhookController
	// VerifyAPIKey guards the verify endpoint when set.
	VerifyAPIKey string
}

func InstallRouter(app *fiber.App, ctrl Controllers) {
	// Install HttpRouter first to initialize the session store and the
	// global UserContext middleware the API routes depend on.
	setup(app, NewHttpRouter(ctrl), NewApiRouter(ctrl))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
