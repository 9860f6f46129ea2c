package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/wrldarena/arena/internal/pkg/middleware"
	"github.com/wrldarena/arena/internal/pkg/session"
)

type HttpRouter struct {
	ctrl Controllers
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init session unless one was injected
	if session.GetSessionStore() == nil {
		session.NewSessionStore()
	}

	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware)

	h.registerPublicRoutes(app)
}

func NewHttpRouter(ctrl Controllers) *HttpRouter {
	return &HttpRouter{ctrl: ctrl}
}
