package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/text2rednote/rednotepay/app/controllers"
)

// Router installs a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the handlers and settings the routers need.
type Dependencies struct {
	Payments *controllers.PaymentController
	Credits  *controllers.CreditsController
	Health   *controllers.HealthController

	JWTSecret      string
	InternalAPIKey string

	// LimiterStorage backs the rate limiter; nil keeps counters in memory.
	LimiterStorage fiber.Storage

	MetricsUser     string
	MetricsPassword string

	// DocsFile is the OpenAPI document served under /docs/api. Empty disables it.
	DocsFile string
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	// HttpRouter goes first so /healthz and /metrics stay outside the API
	// limiter.
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
