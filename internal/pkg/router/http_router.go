package router

import (
	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/text2rednote/rednotepay/internal/pkg/constants"
	"github.com/text2rednote/rednotepay/internal/pkg/metrics"
)

type HttpRouter struct {
	deps Dependencies
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get(constants.HealthRoute, h.deps.Health.HandleHealthz)

	// register collectors before the first scrape
	metrics.Get()
	metricsHandler := adaptor.HTTPHandler(promhttp.Handler())
	if h.deps.MetricsUser != "" {
		app.Get(constants.MetricsRoute, basicauth.New(basicauth.Config{
			Users: map[string]string{
				h.deps.MetricsUser: h.deps.MetricsPassword,
			},
		}), metricsHandler)
	} else {
		app.Get(constants.MetricsRoute, func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusNotFound)
		})
	}

	// SWAGGER / OPENAPI
	if h.deps.DocsFile != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: constants.DocsRoute,
			FilePath: h.deps.DocsFile,
			Path:     "v1",
		}))
	}
}

func NewHttpRouter(deps Dependencies) *HttpRouter {
	return &HttpRouter{deps: deps}
}
