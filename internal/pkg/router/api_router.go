package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/text2rednote/rednotepay/internal/pkg/constants"
	"github.com/text2rednote/rednotepay/internal/pkg/middleware"
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	// Provider callbacks are authenticated by their signature and must never
	// be rate limited.
	app.Get(constants.EpayNotifyRoute, h.deps.Payments.HandleEpayNotify)
	app.Post(constants.CreemWebhookRoute, h.deps.Payments.HandleCreemWebhook)

	limited := limiter.New(limiter.Config{
		Max:        30,
		Expiration: time.Minute,
		Storage:    h.deps.LimiterStorage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited", "message": "Too many requests"})
		},
	})
	auth := middleware.BearerAuth(h.deps.JWTSecret)

	app.Post(constants.EpayCheckoutRoute, limited, auth, h.deps.Payments.HandleEpayCheckout)
	app.Post(constants.CreemCheckoutRoute, limited, auth, h.deps.Payments.HandleCreemCheckout)
	app.Get(constants.OrderStatusRoute, auth, h.deps.Payments.HandleGetOrder)

	app.Get(constants.CreditsRoute, limited, auth, h.deps.Credits.HandleGetBalance)
	app.Get(constants.CreditsHistoryRoute, limited, auth, h.deps.Credits.HandleGetHistory)
	app.Post(constants.CreditsSpendRoute, middleware.InternalKey(h.deps.InternalAPIKey), h.deps.Credits.HandleSpend)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
