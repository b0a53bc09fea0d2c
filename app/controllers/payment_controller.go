package controllers

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/text2rednote/rednotepay/app/repository"
	"github.com/text2rednote/rednotepay/internal/pkg/payment"
	"github.com/text2rednote/rednotepay/internal/pkg/usercontext"
)

const (
	webhookTimeout  = 15 * time.Second
	checkoutTimeout = 20 * time.Second
)

// PaymentController serves the provider webhooks and the checkout endpoints.
// A nil reconciler or initiator means the provider is not configured.
type PaymentController struct {
	EpayReconciler  *payment.EpayReconciler
	CreemReconciler *payment.CreemReconciler
	EpayCheckout    *payment.EpayCheckout
	CreemCheckout   *payment.CreemCheckout
	Orders          repository.OrderRepository
}

// HandleEpayNotify answers the epay async notification with the plain text
// token the gateway expects.
func (pc *PaymentController) HandleEpayNotify(c *fiber.Ctx) error {
	if pc.EpayReconciler == nil {
		return c.Status(fiber.StatusServiceUnavailable).SendString("FAIL")
	}
	query, err := url.ParseQuery(string(c.Request().URI().QueryString()))
	if err != nil {
		fiberlog.Warnf("[Epay] notify query could not be fully parsed: %v", err)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), webhookTimeout)
	defer cancel()

	res := pc.EpayReconciler.ReconcileNotify(ctx, query)
	status, body := res.Outcome.EpayReply()
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(status).SendString(body)
}

// HandleCreemWebhook verifies and applies a creem webhook delivery.
func (pc *PaymentController) HandleCreemWebhook(c *fiber.Ctx) error {
	if pc.CreemReconciler == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "provider_not_enabled", "message": "Creem is not configured"})
	}
	rawBody := append([]byte(nil), c.Body()...)
	signature := firstHeaderValue(c, payment.CreemSignatureHeaders...)

	ctx, cancel := context.WithTimeout(c.UserContext(), webhookTimeout)
	defer cancel()

	res := pc.CreemReconciler.ReconcileWebhook(ctx, rawBody, signature)
	status := res.Outcome.CreemStatus()
	if status == fiber.StatusOK {
		return c.JSON(fiber.Map{"received": true, "outcome": string(res.Outcome)})
	}
	msg := string(res.Outcome)
	if res.Err != nil {
		msg = res.Err.Error()
	}
	return c.Status(status).JSON(fiber.Map{"error": string(res.Outcome), "message": msg})
}

// HandleEpayCheckout creates a pending epay order and returns the signed
// gateway redirect.
func (pc *PaymentController) HandleEpayCheckout(c *fiber.Ctx) error {
	if pc.EpayCheckout == nil {
		return checkoutError(c, payment.ErrProviderNotEnabled)
	}
	var req payment.EpayCheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid JSON body"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), checkoutTimeout)
	defer cancel()

	resp, err := pc.EpayCheckout.Initiate(ctx, purchaserFrom(c), req)
	if err != nil {
		return checkoutError(c, err)
	}
	return c.JSON(resp)
}

// HandleCreemCheckout creates a pending creem order and a hosted checkout session.
func (pc *PaymentController) HandleCreemCheckout(c *fiber.Ctx) error {
	if pc.CreemCheckout == nil {
		return checkoutError(c, payment.ErrProviderNotEnabled)
	}
	var in payment.CreemCheckoutInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid JSON body"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), checkoutTimeout)
	defer cancel()

	resp, err := pc.CreemCheckout.Initiate(ctx, purchaserFrom(c), in)
	if err != nil {
		return checkoutError(c, err)
	}
	return c.JSON(resp)
}

// HandleGetOrder lets the purchaser poll the state of one of their orders.
func (pc *PaymentController) HandleGetOrder(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}
	id := strings.TrimSpace(c.Params("id"))
	order, err := pc.Orders.GetByExternalOrderID(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Order not found"})
		}
		fiberlog.Errorf("[Payment] order lookup %s failed: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load order"})
	}
	// Other users' orders look exactly like missing ones.
	if order.UserID != userCtx.UserID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Order not found"})
	}

	return c.JSON(fiber.Map{
		"order_id":        order.ExternalOrderID,
		"provider":        order.Provider,
		"product_ref":     order.ProductRef,
		"status":          order.Status,
		"amount":          order.Amount.StringFixed(2),
		"currency":        order.Currency,
		"credits_granted": order.CreditsGranted,
		"created_at":      formatTimePtr(&order.CreatedAt),
		"paid_at":         formatTimePtr(order.PaidAt),
		"failed_at":       formatTimePtr(order.FailedAt),
	})
}

func purchaserFrom(c *fiber.Ctx) payment.Purchaser {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return payment.Purchaser{}
	}
	return payment.Purchaser{UserID: userCtx.UserID, Email: userCtx.Email}
}

func checkoutError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, payment.ErrUnauthenticated):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	case errors.Is(err, payment.ErrUnknownProduct):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_product", "message": err.Error()})
	case errors.Is(err, payment.ErrSelectionMismatch):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "selection_mismatch", "message": err.Error()})
	case errors.Is(err, payment.ErrInvalidPaymentType):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payment_type", "message": err.Error()})
	case errors.Is(err, payment.ErrProviderUnavailable):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_unavailable", "message": "Payment provider is unavailable, please try again"})
	case errors.Is(err, payment.ErrProviderNotEnabled):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "provider_not_enabled", "message": "Payment provider is not configured"})
	default:
		fiberlog.Errorf("[Checkout] unexpected error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Checkout failed"})
	}
}

func firstHeaderValue(c *fiber.Ctx, keys ...string) string {
	for _, k := range keys {
		v := strings.TrimSpace(c.Get(k))
		if v != "" {
			return v
		}
	}
	return ""
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
