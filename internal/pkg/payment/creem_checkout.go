package payment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/text2rednote/rednotepay/app/models"
	"github.com/text2rednote/rednotepay/app/repository"
)

// FailureProviderUnavailable is the failure reason of orders whose checkout
// session could not be created.
const FailureProviderUnavailable = "provider_unavailable"

// reserved metadata keys are always set by the server.
var creemReservedMetadata = map[string]struct{}{
	"external_order_id": {},
	"order_id":          {},
	"user_id":           {},
	"user_token":        {},
	"credits":           {},
	"product_id":        {},
}

// CreemConfig holds the redirect settings for creem checkouts.
type CreemConfig struct {
	AppBaseURL string
	SuccessURL string
	CancelURL  string
}

type CreemCheckoutInput struct {
	ProductID  string            `json:"product_id"`
	SuccessURL string            `json:"success_url"`
	CancelURL  string            `json:"cancel_url"`
	Email      string            `json:"email"`
	Metadata   map[string]string `json:"metadata"`
}

type CreemCheckoutResponse struct {
	Success     bool   `json:"success"`
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
	OrderID     string `json:"order_id"`
}

// CreemCheckout opens creem hosted checkouts for catalog products.
type CreemCheckout struct {
	cfg     CreemConfig
	base    *url.URL
	client  CheckoutCreator
	catalog *Catalog
	orders  *OrderService
	store   repository.OrderRepository
}

func NewCreemCheckout(cfg CreemConfig, client CheckoutCreator, catalog *Catalog, orders *OrderService, store repository.OrderRepository) *CreemCheckout {
	base, err := url.Parse(strings.TrimSpace(cfg.AppBaseURL))
	if err != nil || !base.IsAbs() {
		base = nil
	}
	return &CreemCheckout{cfg: cfg, base: base, client: client, catalog: catalog, orders: orders, store: store}
}

// Initiate creates the pending order and the hosted session. When creem
// cannot create the session the order is marked failed and
// ErrProviderUnavailable is returned.
func (c *CreemCheckout) Initiate(ctx context.Context, purchaser Purchaser, in CreemCheckoutInput) (*CreemCheckoutResponse, error) {
	if !purchaser.valid() {
		countCheckout(models.PaymentProviderCreem, "rejected")
		return nil, ErrUnauthenticated
	}
	if c.client == nil {
		countCheckout(models.PaymentProviderCreem, "rejected")
		return nil, ErrProviderNotEnabled
	}
	product, err := c.catalog.Lookup(in.ProductID)
	if err != nil {
		countCheckout(models.PaymentProviderCreem, "rejected")
		return nil, err
	}

	email := models.NormalizeEmail(in.Email)
	if email == "" {
		email = models.NormalizeEmail(purchaser.Email)
	}
	successURL := redirectOrDefault(in.SuccessURL, c.base, c.cfg.SuccessURL)
	cancelURL := redirectOrDefault(in.CancelURL, c.base, c.cfg.CancelURL)

	clientMeta := make(map[string]string, len(in.Metadata))
	for k, v := range in.Metadata {
		if _, reserved := creemReservedMetadata[strings.ToLower(strings.TrimSpace(k))]; reserved {
			continue
		}
		clientMeta[k] = v
	}

	order, err := c.orders.CreatePendingOrder(ctx, purchaser, product, models.PaymentProviderCreem, "", map[string]interface{}{
		"success_url":     successURL,
		"cancel_url":      cancelURL,
		"email":           email,
		"client_metadata": clientMeta,
	})
	if err != nil {
		countCheckout(models.PaymentProviderCreem, "error")
		return nil, fmt.Errorf("create pending order: %w", err)
	}

	meta := make(map[string]string, len(clientMeta)+4)
	for k, v := range clientMeta {
		meta[k] = v
	}
	meta["external_order_id"] = order.ExternalOrderID
	meta["user_id"] = purchaser.UserID
	meta["credits"] = strconv.FormatInt(product.Credits, 10)
	meta["product_id"] = product.ID

	req := CreemCheckoutRequest{
		ProductID:  product.ProviderProductID,
		RequestID:  order.ExternalOrderID,
		SuccessURL: successURL,
		Metadata:   meta,
	}
	if email != "" {
		req.Customer = &CreemCustomer{Email: email}
	}

	session, err := c.client.CreateCheckout(ctx, req)
	if err != nil {
		c.abandon(ctx, order.ExternalOrderID, err)
		countCheckout(models.PaymentProviderCreem, "provider_error")
		if errors.Is(err, ErrProviderUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	if session.ID != "" {
		if err := c.store.SetProviderSession(ctx, order.ExternalOrderID, session.ID); err != nil {
			fiberlog.Warnf("[Checkout] could not store creem session %s for order %s: %v", session.ID, order.ExternalOrderID, err)
		}
	}

	countCheckout(models.PaymentProviderCreem, "created")
	fiberlog.Infof("[Checkout] creem order %s created for user %s (%s, session %s)", order.ExternalOrderID, purchaser.UserID, product.ID, session.ID)
	return &CreemCheckoutResponse{
		Success:     true,
		CheckoutURL: session.CheckoutURL,
		SessionID:   session.ID,
		OrderID:     order.ExternalOrderID,
	}, nil
}

// abandon closes an order whose session was never created.
func (c *CreemCheckout) abandon(ctx context.Context, externalOrderID string, cause error) {
	cleanupCtx, cancel := detached(ctx, 5*time.Second)
	defer cancel()
	if _, err := c.store.MarkFailed(cleanupCtx, externalOrderID, FailureProviderUnavailable, time.Now()); err != nil {
		fiberlog.Errorf("[Checkout] could not close order %s after provider failure: %v", externalOrderID, err)
		return
	}
	fiberlog.Warnf("[Checkout] creem session failed for order %s: %v", externalOrderID, cause)
}
