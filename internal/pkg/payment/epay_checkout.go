package payment

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/text2rednote/rednotepay/app/models"
)

const (
	EpayTypeAlipay = "alipay"
	EpayTypeWxpay  = "wxpay"
)

// EpayConfig holds the merchant settings for epay checkouts.
type EpayConfig struct {
	MerchantID string
	Key        string
	GatewayURL string
	SiteName   string
	NotifyURL  string
	ReturnURL  string
}

type EpayCheckoutRequest struct {
	ProductID   string           `json:"product_id"`
	Name        string           `json:"name"`
	Price       *decimal.Decimal `json:"price"`
	Credits     *int64           `json:"credits"`
	PaymentType string           `json:"payment_type"`
}

type EpayCheckoutResponse struct {
	ExternalOrderID string            `json:"order_id"`
	PaymentURL      string            `json:"payment_url"`
	FormFields      map[string]string `json:"form_fields"`
	GatewayURL      string            `json:"gateway_url"`
}

// EpayCheckout builds signed epay payment requests.
type EpayCheckout struct {
	cfg     EpayConfig
	catalog *Catalog
	orders  *OrderService
}

func NewEpayCheckout(cfg EpayConfig, catalog *Catalog, orders *OrderService) *EpayCheckout {
	cfg.GatewayURL = strings.TrimRight(strings.TrimSpace(cfg.GatewayURL), "/")
	return &EpayCheckout{cfg: cfg, catalog: catalog, orders: orders}
}

// Initiate validates the selection against the catalog, creates the pending
// order and returns the signed redirect.
func (c *EpayCheckout) Initiate(ctx context.Context, purchaser Purchaser, in EpayCheckoutRequest) (*EpayCheckoutResponse, error) {
	if !purchaser.valid() {
		countCheckout(models.PaymentProviderEpay, "rejected")
		return nil, ErrUnauthenticated
	}
	if c.cfg.MerchantID == "" || c.cfg.Key == "" || c.cfg.GatewayURL == "" {
		countCheckout(models.PaymentProviderEpay, "rejected")
		return nil, ErrProviderNotEnabled
	}
	payType := strings.ToLower(strings.TrimSpace(in.PaymentType))
	if payType != EpayTypeAlipay && payType != EpayTypeWxpay {
		countCheckout(models.PaymentProviderEpay, "rejected")
		return nil, ErrInvalidPaymentType
	}
	product, err := c.catalog.Resolve(Selection{ProductID: in.ProductID, Name: in.Name, Price: in.Price, Credits: in.Credits})
	if err != nil {
		countCheckout(models.PaymentProviderEpay, "rejected")
		return nil, err
	}

	order, err := c.orders.CreatePendingOrder(ctx, purchaser, product, models.PaymentProviderEpay, payType, map[string]interface{}{
		"product_name": product.Name,
		"email":        purchaser.Email,
	})
	if err != nil {
		countCheckout(models.PaymentProviderEpay, "error")
		return nil, fmt.Errorf("create pending order: %w", err)
	}

	fields := map[string]string{
		"pid":          c.cfg.MerchantID,
		"type":         payType,
		"out_trade_no": order.ExternalOrderID,
		"notify_url":   c.cfg.NotifyURL,
		"return_url":   c.cfg.ReturnURL,
		"name":         product.Name,
		"money":        product.Price.StringFixed(2),
		"sitename":     c.cfg.SiteName,
	}
	for k, v := range fields {
		if v == "" {
			delete(fields, k)
		}
	}
	fields["sign"] = EpaySign(fields, c.cfg.Key)
	fields["sign_type"] = "MD5"

	query := url.Values{}
	for k, v := range fields {
		query.Set(k, v)
	}
	gateway := c.cfg.GatewayURL + "/submit.php"

	countCheckout(models.PaymentProviderEpay, "created")
	fiberlog.Infof("[Checkout] epay order %s created for user %s (%s, %s CNY)", order.ExternalOrderID, purchaser.UserID, product.ID, fields["money"])
	return &EpayCheckoutResponse{
		ExternalOrderID: order.ExternalOrderID,
		PaymentURL:      gateway + "?" + query.Encode(),
		FormFields:      fields,
		GatewayURL:      gateway,
	}, nil
}
