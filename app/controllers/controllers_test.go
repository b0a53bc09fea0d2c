package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/text2rednote/rednotepay/app/models"
	"github.com/text2rednote/rednotepay/app/repository"
	"github.com/text2rednote/rednotepay/internal/pkg/credits"
	"github.com/text2rednote/rednotepay/internal/pkg/payment"
	"github.com/text2rednote/rednotepay/internal/pkg/usercontext"
)

const (
	testPID         = "1001"
	testEpayKey     = "epay-secret"
	testCreemSecret = "whsec_test"
	ownerID         = "user-1"
	ownerEmail      = "buyer@example.com"
)

type testEnv struct {
	app   *fiber.App
	store *repository.MemoryStore
}

// asUser stands in for the bearer middleware; an empty id leaves the request anonymous.
func asUser(c *fiber.Ctx) error {
	if id := c.Get("X-Test-User"); id != "" {
		usercontext.Set(c, usercontext.UserContext{UserID: id, Email: c.Get("X-Test-Email"), IsLoggedIn: true})
	}
	return c.Next()
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := repository.NewMemoryStore()
	_, err := store.Credits().CreateUser(context.Background(), &models.User{ID: ownerID, Email: ownerEmail}, 0)
	require.NoError(t, err)

	ledger := credits.NewService(store, nil, models.DefaultStartingCredits)
	orders := payment.NewOrderService(store.Orders(), ledger)
	pc := &PaymentController{
		EpayReconciler:  payment.NewEpayReconciler(payment.NewEpayVerifier(testEpayKey, payment.VerificationEnforced), testPID, store, ledger),
		CreemReconciler: payment.NewCreemReconciler(payment.NewCreemVerifier(testCreemSecret, payment.VerificationEnforced), store, ledger),
		EpayCheckout: payment.NewEpayCheckout(payment.EpayConfig{
			MerchantID: testPID,
			Key:        testEpayKey,
			GatewayURL: "https://pay.example.cn",
			SiteName:   "Text to RedNote",
			NotifyURL:  "https://api.example.com/api/payment/epay/notify",
			ReturnURL:  "https://app.example.com/payment/result",
		}, payment.DefaultEpayCatalog(), orders),
		Orders: store.Orders(),
	}
	cc := &CreditsController{Credits: ledger}
	hc := &HealthController{Store: store}

	app := fiber.New()
	app.Get("/healthz", hc.HandleHealthz)
	app.Get("/api/payment/epay/notify", pc.HandleEpayNotify)
	app.Post("/api/payment/creem/webhook", pc.HandleCreemWebhook)
	app.Post("/api/credits/spend", cc.HandleSpend)
	api := app.Group("/api", asUser)
	api.Post("/payment/epay/checkout", pc.HandleEpayCheckout)
	api.Post("/payment/creem/checkout", pc.HandleCreemCheckout)
	api.Get("/payment/orders/:id", pc.HandleGetOrder)
	api.Get("/credits", cc.HandleGetBalance)
	api.Get("/credits/history", cc.HandleGetHistory)

	return &testEnv{app: app, store: store}
}

func (e *testEnv) do(t *testing.T, req *http.Request) (int, string) {
	t.Helper()
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func (e *testEnv) pendingOrder(t *testing.T, productID, provider string) *models.Order {
	t.Helper()
	catalog := payment.DefaultEpayCatalog()
	method := payment.EpayTypeAlipay
	if provider == models.PaymentProviderCreem {
		catalog = payment.DefaultCreemCatalog(nil)
		method = ""
	}
	product, err := catalog.Lookup(productID)
	require.NoError(t, err)
	order, err := payment.NewOrderService(e.store.Orders(), credits.NewService(e.store, nil, 0)).CreatePendingOrder(context.Background(), payment.Purchaser{UserID: ownerID, Email: ownerEmail}, product, provider, method, nil)
	require.NoError(t, err)
	return order
}

func jsonRequest(method, target, body, userID string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-Test-User", userID)
		req.Header.Set("X-Test-Email", ownerEmail)
	}
	return req
}

func signedNotify(order *models.Order, money, status string) string {
	params := map[string]string{
		"pid":          testPID,
		"trade_no":     "T" + order.ExternalOrderID,
		"out_trade_no": order.ExternalOrderID,
		"type":         payment.EpayTypeAlipay,
		"money":        money,
		"trade_status": status,
	}
	params["sign"] = payment.EpaySign(params, testEpayKey)
	params["sign_type"] = "MD5"
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	return "/api/payment/epay/notify?" + q.Encode()
}

func TestHandleEpayNotify(t *testing.T) {
	env := newTestEnv(t)
	order := env.pendingOrder(t, payment.ProductCredits100, models.PaymentProviderEpay)

	status, body := env.do(t, httptest.NewRequest(http.MethodGet, signedNotify(order, "35.00", "TRADE_SUCCESS"), nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "success", body)

	// redelivery is acknowledged without a second grant
	status, body = env.do(t, httptest.NewRequest(http.MethodGet, signedNotify(order, "35.00", "TRADE_SUCCESS"), nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "success", body)

	balance, err := env.store.Credits().GetBalance(context.Background(), ownerID)
	require.NoError(t, err)
	assert.EqualValues(t, 100, balance)
}

func TestHandleEpayNotify_Rejections(t *testing.T) {
	env := newTestEnv(t)
	order := env.pendingOrder(t, payment.ProductCredits500, models.PaymentProviderEpay)

	tampered := strings.Replace(signedNotify(order, "140.00", "TRADE_SUCCESS"), "money=140.00", "money=1.00", 1)
	status, body := env.do(t, httptest.NewRequest(http.MethodGet, tampered, nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "SIGN_FAIL", body)

	status, body = env.do(t, httptest.NewRequest(http.MethodGet, signedNotify(order, "1.00", "TRADE_SUCCESS"), nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "AMOUNT_MISMATCH", body)

	missing := &models.Order{ExternalOrderID: "RN20260101000000deadbeefdeadbeef"}
	status, body = env.do(t, httptest.NewRequest(http.MethodGet, signedNotify(missing, "35.00", "TRADE_SUCCESS"), nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ORDER_NOT_FOUND", body)

	stored, err := env.store.Orders().GetByExternalOrderID(context.Background(), order.ExternalOrderID)
	require.NoError(t, err)
	assert.True(t, stored.IsPending())
}

func TestHandleCreemWebhook(t *testing.T) {
	env := newTestEnv(t)
	order := env.pendingOrder(t, payment.ProductCredits100, models.PaymentProviderCreem)
	body := `{"id":"evt_1","eventType":"checkout.completed","object":{"request_id":"` + order.ExternalOrderID + `","order":{"id":"ord_1"},"metadata":{"user_id":"` + ownerID + `"}}}`

	tests := []struct {
		name       string
		header     string
		value      string
		wantStatus int
		wantBody   string
	}{
		{name: "missing signature", wantStatus: http.StatusBadRequest, wantBody: `"error":"signature_missing"`},
		{name: "wrong signature", header: "creem-signature", value: "deadbeef", wantStatus: http.StatusUnauthorized, wantBody: `"error":"signature_invalid"`},
		{name: "valid", header: "x-creem-signature", value: payment.SignCreemPayload([]byte(body), testCreemSecret), wantStatus: http.StatusOK, wantBody: `"received":true`},
		{name: "redelivery", header: "creem-signature", value: payment.SignCreemPayload([]byte(body), testCreemSecret), wantStatus: http.StatusOK, wantBody: `"outcome":"already_paid"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/payment/creem/webhook", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			status, resp := env.do(t, req)
			assert.Equal(t, tt.wantStatus, status)
			assert.Contains(t, resp, tt.wantBody)
		})
	}

	balance, err := env.store.Credits().GetBalance(context.Background(), ownerID)
	require.NoError(t, err)
	assert.EqualValues(t, 100, balance)
}

func TestHandleEpayCheckout(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, jsonRequest(http.MethodPost, "/api/payment/epay/checkout", `{"product_id":"credits_100","payment_type":"alipay"}`, ""))
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := env.do(t, jsonRequest(http.MethodPost, "/api/payment/epay/checkout", `{"product_id":"credits_100","payment_type":"paypal"}`, ownerID))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "invalid_payment_type")

	status, body = env.do(t, jsonRequest(http.MethodPost, "/api/payment/epay/checkout", `{"name":"100 Credits","price":1,"credits":100,"payment_type":"alipay"}`, ownerID))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "selection_mismatch")

	status, body = env.do(t, jsonRequest(http.MethodPost, "/api/payment/epay/checkout", `{bad`, ownerID))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "invalid_request")

	status, body = env.do(t, jsonRequest(http.MethodPost, "/api/payment/epay/checkout", `{"product_id":"credits_100","payment_type":"alipay"}`, ownerID))
	require.Equal(t, http.StatusOK, status, body)
	var out payment.EpayCheckoutResponse
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	assert.Equal(t, "https://pay.example.cn/submit.php", out.GatewayURL)
	assert.Equal(t, "35.00", out.FormFields["money"])

	order, err := env.store.Orders().GetByExternalOrderID(context.Background(), out.ExternalOrderID)
	require.NoError(t, err)
	assert.True(t, order.IsPending())
	assert.Equal(t, ownerID, order.UserID)
}

func TestHandleEpayCheckout_FirstPurchaseIsCredited(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	status, body := env.do(t, jsonRequest(http.MethodPost, "/api/payment/epay/checkout", `{"product_id":"credits_100","payment_type":"wxpay"}`, "fresh-user"))
	require.Equal(t, http.StatusOK, status, body)
	var out payment.EpayCheckoutResponse
	require.NoError(t, json.Unmarshal([]byte(body), &out))

	user, err := env.store.Credits().GetUser(ctx, "fresh-user")
	require.NoError(t, err, "checkout provisions the ledger user")
	assert.EqualValues(t, models.DefaultStartingCredits, user.Credits)

	order, err := env.store.Orders().GetByExternalOrderID(ctx, out.ExternalOrderID)
	require.NoError(t, err)
	status, body = env.do(t, httptest.NewRequest(http.MethodGet, signedNotify(order, "35.00", "TRADE_SUCCESS"), nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "success", body)

	balance, err := env.store.Credits().GetBalance(ctx, "fresh-user")
	require.NoError(t, err)
	assert.EqualValues(t, models.DefaultStartingCredits+100, balance)
}

func TestHandleCreemCheckout_NotConfigured(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.do(t, jsonRequest(http.MethodPost, "/api/payment/creem/checkout", `{"product_id":"credits_100"}`, ownerID))
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, body, "provider_not_enabled")
}

func TestHandleGetOrder_OwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	order := env.pendingOrder(t, payment.ProductCredits1200, models.PaymentProviderEpay)
	target := "/api/payment/orders/" + order.ExternalOrderID

	status, body := env.do(t, jsonRequest(http.MethodGet, target, "", ownerID))
	require.Equal(t, http.StatusOK, status, body)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	assert.Equal(t, models.OrderStatusPending, out["status"])
	assert.Equal(t, "280.00", out["amount"])
	assert.Nil(t, out["paid_at"])

	status, _ = env.do(t, jsonRequest(http.MethodGet, target, "", "someone-else"))
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = env.do(t, jsonRequest(http.MethodGet, "/api/payment/orders/RN-missing", "", ownerID))
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = env.do(t, jsonRequest(http.MethodGet, target, "", ""))
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestCreditsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	const newUser = "user-new"

	status, body := env.do(t, jsonRequest(http.MethodGet, "/api/credits", "", newUser))
	require.Equal(t, http.StatusOK, status, body)
	assert.Contains(t, body, `"credits":10`)

	status, body = env.do(t, jsonRequest(http.MethodPost, "/api/credits/spend", `{"user_id":"user-new","amount":4,"reference":"gen-1"}`, ""))
	require.Equal(t, http.StatusOK, status, body)
	assert.Contains(t, body, `"credits":6`)

	status, body = env.do(t, jsonRequest(http.MethodPost, "/api/credits/spend", `{"user_id":"user-new","amount":7}`, ""))
	assert.Equal(t, http.StatusPaymentRequired, status)
	assert.Contains(t, body, "insufficient_credits")

	status, _ = env.do(t, jsonRequest(http.MethodPost, "/api/credits/spend", `{"user_id":"user-new","amount":0}`, ""))
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, jsonRequest(http.MethodPost, "/api/credits/spend", `{"user_id":"ghost","amount":1}`, ""))
	assert.Equal(t, http.StatusNotFound, status)

	status, body = env.do(t, jsonRequest(http.MethodGet, "/api/credits/history?limit=5", "", newUser))
	require.Equal(t, http.StatusOK, status, body)
	var out struct {
		Entries []models.CreditHistory `json:"entries"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	require.Len(t, out.Entries, 2)
	assert.EqualValues(t, -4, out.Entries[0].Amount)
	assert.Equal(t, models.CreditReasonSignupBonus, out.Entries[1].Reason)

	status, _ = env.do(t, jsonRequest(http.MethodGet, "/api/credits", "", ""))
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestHandleHealthz(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"status":"ok"`)
}
