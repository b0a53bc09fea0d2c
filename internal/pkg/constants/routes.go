package constants

// Route constants shared by the router and the URLs handed to providers
const (
	EpayNotifyRoute     = "/api/payment/epay/notify"
	CreemWebhookRoute   = "/api/payment/creem/webhook"
	EpayCheckoutRoute   = "/api/payment/epay/checkout"
	CreemCheckoutRoute  = "/api/payment/creem/checkout"
	OrderStatusRoute    = "/api/payment/orders/:id"
	CreditsRoute        = "/api/credits"
	CreditsHistoryRoute = "/api/credits/history"
	CreditsSpendRoute   = "/api/credits/spend"
	HealthRoute         = "/healthz"
	MetricsRoute        = "/metrics"
	DocsRoute           = "/docs/api/"

	// Frontend pages providers redirect back to
	PaymentResultPage  = "/payment/result"
	PaymentSuccessPage = "/payment/success"
	PricingPage        = "/pricing"
)
