package payment

import "strings"

// EventKind is the provider-neutral meaning of a webhook event.
type EventKind int

const (
	EventUnrecognized EventKind = iota
	EventPaymentSucceeded
	EventPaymentFailed
)

func (k EventKind) String() string {
	switch k {
	case EventPaymentSucceeded:
		return "payment_succeeded"
	case EventPaymentFailed:
		return "payment_failed"
	default:
		return "unrecognized"
	}
}

var creemEventKinds = map[string]EventKind{
	"checkout.completed":            EventPaymentSucceeded,
	"checkout.session.completed":    EventPaymentSucceeded,
	"payment.succeeded":             EventPaymentSucceeded,
	"payment.completed":             EventPaymentSucceeded,
	"payment_intent.succeeded":      EventPaymentSucceeded,
	"order.paid":                    EventPaymentSucceeded,
	"order.completed":               EventPaymentSucceeded,
	"checkout.failed":               EventPaymentFailed,
	"checkout.expired":              EventPaymentFailed,
	"payment.failed":                EventPaymentFailed,
	"payment_intent.payment_failed": EventPaymentFailed,
	"order.failed":                  EventPaymentFailed,
}

// NormalizeCreemEvent maps a creem event type to an EventKind. Matching is
// case-insensitive and treats "_" and "." as the same separator.
func NormalizeCreemEvent(eventType string) EventKind {
	t := strings.ToLower(strings.TrimSpace(eventType))
	if kind, ok := creemEventKinds[t]; ok {
		return kind
	}
	if kind, ok := creemEventKinds[strings.ReplaceAll(t, "_", ".")]; ok {
		return kind
	}
	return EventUnrecognized
}

// NormalizeEpayTradeStatus maps an epay trade_status to an EventKind.
func NormalizeEpayTradeStatus(status string) EventKind {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "TRADE_SUCCESS", "TRADE_FINISHED":
		return EventPaymentSucceeded
	case "TRADE_CLOSED", "TRADE_FAIL":
		return EventPaymentFailed
	default:
		return EventUnrecognized
	}
}
