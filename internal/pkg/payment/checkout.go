package payment

import (
	"context"
	"net/url"
	"strings"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/text2rednote/rednotepay/internal/pkg/metrics"
)

// Purchaser is the authenticated user starting a checkout.
type Purchaser struct {
	UserID string
	Email  string
}

func (p Purchaser) valid() bool {
	return strings.TrimSpace(p.UserID) != ""
}

func countCheckout(provider, result string) {
	metrics.Get().CheckoutTotal.WithLabelValues(provider, result).Inc()
}

// sameOrigin reports whether raw is an absolute URL on base's scheme and host.
func sameOrigin(raw string, base *url.URL) bool {
	if base == nil || strings.TrimSpace(raw) == "" {
		return false
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !u.IsAbs() {
		return false
	}
	return strings.EqualFold(u.Scheme, base.Scheme) && strings.EqualFold(u.Host, base.Host)
}

// redirectOrDefault keeps raw when it shares base's origin.
func redirectOrDefault(raw string, base *url.URL, def string) string {
	if sameOrigin(raw, base) {
		return strings.TrimSpace(raw)
	}
	if strings.TrimSpace(raw) != "" {
		fiberlog.Warnf("[Checkout] ignoring foreign redirect target %q", raw)
	}
	return def
}

// detached returns a context for cleanup work that must run even when the
// request context is already done.
func detached(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}
