package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PaymentMetrics groups the collectors of the payment and ledger subsystem.
type PaymentMetrics struct {
	// webhook deliveries by provider and outcome
	WebhookTotal    *prometheus.CounterVec
	WebhookDuration *prometheus.HistogramVec
	ReviewTotal     *prometheus.CounterVec

	// checkout attempts by provider and result
	CheckoutTotal *prometheus.CounterVec

	CreditsGrantedTotal *prometheus.CounterVec
	LedgerOpsTotal      *prometheus.CounterVec

	BalanceCacheTotal *prometheus.CounterVec

	LedgerMismatches   prometheus.Gauge
	StalePendingOrders prometheus.Gauge
	AuditRunsTotal     *prometheus.CounterVec
}

func newPaymentMetrics() *PaymentMetrics {
	return &PaymentMetrics{
		WebhookTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rednote_payment_webhook_total",
				Help: "Webhook deliveries by provider and reconciliation outcome",
			},
			[]string{"provider", "outcome"},
		),
		WebhookDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rednote_payment_webhook_duration_seconds",
				Help:    "Duration of webhook reconciliation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		ReviewTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rednote_payment_review_total",
				Help: "Reconciliation outcomes flagged for manual review",
			},
			[]string{"provider", "outcome"},
		),
		CheckoutTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rednote_payment_checkout_total",
				Help: "Checkout initiations by provider and result",
			},
			[]string{"provider", "result"}, // result: created/rejected/provider_error/error
		),
		CreditsGrantedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rednote_credits_granted_total",
				Help: "Credits granted by reconciled orders",
			},
			[]string{"provider"},
		),
		LedgerOpsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rednote_ledger_operations_total",
				Help: "Ledger operations by kind and result",
			},
			[]string{"operation", "result"},
		),
		BalanceCacheTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rednote_balance_cache_total",
				Help: "Balance cache lookups",
			},
			[]string{"result"}, // hit/miss/error
		),
		LedgerMismatches: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "rednote_ledger_mismatched_users",
				Help: "Users whose balance differs from their credit history sum at the last audit",
			},
		),
		StalePendingOrders: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "rednote_payment_stale_pending_orders",
				Help: "Pending orders older than the audit cutoff at the last audit",
			},
		),
		AuditRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rednote_ledger_audit_runs_total",
				Help: "Ledger audit runs by result",
			},
			[]string{"result"},
		),
	}
}

var (
	defaultMetrics *PaymentMetrics
	once           sync.Once
)

// Get returns the process-wide collectors, registering them on first use.
func Get() *PaymentMetrics {
	once.Do(func() {
		defaultMetrics = newPaymentMetrics()
	})
	return defaultMetrics
}
