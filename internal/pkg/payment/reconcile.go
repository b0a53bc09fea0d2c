package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/text2rednote/rednotepay/app/models"
	"github.com/text2rednote/rednotepay/app/repository"
	"github.com/text2rednote/rednotepay/internal/pkg/metrics"
)

// Outcome is the result of reconciling one webhook delivery.
type Outcome string

const (
	OutcomeCredited         Outcome = "credited"
	OutcomeAlreadyPaid      Outcome = "already_paid"
	OutcomeMarkedFailed     Outcome = "marked_failed"
	OutcomeAlreadyFailed    Outcome = "already_failed"
	OutcomeIgnored          Outcome = "ignored"
	OutcomeSignatureMissing Outcome = "signature_missing"
	OutcomeSignatureInvalid Outcome = "signature_invalid"
	OutcomeBadRequest       Outcome = "bad_request"
	OutcomeOrderNotFound    Outcome = "order_not_found"
	OutcomeAmountMismatch   Outcome = "amount_mismatch"
	OutcomeUserUnresolved   Outcome = "user_unresolved"
	// OutcomeOrderClosed is a success event for an order that is already failed.
	OutcomeOrderClosed Outcome = "order_closed"
	OutcomeTransient   Outcome = "transient"
)

// Acknowledged reports whether the provider should be told the delivery succeeded.
func (o Outcome) Acknowledged() bool {
	switch o {
	case OutcomeCredited, OutcomeAlreadyPaid, OutcomeMarkedFailed, OutcomeAlreadyFailed, OutcomeIgnored:
		return true
	}
	return false
}

// Terminal reports whether redelivering the same event cannot change the result.
func (o Outcome) Terminal() bool {
	return o != OutcomeTransient
}

// NeedsReview reports whether money may have moved without a clear recipient.
func (o Outcome) NeedsReview() bool {
	switch o {
	case OutcomeOrderNotFound, OutcomeAmountMismatch, OutcomeUserUnresolved, OutcomeOrderClosed:
		return true
	}
	return false
}

// EpayReply is the HTTP status and literal body epay expects for o.
func (o Outcome) EpayReply() (int, string) {
	switch o {
	case OutcomeCredited, OutcomeAlreadyPaid, OutcomeMarkedFailed, OutcomeAlreadyFailed, OutcomeIgnored:
		return http.StatusOK, "success"
	case OutcomeSignatureMissing, OutcomeSignatureInvalid:
		return http.StatusOK, "SIGN_FAIL"
	case OutcomeOrderNotFound:
		return http.StatusOK, "ORDER_NOT_FOUND"
	case OutcomeAmountMismatch:
		return http.StatusOK, "AMOUNT_MISMATCH"
	case OutcomeTransient:
		return http.StatusInternalServerError, "FAIL"
	default:
		return http.StatusOK, "FAIL"
	}
}

// CreemStatus is the HTTP status answered to creem for o.
func (o Outcome) CreemStatus() int {
	switch o {
	case OutcomeCredited, OutcomeAlreadyPaid, OutcomeMarkedFailed, OutcomeAlreadyFailed, OutcomeIgnored:
		return http.StatusOK
	case OutcomeSignatureMissing, OutcomeBadRequest:
		return http.StatusBadRequest
	case OutcomeSignatureInvalid:
		return http.StatusUnauthorized
	case OutcomeOrderNotFound:
		return http.StatusNotFound
	case OutcomeAmountMismatch, OutcomeUserUnresolved, OutcomeOrderClosed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Result describes what a reconciler did with one delivery.
type Result struct {
	Outcome         Outcome
	Kind            EventKind
	ExternalOrderID string
	Order           *models.Order
	Balance         int64
	Err             error
}

func result(outcome Outcome, err error) Result {
	return Result{Outcome: outcome, Err: err}
}

// BalanceRefresher receives the balance produced by a committed ledger write.
type BalanceRefresher interface {
	Refresh(ctx context.Context, userID string, balance int64)
}

// settler applies a classified event to an order. Both reconcilers share it.
type settler struct {
	store    repository.Store
	balances BalanceRefresher
	now      func() time.Time
}

// settle moves order according to kind. creditUserID is the ledger user that
// receives the credits for a success event.
func (s *settler) settle(ctx context.Context, provider string, order *models.Order, kind EventKind, txnID, failureReason, creditUserID string) Result {
	res := Result{Kind: kind, ExternalOrderID: order.ExternalOrderID, Order: order}

	if order.IsPaid() {
		res.Outcome = OutcomeAlreadyPaid
		return res
	}

	switch kind {
	case EventPaymentFailed:
		return s.fail(ctx, order, failureReason, res)
	case EventPaymentSucceeded:
		if order.IsFailed() {
			res.Outcome = OutcomeOrderClosed
			res.Err = repository.ErrInvalidTransition
			return res
		}
	default:
		res.Outcome = OutcomeIgnored
		return res
	}

	var balance int64
	var paid *models.Order
	err := s.store.WithinTransaction(ctx, func(tx repository.Store) error {
		var err error
		paid, err = tx.Orders().MarkPaid(ctx, order.ExternalOrderID, txnID, s.now())
		if err != nil {
			return err
		}
		if paid.CreditsGranted == 0 {
			balance, err = tx.Credits().GetBalance(ctx, creditUserID)
			return err
		}
		balance, err = tx.Credits().Increment(ctx, creditUserID, paid.CreditsGranted, models.CreditReasonPurchase, order.ExternalOrderID)
		return err
	})
	switch {
	case err == nil:
		res.Outcome = OutcomeCredited
		res.Order = paid
		res.Balance = balance
		metrics.Get().CreditsGrantedTotal.WithLabelValues(provider).Add(float64(paid.CreditsGranted))
		if s.balances != nil {
			s.balances.Refresh(ctx, creditUserID, balance)
		}
	case errors.Is(err, repository.ErrOrderAlreadyPaid):
		res.Outcome = OutcomeAlreadyPaid
	case errors.Is(err, repository.ErrInvalidTransition):
		res.Outcome = OutcomeOrderClosed
		res.Err = err
	case errors.Is(err, repository.ErrUserNotFound):
		res.Outcome = OutcomeUserUnresolved
		res.Err = err
	default:
		res.Outcome = OutcomeTransient
		res.Err = err
	}
	return res
}

func (s *settler) fail(ctx context.Context, order *models.Order, reason string, res Result) Result {
	if order.IsFailed() {
		res.Outcome = OutcomeAlreadyFailed
		return res
	}
	failed, err := s.store.Orders().MarkFailed(ctx, order.ExternalOrderID, reason, s.now())
	switch {
	case err == nil:
		res.Outcome = OutcomeMarkedFailed
		res.Order = failed
	case errors.Is(err, repository.ErrOrderAlreadyFailed):
		res.Outcome = OutcomeAlreadyFailed
	case errors.Is(err, repository.ErrInvalidTransition):
		// paid by a concurrent delivery; a paid order is never flipped back
		res.Outcome = OutcomeAlreadyPaid
	default:
		res.Outcome = OutcomeTransient
		res.Err = err
	}
	return res
}

// delivery is one verified webhook call being tracked in the delivery log.
type delivery struct {
	provider string
	event    *models.PaymentWebhookEvent
}

func deliveryEventID(providerEventID string, payload []byte) string {
	id := strings.TrimSpace(providerEventID)
	if id != "" {
		return id
	}
	sum := sha256.Sum256(payload)
	return "hash:" + hex.EncodeToString(sum[:])
}

// record stores the delivery. Failures are logged, never returned, so an
// unavailable audit table cannot block crediting.
func record(ctx context.Context, events repository.WebhookEventRepository, in *models.PaymentWebhookEvent) *delivery {
	stored, err := events.RecordDelivery(ctx, in)
	if err != nil {
		fiberlog.Warnf("[Reconcile] could not record %s delivery %s: %v", in.Provider, in.ProviderEventID, err)
		return &delivery{provider: in.Provider}
	}
	return &delivery{provider: in.Provider, event: stored}
}

func (d *delivery) finish(ctx context.Context, events repository.WebhookEventRepository, res Result) {
	if d == nil || d.event == nil {
		return
	}
	msg := ""
	if res.Err != nil {
		msg = res.Err.Error()
		if len(msg) > 1000 {
			msg = msg[:1000]
		}
	}
	if err := events.MarkProcessed(ctx, d.event.ID, string(res.Outcome), res.Outcome.NeedsReview(), msg); err != nil {
		fiberlog.Warnf("[Reconcile] could not mark %s delivery %d processed: %v", d.provider, d.event.ID, err)
	}
}

// report logs and counts a finished reconciliation.
func report(provider string, started time.Time, res Result) {
	m := metrics.Get()
	m.WebhookTotal.WithLabelValues(provider, string(res.Outcome)).Inc()
	m.WebhookDuration.WithLabelValues(provider).Observe(time.Since(started).Seconds())

	switch {
	case res.Outcome.NeedsReview():
		m.ReviewTotal.WithLabelValues(provider, string(res.Outcome)).Inc()
		fiberlog.Errorf("[Reconcile][REVIEW] provider=%s order=%s outcome=%s err=%v", provider, res.ExternalOrderID, res.Outcome, res.Err)
	case res.Outcome == OutcomeSignatureMissing || res.Outcome == OutcomeSignatureInvalid:
		fiberlog.Warnf("[Reconcile] rejected %s webhook: outcome=%s err=%v", provider, res.Outcome, res.Err)
	case res.Outcome == OutcomeTransient:
		fiberlog.Errorf("[Reconcile] transient failure provider=%s order=%s: %v", provider, res.ExternalOrderID, res.Err)
	case res.Outcome == OutcomeCredited:
		fiberlog.Infof("[Reconcile] credited provider=%s order=%s credits=%d balance=%d", provider, res.ExternalOrderID, res.Order.CreditsGranted, res.Balance)
	default:
		fiberlog.Infof("[Reconcile] provider=%s order=%s outcome=%s kind=%s", provider, res.ExternalOrderID, res.Outcome, res.Kind)
	}
}

// classifyLookupError maps an order lookup failure.
func classifyLookupError(err error) Outcome {
	if errors.Is(err, repository.ErrOrderNotFound) {
		return OutcomeOrderNotFound
	}
	return OutcomeTransient
}
