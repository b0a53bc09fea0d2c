package payment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/text2rednote/rednotepay/app/models"
	"github.com/text2rednote/rednotepay/app/repository"
)

// EpayReconciler settles orders from epay notify callbacks.
type EpayReconciler struct {
	verifier   *EpayVerifier
	merchantID string
	store      repository.Store
	settler    *settler
}

func NewEpayReconciler(verifier *EpayVerifier, merchantID string, store repository.Store, balances BalanceRefresher) *EpayReconciler {
	return &EpayReconciler{
		verifier:   verifier,
		merchantID: strings.TrimSpace(merchantID),
		store:      store,
		settler:    &settler{store: store, balances: balances, now: time.Now},
	}
}

// ReconcileNotify handles one notify callback. The returned Result is always
// set; callers answer the provider with Result.Outcome.EpayReply.
func (r *EpayReconciler) ReconcileNotify(ctx context.Context, query url.Values) Result {
	started := time.Now()
	res := r.reconcile(ctx, FlattenValues(query))
	report(models.PaymentProviderEpay, started, res)
	return res
}

func (r *EpayReconciler) reconcile(ctx context.Context, params map[string]string) Result {
	if err := r.verifier.Verify(params); err != nil {
		if errors.Is(err, ErrSignatureMissing) {
			return result(OutcomeSignatureMissing, err)
		}
		return result(OutcomeSignatureInvalid, err)
	}
	if r.merchantID != "" && strings.TrimSpace(params["pid"]) != r.merchantID {
		return result(OutcomeSignatureInvalid, ErrMerchantMismatch)
	}

	externalID := strings.TrimSpace(params["out_trade_no"])
	if externalID == "" {
		return result(OutcomeBadRequest, ErrMalformedPayload)
	}

	payload := url.Values{}
	for k, v := range params {
		payload.Set(k, v)
	}
	raw := payload.Encode()
	tradeNo := strings.TrimSpace(params["trade_no"])
	d := record(ctx, r.store.WebhookEvents(), &models.PaymentWebhookEvent{
		Provider:        models.PaymentProviderEpay,
		ProviderEventID: deliveryEventID(eventKey(tradeNo, params["trade_status"]), []byte(raw)),
		EventType:       strings.TrimSpace(params["trade_status"]),
		ExternalOrderID: externalID,
		Payload:         raw,
		SignatureValid:  true,
	})

	res := r.apply(ctx, externalID, params)
	res.ExternalOrderID = externalID
	d.finish(ctx, r.store.WebhookEvents(), res)
	return res
}

func (r *EpayReconciler) apply(ctx context.Context, externalID string, params map[string]string) Result {
	order, err := r.store.Orders().GetByExternalOrderID(ctx, externalID)
	if err != nil {
		return result(classifyLookupError(err), err)
	}
	if order.Provider != models.PaymentProviderEpay {
		return result(OutcomeOrderNotFound, repository.ErrOrderNotFound)
	}

	reported, err := decimal.NewFromString(strings.TrimSpace(params["money"]))
	if err != nil || !AmountsMatch(reported, order.Amount) {
		res := result(OutcomeAmountMismatch, fmt.Errorf("%w: reported %q, order %s", ErrAmountMismatch, params["money"], order.Amount.StringFixed(2)))
		res.Order = order
		return res
	}

	status := strings.TrimSpace(params["trade_status"])
	return r.settler.settle(ctx, models.PaymentProviderEpay, order, NormalizeEpayTradeStatus(status),
		strings.TrimSpace(params["trade_no"]), strings.ToUpper(status), order.UserID)
}

func eventKey(tradeNo, status string) string {
	if tradeNo == "" {
		return ""
	}
	return tradeNo + ":" + strings.ToUpper(strings.TrimSpace(status))
}
