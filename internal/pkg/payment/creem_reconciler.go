package payment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/text2rednote/rednotepay/app/models"
	"github.com/text2rednote/rednotepay/app/repository"
)

// CreemEvent is the part of a creem webhook the reconciler needs. Fields are
// read from the raw body with path fallbacks since creem has shipped several
// envelope shapes.
type CreemEvent struct {
	ID              string
	Type            string
	Kind            EventKind
	ExternalOrderID string
	TransactionID   string
	Email           string
	MetadataUserID  string
}

var (
	creemTypePaths    = []string{"type", "eventType", "event_type", "event"}
	creemObjectPaths  = []string{"data.object", "object", "data"}
	creemOrderIDPaths = []string{"metadata.external_order_id", "metadata.order_id", "request_id"}
	creemTxnPaths     = []string{"order.id", "transaction.id", "payment_id", "id"}
	creemEmailPaths   = []string{"customer.email", "customer_email", "email"}
	creemUserPaths    = []string{"metadata.user_id", "metadata.user_token"}
)

func firstString(doc gjson.Result, paths []string) string {
	for _, p := range paths {
		if v := doc.Get(p); v.Exists() {
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

// ParseCreemEvent reads a creem webhook body without re-serializing it.
func ParseCreemEvent(body []byte) (*CreemEvent, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrMalformedPayload
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, ErrMalformedPayload
	}

	object := root
	for _, p := range creemObjectPaths {
		if v := root.Get(p); v.IsObject() {
			object = v
			break
		}
	}

	ev := &CreemEvent{
		ID:   strings.TrimSpace(root.Get("id").String()),
		Type: firstString(root, creemTypePaths),
	}
	ev.Kind = NormalizeCreemEvent(ev.Type)

	lookup := func(paths []string) string {
		if v := firstString(object, paths); v != "" {
			return v
		}
		if object.Raw != root.Raw {
			return firstString(root, paths)
		}
		return ""
	}
	ev.ExternalOrderID = lookup(creemOrderIDPaths)
	ev.Email = models.NormalizeEmail(lookup(creemEmailPaths))
	ev.MetadataUserID = lookup(creemUserPaths)
	ev.TransactionID = firstString(object, creemTxnPaths)
	return ev, nil
}

// CreemReconciler settles orders from creem webhooks.
type CreemReconciler struct {
	verifier *CreemVerifier
	store    repository.Store
	settler  *settler
}

func NewCreemReconciler(verifier *CreemVerifier, store repository.Store, balances BalanceRefresher) *CreemReconciler {
	return &CreemReconciler{
		verifier: verifier,
		store:    store,
		settler:  &settler{store: store, balances: balances, now: time.Now},
	}
}

// ReconcileWebhook handles one webhook delivery. body must be the raw request
// bytes. Callers answer with Result.Outcome.CreemStatus.
func (r *CreemReconciler) ReconcileWebhook(ctx context.Context, body []byte, signatureHeader string) Result {
	started := time.Now()
	res := r.reconcile(ctx, body, signatureHeader)
	report(models.PaymentProviderCreem, started, res)
	return res
}

func (r *CreemReconciler) reconcile(ctx context.Context, body []byte, signatureHeader string) Result {
	if err := r.verifier.Verify(body, signatureHeader); err != nil {
		if errors.Is(err, ErrSignatureMissing) {
			return result(OutcomeSignatureMissing, err)
		}
		return result(OutcomeSignatureInvalid, err)
	}

	ev, err := ParseCreemEvent(body)
	if err != nil {
		return result(OutcomeBadRequest, err)
	}

	d := record(ctx, r.store.WebhookEvents(), &models.PaymentWebhookEvent{
		Provider:        models.PaymentProviderCreem,
		ProviderEventID: deliveryEventID(ev.ID, body),
		EventType:       ev.Type,
		ExternalOrderID: ev.ExternalOrderID,
		Payload:         string(body),
		SignatureValid:  true,
	})

	res := r.apply(ctx, ev)
	res.ExternalOrderID = ev.ExternalOrderID
	if res.Kind == EventUnrecognized {
		res.Kind = ev.Kind
	}
	d.finish(ctx, r.store.WebhookEvents(), res)
	return res
}

func (r *CreemReconciler) apply(ctx context.Context, ev *CreemEvent) Result {
	if ev.Kind == EventUnrecognized {
		// nothing to settle; acknowledge so creem stops retrying
		return Result{Outcome: OutcomeIgnored, Kind: ev.Kind}
	}
	if ev.ExternalOrderID == "" {
		return result(OutcomeOrderNotFound, repository.ErrOrderNotFound)
	}

	order, err := r.store.Orders().GetByExternalOrderID(ctx, ev.ExternalOrderID)
	if err != nil {
		return result(classifyLookupError(err), err)
	}
	if order.Provider != models.PaymentProviderCreem {
		return result(OutcomeOrderNotFound, repository.ErrOrderNotFound)
	}

	userID := ""
	if ev.Kind == EventPaymentSucceeded && order.IsPending() {
		userID, err = r.resolveUser(ctx, order, ev)
		if err != nil {
			res := result(OutcomeTransient, err)
			if errors.Is(err, ErrUserUnresolved) {
				res.Outcome = OutcomeUserUnresolved
			}
			res.Order = order
			return res
		}
	}
	return r.settler.settle(ctx, models.PaymentProviderCreem, order, ev.Kind, ev.TransactionID, ev.Type, userID)
}

// resolveUser picks the ledger user to credit: the order owner, then a user id
// carried in metadata, then the customer email.
func (r *CreemReconciler) resolveUser(ctx context.Context, order *models.Order, ev *CreemEvent) (string, error) {
	candidates := []string{order.UserID, ev.MetadataUserID}
	for _, id := range candidates {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		user, err := r.store.Credits().GetUser(ctx, id)
		if err == nil {
			return user.ID, nil
		}
		if !errors.Is(err, repository.ErrUserNotFound) {
			return "", err
		}
	}
	if ev.Email != "" {
		user, err := r.store.Credits().GetUserByEmail(ctx, ev.Email)
		if err == nil {
			return user.ID, nil
		}
		if !errors.Is(err, repository.ErrUserNotFound) {
			return "", err
		}
	}
	return "", ErrUserUnresolved
}
