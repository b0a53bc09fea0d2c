package payment

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/text2rednote/rednotepay/app/models"
	"github.com/text2rednote/rednotepay/app/repository"
)

func creemBody(eventType, orderID, userID, email string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_%s_%s","eventType":%q,"object":{"id":"ch_1","request_id":%q,"order":{"id":"ord_1","amount":500,"currency":"USD"},"customer":{"email":%q},"metadata":{"external_order_id":%q,"user_id":%q,"credits":"100"}}}`,
		eventType, orderID, eventType, orderID, email, orderID, userID))
}

func newCreemReconciler(store repository.Store) *CreemReconciler {
	return NewCreemReconciler(NewCreemVerifier(testCreemSecret, VerificationEnforced), store, nil)
}

func TestParseCreemEvent_Shapes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		typ     string
		orderID string
		email   string
	}{
		{
			name:    "object envelope",
			body:    `{"id":"evt_1","eventType":"checkout.completed","object":{"metadata":{"external_order_id":"RN1"},"customer":{"email":"A@B.com"}}}`,
			typ:     "checkout.completed",
			orderID: "RN1",
			email:   "a@b.com",
		},
		{
			name:    "data.object envelope",
			body:    `{"type":"payment.succeeded","data":{"object":{"metadata":{"order_id":"RN2"},"customer_email":"x@y.com"}}}`,
			typ:     "payment.succeeded",
			orderID: "RN2",
			email:   "x@y.com",
		},
		{
			name:    "flat envelope with request id",
			body:    `{"event_type":"checkout.completed","request_id":"RN3"}`,
			typ:     "checkout.completed",
			orderID: "RN3",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := ParseCreemEvent([]byte(tc.body))
			require.NoError(t, err)
			assert.Equal(t, tc.typ, ev.Type)
			assert.Equal(t, EventPaymentSucceeded, ev.Kind)
			assert.Equal(t, tc.orderID, ev.ExternalOrderID)
			assert.Equal(t, tc.email, ev.Email)
		})
	}

	_, err := ParseCreemEvent([]byte(`{"type":`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
	_, err = ParseCreemEvent([]byte(`[1,2]`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestCreemReconciler_ExampleScenario(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	order := newPendingOrder(t, store, DefaultCreemCatalog(nil), ProductCredits100, models.PaymentProviderCreem)
	assert.Equal(t, "5.00", order.Amount.StringFixed(2))
	assert.EqualValues(t, 100, order.CreditsGranted)
	r := newCreemReconciler(store)

	body := creemBody("checkout.completed", order.ExternalOrderID, testUserID, testUserEmail)
	sig := SignCreemPayload(body, testCreemSecret)

	first := r.ReconcileWebhook(ctx, body, sig)
	require.Equal(t, OutcomeCredited, first.Outcome, first.Err)
	assert.Equal(t, 200, first.Outcome.CreemStatus())
	assert.EqualValues(t, 100, balanceOf(t, store, testUserID))

	second := r.ReconcileWebhook(ctx, body, "sha256="+sig)
	assert.Equal(t, OutcomeAlreadyPaid, second.Outcome)
	assert.Equal(t, 200, second.Outcome.CreemStatus())
	assert.EqualValues(t, 100, balanceOf(t, store, testUserID))

	stored, err := store.Orders().GetByExternalOrderID(ctx, order.ExternalOrderID)
	require.NoError(t, err)
	assert.True(t, stored.IsPaid())
	assert.Equal(t, "ord_1", *stored.ProviderTransactionID)
}

func TestCreemReconciler_SignatureAndBodyErrors(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	order := newPendingOrder(t, store, DefaultCreemCatalog(nil), ProductCredits100, models.PaymentProviderCreem)
	r := newCreemReconciler(store)
	body := creemBody("checkout.completed", order.ExternalOrderID, testUserID, testUserEmail)

	assert.Equal(t, 400, r.ReconcileWebhook(ctx, body, "").Outcome.CreemStatus())
	assert.Equal(t, 401, r.ReconcileWebhook(ctx, body, SignCreemPayload(body, "wrong")).Outcome.CreemStatus())

	tampered := append([]byte(nil), body...)
	tampered[len(tampered)-3] = 'X'
	assert.Equal(t, OutcomeSignatureInvalid, r.ReconcileWebhook(ctx, tampered, SignCreemPayload(body, testCreemSecret)).Outcome)

	garbage := []byte(`{"eventType":"checkout.completed",`)
	res := r.ReconcileWebhook(ctx, garbage, SignCreemPayload(garbage, testCreemSecret))
	assert.Equal(t, OutcomeBadRequest, res.Outcome)
	assert.Equal(t, 400, res.Outcome.CreemStatus())

	unknown := creemBody("checkout.completed", "RN00000000000000ffffffffffffffff", testUserID, testUserEmail)
	assert.Equal(t, 404, r.ReconcileWebhook(ctx, unknown, SignCreemPayload(unknown, testCreemSecret)).Outcome.CreemStatus())

	assert.Zero(t, balanceOf(t, store, testUserID))
	events := store.WebhookEventsSnapshot()
	require.Len(t, events, 1)
	assert.Equal(t, string(OutcomeOrderNotFound), events[0].Outcome)
	assert.True(t, events[0].NeedsReview)
}

func TestCreemReconciler_UnrecognizedAndFailedEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	order := newPendingOrder(t, store, DefaultCreemCatalog(nil), ProductCredits100, models.PaymentProviderCreem)
	r := newCreemReconciler(store)

	other := creemBody("subscription.canceled", order.ExternalOrderID, testUserID, testUserEmail)
	assert.Equal(t, OutcomeIgnored, r.ReconcileWebhook(ctx, other, SignCreemPayload(other, testCreemSecret)).Outcome)

	failed := creemBody("payment.failed", order.ExternalOrderID, testUserID, testUserEmail)
	assert.Equal(t, OutcomeMarkedFailed, r.ReconcileWebhook(ctx, failed, SignCreemPayload(failed, testCreemSecret)).Outcome)
	assert.Equal(t, OutcomeAlreadyFailed, r.ReconcileWebhook(ctx, failed, SignCreemPayload(failed, testCreemSecret)).Outcome)

	stored, err := store.Orders().GetByExternalOrderID(ctx, order.ExternalOrderID)
	require.NoError(t, err)
	assert.True(t, stored.IsFailed())
	assert.Equal(t, "payment.failed", stored.FailureReason)
	assert.Zero(t, balanceOf(t, store, testUserID))
}

func TestCreemReconciler_UserResolution(t *testing.T) {
	ctx := context.Background()
	catalog := DefaultCreemCatalog(nil)

	t.Run("falls back to metadata user", func(t *testing.T) {
		store := repository.NewMemoryStore()
		_, err := store.Credits().CreateUser(ctx, &models.User{ID: "meta-user"}, 0)
		require.NoError(t, err)
		order := newPendingOrder(t, store, catalog, ProductCredits500, models.PaymentProviderCreem)

		body := creemBody("checkout.completed", order.ExternalOrderID, "meta-user", "")
		res := newCreemReconciler(store).ReconcileWebhook(ctx, body, SignCreemPayload(body, testCreemSecret))
		require.Equal(t, OutcomeCredited, res.Outcome, res.Err)
		assert.EqualValues(t, 500, balanceOf(t, store, "meta-user"))
	})

	t.Run("falls back to billing email", func(t *testing.T) {
		store := repository.NewMemoryStore()
		_, err := store.Credits().CreateUser(ctx, &models.User{ID: "email-user", Email: "Payer@Example.com"}, 0)
		require.NoError(t, err)
		order := newPendingOrder(t, store, catalog, ProductCredits100, models.PaymentProviderCreem)

		body := creemBody("checkout.completed", order.ExternalOrderID, "", "payer@example.com")
		res := newCreemReconciler(store).ReconcileWebhook(ctx, body, SignCreemPayload(body, testCreemSecret))
		require.Equal(t, OutcomeCredited, res.Outcome, res.Err)
		assert.EqualValues(t, 100, balanceOf(t, store, "email-user"))
	})

	t.Run("unresolved user is flagged", func(t *testing.T) {
		store := repository.NewMemoryStore()
		order := newPendingOrder(t, store, catalog, ProductCredits100, models.PaymentProviderCreem)

		body := creemBody("checkout.completed", order.ExternalOrderID, "ghost", "ghost@example.com")
		res := newCreemReconciler(store).ReconcileWebhook(ctx, body, SignCreemPayload(body, testCreemSecret))
		assert.Equal(t, OutcomeUserUnresolved, res.Outcome)
		assert.Equal(t, 422, res.Outcome.CreemStatus())
		assert.ErrorIs(t, res.Err, ErrUserUnresolved)

		events := store.WebhookEventsSnapshot()
		require.Len(t, events, 1)
		assert.True(t, events[0].NeedsReview)

		stored, err := store.Orders().GetByExternalOrderID(ctx, order.ExternalOrderID)
		require.NoError(t, err)
		assert.True(t, stored.IsPending())
	})
}

func TestCreemReconciler_UnlimitedPackage(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	order := newPendingOrder(t, store, DefaultCreemCatalog(nil), ProductCreditsUnlimited, models.PaymentProviderCreem)
	assert.True(t, order.IsUnlimited())

	body := creemBody("checkout.completed", order.ExternalOrderID, testUserID, testUserEmail)
	res := newCreemReconciler(store).ReconcileWebhook(ctx, body, SignCreemPayload(body, testCreemSecret))
	require.Equal(t, OutcomeCredited, res.Outcome, res.Err)
	assert.EqualValues(t, models.UnlimitedCredits, balanceOf(t, store, testUserID))
}
