package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/text2rednote/rednotepay/app/models"
	"github.com/text2rednote/rednotepay/app/repository"
	"github.com/text2rednote/rednotepay/internal/pkg/credits"
)

const (
	testEpayKey     = "epay-secret"
	testEpayPID     = "1001"
	testCreemSecret = "whsec_test"
	testUserID      = "user-1"
	testUserEmail   = "buyer@example.com"
)

func newTestStore(t *testing.T) *repository.MemoryStore {
	t.Helper()
	store := repository.NewMemoryStore()
	_, err := store.Credits().CreateUser(context.Background(), &models.User{ID: testUserID, Email: testUserEmail}, 0)
	require.NoError(t, err)
	return store
}

// newOrderService provisions ledger users without a signup grant.
func newOrderService(store repository.Store) *OrderService {
	return NewOrderService(store.Orders(), credits.NewService(store, nil, 0))
}

func newPendingOrder(t *testing.T, store repository.Store, catalog *Catalog, productID, provider string) *models.Order {
	t.Helper()
	product, err := catalog.Lookup(productID)
	require.NoError(t, err)
	method := ""
	if provider == models.PaymentProviderEpay {
		method = EpayTypeAlipay
	}
	order, err := newOrderService(store).CreatePendingOrder(context.Background(), Purchaser{UserID: testUserID, Email: testUserEmail}, product, provider, method, nil)
	require.NoError(t, err)
	return order
}

func balanceOf(t *testing.T, store repository.Store, userID string) int64 {
	t.Helper()
	balance, err := store.Credits().GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return balance
}

func countOrders(t *testing.T, store repository.Store) int {
	t.Helper()
	orders, err := store.Orders().ListPendingOlderThan(context.Background(), time.Now().Add(time.Hour), 0)
	require.NoError(t, err)
	return len(orders)
}

// recordingRefresher remembers the balances pushed after ledger writes.
type recordingRefresher struct {
	mu       sync.Mutex
	users    []string
	balances []int64
}

func (r *recordingRefresher) Refresh(_ context.Context, userID string, balance int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
	r.balances = append(r.balances, balance)
}

var errStorageDown = errors.New("storage down")

// brokenTxStore fails every transaction as an unavailable database would.
type brokenTxStore struct {
	repository.Store
}

func (brokenTxStore) WithinTransaction(context.Context, func(repository.Store) error) error {
	return errStorageDown
}
