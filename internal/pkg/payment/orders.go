package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/text2rednote/rednotepay/app/models"
	"github.com/text2rednote/rednotepay/app/repository"
)

// LedgerAccounts provisions the ledger user an order will credit.
// credits.Service implements it.
type LedgerAccounts interface {
	EnsureUser(ctx context.Context, userID, email string) (*models.User, bool, error)
}

// OrderService creates pending orders for checkout initiators.
type OrderService struct {
	orders   repository.OrderRepository
	accounts LedgerAccounts
	now      func() time.Time
}

func NewOrderService(orders repository.OrderRepository, accounts LedgerAccounts) *OrderService {
	return &OrderService{orders: orders, accounts: accounts, now: time.Now}
}

// CreatePendingOrder persists a pending order for product. The purchaser's
// ledger user is created first so a paid order always has an account to
// credit. The id is generated here; a collision is retried once.
func (s *OrderService) CreatePendingOrder(ctx context.Context, purchaser Purchaser, product Product, provider, method string, metadata map[string]interface{}) (*models.Order, error) {
	if !purchaser.valid() {
		return nil, ErrUnauthenticated
	}
	user, _, err := s.accounts.EnsureUser(ctx, purchaser.UserID, purchaser.Email)
	if err != nil {
		return nil, fmt.Errorf("ensure ledger user: %w", err)
	}
	userID := user.ID

	var raw datatypes.JSON
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return nil, err
		}
		raw = datatypes.JSON(b)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		order := &models.Order{
			ExternalOrderID: NewExternalOrderID(s.now()),
			UserID:          userID,
			Provider:        provider,
			ProductRef:      product.ID,
			PaymentMethod:   method,
			Amount:          product.Price,
			Currency:        product.Currency,
			CreditsGranted:  product.Credits,
			Status:          models.OrderStatusPending,
			Metadata:        raw,
		}
		if err := order.Validate(); err != nil {
			return nil, err
		}
		lastErr = s.orders.Create(ctx, order)
		if lastErr == nil {
			return order, nil
		}
		if !errors.Is(lastErr, repository.ErrOrderExists) {
			return nil, lastErr
		}
	}
	return nil, lastErr
}
