package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/text2rednote/rednotepay/app/models"
)

// orderRepository implements the OrderRepository interface
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new order repository instance
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// Create persists a new order
func (r *orderRepository) Create(ctx context.Context, order *models.Order) error {
	err := r.db.WithContext(ctx).Create(order).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrOrderExists
	}
	return err
}

// GetByExternalOrderID retrieves an order by its correlation id
func (r *orderRepository) GetByExternalOrderID(ctx context.Context, externalOrderID string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Where("external_order_id = ?", externalOrderID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) MarkPaid(ctx context.Context, externalOrderID, providerTransactionID string, paidAt time.Time) (*models.Order, error) {
	updates := map[string]interface{}{
		"status":     models.OrderStatusPaid,
		"paid_at":    &paidAt,
		"updated_at": paidAt,
	}
	if providerTransactionID != "" {
		updates["provider_transaction_id"] = providerTransactionID
	}
	return r.transition(ctx, externalOrderID, updates)
}

func (r *orderRepository) MarkFailed(ctx context.Context, externalOrderID, reason string, failedAt time.Time) (*models.Order, error) {
	updates := map[string]interface{}{
		"status":         models.OrderStatusFailed,
		"failure_reason": truncate(reason, 255),
		"failed_at":      &failedAt,
		"updated_at":     failedAt,
	}
	return r.transition(ctx, externalOrderID, updates)
}

// transition applies updates only while the order is still pending. The status
// predicate in the WHERE clause is the serialization point for concurrent callers.
func (r *orderRepository) transition(ctx context.Context, externalOrderID string, updates map[string]interface{}) (*models.Order, error) {
	target, _ := updates["status"].(string)
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("external_order_id = ? AND status = ?", externalOrderID, models.OrderStatusPending).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}

	order, err := r.GetByExternalOrderID(ctx, externalOrderID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected > 0 {
		return order, nil
	}
	return order, transitionError(order.Status, target)
}

func (r *orderRepository) SetProviderSession(ctx context.Context, externalOrderID, sessionID string) error {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("external_order_id = ?", externalOrderID).
		Update("provider_session_id", sessionID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *orderRepository) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.OrderStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

// transitionError explains why a pending-only transition to target did not apply.
func transitionError(current, target string) error {
	switch {
	case current == models.OrderStatusPaid && target == models.OrderStatusPaid:
		return ErrOrderAlreadyPaid
	case current == models.OrderStatusFailed && target == models.OrderStatusFailed:
		return ErrOrderAlreadyFailed
	default:
		return ErrInvalidTransition
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
