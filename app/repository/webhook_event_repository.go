package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/text2rednote/rednotepay/app/models"
)

type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a webhook delivery log backed by GORM.
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) RecordDelivery(ctx context.Context, event *models.PaymentWebhookEvent) (*models.PaymentWebhookEvent, error) {
	if event.Attempts == 0 {
		event.Attempts = 1
	}
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"attempts":        gorm.Expr("attempts + 1"),
			"signature_valid": event.SignatureValid,
			"updated_at":      time.Now(),
		}),
	}).Create(event)
	if tx.Error != nil {
		return nil, tx.Error
	}

	var stored models.PaymentWebhookEvent
	if err := r.db.WithContext(ctx).Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *webhookEventRepository) MarkProcessed(ctx context.Context, id uint, outcome string, needsReview bool, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"outcome":          outcome,
		"needs_review":     needsReview,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.PaymentWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *webhookEventRepository) CountNeedingReview(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.PaymentWebhookEvent{}).Where("needs_review = ?", true).Count(&count).Error
	return count, err
}
