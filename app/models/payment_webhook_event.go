package models

import "time"

// PaymentWebhookEvent stores provider webhook deliveries for audit and manual
// review. Repeated deliveries of the same event bump Attempts; the order status
// compare-and-swap stays the only idempotency guard.
type PaymentWebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;index:ux_payment_webhook_events_provider_event,unique,priority:1" json:"provider"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;default:'';index:ux_payment_webhook_events_provider_event,unique,priority:2" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;default:'';index" json:"event_type"`
	ExternalOrderID string     `gorm:"type:varchar(64);default:'';index" json:"order_id"`
	Payload         string     `gorm:"type:longtext;not null" json:"payload"`
	SignatureValid  bool       `gorm:"default:false;index" json:"signature_valid"`
	Attempts        int        `gorm:"not null;default:1" json:"attempts"`
	Outcome         string     `gorm:"type:varchar(40);default:'';index" json:"outcome"`
	NeedsReview     bool       `gorm:"default:false;index" json:"needs_review"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PaymentWebhookEvent) TableName() string {
	return "payment_webhook_events"
}
