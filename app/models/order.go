package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Payment provider constants used across order-related models.
const (
	PaymentProviderEpay  = "epay"
	PaymentProviderCreem = "creem"
)

const (
	OrderStatusPending = "pending"
	OrderStatusPaid    = "paid"
	OrderStatusFailed  = "failed"
)

// UnlimitedCredits is the credit grant used for "unlimited" packages.
const UnlimitedCredits = 999999

// Order is one payment attempt. Orders are created pending at checkout and are
// only ever moved to paid or failed by a webhook reconciler; they are never deleted.
type Order struct {
	ID                    uint            `gorm:"primaryKey" json:"-"`
	ExternalOrderID       string          `gorm:"type:varchar(64);not null;uniqueIndex:ux_payment_orders_external_order_id" json:"order_id" validate:"required,max=64"`
	UserID                string          `gorm:"type:varchar(64);not null;index" json:"user_id" validate:"required,max=64"`
	Provider              string          `gorm:"type:varchar(20);not null;index" json:"provider" validate:"oneof=epay creem"`
	ProductRef            string          `gorm:"type:varchar(64);not null" json:"product_ref" validate:"required,max=64"`
	PaymentMethod         string          `gorm:"type:varchar(20);default:''" json:"payment_method,omitempty"`
	Amount                decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency              string          `gorm:"type:char(3);not null" json:"currency" validate:"len=3"`
	CreditsGranted        int64           `gorm:"not null;default:0" json:"credits_granted" validate:"gte=0"`
	Status                string          `gorm:"type:varchar(20);not null;default:'pending';index" json:"status" validate:"oneof=pending paid failed"`
	ProviderTransactionID *string         `gorm:"type:varchar(128);default:null" json:"provider_transaction_id,omitempty"`
	ProviderSessionID     *string         `gorm:"type:varchar(128);default:null" json:"provider_session_id,omitempty"`
	FailureReason         string          `gorm:"type:varchar(255);default:''" json:"failure_reason,omitempty"`
	Metadata              datatypes.JSON  `gorm:"type:json" json:"-"`
	CreatedAt             time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	PaidAt                *time.Time      `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	FailedAt              *time.Time      `gorm:"type:timestamp;default:null" json:"failed_at,omitempty"`
	UpdatedAt             time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string {
	return "payment_orders"
}

func (o *Order) Validate() error {
	v := validator.New()

	return v.Struct(o)
}

// IsPending reports whether the order may still be settled.
func (o *Order) IsPending() bool {
	return o.Status == OrderStatusPending
}

// IsPaid reports whether the order has already been credited.
func (o *Order) IsPaid() bool {
	return o.Status == OrderStatusPaid
}

// IsFailed reports whether the order was closed without payment.
func (o *Order) IsFailed() bool {
	return o.Status == OrderStatusFailed
}

// IsUnlimited reports whether the order grants the unlimited package.
func (o *Order) IsUnlimited() bool {
	return o.CreditsGranted >= UnlimitedCredits
}
