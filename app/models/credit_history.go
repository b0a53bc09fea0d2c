package models

import "time"

// Credit history reasons.
const (
	CreditReasonSignupBonus = "signup_bonus"
	CreditReasonPurchase    = "purchase"
	CreditReasonGeneration  = "generation"
	CreditReasonAdjustment  = "adjustment"
)

// CreditHistory is an append-only record of a single balance delta. For every
// user the sum of Amount equals users.credits.
type CreditHistory struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       string    `gorm:"type:varchar(64);not null;index:idx_credit_history_user_created,priority:1" json:"user_id"`
	Amount       int64     `gorm:"not null" json:"amount"`
	Reason       string    `gorm:"type:varchar(50);not null" json:"reason"`
	Reference    string    `gorm:"type:varchar(128);default:'';index" json:"reference,omitempty"`
	BalanceAfter int64     `gorm:"not null" json:"balance_after"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index:idx_credit_history_user_created,priority:2" json:"created_at"`
}

func (CreditHistory) TableName() string {
	return "credit_history"
}

// BalanceMismatch is reported by the ledger audit when the stored balance and the
// history sum of a user disagree.
type BalanceMismatch struct {
	UserID     string `json:"user_id"`
	Credits    int64  `json:"credits"`
	HistorySum int64  `json:"history_sum"`
}

// Delta returns how far the stored balance drifted from the history.
func (m BalanceMismatch) Delta() int64 {
	return m.Credits - m.HistorySum
}
