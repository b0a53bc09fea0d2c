package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultStartingCredits is granted once when a user record is first created.
const DefaultStartingCredits = 10

// User holds the credit balance of an authenticated account. The ID is the
// subject issued by the auth provider; the payment subsystem never creates
// accounts on its own, it only mirrors them on first use.
type User struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id" validate:"required,max=64"`
	Email     string    `gorm:"type:varchar(200);index;default:''" json:"email" validate:"omitempty,email,max=200"`
	Credits   int64     `gorm:"not null;default:0" json:"credits" validate:"gte=0"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// NormalizeEmail lowercases and trims an address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
