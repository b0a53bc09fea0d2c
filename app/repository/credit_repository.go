package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/text2rednote/rednotepay/app/models"
)

// creditRepository implements the CreditRepository interface
type creditRepository struct {
	db *gorm.DB
}

// NewCreditRepository creates a new credit ledger repository instance
func NewCreditRepository(db *gorm.DB) CreditRepository {
	return &creditRepository{db: db}
}

func (r *creditRepository) CreateUser(ctx context.Context, user *models.User, startingCredits int64) (bool, error) {
	if startingCredits < 0 {
		return false, ErrInvalidAmount
	}
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := &models.User{ID: user.ID, Email: models.NormalizeEmail(user.Email), Credits: startingCredits}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		created = true
		if startingCredits == 0 {
			return nil
		}
		return tx.Create(&models.CreditHistory{
			UserID:       row.ID,
			Amount:       startingCredits,
			Reason:       models.CreditReasonSignupBonus,
			BalanceAfter: startingCredits,
		}).Error
	})
	return created, err
}

func (r *creditRepository) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *creditRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	normalized := models.NormalizeEmail(email)
	if normalized == "" {
		return nil, ErrUserNotFound
	}
	var user models.User
	err := r.db.WithContext(ctx).Where("email = ?", normalized).Order("created_at ASC").First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *creditRepository) GetBalance(ctx context.Context, userID string) (int64, error) {
	user, err := r.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.Credits, nil
}

// Increment adds credits with a single atomic UPDATE and records the delta.
func (r *creditRepository) Increment(ctx context.Context, userID string, amount int64, reason, reference string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return r.apply(ctx, userID, amount, reason, reference, func(tx *gorm.DB) *gorm.DB {
		return tx.Model(&models.User{}).Where("id = ?", userID).
			Updates(map[string]interface{}{
				"credits":    gorm.Expr("credits + ?", amount),
				"updated_at": time.Now(),
			})
	})
}

// Decrement subtracts credits only while the balance covers the amount.
func (r *creditRepository) Decrement(ctx context.Context, userID string, amount int64, reason, reference string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return r.apply(ctx, userID, -amount, reason, reference, func(tx *gorm.DB) *gorm.DB {
		return tx.Model(&models.User{}).Where("id = ? AND credits >= ?", userID, amount).
			Updates(map[string]interface{}{
				"credits":    gorm.Expr("credits - ?", amount),
				"updated_at": time.Now(),
			})
	})
}

func (r *creditRepository) apply(ctx context.Context, userID string, delta int64, reason, reference string, update func(tx *gorm.DB) *gorm.DB) (int64, error) {
	var balance int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := update(tx)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrUserNotFound
			}
			return ErrInsufficientCredits
		}

		var user models.User
		if err := tx.Select("id", "credits").Where("id = ?", userID).First(&user).Error; err != nil {
			return err
		}
		balance = user.Credits

		return tx.Create(&models.CreditHistory{
			UserID:       userID,
			Amount:       delta,
			Reason:       reason,
			Reference:    truncate(reference, 128),
			BalanceAfter: balance,
		}).Error
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (r *creditRepository) History(ctx context.Context, userID string, limit int) ([]models.CreditHistory, error) {
	var entries []models.CreditHistory
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *creditRepository) HistorySum(ctx context.Context, userID string) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).Model(&models.CreditHistory{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	return sum, err
}

// ListMismatches returns users whose balance differs from their history sum.
func (r *creditRepository) ListMismatches(ctx context.Context, limit int) ([]models.BalanceMismatch, error) {
	var out []models.BalanceMismatch
	err := r.db.WithContext(ctx).
		Table("users AS u").
		Select("u.id AS user_id, u.credits AS credits, COALESCE(SUM(h.amount), 0) AS history_sum").
		Joins("LEFT JOIN credit_history h ON h.user_id = u.id").
		Group("u.id, u.credits").
		Having("u.credits <> COALESCE(SUM(h.amount), 0)").
		Limit(limit).
		Scan(&out).Error
	return out, err
}
