package repository

import (
	"context"

	"gorm.io/gorm"
)

// gormStore implements Store on top of a GORM handle. A transactional store is
// the same type wrapping the *gorm.DB of the open transaction.
type gormStore struct {
	db      *gorm.DB
	orders  OrderRepository
	credits CreditRepository
	events  WebhookEventRepository
}

// NewGormStore creates a Store backed by GORM.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{
		db:      db,
		orders:  NewOrderRepository(db),
		credits: NewCreditRepository(db),
		events:  NewWebhookEventRepository(db),
	}
}

func (s *gormStore) Orders() OrderRepository { return s.orders }
func (s *gormStore) Credits() CreditRepository { return s.credits }
func (s *gormStore) WebhookEvents() WebhookEventRepository { return s.events }

func (s *gormStore) WithinTransaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewGormStore(tx))
	})
}

func (s *gormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
