package repository

import (
	"context"
	"time"

	"github.com/text2rednote/rednotepay/app/models"
)

// OrderRepository is the durable record of payment intents.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	GetByExternalOrderID(ctx context.Context, externalOrderID string) (*models.Order, error)
	// MarkPaid moves a pending order to paid with a conditional update. It returns
	// ErrOrderAlreadyPaid when another caller won the race.
	MarkPaid(ctx context.Context, externalOrderID, providerTransactionID string, paidAt time.Time) (*models.Order, error)
	// MarkFailed moves a pending order to failed. It returns ErrOrderAlreadyFailed
	// for repeated failures and ErrInvalidTransition for paid orders.
	MarkFailed(ctx context.Context, externalOrderID, reason string, failedAt time.Time) (*models.Order, error)
	SetProviderSession(ctx context.Context, externalOrderID, sessionID string) error
	ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

// CreditRepository owns user balances and the append-only credit history.
// Balance changes are applied with the storage engine's atomic update, never
// as a read-modify-write in application code.
type CreditRepository interface {
	// CreateUser inserts the user with its starting grant. It reports false when
	// the user already existed, in which case nothing is changed.
	CreateUser(ctx context.Context, user *models.User, startingCredits int64) (bool, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetBalance(ctx context.Context, userID string) (int64, error)
	Increment(ctx context.Context, userID string, amount int64, reason, reference string) (int64, error)
	Decrement(ctx context.Context, userID string, amount int64, reason, reference string) (int64, error)
	History(ctx context.Context, userID string, limit int) ([]models.CreditHistory, error)
	HistorySum(ctx context.Context, userID string) (int64, error)
	ListMismatches(ctx context.Context, limit int) ([]models.BalanceMismatch, error)
}

// WebhookEventRepository persists webhook deliveries for audit.
type WebhookEventRepository interface {
	// RecordDelivery inserts the delivery or bumps the attempt counter of an
	// earlier delivery with the same provider event id, returning the stored row.
	RecordDelivery(ctx context.Context, event *models.PaymentWebhookEvent) (*models.PaymentWebhookEvent, error)
	MarkProcessed(ctx context.Context, id uint, outcome string, needsReview bool, processingError string) error
	CountNeedingReview(ctx context.Context) (int64, error)
}

// Store bundles the repositories that share one storage engine.
type Store interface {
	Orders() OrderRepository
	Credits() CreditRepository
	WebhookEvents() WebhookEventRepository
	// WithinTransaction runs fn against a Store whose writes commit together or
	// not at all.
	WithinTransaction(ctx context.Context, fn func(tx Store) error) error
	Ping(ctx context.Context) error
}
