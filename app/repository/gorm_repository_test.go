package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/text2rednote/rednotepay/app/models"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

// sqlShape matches statements containing every fragment in order.
func sqlShape(fragments ...string) string {
	quoted := make([]string, len(fragments))
	for i, f := range fragments {
		quoted[i] = regexp.QuoteMeta(f)
	}
	out := quoted[0]
	for _, q := range quoted[1:] {
		out += ".*" + q
	}
	return out
}

var (
	orderCAS   = sqlShape("UPDATE `payment_orders` SET", "WHERE external_order_id = ? AND status = ?")
	orderByID  = sqlShape("SELECT * FROM `payment_orders` WHERE external_order_id = ?")
	debitGuard = sqlShape("UPDATE `users` SET `credits`=credits - ?", "WHERE id = ? AND credits >= ?")
	creditAdd  = sqlShape("UPDATE `users` SET `credits`=credits + ?", "WHERE id = ?")
	userCount  = sqlShape("SELECT count(*) FROM `users` WHERE id = ?")
)

func orderRow(status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "external_order_id", "user_id", "status", "credits_granted"}).
		AddRow(1, "RN1", "u1", status, 100)
}

func TestGormOrders_MarkPaidIsPendingOnlyUpdate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOrderRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(orderCAS).
		WithArgs(sqlmock.AnyArg(), "T1", models.OrderStatusPaid, sqlmock.AnyArg(), "RN1", models.OrderStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(orderByID).WillReturnRows(orderRow(models.OrderStatusPaid))

	order, err := repo.MarkPaid(context.Background(), "RN1", "T1", time.Now())
	require.NoError(t, err)
	assert.True(t, order.IsPaid())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormOrders_LostTransitionReportsCurrentStatus(t *testing.T) {
	tests := []struct {
		name    string
		current string
		apply   func(OrderRepository) error
		want    error
	}{
		{
			name:    "paid twice",
			current: models.OrderStatusPaid,
			apply: func(r OrderRepository) error {
				_, err := r.MarkPaid(context.Background(), "RN1", "T1", time.Now())
				return err
			},
			want: ErrOrderAlreadyPaid,
		},
		{
			name:    "failed after paid",
			current: models.OrderStatusPaid,
			apply: func(r OrderRepository) error {
				_, err := r.MarkFailed(context.Background(), "RN1", "expired", time.Now())
				return err
			},
			want: ErrInvalidTransition,
		},
		{
			name:    "failed twice",
			current: models.OrderStatusFailed,
			apply: func(r OrderRepository) error {
				_, err := r.MarkFailed(context.Background(), "RN1", "expired", time.Now())
				return err
			},
			want: ErrOrderAlreadyFailed,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			mock.ExpectBegin()
			mock.ExpectExec(orderCAS).WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectCommit()
			mock.ExpectQuery(orderByID).WillReturnRows(orderRow(tc.current))

			err := tc.apply(NewOrderRepository(db))
			assert.ErrorIs(t, err, tc.want)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGormOrders_MarkFailedArguments(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(orderCAS).
		WithArgs(sqlmock.AnyArg(), "expired", models.OrderStatusFailed, sqlmock.AnyArg(), "RN1", models.OrderStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(orderByID).WillReturnRows(orderRow(models.OrderStatusFailed))

	order, err := NewOrderRepository(db).MarkFailed(context.Background(), "RN1", "expired", time.Now())
	require.NoError(t, err)
	assert.True(t, order.IsFailed())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormCredits_DecrementIsGuarded(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(debitGuard).
		WithArgs(int64(5), sqlmock.AnyArg(), "u1", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(sqlShape("SELECT `id`,`credits` FROM `users` WHERE id = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "credits"}).AddRow("u1", 3))
	mock.ExpectExec(sqlShape("INSERT INTO `credit_history`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	balance, err := NewCreditRepository(db).Decrement(context.Background(), "u1", 5, models.CreditReasonGeneration, "gen-1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, balance)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormCredits_DecrementInsufficientRollsBack(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(debitGuard).
		WithArgs(int64(50), sqlmock.AnyArg(), "u1", int64(50)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(userCount).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(1))
	mock.ExpectRollback()

	_, err := NewCreditRepository(db).Decrement(context.Background(), "u1", 50, models.CreditReasonGeneration, "gen-1")
	assert.ErrorIs(t, err, ErrInsufficientCredits)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormCredits_IncrementUnknownUser(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(creditAdd).
		WithArgs(int64(100), sqlmock.AnyArg(), "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(userCount).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(0))
	mock.ExpectRollback()

	_, err := NewCreditRepository(db).Increment(context.Background(), "ghost", 100, models.CreditReasonPurchase, "RN1")
	assert.ErrorIs(t, err, ErrUserNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
