package ledger

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/metropia/maas-core/internal/clock"
	"github.com/metropia/maas-core/internal/store"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewService(&store.DB{DB: db}, nil, fakePaymentChecker{ok: true}, clock.NewMutable(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)), 50, nil), mock
}

type fakePaymentChecker struct{ ok bool }

func (f fakePaymentChecker) HasPaymentMethod(string) (bool, error) { return f.ok, nil }

func TestTransact_ActivityFundMismatch(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Transact(context.Background(), 1, 2 /* SIGN-POSITIVE */, -5, "bad sign")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ACTIVITY_FUND_MISMATCH")
}

func TestTransact_UserSuspended(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectQuery(`SELECT count\(\*\) FROM block_user`).
		WithArgs(int64(7), blockTypeCoinSuspended).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	_, err := svc.Transact(context.Background(), 7, 2, 5, "credit")
	require.Error(t, err)
	require.Contains(t, err.Error(), "USER_COIN_SUSPENDED")
}

func TestTransact_SimpleCredit(t *testing.T) {
	svc, mock := newTestService(t)
	userID := int64(42)

	mock.ExpectQuery(`SELECT count\(\*\) FROM block_user`).
		WithArgs(userID, blockTypeCoinSuspended).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT user_id, balance, auto_refill, refill_plan_id, below_balance`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "balance", "auto_refill", "refill_plan_id", "below_balance", "coalesce", "created_on", "modified_on"}).
			AddRow(userID, 10.0, false, nil, 0.0, "", time.Now(), time.Now()))
	mock.ExpectQuery(`INSERT INTO points_transaction`).
		WithArgs(userID, 2, 5.0, "credit", nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(500)))
	mock.ExpectExec(`UPDATE wallet SET balance`).
		WithArgs(15.0, userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := svc.Transact(context.Background(), userID, 2, 5, "credit")
	require.NoError(t, err)
	require.Equal(t, 15.0, result.NewBalance)
	require.Equal(t, int64(500), result.TransactionID)
}

func TestTransact_InsufficientFundsNoAutoRefill(t *testing.T) {
	svc, mock := newTestService(t)
	userID := int64(9)

	mock.ExpectQuery(`SELECT count\(\*\) FROM block_user`).
		WithArgs(userID, blockTypeCoinSuspended).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT user_id, balance, auto_refill, refill_plan_id, below_balance`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "balance", "auto_refill", "refill_plan_id", "below_balance", "coalesce", "created_on", "modified_on"}).
			AddRow(userID, 10.0, false, nil, 0.0, "", time.Now(), time.Now()))
	mock.ExpectRollback()

	_, err := svc.Transact(context.Background(), userID, 8 /* SIGN-NEGATIVE */, -20, "debit")
	require.Error(t, err)
	require.Contains(t, err.Error(), "INSUFFICIENT_FUNDS")
}
