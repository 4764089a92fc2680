package store

import (
	"context"
	"database/sql"
	"time"
)

// Wallet mirrors spec §3's Wallet entity.
type Wallet struct {
	UserID         int64
	Balance        float64
	AutoRefill     bool
	RefillPlanID   sql.NullInt64
	BelowBalance   float64
	StripeCustomerID string
	CreatedOn      time.Time
	ModifiedOn     time.Time
}

// LockWalletForUpdate row-locks the wallet, creating it with balance 0 if
// missing, per spec §4.1 step 1 ("create-on-missing with balance 0").
func LockWalletForUpdate(ctx context.Context, tx *sql.Tx, userID int64) (*Wallet, error) {
	w := &Wallet{}
	err := tx.QueryRowContext(ctx, `
		SELECT user_id, balance, auto_refill, refill_plan_id, below_balance,
		       COALESCE(stripe_customer_id, ''), created_on, modified_on
		FROM wallet WHERE user_id = $1 FOR UPDATE`, userID).Scan(
		&w.UserID, &w.Balance, &w.AutoRefill, &w.RefillPlanID, &w.BelowBalance,
		&w.StripeCustomerID, &w.CreatedOn, &w.ModifiedOn)

	if err == sql.ErrNoRows {
		now := time.Now().UTC()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO wallet (user_id, balance, auto_refill, below_balance, created_on, modified_on)
			VALUES ($1, 0, false, 0, $2, $2)
			ON CONFLICT (user_id) DO NOTHING`, userID, now)
		if err != nil {
			return nil, err
		}
		return &Wallet{UserID: userID, Balance: 0, CreatedOn: now, ModifiedOn: now}, nil
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// UpdateWalletBalance persists a new balance (and optionally flips
// auto_refill off, per the daily-limit failure mode in spec §4.1).
func UpdateWalletBalance(ctx context.Context, tx *sql.Tx, userID int64, newBalance float64, disableAutoRefill bool) error {
	if disableAutoRefill {
		_, err := tx.ExecContext(ctx, `
			UPDATE wallet SET balance = $1, auto_refill = false, modified_on = now() WHERE user_id = $2`,
			newBalance, userID)
		return err
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE wallet SET balance = $1, modified_on = now() WHERE user_id = $2`, newBalance, userID)
	return err
}

// GetWallet is a read-only lookup, used outside the transact() critical
// section (e.g. by API read endpoints external to this core).
func GetWallet(ctx context.Context, q Querier, userID int64) (*Wallet, error) {
	w := &Wallet{}
	err := q.QueryRowContext(ctx, `
		SELECT user_id, balance, auto_refill, refill_plan_id, below_balance,
		       COALESCE(stripe_customer_id, ''), created_on, modified_on
		FROM wallet WHERE user_id = $1`, userID).Scan(
		&w.UserID, &w.Balance, &w.AutoRefill, &w.RefillPlanID, &w.BelowBalance,
		&w.StripeCustomerID, &w.CreatedOn, &w.ModifiedOn)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// RefillPlan mirrors spec §3.
type RefillPlan struct {
	ID     int64
	Points float64
	Price  float64
}

func GetRefillPlan(ctx context.Context, q Querier, id int64) (*RefillPlan, error) {
	p := &RefillPlan{}
	err := q.QueryRowContext(ctx, `SELECT id, points, price FROM refill_plan WHERE id = $1`, id).
		Scan(&p.ID, &p.Points, &p.Price)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// IsUserBlocked reports whether BlockUser is active with the given
// block_type (spec §3: "is_deleted='F' AND block_type=1").
func IsUserBlocked(ctx context.Context, q Querier, userID int64, blockType int) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT count(*) FROM block_user WHERE user_id = $1 AND is_deleted = 'F' AND block_type = $2`,
		userID, blockType).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// DailyRefillCreditSum sums the USD price of activity_type=10 refill
// credits in the trailing 24h window, used for the daily USD-limit check
// in spec §4.1. Each refill row's ref_transaction_id carries the
// refill_plan id it was minted from (set at auto-refill time), so the
// USD amount is recovered by joining back to refill_plan.price rather
// than summing points_transaction.delta, which is denominated in points.
func DailyRefillCreditSum(ctx context.Context, q Querier, userID int64, since time.Time) (float64, error) {
	var sum sql.NullFloat64
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(rp.price), 0) FROM points_transaction pt
		JOIN refill_plan rp ON rp.id = pt.ref_transaction_id
		WHERE pt.user_id = $1 AND pt.activity_type = 10 AND pt.created_on >= $2`, userID, since).Scan(&sum)
	if err != nil {
		return 0, err
	}
	return sum.Float64, nil
}
