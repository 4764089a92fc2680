package store

import (
	"context"
	"database/sql"
	"time"
)

// PointsTransaction mirrors spec §3. Append-only.
type PointsTransaction struct {
	ID              int64
	UserID          int64
	ActivityType    int
	Delta           float64
	Note            string
	RefTransactionID sql.NullInt64
	CreatedOn       time.Time
}

// InsertPointsTransaction appends a row and returns its id.
func InsertPointsTransaction(ctx context.Context, tx *sql.Tx, userID int64, activityType int, delta float64, note string, refTxID *int64) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO points_transaction (user_id, activity_type, delta, note, ref_transaction_id, created_on)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING id`, userID, activityType, delta, note, nullInt64(refTxID)).Scan(&id)
	return id, err
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// SumDeltaForUser returns the committed ledger sum for a user — the
// invariant checked in spec §8 ("wallet.balance == Σ points_transaction.delta").
func SumDeltaForUser(ctx context.Context, q Querier, userID int64) (float64, error) {
	var sum sql.NullFloat64
	err := q.QueryRowContext(ctx, `SELECT COALESCE(SUM(delta), 0) FROM points_transaction WHERE user_id = $1`, userID).Scan(&sum)
	if err != nil {
		return 0, err
	}
	return sum.Float64, nil
}

// RewriteEscrowPendingToSettled flips the given points_transaction ids that
// still carry activity_type 9/10 to activity_type 8 (the clearOldPendingPt
// reaper's rewrite). An empty ids slice is a no-op.
func RewriteEscrowPendingToSettled(ctx context.Context, tx *sql.Tx, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE points_transaction SET activity_type = 8
		WHERE id = ANY($1) AND activity_type IN (9, 10)`, pqInt64Array(ids))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FindOldPendingEscrowTxIDs finds activity 9/10 transactions older than
// cutoff for non-blocked users — input to the clearOldPendingPt reaper.
func FindOldPendingEscrowTxIDs(ctx context.Context, q Querier, cutoff time.Time) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT pt.id FROM points_transaction pt
		WHERE pt.activity_type IN (9, 10) AND pt.created_on < $1
		  AND NOT EXISTS (
		      SELECT 1 FROM block_user bu
		      WHERE bu.user_id = pt.user_id AND bu.is_deleted = 'F' AND bu.block_type = 1)`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
