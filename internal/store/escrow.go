package store

import (
	"context"
	"database/sql"
	"time"
)

// Escrow account constants from spec §6.
const (
	AccountBudget = 2000
	AccountEscrow = 2001
)

const (
	EscrowOpen   = 1
	EscrowClosed = 2
)

// SystemCoinsTransaction mirrors spec §3.
type SystemCoinsTransaction struct {
	ID               int64
	FromAccount      int64
	ToAccount        int64
	ActivityType     int
	Amount           float64
	RefTransactionID sql.NullInt64
}

func InsertSystemCoinsTransaction(ctx context.Context, tx *sql.Tx, from, to int64, activityType int, amount float64, refTxID *int64) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO system_coins_transaction (from_account, to_account, activity_type, amount, ref_transaction_id, created_on)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING id`, from, to, activityType, amount, nullInt64(refTxID)).Scan(&id)
	return id, err
}

// EscrowAccount mirrors spec §3.
type EscrowAccount struct {
	ID            int64
	UserID        int64
	ReservationID int64
	OfferID       sql.NullInt64
	TripID        sql.NullInt64
	Status        int
	CreatedOn     time.Time
}

func InsertEscrowAccount(ctx context.Context, tx *sql.Tx, userID, reservationID int64, offerID, tripID *int64) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO escrow_account (user_id, reservation_id, offer_id, trip_id, status, created_on)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING id`, userID, reservationID, nullInt64(offerID), nullInt64(tripID), EscrowOpen).Scan(&id)
	return id, err
}

func CloseEscrowAccount(ctx context.Context, tx *sql.Tx, userID, reservationID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE escrow_account SET status = $1 WHERE user_id = $2 AND reservation_id = $3`,
		EscrowClosed, userID, reservationID)
	return err
}

// EscrowDetail mirrors spec §3.
type EscrowDetail struct {
	ID            int64
	EscrowID      int64
	ActivityType  int
	Fund          float64
	OfferID       sql.NullInt64
	TransactionID int64
	CreatedOn     time.Time
}

func InsertEscrowDetail(ctx context.Context, tx *sql.Tx, escrowID int64, activityType int, fund float64, offerID *int64, transactionID int64) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO escrow_detail (escrow_id, activity_type, fund, offer_id, transaction_id, created_on)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING id`, escrowID, activityType, fund, nullInt64(offerID), transactionID).Scan(&id)
	return id, err
}

// EscrowDetailTxIDsPending returns the PointsTransaction ids referenced by
// EscrowDetail rows with activity 9/10 for (user, reservation), so the
// caller can rewrite them to activity 8 when closing the escrow.
func EscrowDetailTxIDsPending(ctx context.Context, q Querier, userID, reservationID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT ed.transaction_id FROM escrow_detail ed
		JOIN escrow_account ea ON ea.id = ed.escrow_id
		WHERE ea.user_id = $1 AND ea.reservation_id = $2 AND ed.activity_type IN (9, 10)`,
		userID, reservationID)
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

// RewriteEscrowDetailActivity flips the escrow's escrow_detail rows with
// activity_type 9 or 10 to 8, per spec §4.1 closeEscrow. The linked
// points_transaction rows are not changed here.
func RewriteEscrowDetailActivity(ctx context.Context, tx *sql.Tx, userID, reservationID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE escrow_detail ed SET activity_type = 8
		FROM escrow_account ea
		WHERE ea.id = ed.escrow_id AND ea.user_id = $1 AND ea.reservation_id = $2
		  AND ed.activity_type IN (9, 10)`, userID, reservationID)
	return err
}
