package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/metropia/maas-core/internal/store"
)

// AddEscrow opens an escrow account for a carpool reservation, per spec
// §4.1 addEscrow.
func (s *Service) AddEscrow(ctx context.Context, userID, reservationID int64, offerID, tripID *int64) (int64, error) {
	var id int64
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = store.InsertEscrowAccount(ctx, tx, userID, reservationID, offerID, tripID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("ledger: add escrow: %w", err)
	}
	return id, nil
}

// AddEscrowDetail debits or credits the user's wallet for an escrow line
// item and records the paired PointsTransaction, per spec §4.1
// addEscrowDetail.
func (s *Service) AddEscrowDetail(ctx context.Context, userID, escrowID int64, activityType int, fund float64, offerID *int64) (int64, error) {
	absFund := fund
	if absFund < 0 {
		absFund = -absFund
	}

	activity := activityEscrowCredit
	signedDelta := absFund
	if isEscrowIncrease(activityType) {
		activity = activityEscrowDebit
		signedDelta = -absFund
	}

	var detailID int64
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		txID, err := store.InsertPointsTransaction(ctx, tx, userID, activity, signedDelta, "escrow", nil)
		if err != nil {
			return fmt.Errorf("insert escrow points_transaction: %w", err)
		}

		wallet, err := store.LockWalletForUpdate(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}
		if err := store.UpdateWalletBalance(ctx, tx, userID, wallet.Balance+signedDelta, false); err != nil {
			return fmt.Errorf("update wallet balance: %w", err)
		}

		detailID, err = store.InsertEscrowDetail(ctx, tx, escrowID, activityType, absFund, offerID, txID)
		if err != nil {
			return fmt.Errorf("insert escrow_detail: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ledger: add escrow detail: %w", err)
	}
	return detailID, nil
}

// CloseEscrow rewrites every pending (activity 9/10) EscrowDetail for this
// user/reservation to activity=8 and closes the account, in one
// transaction, per spec §4.1 closeEscrow.
func (s *Service) CloseEscrow(ctx context.Context, userID, reservationID int64) error {
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.RewriteEscrowDetailActivity(ctx, tx, userID, reservationID); err != nil {
			return fmt.Errorf("rewrite escrow_detail activity: %w", err)
		}
		if err := store.CloseEscrowAccount(ctx, tx, userID, reservationID); err != nil {
			return fmt.Errorf("close escrow_account: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ledger: close escrow: %w", err)
	}
	return nil
}

// ClearOldPendingPT is the maintenance reaper: every PointsTransaction
// with activity ∈ {9,10} older than the configured pending-max-age and
// whose user is not blocked is rewritten to activity=8, per spec §4.1.
func (s *Service) ClearOldPendingPT(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-maxAge)
	var n int
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		ids, err := store.FindOldPendingEscrowTxIDs(ctx, tx, cutoff)
		if err != nil {
			return fmt.Errorf("find old pending tx ids: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		affected, err := store.RewriteEscrowPendingToSettled(ctx, tx, ids)
		if err != nil {
			return fmt.Errorf("rewrite pending to settled: %w", err)
		}
		n = int(affected)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ledger: clear old pending pt: %w", err)
	}
	return n, nil
}
