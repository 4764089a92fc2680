// Package ledger implements the points/wallet ledger (C1): atomic
// transact-with-refill semantics, escrow open/detail/close, and the
// pending-escrow reaper, grounded on the teacher's escrow/wallet
// transaction shape and generalized to the full activity-sign taxonomy
// of spec §4.1.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/metropia/maas-core/internal/clock"
	"github.com/metropia/maas-core/internal/ocxerr"
	"github.com/metropia/maas-core/internal/redisx"
	"github.com/metropia/maas-core/internal/store"
)

const blockTypeCoinSuspended = 1

// Service is the ledger's entry point (Transact, AddEscrow, AddEscrowDetail,
// CloseEscrow, ClearOldPendingPT). The microsurvey reward credit
// (store.RewardSurveyCompletion) updates the wallet directly, not through
// Service.
type Service struct {
	db       *store.DB
	redis    *redisx.Client
	payments PaymentChecker
	clock    clock.Clock
	log      *slog.Logger

	dailyRefillUSDLimit float64
}

func NewService(db *store.DB, redis *redisx.Client, payments PaymentChecker, clk clock.Clock, dailyRefillUSDLimit float64, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, redis: redis, payments: payments, clock: clk, dailyRefillUSDLimit: dailyRefillUSDLimit, log: log}
}

// TransactResult is the Transact contract's return value per spec §4.1.
type TransactResult struct {
	NewBalance    float64
	TransactionID int64
}

// Transact is the ledger's core atomic operation: validate, lock the
// wallet, apply delta (with refill-on-overdraft), record the
// points_transaction row, and update the balance — all inside one DB
// transaction.
func (s *Service) Transact(ctx context.Context, userID int64, activityType int, delta float64, note string) (*TransactResult, error) {
	if !signMatches(activityType, delta) {
		return nil, ocxerr.New(ocxerr.ActivityFundMismatch, fmt.Sprintf("activity %d cannot carry delta %.2f", activityType, delta))
	}

	blocked, err := store.IsUserBlocked(ctx, s.db, userID, blockTypeCoinSuspended)
	if err != nil {
		return nil, fmt.Errorf("ledger: check block status: %w", err)
	}
	if blocked {
		return nil, ocxerr.New(ocxerr.UserCoinSuspended, "user coin privileges suspended")
	}

	var result *TransactResult
	// deferredErr carries COIN_PURCHASE_DAILY_LIMIT: per spec §4.1 that
	// failure mode still commits the original debit, so it must not
	// trigger the transaction rollback that returning it from the
	// closure would cause.
	var deferredErr *ocxerr.Error

	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		wallet, err := store.LockWalletForUpdate(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}

		newBalance := wallet.Balance + delta
		disableAutoRefill := false

		if newBalance < 0 {
			outcome, err := s.tryAutoRefill(ctx, tx, wallet, newBalance)
			if err != nil {
				return err
			}
			switch {
			case outcome.refilled != nil:
				newBalance += outcome.refilled.amount
			case outcome.dailyLimitExceeded:
				deferredErr = ocxerr.New(ocxerr.CoinPurchaseDailyLimit, "daily refill USD limit exceeded")
				disableAutoRefill = true
			case outcome.paymentUnset:
				return ocxerr.New(ocxerr.CoinPurchasePaymentUnset, "no payment method on file")
			default:
				return ocxerr.New(ocxerr.InsufficientFunds, "insufficient funds and no refill available")
			}
		}

		txID, err := store.InsertPointsTransaction(ctx, tx, userID, activityType, delta, note, nil)
		if err != nil {
			return fmt.Errorf("insert points_transaction: %w", err)
		}
		if err := store.UpdateWalletBalance(ctx, tx, userID, newBalance, disableAutoRefill); err != nil {
			return fmt.Errorf("update wallet balance: %w", err)
		}

		result = &TransactResult{NewBalance: newBalance, TransactionID: txID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if deferredErr != nil {
		return result, deferredErr
	}
	return result, nil
}

type refillOutcome struct {
	amount float64
}

// autoRefillOutcome distinguishes the auto-refill branch's three
// documented outcomes (success, daily-limit, payment-unset) from plain
// "not applicable", so Transact can apply the right wallet/error
// semantics for each without inspecting error codes.
type autoRefillOutcome struct {
	refilled           *refillOutcome
	dailyLimitExceeded bool
	paymentUnset       bool
}

// tryAutoRefill implements spec §4.1 step 3's auto-refill branch.
func (s *Service) tryAutoRefill(ctx context.Context, tx *sql.Tx, wallet *store.Wallet, projectedBalance float64) (autoRefillOutcome, error) {
	if !wallet.AutoRefill || !wallet.RefillPlanID.Valid {
		return autoRefillOutcome{}, nil
	}

	plan, err := store.GetRefillPlan(ctx, tx, wallet.RefillPlanID.Int64)
	if err != nil {
		return autoRefillOutcome{}, fmt.Errorf("load refill plan: %w", err)
	}
	if projectedBalance < -plan.Points {
		return autoRefillOutcome{}, nil
	}

	since := s.clock.Now().Add(-24 * time.Hour)
	spentToday, err := s.dailyRefillSpend(ctx, tx, wallet.UserID, since)
	if err != nil {
		return autoRefillOutcome{}, fmt.Errorf("compute daily refill spend: %w", err)
	}
	if spentToday+plan.Price > s.dailyRefillUSDLimit {
		return autoRefillOutcome{dailyLimitExceeded: true}, nil
	}

	if wallet.StripeCustomerID == "" {
		return autoRefillOutcome{paymentUnset: true}, nil
	}
	hasPayment, err := s.payments.HasPaymentMethod(wallet.StripeCustomerID)
	if err != nil {
		return autoRefillOutcome{}, fmt.Errorf("check stripe payment method: %w", err)
	}
	if !hasPayment {
		return autoRefillOutcome{paymentUnset: true}, nil
	}

	if _, err := store.InsertPointsTransaction(ctx, tx, wallet.UserID, activityRefillCredit, plan.Points, "auto_refill", &plan.ID); err != nil {
		return autoRefillOutcome{}, fmt.Errorf("insert refill credit: %w", err)
	}
	if _, err := store.InsertSystemCoinsTransaction(ctx, tx, store.AccountBudget, wallet.UserID, activityRefillCredit, plan.Points, nil); err != nil {
		return autoRefillOutcome{}, fmt.Errorf("insert system coins debit: %w", err)
	}
	if err := s.bumpDailyRefillSpend(ctx, wallet.UserID, plan.Price); err != nil {
		s.log.Warn("ledger: redis daily-refill counter bump failed, falling back to DB sum next time", "err", err)
	}

	return autoRefillOutcome{refilled: &refillOutcome{amount: plan.Points}}, nil
}

// dailyRefillSpend prefers the Redis counter (fast path); on miss or
// error it falls back to summing the DB, which remains the source of
// truth.
func (s *Service) dailyRefillSpend(ctx context.Context, tx *sql.Tx, userID int64, since time.Time) (float64, error) {
	if s.redis != nil {
		key := dailyRefillKey(userID, s.clock.Now())
		if val, ok, err := s.redis.Get(ctx, key); err == nil && ok {
			var spent float64
			if _, scanErr := fmt.Sscanf(val, "%f", &spent); scanErr == nil {
				return spent, nil
			}
		}
	}
	return store.DailyRefillCreditSum(ctx, tx, userID, since)
}

func (s *Service) bumpDailyRefillSpend(ctx context.Context, userID int64, priceUSD float64) error {
	if s.redis == nil {
		return nil
	}
	key := dailyRefillKey(userID, s.clock.Now())
	_, err := s.redis.IncrByFloatWithExpire(ctx, key, priceUSD, 25*time.Hour)
	return err
}

func dailyRefillKey(userID int64, now time.Time) string {
	return fmt.Sprintf("ledger:refill:%d:%s", userID, now.UTC().Format("2006-01-02"))
}
