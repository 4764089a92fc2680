package store

import (
	"context"
	"database/sql"
	"time"
)

// SurveyActorState mirrors spec §3: the durable snapshot an orchestrator
// actor resumes from. state_json is the serialized transition snapshot;
// this package treats it as opaque bytes, per the "typed document
// contracts... payload stays opaque" re-architecture note in spec §9.
type SurveyActorState struct {
	UserID    int64
	SurveyID  string
	StateJSON []byte
	UpdatedOn time.Time
}

// GetSurveyActorState loads the current snapshot for a user. Returns
// (nil, nil) when no actor is live for that user.
func GetSurveyActorState(ctx context.Context, q Querier, userID int64) (*SurveyActorState, error) {
	s := &SurveyActorState{}
	err := q.QueryRowContext(ctx, `
		SELECT user_id, survey_id, state_json, updated_on
		FROM survey_actor_state WHERE user_id = $1`, userID).
		Scan(&s.UserID, &s.SurveyID, &s.StateJSON, &s.UpdatedOn)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// UpsertSurveyActorState persists a snapshot, per spec §4.8 "every
// transition persists a snapshot to SurveyActorState (upsert) before
// acknowledging the transition to the caller".
func UpsertSurveyActorState(ctx context.Context, q Querier, userID int64, surveyID string, stateJSON []byte, now time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO survey_actor_state (user_id, survey_id, state_json, updated_on)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			survey_id = EXCLUDED.survey_id,
			state_json = EXCLUDED.state_json,
			updated_on = EXCLUDED.updated_on`,
		userID, surveyID, stateJSON, now)
	return err
}

// DeleteSurveyActorState removes the row on reaching a terminal state
// (done or cancelled), per spec §3 "deleted on reaching done".
func DeleteSurveyActorState(ctx context.Context, q Querier, userID int64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM survey_actor_state WHERE user_id = $1`, userID)
	return err
}

// InsertSurveyQuestionLog records one answered question, per spec §3
// SurveyQuestionLog.
func InsertSurveyQuestionLog(ctx context.Context, q Querier, userID int64, surveyID string, questionID int, answer string, now time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO survey_question_log (user_id, survey_id, question_id, answer, created_on)
		VALUES ($1, $2, $3, $4, $5)`, userID, surveyID, questionID, answer, now)
	return err
}

// insertSurveyBonusLedger claims the (user_id, survey_id) uniqueness slot
// backing spec §3's "SurveyBonusLedger entry in PointsTransaction with
// unique (user_id, survey_id) constraint to prevent double-payment" — a
// dedicated table rather than a column on the append-only
// points_transaction row, since that table carries no survey_id field.
// Returns false (no error) when the slot was already claimed.
func insertSurveyBonusLedger(ctx context.Context, tx *sql.Tx, userID int64, surveyID string, now time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO survey_bonus_ledger (user_id, survey_id, created_on)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, survey_id) DO NOTHING`, userID, surveyID, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const activitySurveyReward = 6

// RewardSurveyCompletion credits the survey's one-time reward under the
// (user_id, survey_id) uniqueness constraint, per spec §4.8 "done on
// entry: credit reward... under unique constraint; if uniqueness
// violated, log and skip". Returns rewarded=false (no error) on a
// duplicate completion attempt.
func RewardSurveyCompletion(ctx context.Context, db *DB, userID int64, surveyID string, points float64, now time.Time) (rewarded bool, transactionID int64, err error) {
	err = db.WithTx(ctx, func(tx *sql.Tx) error {
		claimed, err := insertSurveyBonusLedger(ctx, tx, userID, surveyID, now)
		if err != nil {
			return err
		}
		if !claimed {
			return nil
		}

		wallet, err := LockWalletForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		txID, err := InsertPointsTransaction(ctx, tx, userID, activitySurveyReward, points, "microsurvey_reward:"+surveyID, nil)
		if err != nil {
			return err
		}
		if err := UpdateWalletBalance(ctx, tx, userID, wallet.Balance+points, false); err != nil {
			return err
		}
		rewarded = true
		transactionID = txID
		return nil
	})
	if err != nil {
		return false, 0, err
	}
	return rewarded, transactionID, nil
}
