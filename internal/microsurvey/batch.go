package microsurvey

import (
	"context"
	"time"

	"github.com/metropia/maas-core/internal/store"
)

// logAnswer records the answered question in the append-only audit log,
// per spec §3 SurveyQuestionLog. This is best-effort bookkeeping separate
// from the state machine's own persisted snapshot.
func (o *Orchestrator) logAnswer(ctx context.Context, id *decryptedIdentifier, answer string) error {
	return store.InsertSurveyQuestionLog(ctx, o.db, id.UserID, id.SurveyID, id.QuestionID, answer, o.clock.Now())
}

// TriggerMicrosurvey implements spec §4.8's batch entry point: dispatch
// START to every selected user, throttled by setTime per user so the
// fan-out doesn't burst the push-scheduling backend.
func (o *Orchestrator) TriggerMicrosurvey(ctx context.Context, userIDs []int64, surveyID string, limitation int, setTime time.Duration) (int, error) {
	if limitation > 0 && limitation < len(userIDs) {
		userIDs = userIDs[:limitation]
	}

	started := 0
	for i, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			return started, err
		}
		if _, err := o.Dispatch(ctx, userID, StartEvent{SurveyID: surveyID}); err != nil {
			o.log.Warn("microsurvey: batch START dispatch failed", "user_id", userID, "err", err)
			continue
		}
		started++

		if setTime > 0 && i < len(userIDs)-1 {
			timer := time.NewTimer(setTime)
			select {
			case <-ctx.Done():
				timer.Stop()
				return started, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return started, nil
}
