package microsurvey

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedPush(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestTransition_StartEntersWaitConsent(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	push := now.Add(time.Hour)
	snap, effects, err := transition(Snapshot{UserID: 1, Phase: PhaseIdle}, StartEvent{SurveyID: "sv1"}, now, 12, fixedPush(push))
	require.NoError(t, err)
	require.Equal(t, PhaseWaitConsent, snap.Phase)
	require.Equal(t, "sv1", snap.SurveyID)
	require.Equal(t, push, snap.ScheduledPush)
	require.Len(t, effects, 1)
	require.IsType(t, SchedulePush{}, effects[0])
}

func TestTransition_ConsentYesEntersWaitQ1(t *testing.T) {
	now := time.Now()
	snap := Snapshot{UserID: 1, SurveyID: "sv1", Phase: PhaseWaitConsent}
	next, effects, err := transition(snap, ConsentYesEvent{}, now, 12, fixedPush(now.Add(time.Hour)))
	require.NoError(t, err)
	require.Equal(t, PhaseWaitQuestion, next.Phase)
	require.Equal(t, 1, next.Question)
	require.Len(t, effects, 1)
}

func TestTransition_AnswerAdvancesQuestion(t *testing.T) {
	now := time.Now()
	snap := Snapshot{UserID: 1, SurveyID: "sv1", Phase: PhaseWaitQuestion, Question: 3}
	next, effects, err := transition(snap, AnswerEvent{Question: 3, Answer: "yes"}, now, 12, fixedPush(now.Add(time.Hour)))
	require.NoError(t, err)
	require.Equal(t, PhaseWaitQuestion, next.Phase)
	require.Equal(t, 4, next.Question)
	require.Len(t, effects, 1)
	require.IsType(t, SchedulePush{}, effects[0])
}

func TestTransition_AnswerLastQuestionReachesDoneAndCredits(t *testing.T) {
	now := time.Now()
	snap := Snapshot{UserID: 1, SurveyID: "sv1", Phase: PhaseWaitQuestion, Question: 12}
	next, effects, err := transition(snap, AnswerEvent{Question: 12, Answer: "done"}, now, 12, fixedPush(now))
	require.NoError(t, err)
	require.Equal(t, PhaseDone, next.Phase)
	require.Len(t, effects, 1)
	require.IsType(t, CreditReward{}, effects[0])
}

func TestTransition_StaleAnswerIgnored(t *testing.T) {
	now := time.Now()
	snap := Snapshot{UserID: 1, SurveyID: "sv1", Phase: PhaseWaitQuestion, Question: 5}
	_, effects, err := transition(snap, AnswerEvent{Question: 3, Answer: "old"}, now, 12, fixedPush(now))
	require.Error(t, err)
	require.True(t, IsStaleAnswer(err))
	require.Nil(t, effects)
}

func TestTransition_CancelDeletesState(t *testing.T) {
	now := time.Now()
	snap := Snapshot{UserID: 1, SurveyID: "sv1", Phase: PhaseWaitQuestion, Question: 5}
	next, effects, err := transition(snap, CancelEvent{}, now, 12, fixedPush(now))
	require.NoError(t, err)
	require.Equal(t, PhaseCancelled, next.Phase)
	require.Len(t, effects, 1)
	require.IsType(t, DeleteState{}, effects[0])
}

func TestTransition_CancelFromTerminalIsInvalid(t *testing.T) {
	now := time.Now()
	snap := Snapshot{UserID: 1, Phase: PhaseDone}
	_, _, err := transition(snap, CancelEvent{}, now, 12, fixedPush(now))
	require.Error(t, err)
}

func TestTransition_AnswerFromWrongPhaseInvalid(t *testing.T) {
	now := time.Now()
	snap := Snapshot{UserID: 1, Phase: PhaseIdle}
	_, _, err := transition(snap, AnswerEvent{Question: 1}, now, 12, fixedPush(now))
	require.Error(t, err)
}
