package microsurvey

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/metropia/maas-core/internal/clock"
	"github.com/metropia/maas-core/internal/store"
)

type fakeScheduler struct {
	calls []struct {
		userID  int64
		at      time.Time
		content string
	}
}

func (f *fakeScheduler) Schedule(_ context.Context, userID int64, at time.Time, content string) error {
	f.calls = append(f.calls, struct {
		userID  int64
		at      time.Time
		content string
	}{userID, at, content})
	return nil
}

func newTestOrchestrator(t *testing.T, now time.Time) (*Orchestrator, sqlmock.Sqlmock, *fakeScheduler) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sched := &fakeScheduler{}
	o := NewOrchestrator(&store.DB{DB: db}, sched, nil, clock.NewMutable(now), Config{
		NumQuestions: 12,
		RewardPoints: 10,
		MaxLiveActors: 10000,
	}, nil)
	return o, mock, sched
}

func TestDispatch_StartCreatesActorStateRow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	o, mock, sched := newTestOrchestrator(t, now)
	userID := int64(100)

	mock.ExpectQuery(`SELECT user_id, survey_id, state_json, updated_on FROM survey_actor_state`).
		WithArgs(userID).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO survey_actor_state`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	snap, err := o.Dispatch(context.Background(), userID, StartEvent{SurveyID: "sv1"})
	require.NoError(t, err)
	require.Equal(t, PhaseWaitConsent, snap.Phase)
	require.Len(t, sched.calls, 1)
	require.Equal(t, "consent", sched.calls[0].content)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatch_CompletingLastQuestionCreditsRewardAndDeletesState(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	o, mock, _ := newTestOrchestrator(t, now)
	userID := int64(200)

	// Pre-seed the in-memory actor so Dispatch doesn't need to rehydrate.
	o.actors[userID] = &actorEntry{userID: userID, snap: Snapshot{UserID: userID, SurveyID: "sv1", Phase: PhaseWaitQuestion, Question: 12}}
	o.lru.PushFront(o.actors[userID])
	o.actors[userID].lruElem = o.lru.Front()

	mock.ExpectExec(`DELETE FROM survey_actor_state`).
		WithArgs(userID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO survey_bonus_ledger`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT user_id, balance, auto_refill, refill_plan_id, below_balance`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "balance", "auto_refill", "refill_plan_id", "below_balance", "coalesce", "created_on", "modified_on"}).
			AddRow(userID, 0.0, false, nil, 0.0, "", now, now))
	mock.ExpectQuery(`INSERT INTO points_transaction`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(900)))
	mock.ExpectExec(`UPDATE wallet SET balance`).
		WithArgs(10.0, userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	snap, err := o.Dispatch(context.Background(), userID, AnswerEvent{Question: 12, Answer: "last"})
	require.NoError(t, err)
	require.Equal(t, PhaseDone, snap.Phase)
	require.NoError(t, mock.ExpectationsWereMet())

	_, stillLive := o.actors[userID]
	require.False(t, stillLive, "terminal actor must be forgotten from the live registry")
}

func TestDispatch_StaleAnswerIsNoOpAndActorUnchanged(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	o, _, _ := newTestOrchestrator(t, now)
	userID := int64(300)

	entry := &actorEntry{userID: userID, snap: Snapshot{UserID: userID, SurveyID: "sv1", Phase: PhaseWaitQuestion, Question: 5}}
	o.actors[userID] = entry
	entry.lruElem = o.lru.PushFront(entry)

	_, err := o.Dispatch(context.Background(), userID, AnswerEvent{Question: 2, Answer: "stale"})
	require.Error(t, err)
	require.True(t, IsStaleAnswer(err))
	require.Equal(t, 5, o.actors[userID].snap.Question, "stale answer must not mutate the persisted question pointer")
}

func TestEvictIfOverCapLocked_EvictsLeastRecentlyUsedIdleActor(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, time.Now())
	o.maxLive = 2

	for _, id := range []int64{1, 2, 3} {
		entry := &actorEntry{userID: id, snap: Snapshot{UserID: id, Phase: PhaseWaitQuestion}}
		o.mu.Lock()
		entry.lruElem = o.lru.PushFront(entry)
		o.actors[id] = entry
		o.evictIfOverCapLocked()
		o.mu.Unlock()
	}

	require.Len(t, o.actors, 2)
	_, evicted := o.actors[1]
	require.False(t, evicted, "the least-recently-touched actor (user 1) should have been evicted")
}
