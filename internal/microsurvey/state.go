// Package microsurvey implements C8: a durable, user-scoped finite-state
// machine driving the fixed consent→Q1…Qn→done survey flow, with
// AI-scheduled push nudges and exactly-once reward distribution, grounded
// on the teacher's internal/federation state machine (a per-session typed
// snapshot advanced by closed events) generalized from per-session
// federation handshakes to per-user survey progress.
package microsurvey

import (
	"encoding/json"
	"fmt"
	"time"
)

// Phase is the closed set of survey phases named in spec §4.8.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseWaitConsent  Phase = "wait_consent"
	PhaseConsent      Phase = "consent"
	PhaseWaitQuestion Phase = "wait_question"
	PhaseQuestion     Phase = "question"
	PhaseDone         Phase = "done"
	PhaseCancelled    Phase = "cancelled"
)

func (p Phase) terminal() bool {
	return p == PhaseDone || p == PhaseCancelled
}

// Snapshot is the durable, serializable actor state — the source of
// truth spec §4.8 requires ("actor state is always serializable; every
// transition persists a snapshot... before acknowledging the transition").
type Snapshot struct {
	UserID        int64     `json:"user_id"`
	SurveyID      string    `json:"survey_id"`
	Phase         Phase     `json:"phase"`
	Question      int       `json:"question"`       // current question number, 1-indexed
	ScheduledPush time.Time `json:"scheduled_push"`  // zero when no push is pending
	UpdatedOn     time.Time `json:"updated_on"`
}

func (s Snapshot) marshal() ([]byte, error) { return json.Marshal(s) }

func unmarshalSnapshot(b []byte) (Snapshot, error) {
	var s Snapshot
	err := json.Unmarshal(b, &s)
	return s, err
}

// Event is the closed set of inputs the state machine accepts, per spec
// §4.8 "Transitions".
type Event interface{ isEvent() }

type StartEvent struct{ SurveyID string }
type ConsentYesEvent struct{}
type AnswerEvent struct {
	Question int
	Answer   string
}
type CancelEvent struct{}

func (StartEvent) isEvent()      {}
func (ConsentYesEvent) isEvent() {}
func (AnswerEvent) isEvent()     {}
func (CancelEvent) isEvent()     {}

// SideEffect is something the orchestrator must do after a transition has
// been durably persisted ("persist-before-ack: external side effects...
// occur after the snapshot is durably written", spec §4.8).
type SideEffect interface{ isSideEffect() }

// SchedulePush asks the orchestrator to schedule (or immediately fire, if
// At is already due) a push notification.
type SchedulePush struct {
	At      time.Time
	Content string
}

// CreditReward asks the orchestrator to run the one-time survey reward.
// The actor's persisted row is already deleted when the terminal
// snapshot is persisted.
type CreditReward struct{}

// DeleteState marks the CANCEL path: no reward is credited. The persisted
// row is already deleted when the terminal snapshot is persisted.
type DeleteState struct{}

func (SchedulePush) isSideEffect() {}
func (CreditReward) isSideEffect() {}
func (DeleteState) isSideEffect()  {}

// staleAnswerError marks AnswerEvents replayed for an already-answered
// question — ignored idempotently per spec §4.8 Google Forms ingestion
// "if the incoming question_id < current question_id... stale_answer".
type staleAnswerError struct {
	question, current int
}

func (e staleAnswerError) Error() string {
	return fmt.Sprintf("stale_answer: question %d < current %d", e.question, e.current)
}

// IsStaleAnswer reports whether err is the stale-answer replay case.
func IsStaleAnswer(err error) bool {
	_, ok := err.(staleAnswerError)
	return ok
}

// transition is the pure state-transition function: given the current
// snapshot, an event, and the survey's question count, it returns the new
// snapshot and the side effects the caller must perform once the new
// snapshot is durably persisted. pushAt computes the next scheduled push
// instant for phases that schedule one.
func transition(snap Snapshot, ev Event, now time.Time, numQuestions int, pushAt func() time.Time) (Snapshot, []SideEffect, error) {
	switch e := ev.(type) {
	case StartEvent:
		if snap.Phase != PhaseIdle && snap.Phase != "" {
			return snap, nil, fmt.Errorf("microsurvey: START invalid from phase %q", snap.Phase)
		}
		next := Snapshot{
			UserID:    snap.UserID,
			SurveyID:  e.SurveyID,
			Phase:     PhaseWaitConsent,
			UpdatedOn: now,
		}
		at := pushAt()
		next.ScheduledPush = at
		return next, []SideEffect{SchedulePush{At: at, Content: "consent"}}, nil

	case ConsentYesEvent:
		if snap.Phase != PhaseWaitConsent {
			return snap, nil, fmt.Errorf("microsurvey: CONSENT_YES invalid from phase %q", snap.Phase)
		}
		next := snap
		next.Phase = PhaseWaitQuestion
		next.Question = 1
		next.UpdatedOn = now
		at := pushAt()
		next.ScheduledPush = at
		return next, []SideEffect{SchedulePush{At: at, Content: questionContent(1)}}, nil

	case AnswerEvent:
		if snap.Phase != PhaseWaitQuestion && snap.Phase != PhaseQuestion {
			return snap, nil, fmt.Errorf("microsurvey: ANSWER invalid from phase %q", snap.Phase)
		}
		if e.Question < snap.Question {
			return snap, nil, staleAnswerError{question: e.Question, current: snap.Question}
		}
		if e.Question > snap.Question {
			return snap, nil, fmt.Errorf("microsurvey: ANSWER(%d) ahead of current question %d", e.Question, snap.Question)
		}

		if snap.Question >= numQuestions {
			next := snap
			next.Phase = PhaseDone
			next.Question = snap.Question
			next.ScheduledPush = time.Time{}
			next.UpdatedOn = now
			return next, []SideEffect{CreditReward{}}, nil
		}

		next := snap
		next.Phase = PhaseWaitQuestion
		next.Question = snap.Question + 1
		next.UpdatedOn = now
		at := pushAt()
		next.ScheduledPush = at
		return next, []SideEffect{SchedulePush{At: at, Content: questionContent(next.Question)}}, nil

	case CancelEvent:
		if snap.Phase.terminal() {
			return snap, nil, fmt.Errorf("microsurvey: CANCEL invalid from terminal phase %q", snap.Phase)
		}
		next := snap
		next.Phase = PhaseCancelled
		next.ScheduledPush = time.Time{}
		next.UpdatedOn = now
		return next, []SideEffect{DeleteState{}}, nil

	default:
		return snap, nil, fmt.Errorf("microsurvey: unknown event %T", ev)
	}
}

func questionContent(question int) string {
	return fmt.Sprintf("question_%d", question)
}
