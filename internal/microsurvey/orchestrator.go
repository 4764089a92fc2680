package microsurvey

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/metropia/maas-core/internal/clock"
	"github.com/metropia/maas-core/internal/store"
)

// PushScheduler dispatches (or immediately fires, if overdue) a scheduled
// push notification. The production implementation schedules a Cloud
// Tasks ETA; tests supply a fake that just records calls.
type PushScheduler interface {
	Schedule(ctx context.Context, userID int64, at time.Time, content string) error
}

// Config bundles the tunables named in spec §4.8.
type Config struct {
	MaxLiveActors    int
	DefaultTimezone  string
	QuietWindowStart string // "HH:MM"
	QuietWindowEnd   string // "HH:MM"
	NumQuestions     int
	RewardPoints     float64
}

// actorEntry is the in-memory cache over a user's durable snapshot. It
// carries its own mutex so concurrent events for the same user serialize
// (the per-user FIFO mailbox of spec §5), while cross-user dispatches
// never block each other.
type actorEntry struct {
	userID  int64
	mu      sync.Mutex
	snap    Snapshot
	lruElem *list.Element
}

// Orchestrator is C8's entry point: one actor per active user, bounded by
// a soft cap with LRU eviction of idle (waiting-for-timer) actors, per
// spec §4.8 "Memory and capacity".
type Orchestrator struct {
	db        *store.DB
	scheduler PushScheduler
	advisor   PushTimeAdvisor
	clock     clock.Clock
	log       *slog.Logger
	metrics   *Metrics

	numQuestions int
	rewardPoints float64
	timezone     string
	quiet        quietWindow
	maxLive      int

	mu      sync.Mutex
	actors  map[int64]*actorEntry
	lru     *list.List // front = most recently touched
}

func NewOrchestrator(db *store.DB, scheduler PushScheduler, advisor PushTimeAdvisor, clk clock.Clock, cfg Config, log *slog.Logger) *Orchestrator {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.NumQuestions == 0 {
		cfg.NumQuestions = 12
	}
	if cfg.MaxLiveActors == 0 {
		cfg.MaxLiveActors = 10000
	}
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = "America/Chicago"
	}

	sh, sm := parseClock(cfg.QuietWindowStart, 22, 30)
	eh, em := parseClock(cfg.QuietWindowEnd, 7, 0)

	return &Orchestrator{
		db:           db,
		scheduler:    scheduler,
		advisor:      advisor,
		clock:        clk,
		log:          log,
		numQuestions: cfg.NumQuestions,
		rewardPoints: cfg.RewardPoints,
		timezone:     cfg.DefaultTimezone,
		quiet:        quietWindow{startHour: sh, startMin: sm, endHour: eh, endMin: em},
		maxLive:      cfg.MaxLiveActors,
		actors:       make(map[int64]*actorEntry),
		lru:          list.New(),
	}
}

// SetMetrics wires the Prometheus gauges for this orchestrator's actor
// population. Optional: an orchestrator with no metrics set just skips
// recording, so tests don't need to register a collector.
func (o *Orchestrator) SetMetrics(m *Metrics) {
	o.metrics = m
}

// Dispatch delivers ev to userID's actor, rehydrating it from the
// durable snapshot if it isn't already live, per spec §4.8 "the
// orchestrator lazily rehydrates actors only when needed (on event
// receipt)". It returns the resulting snapshot.
func (o *Orchestrator) Dispatch(ctx context.Context, userID int64, ev Event) (Snapshot, error) {
	entry, err := o.loadOrCreateEntry(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := o.clock.Now()
	next, effects, err := transition(entry.snap, ev, now, o.numQuestions, func() time.Time {
		return o.nextPushTime(ctx, userID, now)
	})
	if err != nil {
		return entry.snap, err
	}

	if err := o.persist(ctx, next); err != nil {
		return entry.snap, fmt.Errorf("microsurvey: persist snapshot: %w", err)
	}
	entry.snap = next

	for _, effect := range effects {
		o.applyEffect(ctx, entry, effect)
	}

	if next.Phase.terminal() {
		o.forget(userID)
	}
	return next, nil
}

// persist writes the snapshot to the durable store (or deletes it, for
// terminal phases), before any side effect runs.
func (o *Orchestrator) persist(ctx context.Context, snap Snapshot) error {
	if snap.Phase.terminal() {
		return store.DeleteSurveyActorState(ctx, o.db, snap.UserID)
	}
	body, err := snap.marshal()
	if err != nil {
		return err
	}
	return store.UpsertSurveyActorState(ctx, o.db, snap.UserID, snap.SurveyID, body, snap.UpdatedOn)
}

// applyEffect runs one side effect after its snapshot has already been
// durably persisted, per the "persist-before-ack" rule of spec §4.8.
func (o *Orchestrator) applyEffect(ctx context.Context, entry *actorEntry, effect SideEffect) {
	switch e := effect.(type) {
	case SchedulePush:
		if o.scheduler == nil {
			return
		}
		if err := o.scheduler.Schedule(ctx, entry.userID, e.At, e.Content); err != nil {
			o.log.Warn("microsurvey: push scheduling failed", "user_id", entry.userID, "err", err)
		}
	case CreditReward:
		rewarded, _, err := store.RewardSurveyCompletion(ctx, o.db, entry.userID, entry.snap.SurveyID, o.rewardPoints, o.clock.Now())
		if err != nil {
			o.log.Warn("microsurvey: reward credit failed", "user_id", entry.userID, "survey_id", entry.snap.SurveyID, "err", err)
			return
		}
		if !rewarded {
			o.log.Info("no duplicate bonuses", "user_id", entry.userID, "survey_id", entry.snap.SurveyID)
		}
	case DeleteState:
		// already deleted by persist() above for the terminal phase.
	}
}

// loadOrCreateEntry returns the live actor for userID, rehydrating from
// the durable snapshot (or starting fresh, for a START event on an
// unknown user) and enforcing the soft LRU cap.
func (o *Orchestrator) loadOrCreateEntry(ctx context.Context, userID int64) (*actorEntry, error) {
	o.mu.Lock()
	if entry, ok := o.actors[userID]; ok {
		o.lru.MoveToFront(entry.lruElem)
		o.mu.Unlock()
		return entry, nil
	}
	o.mu.Unlock()

	row, err := store.GetSurveyActorState(ctx, o.db, userID)
	if err != nil {
		return nil, fmt.Errorf("microsurvey: load actor state: %w", err)
	}

	var snap Snapshot
	if row != nil {
		snap, err = unmarshalSnapshot(row.StateJSON)
		if err != nil {
			return nil, fmt.Errorf("microsurvey: decode actor snapshot: %w", err)
		}
		o.fireOverdueTimer(ctx, snap)
	} else {
		snap = Snapshot{UserID: userID, Phase: PhaseIdle}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if entry, ok := o.actors[userID]; ok {
		// lost the race against a concurrent rehydration
		o.lru.MoveToFront(entry.lruElem)
		return entry, nil
	}

	entry := &actorEntry{userID: userID, snap: snap}
	entry.lruElem = o.lru.PushFront(entry)
	o.actors[userID] = entry
	o.evictIfOverCapLocked()
	o.reportLiveActorsLocked()
	return entry, nil
}

// fireOverdueTimer implements spec §4.8's timer-fidelity rule: on
// rehydration, a missed timer (scheduled_time <= now) fires immediately
// rather than waiting for the next real-time tick.
func (o *Orchestrator) fireOverdueTimer(ctx context.Context, snap Snapshot) {
	if snap.ScheduledPush.IsZero() || o.scheduler == nil {
		return
	}
	now := o.clock.Now()
	if snap.ScheduledPush.After(now) {
		return // not yet due
	}
	fireAt := now
	content := questionContent(snap.Question)
	if snap.Phase == PhaseWaitConsent {
		content = "consent"
	}
	if err := o.scheduler.Schedule(ctx, snap.UserID, fireAt, content); err != nil {
		o.log.Warn("microsurvey: overdue timer re-fire failed", "user_id", snap.UserID, "err", err)
	}
}

// forget evicts a terminal actor from the live registry; its row is
// already gone from the durable store.
func (o *Orchestrator) forget(userID int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if entry, ok := o.actors[userID]; ok {
		o.lru.Remove(entry.lruElem)
		delete(o.actors, userID)
	}
	o.reportLiveActorsLocked()
}

// evictIfOverCapLocked serializes out the least-recently-used idle actor
// when the live population exceeds the configured cap, per spec §4.8
// "When exceeded, the least-recently-used idle (waiting-for-timer) actor
// is serialized and evicted; it will be rehydrated on its next event."
// Must be called with o.mu held.
func (o *Orchestrator) evictIfOverCapLocked() {
	if len(o.actors) <= o.maxLive {
		return
	}
	for elem := o.lru.Back(); elem != nil; elem = elem.Prev() {
		entry := elem.Value.(*actorEntry)
		if isIdle(entry.snap.Phase) {
			o.lru.Remove(elem)
			delete(o.actors, entry.userID)
			if o.metrics != nil {
				o.metrics.ActorsEvicted.Inc()
			}
			return
		}
	}
}

func isIdle(p Phase) bool {
	return p == PhaseWaitConsent || p == PhaseWaitQuestion
}

// reportLiveActorsLocked publishes the current population to the live
// actor gauge. Must be called with o.mu held.
func (o *Orchestrator) reportLiveActorsLocked() {
	if o.metrics != nil {
		o.metrics.LiveActors.Set(float64(len(o.actors)))
	}
}

// LiveActorCount reports the current live (non-evicted) actor
// population, one of the heap-usage metrics named in spec §4.8.
func (o *Orchestrator) LiveActorCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.actors)
}
