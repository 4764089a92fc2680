package parkmobile

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/metropia/maas-core/internal/clock"
	"github.com/metropia/maas-core/internal/docstore"
	"github.com/metropia/maas-core/internal/notify"
	"github.com/metropia/maas-core/internal/store"
)

const (
	notificationTypeParkingReminder = 97
	alertLookahead                  = 5 * time.Minute
	expiryGrace                     = 24 * time.Hour
)

// Service is C5's entry point.
type Service struct {
	db       *store.DB
	docs     *docstore.Client
	notifier *notify.Service
	clock    clock.Clock
	log      *slog.Logger

	priceObjectRetention time.Duration
	historyRetention     time.Duration
}

func NewService(db *store.DB, docs *docstore.Client, notifier *notify.Service, clk clock.Clock, priceObjectRetention, historyRetention time.Duration, log *slog.Logger) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = slog.Default()
	}
	if priceObjectRetention == 0 {
		priceObjectRetention = docstore.PmPriceObjectsRetention
	}
	if historyRetention == 0 {
		historyRetention = docstore.PmParkingEventsRetention
	}
	return &Service{db: db, docs: docs, notifier: notifier, clock: clk, log: log,
		priceObjectRetention: priceObjectRetention, historyRetention: historyRetention}
}

// CheckOnGoingEvents implements spec §4.5 checkOnGoingEvents: notify then
// flip matched rows to ALERTED in a single UPDATE, restricted to rows
// whose notification was recorded (Send returned ids). A queue publish
// failure inside Send does not keep a row ON_GOING.
func (s *Service) CheckOnGoingEvents(ctx context.Context) (int, error) {
	now := s.clock.Now()
	events, err := store.SelectAlertCandidates(ctx, s.db, now, alertLookahead)
	if err != nil {
		return 0, fmt.Errorf("parkmobile: select alert candidates: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	var alerted []int64
	for _, ev := range events {
		minutes := ev.AlertBefore.Int64
		body := fmt.Sprintf("Your meter will expire in %d minutes.", minutes)
		meta := map[string]interface{}{"id": ev.ID, "title": "Parking Reminder", "body": body}

		ids, err := s.notifier.Send(ctx, notify.SendParams{
			Users:            []int64{ev.UserID},
			NotificationType: notificationTypeParkingReminder,
			Title:            "Parking Reminder",
			Body:             body,
			Meta:             meta,
		})
		if err != nil || len(ids) == 0 {
			s.log.Warn("parkmobile: alert enqueue failed, leaving event ON_GOING", "event_id", ev.ID, "err", err)
			continue
		}
		alerted = append(alerted, ev.ID)
	}

	if len(alerted) == 0 {
		return 0, nil
	}
	n, err := store.MarkEventsAlerted(ctx, s.db, alerted)
	return int(n), err
}

// CheckFinishedAndExpiredEvents implements spec §4.5's two UPDATEs, in the
// documented order: EXPIRED (broader set, earlier cutoff) before FINISHED
// (tighter set).
func (s *Service) CheckFinishedAndExpiredEvents(ctx context.Context) (expired, finished int64, err error) {
	now := s.clock.Now()
	expired, err = store.ExpireOldEvents(ctx, s.db, now, expiryGrace)
	if err != nil {
		return 0, 0, fmt.Errorf("parkmobile: expire old events: %w", err)
	}
	finished, err = store.FinishDueEvents(ctx, s.db, now)
	if err != nil {
		return expired, 0, fmt.Errorf("parkmobile: finish due events: %w", err)
	}
	return expired, finished, nil
}

// UpdateToken rotates the upstream OAuth token, per spec §4.5 updateToken.
func (s *Service) UpdateToken(ctx context.Context, rotator *TokenRotator) error {
	token, expiresAt, err := rotator.Mint(ctx)
	if err != nil {
		return fmt.Errorf("parkmobile: mint token: %w", err)
	}

	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.InsertPmApiToken(ctx, tx, token, expiresAt); err != nil {
			return err
		}
		_, err := store.DeleteExpiredPmApiTokens(ctx, tx, s.clock.Now().Add(time.Minute))
		return err
	})
	if err != nil {
		return fmt.Errorf("parkmobile: persist token: %w", err)
	}
	return nil
}

// PurgeOutdatedCache deletes documents older than their retention window,
// per spec §4.5 purgeOutdatedCache.
func (s *Service) PurgeOutdatedCache(ctx context.Context) error {
	now := s.clock.Now()
	if err := s.docs.PurgePriceObjectsOlderThan(now.Add(-s.priceObjectRetention)); err != nil {
		return fmt.Errorf("parkmobile: purge price objects: %w", err)
	}
	if err := s.docs.PurgeParkingHistoryOlderThan(now.Add(-s.historyRetention)); err != nil {
		return fmt.Errorf("parkmobile: purge parking history: %w", err)
	}
	return nil
}
