// Package notify implements the notification pipeline (C2): a single DB
// transaction writing Notification/NotificationMsg/NotificationUser rows,
// followed by bounded-concurrency queue dispatch, grounded on the
// teacher's webhook dispatcher worker pool (internal/webhooks/dispatcher.go)
// generalized from HTTP delivery to cloud_message Pub/Sub publish.
package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/metropia/maas-core/internal/store"
)

const notificationTTL = 7 * 24 * time.Hour

// SendParams is the Send contract's input, per spec §4.2.
type SendParams struct {
	Users            []int64
	NotificationType int
	Title            string
	Body             string
	Meta             map[string]interface{}
	Lang             string
	Silent           bool
	NoPush           bool
	Image            string
}

// Service is C2's entry point.
type Service struct {
	db      *store.DB
	queue   Queue
	workers int
	log     *slog.Logger
}

func NewService(db *store.DB, queue Queue, workers int, log *slog.Logger) *Service {
	if workers <= 0 {
		workers = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, queue: queue, workers: workers, log: log}
}

// normalizeLang replaces '-' with '_', idempotently, per spec §4.2 step 3.
func normalizeLang(lang string) string {
	return strings.ReplaceAll(lang, "-", "_")
}

// Send implements the full §4.2 protocol: one DB transaction for the
// Notification/NotificationMsg/NotificationUser rows, then (unless
// no_push) a bounded-concurrency fan-out to the cloud_message queue.
func (s *Service) Send(ctx context.Context, p SendParams) ([]int64, error) {
	metaJSON, err := json.Marshal(p.Meta)
	if err != nil {
		return nil, fmt.Errorf("notify: marshal meta: %w", err)
	}

	var notificationID int64
	var endedOn time.Time
	var notificationUserIDs []int64
	var notificationUserByUser map[int64]int64

	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		notificationID, endedOn, err = store.InsertNotification(ctx, tx, metaJSON, notificationTTL, p.Silent, p.NotificationType)
		if err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}

		msgID, err := store.InsertNotificationMsg(ctx, tx, notificationID, p.Title, p.Body, normalizeLang(p.Lang))
		if err != nil {
			return fmt.Errorf("insert notification_msg: %w", err)
		}

		notificationUserByUser = make(map[int64]int64, len(p.Users))
		for _, userID := range p.Users {
			nuID, err := store.InsertNotificationUser(ctx, tx, msgID, userID)
			if err != nil {
				return fmt.Errorf("insert notification_user: %w", err)
			}
			notificationUserIDs = append(notificationUserIDs, nuID)
			notificationUserByUser[userID] = nuID
		}
		return nil
	})
	if err != nil {
		// Per spec §4.2 failure semantics: DB transaction failure returns
		// an empty list, no queue dispatch.
		s.log.Warn("notify: send transaction failed", "err", err)
		return nil, nil
	}

	if p.NoPush {
		return notificationUserIDs, nil
	}

	s.dispatch(ctx, p, notificationID, endedOn, notificationUserByUser)
	return notificationUserIDs, nil
}

// dispatch fans the per-recipient cloud_message publish out across a
// bounded worker pool, marking send_status=2 on success and leaving it
// at 0 (with a logged warning) on failure — never rolling back the DB
// rows already committed, per spec §4.2.
func (s *Service) dispatch(ctx context.Context, p SendParams, notificationID int64, endedOn time.Time, notificationUserByUser map[int64]int64) {
	type job struct {
		userID int64
		nuID   int64
	}
	jobs := make(chan job, len(notificationUserByUser))
	for userID, nuID := range notificationUserByUser {
		jobs <- job{userID: userID, nuID: nuID}
	}
	close(jobs)

	metaJSON, _ := json.Marshal(p.Meta)

	var wg sync.WaitGroup
	workers := s.workers
	if workers > len(notificationUserByUser) {
		workers = len(notificationUserByUser)
	}
	if workers == 0 {
		return
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				msg := CloudMessage{
					Silent:           p.Silent,
					UserList:         []int64{j.userID},
					NotificationType: p.NotificationType,
					EndedOn:          endedOn,
					Title:            p.Title,
					Body:             p.Body,
					NotificationID:   notificationID,
					Meta:             metaJSON,
					Image:            p.Image,
				}
				if err := s.queue.Publish(ctx, msg); err != nil {
					s.log.Warn("notify: cloud_message publish failed, send_status left at 0", "user_id", j.userID, "err", err)
					continue
				}
				if err := store.MarkNotificationUserDispatched(ctx, s.db, j.nuID); err != nil {
					s.log.Warn("notify: failed to mark dispatched", "notification_user_id", j.nuID, "err", err)
				}
			}
		}()
	}
	wg.Wait()
}
