package store

import (
	"context"
	"database/sql"
	"time"
)

const (
	SendStatusQueued     = 0
	SendStatusDispatched = 2
)

// Notification mirrors spec §3.
type Notification struct {
	ID               int64
	MsgData          []byte // JSON
	StartedOn        time.Time
	EndedOn          time.Time
	Silent           bool
	NotificationType int
}

func InsertNotification(ctx context.Context, tx *sql.Tx, msgData []byte, ttl time.Duration, silent bool, notificationType int) (int64, time.Time, error) {
	started := time.Now().UTC()
	ended := started.Add(ttl)
	var id int64
	silentFlag := "F"
	if silent {
		silentFlag = "T"
	}
	err := tx.QueryRowContext(ctx, `
		INSERT INTO notification (msg_data, started_on, ended_on, silent, notification_type)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`, msgData, started, ended, silentFlag, notificationType).Scan(&id)
	return id, ended, err
}

// NotificationMsg mirrors spec §3.
func InsertNotificationMsg(ctx context.Context, tx *sql.Tx, notificationID int64, title, body, lang string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO notification_msg (notification_id, msg_title, msg_body, lang)
		VALUES ($1, $2, $3, $4)
		RETURNING id`, notificationID, title, body, lang).Scan(&id)
	return id, err
}

// NotificationUser mirrors spec §3.
func InsertNotificationUser(ctx context.Context, tx *sql.Tx, notificationMsgID, userID int64) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO notification_user (notification_msg_id, user_id, send_status)
		VALUES ($1, $2, $3)
		RETURNING id`, notificationMsgID, userID, SendStatusQueued).Scan(&id)
	return id, err
}

func MarkNotificationUserDispatched(ctx context.Context, q Querier, notificationUserID int64) error {
	_, err := q.ExecContext(ctx, `
		UPDATE notification_user SET send_status = $1 WHERE id = $2`, SendStatusDispatched, notificationUserID)
	return err
}
