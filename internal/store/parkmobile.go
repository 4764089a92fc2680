package store

import (
	"context"
	"database/sql"
	"time"
)

// ParkMobile event status per spec §3/§4.5.
const (
	PmStatusOnGoing  = "ON_GOING"
	PmStatusAlerted  = "ALERTED"
	PmStatusFinished = "FINISHED"
	PmStatusExpired  = "EXPIRED"
)

// PmApiToken mirrors spec §3.
type PmApiToken struct {
	Token   string
	Expires time.Time
}

func InsertPmApiToken(ctx context.Context, q Querier, token string, expires time.Time) error {
	_, err := q.ExecContext(ctx, `INSERT INTO pm_api_token (token, expires) VALUES ($1, $2)`, token, expires)
	return err
}

// DeleteExpiredPmApiTokens removes rows that expire within margin of now,
// per spec §4.5 ("DELETE rows with expires <= now+1 min").
func DeleteExpiredPmApiTokens(ctx context.Context, q Querier, cutoff time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM pm_api_token WHERE expires <= $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func LatestPmApiToken(ctx context.Context, q Querier) (*PmApiToken, error) {
	t := &PmApiToken{}
	err := q.QueryRowContext(ctx, `
		SELECT token, expires FROM pm_api_token ORDER BY expires DESC LIMIT 1`).Scan(&t.Token, &t.Expires)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// PmParkingEvent mirrors spec §3.
type PmParkingEvent struct {
	ID                  int64
	UserID              int64
	Area                string
	Zone                string
	ZoneLat             float64
	ZoneLng             float64
	ParkingStartTimeUTC time.Time
	ParkingStopTimeUTC  time.Time
	LPN                 string
	LPNState             string
	LPNCountry           string
	AlertBefore          sql.NullInt64 // minutes
	AlertAt              sql.NullTime
	Status               string
}

// SelectAlertCandidates returns ON_GOING events whose alert window has
// arrived, per spec §4.5 checkOnGoingEvents.
func SelectAlertCandidates(ctx context.Context, q Querier, now time.Time, lookahead time.Duration) ([]PmParkingEvent, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, area, zone, zone_lat, zone_lng,
		       parking_start_time_utc, parking_stop_time_utc, lpn, lpn_state, lpn_country,
		       alert_before, alert_at, status
		FROM pm_parking_event
		WHERE status = $1 AND alert_before IS NOT NULL
		  AND alert_at >= $2 AND alert_at <= $3`,
		PmStatusOnGoing, now, now.Add(lookahead))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPmEvents(rows)
}

func scanPmEvents(rows *sql.Rows) ([]PmParkingEvent, error) {
	var out []PmParkingEvent
	for rows.Next() {
		var e PmParkingEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.Area, &e.Zone, &e.ZoneLat, &e.ZoneLng,
			&e.ParkingStartTimeUTC, &e.ParkingStopTimeUTC, &e.LPN, &e.LPNState, &e.LPNCountry,
			&e.AlertBefore, &e.AlertAt, &e.Status); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkEventsAlerted flips the given ids from ON_GOING to ALERTED in one
// UPDATE, per spec §4.5.
func MarkEventsAlerted(ctx context.Context, q Querier, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := q.ExecContext(ctx, `
		UPDATE pm_parking_event SET status = $1 WHERE id = ANY($2) AND status = $3`,
		PmStatusAlerted, pqInt64Array(ids), PmStatusOnGoing)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ExpireOldEvents runs the EXPIRED transition: broader source set, earlier
// cutoff, must run before FinishDueEvents per spec §4.5 ordering note.
func ExpireOldEvents(ctx context.Context, q Querier, now time.Time, grace time.Duration) (int64, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE pm_parking_event SET status = $1
		WHERE status IN ($2, $3, $4) AND parking_stop_time_utc <= $5`,
		PmStatusExpired, PmStatusOnGoing, PmStatusAlerted, PmStatusFinished, now.Add(-grace))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FinishDueEvents runs the FINISHED transition: tighter source set, per
// spec §4.5.
func FinishDueEvents(ctx context.Context, q Querier, now time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE pm_parking_event SET status = $1
		WHERE status IN ($2, $3) AND parking_stop_time_utc <= $4`,
		PmStatusFinished, PmStatusOnGoing, PmStatusAlerted, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func InsertPmParkingEvent(ctx context.Context, q Querier, e PmParkingEvent) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO pm_parking_event (user_id, area, zone, zone_lat, zone_lng,
			parking_start_time_utc, parking_stop_time_utc, lpn, lpn_state, lpn_country,
			alert_before, alert_at, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id`, e.UserID, e.Area, e.Zone, e.ZoneLat, e.ZoneLng,
		e.ParkingStartTimeUTC, e.ParkingStopTimeUTC, e.LPN, e.LPNState, e.LPNCountry,
		e.AlertBefore, e.AlertAt, e.Status).Scan(&id)
	return id, err
}
