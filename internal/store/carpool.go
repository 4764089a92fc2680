package store

import (
	"context"
	"database/sql"
	"time"
)

// GroupMember.member_status per spec §3.
const (
	MemberStatusNone       = 0
	MemberStatusPending    = 1
	MemberStatusMember     = 2
	MemberStatusManagement = 3
)

const (
	ReservationRoleDriver = 1
	ReservationRoleRider  = 2
)

const ReservationStatusSearching = "SEARCHING"

// ActiveGroup is a (group_id, enterprise_id) pair the user actively
// belongs to, per spec §4.6 getSameGroupUsers step 1-2.
type ActiveGroup struct {
	GroupID      int64
	EnterpriseID sql.NullInt64
}

func ActiveGroupsForUser(ctx context.Context, q Querier, userID int64) ([]ActiveGroup, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT g.id, g.enterprise_id
		FROM group_member gm
		JOIN duo_group g ON g.id = gm.group_id
		WHERE gm.user_id = $1 AND gm.member_status > $2 AND g.disabled = false`,
		userID, MemberStatusNone+1 /* > 1 i.e. member or management */)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActiveGroup
	for rows.Next() {
		var g ActiveGroup
		if err := rows.Scan(&g.GroupID, &g.EnterpriseID); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// MembersOfGroups returns the distinct set of user ids with member_status >
// 1 across the given groups, per spec §4.6 step 4.
func MembersOfGroups(ctx context.Context, q Querier, groupIDs []int64) ([]int64, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	rows, err := q.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM group_member
		WHERE group_id = ANY($1) AND member_status > 1`, pqInt64Array(groupIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// GroupsForEnterprises returns group ids belonging to any of the given
// (non-null) enterprise ids.
func GroupsForEnterprises(ctx context.Context, q Querier, enterpriseIDs []int64) ([]int64, error) {
	if len(enterpriseIDs) == 0 {
		return nil, nil
	}
	rows, err := q.QueryContext(ctx, `
		SELECT id FROM duo_group WHERE enterprise_id = ANY($1) AND disabled = false`, pqInt64Array(enterpriseIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ReservationOwner returns the user_id of a reservation.
func ReservationOwner(ctx context.Context, q Querier, reservationID int64) (int64, error) {
	var userID int64
	err := q.QueryRowContext(ctx, `SELECT user_id FROM reservation WHERE id = $1`, reservationID).Scan(&userID)
	return userID, err
}

// DuoReservationEdge is an invitation/offer edge.
type DuoReservationEdge struct {
	ID            int64
	ReservationID int64
	OfferID       int64
}

// InFlightEdgesForReservation returns the invitation edges sent by
// reservationID (dr.reservation_id) whose invited reservation (offer_id) is
// SEARCHING. Edges on which reservationID is the invited side are not
// returned.
func InFlightEdgesForReservation(ctx context.Context, q Querier, reservationID int64) ([]DuoReservationEdge, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT dr.id, dr.reservation_id, dr.offer_id
		FROM duo_reservation dr
		JOIN reservation r ON r.id = dr.offer_id
		WHERE dr.reservation_id = $1 AND r.status = $2`, reservationID, ReservationStatusSearching)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DuoReservationEdge
	for rows.Next() {
		var e DuoReservationEdge
		if err := rows.Scan(&e.ID, &e.ReservationID, &e.OfferID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func DeleteDuoReservationEdge(ctx context.Context, q Querier, id int64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM duo_reservation WHERE id = $1`, id)
	return err
}

func CountLiveInvitesSent(ctx context.Context, q Querier, reservationID int64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT count(*) FROM duo_reservation WHERE reservation_id = $1`, reservationID).Scan(&n)
	return n, err
}

func CountLiveInvitesReceived(ctx context.Context, q Querier, reservationID int64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT count(*) FROM duo_reservation WHERE offer_id = $1`, reservationID).Scan(&n)
	return n, err
}

// MatchStatisticRow mirrors spec §3's MatchStatistic.
type MatchStatisticRow struct {
	ID                 int64
	ReservationID      int64
	MatchReservationID int64
	TimeToPickupS      sql.NullInt64
	TimeToDropoffS     sql.NullInt64
}

func MatchesForReservation(ctx context.Context, q Querier, reservationID int64) ([]MatchStatisticRow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, reservation_id, match_reservation_id, time_to_pickup_s, time_to_dropoff_s
		FROM match_statistic WHERE reservation_id = $1`, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MatchStatisticRow
	for rows.Next() {
		var m MatchStatisticRow
		if err := rows.Scan(&m.ID, &m.ReservationID, &m.MatchReservationID, &m.TimeToPickupS, &m.TimeToDropoffS); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func DeleteMatchStatistic(ctx context.Context, q Querier, id int64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM match_statistic WHERE id = $1`, id)
	return err
}

func CountLiveMatches(ctx context.Context, q Querier, reservationID int64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT count(*) FROM match_statistic WHERE reservation_id = $1`, reservationID).Scan(&n)
	return n, err
}

// UpsertReservationMatch writes the recomputed aggregates, per spec §4.6
// "Statistic recompute".
func UpsertReservationMatch(ctx context.Context, q Querier, reservationID int64, inviteSent, inviteReceived, matches int, now time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO reservation_match (reservation_id, invite_sent, invite_received, matches, modified_on)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (reservation_id) DO UPDATE SET
			invite_sent = EXCLUDED.invite_sent,
			invite_received = EXCLUDED.invite_received,
			matches = EXCLUDED.matches,
			modified_on = EXCLUDED.modified_on`,
		reservationID, inviteSent, inviteReceived, matches, now)
	return err
}

// AffectedReservationsForGroup returns the reservation ids of members of a
// group whose relation state needs recomputing after a membership change.
// When userID is set, that user's own reservations are included as well,
// whether or not a group_member row for the group still exists.
func AffectedReservationsForGroup(ctx context.Context, q Querier, groupID int64, userID *int64) ([]int64, error) {
	query := `
		SELECT r.id FROM reservation r
		JOIN group_member gm ON gm.user_id = r.user_id
		WHERE gm.group_id = $1`
	args := []interface{}{groupID}
	if userID != nil {
		query += `
		UNION
		SELECT r.id FROM reservation r WHERE r.user_id = $2`
		args = append(args, *userID)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
