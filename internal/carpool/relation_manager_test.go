package carpool

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/metropia/maas-core/internal/clock"
	"github.com/metropia/maas-core/internal/store"
)

type fakeResolver struct {
	peersByUser map[int64][]int64
}

func (f *fakeResolver) SameGroupUsers(_ context.Context, userID int64) ([]int64, error) {
	return f.peersByUser[userID], nil
}

func newTestManager(t *testing.T, peers map[int64][]int64) (*RelationManager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewRelationManager(&store.DB{DB: db}, &fakeResolver{peersByUser: peers}, clock.NewMutable(now), nil)
	return m, mock
}

func TestProcessGroupChange_RemovesInvitationToNonPeer(t *testing.T) {
	groupID := int64(1)
	leavingUser := int64(10)
	inviterReservation := int64(100)
	invitedReservation := int64(200)
	invitedUser := int64(20)

	m, mock := newTestManager(t, map[int64][]int64{
		leavingUser: {}, // no longer peers with anyone after leaving the group
	})

	mock.ExpectQuery(`SELECT r\.id FROM reservation`).
		WithArgs(groupID, leavingUser).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(inviterReservation))

	mock.ExpectQuery(`SELECT dr\.id, dr\.reservation_id, dr\.offer_id`).
		WithArgs(inviterReservation, store.ReservationStatusSearching).
		WillReturnRows(sqlmock.NewRows([]string{"id", "reservation_id", "offer_id"}).AddRow(1, inviterReservation, invitedReservation))
	mock.ExpectQuery(`SELECT user_id FROM reservation WHERE id = \$1`).
		WithArgs(inviterReservation).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(leavingUser))
	mock.ExpectQuery(`SELECT user_id FROM reservation WHERE id = \$1`).
		WithArgs(invitedReservation).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(invitedUser))
	mock.ExpectExec(`DELETE FROM duo_reservation WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT count\(\*\) FROM duo_reservation WHERE offer_id = \$1`).
		WithArgs(invitedReservation).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	mock.ExpectQuery(`SELECT id, reservation_id, match_reservation_id`).
		WithArgs(inviterReservation).
		WillReturnRows(sqlmock.NewRows([]string{"id", "reservation_id", "match_reservation_id", "time_to_pickup_s", "time_to_dropoff_s"}))

	mock.ExpectQuery(`SELECT count\(\*\) FROM duo_reservation WHERE reservation_id = \$1`).
		WithArgs(inviterReservation).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM duo_reservation WHERE offer_id = \$1`).
		WithArgs(inviterReservation).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM match_statistic WHERE reservation_id = \$1`).
		WithArgs(inviterReservation).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO reservation_match`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := m.ProcessGroupChange(context.Background(), groupID, &leavingUser)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessGroupChange_KeepsInvitationBetweenPeers(t *testing.T) {
	groupID := int64(1)
	userID := int64(10)
	reservationID := int64(100)
	peerUser := int64(11)

	m, mock := newTestManager(t, map[int64][]int64{
		userID: {peerUser},
	})

	mock.ExpectQuery(`SELECT r\.id FROM reservation`).
		WithArgs(groupID, userID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(reservationID))

	mock.ExpectQuery(`SELECT dr\.id, dr\.reservation_id, dr\.offer_id`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "reservation_id", "offer_id"}).AddRow(1, reservationID, int64(201)))
	mock.ExpectQuery(`SELECT user_id FROM reservation WHERE id = \$1`).
		WithArgs(reservationID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(userID))
	mock.ExpectQuery(`SELECT user_id FROM reservation WHERE id = \$1`).
		WithArgs(int64(201)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(peerUser))
	// No DELETE expected: peerUser remains a peer.

	mock.ExpectQuery(`SELECT id, reservation_id, match_reservation_id`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "reservation_id", "match_reservation_id", "time_to_pickup_s", "time_to_dropoff_s"}))

	mock.ExpectQuery(`SELECT count\(\*\) FROM duo_reservation WHERE reservation_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT count\(\*\) FROM duo_reservation WHERE offer_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM match_statistic WHERE reservation_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO reservation_match`).
		WithArgs(reservationID, 1, 0, 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := m.ProcessGroupChange(context.Background(), groupID, &userID)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
