package parkmobile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/metropia/maas-core/internal/clock"
	"github.com/metropia/maas-core/internal/notify"
	"github.com/metropia/maas-core/internal/store"
)

func newFakeTokenServer(t *testing.T, token string, expiresIn int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(mintedToken{AccessToken: token, ExpiresIn: expiresIn})
	}))
}

type fakeNotifyQueue struct {
	published []notify.CloudMessage
}

func (f *fakeNotifyQueue) Publish(_ context.Context, msg notify.CloudMessage) error {
	f.published = append(f.published, msg)
	return nil
}
func (f *fakeNotifyQueue) Close() error { return nil }

func newTestMonitor(t *testing.T, now time.Time) (*Service, sqlmock.Sqlmock, *fakeNotifyQueue) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	queue := &fakeNotifyQueue{}
	notifier := notify.NewService(&store.DB{DB: db}, queue, 2, nil)
	svc := NewService(&store.DB{DB: db}, nil, notifier, clock.NewMutable(now), 0, 0, nil)
	return svc, mock, queue
}

func TestCheckOnGoingEvents_AlertsAndMarks(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc, mock, queue := newTestMonitor(t, now)

	alertAt := now.Add(2 * time.Minute)
	mock.ExpectQuery(`SELECT id, user_id, area, zone`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "area", "zone", "zone_lat", "zone_lng",
			"parking_start_time_utc", "parking_stop_time_utc", "lpn", "lpn_state", "lpn_country",
			"alert_before", "alert_at", "status",
		}).AddRow(1, 55, "A", "Z1", 1.0, 2.0, now.Add(-time.Hour), now.Add(time.Hour),
			"LPN1", "CA", "US", 15, alertAt, store.PmStatusOnGoing))

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO notification`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery(`INSERT INTO notification_msg`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery(`INSERT INTO notification_user`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectCommit()
	mock.ExpectExec(`UPDATE notification_user SET send_status`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(`UPDATE pm_parking_event SET status`).
		WithArgs(store.PmStatusAlerted, sqlmock.AnyArg(), store.PmStatusOnGoing).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := svc.CheckOnGoingEvents(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, queue.published, 1)
}

func TestCheckFinishedAndExpiredEvents_ExpireRunsBeforeFinish(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc, mock, _ := newTestMonitor(t, now)

	mock.ExpectExec(`UPDATE pm_parking_event SET status = \$1\s+WHERE status IN \(\$2, \$3, \$4\)`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`UPDATE pm_parking_event SET status = \$1\s+WHERE status IN \(\$2, \$3\)`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	expired, finished, err := svc.CheckFinishedAndExpiredEvents(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, expired)
	require.EqualValues(t, 3, finished)
}

func TestUpdateToken_InsertsThenDeletesExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, mock, _ := newTestMonitor(t, now)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO pm_api_token`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`DELETE FROM pm_api_token`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	server := newFakeTokenServer(t, "tok-abc", 3600)
	defer server.Close()
	liveRotator := NewTokenRotator(server.URL, "id", "secret", time.Second)

	err := svc.UpdateToken(context.Background(), liveRotator)
	require.NoError(t, err)
}

func TestUpdateToken_AllowsNilTxOnMintFailure(t *testing.T) {
	svc, _, _ := newTestMonitor(t, time.Now())
	rotator := NewTokenRotator("http://127.0.0.1:0/unreachable", "id", "secret", 50*time.Millisecond)
	err := svc.UpdateToken(context.Background(), rotator)
	require.Error(t, err)
}
