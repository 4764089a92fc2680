package notify

import (
	"context"
	"sync"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/metropia/maas-core/internal/store"
)

type fakeQueue struct {
	mu        sync.Mutex
	published []CloudMessage
	failUser  int64
}

func (f *fakeQueue) Publish(_ context.Context, msg CloudMessage) error {
	if f.failUser != 0 && len(msg.UserList) == 1 && msg.UserList[0] == f.failUser {
		return errPublish
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeQueue) Close() error { return nil }

var errPublish = &publishError{}

type publishError struct{}

func (*publishError) Error() string { return "publish failed" }

func newTestService(t *testing.T, queue Queue) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewService(&store.DB{DB: db}, queue, 2, nil), mock
}

func TestSend_NormalizesLangAndDispatches(t *testing.T) {
	queue := &fakeQueue{}
	svc, mock := newTestService(t, queue)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO notification`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery(`INSERT INTO notification_msg`).
		WithArgs(int64(1), "Title", "Body", "en_US").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(10)))
	mock.ExpectQuery(`INSERT INTO notification_user`).
		WithArgs(int64(10), int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1000)))
	mock.ExpectCommit()
	mock.ExpectExec(`UPDATE notification_user SET send_status`).
		WithArgs(store.SendStatusDispatched, int64(1000)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ids, err := svc.Send(context.Background(), SendParams{
		Users:            []int64{100},
		NotificationType: 3,
		Title:            "Title",
		Body:             "Body",
		Lang:             "en-US",
	})
	require.NoError(t, err)
	require.Equal(t, []int64{1000}, ids)
	require.Len(t, queue.published, 1)
	require.Equal(t, []int64{100}, queue.published[0].UserList)
}

func TestSend_NoPushSkipsDispatch(t *testing.T) {
	queue := &fakeQueue{}
	svc, mock := newTestService(t, queue)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO notification`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)))
	mock.ExpectQuery(`INSERT INTO notification_msg`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(20)))
	mock.ExpectQuery(`INSERT INTO notification_user`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2000)))
	mock.ExpectCommit()

	ids, err := svc.Send(context.Background(), SendParams{
		Users:  []int64{200},
		Title:  "T",
		Body:   "B",
		NoPush: true,
	})
	require.NoError(t, err)
	require.Equal(t, []int64{2000}, ids)
	require.Empty(t, queue.published)
}

func TestSend_DBFailureReturnsEmptyNoDispatch(t *testing.T) {
	queue := &fakeQueue{}
	svc, mock := newTestService(t, queue)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO notification`).
		WillReturnError(errPublish)
	mock.ExpectRollback()

	ids, err := svc.Send(context.Background(), SendParams{Users: []int64{1}, Title: "T", Body: "B"})
	require.NoError(t, err)
	require.Empty(t, ids)
	require.Empty(t, queue.published)
}
