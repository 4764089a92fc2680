package token

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/metropia/maas-core/internal/clock"
	"github.com/metropia/maas-core/internal/store"
)

const testPrimaryKey = "cHJpbWFyeS1rZXktMzItYnl0ZXMtbG9uZy1leGFjdGx5ISE="
const testRotateKey = "cm90YXRpb24ta2V5LTMyLWJ5dGVzLWxvbmctZXhhY3RseSE="

func newTestVerifier(t *testing.T, now time.Time) (*Verifier, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	v, err := NewVerifier(&store.DB{DB: db}, Config{
		JWTKeyBase64:       testPrimaryKey,
		JWTRotateKeyBase64: testRotateKey,
		RefreshWindow:      7 * 24 * time.Hour,
		MaxLifetime:        30 * 24 * time.Hour,
		BypassPaths:        []string{"/auth", "/public", "/webhooks", "/guest"},
	}, clock.NewMutable(now))
	require.NoError(t, err)
	return v, mock
}

func signToken(t *testing.T, keyB64 string, userID int64, issuedAt, expiresAt time.Time) string {
	t.Helper()
	key, err := base64.StdEncoding.DecodeString(keyB64)
	require.NoError(t, err)
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestSkip_BypassAndLegacyPaths(t *testing.T) {
	v, _ := newTestVerifier(t, time.Now())
	require.True(t, v.Skip("/auth/login"))
	require.True(t, v.Skip("/public/health"))
	require.False(t, v.Skip("/trips"))
}

func TestAuthenticate_RequiresToken(t *testing.T) {
	v, _ := newTestVerifier(t, time.Now())
	_, err := v.Authenticate(context.Background(), "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "TOKEN_REQUIRED")
}

func TestAuthenticate_RotationKeyFallback(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	v, mock := newTestVerifier(t, now)

	tok := signToken(t, testRotateKey, 42, now.Add(-time.Hour), now.Add(20*24*time.Hour))

	mock.ExpectQuery(`SELECT count\(\*\) FROM auth_user`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT count\(\*\) FROM block_user`).
		WithArgs(int64(42), blockTypeAuth).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT id, user_id, access_token, disabled, created_on, expires_on`).
		WithArgs(tok).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "access_token", "disabled", "created_on", "expires_on"}).
			AddRow(int64(1), int64(42), tok, false, now.Add(-time.Hour), now.Add(20*24*time.Hour)))

	result, err := v.Authenticate(context.Background(), tok)
	require.NoError(t, err)
	require.Equal(t, int64(42), result.UserID)
	require.Empty(t, result.NewToken)
}

func TestAuthenticate_ReissuesWithinRefreshWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	v, mock := newTestVerifier(t, now)

	tok := signToken(t, testPrimaryKey, 7, now.Add(-23*24*time.Hour), now.Add(3*24*time.Hour))

	mock.ExpectQuery(`SELECT count\(\*\) FROM auth_user`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT count\(\*\) FROM block_user`).
		WithArgs(int64(7), blockTypeAuth).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT id, user_id, access_token, disabled, created_on, expires_on`).
		WithArgs(tok).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "access_token", "disabled", "created_on", "expires_on"}).
			AddRow(int64(9), int64(7), tok, false, now.Add(-23*24*time.Hour), now.Add(3*24*time.Hour)))
	mock.ExpectQuery(`INSERT INTO auth_user_token`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(10)))
	mock.ExpectExec(`UPDATE auth_user_token SET disabled`).
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := v.Authenticate(context.Background(), tok)
	require.NoError(t, err)
	require.NotEmpty(t, result.NewToken)
}

func TestAuthenticate_DisabledTokenFails(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	v, mock := newTestVerifier(t, now)

	tok := signToken(t, testPrimaryKey, 99, now.Add(-time.Hour), now.Add(20*24*time.Hour))

	mock.ExpectQuery(`SELECT count\(\*\) FROM auth_user`).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT count\(\*\) FROM block_user`).
		WithArgs(int64(99), blockTypeAuth).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT id, user_id, access_token, disabled, created_on, expires_on`).
		WithArgs(tok).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "access_token", "disabled", "created_on", "expires_on"}).
			AddRow(int64(2), int64(99), tok, true, now.Add(-time.Hour), now.Add(20*24*time.Hour)))

	_, err := v.Authenticate(context.Background(), tok)
	require.Error(t, err)
	require.Contains(t, err.Error(), "TOKEN_FAILED")
}
