package store

import (
	"context"
	"time"
)

// AuthUserToken mirrors spec §3.
type AuthUserToken struct {
	ID          int64
	UserID      int64
	AccessToken string
	Disabled    bool
	CreatedOn   time.Time
	ExpiresOn   time.Time
}

func GetActiveAuthUserToken(ctx context.Context, q Querier, accessToken string) (*AuthUserToken, error) {
	t := &AuthUserToken{}
	err := q.QueryRowContext(ctx, `
		SELECT id, user_id, access_token, disabled, created_on, expires_on
		FROM auth_user_token WHERE access_token = $1`, accessToken).Scan(
		&t.ID, &t.UserID, &t.AccessToken, &t.Disabled, &t.CreatedOn, &t.ExpiresOn)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func DisableAuthUserToken(ctx context.Context, q Querier, id int64) error {
	_, err := q.ExecContext(ctx, `UPDATE auth_user_token SET disabled = true WHERE id = $1`, id)
	return err
}

func InsertAuthUserToken(ctx context.Context, q Querier, userID int64, accessToken string, expiresOn time.Time) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO auth_user_token (user_id, access_token, disabled, created_on, expires_on)
		VALUES ($1, $2, false, now(), $3)
		RETURNING id`, userID, accessToken, expiresOn).Scan(&id)
	return id, err
}

// AuthUserExists reports whether the user row backing a token exists.
func AuthUserExists(ctx context.Context, q Querier, userID int64) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx, `SELECT count(*) FROM auth_user WHERE id = $1`, userID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
