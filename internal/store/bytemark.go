package store

import (
	"context"
	"database/sql"
)

// BytemarkOAuthToken mirrors spec §3's per-user Bytemark OAuth credential.
type BytemarkOAuthToken struct {
	UserID      int64
	AccessToken string
}

// GetBytemarkOAuthToken returns the user's upstream Bytemark access token,
// or (nil, nil) if the user has never linked a Bytemark account, per
// spec §4.4 step 1 ("fetch user OAuth token; if absent return empty").
func GetBytemarkOAuthToken(ctx context.Context, q Querier, userID int64) (*BytemarkOAuthToken, error) {
	t := &BytemarkOAuthToken{}
	err := q.QueryRowContext(ctx, `
		SELECT user_id, access_token FROM bytemark_oauth_token WHERE user_id = $1`, userID).
		Scan(&t.UserID, &t.AccessToken)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// UsersWithBytemarkOAuthToken lists every user id with a linked Bytemark
// account, used by buildCacheIfEmpty's bootstrap (spec §4.4).
func UsersWithBytemarkOAuthToken(ctx context.Context, q Querier) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT user_id FROM bytemark_oauth_token`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
