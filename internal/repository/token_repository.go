package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// TokenRepo tracks consumed single-use tokens (password reset and email
// verification) by their jti claim.  Access tokens stay stateless; this
// table is the one piece of server-side token state the system keeps.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// Consume marks a token as used.  The jti primary key makes the insert an
// atomic claim: the first caller wins, every replay hits the duplicate key
// and gets ErrTokenConsumed.  expiresAt is stored so PurgeExpired can trim
// rows that no longer matter (an expired token fails signature checks
// before consumption is ever considered).
func (r *TokenRepo) Consume(ctx context.Context, jti, kind string, expiresAt time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO consumed_tokens (jti, kind, expires_at) VALUES (?,?,?)",
		jti, kind, expiresAt.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return ErrTokenConsumed
		}
		return err
	}
	return nil
}

// PurgeExpired deletes consumption records for tokens that have passed their
// own expiry.  Run periodically; losing a row after expiry is harmless since
// validation rejects the token as Expired first.
func (r *TokenRepo) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM consumed_tokens WHERE expires_at <= UTC_TIMESTAMP()")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
