package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/rayvin/radiology-assistant/internal/model"
)

// UserRepo provides data access to the users table.  It only ever receives
// pre-hashed credentials; hashing happens in the handler layer so plaintext
// passwords never cross this boundary.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = "id,username,email,password_hash,full_name,role,email_verified,is_active,last_login,created_at,updated_at"

// Create inserts a user and returns its ID.  Usernames are case-sensitive
// and stored verbatim; emails are normalized to lowercase.  A duplicate
// username or email yields ErrUserExists.
func (r *UserRepo) Create(ctx context.Context, username, email, passwordHash, fullName string, role model.Role) (uint64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (username, email, password_hash, full_name, role) VALUES (?,?,?,?,?)",
		username, email, passwordHash, fullName, string(role))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return 0, ErrUserExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// FindByUsername fetches a user by exact username.
func (r *UserRepo) FindByUsername(ctx context.Context, username string) (model.User, error) {
	return r.scanOne(ctx, "SELECT "+userColumns+" FROM users WHERE username=? LIMIT 1", username)
}

// FindByEmail fetches a user by normalized email.
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return r.scanOne(ctx, "SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email)
}

// SetEmailVerified marks the user's email address as confirmed.
func (r *UserRepo) SetEmailVerified(ctx context.Context, username string) error {
	return r.execOn(ctx, "UPDATE users SET email_verified=1 WHERE username=?", username)
}

// UpdatePasswordHash replaces the stored password hash.
func (r *UserRepo) UpdatePasswordHash(ctx context.Context, username, hash string) error {
	return r.execOn(ctx, "UPDATE users SET password_hash=? WHERE username=?", hash, username)
}

// UpdateLastLogin stamps the user's most recent successful login.
func (r *UserRepo) UpdateLastLogin(ctx context.Context, username string) error {
	return r.execOn(ctx, "UPDATE users SET last_login=UTC_TIMESTAMP() WHERE username=?", username)
}

// EnsureAdmin seeds the default admin account when it does not exist yet.
// The admin's email counts as verified so the account can log in
// immediately.  Racing processes are safe: the duplicate insert collapses
// into a no-op.
func (r *UserRepo) EnsureAdmin(ctx context.Context, email, passwordHash string) error {
	_, err := r.Create(ctx, "admin", email, passwordHash, "System Administrator", model.RoleAdmin)
	if errors.Is(err, ErrUserExists) {
		return nil
	}
	if err != nil {
		return err
	}
	return r.SetEmailVerified(ctx, "admin")
}

func (r *UserRepo) scanOne(ctx context.Context, query string, args ...any) (model.User, error) {
	var (
		u        model.User
		role     string
		lastSeen sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.FullName, &role,
		&u.EmailVerified, &u.IsActive, &lastSeen, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	u.Role = model.Role(role)
	if lastSeen.Valid {
		t := lastSeen.Time
		u.LastLogin = &t
	}
	return u, nil
}

func (r *UserRepo) execOn(ctx context.Context, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// A no-change UPDATE also reports zero rows; confirm existence so
		// idempotent calls (e.g. re-verifying) do not read as missing users.
		var one int
		lookErr := r.DB.QueryRowContext(ctx, "SELECT 1 FROM users WHERE username=? LIMIT 1", args[len(args)-1]).Scan(&one)
		if errors.Is(lookErr, sql.ErrNoRows) {
			return ErrNotFound
		}
		return lookErr
	}
	return nil
}
