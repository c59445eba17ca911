package model

import "time"

// Role is the closed set of account roles.  Keeping it a named type with
// constants (rather than a free-form string) means a typo in a role check
// fails to compile instead of silently denying or granting access.
type Role string

const (
	RoleUser        Role = "user"
	RoleRadiologist Role = "radiologist"
	RoleAdmin       Role = "admin"
)

// ValidRole reports whether s names a known role.
func ValidRole(s string) bool {
	switch Role(s) {
	case RoleUser, RoleRadiologist, RoleAdmin:
		return true
	}
	return false
}

// User represents an application user record as stored in the `users` table.
// The password is only ever present as a bcrypt hash; plaintext never
// reaches the repository layer.
type User struct {
	ID            uint64     // users.id
	Username      string     // users.username (case-sensitive, unique)
	Email         string     // users.email (lowercased, unique)
	PasswordHash  string     // users.password_hash
	FullName      string     // users.full_name
	Role          Role       // users.role
	EmailVerified bool       // users.email_verified
	IsActive      bool       // users.is_active
	LastLogin     *time.Time // users.last_login (nullable)
	CreatedAt     time.Time  // users.created_at
	UpdatedAt     time.Time  // users.updated_at
}
