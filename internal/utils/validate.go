package utils

import "regexp"

var (
	usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,50}$`)
	emailRe    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// ValidUsername reports whether s is 3-50 characters of letters, digits,
// underscores and hyphens.
func ValidUsername(s string) bool { return usernameRe.MatchString(s) }

// ValidEmail performs a basic shape check on an email address.
func ValidEmail(s string) bool { return emailRe.MatchString(s) }
