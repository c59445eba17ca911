package utils

import "golang.org/x/crypto/bcrypt"

// MinPasswordLength is enforced on signup and password reset.
const MinPasswordLength = 8

// HashPassword returns a bcrypt hash using the given cost.  Hashing happens
// here, before credentials reach the repository layer, so plaintext is never
// stored or logged.
func HashPassword(plain string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword safely compares bcrypt hash and plain password.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
