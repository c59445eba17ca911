// Package token issues and validates the three JWT kinds the service uses:
// short-lived access tokens, single-use email verification tokens and
// single-use password reset tokens.  All three share one HS256 signing
// secret but carry an explicit kind claim that is checked on every use, so a
// reset token can never be replayed as an access token.  Rotating the secret
// invalidates every outstanding token; that is an accepted operational
// consequence, not something handled here.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rayvin/radiology-assistant/internal/model"
)

// Kind discriminates the three token purposes.
type Kind string

const (
	KindAccess            Kind = "access"
	KindEmailVerification Kind = "email_verification"
	KindPasswordReset     Kind = "password_reset"
)

// Validation failures.  Handlers map these onto 401/400 responses.
var (
	ErrExpired   = errors.New("token expired")
	ErrMalformed = errors.New("token malformed")
	ErrWrongKind = errors.New("token kind mismatch")
)

// Claims is the payload carried by every token.  Subject holds the
// username.  Role is only present on access tokens and is snapshotted at
// issuance: a role change does not retroactively alter issued tokens, an
// accepted staleness window capped by the access TTL.  ID (jti) is only set
// on single-use kinds and feeds the consumed-token table.
type Claims struct {
	Kind Kind   `json:"kind"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Maker signs and validates tokens with a process-wide secret configured at
// startup.
type Maker struct {
	secret          []byte
	accessTTL       time.Duration
	resetTTL        time.Duration
	verificationTTL time.Duration
}

func NewMaker(secret string, accessTTL, resetTTL, verificationTTL time.Duration) *Maker {
	return &Maker{
		secret:          []byte(secret),
		accessTTL:       accessTTL,
		resetTTL:        resetTTL,
		verificationTTL: verificationTTL,
	}
}

// IssueAccess builds a signed access token for the user, embedding username
// and role.  Returns the serialized token and its expiry.
func (m *Maker) IssueAccess(u model.User) (string, time.Time, error) {
	exp := time.Now().UTC().Add(m.accessTTL)
	signed, err := m.sign(Claims{
		Kind: KindAccess,
		Role: string(u.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Username,
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	return signed, exp, err
}

// IssueEmailVerification builds a single-use verification token.
func (m *Maker) IssueEmailVerification(username string) (string, error) {
	return m.issueSingleUse(KindEmailVerification, username, m.verificationTTL)
}

// IssuePasswordReset builds a single-use reset token.
func (m *Maker) IssuePasswordReset(username string) (string, error) {
	return m.issueSingleUse(KindPasswordReset, username, m.resetTTL)
}

func (m *Maker) issueSingleUse(kind Kind, username string, ttl time.Duration) (string, error) {
	jti, err := randomHex(16)
	if err != nil {
		return "", err
	}
	return m.sign(Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(time.Now().UTC().Add(ttl)),
		},
	})
}

// Validate parses a token, verifies the signature and expiry, and checks
// that its kind matches the expected one.  It returns the claims on
// success.  Consumption state for single-use kinds is tracked separately in
// the repository layer.
func (m *Maker) Validate(raw string, want Kind) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrMalformed
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrMalformed
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrMalformed
	}
	if claims.Kind != want {
		return nil, ErrWrongKind
	}
	return claims, nil
}

func (m *Maker) sign(c Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return t.SignedString(m.secret)
}

// randomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data.  Used for jti claims.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
