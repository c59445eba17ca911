package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rayvin/radiology-assistant/internal/model"
)

func newTestMaker() *Maker {
	return NewMaker("test-secret", time.Hour, 30*time.Minute, 24*time.Hour)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	m := newTestMaker()
	u := model.User{Username: "mallory", Role: model.RoleRadiologist}

	raw, expiresAt, err := m.IssueAccess(u)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := m.Validate(raw, KindAccess)
	require.NoError(t, err)
	assert.Equal(t, "mallory", claims.Subject)
	assert.Equal(t, string(model.RoleRadiologist), claims.Role)
	assert.Equal(t, KindAccess, claims.Kind)
}

func TestKindMismatchRejected(t *testing.T) {
	m := newTestMaker()

	reset, err := m.IssuePasswordReset("mallory")
	require.NoError(t, err)
	verify, err := m.IssueEmailVerification("mallory")
	require.NoError(t, err)

	// A reset token is not an access token and vice versa.
	_, err = m.Validate(reset, KindAccess)
	assert.ErrorIs(t, err, ErrWrongKind)
	_, err = m.Validate(verify, KindPasswordReset)
	assert.ErrorIs(t, err, ErrWrongKind)

	_, err = m.Validate(reset, KindPasswordReset)
	assert.NoError(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	m := NewMaker("test-secret", -time.Minute, -time.Minute, -time.Minute)

	raw, _, err := m.IssueAccess(model.User{Username: "mallory", Role: model.RoleUser})
	require.NoError(t, err)

	_, err = m.Validate(raw, KindAccess)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestMalformedTokenRejected(t *testing.T) {
	m := newTestMaker()

	for _, raw := range []string{"", "garbage", "a.b.c"} {
		_, err := m.Validate(raw, KindAccess)
		assert.ErrorIs(t, err, ErrMalformed, "input %q", raw)
	}
}

func TestWrongSecretRejected(t *testing.T) {
	m := newTestMaker()
	other := NewMaker("other-secret", time.Hour, time.Hour, time.Hour)

	raw, _, err := m.IssueAccess(model.User{Username: "mallory", Role: model.RoleUser})
	require.NoError(t, err)

	_, err = other.Validate(raw, KindAccess)
	assert.Error(t, err)
}

func TestSingleUseTokensCarryUniqueIDs(t *testing.T) {
	m := newTestMaker()

	a, err := m.IssuePasswordReset("mallory")
	require.NoError(t, err)
	b, err := m.IssuePasswordReset("mallory")
	require.NoError(t, err)

	ca, err := m.Validate(a, KindPasswordReset)
	require.NoError(t, err)
	cb, err := m.Validate(b, KindPasswordReset)
	require.NoError(t, err)

	assert.NotEmpty(t, ca.ID)
	assert.NotEqual(t, ca.ID, cb.ID)
}
