package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rayvin/radiology-assistant/internal/config"
	"github.com/rayvin/radiology-assistant/internal/model"
	"github.com/rayvin/radiology-assistant/internal/repository"
	"github.com/rayvin/radiology-assistant/internal/token"
)

func TestEndpointClass(t *testing.T) {
	cases := []struct {
		method, path, want string
	}{
		{http.MethodPost, "/api/auth/token", config.ClassLogin},
		{http.MethodPost, "/api/auth/forgot-password", config.ClassForgot},
		{http.MethodPost, "/api/auth/resend-verification", config.ClassForgot},
		{http.MethodPost, "/api/analyze", config.ClassAnalyze},
		{http.MethodPost, "/api/analyze/abc-123", config.ClassAnalyze},
		{http.MethodPost, "/api/auth/signup", config.ClassDefault},
		{http.MethodGet, "/api/studies", config.ClassDefault},
		{http.MethodGet, "/api/auth/token", config.ClassDefault}, // GET never counts as login
		{http.MethodGet, "/health", config.ClassDefault},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, EndpointClass(tc.method, tc.path), "%s %s", tc.method, tc.path)
	}
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()

	// Authenticated requests key on the username.
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set(CtxUsername, "mallory")
	assert.Equal(t, "rl:analyze:mallory", buildRateKey("rl", "analyze", c))

	// Anonymous requests fall back to the client IP.
	req = httptest.NewRequest(http.MethodPost, "/api/auth/token", nil)
	req.RemoteAddr = "203.0.113.7:55111"
	c = e.NewContext(req, httptest.NewRecorder())
	assert.Equal(t, "rl:login:203.0.113.7", buildRateKey("rl", "login", c))
}

func TestEvalScriptResult(t *testing.T) {
	// Admitted: slot taken, remaining reported.
	d, ok := evalScriptResult([]interface{}{int64(1), int64(7), int64(0)})
	require.True(t, ok)
	assert.True(t, d.allowed)
	assert.Equal(t, int64(7), d.remaining)

	// Denied: retry_after rounds up to whole seconds.
	d, ok = evalScriptResult([]interface{}{int64(0), int64(0), int64(4200)})
	require.True(t, ok)
	assert.False(t, d.allowed)
	assert.Equal(t, 5, d.retryAfter)

	// Denied with no oldest entry still tells the client to back off.
	d, ok = evalScriptResult([]interface{}{int64(0), int64(0), int64(0)})
	require.True(t, ok)
	assert.False(t, d.allowed)
	assert.Equal(t, 1, d.retryAfter)

	// Remaining never goes negative even if the script overshoots.
	d, ok = evalScriptResult([]interface{}{int64(1), int64(-1), int64(0)})
	require.True(t, ok)
	assert.Equal(t, int64(0), d.remaining)

	// Malformed replies admit the request rather than failing it.
	for _, bad := range []interface{}{nil, "x", []interface{}{int64(1)}, 42} {
		_, ok := evalScriptResult(bad)
		assert.False(t, ok, "%#v", bad)
	}
}

func invoke(mw echo.MiddlewareFunc, setup func(c echo.Context)) (*httptest.ResponseRecorder, bool) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if setup != nil {
		setup(c)
	}

	reached := false
	_ = mw(func(echo.Context) error {
		reached = true
		return nil
	})(c)
	return rec, reached
}

func TestRequireRoleMatrix(t *testing.T) {
	clinical := RequireRole(model.RoleRadiologist, model.RoleAdmin)

	for role, allowed := range map[string]bool{
		"radiologist": true,
		"admin":       true,
		"user":        false,
		"":            false,
		"superuser":   false,
	} {
		_, reached := invoke(clinical, func(c echo.Context) { c.Set(CtxRole, role) })
		assert.Equal(t, allowed, reached, "role %q", role)
	}
}

func TestRequireRoleDeniedStatus(t *testing.T) {
	rec, reached := invoke(RequireRole(model.RoleAdmin), func(c echo.Context) {
		c.Set(CtxRole, "user")
	})
	assert.False(t, reached)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"detail":"forbidden"}`, rec.Body.String())
}

func TestJWTAuthAcceptsAccessToken(t *testing.T) {
	maker := token.NewMaker("secret", time.Hour, time.Hour, time.Hour)
	raw, _, err := maker.IssueAccess(model.User{Username: "mallory", Role: model.RoleUser})
	require.NoError(t, err)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	reached := false
	_ = JWTAuth(maker)(func(c echo.Context) error {
		reached = true
		return nil
	})(c)

	assert.True(t, reached)
	assert.Equal(t, "mallory", Username(c))
	assert.Equal(t, "user", RoleOf(c))
}

func TestJWTAuthRejectsOtherKinds(t *testing.T) {
	maker := token.NewMaker("secret", time.Hour, time.Hour, time.Hour)
	reset, err := maker.IssuePasswordReset("mallory")
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing header": "",
		"not bearer":     "Basic abc",
		"garbage":        "Bearer not-a-token",
		"wrong kind":     "Bearer " + reset,
	} {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		reached := false
		_ = JWTAuth(maker)(func(echo.Context) error {
			reached = true
			return nil
		})(c)

		assert.False(t, reached, name)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, name)
	}
}

type stubLookup struct {
	u   model.User
	err error
}

func (s stubLookup) FindByUsername(context.Context, string) (model.User, error) {
	return s.u, s.err
}

func TestRequireVerified(t *testing.T) {
	cases := []struct {
		name     string
		lookup   stubLookup
		wantCode int
		wantPass bool
	}{
		{"verified active", stubLookup{u: model.User{EmailVerified: true, IsActive: true}}, http.StatusOK, true},
		{"unverified", stubLookup{u: model.User{EmailVerified: false, IsActive: true}}, http.StatusForbidden, false},
		{"disabled", stubLookup{u: model.User{EmailVerified: true, IsActive: false}}, http.StatusForbidden, false},
		{"unknown account", stubLookup{err: repository.ErrNotFound}, http.StatusUnauthorized, false},
		{"lookup error", stubLookup{err: errors.New("db down")}, http.StatusInternalServerError, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, reached := invoke(RequireVerified(tc.lookup), func(c echo.Context) {
				c.Set(CtxUsername, "mallory")
			})
			assert.Equal(t, tc.wantPass, reached)
			if !tc.wantPass {
				assert.Equal(t, tc.wantCode, rec.Code)
			}
		})
	}
}
