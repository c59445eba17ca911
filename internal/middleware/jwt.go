package middleware // contains reusable HTTP middleware functions

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/rayvin/radiology-assistant/internal/token"
)

// Context keys populated by JWTAuth for downstream middleware and handlers.
const (
	CtxUsername = "username"
	CtxRole     = "role"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token
// and injects the subject and role claims into the request context.  Only
// tokens of kind access pass; a verification or reset token presented here
// fails just like a malformed one.  Protected routes should be wrapped with
// this middleware so handlers can read identity via c.Get(CtxUsername) and
// c.Get(CtxRole).
func JWTAuth(maker *token.Maker) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"detail": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			claims, err := maker.Validate(raw, token.KindAccess)
			if err != nil {
				// Expired, malformed and wrong-kind all read as unauthenticated
				// to the client; the distinction matters only for logging.
				return c.JSON(http.StatusUnauthorized, echo.Map{"detail": "invalid or expired token"})
			}

			c.Set(CtxUsername, claims.Subject)
			c.Set(CtxRole, claims.Role)
			return next(c)
		}
	}
}

// Username returns the authenticated username from context, or "" when the
// request is unauthenticated.
func Username(c echo.Context) string {
	if v, ok := c.Get(CtxUsername).(string); ok {
		return v
	}
	return ""
}

// RoleOf returns the authenticated role from context, or "" when absent.
func RoleOf(c echo.Context) string {
	if v, ok := c.Get(CtxRole).(string); ok {
		return v
	}
	return ""
}
