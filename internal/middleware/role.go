package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rayvin/radiology-assistant/internal/model"
)

// RequireRole returns a middleware that enforces that the authenticated
// user holds one of the given roles.  The role comes from the access token's
// claim, stored in context by JWTAuth.  A missing or unlisted role aborts
// the request with 403 Forbidden; the static permission matrix lives in the
// router where these guards are attached per route.
func RequireRole(roles ...model.Role) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[string(r)] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !allowed[RoleOf(c)] {
				return c.JSON(http.StatusForbidden, echo.Map{"detail": "forbidden"})
			}
			return next(c)
		}
	}
}
