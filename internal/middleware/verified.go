package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rayvin/radiology-assistant/internal/model"
	"github.com/rayvin/radiology-assistant/internal/repository"
)

// VerificationLookup is the slice of the user repository this middleware
// needs.
type VerificationLookup interface {
	FindByUsername(ctx context.Context, username string) (model.User, error)
}

// RequireVerified blocks accounts whose email address has not been
// confirmed.  Login already refuses unverified users, so this mostly guards
// against a verification flag being cleared while an access token is still
// outstanding.  It re-reads the user record rather than trusting a token
// claim, because verification state can change within a token's lifetime.
func RequireVerified(users VerificationLookup) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			username := Username(c)
			if username == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"detail": "missing bearer token"})
			}
			ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
			defer cancel()
			u, err := users.FindByUsername(ctx, username)
			if errors.Is(err, repository.ErrNotFound) {
				return c.JSON(http.StatusUnauthorized, echo.Map{"detail": "unknown account"})
			}
			if err != nil {
				return c.JSON(http.StatusInternalServerError, echo.Map{"detail": "account lookup failed"})
			}
			if !u.IsActive {
				return c.JSON(http.StatusForbidden, echo.Map{"detail": "account disabled"})
			}
			if !u.EmailVerified {
				return c.JSON(http.StatusForbidden, echo.Map{"detail": "email not verified"})
			}
			return next(c)
		}
	}
}
