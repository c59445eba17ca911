// Package router wires HTTP routes to handlers and applies the middleware
// chain: rate limiting first, then JWT authentication, verification and
// role checks on the protected groups.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/rayvin/radiology-assistant/internal/handler"
	"github.com/rayvin/radiology-assistant/internal/middleware"
	"github.com/rayvin/radiology-assistant/internal/model"
	"github.com/rayvin/radiology-assistant/internal/token"
)

// Deps bundles everything route registration needs.
type Deps struct {
	Auth     *handler.AuthHandler
	Studies  *handler.StudyHandler
	Analyses *handler.AnalysisHandler
	Health   *handler.HealthHandler

	Maker *token.Maker
	Users middleware.VerificationLookup

	// RateLimit is applied to every route. Nil disables limiting (tests).
	RateLimit echo.MiddlewareFunc
}

// Register sets up all routes on the Echo instance.
func Register(e *echo.Echo, d Deps) {
	limit := d.RateLimit
	if limit == nil {
		limit = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	// Liveness probe for load balancers and monitoring.
	e.GET("/health", d.Health.Health)

	// Public auth operations, limited by client IP since no identity exists
	// yet. Login stays blocked for unverified accounts inside the handler,
	// so none of these need the verification check.
	auth := e.Group("/api/auth", limit)
	auth.POST("/signup", d.Auth.Signup)
	auth.POST("/token", d.Auth.Token)
	auth.POST("/forgot-password", d.Auth.ForgotPassword)
	auth.POST("/reset-password", d.Auth.ResetPassword)
	auth.POST("/verify-email", d.Auth.VerifyEmail)
	auth.POST("/resend-verification", d.Auth.ResendVerification)
	auth.GET("/email-status", d.Auth.EmailStatus)
	auth.GET("/me", d.Auth.Me, middleware.JWTAuth(d.Maker))

	// Protected API. Every route requires a valid access token and a
	// verified, active account; roles narrow per endpoint. The limiter sits
	// after authentication so counters key on the username, and before the
	// verification lookup so rejected bursts never reach the database.
	api := e.Group("/api", middleware.JWTAuth(d.Maker), limit, middleware.RequireVerified(d.Users))

	anyRole := middleware.RequireRole(model.RoleUser, model.RoleRadiologist, model.RoleAdmin)
	clinical := middleware.RequireRole(model.RoleRadiologist, model.RoleAdmin)
	adminOnly := middleware.RequireRole(model.RoleAdmin)

	api.POST("/upload", d.Studies.Upload, anyRole)
	api.POST("/upload/:study_id", d.Studies.AppendToStudy, anyRole)
	api.POST("/analyze", d.Analyses.Analyze, anyRole)
	api.POST("/analyze/:study_id", d.Analyses.AnalyzeExisting, clinical)
	api.GET("/studies", d.Studies.ListStudies, clinical)
	api.GET("/my-studies", d.Studies.ListMyStudies, anyRole)
	api.GET("/study/:study_id", d.Studies.GetStudy, anyRole)
	api.DELETE("/study/:study_id", d.Studies.DeleteStudy, adminOnly)
}
