// Package handler contains the HTTP handlers.  Handlers parse and validate
// input, call repositories and services, and translate domain errors into
// status codes.  Error bodies are always {"detail": ...}.
package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rayvin/radiology-assistant/internal/middleware"
	"github.com/rayvin/radiology-assistant/internal/model"
	"github.com/rayvin/radiology-assistant/internal/repository"
	"github.com/rayvin/radiology-assistant/internal/token"
	"github.com/rayvin/radiology-assistant/internal/utils"
)

// UserStore is the subset of the user repository used by the auth handlers.
type UserStore interface {
	Create(ctx context.Context, username, email, passwordHash, fullName string, role model.Role) (uint64, error)
	FindByUsername(ctx context.Context, username string) (model.User, error)
	FindByEmail(ctx context.Context, email string) (model.User, error)
	SetEmailVerified(ctx context.Context, username string) error
	UpdatePasswordHash(ctx context.Context, username, hash string) error
	UpdateLastLogin(ctx context.Context, username string) error
}

// TokenStore records consumed single-use token ids.
type TokenStore interface {
	Consume(ctx context.Context, jti, kind string, expiresAt time.Time) error
}

// Mailer queues account emails.  Each Send method reports whether the
// message was queued.
type Mailer interface {
	Configured() bool
	SendVerificationEmail(ctx context.Context, to, username, tok string) bool
	SendPasswordResetEmail(ctx context.Context, to, username, tok string) bool
	SendWelcomeEmail(ctx context.Context, to, username string) bool
}

// AuthHandler serves signup, login and the email-verification / password
// recovery flows.
type AuthHandler struct {
	Users      UserStore
	Tokens     TokenStore
	Maker      *token.Maker
	Mail       Mailer
	BcryptCost int
}

func NewAuthHandler(users UserStore, tokens TokenStore, maker *token.Maker, mail Mailer, bcryptCost int) *AuthHandler {
	return &AuthHandler{Users: users, Tokens: tokens, Maker: maker, Mail: mail, BcryptCost: bcryptCost}
}

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

// Signup registers a new account and queues a verification email.  The
// account cannot log in until the email is verified.
func (h *AuthHandler) Signup(c echo.Context) error {
	var req signupRequest
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusBadRequest, "invalid request body")
	}
	if !utils.ValidUsername(req.Username) {
		return detail(c, http.StatusBadRequest, "username must be 3-50 characters: letters, digits, underscore or hyphen")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if !utils.ValidEmail(req.Email) {
		return detail(c, http.StatusBadRequest, "invalid email address")
	}
	if len(req.Password) < utils.MinPasswordLength {
		return detail(c, http.StatusBadRequest, "password must be at least 8 characters")
	}
	role := model.RoleUser
	if req.Role != "" {
		if !model.ValidRole(req.Role) || model.Role(req.Role) == model.RoleAdmin {
			return detail(c, http.StatusBadRequest, "invalid role")
		}
		role = model.Role(req.Role)
	}

	hash, err := utils.HashPassword(req.Password, h.BcryptCost)
	if err != nil {
		return detail(c, http.StatusInternalServerError, "failed to process password")
	}

	ctx := c.Request().Context()
	if _, err := h.Users.Create(ctx, req.Username, req.Email, hash, req.FullName, role); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return detail(c, http.StatusBadRequest, "Username or email already exists")
		}
		log.Printf("signup: create user %q: %v", req.Username, err)
		return detail(c, http.StatusInternalServerError, "failed to create user")
	}

	emailSent := false
	if tok, err := h.Maker.IssueEmailVerification(req.Username); err == nil {
		emailSent = h.Mail.SendVerificationEmail(ctx, req.Email, req.Username, tok)
	} else {
		log.Printf("signup: issue verification token for %q: %v", req.Username, err)
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"username":       req.Username,
		"email":          req.Email,
		"full_name":      req.FullName,
		"role":           role,
		"email_verified": false,
		"email_sent":     emailSent,
		"detail":         "Account created. Please verify your email address before logging in.",
	})
}

// Token is the login endpoint.  It accepts form-encoded credentials and
// returns a bearer access token.  Unverified accounts are rejected with 403
// regardless of whether the password was correct.
func (h *AuthHandler) Token(c echo.Context) error {
	username := c.FormValue("username")
	password := c.FormValue("password")
	if username == "" || password == "" {
		return detail(c, http.StatusBadRequest, "username and password are required")
	}

	ctx := c.Request().Context()
	u, err := h.Users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return detail(c, http.StatusUnauthorized, "Incorrect username or password")
		}
		log.Printf("login: lookup %q: %v", username, err)
		return detail(c, http.StatusInternalServerError, "login failed")
	}
	if !utils.VerifyPassword(u.PasswordHash, password) {
		return detail(c, http.StatusUnauthorized, "Incorrect username or password")
	}
	if !u.EmailVerified {
		return detail(c, http.StatusForbidden, "Email not verified. Please check your inbox for the verification link.")
	}
	if !u.IsActive {
		return detail(c, http.StatusForbidden, "Account is disabled")
	}

	raw, expiresAt, err := h.Maker.IssueAccess(u)
	if err != nil {
		log.Printf("login: issue access token for %q: %v", username, err)
		return detail(c, http.StatusInternalServerError, "login failed")
	}
	if err := h.Users.UpdateLastLogin(ctx, username); err != nil {
		log.Printf("login: update last_login for %q: %v", username, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"access_token": raw,
		"token_type":   "bearer",
		"expires_in":   int(time.Until(expiresAt).Seconds()),
	})
}

// Me returns the authenticated account's profile.
func (h *AuthHandler) Me(c echo.Context) error {
	username := middleware.Username(c)
	u, err := h.Users.FindByUsername(c.Request().Context(), username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return detail(c, http.StatusNotFound, "user not found")
		}
		return detail(c, http.StatusInternalServerError, "failed to load user")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"username":       u.Username,
		"email":          u.Email,
		"full_name":      u.FullName,
		"role":           u.Role,
		"email_verified": u.EmailVerified,
		"is_active":      u.IsActive,
		"last_login":     u.LastLogin,
		"created_at":     u.CreatedAt,
	})
}

type emailRequest struct {
	Email string `json:"email"`
}

// forgotPasswordBody is returned unconditionally so the endpoint cannot be
// used to probe which addresses have accounts.
const forgotPasswordBody = "If an account with that email exists, a password reset link has been sent."

// ForgotPassword queues a password-reset email when the address is known.
// The response is identical either way.
func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req emailRequest
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusBadRequest, "invalid request body")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if !utils.ValidEmail(req.Email) {
		return detail(c, http.StatusBadRequest, "invalid email address")
	}

	ctx := c.Request().Context()
	u, err := h.Users.FindByEmail(ctx, req.Email)
	if err == nil {
		if tok, terr := h.Maker.IssuePasswordReset(u.Username); terr == nil {
			h.Mail.SendPasswordResetEmail(ctx, u.Email, u.Username, tok)
		} else {
			log.Printf("forgot-password: issue token for %q: %v", u.Username, terr)
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		log.Printf("forgot-password: lookup %q: %v", req.Email, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"detail": forgotPasswordBody})
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// ResetPassword sets a new password from a valid, unconsumed reset token.
// Tokens are single-use: the jti is recorded before the password changes.
func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req resetPasswordRequest
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusBadRequest, "invalid request body")
	}
	if len(req.NewPassword) < utils.MinPasswordLength {
		return detail(c, http.StatusBadRequest, "password must be at least 8 characters")
	}

	claims, err := h.Maker.Validate(req.Token, token.KindPasswordReset)
	if err != nil {
		return detail(c, http.StatusBadRequest, "Invalid or expired token")
	}

	ctx := c.Request().Context()
	if err := h.Tokens.Consume(ctx, claims.ID, string(token.KindPasswordReset), claims.ExpiresAt.Time); err != nil {
		if errors.Is(err, repository.ErrTokenConsumed) {
			return detail(c, http.StatusBadRequest, "Token has already been used")
		}
		log.Printf("reset-password: consume token: %v", err)
		return detail(c, http.StatusInternalServerError, "failed to reset password")
	}

	hash, err := utils.HashPassword(req.NewPassword, h.BcryptCost)
	if err != nil {
		return detail(c, http.StatusInternalServerError, "failed to process password")
	}
	if err := h.Users.UpdatePasswordHash(ctx, claims.Subject, hash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return detail(c, http.StatusBadRequest, "Invalid or expired token")
		}
		log.Printf("reset-password: update hash for %q: %v", claims.Subject, err)
		return detail(c, http.StatusInternalServerError, "failed to reset password")
	}

	return c.JSON(http.StatusOK, echo.Map{"detail": "Password has been reset successfully"})
}

type verifyEmailRequest struct {
	Token string `json:"token"`
}

// VerifyEmail consumes a verification token, marks the address verified and
// logs the user in by returning a fresh access token.
func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	var req verifyEmailRequest
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusBadRequest, "invalid request body")
	}

	claims, err := h.Maker.Validate(req.Token, token.KindEmailVerification)
	if err != nil {
		return detail(c, http.StatusBadRequest, "Invalid or expired token")
	}

	ctx := c.Request().Context()
	if err := h.Tokens.Consume(ctx, claims.ID, string(token.KindEmailVerification), claims.ExpiresAt.Time); err != nil {
		if errors.Is(err, repository.ErrTokenConsumed) {
			return detail(c, http.StatusBadRequest, "Token has already been used")
		}
		log.Printf("verify-email: consume token: %v", err)
		return detail(c, http.StatusInternalServerError, "failed to verify email")
	}

	if err := h.Users.SetEmailVerified(ctx, claims.Subject); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return detail(c, http.StatusBadRequest, "Invalid or expired token")
		}
		log.Printf("verify-email: mark verified for %q: %v", claims.Subject, err)
		return detail(c, http.StatusInternalServerError, "failed to verify email")
	}

	u, err := h.Users.FindByUsername(ctx, claims.Subject)
	if err != nil {
		return detail(c, http.StatusInternalServerError, "failed to verify email")
	}
	raw, expiresAt, err := h.Maker.IssueAccess(u)
	if err != nil {
		return detail(c, http.StatusInternalServerError, "failed to verify email")
	}

	h.Mail.SendWelcomeEmail(ctx, u.Email, u.Username)

	return c.JSON(http.StatusOK, echo.Map{
		"detail":       "Email verified successfully",
		"access_token": raw,
		"token_type":   "bearer",
		"expires_in":   int(time.Until(expiresAt).Seconds()),
	})
}

// ResendVerification issues a fresh verification token for an unverified
// account.  Earlier tokens stay valid until they expire on their own.
func (h *AuthHandler) ResendVerification(c echo.Context) error {
	var req emailRequest
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusBadRequest, "invalid request body")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if !utils.ValidEmail(req.Email) {
		return detail(c, http.StatusBadRequest, "invalid email address")
	}

	ctx := c.Request().Context()
	u, err := h.Users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusOK, echo.Map{"detail": "If an account with that email exists, a verification link has been sent."})
		}
		log.Printf("resend-verification: lookup %q: %v", req.Email, err)
		return detail(c, http.StatusInternalServerError, "failed to resend verification")
	}
	if u.EmailVerified {
		return c.JSON(http.StatusOK, echo.Map{"detail": "Email is already verified. You can log in."})
	}

	emailSent := false
	if tok, terr := h.Maker.IssueEmailVerification(u.Username); terr == nil {
		emailSent = h.Mail.SendVerificationEmail(ctx, u.Email, u.Username, tok)
	} else {
		log.Printf("resend-verification: issue token for %q: %v", u.Username, terr)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"detail":     "If an account with that email exists, a verification link has been sent.",
		"email_sent": emailSent,
	})
}

// EmailStatus reports whether outbound email delivery is configured.
func (h *AuthHandler) EmailStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"configured": h.Mail.Configured()})
}

// detail writes the uniform error body.
func detail(c echo.Context, code int, msg string) error {
	return c.JSON(code, echo.Map{"detail": msg})
}
