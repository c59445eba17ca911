package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/rayvin/radiology-assistant/internal/config"
	q "github.com/rayvin/radiology-assistant/internal/queue"
)

// EmailService queues account emails for asynchronous delivery.  Every Send
// method returns whether the message was queued so handlers can surface an
// email_sent flag without coupling request latency to the broker or the
// SMTP relay.
type EmailService struct {
	cfg config.Config
}

// NewEmailService builds an EmailService from the application config.
func NewEmailService(cfg config.Config) *EmailService {
	return &EmailService{cfg: cfg}
}

// Configured reports whether the SMTP transport is set up. When it is not,
// the consumer logs and drops events, so callers may skip queueing entirely.
func (s *EmailService) Configured() bool {
	return s.cfg.EmailConfigured()
}

// SendVerificationEmail queues the address-confirmation email containing the
// verification link. Returns true when the event was queued.
func (s *EmailService) SendVerificationEmail(ctx context.Context, to, username, tok string) bool {
	link := fmt.Sprintf("%s/verify-email?token=%s", s.cfg.BaseURL, tok)
	body := fmt.Sprintf(
		"Hello %s,\r\n\r\nWelcome to the radiology assistant. Confirm your email address by opening the link below within 24 hours:\r\n\r\n%s\r\n\r\nIf you did not create this account, ignore this message.\r\n",
		username, link,
	)
	return s.queue(ctx, q.EmailKindVerification, to, "Verify your email address", body)
}

// SendPasswordResetEmail queues the password-reset email. Returns true when
// the event was queued.
func (s *EmailService) SendPasswordResetEmail(ctx context.Context, to, username, tok string) bool {
	link := fmt.Sprintf("%s/reset-password?token=%s", s.cfg.BaseURL, tok)
	body := fmt.Sprintf(
		"Hello %s,\r\n\r\nA password reset was requested for your account. The link below is valid for 30 minutes and can be used once:\r\n\r\n%s\r\n\r\nIf you did not request a reset, ignore this message.\r\n",
		username, link,
	)
	return s.queue(ctx, q.EmailKindPasswordReset, to, "Password reset request", body)
}

// SendWelcomeEmail queues the post-verification welcome email. Returns true
// when the event was queued.
func (s *EmailService) SendWelcomeEmail(ctx context.Context, to, username string) bool {
	body := fmt.Sprintf(
		"Hello %s,\r\n\r\nYour email address is verified and your account is ready. You can now upload studies and request analyses.\r\n",
		username,
	)
	return s.queue(ctx, q.EmailKindWelcome, to, "Welcome to the radiology assistant", body)
}

func (s *EmailService) queue(ctx context.Context, kind, to, subject, body string) bool {
	if !s.Configured() {
		log.Printf("email: transport not configured, skipping %s email to %s", kind, to)
		return false
	}
	event := q.EmailOutboundEvent{
		Kind:     kind,
		To:       to,
		Subject:  subject,
		Body:     body,
		QueuedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := publishEmail(ctx, event); err != nil {
		log.Printf("email: failed to queue %s email to %s: %v", kind, to, err)
		return false
	}
	return true
}
