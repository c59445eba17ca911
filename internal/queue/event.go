// Package queue defines message payloads exchanged over the message broker.
package queue

// EmailKind labels the outbound message types for logging and consumer
// routing.
const (
	EmailKindVerification  = "verification"
	EmailKindPasswordReset = "password_reset"
	EmailKindWelcome       = "welcome"
)

// EmailOutboundEvent is published when the API wants an email delivered.
// Delivery is asynchronous and best-effort: the publishing request reports
// only whether the event was queued, never whether the SMTP relay accepted
// it.
type EmailOutboundEvent struct {
	Kind     string `json:"kind"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	QueuedAt string `json:"queued_at"`
}
