package core

import (
	"context"
	"time"
)

// Authentication event types.
const (
	EventValidationSucceeded = "validation_succeeded"
	EventValidationFailed    = "validation_failed"
	EventMissingCredential   = "missing_credential"
	EventUpstreamFailed      = "upstream_failed"
)

// AuthEvent describes one authentication decision made at the gateway edge.
type AuthEvent struct {
	Type          string    `json:"type"`
	Subject       string    `json:"subject,omitempty"`
	Issuer        string    `json:"issuer,omitempty"`
	Reason        string    `json:"reason,omitempty"` // FailureKind for validation failures
	Detail        string    `json:"detail,omitempty"`
	ClientIP      string    `json:"client_ip,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// AuthEventLogger records authentication events to an external sink.
// Implementations should be non-blocking and best-effort; callers ignore
// returned errors beyond logging them.
type AuthEventLogger interface {
	LogAuthEvent(ctx context.Context, ev AuthEvent) error
}

// NopEventLogger discards events.
type NopEventLogger struct{}

func (NopEventLogger) LogAuthEvent(context.Context, AuthEvent) error { return nil }
