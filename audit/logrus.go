// Package audit records authentication events produced at the gateway edge.
package audit

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/PaulFidika/authgate/core"
)

// LogrusLogger writes each event as one structured log line.
type LogrusLogger struct {
	log logrus.FieldLogger
}

func NewLogrusLogger(log logrus.FieldLogger) *LogrusLogger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogrusLogger{log: log.WithField("component", "audit")}
}

func (l *LogrusLogger) LogAuthEvent(_ context.Context, ev core.AuthEvent) error {
	fields := logrus.Fields{
		"event":       ev.Type,
		"occurred_at": ev.OccurredAt,
	}
	for k, v := range map[string]string{
		"subject":        ev.Subject,
		"issuer":         ev.Issuer,
		"reason":         ev.Reason,
		"detail":         ev.Detail,
		"client_ip":      ev.ClientIP,
		"user_agent":     ev.UserAgent,
		"correlation_id": ev.CorrelationID,
	} {
		if v != "" {
			fields[k] = v
		}
	}
	l.log.WithFields(fields).Info("auth event")
	return nil
}

// Multi fans an event out to every logger and joins their errors.
type Multi []core.AuthEventLogger

func (m Multi) LogAuthEvent(ctx context.Context, ev core.AuthEvent) error {
	var errs []error
	for _, l := range m {
		if l == nil {
			continue
		}
		if err := l.LogAuthEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
