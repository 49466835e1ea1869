package audit

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PaulFidika/authgate/core"
)

// Store persists auth events to <schema>.gateway_auth_events.
type Store struct {
	pg     *pgxpool.Pool
	schema string
}

func NewStore(pg *pgxpool.Pool, schema string) *Store {
	s := strings.TrimSpace(schema)
	if s == "" {
		s = "public"
	}
	return &Store{pg: pg, schema: s}
}

func (s *Store) eventsTable() string { return s.schema + ".gateway_auth_events" }

// Insert writes ev. A nil pool is a no-op.
func (s *Store) Insert(ctx context.Context, ev core.AuthEvent) error {
	if s.pg == nil {
		return nil
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	_, err := s.pg.Exec(ctx, `INSERT INTO `+s.eventsTable()+`
		(id, event_type, subject, issuer, reason, detail, client_ip, user_agent, correlation_id, occurred_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), $10)`,
		uuid.New(), ev.Type, ev.Subject, ev.Issuer, ev.Reason, ev.Detail, ev.ClientIP, ev.UserAgent, ev.CorrelationID, ev.OccurredAt)
	return err
}

// DeleteOlderThan removes events that occurred before cutoff and returns how
// many rows were deleted.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.pg == nil {
		return 0, nil
	}
	tag, err := s.pg.Exec(ctx, `DELETE FROM `+s.eventsTable()+` WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Recent returns up to limit events, newest first, optionally for one subject.
func (s *Store) Recent(ctx context.Context, subject string, limit int) ([]core.AuthEvent, error) {
	if s.pg == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.pg.Query(ctx, `SELECT event_type, COALESCE(subject, ''), COALESCE(issuer, ''), COALESCE(reason, ''),
		COALESCE(detail, ''), COALESCE(client_ip, ''), COALESCE(user_agent, ''), COALESCE(correlation_id, ''), occurred_at
		FROM `+s.eventsTable()+`
		WHERE ($1 = '' OR subject = $1)
		ORDER BY occurred_at DESC
		LIMIT $2`, subject, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.AuthEvent
	for rows.Next() {
		var ev core.AuthEvent
		if err := rows.Scan(&ev.Type, &ev.Subject, &ev.Issuer, &ev.Reason, &ev.Detail,
			&ev.ClientIP, &ev.UserAgent, &ev.CorrelationID, &ev.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
