package postgres

import (
	"context"
	"database/sql"
	"fmt"

	id "grouplock/pkg/domain"
	audit "grouplock/pkg/platform/audit"
	txcontext "grouplock/pkg/platform/tx"

	"github.com/google/uuid"
)

// Store implements audit.Store on PostgreSQL. Writes join an ambient
// transaction when one is present in the context, so an audit row commits or
// rolls back together with the domain write that produced it.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Schema is the audit DDL. Idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id         UUID PRIMARY KEY,
	category   TEXT NOT NULL,
	timestamp  TIMESTAMPTZ NOT NULL,
	action     TEXT NOT NULL,
	group_id   TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL DEFAULT '',
	actor_id   TEXT NOT NULL DEFAULT '',
	subject_id TEXT NOT NULL DEFAULT '',
	reason     TEXT NOT NULL DEFAULT '',
	device     TEXT NOT NULL DEFAULT '',
	request_id TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS audit_events_group_idx
	ON audit_events (group_id, timestamp DESC);
`

// EnsureSchema applies the audit DDL.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append writes one audit event.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	query := `
		INSERT INTO audit_events (
			id, category, timestamp, action, group_id, session_id,
			actor_id, subject_id, reason, device, request_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.New(),
		string(event.Category),
		event.Timestamp,
		string(event.Action),
		event.GroupID.String(),
		event.SessionID.String(),
		event.Actor.String(),
		event.Subject.String(),
		event.Reason,
		event.Device,
		event.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByGroup returns events for a group, most recent first.
func (s *Store) ListByGroup(ctx context.Context, groupID id.GroupID) ([]audit.Event, error) {
	query := `
		SELECT category, timestamp, action, group_id, session_id,
			   actor_id, subject_id, reason, device, request_id
		FROM audit_events
		WHERE group_id = $1
		ORDER BY timestamp DESC
	`
	rows, err := s.db.QueryContext(ctx, query, groupID.String())
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListAll returns all audit events (admin only), most recent first.
func (s *Store) ListAll(ctx context.Context) ([]audit.Event, error) {
	query := `
		SELECT category, timestamp, action, group_id, session_id,
			   actor_id, subject_id, reason, device, request_id
		FROM audit_events
		ORDER BY timestamp DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event

	for rows.Next() {
		var event audit.Event
		var category, action, groupID, sessionID, actorID, subject string
		err := rows.Scan(
			&category,
			&event.Timestamp,
			&action,
			&groupID,
			&sessionID,
			&actorID,
			&subject,
			&event.Reason,
			&event.Device,
			&event.RequestID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}

		event.Category = audit.EventCategory(category)
		event.Action = audit.AuditEvent(action)
		event.GroupID = id.GroupID(groupID)
		event.SessionID = id.SessionID(sessionID)
		event.Actor = id.PrincipalID(actorID)
		event.Subject = id.PrincipalID(subject)
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
