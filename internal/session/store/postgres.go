package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"grouplock/internal/session/models"
	id "grouplock/pkg/domain"
	"grouplock/pkg/platform/sentinel"
)

// Postgres persists sessions, signatures, and intents in PostgreSQL.
//
// Atomicity: ApplyVerified runs in a transaction that locks the session row
// (SELECT ... FOR UPDATE) only around the read-modify-write; biometric
// verification has already happened by the time the orchestrator calls it.
// The partial unique index on VERIFIED signatures backs up the in-transaction
// duplicate check, and the partial unique index on ACTIVE sessions enforces
// at-most-one live session per group even across racing creates.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed session store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Schema is the DDL for the session store. Idempotent; applied by main at
// startup and by integration tests.
const Schema = `
CREATE TABLE IF NOT EXISTS auth_sessions (
	id                  TEXT PRIMARY KEY,
	group_id            TEXT NOT NULL,
	initiator           TEXT NOT NULL,
	auth_type           TEXT NOT NULL,
	status              TEXT NOT NULL,
	required_signatures INT  NOT NULL,
	verified_count      INT  NOT NULL DEFAULT 0,
	expires_at          TIMESTAMPTZ NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL,
	completed_at        TIMESTAMPTZ,
	initiator_device    TEXT NOT NULL DEFAULT '',
	CHECK (verified_count <= required_signatures OR required_signatures = 0)
);

CREATE UNIQUE INDEX IF NOT EXISTS auth_sessions_one_active
	ON auth_sessions (group_id) WHERE status = 'ACTIVE';

CREATE INDEX IF NOT EXISTS auth_sessions_group_created
	ON auth_sessions (group_id, created_at DESC);

CREATE TABLE IF NOT EXISTS auth_signatures (
	session_id  TEXT NOT NULL REFERENCES auth_sessions (id),
	signer_id   TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
	verified_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS auth_signatures_one_verified
	ON auth_signatures (session_id, signer_id) WHERE outcome = 'VERIFIED';

CREATE TABLE IF NOT EXISTS auth_intents (
	group_id     TEXT NOT NULL,
	principal_id TEXT NOT NULL,
	is_waiting   BOOLEAN NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (group_id, principal_id)
);
`

// EnsureSchema applies the store DDL.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure session schema: %w", err)
	}
	return nil
}

const sessionColumns = `id, group_id, initiator, auth_type, status, required_signatures, verified_count, expires_at, created_at, completed_at, initiator_device`

func (p *Postgres) Create(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO auth_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := p.db.ExecContext(ctx, query,
		session.ID.String(), session.GroupID.String(), session.Initiator.String(),
		session.AuthType.String(), string(session.Status),
		session.RequiredSignatures, session.VerifiedCount,
		session.ExpiresAt, session.CreatedAt, session.CompletedAt, session.InitiatorDevice,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM auth_sessions WHERE id = $1`, sessionID.String())
	return scanSession(row)
}

func (p *Postgres) FindActiveByGroup(ctx context.Context, groupID id.GroupID) (*models.Session, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM auth_sessions WHERE group_id = $1 AND status = 'ACTIVE'`,
		groupID.String())
	return scanSession(row)
}

func (p *Postgres) LatestTerminalByGroup(ctx context.Context, groupID id.GroupID) (*models.Session, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM auth_sessions
		WHERE group_id = $1 AND status <> 'ACTIVE'
		ORDER BY created_at DESC
		LIMIT 1
	`, groupID.String())
	return scanSession(row)
}

func (p *Postgres) ApplyVerified(ctx context.Context, sessionID id.SessionID, signerID id.PrincipalID, confidence float64, now time.Time, satisfied SatisfiedFunc) (*models.Session, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin apply verified: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM auth_sessions WHERE id = $1 FOR UPDATE`, sessionID.String())
	session, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	if session.Status != models.StatusActive {
		return nil, sentinel.ErrInvalidState
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO auth_signatures (session_id, signer_id, outcome, confidence, verified_at)
		VALUES ($1, $2, 'VERIFIED', $3, $4)
		ON CONFLICT (session_id, signer_id) WHERE outcome = 'VERIFIED' DO NOTHING
	`, sessionID.String(), signerID.String(), confidence, now)
	if err != nil {
		return nil, fmt.Errorf("insert verified signature: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("insert verified signature: %w", err)
	}
	if inserted == 0 {
		return nil, sentinel.ErrAlreadySigned
	}

	session.VerifiedCount++
	status := session.Status
	var completedAt *time.Time
	if satisfied(session.VerifiedCount, session.RequiredSignatures) {
		status = models.StatusCompleted
		completedAt = &now
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE auth_sessions
		SET verified_count = $2, status = $3, completed_at = COALESCE($4, completed_at)
		WHERE id = $1
	`, sessionID.String(), session.VerifiedCount, string(status), completedAt)
	if err != nil {
		return nil, fmt.Errorf("update session count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit apply verified: %w", err)
	}

	session.Status = status
	session.CompletedAt = completedAt
	return session, nil
}

func (p *Postgres) AppendRejected(ctx context.Context, sessionID id.SessionID, signerID id.PrincipalID, now time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO auth_signatures (session_id, signer_id, outcome, verified_at)
		VALUES ($1, $2, 'REJECTED', $3)
	`, sessionID.String(), signerID.String(), now)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" {
			return sentinel.ErrNotFound
		}
		return fmt.Errorf("append rejected signature: %w", err)
	}
	return nil
}

func (p *Postgres) MarkExpired(ctx context.Context, sessionID id.SessionID, now time.Time) (*models.Session, error) {
	return p.transition(ctx, sessionID, models.StatusExpired)
}

func (p *Postgres) MarkCancelled(ctx context.Context, sessionID id.SessionID, now time.Time) (*models.Session, error) {
	return p.transition(ctx, sessionID, models.StatusCancelled)
}

// transition performs the ACTIVE -> terminal CAS. A zero-row update means the
// session either does not exist or was already terminal; the follow-up read
// distinguishes the two.
func (p *Postgres) transition(ctx context.Context, sessionID id.SessionID, to models.Status) (*models.Session, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE auth_sessions
		SET status = $2
		WHERE id = $1 AND status = 'ACTIVE'
		RETURNING `+sessionColumns+`
	`, sessionID.String(), string(to))

	session, err := scanSession(row)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, err
	}
	if _, getErr := p.Get(ctx, sessionID); getErr != nil {
		return nil, getErr
	}
	return nil, sentinel.ErrInvalidState
}

func (p *Postgres) ListExpiredActive(ctx context.Context, now time.Time) ([]*models.Session, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM auth_sessions
		WHERE status = 'ACTIVE' AND expires_at <= $1
		ORDER BY created_at
	`, now)
	if err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (p *Postgres) ListSignatures(ctx context.Context, sessionID id.SessionID) ([]*models.Signature, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT session_id, signer_id, outcome, confidence, verified_at
		FROM auth_signatures
		WHERE session_id = $1
		ORDER BY verified_at
	`, sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("list signatures: %w", err)
	}
	defer rows.Close()

	var out []*models.Signature
	for rows.Next() {
		var sig models.Signature
		var sid, signer, outcome string
		if err := rows.Scan(&sid, &signer, &outcome, &sig.Confidence, &sig.VerifiedAt); err != nil {
			return nil, fmt.Errorf("scan signature: %w", err)
		}
		sig.SessionID = id.SessionID(sid)
		sig.SignerID = id.PrincipalID(signer)
		sig.Outcome = models.SignatureOutcome(outcome)
		out = append(out, &sig)
	}
	return out, rows.Err()
}

func (p *Postgres) HasVerifiedSignature(ctx context.Context, sessionID id.SessionID, signerID id.PrincipalID) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx, `
		SELECT 1 FROM auth_signatures
		WHERE session_id = $1 AND signer_id = $2 AND outcome = 'VERIFIED'
	`, sessionID.String(), signerID.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check verified signature: %w", err)
	}
	return true, nil
}

func (p *Postgres) UpsertIntent(ctx context.Context, intent *models.Intent) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO auth_intents (group_id, principal_id, is_waiting, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (group_id, principal_id) DO UPDATE SET
			is_waiting = EXCLUDED.is_waiting,
			updated_at = EXCLUDED.updated_at
	`, intent.GroupID.String(), intent.PrincipalID.String(), intent.IsWaiting, intent.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert intent: %w", err)
	}
	return nil
}

func (p *Postgres) ListWaiting(ctx context.Context, groupID id.GroupID) ([]*models.Intent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT group_id, principal_id, is_waiting, updated_at
		FROM auth_intents
		WHERE group_id = $1 AND is_waiting
		ORDER BY principal_id
	`, groupID.String())
	if err != nil {
		return nil, fmt.Errorf("list waiting intents: %w", err)
	}
	defer rows.Close()

	var out []*models.Intent
	for rows.Next() {
		var intent models.Intent
		var gid, pid string
		if err := rows.Scan(&gid, &pid, &intent.IsWaiting, &intent.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan intent: %w", err)
		}
		intent.GroupID = id.GroupID(gid)
		intent.PrincipalID = id.PrincipalID(pid)
		out = append(out, &intent)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	var sid, gid, initiator, authType, status string
	var completedAt sql.NullTime
	err := row.Scan(&sid, &gid, &initiator, &authType, &status,
		&s.RequiredSignatures, &s.VerifiedCount, &s.ExpiresAt, &s.CreatedAt,
		&completedAt, &s.InitiatorDevice)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	s.ID = id.SessionID(sid)
	s.GroupID = id.GroupID(gid)
	s.Initiator = id.PrincipalID(initiator)
	s.AuthType = id.AuthType(authType)
	s.Status = models.Status(status)
	if completedAt.Valid {
		t := completedAt.Time
		s.CompletedAt = &t
	}
	return &s, nil
}
