package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	id "grouplock/pkg/domain"
	"grouplock/pkg/platform/sentinel"
)

// Postgres reads the platform's groups and memberships tables. This service
// only reads them, except for the type-D quorum column which the quorum
// endpoint updates on the manager's behalf.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed directory.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Schema is the subset of the platform schema this service depends on.
// Idempotent; the platform owns these tables in production, but dev and
// integration environments bootstrap them here.
const Schema = `
CREATE TABLE IF NOT EXISTS groups (
	id                  TEXT PRIMARY KEY,
	auth_type           TEXT NOT NULL,
	required_signatures INT  NOT NULL DEFAULT 0,
	quorum_k            INT  NOT NULL DEFAULT 0,
	manager_id          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS memberships (
	group_id     TEXT NOT NULL REFERENCES groups (id),
	principal_id TEXT NOT NULL,
	status       TEXT NOT NULL,
	PRIMARY KEY (group_id, principal_id)
);
`

// EnsureSchema applies the directory DDL.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure directory schema: %w", err)
	}
	return nil
}

func (p *Postgres) IsActiveMember(ctx context.Context, groupID id.GroupID, principalID id.PrincipalID) (bool, error) {
	if _, err := p.GroupAuthConfig(ctx, groupID); err != nil {
		return false, err
	}

	var one int
	err := p.db.QueryRowContext(ctx, `
		SELECT 1 FROM memberships
		WHERE group_id = $1 AND principal_id = $2 AND status = 'ACTIVE'
	`, groupID.String(), principalID.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return true, nil
}

func (p *Postgres) IsManager(ctx context.Context, groupID id.GroupID, principalID id.PrincipalID) (bool, error) {
	cfg, err := p.GroupAuthConfig(ctx, groupID)
	if err != nil {
		return false, err
	}
	return cfg.ManagerID == principalID, nil
}

func (p *Postgres) GroupAuthConfig(ctx context.Context, groupID id.GroupID) (*GroupConfig, error) {
	var cfg GroupConfig
	var gid, authType, manager string
	err := p.db.QueryRowContext(ctx, `
		SELECT id, auth_type, required_signatures, quorum_k, manager_id
		FROM groups WHERE id = $1
	`, groupID.String()).Scan(&gid, &authType, &cfg.RequiredSignatures, &cfg.QuorumK, &manager)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load group auth config: %w", err)
	}

	cfg.GroupID = id.GroupID(gid)
	cfg.ManagerID = id.PrincipalID(manager)
	cfg.AuthType, err = id.ParseAuthType(authType)
	if err != nil {
		return nil, fmt.Errorf("load group auth config: %w", err)
	}
	return &cfg, nil
}

func (p *Postgres) SetQuorum(ctx context.Context, groupID id.GroupID, quorumK int) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE groups SET quorum_k = $2
		WHERE id = $1 AND auth_type IN ('TYPE_D', 'D')
	`, groupID.String(), quorumK)
	if err != nil {
		return fmt.Errorf("set quorum: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set quorum: %w", err)
	}
	if affected == 0 {
		if _, err := p.GroupAuthConfig(ctx, groupID); err != nil {
			return err
		}
		return sentinel.ErrInvalidState
	}
	return nil
}
