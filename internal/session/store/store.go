// Package store persists authentication sessions, signature records, and
// auth intents. The store is the single source of truth for the quorum
// protocol: the signature claim is atomic, so two racing signers can never
// observe the same pre-increment count or double-complete a session.
package store

import (
	"context"
	"time"

	"grouplock/internal/session/models"
	id "grouplock/pkg/domain"
)

// SatisfiedFunc decides, inside the store's critical section, whether a
// session with the given counts has met its quorum. Implementations pass
// policy.Satisfied; the indirection keeps quorum semantics out of the store.
type SatisfiedFunc func(verifiedCount, requiredSignatures int) bool

// SessionStore is the durable record of sessions and their signatures.
// Sessions and signatures are append-only: terminal sessions and all
// signature records are kept as an audit trail, never deleted.
//
// Implementations return pkg/platform/sentinel errors for factual states
// (ErrNotFound, ErrInvalidState, ErrAlreadySigned, ErrConflict); services
// translate them into domain errors.
type SessionStore interface {
	// Create persists a new session. Returns sentinel.ErrConflict if the
	// group already has an ACTIVE session (at-most-one live session per
	// group).
	Create(ctx context.Context, session *models.Session) error

	// Get returns the session by ID.
	Get(ctx context.Context, sessionID id.SessionID) (*models.Session, error)

	// FindActiveByGroup returns the group's ACTIVE session, if any.
	FindActiveByGroup(ctx context.Context, groupID id.GroupID) (*models.Session, error)

	// LatestTerminalByGroup returns the most recently created session for
	// the group that has reached a terminal state. The access gate relies
	// on this: a newer terminal session supersedes older ones.
	LatestTerminalByGroup(ctx context.Context, groupID id.GroupID) (*models.Session, error)

	// ApplyVerified atomically records a VERIFIED signature for signer and
	// increments the session's verified count. Inside the same critical
	// section it consults satisfied and, if the quorum is met, transitions
	// the session to COMPLETED with CompletedAt = now.
	//
	// Errors: sentinel.ErrNotFound (no such session), sentinel.ErrInvalidState
	// (session terminal), sentinel.ErrAlreadySigned (signer already holds a
	// VERIFIED record for this session).
	ApplyVerified(ctx context.Context, sessionID id.SessionID, signerID id.PrincipalID, confidence float64, now time.Time, satisfied SatisfiedFunc) (*models.Session, error)

	// AppendRejected records a REJECTED signature attempt. Never changes
	// the session row.
	AppendRejected(ctx context.Context, sessionID id.SessionID, signerID id.PrincipalID, now time.Time) error

	// MarkExpired transitions ACTIVE -> EXPIRED. Returns the updated
	// session, or sentinel.ErrInvalidState if the session is already
	// terminal (idempotent sweeps race with lazy expiry).
	MarkExpired(ctx context.Context, sessionID id.SessionID, now time.Time) (*models.Session, error)

	// MarkCancelled transitions ACTIVE -> CANCELLED, same contract as
	// MarkExpired.
	MarkCancelled(ctx context.Context, sessionID id.SessionID, now time.Time) (*models.Session, error)

	// ListExpiredActive returns ACTIVE sessions whose deadline has passed,
	// for the background sweep.
	ListExpiredActive(ctx context.Context, now time.Time) ([]*models.Session, error)

	// ListSignatures returns all signature records for a session, oldest
	// first.
	ListSignatures(ctx context.Context, sessionID id.SessionID) ([]*models.Signature, error)

	// HasVerifiedSignature reports whether signer already holds a VERIFIED
	// record for the session. Used as a fast pre-check so verification work
	// is skipped for duplicate signers; ApplyVerified re-checks atomically.
	HasVerifiedSignature(ctx context.Context, sessionID id.SessionID, signerID id.PrincipalID) (bool, error)
}

// IntentStore persists auth intents. Last write wins.
type IntentStore interface {
	UpsertIntent(ctx context.Context, intent *models.Intent) error

	// ListWaiting returns principals who opted in as signers for the group.
	ListWaiting(ctx context.Context, groupID id.GroupID) ([]*models.Intent, error)
}
