package models

import (
	"time"

	id "grouplock/pkg/domain"
)

// Status is the lifecycle state of an authentication session.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether no further signatures are accepted.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusExpired || s == StatusCancelled
}

// Session is a multi-party authentication challenge for a group.
//
// Invariants, enforced by the store's atomic claim operation:
//   - VerifiedCount <= RequiredSignatures at all times
//   - Status == COMPLETED iff VerifiedCount >= RequiredSignatures
//   - terminal sessions never change again
//
// RequiredSignatures is snapshotted at creation; a type-D quorum change never
// alters an in-flight session. Sessions are append-only: they are superseded
// by newer sessions, never deleted.
type Session struct {
	ID                 id.SessionID `json:"sessionId"`
	GroupID            id.GroupID   `json:"groupId"`
	Initiator          id.PrincipalID `json:"initiator"`
	AuthType           id.AuthType  `json:"authType"`
	Status             Status       `json:"status"`
	RequiredSignatures int          `json:"requiredSignatures"`
	VerifiedCount      int          `json:"verifiedCount"`
	ExpiresAt          time.Time    `json:"expiresAt"`
	CreatedAt          time.Time    `json:"createdAt"`
	CompletedAt        *time.Time   `json:"completedAt,omitempty"`
	// InitiatorDevice is a display string parsed from the creating request's
	// User-Agent, shown in the group's session activity view.
	InitiatorDevice string `json:"initiatorDevice,omitempty"`
}

// Expired reports whether the session deadline has passed. Only meaningful
// for ACTIVE sessions; terminal sessions keep their status.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SignatureOutcome is the result of a verification attempt.
type SignatureOutcome string

const (
	OutcomeVerified SignatureOutcome = "VERIFIED"
	OutcomeRejected SignatureOutcome = "REJECTED"
	// OutcomeSkipped reports that no verification happened because the
	// session was already terminal. It appears in submission replies only,
	// never in stored Signature records.
	OutcomeSkipped SignatureOutcome = "SKIPPED"
)

// Signature is the append-only record of one verification attempt. At most
// one VERIFIED record exists per (SessionID, SignerID); a signer may retry
// after REJECTED, producing additional REJECTED records.
type Signature struct {
	SessionID  id.SessionID     `json:"sessionId"`
	SignerID   id.PrincipalID   `json:"signerId"`
	Outcome    SignatureOutcome `json:"outcome"`
	Confidence float64          `json:"confidence"`
	VerifiedAt time.Time        `json:"verifiedAt"`
}

// Intent is a principal's declared willingness to be prompted as a signer for
// pending sessions on a group. Last write wins; it has no effect on quorum
// math, only on who the broadcaster proactively notifies.
type Intent struct {
	GroupID     id.GroupID     `json:"groupId"`
	PrincipalID id.PrincipalID `json:"principalId"`
	IsWaiting   bool           `json:"isWaiting"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}
