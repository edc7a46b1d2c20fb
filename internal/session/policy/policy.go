// Package policy is the quorum decision logic, kept pure and isolated from
// the orchestrator so quorum semantics can evolve (distinct roles, weighted
// voting) without touching session plumbing.
package policy

import (
	dErrors "grouplock/pkg/domain-errors"

	id "grouplock/pkg/domain"
)

// GroupPolicy is the quorum configuration of a group at a point in time, as
// served by the directory. RequiredSignatures applies to type C; QuorumK to
// type D.
type GroupPolicy struct {
	AuthType           id.AuthType
	RequiredSignatures int
	QuorumK            int
}

// RequiredSignatures resolves how many distinct verified signatures a new
// session needs. The result is snapshotted into the session at creation;
// later changes to a type-D quorum never affect in-flight sessions.
func RequiredSignatures(p GroupPolicy) (int, error) {
	switch p.AuthType {
	case id.AuthTypeA:
		return 0, nil
	case id.AuthTypeB:
		return 1, nil
	case id.AuthTypeC:
		if p.RequiredSignatures < 1 {
			return 0, dErrors.New(dErrors.CodeInternal, "group auth config missing required signatures")
		}
		return p.RequiredSignatures, nil
	case id.AuthTypeD:
		if p.QuorumK < 1 {
			return 0, dErrors.New(dErrors.CodeInternal, "group auth config missing quorum")
		}
		return p.QuorumK, nil
	default:
		return 0, dErrors.New(dErrors.CodeInternal, "unknown auth type")
	}
}

// Satisfied reports whether a session's collected signatures meet its
// snapshotted quorum.
func Satisfied(verifiedCount, requiredSignatures int) bool {
	return verifiedCount >= requiredSignatures
}

// ValidateQuorum checks a manager-supplied quorum value for a type-D group.
// Rejecting k < 1 is a validation error, not a protocol error.
func ValidateQuorum(k int) error {
	if k < 1 {
		return dErrors.New(dErrors.CodeBadRequest, "quorum must be at least 1")
	}
	return nil
}
