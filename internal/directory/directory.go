// Package directory is the port onto the platform's group/membership service.
// The auth core consumes it for exactly what the protocol needs: membership
// checks, the group's auth configuration, and type-D quorum updates. Group
// and membership CRUD live elsewhere.
package directory

import (
	"context"

	id "grouplock/pkg/domain"
)

// GroupConfig is a group's authentication configuration as served by the
// platform. RequiredSignatures applies to type C, QuorumK to type D.
type GroupConfig struct {
	GroupID            id.GroupID
	AuthType           id.AuthType
	RequiredSignatures int
	QuorumK            int
	ManagerID          id.PrincipalID
}

//go:generate mockgen -destination=../mocks/directory.go -package=mocks grouplock/internal/directory Directory

// Directory answers membership and configuration questions about groups.
// Implementations return sentinel.ErrNotFound for unknown groups.
type Directory interface {
	// IsActiveMember reports whether the principal is an ACTIVE member of
	// the group.
	IsActiveMember(ctx context.Context, groupID id.GroupID, principalID id.PrincipalID) (bool, error)

	// IsManager reports whether the principal is the group's manager.
	IsManager(ctx context.Context, groupID id.GroupID, principalID id.PrincipalID) (bool, error)

	// GroupAuthConfig returns the group's auth configuration.
	GroupAuthConfig(ctx context.Context, groupID id.GroupID) (*GroupConfig, error)

	// SetQuorum updates a type-D group's quorum. The new value applies to
	// sessions created after the update; in-flight sessions keep their
	// snapshot. Returns sentinel.ErrInvalidState for non-type-D groups.
	SetQuorum(ctx context.Context, groupID id.GroupID, quorumK int) error
}
