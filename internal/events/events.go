// Package events fans out session-state changes to subscribed clients per
// group. Delivery is at-least-once, best-effort: clients treat events as
// hints to re-query the access gate, never as the source of truth.
package events

import (
	"context"
	"fmt"

	"grouplock/internal/session/models"
	id "grouplock/pkg/domain"
)

// AuthStateEvent is the auth-state payload published on every session
// progress or terminal transition. Field names are part of the client wire
// contract.
type AuthStateEvent struct {
	SessionID          id.SessionID  `json:"sessionId"`
	GroupID            id.GroupID    `json:"groupId"`
	Status             models.Status `json:"status"`
	VerifiedCount      int           `json:"verifiedCount"`
	RequiredSignatures int           `json:"requiredSignatures"`
	// Waiting lists principals with a standing auth intent for the group,
	// so clients can prompt likely signers. Advisory only.
	Waiting []id.PrincipalID `json:"waiting,omitempty"`
}

// AuthStateTopic is the per-group channel for session state updates.
func AuthStateTopic(groupID id.GroupID) string {
	return fmt.Sprintf("group/%s/auth-state", groupID)
}

// MembershipStatusTopic carries presence updates. Presence is computed by
// the platform, not here; the topic shares this transport.
func MembershipStatusTopic(groupID id.GroupID) string {
	return fmt.Sprintf("group/%s/membership-status", groupID)
}

// Broadcaster publishes group-scoped events.
type Broadcaster interface {
	// PublishAuthState publishes a session state update on the group's
	// auth-state topic.
	PublishAuthState(ctx context.Context, event AuthStateEvent) error

	// Publish sends a raw payload on an arbitrary group topic
	// (membership-status passthrough).
	Publish(ctx context.Context, topic string, payload []byte) error
}
