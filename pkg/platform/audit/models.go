// Package audit records key domain actions for compliance and security
// review. Emission is asynchronous; domain code publishes to a channel and a
// worker persists events and forwards them to the Kafka sink.
package audit

import (
	"time"

	id "grouplock/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal/regulatory significance.
	// These require tamper-proof storage and long retention.
	// Examples: session lifecycle, quorum changes.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring and forensics.
	// These feed into SIEM systems and alerting pipelines.
	// Examples: rejected biometric matches, unauthorized cancel attempts.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers events useful for debugging and operational visibility.
	// These can be sampled or aggregated with shorter retention.
	// Examples: intent updates, routine access checks.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	Action    AuditEvent
	GroupID   id.GroupID
	SessionID id.SessionID
	// Actor is the principal who performed or attempted the action.
	Actor id.PrincipalID
	// Subject is the principal acted upon when different from Actor
	// (e.g. the initiator of a session cancelled by the manager).
	Subject id.PrincipalID
	Reason  string
	// Device is the human-readable client description captured at the edge.
	Device string
	// RequestID is the correlation ID from the HTTP request context.
	RequestID string
}

type AuditEvent string

const (
	// Session lifecycle events
	EventSessionCreated   AuditEvent = "session_created"
	EventSessionCompleted AuditEvent = "session_completed"
	EventSessionExpired   AuditEvent = "session_expired"
	EventSessionCancelled AuditEvent = "session_cancelled"

	// Signature events
	EventSignatureVerified AuditEvent = "signature_verified"
	EventSignatureRejected AuditEvent = "signature_rejected"

	// Policy events
	EventQuorumChanged AuditEvent = "quorum_changed"

	// Security events
	EventUnauthorizedCancel AuditEvent = "unauthorized_cancel"
	EventNonMemberAttempt   AuditEvent = "non_member_attempt"

	// Operational events
	EventIntentUpdated AuditEvent = "intent_updated"
	EventAccessChecked AuditEvent = "access_checked"
)

// eventCategories maps each audit event to its category.
// Compliance: legal/regulatory significance, long retention required.
// Security: security monitoring, SIEM integration, alerting.
// Operations: debugging, operational visibility, can be sampled.
var eventCategories = map[AuditEvent]EventCategory{
	EventSessionCreated:    CategoryCompliance,
	EventSessionCompleted:  CategoryCompliance,
	EventSessionExpired:    CategoryCompliance,
	EventSessionCancelled:  CategoryCompliance,
	EventSignatureVerified: CategoryCompliance,
	EventQuorumChanged:     CategoryCompliance,

	EventSignatureRejected:  CategorySecurity,
	EventUnauthorizedCancel: CategorySecurity,
	EventNonMemberAttempt:   CategorySecurity,

	EventIntentUpdated: CategoryOperations,
	EventAccessChecked: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
