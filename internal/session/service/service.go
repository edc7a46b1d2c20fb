// Package service orchestrates the multi-party authentication protocol:
// session lifecycle, signature collection, quorum completion, and the
// side effects (broadcasts, audit, metrics) each transition produces.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"grouplock/internal/directory"
	"grouplock/internal/events"
	"grouplock/internal/platform/metrics"
	"grouplock/internal/session/models"
	"grouplock/internal/session/policy"
	"grouplock/internal/session/store"
	"grouplock/internal/verify"
	id "grouplock/pkg/domain"
	dErrors "grouplock/pkg/domain-errors"
	audit "grouplock/pkg/platform/audit"
	"grouplock/pkg/platform/sentinel"
	"grouplock/pkg/requestcontext"
)

// Clock abstracts time for tests.
type Clock func() time.Time

// Service coordinates sessions, signatures, and their side effects. All
// quorum decisions happen inside the store's atomic claim; the service
// supplies the policy and handles everything around it.
type Service struct {
	sessions    store.SessionStore
	intents     store.IntentStore
	directory   directory.Directory
	verifier    verify.Verifier
	broadcaster events.Broadcaster

	auditor    audit.Emitter
	metrics    *metrics.Metrics
	logger     *slog.Logger
	clock      Clock
	tracer     trace.Tracer
	sessionTTL time.Duration

	// invalidate drops the access gate's cached verdict for a group after a
	// terminal transition, so unlock state is immediately observable.
	invalidate func(id.GroupID)
}

// Option configures optional dependencies of the Service.
type Option func(*Service)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithSessionTTL overrides how long a new session stays open.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// WithAuditor wires the audit emitter.
func WithAuditor(auditor audit.Emitter) Option {
	return func(s *Service) { s.auditor = auditor }
}

// WithMetrics wires Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAccessInvalidator registers the access gate's cache invalidation hook,
// called synchronously on every terminal transition.
func WithAccessInvalidator(fn func(id.GroupID)) Option {
	return func(s *Service) { s.invalidate = fn }
}

// NewService constructs the orchestrator.
func NewService(
	sessions store.SessionStore,
	intents store.IntentStore,
	dir directory.Directory,
	verifier verify.Verifier,
	broadcaster events.Broadcaster,
	opts ...Option,
) *Service {
	s := &Service{
		sessions:    sessions,
		intents:     intents,
		directory:   dir,
		verifier:    verifier,
		broadcaster: broadcaster,
		logger:      slog.Default(),
		clock:       time.Now,
		tracer:      otel.Tracer("grouplock/session"),
		sessionTTL:  5 * time.Minute,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// CreateSession opens an authentication session for a group, or returns the
// group's existing ACTIVE session so concurrent initiators converge on one
// challenge. Type A groups need no signatures, so their sessions complete
// immediately.
func (s *Service) CreateSession(ctx context.Context, groupID id.GroupID, initiator id.PrincipalID) (*models.Session, error) {
	ctx, span := s.tracer.Start(ctx, "session.Create",
		trace.WithAttributes(attribute.String("group.id", groupID.String())))
	defer span.End()

	cfg, err := s.requireMember(ctx, groupID, initiator)
	if err != nil {
		return nil, err
	}

	now := s.clock()

	// Reuse the live session if there is one; expire it lazily if its
	// deadline already passed.
	if existing, err := s.sessions.FindActiveByGroup(ctx, groupID); err == nil {
		if !existing.Expired(now) {
			return existing, nil
		}
		s.expire(ctx, existing, now)
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find active session")
	}

	required, err := policy.RequiredSignatures(policy.GroupPolicy{
		AuthType:           cfg.AuthType,
		RequiredSignatures: cfg.RequiredSignatures,
		QuorumK:            cfg.QuorumK,
	})
	if err != nil {
		return nil, err
	}

	session := &models.Session{
		ID:                 id.SessionID(uuid.NewString()),
		GroupID:            groupID,
		Initiator:          initiator,
		AuthType:           cfg.AuthType,
		Status:             models.StatusActive,
		RequiredSignatures: required,
		ExpiresAt:          now.Add(s.sessionTTL),
		CreatedAt:          now,
		InitiatorDevice:    requestcontext.Device(ctx),
	}
	if policy.Satisfied(0, required) {
		session.Status = models.StatusCompleted
		completedAt := now
		session.CompletedAt = &completedAt
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Lost the race to another initiator; converge on the winner.
			if existing, ferr := s.sessions.FindActiveByGroup(ctx, groupID); ferr == nil {
				return existing, nil
			}
			return nil, dErrors.New(dErrors.CodeConflict, "group already has an active session")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create session")
	}

	if s.metrics != nil {
		s.metrics.SessionsCreated.WithLabelValues(string(cfg.AuthType)).Inc()
	}
	s.audit(ctx, audit.Event{
		Action:    audit.EventSessionCreated,
		GroupID:   groupID,
		SessionID: session.ID,
		Actor:     initiator,
		Device:    session.InitiatorDevice,
	})
	if session.Status == models.StatusCompleted {
		s.onCompleted(ctx, session)
	}
	s.broadcast(ctx, session)

	s.logger.InfoContext(ctx, "session created",
		"session_id", session.ID,
		"group_id", groupID,
		"auth_type", session.AuthType,
		"required_signatures", session.RequiredSignatures,
	)
	return session, nil
}

// SubmitResult is the outcome of a signature submission, shaped for the
// transport layer. SignedAt is zero when nothing was recorded (SKIPPED).
type SubmitResult struct {
	Session         *models.Session
	SignatureStatus models.SignatureOutcome
	SignedAt        time.Time
}

// terminalReply is the idempotent answer for a submission against a session
// that already reached a terminal state. No record is written; the session's
// final state travels back instead of an error.
func terminalReply(session *models.Session) *SubmitResult {
	return &SubmitResult{
		Session:         session,
		SignatureStatus: models.OutcomeSkipped,
	}
}

// GroupUnlocked reports whether this submission left the group unlocked.
func (r *SubmitResult) GroupUnlocked() bool {
	return r.Session.Status == models.StatusCompleted
}

// SubmitSignature verifies a signer's biometric template against their
// enrolled identity and, on a match, atomically claims a signature slot.
// Resubmission by an already-verified signer is idempotent. A mismatch is
// recorded as REJECTED and the signer may retry.
func (s *Service) SubmitSignature(ctx context.Context, sessionID id.SessionID, signer id.PrincipalID, template []byte) (*SubmitResult, error) {
	ctx, span := s.tracer.Start(ctx, "session.SubmitSignature",
		trace.WithAttributes(attribute.String("session.id", sessionID.String())))
	defer span.End()

	start := s.clock()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveSubmit(s.clock().Sub(start))
		}
	}()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load session")
	}
	if _, err := s.requireMember(ctx, session.GroupID, signer); err != nil {
		return nil, err
	}

	now := s.clock()
	if session.Status == models.StatusActive && session.Expired(now) {
		session = s.expire(ctx, session, now)
	}

	// A signer who already holds a VERIFIED record gets the same answer
	// again, whatever state the session has reached since.
	if done, err := s.alreadySigned(ctx, session, signer); err != nil {
		return nil, err
	} else if done != nil {
		return done, nil
	}

	if session.Status.IsTerminal() {
		// Terminal sessions accept no signatures; the reply carries the
		// final state so a late signer learns what the session became.
		return terminalReply(session), nil
	}

	result, err := s.verifier.Verify(ctx, signer, template)
	if err != nil {
		if errors.Is(err, verify.ErrCaptureFailed) {
			return nil, dErrors.New(dErrors.CodeBadRequest, "biometric capture failed")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "biometric verification unavailable")
	}

	if !result.Match {
		return s.reject(ctx, session, signer, now)
	}

	updated, err := s.sessions.ApplyVerified(ctx, sessionID, signer, result.Confidence, now, policy.Satisfied)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrAlreadySigned):
			if done, aerr := s.alreadySigned(ctx, session, signer); aerr == nil && done != nil {
				return done, nil
			}
			return nil, dErrors.New(dErrors.CodeConflict, "signature already recorded")
		case errors.Is(err, sentinel.ErrInvalidState):
			// Went terminal between our read and the claim; report the state
			// it reached.
			current, gerr := s.sessions.Get(ctx, sessionID)
			if gerr != nil {
				return nil, dErrors.Wrap(gerr, dErrors.CodeInternal, "load session")
			}
			return terminalReply(current), nil
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "record signature")
		}
	}

	if s.metrics != nil {
		s.metrics.SignaturesVerified.Inc()
	}
	s.audit(ctx, audit.Event{
		Action:    audit.EventSignatureVerified,
		GroupID:   updated.GroupID,
		SessionID: updated.ID,
		Actor:     signer,
		Device:    requestcontext.Device(ctx),
	})
	if updated.Status == models.StatusCompleted {
		s.onCompleted(ctx, updated)
	}
	s.broadcast(ctx, updated)

	s.logger.InfoContext(ctx, "signature verified",
		"session_id", updated.ID,
		"group_id", updated.GroupID,
		"verified_count", updated.VerifiedCount,
		"required_signatures", updated.RequiredSignatures,
		"status", updated.Status,
	)
	return &SubmitResult{
		Session:         updated,
		SignatureStatus: models.OutcomeVerified,
		SignedAt:        now,
	}, nil
}

// GetSession returns a session visible to any active member of its group.
func (s *Service) GetSession(ctx context.Context, sessionID id.SessionID, principal id.PrincipalID) (*models.Session, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load session")
	}
	if _, err := s.requireMember(ctx, session.GroupID, principal); err != nil {
		return nil, err
	}

	if session.Status == models.StatusActive && session.Expired(s.clock()) {
		session = s.expire(ctx, session, s.clock())
	}
	return session, nil
}

// CancelSession aborts an ACTIVE session. Only the initiator or the group
// manager may cancel. Cancelling a terminal session is a no-op.
func (s *Service) CancelSession(ctx context.Context, sessionID id.SessionID, actor id.PrincipalID) (*models.Session, error) {
	ctx, span := s.tracer.Start(ctx, "session.Cancel",
		trace.WithAttributes(attribute.String("session.id", sessionID.String())))
	defer span.End()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load session")
	}

	if actor != session.Initiator {
		manager, err := s.directory.IsManager(ctx, session.GroupID, actor)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "check manager")
		}
		if !manager {
			s.audit(ctx, audit.Event{
				Action:    audit.EventUnauthorizedCancel,
				GroupID:   session.GroupID,
				SessionID: session.ID,
				Actor:     actor,
				Subject:   session.Initiator,
			})
			return nil, dErrors.New(dErrors.CodeForbidden, "only the initiator or group manager may cancel a session")
		}
	}

	if session.Status.IsTerminal() {
		return session, nil
	}

	now := s.clock()
	cancelled, err := s.sessions.MarkCancelled(ctx, sessionID, now)
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			// Went terminal concurrently; report the state it reached.
			current, gerr := s.sessions.Get(ctx, sessionID)
			if gerr != nil {
				return nil, dErrors.Wrap(gerr, dErrors.CodeInternal, "cancel session")
			}
			return current, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "cancel session")
	}

	if s.metrics != nil {
		s.metrics.SessionsCancelled.Inc()
	}
	if s.invalidate != nil {
		s.invalidate(cancelled.GroupID)
	}
	s.audit(ctx, audit.Event{
		Action:    audit.EventSessionCancelled,
		GroupID:   cancelled.GroupID,
		SessionID: cancelled.ID,
		Actor:     actor,
		Subject:   cancelled.Initiator,
	})
	s.broadcast(ctx, cancelled)

	s.logger.InfoContext(ctx, "session cancelled",
		"session_id", cancelled.ID,
		"group_id", cancelled.GroupID,
		"actor", actor,
	)
	return cancelled, nil
}

// UpdateIntent records whether a member is standing by to sign for the group.
// Intents are advisory: they shape who gets prompted, never quorum math.
func (s *Service) UpdateIntent(ctx context.Context, groupID id.GroupID, principal id.PrincipalID, isWaiting bool) error {
	if _, err := s.requireMember(ctx, groupID, principal); err != nil {
		return err
	}

	intent := &models.Intent{
		GroupID:     groupID,
		PrincipalID: principal,
		IsWaiting:   isWaiting,
		UpdatedAt:   s.clock(),
	}
	if err := s.intents.UpsertIntent(ctx, intent); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "update intent")
	}

	s.audit(ctx, audit.Event{
		Action:  audit.EventIntentUpdated,
		GroupID: groupID,
		Actor:   principal,
	})

	// Refresh the waiting list on the live session's stream, if any.
	if session, err := s.sessions.FindActiveByGroup(ctx, groupID); err == nil {
		s.broadcast(ctx, session)
	}
	return nil
}

// SetQuorum updates a type-D group's quorum. Manager only; the new value
// applies to sessions created afterwards.
func (s *Service) SetQuorum(ctx context.Context, groupID id.GroupID, actor id.PrincipalID, quorumK int) error {
	if err := policy.ValidateQuorum(quorumK); err != nil {
		return err
	}

	manager, err := s.directory.IsManager(ctx, groupID, actor)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "group not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "check manager")
	}
	if !manager {
		return dErrors.New(dErrors.CodeForbidden, "only the group manager may change the quorum")
	}

	if err := s.directory.SetQuorum(ctx, groupID, quorumK); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return dErrors.New(dErrors.CodeNotFound, "group not found")
		case errors.Is(err, sentinel.ErrInvalidState):
			return dErrors.New(dErrors.CodeConflict, "quorum applies only to type D groups")
		default:
			return dErrors.Wrap(err, dErrors.CodeInternal, "set quorum")
		}
	}

	s.audit(ctx, audit.Event{
		Action:  audit.EventQuorumChanged,
		GroupID: groupID,
		Actor:   actor,
	})
	s.logger.InfoContext(ctx, "quorum updated", "group_id", groupID, "quorum", quorumK)
	return nil
}

// ListSignatures returns the signature trail of a session for group members.
func (s *Service) ListSignatures(ctx context.Context, sessionID id.SessionID, principal id.PrincipalID) ([]*models.Signature, error) {
	session, err := s.GetSession(ctx, sessionID, principal)
	if err != nil {
		return nil, err
	}
	sigs, err := s.sessions.ListSignatures(ctx, session.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list signatures")
	}
	return sigs, nil
}

// requireMember resolves the group config and checks active membership,
// translating store facts into domain errors.
func (s *Service) requireMember(ctx context.Context, groupID id.GroupID, principal id.PrincipalID) (*directory.GroupConfig, error) {
	cfg, err := s.directory.GroupAuthConfig(ctx, groupID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "group not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load group config")
	}

	member, err := s.directory.IsActiveMember(ctx, groupID, principal)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "check membership")
	}
	if !member {
		s.audit(ctx, audit.Event{
			Action:  audit.EventNonMemberAttempt,
			GroupID: groupID,
			Actor:   principal,
		})
		return nil, dErrors.New(dErrors.CodeForbidden, "not an active member of the group")
	}
	return cfg, nil
}

// alreadySigned returns the idempotent reply for a signer who already holds a
// VERIFIED record, or nil if they don't.
func (s *Service) alreadySigned(ctx context.Context, session *models.Session, signer id.PrincipalID) (*SubmitResult, error) {
	signed, err := s.sessions.HasVerifiedSignature(ctx, session.ID, signer)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "check signature")
	}
	if !signed {
		return nil, nil
	}

	signedAt := session.CreatedAt
	if sigs, err := s.sessions.ListSignatures(ctx, session.ID); err == nil {
		for _, sig := range sigs {
			if sig.SignerID == signer && sig.Outcome == models.OutcomeVerified {
				signedAt = sig.VerifiedAt
				break
			}
		}
	}
	return &SubmitResult{
		Session:         session,
		SignatureStatus: models.OutcomeVerified,
		SignedAt:        signedAt,
	}, nil
}

func (s *Service) reject(ctx context.Context, session *models.Session, signer id.PrincipalID, now time.Time) (*SubmitResult, error) {
	if err := s.sessions.AppendRejected(ctx, session.ID, signer, now); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "record rejection")
	}
	if s.metrics != nil {
		s.metrics.SignaturesRejected.Inc()
	}
	s.audit(ctx, audit.Event{
		Action:    audit.EventSignatureRejected,
		GroupID:   session.GroupID,
		SessionID: session.ID,
		Actor:     signer,
		Reason:    "template mismatch",
		Device:    requestcontext.Device(ctx),
	})

	s.logger.WarnContext(ctx, "signature rejected",
		"session_id", session.ID,
		"group_id", session.GroupID,
		"signer", signer,
	)
	return &SubmitResult{
		Session:         session,
		SignatureStatus: models.OutcomeRejected,
		SignedAt:        now,
	}, nil
}

// expire performs the lazy ACTIVE -> EXPIRED transition, tolerating races
// with the background sweep.
func (s *Service) expire(ctx context.Context, session *models.Session, now time.Time) *models.Session {
	expired, err := s.sessions.MarkExpired(ctx, session.ID, now)
	if err != nil {
		// A sweep or another request got there first; use its result.
		if current, gerr := s.sessions.Get(ctx, session.ID); gerr == nil {
			return current
		}
		return session
	}

	if s.metrics != nil {
		s.metrics.SessionsExpired.Inc()
	}
	if s.invalidate != nil {
		s.invalidate(expired.GroupID)
	}
	s.audit(ctx, audit.Event{
		Action:    audit.EventSessionExpired,
		GroupID:   expired.GroupID,
		SessionID: expired.ID,
		Subject:   expired.Initiator,
	})
	s.broadcast(ctx, expired)
	return expired
}

func (s *Service) onCompleted(ctx context.Context, session *models.Session) {
	if s.metrics != nil {
		s.metrics.SessionsCompleted.Inc()
	}
	if s.invalidate != nil {
		s.invalidate(session.GroupID)
	}
	s.audit(ctx, audit.Event{
		Action:    audit.EventSessionCompleted,
		GroupID:   session.GroupID,
		SessionID: session.ID,
		Subject:   session.Initiator,
	})
	s.logger.InfoContext(ctx, "session completed",
		"session_id", session.ID,
		"group_id", session.GroupID,
		"verified_count", session.VerifiedCount,
	)
}

func (s *Service) broadcast(ctx context.Context, session *models.Session) {
	event := events.AuthStateEvent{
		SessionID:          session.ID,
		GroupID:            session.GroupID,
		Status:             session.Status,
		VerifiedCount:      session.VerifiedCount,
		RequiredSignatures: session.RequiredSignatures,
	}
	if waiting, err := s.intents.ListWaiting(ctx, session.GroupID); err == nil {
		for _, intent := range waiting {
			event.Waiting = append(event.Waiting, intent.PrincipalID)
		}
	}

	if err := s.broadcaster.PublishAuthState(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "auth-state broadcast failed",
			"session_id", session.ID,
			"group_id", session.GroupID,
			"error", err,
		)
	}
}

func (s *Service) audit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	event.Timestamp = s.clock()
	event.RequestID = requestcontext.RequestID(ctx)
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "action", event.Action, "error", err)
	}
}
