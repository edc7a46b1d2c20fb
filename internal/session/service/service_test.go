package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"grouplock/internal/directory"
	"grouplock/internal/events"
	"grouplock/internal/mocks"
	"grouplock/internal/session/models"
	"grouplock/internal/session/store"
	"grouplock/internal/verify"
	id "grouplock/pkg/domain"
	dErrors "grouplock/pkg/domain-errors"
	auditmem "grouplock/pkg/platform/audit/store/memory"
	"grouplock/pkg/platform/audit/publisher"
)

const sessionTTL = 5 * time.Minute

type ServiceSuite struct {
	suite.Suite

	store       *store.Memory
	dir         *directory.Memory
	verifier    *verify.Static
	bus         *events.MemoryBus
	auditStore  *auditmem.InMemoryStore
	auditor     *publisher.Publisher
	service     *Service
	now         time.Time
	mu          sync.Mutex
	invalidated []id.GroupID
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = store.NewMemory()
	s.dir = directory.NewMemory()
	s.verifier = verify.NewStatic()
	s.bus = events.NewMemoryBus()
	s.auditStore = auditmem.NewInMemoryStore()
	s.auditor = publisher.NewPublisher(s.auditStore)
	s.now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.invalidated = nil

	s.service = NewService(s.store, s.store, s.dir, s.verifier, s.bus,
		WithClock(func() time.Time { return s.now }),
		WithSessionTTL(sessionTTL),
		WithAuditor(s.auditor),
		WithAccessInvalidator(func(groupID id.GroupID) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.invalidated = append(s.invalidated, groupID)
		}),
	)
}

// addGroup registers a group whose manager is "manager" and whose members are
// the given principals, each enrolled with a template derived from their ID.
func (s *ServiceSuite) addGroup(authType id.AuthType, required, quorum int, members ...id.PrincipalID) id.GroupID {
	groupID := id.GroupID(uuid.NewString())
	s.dir.AddGroup(directory.GroupConfig{
		GroupID:            groupID,
		AuthType:           authType,
		RequiredSignatures: required,
		QuorumK:            quorum,
		ManagerID:          "manager",
	})
	for _, member := range members {
		s.dir.AddMember(groupID, member)
		s.verifier.Enroll(member, template(member))
	}
	return groupID
}

func template(p id.PrincipalID) []byte {
	return []byte("template-" + p.String())
}

func (s *ServiceSuite) TestCreate_TypeA_CompletesImmediately() {
	ctx := context.Background()
	groupID := s.addGroup(id.AuthTypeA, 0, 0, "p-1")

	session, err := s.service.CreateSession(ctx, groupID, "p-1")
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, session.Status)
	s.Equal(0, session.RequiredSignatures)
	s.Require().NotNil(session.CompletedAt)
	s.Contains(s.invalidated, groupID)
}

func (s *ServiceSuite) TestCreate_TypeB_Active() {
	ctx := context.Background()
	groupID := s.addGroup(id.AuthTypeB, 0, 0, "p-1", "p-2")

	session, err := s.service.CreateSession(ctx, groupID, "p-1")
	s.Require().NoError(err)
	s.Equal(models.StatusActive, session.Status)
	s.Equal(1, session.RequiredSignatures)
	s.Equal(0, session.VerifiedCount)
	s.Equal(s.now.Add(sessionTTL), session.ExpiresAt)
}

func (s *ServiceSuite) TestCreate_ReturnsExistingActiveSession() {
	ctx := context.Background()
	groupID := s.addGroup(id.AuthTypeC, 2, 0, "p-1", "p-2")

	first, err := s.service.CreateSession(ctx, groupID, "p-1")
	s.Require().NoError(err)

	second, err := s.service.CreateSession(ctx, groupID, "p-2")
	s.Require().NoError(err)
	s.Equal(first.ID, second.ID, "concurrent initiators converge on one session")
}

func (s *ServiceSuite) TestCreate_NonMemberForbidden() {
	ctx := context.Background()
	groupID := s.addGroup(id.AuthTypeB, 0, 0, "p-1")

	_, err := s.service.CreateSession(ctx, groupID, "outsider")
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestCreate_UnknownGroupNotFound() {
	_, err := s.service.CreateSession(context.Background(), "no-such-group", "p-1")
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestSubmit_TypeB_SingleSignatureUnlocks() {
	ctx := context.Background()
	groupID := s.addGroup(id.AuthTypeB, 0, 0, "p-1", "p-2")

	session, err := s.service.CreateSession(ctx, groupID, "p-1")
	s.Require().NoError(err)

	stream := s.subscribe(groupID)

	result, err := s.service.SubmitSignature(ctx, session.ID, "p-2", template("p-2"))
	s.Require().NoError(err)
	s.Equal(models.OutcomeVerified, result.SignatureStatus)
	s.Equal(models.StatusCompleted, result.Session.Status)
	s.True(result.GroupUnlocked())
	s.Equal(1, result.Session.VerifiedCount)
	s.Contains(s.invalidated, groupID)

	event := s.nextEvent(stream)
	s.Equal(models.StatusCompleted, event.Status)
	s.Equal(1, event.VerifiedCount)
}

func (s *ServiceSuite) TestSubmit_TypeC_ProgressesThenCompletes() {
	ctx := context.Background()
	groupID := s.addGroup(id.AuthTypeC, 2, 0, "p-1", "p-2", "p-3")

	session, err := s.service.CreateSession(ctx, groupID, "p-1")
	s.Require().NoError(err)

	first, err := s.service.SubmitSignature(ctx, session.ID, "p-1", template("p-1"))
	s.Require().NoError(err)
	s.Equal(models.StatusActive, first.Session.Status)
	s.Equal(1, first.Session.VerifiedCount)
	s.False(first.GroupUnlocked())

	second, err := s.service.SubmitSignature(ctx, session.ID, "p-2", template("p-2"))
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, second.Session.Status)
	s.Equal(2, second.Session.VerifiedCount)
	s.True(second.GroupUnlocked())
}

func (s *ServiceSuite) TestSubmit_DuplicateSignerIdempotent() {
	ctx := context.Background()
	groupID := s.addGroup(id.AuthTypeC, 2, 0, "p-1", "p-2")

	session, err := s.service.CreateSession(ctx, groupID, "p-1")
	s.Require().NoError(err)

	first, err := s.service.SubmitSignature(ctx, session.ID, "p-1", template("p-1"))
	s.Require().NoError(err)
	s.Equal(1, first.Session.VerifiedCount)

	// Resubmission changes nothing and reports the original signature.
	again, err := s.service.SubmitSignature(ctx, session.ID, "p-1", template("p-1"))
	s.Require().NoError(err)
	s.Equal(models.OutcomeVerified, again.SignatureStatus)
	s.Equal(1, again.Session.VerifiedCount)
	s.Equal(first.SignedAt, again.SignedAt)
}

func (s *ServiceSuite) TestSubmit_DuplicateAfterCompletionStillIdempotent() {
	ctx := context.Background()
	groupID := s.addGroup(id.AuthTypeB, 0, 0, "p-1", "p-2")

	session, err := s.service.CreateSession(ctx, groupID, "p-1")
	s.Require().NoError(err)

	_, err = s.service.SubmitSignature(ctx, session.ID, "p-2", template("p-2"))
	s.Require().NoError(err)

	again, err := s.service.SubmitSignature(ctx, session.ID, "p-2", template("p-2"))
	s.Require().NoError(err)
	s.Equal(models.OutcomeVerified, again.SignatureStatus)
	s.Equal(models.StatusCompleted, again.Session.Status)
}

func (s *ServiceSuite) TestSubmit_MismatchRejectedAndRetryable() {
	ctx := context.Background()
	groupID := s.addGroup(id.AuthTypeB, 0, 0, "p-1", "p-2")

	session, err := s.service.CreateSession(ctx, groupID, "p-1")
	s.Require().NoError(err)

	rejected, err := s.service.SubmitSignature(ctx, session.ID, "p-2", []byte("wrong-template"))
	s.Require().NoError(err)
	s.Equal(models.OutcomeRejected, rejected.SignatureStatus)
	s.Equal(models.StatusActive, rejected.Session.Status)
	s.Equal(0, rejected.Session.VerifiedCount)

	// The mismatch is recorded but does not block a retry.
	retry, err := s.service.SubmitSignature(ctx, session.ID, "p-2", template("p-2"))
	s.Require().NoError(err)
	s.Equal(models.OutcomeVerified, retry.SignatureStatus)
	s.Equal(models.StatusCompleted, retry.Session.Status)

	sigs, err := s.store.ListSignatures(ctx, session.ID)
	s.Require().NoError(err)
	s.Len(sigs, 2)
}

func (s *ServiceSuite) TestSubmit_EmptyTemplateBadRequest() {
	ctx := context.Background()
	groupID := s.addGroup(id.AuthTypeB, 0, 0, "p-1")

	session, err := s.service.CreateSession(ctx, groupID, "p-1")
	s.Require().NoError(err)

	_, err = s.service.SubmitSignature(ctx, session.ID, "p-1", nil)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeBadRequest))

	// No record: capture failures are not attempts.
	sigs, err := s.store.ListSignatures(ctx, session.ID)
	s.Require().NoError(err)
	s.Empty(sigs)
}

func (s *ServiceSuite) TestSubmit_VerifierUnavailable() {
	ctx := context.Background()
	ctrl := gomock.NewController(s.T())
	verifier := mocks.NewMockVerifier(ctrl)
	verifier.EXPECT().
		Verify(gomock.Any(), id.PrincipalID("p-1"), gomock.Any()).
		Return(verify.Result{}, errors.New("matcher timeout"))

	svc := NewService(s.store, s.store, s.dir, verifier, s.bus,
		WithClock(func() time.Time { return s.now }),
	)

	groupID := s.addGroup(id.AuthTypeB, 0, 0, "p-1")
	session, err := svc.CreateSession(ctx, groupID, "p-1")
	s.Require().NoError(err)

	_, err = svc.SubmitSignature(ctx, session.ID, "p-1", template("p-1"))
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeUnavailable))
}

func (s *ServiceSuite) TestSubmit_ExpiredSessionReportsFinalState() {
	ctx := context.Background()
	groupID := s.addGroup(id.AuthTypeB, 0, 0, "p-1", "p-2")

	session, err := s.service.CreateSession(ctx, groupID, "p-1")
	s.Require().NoError(err)

	s.now = s.now.Add(sessionTTL + time.Second)

	// The overdue session expires lazily; the reply says so instead of
	// failing, and nothing is recorded.
	result, err := s.service.SubmitSignature(ctx, session.ID, "p-2", template("p-2"))
	s.Require().NoError(err)
	s.Equal(models.OutcomeSkipped, result.SignatureStatus)
	s.Equal(models.StatusExpired, result.Session.Status)
	s.False(result.GroupUnlocked())
	s.True(result.SignedAt.IsZero())

	expired, err := s.store.Get(ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, expired.Status)

	sigs, err := s.store.ListSignatures(ctx, session.ID)
	s.Require().NoError(err)
	s.Empty(sigs)
}

func (s *ServiceSuite) TestSubmit_AfterCompletionReportsFinalState() {
	ctx := context.Background()
	groupID := s.addGroup(id.AuthTypeB, 0, 0, "p-1", "p-2", "p-3")

	session, err := s.service.CreateSession(ctx, groupID, "p-1")
	s.Require().NoError(err)
	_, err = s.service.SubmitSignature(ctx, session.ID, "p-2", template("p-2"))
	s.Require().NoError(err)

	// A member who never signed submits a valid template after completion:
	// no record is written, the reply carries the final state.
	late, err := s.service.SubmitSignature(ctx, session.ID, "p-3", template("p-3"))
	s.Require().NoError(err)
	s.Equal(models.OutcomeSkipped, late.SignatureStatus)
	s.Equal(models.StatusCompleted, late.Session.Status)
	s.True(late.GroupUnlocked())
	s.True(late.SignedAt.IsZero())

	sigs, err := s.store.ListSignatures(ctx, session.ID)
	s.Require().NoError(err)
	s.Len(sigs, 1)
}

func (s *ServiceSuite) TestSubmit_AfterCancellationReportsFinalState() {
	ctx := context.Background()
	groupID := s.addGroup(id.AuthTypeC, 2, 0, "p-1", "p-2")

	session, err := s.service.CreateSession(ctx, groupID, "p-1")
	s.Require().NoError(err)
	_, err = s.service.CancelSession(ctx, session.ID, "p-1")
	s.Require().NoError(err)

	result, err := s.service.SubmitSignature(ctx, session.ID, "p-2", template("p-2"))
	s.Require().NoError(err)
	s.Equal(models.OutcomeSkipped, result.SignatureStatus)
	s.Equal(models.StatusCancelled, result.Session.Status)
	s.False(result.GroupUnlocked())
}

func (s *ServiceSuite) TestSubmit_NonMemberForbidden() {
	ctx := context.Background()
	groupID := s.addGroup(id.AuthTypeB, 0, 0, "p-1")

	session, err := s.service.CreateSession(ctx, groupID, "p-1")
	s.Require().NoError(err)

	_, err = s.service.SubmitSignature(ctx, session.ID, "outsider", []byte("anything"))
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestSubmit_UnknownSessionNotFound() {
	_, err := s.service.SubmitSignature(context.Background(), "missing", "p-1", []byte("t"))
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeNotFound))
}

// Racing signers on a quorum of 3: exactly three claims succeed, exactly one
// of them observes the completing transition, and every late signer gets the
// final state back instead of an error.
func (s *ServiceSuite) TestSubmit_RacingSignersCompleteOnce() {
	ctx := context.Background()
	const signers = 12
	const quorum = 3

	members := make([]id.PrincipalID, signers)
	for i := range members {
		members[i] = id.PrincipalID(uuid.NewString())
	}
	groupID := s.addGroup(id.AuthTypeD, 0, quorum, members...)

	session, err := s.service.CreateSession(ctx, groupID, members[0])
	s.Require().NoError(err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	verified := 0
	skipped := 0
	completions := 0

	for _, member := range members {
		wg.Add(1)
		go func(signer id.PrincipalID) {
			defer wg.Done()
			result, err := s.service.SubmitSignature(ctx, session.ID, signer, template(signer))
			if !s.NoError(err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			switch result.SignatureStatus {
			case models.OutcomeVerified:
				verified++
				if result.Session.Status == models.StatusCompleted && result.Session.VerifiedCount == quorum {
					completions++
				}
			case models.OutcomeSkipped:
				skipped++
				s.Equal(models.StatusCompleted, result.Session.Status)
			}
		}(member)
	}
	wg.Wait()

	s.Equal(quorum, verified, "exactly quorum many claims succeed")
	s.Equal(signers-quorum, skipped, "late signers see the final state")
	s.Equal(1, completions, "exactly one submission completes the session")

	final, err := s.store.Get(ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, final.Status)
	s.Equal(quorum, final.VerifiedCount)
}

func (s *ServiceSuite) TestTypeD_QuorumSnapshotIsolation() {
	ctx := context.Background()
	groupID := s.addGroup(id.AuthTypeD, 0, 2, "p-1", "p-2", "p-3")

	session, err := s.service.CreateSession(ctx, groupID, "p-1")
	s.Require().NoError(err)
	s.Equal(2, session.RequiredSignatures)

	// Manager raises the quorum mid-flight; the open session keeps its
	// snapshot.
	s.Require().NoError(s.service.SetQuorum(ctx, groupID, "manager", 3))

	_, err = s.service.SubmitSignature(ctx, session.ID, "p-1", template("p-1"))
	s.Require().NoError(err)
	result, err := s.service.SubmitSignature(ctx, session.ID, "p-2", template("p-2"))
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, result.Session.Status)

	// The next session picks up the new quorum.
	next, err := s.service.CreateSession(ctx, groupID, "p-1")
	s.Require().NoError(err)
	s.Equal(3, next.RequiredSignatures)
}

func (s *ServiceSuite) TestSetQuorum_Validation() {
	ctx := context.Background()
	groupID := s.addGroup(id.AuthTypeD, 0, 2, "p-1")

	err := s.service.SetQuorum(ctx, groupID, "manager", 0)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeBadRequest))

	err = s.service.SetQuorum(ctx, groupID, "p-1", 2)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeForbidden))

	typeB := s.addGroup(id.AuthTypeB, 0, 0, "p-1")
	err = s.service.SetQuorum(ctx, typeB, "manager", 2)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestCancel_InitiatorAndManagerOnly() {
	ctx := context.Background()
	groupID := s.addGroup(id.AuthTypeC, 2, 0, "p-1", "p-2")

	session, err := s.service.CreateSession(ctx, groupID, "p-1")
	s.Require().NoError(err)

	_, err = s.service.CancelSession(ctx, session.ID, "p-2")
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeForbidden))

	cancelled, err := s.service.CancelSession(ctx, session.ID, "p-1")
	s.Require().NoError(err)
	s.Equal(models.StatusCancelled, cancelled.Status)
	s.Contains(s.invalidated, groupID)

	// Cancelling again is a no-op.
	again, err := s.service.CancelSession(ctx, session.ID, "p-1")
	s.Require().NoError(err)
	s.Equal(models.StatusCancelled, again.Status)
}

func (s *ServiceSuite) TestCancel_ByManager() {
	ctx := context.Background()
	groupID := s.addGroup(id.AuthTypeC, 2, 0, "p-1", "p-2")

	session, err := s.service.CreateSession(ctx, groupID, "p-1")
	s.Require().NoError(err)

	cancelled, err := s.service.CancelSession(ctx, session.ID, "manager")
	s.Require().NoError(err)
	s.Equal(models.StatusCancelled, cancelled.Status)
}

func (s *ServiceSuite) TestIntent_ShowsUpInBroadcasts() {
	ctx := context.Background()
	groupID := s.addGroup(id.AuthTypeC, 2, 0, "p-1", "p-2", "p-3")

	session, err := s.service.CreateSession(ctx, groupID, "p-1")
	s.Require().NoError(err)

	stream := s.subscribe(groupID)

	s.Require().NoError(s.service.UpdateIntent(ctx, groupID, "p-2", true))

	event := s.nextEvent(stream)
	s.Equal(session.ID, event.SessionID)
	s.Contains(event.Waiting, id.PrincipalID("p-2"))

	s.Require().NoError(s.service.UpdateIntent(ctx, groupID, "p-2", false))
	event = s.nextEvent(stream)
	s.NotContains(event.Waiting, id.PrincipalID("p-2"))
}

func (s *ServiceSuite) TestIntent_NonMemberForbidden() {
	groupID := s.addGroup(id.AuthTypeC, 2, 0, "p-1")

	err := s.service.UpdateIntent(context.Background(), groupID, "outsider", true)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestSweep_ExpiresOverdueSessions() {
	ctx := context.Background()
	groupID := s.addGroup(id.AuthTypeC, 2, 0, "p-1")

	session, err := s.service.CreateSession(ctx, groupID, "p-1")
	s.Require().NoError(err)

	stream := s.subscribe(groupID)
	s.now = s.now.Add(sessionTTL + time.Second)

	s.service.sweepOnce(ctx)

	expired, err := s.store.Get(ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, expired.Status)

	event := s.nextEvent(stream)
	s.Equal(models.StatusExpired, event.Status)

	// A second sweep finds nothing to do.
	s.service.sweepOnce(ctx)
}

func (s *ServiceSuite) TestAudit_TrailForCompletedSession() {
	ctx := context.Background()
	groupID := s.addGroup(id.AuthTypeB, 0, 0, "p-1", "p-2")

	session, err := s.service.CreateSession(ctx, groupID, "p-1")
	s.Require().NoError(err)
	_, err = s.service.SubmitSignature(ctx, session.ID, "p-2", template("p-2"))
	s.Require().NoError(err)

	trail, err := s.auditStore.ListByGroup(ctx, groupID)
	s.Require().NoError(err)

	actions := make([]string, 0, len(trail))
	for _, event := range trail {
		actions = append(actions, string(event.Action))
	}
	s.Contains(actions, "session_created")
	s.Contains(actions, "signature_verified")
	s.Contains(actions, "session_completed")
}

func (s *ServiceSuite) subscribe(groupID id.GroupID) <-chan []byte {
	ch, cancel := s.bus.Subscribe(events.AuthStateTopic(groupID))
	s.T().Cleanup(cancel)
	return ch
}

func (s *ServiceSuite) nextEvent(ch <-chan []byte) events.AuthStateEvent {
	select {
	case payload := <-ch:
		var event events.AuthStateEvent
		s.Require().NoError(json.Unmarshal(payload, &event))
		return event
	case <-time.After(time.Second):
		s.FailNow("no broadcast received")
		return events.AuthStateEvent{}
	}
}
