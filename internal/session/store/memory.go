package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"grouplock/internal/session/models"
	id "grouplock/pkg/domain"
	"grouplock/pkg/platform/sentinel"
)

// Memory is the in-memory store used by tests and single-node development.
// A single mutex serializes the read-modify-write of session state, which is
// what makes ApplyVerified atomic here; the PostgreSQL implementation gets
// the same property from conditional UPDATEs.
type Memory struct {
	mu         sync.RWMutex
	sessions   map[id.SessionID]*models.Session
	byGroup    map[id.GroupID][]id.SessionID // creation order
	signatures map[id.SessionID][]*models.Signature
	intents    map[id.GroupID]map[id.PrincipalID]*models.Intent
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions:   make(map[id.SessionID]*models.Session),
		byGroup:    make(map[id.GroupID][]id.SessionID),
		signatures: make(map[id.SessionID][]*models.Signature),
		intents:    make(map[id.GroupID]map[id.PrincipalID]*models.Intent),
	}
}

func (m *Memory) Create(ctx context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sid := range m.byGroup[session.GroupID] {
		if existing := m.sessions[sid]; existing.Status == models.StatusActive {
			return sentinel.ErrConflict
		}
	}

	cp := *session
	m.sessions[session.ID] = &cp
	m.byGroup[session.GroupID] = append(m.byGroup[session.GroupID], session.ID)
	return nil
}

func (m *Memory) Get(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(sessionID)
}

func (m *Memory) getLocked(sessionID id.SessionID) (*models.Session, error) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) FindActiveByGroup(ctx context.Context, groupID id.GroupID) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sid := range m.byGroup[groupID] {
		if s := m.sessions[sid]; s.Status == models.StatusActive {
			cp := *s
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (m *Memory) LatestTerminalByGroup(ctx context.Context, groupID id.GroupID) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byGroup[groupID]
	for i := len(ids) - 1; i >= 0; i-- {
		if s := m.sessions[ids[i]]; s.Status.IsTerminal() {
			cp := *s
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (m *Memory) ApplyVerified(ctx context.Context, sessionID id.SessionID, signerID id.PrincipalID, confidence float64, now time.Time, satisfied SatisfiedFunc) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if s.Status != models.StatusActive {
		return nil, sentinel.ErrInvalidState
	}
	for _, sig := range m.signatures[sessionID] {
		if sig.SignerID == signerID && sig.Outcome == models.OutcomeVerified {
			return nil, sentinel.ErrAlreadySigned
		}
	}

	m.signatures[sessionID] = append(m.signatures[sessionID], &models.Signature{
		SessionID:  sessionID,
		SignerID:   signerID,
		Outcome:    models.OutcomeVerified,
		Confidence: confidence,
		VerifiedAt: now,
	})
	s.VerifiedCount++
	if satisfied(s.VerifiedCount, s.RequiredSignatures) {
		s.Status = models.StatusCompleted
		completedAt := now
		s.CompletedAt = &completedAt
	}

	cp := *s
	return &cp, nil
}

func (m *Memory) AppendRejected(ctx context.Context, sessionID id.SessionID, signerID id.PrincipalID, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return sentinel.ErrNotFound
	}
	m.signatures[sessionID] = append(m.signatures[sessionID], &models.Signature{
		SessionID:  sessionID,
		SignerID:   signerID,
		Outcome:    models.OutcomeRejected,
		VerifiedAt: now,
	})
	return nil
}

func (m *Memory) MarkExpired(ctx context.Context, sessionID id.SessionID, now time.Time) (*models.Session, error) {
	return m.transition(sessionID, models.StatusExpired)
}

func (m *Memory) MarkCancelled(ctx context.Context, sessionID id.SessionID, now time.Time) (*models.Session, error) {
	return m.transition(sessionID, models.StatusCancelled)
}

func (m *Memory) transition(sessionID id.SessionID, to models.Status) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if s.Status != models.StatusActive {
		return nil, sentinel.ErrInvalidState
	}
	s.Status = to
	cp := *s
	return &cp, nil
}

func (m *Memory) ListExpiredActive(ctx context.Context, now time.Time) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Session
	for _, s := range m.sessions {
		if s.Status == models.StatusActive && s.Expired(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListSignatures(ctx context.Context, sessionID id.SessionID) ([]*models.Signature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sigs := m.signatures[sessionID]
	out := make([]*models.Signature, 0, len(sigs))
	for _, sig := range sigs {
		cp := *sig
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) HasVerifiedSignature(ctx context.Context, sessionID id.SessionID, signerID id.PrincipalID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sig := range m.signatures[sessionID] {
		if sig.SignerID == signerID && sig.Outcome == models.OutcomeVerified {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) UpsertIntent(ctx context.Context, intent *models.Intent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	group, ok := m.intents[intent.GroupID]
	if !ok {
		group = make(map[id.PrincipalID]*models.Intent)
		m.intents[intent.GroupID] = group
	}
	cp := *intent
	group[intent.PrincipalID] = &cp
	return nil
}

func (m *Memory) ListWaiting(ctx context.Context, groupID id.GroupID) ([]*models.Intent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Intent
	for _, intent := range m.intents[groupID] {
		if intent.IsWaiting {
			cp := *intent
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PrincipalID < out[j].PrincipalID })
	return out, nil
}
