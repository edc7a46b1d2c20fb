package directory

import (
	"context"
	"sync"

	id "grouplock/pkg/domain"
	"grouplock/pkg/platform/sentinel"
)

// Memory is an in-memory directory for tests and single-node development.
type Memory struct {
	mu      sync.RWMutex
	configs map[id.GroupID]*GroupConfig
	members map[id.GroupID]map[id.PrincipalID]bool // principal -> active
}

// NewMemory creates an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{
		configs: make(map[id.GroupID]*GroupConfig),
		members: make(map[id.GroupID]map[id.PrincipalID]bool),
	}
}

// AddGroup registers a group with its auth configuration. The manager is
// added as an active member.
func (m *Memory) AddGroup(cfg GroupConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := cfg
	m.configs[cfg.GroupID] = &cp
	if m.members[cfg.GroupID] == nil {
		m.members[cfg.GroupID] = make(map[id.PrincipalID]bool)
	}
	if !cfg.ManagerID.IsNil() {
		m.members[cfg.GroupID][cfg.ManagerID] = true
	}
}

// AddMember registers an active member of a group.
func (m *Memory) AddMember(groupID id.GroupID, principalID id.PrincipalID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.members[groupID] == nil {
		m.members[groupID] = make(map[id.PrincipalID]bool)
	}
	m.members[groupID][principalID] = true
}

// RemoveMember marks a member inactive.
func (m *Memory) RemoveMember(groupID id.GroupID, principalID id.PrincipalID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if members, ok := m.members[groupID]; ok {
		members[principalID] = false
	}
}

func (m *Memory) IsActiveMember(ctx context.Context, groupID id.GroupID, principalID id.PrincipalID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.configs[groupID]; !ok {
		return false, sentinel.ErrNotFound
	}
	return m.members[groupID][principalID], nil
}

func (m *Memory) IsManager(ctx context.Context, groupID id.GroupID, principalID id.PrincipalID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.configs[groupID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	return cfg.ManagerID == principalID, nil
}

func (m *Memory) GroupAuthConfig(ctx context.Context, groupID id.GroupID) (*GroupConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.configs[groupID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *cfg
	return &cp, nil
}

func (m *Memory) SetQuorum(ctx context.Context, groupID id.GroupID, quorumK int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.configs[groupID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if cfg.AuthType != id.AuthTypeD {
		return sentinel.ErrInvalidState
	}
	cfg.QuorumK = quorumK
	return nil
}
