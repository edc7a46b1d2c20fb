package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grouplock/internal/session/models"
	"grouplock/internal/session/policy"
	id "grouplock/pkg/domain"
	"grouplock/pkg/platform/sentinel"
)

func newSession(groupID id.GroupID, required int) *models.Session {
	now := time.Now()
	return &models.Session{
		ID:                 id.SessionID(uuid.NewString()),
		GroupID:            groupID,
		Initiator:          "p-init",
		AuthType:           id.AuthTypeC,
		Status:             models.StatusActive,
		RequiredSignatures: required,
		ExpiresAt:          now.Add(5 * time.Minute),
		CreatedAt:          now,
	}
}

func TestMemory_CreateRejectsSecondActive(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	groupID := id.GroupID("g-1")

	require.NoError(t, m.Create(ctx, newSession(groupID, 2)))

	err := m.Create(ctx, newSession(groupID, 2))
	assert.ErrorIs(t, err, sentinel.ErrConflict)

	// Another group is unaffected.
	require.NoError(t, m.Create(ctx, newSession("g-2", 1)))
}

func TestMemory_CreateAllowedAfterTerminal(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	groupID := id.GroupID("g-1")

	first := newSession(groupID, 1)
	require.NoError(t, m.Create(ctx, first))
	_, err := m.MarkCancelled(ctx, first.ID, time.Now())
	require.NoError(t, err)

	require.NoError(t, m.Create(ctx, newSession(groupID, 1)))
}

func TestMemory_ApplyVerified(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	session := newSession("g-1", 2)
	require.NoError(t, m.Create(ctx, session))

	updated, err := m.ApplyVerified(ctx, session.ID, "p-1", 0.97, now, policy.Satisfied)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.VerifiedCount)
	assert.Equal(t, models.StatusActive, updated.Status)
	assert.Nil(t, updated.CompletedAt)

	// Same signer cannot claim a second slot.
	_, err = m.ApplyVerified(ctx, session.ID, "p-1", 0.99, now, policy.Satisfied)
	assert.ErrorIs(t, err, sentinel.ErrAlreadySigned)

	updated, err = m.ApplyVerified(ctx, session.ID, "p-2", 0.93, now, policy.Satisfied)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.VerifiedCount)
	assert.Equal(t, models.StatusCompleted, updated.Status)
	require.NotNil(t, updated.CompletedAt)
	assert.Equal(t, now, *updated.CompletedAt)

	// Terminal sessions accept nothing further.
	_, err = m.ApplyVerified(ctx, session.ID, "p-3", 0.95, now, policy.Satisfied)
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)
}

func TestMemory_ApplyVerified_UnknownSession(t *testing.T) {
	m := NewMemory()
	_, err := m.ApplyVerified(context.Background(), "missing", "p-1", 1, time.Now(), policy.Satisfied)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

// Racing signers must produce exactly the required number of VERIFIED
// records and exactly one COMPLETED transition, regardless of interleaving.
func TestMemory_ApplyVerified_RacingSigners(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	const signers = 32
	const required = 5

	session := newSession("g-race", required)
	require.NoError(t, m.Create(ctx, session))

	var wg sync.WaitGroup
	var mu sync.Mutex
	completions := 0

	for range signers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			signer := id.PrincipalID(uuid.NewString())
			updated, err := m.ApplyVerified(ctx, session.ID, signer, 0.9, now, policy.Satisfied)
			if err != nil {
				assert.ErrorIs(t, err, sentinel.ErrInvalidState)
				return
			}
			if updated.Status == models.StatusCompleted && updated.VerifiedCount == required {
				mu.Lock()
				completions++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, completions, "exactly one signer observes the completing transition")

	final, err := m.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, final.Status)
	assert.Equal(t, required, final.VerifiedCount)

	sigs, err := m.ListSignatures(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, sigs, required)
}

func TestMemory_Transitions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	session := newSession("g-1", 1)
	require.NoError(t, m.Create(ctx, session))

	expired, err := m.MarkExpired(ctx, session.ID, now)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, expired.Status)

	// Already terminal: both transitions refuse.
	_, err = m.MarkExpired(ctx, session.ID, now)
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)
	_, err = m.MarkCancelled(ctx, session.ID, now)
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)

	_, err = m.MarkExpired(ctx, "missing", now)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestMemory_LatestTerminalByGroup(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	groupID := id.GroupID("g-1")
	now := time.Now()

	_, err := m.LatestTerminalByGroup(ctx, groupID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	first := newSession(groupID, 1)
	require.NoError(t, m.Create(ctx, first))
	_, err = m.ApplyVerified(ctx, first.ID, "p-1", 1, now, policy.Satisfied)
	require.NoError(t, err)

	latest, err := m.LatestTerminalByGroup(ctx, groupID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID)
	assert.Equal(t, models.StatusCompleted, latest.Status)

	// A newer cancelled session supersedes the completed one.
	second := newSession(groupID, 1)
	require.NoError(t, m.Create(ctx, second))
	_, err = m.MarkCancelled(ctx, second.ID, now)
	require.NoError(t, err)

	latest, err = m.LatestTerminalByGroup(ctx, groupID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, models.StatusCancelled, latest.Status)
}

func TestMemory_ListExpiredActive(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	overdue := newSession("g-1", 1)
	overdue.ExpiresAt = now.Add(-time.Minute)
	require.NoError(t, m.Create(ctx, overdue))

	fresh := newSession("g-2", 1)
	require.NoError(t, m.Create(ctx, fresh))

	due, err := m.ListExpiredActive(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, overdue.ID, due[0].ID)
}

func TestMemory_RejectedDoesNotBlockRetry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	session := newSession("g-1", 1)
	require.NoError(t, m.Create(ctx, session))

	require.NoError(t, m.AppendRejected(ctx, session.ID, "p-1", now))
	require.NoError(t, m.AppendRejected(ctx, session.ID, "p-1", now))

	signed, err := m.HasVerifiedSignature(ctx, session.ID, "p-1")
	require.NoError(t, err)
	assert.False(t, signed)

	// The retry can still claim the slot.
	updated, err := m.ApplyVerified(ctx, session.ID, "p-1", 0.9, now, policy.Satisfied)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, updated.Status)

	sigs, err := m.ListSignatures(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, sigs, 3)
}

func TestMemory_Intents(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	groupID := id.GroupID("g-1")
	now := time.Now()

	require.NoError(t, m.UpsertIntent(ctx, &models.Intent{GroupID: groupID, PrincipalID: "p-1", IsWaiting: true, UpdatedAt: now}))
	require.NoError(t, m.UpsertIntent(ctx, &models.Intent{GroupID: groupID, PrincipalID: "p-2", IsWaiting: true, UpdatedAt: now}))

	waiting, err := m.ListWaiting(ctx, groupID)
	require.NoError(t, err)
	require.Len(t, waiting, 2)

	// Last write wins: p-1 steps back.
	require.NoError(t, m.UpsertIntent(ctx, &models.Intent{GroupID: groupID, PrincipalID: "p-1", IsWaiting: false, UpdatedAt: now}))

	waiting, err = m.ListWaiting(ctx, groupID)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, id.PrincipalID("p-2"), waiting[0].PrincipalID)
}
