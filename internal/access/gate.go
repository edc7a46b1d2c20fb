// Package access decides whether a principal may open a group's documents
// right now. The verdict combines live membership with the group's unlock
// state; unlock state is cached per group because every document operation
// asks for it.
package access

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"grouplock/internal/directory"
	"grouplock/internal/platform/metrics"
	"grouplock/internal/session/models"
	"grouplock/internal/session/store"
	id "grouplock/pkg/domain"
	dErrors "grouplock/pkg/domain-errors"
	audit "grouplock/pkg/platform/audit"
	"grouplock/pkg/platform/sentinel"
	"grouplock/pkg/requestcontext"
)

// Clock abstracts time for tests.
type Clock func() time.Time

type cacheEntry struct {
	unlocked  bool
	expiresAt time.Time
}

// Gate answers access checks. Membership is always checked live so a removed
// member loses access immediately; the unlock verdict is cached with a short
// TTL and invalidated synchronously on terminal session transitions.
type Gate struct {
	directory directory.Directory
	sessions  store.SessionStore

	auditor audit.Emitter
	metrics *metrics.Metrics
	logger  *slog.Logger
	clock   Clock
	ttl     time.Duration

	mu    sync.RWMutex
	cache map[id.GroupID]cacheEntry
	// gens counts invalidations per group. A recomputed verdict is cached
	// only if the generation observed before the recompute still holds, so
	// an Invalidate racing the recompute is never masked by a stale entry.
	gens  map[id.GroupID]uint64
	group singleflight.Group
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(g *Gate) { g.clock = clock }
}

// WithTTL overrides how long an unlock verdict is cached.
func WithTTL(ttl time.Duration) Option {
	return func(g *Gate) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithMetrics wires Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithAuditor wires the audit emitter; every completed check is recorded as
// an operations event.
func WithAuditor(auditor audit.Emitter) Option {
	return func(g *Gate) { g.auditor = auditor }
}

// NewGate constructs an access gate.
func NewGate(dir directory.Directory, sessions store.SessionStore, opts ...Option) *Gate {
	g := &Gate{
		directory: dir,
		sessions:  sessions,
		logger:    slog.Default(),
		clock:     time.Now,
		ttl:       30 * time.Second,
		cache:     make(map[id.GroupID]cacheEntry),
		gens:      make(map[id.GroupID]uint64),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Check reports whether the principal may access the group's documents:
// they must be an active member and the group must be unlocked.
func (g *Gate) Check(ctx context.Context, groupID id.GroupID, principal id.PrincipalID) (bool, error) {
	member, err := g.directory.IsActiveMember(ctx, groupID, principal)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, dErrors.New(dErrors.CodeNotFound, "group not found")
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "check membership")
	}
	if !member {
		g.audit(ctx, groupID, principal, false)
		return false, nil
	}

	unlocked, err := g.unlocked(ctx, groupID)
	if err != nil {
		return false, err
	}
	g.audit(ctx, groupID, principal, unlocked)
	return unlocked, nil
}

// Invalidate drops the cached verdict for a group. Called synchronously by
// the orchestrator on every terminal session transition, so a completed
// quorum is observable on the very next check.
func (g *Gate) Invalidate(groupID id.GroupID) {
	g.mu.Lock()
	delete(g.cache, groupID)
	g.gens[groupID]++
	g.mu.Unlock()
}

func (g *Gate) unlocked(ctx context.Context, groupID id.GroupID) (bool, error) {
	now := g.clock()

	g.mu.RLock()
	entry, ok := g.cache[groupID]
	g.mu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		g.observe("hit")
		return entry.unlocked, nil
	}
	g.observe("miss")

	// Collapse concurrent recomputation for the same group.
	v, err, _ := g.group.Do(groupID.String(), func() (any, error) {
		g.mu.RLock()
		gen := g.gens[groupID]
		g.mu.RUnlock()

		unlocked, err := g.compute(ctx, groupID)
		if err != nil {
			return false, err
		}

		// An Invalidate during the recompute means the verdict may predate
		// a terminal transition; serve it once but do not cache it.
		g.mu.Lock()
		if g.gens[groupID] == gen {
			g.cache[groupID] = cacheEntry{unlocked: unlocked, expiresAt: g.clock().Add(g.ttl)}
		}
		g.mu.Unlock()
		return unlocked, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// compute derives the unlock state from the latest terminal session. Type A
// groups are always unlocked. For the rest, the newest terminal session
// decides: COMPLETED unlocks, anything else (or no session yet) leaves the
// group locked.
func (g *Gate) compute(ctx context.Context, groupID id.GroupID) (bool, error) {
	cfg, err := g.directory.GroupAuthConfig(ctx, groupID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, dErrors.New(dErrors.CodeNotFound, "group not found")
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "load group config")
	}
	if cfg.AuthType == id.AuthTypeA {
		return true, nil
	}

	latest, err := g.sessions.LatestTerminalByGroup(ctx, groupID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "load latest session")
	}
	return latest.Status == models.StatusCompleted, nil
}

func (g *Gate) observe(outcome string) {
	if g.metrics != nil {
		g.metrics.AccessChecks.WithLabelValues(outcome).Inc()
	}
}

func (g *Gate) audit(ctx context.Context, groupID id.GroupID, principal id.PrincipalID, allowed bool) {
	if g.auditor == nil {
		return
	}
	reason := "denied"
	if allowed {
		reason = "granted"
	}
	event := audit.Event{
		Action:    audit.EventAccessChecked,
		Timestamp: g.clock(),
		GroupID:   groupID,
		Actor:     principal,
		Reason:    reason,
		RequestID: requestcontext.RequestID(ctx),
	}
	if err := g.auditor.Emit(ctx, event); err != nil {
		g.logger.WarnContext(ctx, "audit emit failed", "action", event.Action, "error", err)
	}
}
