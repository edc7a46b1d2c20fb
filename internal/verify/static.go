package verify

import (
	"context"
	"crypto/sha256"
	"sync"

	id "grouplock/pkg/domain"
)

// Static is a deterministic in-process verifier for tests and development.
// A submission matches iff its SHA-256 digest equals the digest of the
// principal's enrolled template. Raw templates are never retained.
type Static struct {
	mu       sync.RWMutex
	enrolled map[id.PrincipalID][32]byte
}

// NewStatic creates an empty static verifier.
func NewStatic() *Static {
	return &Static{enrolled: make(map[id.PrincipalID][32]byte)}
}

// Enroll registers a principal's reference template.
func (s *Static) Enroll(principalID id.PrincipalID, template []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enrolled[principalID] = sha256.Sum256(template)
}

func (s *Static) Verify(ctx context.Context, principalID id.PrincipalID, template []byte) (Result, error) {
	if len(template) == 0 {
		return Result{}, ErrCaptureFailed
	}

	s.mu.RLock()
	ref, ok := s.enrolled[principalID]
	s.mu.RUnlock()
	if !ok {
		return Result{Match: false}, nil
	}

	if sha256.Sum256(template) == ref {
		return Result{Match: true, Confidence: 1.0}, nil
	}
	return Result{Match: false}, nil
}
