// Package verify abstracts biometric template matching as an external
// capability. The orchestrator depends only on the Verifier contract, never
// on a specific matching algorithm or device.
package verify

import (
	"context"
	"errors"

	id "grouplock/pkg/domain"
)

// ErrCaptureFailed indicates no usable template was produced (device fault,
// empty payload). It is not a mismatch: no signature record is created and
// the signer may retry.
var ErrCaptureFailed = errors.New("biometric capture failed")

// Result is the outcome of a matching attempt.
type Result struct {
	Match      bool
	Confidence float64
}

//go:generate mockgen -destination=../mocks/verifier.go -package=mocks grouplock/internal/verify Verifier

// Verifier validates a submitted biometric template against a principal's
// enrolled template(s).
//
// Implementations must treat "no template" as ErrCaptureFailed and genuine
// mismatches as Result{Match: false}; the orchestrator records only the
// latter as REJECTED.
type Verifier interface {
	Verify(ctx context.Context, principalID id.PrincipalID, template []byte) (Result, error)
}
