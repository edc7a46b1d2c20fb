package domain

import "fmt"

// AuthType determines the quorum semantics of a group's authentication
// challenge. It is a domain primitive validated at parse time; construct via
// ParseAuthType at trust boundaries, direct casting bypasses validation.
type AuthType string

const (
	// AuthTypeA grants access unconditionally to any active member. Sessions
	// complete immediately with zero required signatures.
	AuthTypeA AuthType = "TYPE_A"

	// AuthTypeB requires a single signature from any authorized signer.
	AuthTypeB AuthType = "TYPE_B"

	// AuthTypeC requires a fixed, admin-configured number of distinct signers.
	AuthTypeC AuthType = "TYPE_C"

	// AuthTypeD requires an adjustable quorum. The group manager may change
	// quorumK at any time; the value is snapshotted into each session at
	// creation, so in-flight sessions are unaffected.
	AuthTypeD AuthType = "TYPE_D"
)

var validAuthTypes = map[AuthType]struct{}{
	AuthTypeA: {},
	AuthTypeB: {},
	AuthTypeC: {},
	AuthTypeD: {},
}

// shortAliases maps the bare letters used by the membership listing payloads
// ("groupAuthType": "A") onto the canonical constants.
var shortAliases = map[string]AuthType{
	"A": AuthTypeA,
	"B": AuthTypeB,
	"C": AuthTypeC,
	"D": AuthTypeD,
}

// ParseAuthType validates and returns an AuthType. Both the canonical form
// ("TYPE_B") and the short form ("B") are accepted.
func ParseAuthType(s string) (AuthType, error) {
	if t, ok := shortAliases[s]; ok {
		return t, nil
	}
	t := AuthType(s)
	if _, ok := validAuthTypes[t]; !ok {
		return "", fmt.Errorf("unknown auth type: %q", s)
	}
	return t, nil
}

// String returns the canonical representation.
func (t AuthType) String() string {
	return string(t)
}

// IsNil returns true if the auth type is empty.
func (t AuthType) IsNil() bool {
	return t == ""
}
