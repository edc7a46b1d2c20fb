package domain

// Typed identifiers for the core entities. Handlers and stores pass these
// instead of raw strings so a group ID can never be handed to a function
// expecting a principal.
//
// IDs are opaque strings minted by the platform's identity service (principals,
// groups) or by this service (sessions, via uuid).

// GroupID identifies a group whose documents are gated by authentication
// sessions.
type GroupID string

// PrincipalID identifies a platform user (member, signer, or group manager).
type PrincipalID string

// SessionID identifies an authentication session.
type SessionID string

func (id GroupID) String() string     { return string(id) }
func (id PrincipalID) String() string { return string(id) }
func (id SessionID) String() string   { return string(id) }

func (id GroupID) IsNil() bool     { return id == "" }
func (id PrincipalID) IsNil() bool { return id == "" }
func (id SessionID) IsNil() bool   { return id == "" }
