package domain

import "time"

// IdentityKind differentiates anonymous identities from account-bound ones.
type IdentityKind string

const (
	IdentityKindGuest     IdentityKind = "GUEST"
	IdentityKindPermanent IdentityKind = "PERMANENT"
)

// Valid reports whether the kind is one of the known values.
func (k IdentityKind) Valid() bool {
	return k == IdentityKindGuest || k == IdentityKindPermanent
}

// Identity is the single token a user is known by across contexts.
// Guest identities are generated locally; permanent identities are issued
// by the server when an account is registered or logged into.
type Identity struct {
	ID        string
	Kind      IdentityKind
	CreatedAt time.Time
}

// IsGuest reports whether the identity is anonymous.
func (i Identity) IsGuest() bool {
	return i.Kind == IdentityKindGuest
}

// IdentityRecord is the server-side row for an issued identity.
// AccountID is set once the identity is bound to an account; RetiredAt is
// set when a guest identity has been superseded by a transfer.
type IdentityRecord struct {
	ID        string
	Kind      IdentityKind
	AccountID *string
	CreatedAt time.Time
	RetiredAt *time.Time
}
