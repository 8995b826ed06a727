package domain

import "time"

// Role is derived from the identity token on the server. A client-supplied
// role field is never trusted.
type Role string

const (
	RoleGuest Role = "GUEST"
	RoleUser  Role = "USER"
)

// RoleForKind maps an identity kind to its role.
func RoleForKind(kind IdentityKind) Role {
	if kind == IdentityKindPermanent {
		return RoleUser
	}
	return RoleGuest
}

// Token represents issued authentication token metadata.
type Token struct {
	ID         string
	IdentityID string
	Kind       IdentityKind
	ExpiresAt  time.Time
	IssuedAt   time.Time
}
