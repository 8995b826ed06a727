package dto

import "time"

// RegisterRequest payload for new accounts. PriorIdentityID carries the
// guest identity whose products should be migrated.
type RegisterRequest struct {
	Email           string  `json:"email"`
	Password        string  `json:"password"`
	PriorIdentityID *string `json:"prior_identity_id,omitempty"`
}

// LoginRequest payload for login.
type LoginRequest struct {
	Email           string  `json:"email"`
	Password        string  `json:"password"`
	PriorIdentityID *string `json:"prior_identity_id,omitempty"`
}

// IdentityResponse is the wire form of an identity.
type IdentityResponse struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token           string           `json:"token"`
	ExpiresAt       time.Time        `json:"expires_at"`
	Identity        IdentityResponse `json:"identity"`
	Role            string           `json:"role"`
	Migrated        int64            `json:"migrated"`
	TransferWarning bool             `json:"transfer_warning,omitempty"`
}
