package domain

import "time"

// AccountStatus represents lifecycle states for a registered account.
type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "ACTIVE"
	AccountStatusSuspended AccountStatus = "SUSPENDED"
)

// Account is the domain model for registered users.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Status       AccountStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
