package events

import (
	"time"

	"github.com/spec-kit/clip-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventIdentityCreated     EventType = "identity_created"
	EventIdentityPromoted    EventType = "identity_promoted"
	EventIdentityRetired     EventType = "identity_retired"
	EventProductsTransferred EventType = "products_transferred"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID         string      `json:"id"`
	Type       EventType   `json:"type"`
	IdentityID string      `json:"identity_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Payload    interface{} `json:"payload"`
}

// IdentityCreatedPayload payload.
type IdentityCreatedPayload struct {
	Kind domain.IdentityKind `json:"kind"`
}

// IdentityPromotedPayload payload.
type IdentityPromotedPayload struct {
	PriorIdentityID string `json:"prior_identity_id,omitempty"`
	AccountID       string `json:"account_id"`
}

// IdentityRetiredPayload payload.
type IdentityRetiredPayload struct {
	SupersededBy string `json:"superseded_by"`
}

// ProductsTransferredPayload payload.
type ProductsTransferredPayload struct {
	FromIdentityID string `json:"from_identity_id"`
	ToIdentityID   string `json:"to_identity_id"`
	Count          int64  `json:"count"`
}
