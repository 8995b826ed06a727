package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/spec-kit/clip-service/internal/bridge"
	"github.com/spec-kit/clip-service/internal/domain"
	apperrors "github.com/spec-kit/clip-service/pkg/util"
)

// CredentialsRequest is the bridge payload for login and register.
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResult is the bridge reply for a completed authentication.
type AuthResult struct {
	Identity        identityPayload `json:"identity"`
	Role            domain.Role     `json:"role"`
	Token           string          `json:"token"`
	ExpiresAt       time.Time       `json:"expires_at"`
	Migrated        int64           `json:"migrated"`
	RetriedAsLogin  bool            `json:"retried_as_login,omitempty"`
	TransferWarning bool            `json:"transfer_warning,omitempty"`
}

type identityPayload struct {
	ID   string              `json:"id"`
	Kind domain.IdentityKind `json:"kind"`
}

// RegisterHandlers installs the authentication message handlers on the host.
// They are blocking handlers: a slow gateway round trip must not stall the
// dispatch loop that answers identity resolutions.
func (c *Coordinator) RegisterHandlers(host *bridge.Host) {
	host.RegisterBlocking(bridge.MsgLogin, c.handleAuth(ModeLogin))
	host.RegisterBlocking(bridge.MsgRegister, c.handleAuth(ModeRegister))
}

func (c *Coordinator) handleAuth(mode Mode) bridge.Handler {
	return func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req CredentialsRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, apperrors.NewValidationError("invalid credentials payload", nil)
		}
		result, err := c.Authenticate(ctx, mode, req.Email, req.Password)
		if err != nil {
			if errors.Is(err, ErrAuthInProgress) {
				return nil, apperrors.NewConflict("another sign-in attempt is already running", nil)
			}
			return nil, err
		}
		session := result.Session
		return AuthResult{
			Identity:        identityPayload{ID: session.Identity.ID, Kind: session.Identity.Kind},
			Role:            session.Role,
			Token:           session.Token,
			ExpiresAt:       session.ExpiresAt,
			Migrated:        result.MigratedProducts,
			RetriedAsLogin:  result.RetriedAsLogin,
			TransferWarning: result.TransferWarning,
		}, nil
	}
}
