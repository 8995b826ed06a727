package transfer

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/clip-service/internal/domain"
	"github.com/spec-kit/clip-service/internal/gateway"
	apperrors "github.com/spec-kit/clip-service/pkg/util"
)

// Mode selects which gateway operation an authentication attempt uses.
type Mode string

const (
	ModeLogin    Mode = "login"
	ModeRegister Mode = "register"
)

// ErrAuthInProgress rejects an authentication attempt started while another
// one is still running. Callers surface it instead of queueing.
var ErrAuthInProgress = errors.New("transfer: authentication already in progress")

// IdentityManager is the slice of the privileged identity manager the
// coordinator depends on.
type IdentityManager interface {
	ActiveIdentity(ctx context.Context) (domain.Identity, error)
	Promote(ctx context.Context, identity domain.Identity, token string) error
}

// Result is the outcome of a completed authentication.
type Result struct {
	Session          *gateway.Session
	PriorIdentityID  string
	RetriedAsLogin   bool
	TransferWarning  bool
	MigratedProducts int64
}

// Coordinator drives the guest-to-permanent transition: it captures the
// outgoing identity, authenticates against the gateway, and promotes the
// issued permanent identity. Only one authentication runs at a time.
type Coordinator struct {
	gateway gateway.AuthGateway
	manager IdentityManager
	logger  *zap.Logger

	mu         sync.Mutex
	inProgress bool
}

// NewCoordinator wires the coordinator's dependencies.
func NewCoordinator(gw gateway.AuthGateway, manager IdentityManager, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{gateway: gw, manager: manager, logger: logger}
}

// Authenticate runs one login or registration end to end. A registration
// that hits an already-registered email is transparently retried as a login
// with the same credentials, so the caller sees one outcome either way.
// Ownership transfer failure does not fail the authentication; it surfaces
// as Result.TransferWarning.
func (c *Coordinator) Authenticate(ctx context.Context, mode Mode, email, password string) (*Result, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.end()

	// The outgoing identity must be captured before the gateway responds;
	// afterwards the stored identity may already be the permanent one.
	prior, err := c.manager.ActiveIdentity(ctx)
	if err != nil {
		return nil, err
	}
	priorID := ""
	if prior.IsGuest() {
		priorID = prior.ID
	}

	session, retried, err := c.authenticate(ctx, mode, email, password, priorID)
	if err != nil {
		// The stored identity was never touched; the guest and its
		// products remain exactly as they were.
		return nil, err
	}

	if err := c.manager.Promote(ctx, session.Identity, session.Token); err != nil {
		return nil, err
	}

	c.logger.Info("authentication complete",
		zap.String("mode", string(mode)),
		zap.String("identity_id", session.Identity.ID),
		zap.String("prior_identity_id", priorID),
		zap.Int64("migrated", session.Migrated),
		zap.Bool("retried_as_login", retried),
		zap.Bool("transfer_warning", session.TransferWarning))

	return &Result{
		Session:          session,
		PriorIdentityID:  priorID,
		RetriedAsLogin:   retried,
		TransferWarning:  session.TransferWarning,
		MigratedProducts: session.Migrated,
	}, nil
}

func (c *Coordinator) authenticate(ctx context.Context, mode Mode, email, password, priorID string) (*gateway.Session, bool, error) {
	switch mode {
	case ModeLogin:
		session, err := c.gateway.Login(ctx, email, password, priorID)
		return session, false, err
	case ModeRegister:
		session, err := c.gateway.Register(ctx, email, password, priorID)
		if err == nil {
			return session, false, nil
		}
		if !apperrors.IsCode(err, "CONFLICT") {
			return nil, false, err
		}
		// The email already has an account. Retrying as a login keeps the
		// flow transparent for returning users who picked the wrong form.
		c.logger.Info("registration conflict; retrying as login", zap.String("email", email))
		session, loginErr := c.gateway.Login(ctx, email, password, priorID)
		if loginErr != nil {
			return nil, true, loginErr
		}
		return session, true, nil
	default:
		return nil, false, apperrors.NewValidationError("unknown authentication mode", map[string]any{"mode": string(mode)})
	}
}

func (c *Coordinator) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inProgress {
		return ErrAuthInProgress
	}
	c.inProgress = true
	return nil
}

func (c *Coordinator) end() {
	c.mu.Lock()
	c.inProgress = false
	c.mu.Unlock()
}
