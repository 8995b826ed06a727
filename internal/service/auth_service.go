package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/clip-service/internal/auth"
	"github.com/spec-kit/clip-service/internal/config"
	"github.com/spec-kit/clip-service/internal/domain"
	"github.com/spec-kit/clip-service/internal/events"
	"github.com/spec-kit/clip-service/internal/repository"
	apperrors "github.com/spec-kit/clip-service/pkg/util"
)

// TxBeginner starts database transactions. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AuthService coordinates guest issuance, registration, login and the
// server-side ownership transfer from a guest identity to a permanent one.
type AuthService struct {
	pool       TxBeginner
	accounts   repository.AccountRepository
	identities repository.IdentityRepository
	products   repository.ProductRepository
	tokenMgr   *auth.TokenManager
	dispatcher events.Dispatcher
	logger     *zap.Logger
	bcryptCost int
}

// AuthDependencies encapsulates repo requirements for auth service.
type AuthDependencies struct {
	Pool         TxBeginner
	AccountRepo  repository.AccountRepository
	IdentityRepo repository.IdentityRepository
	ProductRepo  repository.ProductRepository
	Dispatcher   events.Dispatcher
	Logger       *zap.Logger
}

// AuthResult is returned by register and login. Migrated reports how many
// products moved off the prior guest identity; TransferWarning is set when
// the permanent identity was issued but the migration did not complete.
type AuthResult struct {
	Identity        domain.Identity
	Role            domain.Role
	Token           string
	ExpiresAt       time.Time
	Migrated        int64
	TransferWarning bool
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		pool:       deps.Pool,
		accounts:   deps.AccountRepo,
		identities: deps.IdentityRepo,
		products:   deps.ProductRepo,
		tokenMgr:   auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes, cfg.Auth.GuestTokenTTLDays),
		dispatcher: deps.Dispatcher,
		logger:     logger,
		bcryptCost: cfg.Auth.BcryptCost,
	}
}

// CreateGuest issues a fresh anonymous identity and its token.
func (s *AuthService) CreateGuest(ctx context.Context) (*AuthResult, error) {
	record := &domain.IdentityRecord{
		ID:   uuid.NewString(),
		Kind: domain.IdentityKindGuest,
	}
	if err := s.identities.Create(ctx, record); err != nil {
		return nil, err
	}

	token, exp, err := s.tokenMgr.GenerateToken(record.ID, record.Kind)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.EventIdentityCreated, record.ID, events.IdentityCreatedPayload{Kind: record.Kind})

	return &AuthResult{
		Identity:  domain.Identity{ID: record.ID, Kind: record.Kind, CreatedAt: record.CreatedAt},
		Role:      domain.RoleGuest,
		Token:     token,
		ExpiresAt: exp,
	}, nil
}

// Register creates an account, issues its permanent identity and migrates
// the prior guest's products. A duplicate email yields CONFLICT so the
// client coordinator can retry as a login.
func (s *AuthService) Register(ctx context.Context, email, password string, priorIdentityID *string) (*AuthResult, error) {
	if !auth.ValidCredentials(email, password) {
		return nil, apperrors.NewValidationError("valid email and password of at least 6 characters required", nil)
	}

	if _, err := s.accounts.GetByEmail(ctx, email); err == nil {
		return nil, apperrors.NewConflict("email already registered", map[string]any{"email": email})
	} else if err != pgx.ErrNoRows {
		return nil, err
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	account := &domain.Account{
		Email:        email,
		PasswordHash: hash,
		Status:       domain.AccountStatusActive,
	}
	identity := &domain.IdentityRecord{
		ID:   uuid.NewString(),
		Kind: domain.IdentityKindPermanent,
	}

	// Account and permanent identity are created atomically; the product
	// migration runs afterwards so a migration failure cannot undo a
	// successfully issued identity.
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := s.accounts.WithTx(tx).Create(ctx, account); err != nil {
		// The duplicate check above is not atomic with the insert; a
		// concurrent registration for the same email loses here instead.
		if apperrors.IsUniqueViolation(err) {
			return nil, apperrors.NewConflict("email already registered", map[string]any{"email": email})
		}
		return nil, err
	}
	identity.AccountID = &account.ID
	if err := s.identities.WithTx(tx).Create(ctx, identity); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.publish(ctx, events.EventIdentityCreated, identity.ID, events.IdentityCreatedPayload{Kind: identity.Kind})

	return s.finishAuth(ctx, account, identity, priorIdentityID)
}

// Login authenticates an account and migrates the prior guest's products.
func (s *AuthService) Login(ctx context.Context, email, password string, priorIdentityID *string) (*AuthResult, error) {
	if !auth.ValidCredentials(email, password) {
		return nil, apperrors.NewValidationError("valid email and password of at least 6 characters required", nil)
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NewInvalidCredentials()
		}
		return nil, err
	}
	if account.Status != domain.AccountStatusActive {
		return nil, apperrors.NewForbidden("account suspended")
	}
	if err := auth.ComparePassword(account.PasswordHash, password); err != nil {
		return nil, apperrors.NewInvalidCredentials()
	}

	identity, err := s.identities.GetByAccountID(ctx, account.ID)
	if err != nil {
		if err != pgx.ErrNoRows {
			return nil, err
		}
		// Accounts created before identity tracking get one lazily.
		identity = &domain.IdentityRecord{
			ID:        uuid.NewString(),
			Kind:      domain.IdentityKindPermanent,
			AccountID: &account.ID,
		}
		if err := s.identities.Create(ctx, identity); err != nil {
			return nil, err
		}
	}

	return s.finishAuth(ctx, account, identity, priorIdentityID)
}

// finishAuth issues the token and runs the guest-to-permanent transfer.
func (s *AuthService) finishAuth(ctx context.Context, account *domain.Account, identity *domain.IdentityRecord, priorIdentityID *string) (*AuthResult, error) {
	token, exp, err := s.tokenMgr.GenerateToken(identity.ID, identity.Kind)
	if err != nil {
		return nil, err
	}

	result := &AuthResult{
		Identity:  domain.Identity{ID: identity.ID, Kind: identity.Kind, CreatedAt: identity.CreatedAt},
		Role:      domain.RoleForKind(identity.Kind),
		Token:     token,
		ExpiresAt: exp,
	}

	prior := ""
	if priorIdentityID != nil {
		prior = *priorIdentityID
	}
	if prior == "" || prior == identity.ID {
		return result, nil
	}

	migrated, err := s.transferOwnership(ctx, prior, identity.ID)
	if err != nil {
		// Authentication already succeeded; surface the migration failure
		// as a warning instead of failing the whole request.
		s.logger.Error("ownership transfer failed",
			zap.String("prior_identity_id", prior),
			zap.String("identity_id", identity.ID),
			zap.Error(err))
		result.TransferWarning = true
		return result, nil
	}
	result.Migrated = migrated

	s.publish(ctx, events.EventIdentityPromoted, identity.ID, events.IdentityPromotedPayload{
		PriorIdentityID: prior,
		AccountID:       account.ID,
	})
	return result, nil
}

// transferOwnership reassigns all products owned by the prior guest to the
// permanent identity and retires the guest, in one transaction. The bulk
// UPDATE is a single statement so no partially-migrated state is ever
// visible to clients.
func (s *AuthService) transferOwnership(ctx context.Context, priorID, newID string) (int64, error) {
	prior, err := s.identities.GetByID(ctx, priorID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, apperrors.NewTransferFailed(err)
		}
		return 0, err
	}
	if prior.Kind != domain.IdentityKindGuest || prior.RetiredAt != nil {
		// Only live guest identities are migration sources. A repeated
		// login with an already-retired prior id is a no-op, not an error.
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	moved, err := s.products.WithTx(tx).ReassignOwner(ctx, priorID, newID)
	if err != nil {
		return 0, apperrors.NewTransferFailed(err)
	}
	if err := s.identities.WithTx(tx).Retire(ctx, priorID); err != nil {
		return 0, apperrors.NewTransferFailed(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, apperrors.NewTransferFailed(err)
	}

	s.logger.Info("products transferred",
		zap.String("from", priorID),
		zap.String("to", newID),
		zap.Int64("count", moved))

	s.publish(ctx, events.EventProductsTransferred, newID, events.ProductsTransferredPayload{
		FromIdentityID: priorID,
		ToIdentityID:   newID,
		Count:          moved,
	})
	s.publish(ctx, events.EventIdentityRetired, priorID, events.IdentityRetiredPayload{SupersededBy: newID})

	return moved, nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

func (s *AuthService) publish(ctx context.Context, eventType events.EventType, identityID string, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		IdentityID: identityID,
		Timestamp:  time.Now(),
		Payload:    payload,
	})
}
