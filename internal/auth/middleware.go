package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/clip-service/internal/domain"
	"github.com/spec-kit/clip-service/internal/repository"
	apperrors "github.com/spec-kit/clip-service/pkg/util"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller. The role is derived from
// the token's identity kind, never from request input.
type Principal struct {
	Identity domain.Identity
	Role     domain.Role
	Account  *domain.Account
}

// AuthMiddleware validates bearer tokens and loads principals.
type AuthMiddleware struct {
	tokens     *TokenManager
	identities repository.IdentityRepository
	accounts   repository.AccountRepository
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, identities repository.IdentityRepository, accounts repository.AccountRepository) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, identities: identities, accounts: accounts}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	record, err := m.identities.GetByID(c.Context(), claims.IdentityID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return apperrors.NewUnauthorized("identity not found")
		}
		return apperrors.MapError(err)
	}
	if record.RetiredAt != nil {
		// A retired guest id must never authenticate new work.
		return apperrors.NewUnauthorized("identity retired")
	}

	principal := &Principal{
		Identity: domain.Identity{ID: record.ID, Kind: record.Kind, CreatedAt: record.CreatedAt},
		Role:     domain.RoleForKind(record.Kind),
	}

	if record.Kind == domain.IdentityKindPermanent && record.AccountID != nil {
		account, err := m.accounts.GetByID(c.Context(), *record.AccountID)
		if err != nil {
			if err == pgx.ErrNoRows {
				return apperrors.NewUnauthorized("account not found")
			}
			return apperrors.MapError(err)
		}
		principal.Account = account
	}

	c.Locals(principalKey, principal)
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
