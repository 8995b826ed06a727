package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/clip-service/internal/domain"
)

// RequireIdentity ensures the caller is authenticated, guest or permanent.
func RequireIdentity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := PrincipalFromContext(c); !ok {
			return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		}
		return c.Next()
	}
}

// RequirePermanent ensures the caller holds an account-bound identity.
func RequirePermanent() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok || principal.Identity.Kind != domain.IdentityKindPermanent {
			return fiber.NewError(http.StatusForbidden, "registered account required")
		}
		return c.Next()
	}
}
