package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/clip-service/internal/api/dto"
	"github.com/spec-kit/clip-service/internal/service"
	apperrors "github.com/spec-kit/clip-service/pkg/util"
)

// AuthHandler exposes guest issuance, registration and login.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: authService}
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}

	result, err := h.auth.Register(c.Context(), req.Email, req.Password, req.PriorIdentityID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": authResponse(result)})
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}

	result, err := h.auth.Login(c.Context(), req.Email, req.Password, req.PriorIdentityID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": authResponse(result)})
}

// Guest handles POST /auth/guest.
func (h *AuthHandler) Guest(c *fiber.Ctx) error {
	result, err := h.auth.CreateGuest(c.Context())
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": authResponse(result)})
}

func authResponse(result *service.AuthResult) dto.AuthResponse {
	return dto.AuthResponse{
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
		Identity: dto.IdentityResponse{
			ID:   result.Identity.ID,
			Kind: string(result.Identity.Kind),
		},
		Role:            string(result.Role),
		Migrated:        result.Migrated,
		TransferWarning: result.TransferWarning,
	}
}
