package handlers

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/clip-service/internal/api/dto"
	"github.com/spec-kit/clip-service/internal/auth"
	"github.com/spec-kit/clip-service/internal/domain"
	"github.com/spec-kit/clip-service/internal/service"
	apperrors "github.com/spec-kit/clip-service/pkg/util"
)

// ProductsHandler manages clipped-product endpoints. The owner is always
// the authenticated identity; an owner query parameter naming anyone else
// is rejected rather than trusted.
type ProductsHandler struct {
	service *service.ProductService
}

// NewProductsHandler constructs handler.
func NewProductsHandler(productService *service.ProductService) *ProductsHandler {
	return &ProductsHandler{service: productService}
}

// AddProduct POST /products/add.
func (h *ProductsHandler) AddProduct(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("identity required")
	}
	var req dto.AddProductRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	input := service.ProductCreateInput{
		Name:      req.Name,
		Price:     req.Price,
		ImageURLs: req.ImageURLs,
		URL:       req.URL,
		Site:      req.Site,
	}
	product, err := h.service.AddProduct(c.Context(), principal.Identity.ID, input)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": productResponse(product)})
}

// ListProducts GET /products.
func (h *ProductsHandler) ListProducts(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("identity required")
	}
	if owner := c.Query("owner"); owner != "" && owner != principal.Identity.ID {
		return apperrors.NewForbidden("owner does not match authenticated identity")
	}

	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))

	products, err := h.service.ListProducts(c.Context(), principal.Identity.ID, limit, offset)
	if err != nil {
		return err
	}

	items := make([]dto.ProductResponse, 0, len(products))
	for i := range products {
		items = append(items, productResponse(&products[i]))
	}
	return c.JSON(fiber.Map{"data": items, "meta": fiber.Map{"count": len(items)}})
}

// DeleteProduct DELETE /products/:id.
func (h *ProductsHandler) DeleteProduct(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("identity required")
	}
	productID := c.Params("id")
	if productID == "" {
		return apperrors.NewValidationError("product id required", nil)
	}

	if err := h.service.DeleteProduct(c.Context(), principal.Identity.ID, productID); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

func productResponse(product *domain.Product) dto.ProductResponse {
	return dto.ProductResponse{
		ID:        product.ID,
		OwnerID:   product.OwnerID,
		Name:      product.Name,
		Price:     product.Price,
		ImageURLs: product.ImageURLs,
		URL:       product.URL,
		Site:      product.Site,
		CreatedAt: product.CreatedAt,
		UpdatedAt: product.UpdatedAt,
	}
}
