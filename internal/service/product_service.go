package service

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/clip-service/internal/domain"
	"github.com/spec-kit/clip-service/internal/repository"
	apperrors "github.com/spec-kit/clip-service/pkg/util"
)

// ProductService coordinates clipped-product workflows. Ownership is set at
// creation and only ever changed by the transfer path in AuthService.
type ProductService struct {
	products   repository.ProductRepository
	identities repository.IdentityRepository
}

// ProductDependencies bundles repositories for product service.
type ProductDependencies struct {
	ProductRepo  repository.ProductRepository
	IdentityRepo repository.IdentityRepository
}

// ProductCreateInput describes a clipped listing.
type ProductCreateInput struct {
	Name      string
	Price     string
	ImageURLs []string
	URL       string
	Site      string
}

// NewProductService constructs the service.
func NewProductService(deps ProductDependencies) *ProductService {
	return &ProductService{
		products:   deps.ProductRepo,
		identities: deps.IdentityRepo,
	}
}

// AddProduct stores a clipped listing for the owning identity.
func (s *ProductService) AddProduct(ctx context.Context, ownerID string, input ProductCreateInput) (*domain.Product, error) {
	if strings.TrimSpace(input.Name) == "" || strings.TrimSpace(input.URL) == "" {
		return nil, apperrors.NewValidationError("name and url required", nil)
	}

	owner, err := s.identities.GetByID(ctx, ownerID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NewUnauthorized("unknown identity")
		}
		return nil, err
	}
	if owner.RetiredAt != nil {
		return nil, apperrors.NewUnauthorized("identity retired")
	}

	product := &domain.Product{
		OwnerID:   ownerID,
		Name:      strings.TrimSpace(input.Name),
		Price:     strings.TrimSpace(input.Price),
		ImageURLs: input.ImageURLs,
		URL:       input.URL,
		Site:      siteOf(input),
	}
	if err := s.products.Create(ctx, product); err != nil {
		return nil, err
	}
	return product, nil
}

// ListProducts returns the owner's clipped listings, newest first.
func (s *ProductService) ListProducts(ctx context.Context, ownerID string, limit, offset int) ([]domain.Product, error) {
	return s.products.ListByOwner(ctx, ownerID, limit, offset)
}

// CountProducts returns how many listings the owner holds.
func (s *ProductService) CountProducts(ctx context.Context, ownerID string) (int64, error) {
	return s.products.CountByOwner(ctx, ownerID)
}

// DeleteProduct removes a listing; callers may only delete their own.
func (s *ProductService) DeleteProduct(ctx context.Context, ownerID, productID string) error {
	product, err := s.products.GetByID(ctx, productID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return apperrors.NewNotFound("product", map[string]any{"id": productID})
		}
		return err
	}
	if product.OwnerID != ownerID {
		return apperrors.NewForbidden("product belongs to another identity")
	}
	return s.products.Delete(ctx, productID)
}

func siteOf(input ProductCreateInput) string {
	if input.Site != "" {
		return input.Site
	}
	rest := input.URL
	if idx := strings.Index(rest, "://"); idx >= 0 {
		rest = rest[idx+3:]
	}
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		rest = rest[:idx]
	}
	return rest
}
