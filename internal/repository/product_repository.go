package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/clip-service/internal/domain"
)

// ProductRepository encapsulates clipped-product persistence.
type ProductRepository interface {
	Create(ctx context.Context, product *domain.Product) error
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.Product, error)
	CountByOwner(ctx context.Context, ownerID string) (int64, error)
	Delete(ctx context.Context, id string) error
	// ReassignOwner moves every product from one identity to another in a
	// single statement and returns the number of rows moved.
	ReassignOwner(ctx context.Context, fromOwnerID, toOwnerID string) (int64, error)
	WithTx(tx pgx.Tx) ProductRepository
}

type productRepository struct {
	db DB
}

// NewProductRepository instantiates repository.
func NewProductRepository(db DB) ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) WithTx(tx pgx.Tx) ProductRepository {
	return &productRepository{db: tx}
}

func (r *productRepository) Create(ctx context.Context, product *domain.Product) error {
	const query = `
        INSERT INTO products (owner_id, name, price, image_urls, url, site)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, created_at, updated_at`

	return r.db.QueryRow(ctx, query,
		product.OwnerID,
		product.Name,
		product.Price,
		product.ImageURLs,
		product.URL,
		product.Site,
	).Scan(&product.ID, &product.CreatedAt, &product.UpdatedAt)
}

func (r *productRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	const query = `
        SELECT id, owner_id, name, price, image_urls, url, site, created_at, updated_at
        FROM products WHERE id=$1`

	var product domain.Product
	if err := r.db.QueryRow(ctx, query, id).Scan(
		&product.ID,
		&product.OwnerID,
		&product.Name,
		&product.Price,
		&product.ImageURLs,
		&product.URL,
		&product.Site,
		&product.CreatedAt,
		&product.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *productRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.Product, error) {
	const query = `
        SELECT id, owner_id, name, price, image_urls, url, site, created_at, updated_at
        FROM products WHERE owner_id=$1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`

	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.db.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var product domain.Product
		if err := rows.Scan(
			&product.ID,
			&product.OwnerID,
			&product.Name,
			&product.Price,
			&product.ImageURLs,
			&product.URL,
			&product.Site,
			&product.CreatedAt,
			&product.UpdatedAt,
		); err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	return products, rows.Err()
}

func (r *productRepository) CountByOwner(ctx context.Context, ownerID string) (int64, error) {
	const query = `SELECT COUNT(*) FROM products WHERE owner_id=$1`

	var count int64
	if err := r.db.QueryRow(ctx, query, ownerID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *productRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM products WHERE id=$1`

	cmd, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *productRepository) ReassignOwner(ctx context.Context, fromOwnerID, toOwnerID string) (int64, error) {
	const query = `
        UPDATE products SET owner_id=$1, updated_at=NOW()
        WHERE owner_id=$2`

	cmd, err := r.db.Exec(ctx, query, toOwnerID, fromOwnerID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
