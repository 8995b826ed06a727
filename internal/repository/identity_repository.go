package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/clip-service/internal/domain"
)

// IdentityRepository tracks every identity the server has issued.
type IdentityRepository interface {
	Create(ctx context.Context, record *domain.IdentityRecord) error
	GetByID(ctx context.Context, id string) (*domain.IdentityRecord, error)
	GetByAccountID(ctx context.Context, accountID string) (*domain.IdentityRecord, error)
	// Retire marks a guest identity as superseded. Retired ids stay on
	// record so they can never be re-issued, but no longer authenticate.
	Retire(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	ListRetiredBefore(ctx context.Context, cutoffDays int) ([]string, error)
	WithTx(tx pgx.Tx) IdentityRepository
}

type identityRepository struct {
	db DB
}

// NewIdentityRepository returns a Postgres-backed implementation.
func NewIdentityRepository(db DB) IdentityRepository {
	return &identityRepository{db: db}
}

func (r *identityRepository) WithTx(tx pgx.Tx) IdentityRepository {
	return &identityRepository{db: tx}
}

func (r *identityRepository) Create(ctx context.Context, record *domain.IdentityRecord) error {
	const query = `
        INSERT INTO identities (id, kind, account_id)
        VALUES ($1, $2, $3)
        RETURNING created_at`

	return r.db.QueryRow(ctx, query,
		record.ID,
		record.Kind,
		record.AccountID,
	).Scan(&record.CreatedAt)
}

func (r *identityRepository) GetByID(ctx context.Context, id string) (*domain.IdentityRecord, error) {
	const query = `
        SELECT id, kind, account_id, created_at, retired_at
        FROM identities WHERE id=$1`

	var record domain.IdentityRecord
	if err := r.db.QueryRow(ctx, query, id).Scan(
		&record.ID,
		&record.Kind,
		&record.AccountID,
		&record.CreatedAt,
		&record.RetiredAt,
	); err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *identityRepository) GetByAccountID(ctx context.Context, accountID string) (*domain.IdentityRecord, error) {
	const query = `
        SELECT id, kind, account_id, created_at, retired_at
        FROM identities
        WHERE account_id=$1 AND kind=$2 AND retired_at IS NULL`

	var record domain.IdentityRecord
	if err := r.db.QueryRow(ctx, query, accountID, domain.IdentityKindPermanent).Scan(
		&record.ID,
		&record.Kind,
		&record.AccountID,
		&record.CreatedAt,
		&record.RetiredAt,
	); err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *identityRepository) Retire(ctx context.Context, id string) error {
	const query = `
        UPDATE identities SET retired_at=NOW()
        WHERE id=$1 AND retired_at IS NULL`

	cmd, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *identityRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM identities WHERE id=$1`

	cmd, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *identityRepository) ListRetiredBefore(ctx context.Context, cutoffDays int) ([]string, error) {
	const query = `
        SELECT id FROM identities
        WHERE retired_at IS NOT NULL AND retired_at < NOW() - ($1 * INTERVAL '1 day')`

	rows, err := r.db.Query(ctx, query, cutoffDays)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
