package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/clip-service/internal/domain"
)

// AccountRepository defines persistence access for registered accounts.
type AccountRepository interface {
	Create(ctx context.Context, account *domain.Account) error
	Update(ctx context.Context, account *domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	WithTx(tx pgx.Tx) AccountRepository
}

type accountRepository struct {
	db DB
}

// NewAccountRepository returns a Postgres-backed implementation.
func NewAccountRepository(db DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) WithTx(tx pgx.Tx) AccountRepository {
	return &accountRepository{db: tx}
}

func (r *accountRepository) Create(ctx context.Context, account *domain.Account) error {
	const query = `
        INSERT INTO accounts (email, password_hash, status)
        VALUES ($1, $2, $3)
        RETURNING id, created_at, updated_at`

	return r.db.QueryRow(ctx, query,
		account.Email,
		account.PasswordHash,
		account.Status,
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
}

func (r *accountRepository) Update(ctx context.Context, account *domain.Account) error {
	const query = `
        UPDATE accounts SET email=$1, password_hash=$2, status=$3, updated_at=NOW()
        WHERE id=$4`

	cmd, err := r.db.Exec(ctx, query,
		account.Email,
		account.PasswordHash,
		account.Status,
		account.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	const query = `
        SELECT id, email, password_hash, status, created_at, updated_at
        FROM accounts WHERE id=$1`

	var account domain.Account
	if err := r.db.QueryRow(ctx, query, id).Scan(
		&account.ID,
		&account.Email,
		&account.PasswordHash,
		&account.Status,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	const query = `
        SELECT id, email, password_hash, status, created_at, updated_at
        FROM accounts WHERE email=$1`

	var account domain.Account
	if err := r.db.QueryRow(ctx, query, email).Scan(
		&account.ID,
		&account.Email,
		&account.PasswordHash,
		&account.Status,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &account, nil
}
