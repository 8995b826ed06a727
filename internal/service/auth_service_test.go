package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/clip-service/internal/auth"
	"github.com/spec-kit/clip-service/internal/config"
	"github.com/spec-kit/clip-service/internal/domain"
	"github.com/spec-kit/clip-service/internal/repository"
	apperrors "github.com/spec-kit/clip-service/pkg/util"
)

// fakeTx satisfies pgx.Tx for services that only Begin/Commit/Rollback.
type fakeTx struct {
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Begin(context.Context) (pgx.Tx, error) { return t, nil }
func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}
func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}
func (t *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not implemented")
}
func (t *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("not implemented")
}
func (t *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (t *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}
func (t *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row { return nil }
func (t *fakeTx) Conn() *pgx.Conn                                  { return nil }

type fakeTxBeginner struct{}

func (fakeTxBeginner) Begin(context.Context) (pgx.Tx, error) { return &fakeTx{}, nil }

type memAccountRepo struct {
	byEmail   map[string]*domain.Account
	createErr error
}

func newMemAccountRepo() *memAccountRepo {
	return &memAccountRepo{byEmail: map[string]*domain.Account{}}
}

func (r *memAccountRepo) Create(_ context.Context, account *domain.Account) error {
	if r.createErr != nil {
		return r.createErr
	}
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	account.CreatedAt = time.Now()
	r.byEmail[account.Email] = account
	return nil
}

func (r *memAccountRepo) Update(_ context.Context, account *domain.Account) error {
	r.byEmail[account.Email] = account
	return nil
}

func (r *memAccountRepo) GetByID(_ context.Context, id string) (*domain.Account, error) {
	for _, account := range r.byEmail {
		if account.ID == id {
			return account, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memAccountRepo) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	if account, ok := r.byEmail[email]; ok {
		return account, nil
	}
	return nil, pgx.ErrNoRows
}

func (r *memAccountRepo) WithTx(pgx.Tx) repository.AccountRepository { return r }

type memIdentityRepo struct {
	byID map[string]*domain.IdentityRecord
}

func newMemIdentityRepo() *memIdentityRepo {
	return &memIdentityRepo{byID: map[string]*domain.IdentityRecord{}}
}

func (r *memIdentityRepo) Create(_ context.Context, record *domain.IdentityRecord) error {
	record.CreatedAt = time.Now()
	r.byID[record.ID] = record
	return nil
}

func (r *memIdentityRepo) GetByID(_ context.Context, id string) (*domain.IdentityRecord, error) {
	if record, ok := r.byID[id]; ok {
		copied := *record
		return &copied, nil
	}
	return nil, pgx.ErrNoRows
}

func (r *memIdentityRepo) GetByAccountID(_ context.Context, accountID string) (*domain.IdentityRecord, error) {
	for _, record := range r.byID {
		if record.AccountID != nil && *record.AccountID == accountID &&
			record.Kind == domain.IdentityKindPermanent && record.RetiredAt == nil {
			copied := *record
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memIdentityRepo) Retire(_ context.Context, id string) error {
	record, ok := r.byID[id]
	if !ok || record.RetiredAt != nil {
		return pgx.ErrNoRows
	}
	now := time.Now()
	record.RetiredAt = &now
	return nil
}

func (r *memIdentityRepo) Delete(_ context.Context, id string) error {
	if _, ok := r.byID[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.byID, id)
	return nil
}

func (r *memIdentityRepo) ListRetiredBefore(context.Context, int) ([]string, error) {
	return nil, nil
}

func (r *memIdentityRepo) WithTx(pgx.Tx) repository.IdentityRepository { return r }

type memProductRepo struct {
	byID        map[string]*domain.Product
	reassignErr error
}

func newMemProductRepo() *memProductRepo {
	return &memProductRepo{byID: map[string]*domain.Product{}}
}

func (r *memProductRepo) Create(_ context.Context, product *domain.Product) error {
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	product.CreatedAt = time.Now()
	product.UpdatedAt = product.CreatedAt
	r.byID[product.ID] = product
	return nil
}

func (r *memProductRepo) GetByID(_ context.Context, id string) (*domain.Product, error) {
	if product, ok := r.byID[id]; ok {
		copied := *product
		return &copied, nil
	}
	return nil, pgx.ErrNoRows
}

func (r *memProductRepo) ListByOwner(_ context.Context, ownerID string, _, _ int) ([]domain.Product, error) {
	var out []domain.Product
	for _, product := range r.byID {
		if product.OwnerID == ownerID {
			out = append(out, *product)
		}
	}
	return out, nil
}

func (r *memProductRepo) CountByOwner(_ context.Context, ownerID string) (int64, error) {
	var count int64
	for _, product := range r.byID {
		if product.OwnerID == ownerID {
			count++
		}
	}
	return count, nil
}

func (r *memProductRepo) Delete(_ context.Context, id string) error {
	if _, ok := r.byID[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.byID, id)
	return nil
}

func (r *memProductRepo) ReassignOwner(_ context.Context, fromOwnerID, toOwnerID string) (int64, error) {
	if r.reassignErr != nil {
		return 0, r.reassignErr
	}
	var moved int64
	for _, product := range r.byID {
		if product.OwnerID == fromOwnerID {
			product.OwnerID = toOwnerID
			moved++
		}
	}
	return moved, nil
}

func (r *memProductRepo) WithTx(pgx.Tx) repository.ProductRepository { return r }

type authFixture struct {
	service    *AuthService
	accounts   *memAccountRepo
	identities *memIdentityRepo
	products   *memProductRepo
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	accounts := newMemAccountRepo()
	identities := newMemIdentityRepo()
	products := newMemProductRepo()

	cfg := config.Config{Auth: config.AuthConfig{
		JWTSecret:             "test-secret",
		AccessTokenTTLMinutes: 60,
		GuestTokenTTLDays:     180,
		BcryptCost:            4,
	}}
	svc := NewAuthService(cfg, AuthDependencies{
		Pool:         fakeTxBeginner{},
		AccountRepo:  accounts,
		IdentityRepo: identities,
		ProductRepo:  products,
	})
	return &authFixture{service: svc, accounts: accounts, identities: identities, products: products}
}

func (f *authFixture) seedGuestWithProducts(t *testing.T, guestID string, count int) {
	t.Helper()
	require.NoError(t, f.identities.Create(context.Background(), &domain.IdentityRecord{
		ID:   guestID,
		Kind: domain.IdentityKindGuest,
	}))
	for i := 0; i < count; i++ {
		require.NoError(t, f.products.Create(context.Background(), &domain.Product{
			OwnerID: guestID,
			Name:    "item",
			URL:     "https://shop.test/item",
		}))
	}
}

func TestCreateGuest(t *testing.T) {
	f := newAuthFixture(t)

	result, err := f.service.CreateGuest(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.IdentityKindGuest, result.Identity.Kind)
	assert.Equal(t, domain.RoleGuest, result.Role)
	assert.NotEmpty(t, result.Token)

	claims, err := f.service.TokenManager().ParseToken(result.Token)
	require.NoError(t, err)
	assert.Equal(t, result.Identity.ID, claims.IdentityID)
	assert.Equal(t, domain.IdentityKindGuest, claims.Kind)
}

func TestRegisterMigratesGuestProducts(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.seedGuestWithProducts(t, "guest-1", 3)

	prior := "guest-1"
	result, err := f.service.Register(ctx, "a@b.test", "secret1", &prior)
	require.NoError(t, err)

	assert.Equal(t, domain.IdentityKindPermanent, result.Identity.Kind)
	assert.Equal(t, domain.RoleUser, result.Role)
	assert.Equal(t, int64(3), result.Migrated)
	assert.False(t, result.TransferWarning)

	// Product count is conserved: the guest owns none, the new identity all.
	guestCount, err := f.products.CountByOwner(ctx, "guest-1")
	require.NoError(t, err)
	assert.Zero(t, guestCount)
	newCount, err := f.products.CountByOwner(ctx, result.Identity.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), newCount)

	retired, err := f.identities.GetByID(ctx, "guest-1")
	require.NoError(t, err)
	assert.NotNil(t, retired.RetiredAt, "the migrated guest is retired")
}

func TestRegisterDuplicateEmailConflicts(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.service.Register(ctx, "a@b.test", "secret1", nil)
	require.NoError(t, err)

	_, err = f.service.Register(ctx, "a@b.test", "other-pw", nil)
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", apperrors.CodeOf(err))
}

func TestRegisterLostInsertRaceConflicts(t *testing.T) {
	f := newAuthFixture(t)

	// The duplicate check passed before a concurrent registration committed,
	// so the INSERT itself reports the duplicate email.
	f.accounts.createErr = &pgconn.PgError{Code: "23505", ConstraintName: "accounts_email_key"}

	_, err := f.service.Register(context.Background(), "a@b.test", "secret1", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, "CONFLICT"), "a lost insert race reads as a duplicate, not an internal error")
}

func TestRegisterValidatesCredentials(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	for _, tc := range []struct{ email, password string }{
		{"", "secret1"},
		{"not-an-email", "secret1"},
		{"a@b.test", ""},
		{"a@b.test", "short"},
	} {
		_, err := f.service.Register(ctx, tc.email, tc.password, nil)
		assert.Equal(t, "VALIDATION_FAILED", apperrors.CodeOf(err), "email=%q password=%q", tc.email, tc.password)
	}
}

func TestLoginHappyPath(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	registered, err := f.service.Register(ctx, "a@b.test", "secret1", nil)
	require.NoError(t, err)

	loggedIn, err := f.service.Login(ctx, "a@b.test", "secret1", nil)
	require.NoError(t, err)
	assert.Equal(t, registered.Identity.ID, loggedIn.Identity.ID, "login returns the account's permanent identity")
	assert.Equal(t, domain.RoleUser, loggedIn.Role)
}

func TestLoginWrongPassword(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.service.Register(ctx, "a@b.test", "secret1", nil)
	require.NoError(t, err)

	_, err = f.service.Login(ctx, "a@b.test", "wrong-pw", nil)
	assert.Equal(t, "INVALID_CREDENTIALS", apperrors.CodeOf(err))
}

func TestLoginUnknownEmail(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.service.Login(context.Background(), "nobody@b.test", "secret1", nil)
	assert.Equal(t, "INVALID_CREDENTIALS", apperrors.CodeOf(err))
}

func TestLoginSuspendedAccount(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.service.Register(ctx, "a@b.test", "secret1", nil)
	require.NoError(t, err)
	f.accounts.byEmail["a@b.test"].Status = domain.AccountStatusSuspended

	_, err = f.service.Login(ctx, "a@b.test", "secret1", nil)
	assert.Equal(t, "FORBIDDEN", apperrors.CodeOf(err))
}

func TestLoginCreatesIdentityLazily(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	hash, err := auth.HashPassword("secret1", 4)
	require.NoError(t, err)
	require.NoError(t, f.accounts.Create(ctx, &domain.Account{
		Email:        "legacy@b.test",
		PasswordHash: hash,
		Status:       domain.AccountStatusActive,
	}))

	result, err := f.service.Login(ctx, "legacy@b.test", "secret1", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.IdentityKindPermanent, result.Identity.Kind)

	record, err := f.identities.GetByID(ctx, result.Identity.ID)
	require.NoError(t, err)
	require.NotNil(t, record.AccountID)
}

func TestTransferFailureYieldsWarningNotError(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.seedGuestWithProducts(t, "guest-1", 2)
	f.products.reassignErr = errors.New("deadlock detected")

	prior := "guest-1"
	result, err := f.service.Register(ctx, "a@b.test", "secret1", &prior)
	require.NoError(t, err, "authentication succeeds even when the transfer fails")
	assert.True(t, result.TransferWarning)
	assert.Zero(t, result.Migrated)
	assert.NotEmpty(t, result.Token)

	// Nothing moved and the guest is still live, so a later retry can work.
	count, err := f.products.CountByOwner(ctx, "guest-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	guest, err := f.identities.GetByID(ctx, "guest-1")
	require.NoError(t, err)
	assert.Nil(t, guest.RetiredAt)
}

func TestTransferSkipsRetiredPrior(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.seedGuestWithProducts(t, "guest-1", 1)

	prior := "guest-1"
	_, err := f.service.Register(ctx, "a@b.test", "secret1", &prior)
	require.NoError(t, err)

	// A second login with the same retired prior id is a clean no-op.
	result, err := f.service.Login(ctx, "a@b.test", "secret1", &prior)
	require.NoError(t, err)
	assert.Zero(t, result.Migrated)
	assert.False(t, result.TransferWarning)
}

func TestTransferSkipsUnknownPrior(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	prior := "never-issued"
	result, err := f.service.Register(ctx, "a@b.test", "secret1", &prior)
	require.NoError(t, err)
	assert.True(t, result.TransferWarning, "an unknown prior id cannot be migrated")
	assert.Zero(t, result.Migrated)
}
