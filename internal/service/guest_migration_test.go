package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/clip-service/internal/domain"
	"github.com/spec-kit/clip-service/internal/gateway"
	"github.com/spec-kit/clip-service/internal/identity"
	"github.com/spec-kit/clip-service/internal/transfer"
)

// serviceGateway drives the client-side coordinator straight into the auth
// service, standing in for the HTTP hop.
type serviceGateway struct {
	auth *AuthService
}

func (g *serviceGateway) Login(ctx context.Context, email, password, priorIdentityID string) (*gateway.Session, error) {
	return asSession(g.auth.Login(ctx, email, password, optionalID(priorIdentityID)))
}

func (g *serviceGateway) Register(ctx context.Context, email, password, priorIdentityID string) (*gateway.Session, error) {
	return asSession(g.auth.Register(ctx, email, password, optionalID(priorIdentityID)))
}

func (g *serviceGateway) IssueGuest(ctx context.Context) (domain.Identity, string, error) {
	result, err := g.auth.CreateGuest(ctx)
	if err != nil {
		return domain.Identity{}, "", err
	}
	return result.Identity, result.Token, nil
}

func asSession(result *AuthResult, err error) (*gateway.Session, error) {
	if err != nil {
		return nil, err
	}
	return &gateway.Session{
		Identity:        result.Identity,
		Role:            result.Role,
		Token:           result.Token,
		ExpiresAt:       result.ExpiresAt,
		Migrated:        result.Migrated,
		TransferWarning: result.TransferWarning,
	}, nil
}

func optionalID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

// The manager's guest must be a server-issued identity, so that everything
// it clips migrates when the guest registers.
func TestManagerGuestMigratesProductsOnRegister(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	gw := &serviceGateway{auth: f.service}
	manager := identity.NewManager(identity.NewMemoryStore(), gw, nil, nil)
	coordinator := transfer.NewCoordinator(gw, manager, nil)

	guest, err := manager.ActiveIdentity(ctx)
	require.NoError(t, err)

	record, err := f.identities.GetByID(ctx, guest.ID)
	require.NoError(t, err, "the guest the manager hands out has a server row")
	assert.Equal(t, domain.IdentityKindGuest, record.Kind)
	assert.NotEmpty(t, manager.ActiveToken(), "the guest can authenticate API calls")

	for i := 0; i < 3; i++ {
		require.NoError(t, f.products.Create(ctx, &domain.Product{
			OwnerID: guest.ID,
			Name:    "item",
			URL:     "https://shop.test/item",
		}))
	}

	result, err := coordinator.Authenticate(ctx, transfer.ModeRegister, "a@b.test", "secret1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.MigratedProducts)
	assert.False(t, result.TransferWarning)

	permanent := result.Session.Identity

	// Ownership is conserved end to end.
	guestCount, err := f.products.CountByOwner(ctx, guest.ID)
	require.NoError(t, err)
	assert.Zero(t, guestCount)
	permCount, err := f.products.CountByOwner(ctx, permanent.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), permCount)

	retired, err := f.identities.GetByID(ctx, guest.ID)
	require.NoError(t, err)
	assert.NotNil(t, retired.RetiredAt)

	active, err := manager.ActiveIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, permanent.ID, active.ID, "the privileged store holds the permanent identity")
}
