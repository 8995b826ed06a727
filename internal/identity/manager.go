package identity

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/clip-service/internal/bridge"
	"github.com/spec-kit/clip-service/internal/domain"
	apperrors "github.com/spec-kit/clip-service/pkg/util"
)

// Broadcaster is the notification surface the manager needs from the
// bridge host.
type Broadcaster interface {
	Broadcast(name string, payload any)
}

// ChangedPayload is the broadcast body for identityChanged. Token carries
// the active identity's bearer token when the manager holds one, so
// contexts can call the product API without a second round trip.
type ChangedPayload struct {
	ID    string              `json:"id"`
	Kind  domain.IdentityKind `json:"kind"`
	Token string              `json:"token,omitempty"`
}

// GuestIssuer mints guest identities against the remote auth service so
// every guest the manager hands out exists server-side before it owns any
// products. It returns the identity and its bearer token.
type GuestIssuer interface {
	IssueGuest(ctx context.Context) (domain.Identity, string, error)
}

// PromoteRequest is the payload of promoteToPermanent.
type PromoteRequest struct {
	Identity ChangedPayload `json:"identity"`
}

// AckResponse is the generic {success} reply.
type AckResponse struct {
	Success  bool            `json:"success"`
	Identity *ChangedPayload `json:"identity,omitempty"`
}

// Manager owns the privileged identity store. It is the only writer besides
// the sign-out flow; every mutation is serialized under one mutex and
// announced over the bridge.
type Manager struct {
	store     Store
	issuer    GuestIssuer
	fallback  *MemoryStore
	caster    Broadcaster
	logger    *zap.Logger
	mu        sync.Mutex
	degraded  bool
	token     string
	newGuestf func() domain.Identity
}

// NewManager builds the privileged-side manager. A nil issuer keeps guest
// minting local, which leaves migration unavailable; production wires the
// gateway client.
func NewManager(store Store, issuer GuestIssuer, caster Broadcaster, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:    store,
		issuer:   issuer,
		fallback: NewMemoryStore(),
		caster:   caster,
		logger:   logger,
		newGuestf: func() domain.Identity {
			return domain.Identity{
				ID:        uuid.NewString(),
				Kind:      domain.IdentityKindGuest,
				CreatedAt: time.Now(),
			}
		},
	}
}

// mintGuest obtains a new guest identity, from the auth service when an
// issuer is wired. Local minting without an issuer produces guests the
// server has never seen.
func (m *Manager) mintGuest(ctx context.Context) (domain.Identity, string, error) {
	if m.issuer == nil {
		return m.newGuestf(), "", nil
	}
	return m.issuer.IssueGuest(ctx)
}

// RegisterHandlers installs the identity message handlers on the host.
func (m *Manager) RegisterHandlers(host *bridge.Host) {
	host.Register(bridge.MsgGetActiveIdentity, m.handleGetActiveIdentity)
	host.Register(bridge.MsgPromoteToPermanent, m.handlePromoteToPermanent)
	host.Register(bridge.MsgClearIdentity, m.handleClearIdentity)
}

// ActiveIdentity returns the current identity, lazily creating a guest on
// first access. Calling it twice never creates two guests: creation goes
// through SetIfAbsent and adopts the stored value when another writer won.
func (m *Manager) ActiveIdentity(ctx context.Context) (domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeIdentityLocked(ctx)
}

func (m *Manager) activeIdentityLocked(ctx context.Context) (domain.Identity, error) {
	current, err := m.store.Get(ctx)
	if err != nil {
		return m.degradedIdentity(ctx, err)
	}

	if m.degraded {
		// The durable store recovered while a session-only identity was in
		// use. Reconcile: a permanent identity outranks a guest no matter
		// which side holds it; otherwise the durable store wins. A nil
		// result keeps the fallback so a failed re-mint below can fall back
		// to the same session guest.
		current = m.reconcileFallback(ctx, current)
		m.degraded = false
		if current != nil {
			_ = m.fallback.Clear(ctx)
		}
	}

	if current != nil {
		return *current, nil
	}

	guest, token, err := m.mintGuest(ctx)
	if err != nil {
		return m.degradedIdentity(ctx, err)
	}
	written, err := m.store.SetIfAbsent(ctx, guest)
	if err != nil {
		return m.degradedIdentity(ctx, err)
	}
	if !written {
		// Another writer created the identity between our read and write;
		// adopt theirs instead of overwriting.
		stored, err := m.store.Get(ctx)
		if err != nil {
			return m.degradedIdentity(ctx, err)
		}
		if stored != nil {
			m.token = ""
			return *stored, nil
		}
		// Raced with a clear; claim ours after all.
		if err := m.store.Set(ctx, guest); err != nil {
			return m.degradedIdentity(ctx, err)
		}
	}
	m.token = token
	_ = m.fallback.Clear(ctx)

	m.logger.Info("guest identity created", zap.String("identity_id", guest.ID))
	m.broadcast(guest, token)
	return guest, nil
}

func (m *Manager) reconcileFallback(ctx context.Context, stored *domain.Identity) *domain.Identity {
	session, _ := m.fallback.Get(ctx)
	if session == nil {
		return stored
	}
	if stored == nil {
		if session.Kind == domain.IdentityKindGuest && m.issuer != nil && m.token == "" {
			// The session guest was minted locally while the issuer was
			// unreachable; it was never issued a token, so it cannot own
			// anything. Mint a real one instead of persisting it.
			return nil
		}
		// Nothing durable; persist what the session was using.
		if written, err := m.store.SetIfAbsent(ctx, *session); err == nil && written {
			return session
		}
		refetched, err := m.store.Get(ctx)
		if err != nil || refetched == nil {
			return session
		}
		return refetched
	}
	if session.Kind == domain.IdentityKindPermanent && stored.Kind == domain.IdentityKindGuest {
		if err := m.store.Set(ctx, *session); err == nil {
			return session
		}
	}
	return stored
}

func (m *Manager) degradedIdentity(ctx context.Context, cause error) (domain.Identity, error) {
	m.logger.Warn("identity unavailable; using session-only identity", zap.Error(cause))
	m.degraded = true
	m.token = ""

	if session, _ := m.fallback.Get(ctx); session != nil {
		return *session, nil
	}
	guest := m.newGuestf()
	if _, err := m.fallback.SetIfAbsent(ctx, guest); err != nil {
		return domain.Identity{}, apperrors.NewStorageUnavailable(err)
	}
	stored, _ := m.fallback.Get(ctx)
	if stored != nil {
		return *stored, nil
	}
	return guest, nil
}

// Promote overwrites the stored identity with a server-issued permanent
// one and its bearer token. Promoting the already-active identity is a
// no-op; a guest can never displace a stored permanent identity.
func (m *Manager) Promote(ctx context.Context, identity domain.Identity, token string) error {
	if identity.Kind != domain.IdentityKindPermanent || identity.ID == "" {
		return apperrors.NewValidationError("permanent identity required", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.store.Get(ctx)
	if err != nil {
		// Keep the session usable; the durable write is retried on the
		// next promotion or resolution.
		m.degraded = true
		_ = m.fallback.Set(ctx, identity)
		m.token = token
		m.broadcast(identity, token)
		return nil
	}
	if current != nil && current.ID == identity.ID {
		if token != "" {
			m.token = token
		}
		return nil
	}

	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now()
	}
	if err := m.store.Set(ctx, identity); err != nil {
		m.degraded = true
		_ = m.fallback.Set(ctx, identity)
	}
	m.token = token

	m.logger.Info("identity promoted",
		zap.String("identity_id", identity.ID),
		zap.String("prior_id", idOf(current)))
	m.broadcast(identity, token)
	return nil
}

// Clear retires the stored identity on sign-out and mints a brand-new
// guest. Retired ids, guest or permanent, are never reused.
func (m *Manager) Clear(ctx context.Context) (domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prior, err := m.store.Get(ctx)
	if err == nil {
		if clearErr := m.store.Clear(ctx); clearErr != nil {
			m.degraded = true
		}
	} else {
		m.degraded = true
	}
	_ = m.fallback.Clear(ctx)

	guest, token, mintErr := m.mintGuest(ctx)
	if mintErr != nil {
		m.logger.Warn("guest issuance failed on clear; using session-only guest", zap.Error(mintErr))
		guest = m.newGuestf()
		token = ""
		m.degraded = true
	}
	target := Store(m.store)
	if m.degraded {
		target = m.fallback
	}
	if err := target.Set(ctx, guest); err != nil {
		m.degraded = true
		_ = m.fallback.Set(ctx, guest)
	}
	m.token = token

	m.logger.Info("identity cleared",
		zap.String("prior_id", idOf(prior)),
		zap.String("new_guest_id", guest.ID))
	m.broadcast(guest, token)
	return guest, nil
}

// ActiveToken returns the bearer token for the active identity, or "" when
// the manager does not hold one.
func (m *Manager) ActiveToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

func (m *Manager) broadcast(identity domain.Identity, token string) {
	if m.caster == nil {
		return
	}
	m.caster.Broadcast(bridge.MsgIdentityChanged, ChangedPayload{ID: identity.ID, Kind: identity.Kind, Token: token})
}

func (m *Manager) handleGetActiveIdentity(ctx context.Context, _ json.RawMessage) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, err := m.activeIdentityLocked(ctx)
	if err != nil {
		return nil, err
	}
	return ChangedPayload{ID: identity.ID, Kind: identity.Kind, Token: m.token}, nil
}

func (m *Manager) handlePromoteToPermanent(ctx context.Context, payload json.RawMessage) (any, error) {
	var req PromoteRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, apperrors.NewValidationError("invalid promote payload", nil)
	}
	identity := domain.Identity{ID: req.Identity.ID, Kind: req.Identity.Kind}
	if err := m.Promote(ctx, identity, req.Identity.Token); err != nil {
		return nil, err
	}
	return AckResponse{Success: true}, nil
}

func (m *Manager) handleClearIdentity(ctx context.Context, _ json.RawMessage) (any, error) {
	guest, err := m.Clear(ctx)
	if err != nil {
		return nil, err
	}
	return AckResponse{Success: true, Identity: &ChangedPayload{ID: guest.ID, Kind: guest.Kind, Token: m.ActiveToken()}}, nil
}

func idOf(identity *domain.Identity) string {
	if identity == nil {
		return ""
	}
	return identity.ID
}
