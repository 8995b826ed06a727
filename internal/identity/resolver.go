package identity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/clip-service/internal/bridge"
	"github.com/spec-kit/clip-service/internal/domain"
)

// State is the resolver's view of its context's identity.
type State string

const (
	StateUnresolved State = "UNRESOLVED"
	StateGuest      State = "GUEST"
	StatePermanent  State = "PERMANENT"
)

// SessionBinding is a context's ephemeral cache of the active identity and
// its bearer token.
type SessionBinding struct {
	Identity  domain.Identity
	Token     string
	FetchedAt time.Time
}

// Resolver decides what the active identity is for one isolated context.
// It lazily fetches from the privileged store over the bridge, caches the
// result with a TTL, and degrades to a session-only guest when the bridge
// does not answer. The privileged store always wins over the cache.
type Resolver struct {
	caller bridge.Caller
	ttl    time.Duration
	logger *zap.Logger

	mu       sync.Mutex
	binding  *SessionBinding
	degraded bool
	pending  chan struct{}
	inflight chan struct{}
}

// NewResolver builds a resolver for one context.
func NewResolver(caller bridge.Caller, ttl time.Duration, logger *zap.Logger) *Resolver {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{caller: caller, ttl: ttl, logger: logger}
}

// State reports the current resolution state.
func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.binding == nil {
		return StateUnresolved
	}
	if r.binding.Identity.Kind == domain.IdentityKindPermanent {
		return StatePermanent
	}
	return StateGuest
}

// Resolve returns the active identity for this context. While a promotion
// is pending the call waits for it to finish, so work issued mid-transition
// is queued rather than applied against a stale identity. A bridge timeout
// yields a degraded session-only identity, never an error.
func (r *Resolver) Resolve(ctx context.Context) (domain.Identity, error) {
	if err := r.waitPending(ctx); err != nil {
		return domain.Identity{}, err
	}

	r.mu.Lock()
	if r.binding != nil && !r.degraded && time.Since(r.binding.FetchedAt) < r.ttl {
		identity := r.binding.Identity
		r.mu.Unlock()
		return identity, nil
	}

	// Single-flight: the first caller fetches, the rest wait and reuse.
	if r.inflight != nil {
		wait := r.inflight
		r.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return domain.Identity{}, ctx.Err()
		}
		r.mu.Lock()
		if r.binding != nil {
			identity := r.binding.Identity
			r.mu.Unlock()
			return identity, nil
		}
		r.mu.Unlock()
		return r.Resolve(ctx)
	}

	done := make(chan struct{})
	r.inflight = done
	r.mu.Unlock()

	identity, token, degraded := r.fetch(ctx)

	r.mu.Lock()
	r.adoptLocked(identity, token, degraded)
	r.inflight = nil
	close(done)
	result := r.binding.Identity
	r.mu.Unlock()
	return result, nil
}

// fetch asks the privileged context for the active identity. On timeout it
// falls back to the cached binding, stale or not, and finally to a fresh
// session-only guest.
func (r *Resolver) fetch(ctx context.Context) (domain.Identity, string, bool) {
	var payload ChangedPayload
	err := r.caller.Call(ctx, bridge.MsgGetActiveIdentity, nil, &payload)
	if err == nil && payload.ID != "" {
		return domain.Identity{ID: payload.ID, Kind: payload.Kind, CreatedAt: time.Now()}, payload.Token, false
	}

	if errors.Is(err, bridge.ErrTimeout) || errors.Is(err, bridge.ErrClosed) {
		r.logger.Warn("bridge unavailable; degrading to session identity", zap.Error(err))
	} else {
		r.logger.Warn("identity fetch failed", zap.Error(err))
	}

	r.mu.Lock()
	cached := r.binding
	r.mu.Unlock()
	if cached != nil {
		return cached.Identity, cached.Token, true
	}

	return domain.Identity{
		ID:        uuid.NewString(),
		Kind:      domain.IdentityKindGuest,
		CreatedAt: time.Now(),
	}, "", true
}

// adoptLocked reconciles a fetched identity with the cache. The privileged
// store wins; as a defensive rule a cached permanent identity is not
// displaced by a degraded guess of a guest.
func (r *Resolver) adoptLocked(identity domain.Identity, token string, degraded bool) {
	if degraded && r.binding != nil &&
		r.binding.Identity.Kind == domain.IdentityKindPermanent &&
		identity.Kind == domain.IdentityKindGuest {
		r.binding.FetchedAt = time.Now()
		r.degraded = true
		return
	}
	r.binding = &SessionBinding{Identity: identity, Token: token, FetchedAt: time.Now()}
	r.degraded = degraded
}

// waitPending blocks while a promotion transition is in flight.
func (r *Resolver) waitPending(ctx context.Context) error {
	r.mu.Lock()
	pending := r.pending
	r.mu.Unlock()
	if pending == nil {
		return nil
	}
	select {
	case <-pending:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BeginPromotion switches the resolver into the pending sub-state for a
// guest-to-permanent transition. The returned function ends the transition;
// it must be called exactly once, on success or failure.
func (r *Resolver) BeginPromotion() func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending != nil {
		done := r.pending
		return func() { _ = done } // already pending; caller was rejected upstream
	}
	done := make(chan struct{})
	r.pending = done
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.pending = nil
			r.mu.Unlock()
			close(done)
		})
	}
}

// Adopt installs an identity pushed from the privileged context, typically
// from an identityChanged broadcast or a sign-out response.
func (r *Resolver) Adopt(identity domain.Identity) {
	r.adopt(identity, "")
}

func (r *Resolver) adopt(identity domain.Identity, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adoptLocked(identity, token, false)
}

// Token returns the bearer token bound to the cached identity, or "" when
// none is held.
func (r *Resolver) Token() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.binding == nil {
		return ""
	}
	return r.binding.Token
}

// Listen consumes identityChanged broadcasts until ctx is done.
func (r *Resolver) Listen(ctx context.Context, broadcasts <-chan bridge.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-broadcasts:
			if !ok {
				return
			}
			if env.Channel != bridge.Channel || env.Name != bridge.MsgIdentityChanged {
				continue
			}
			var payload ChangedPayload
			if err := env.DecodePayload(&payload); err != nil || payload.ID == "" {
				continue
			}
			r.adopt(domain.Identity{ID: payload.ID, Kind: payload.Kind, CreatedAt: time.Now()}, payload.Token)
		}
	}
}

// AuthOutcome is the context-side view of a completed authentication.
type AuthOutcome struct {
	Identity        domain.Identity
	Role            string
	Token           string
	Migrated        int64
	TransferWarning bool
}

// SignIn drives a login or register through the privileged context. The
// resolver stays in the pending sub-state for the whole exchange, so
// resolutions issued mid-transition wait for the promoted identity instead
// of acting on the outgoing guest. message is bridge.MsgLogin or
// bridge.MsgRegister.
func (r *Resolver) SignIn(ctx context.Context, message, email, password string) (*AuthOutcome, error) {
	finish := r.BeginPromotion()
	defer finish()

	var reply struct {
		Identity struct {
			ID   string              `json:"id"`
			Kind domain.IdentityKind `json:"kind"`
		} `json:"identity"`
		Role            string `json:"role"`
		Token           string `json:"token"`
		Migrated        int64  `json:"migrated"`
		TransferWarning bool   `json:"transfer_warning"`
	}
	payload := map[string]string{"email": email, "password": password}
	if err := r.caller.Call(ctx, message, payload, &reply); err != nil {
		return nil, err
	}
	if reply.Identity.ID == "" || !reply.Identity.Kind.Valid() {
		return nil, errors.New("authentication returned no usable identity")
	}

	identity := domain.Identity{ID: reply.Identity.ID, Kind: reply.Identity.Kind, CreatedAt: time.Now()}
	r.adopt(identity, reply.Token)
	return &AuthOutcome{
		Identity:        identity,
		Role:            reply.Role,
		Token:           reply.Token,
		Migrated:        reply.Migrated,
		TransferWarning: reply.TransferWarning,
	}, nil
}

// SignOut clears the privileged identity and adopts the replacement guest.
func (r *Resolver) SignOut(ctx context.Context) (domain.Identity, error) {
	var ack AckResponse
	if err := r.caller.Call(ctx, bridge.MsgClearIdentity, nil, &ack); err != nil {
		return domain.Identity{}, err
	}
	if ack.Identity == nil {
		return domain.Identity{}, errors.New("clearIdentity returned no replacement identity")
	}
	identity := domain.Identity{ID: ack.Identity.ID, Kind: ack.Identity.Kind, CreatedAt: time.Now()}
	r.adopt(identity, ack.Identity.Token)
	return identity, nil
}
