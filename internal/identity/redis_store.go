package identity

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/clip-service/internal/domain"
	apperrors "github.com/spec-kit/clip-service/pkg/util"
)

// Fixed, collision-resistant keys for the two persisted scalar fields.
const (
	keyIdentityID      = "clipper:identity:id"
	keyIdentityKind    = "clipper:identity:kind"
	keyIdentityCreated = "clipper:identity:created_at"
)

// RedisStore is the durable privileged-context Store.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps a connected client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get reads the stored identity, or nil when none was ever created.
func (s *RedisStore) Get(ctx context.Context) (*domain.Identity, error) {
	values, err := s.client.MGet(ctx, keyIdentityID, keyIdentityKind, keyIdentityCreated).Result()
	if err != nil {
		return nil, apperrors.NewStorageUnavailable(err)
	}

	id, ok := values[0].(string)
	if !ok || id == "" {
		return nil, nil
	}

	identity := domain.Identity{ID: id, Kind: domain.IdentityKindGuest}
	if kind, ok := values[1].(string); ok && domain.IdentityKind(kind).Valid() {
		identity.Kind = domain.IdentityKind(kind)
	}
	if created, ok := values[2].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			identity.CreatedAt = ts
		}
	}
	return &identity, nil
}

// Set overwrites all fields in one atomic MSET.
func (s *RedisStore) Set(ctx context.Context, identity domain.Identity) error {
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now()
	}
	err := s.client.MSet(ctx,
		keyIdentityID, identity.ID,
		keyIdentityKind, string(identity.Kind),
		keyIdentityCreated, identity.CreatedAt.Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return apperrors.NewStorageUnavailable(err)
	}
	return nil
}

// SetIfAbsent writes all fields only when none exist yet. MSETNX is atomic
// across the keys, so the first writer wins and later writers adopt.
func (s *RedisStore) SetIfAbsent(ctx context.Context, identity domain.Identity) (bool, error) {
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now()
	}
	written, err := s.client.MSetNX(ctx,
		keyIdentityID, identity.ID,
		keyIdentityKind, string(identity.Kind),
		keyIdentityCreated, identity.CreatedAt.Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		return false, apperrors.NewStorageUnavailable(err)
	}
	return written, nil
}

// Clear removes the stored identity entirely.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, keyIdentityID, keyIdentityKind, keyIdentityCreated).Err(); err != nil {
		return apperrors.NewStorageUnavailable(err)
	}
	return nil
}
