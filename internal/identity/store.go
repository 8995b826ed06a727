package identity

import (
	"context"
	"sync"
	"time"

	"github.com/spec-kit/clip-service/internal/domain"
)

// Store is the durable key/value store for the active identity in the
// privileged context. Get returns (nil, nil) when no identity has ever been
// created. Set is atomic: the id and kind fields are never observable half
// written. Storage failures surface as a STORAGE_UNAVAILABLE domain error;
// callers fall back to a session-only identity rather than failing.
type Store interface {
	Get(ctx context.Context) (*domain.Identity, error)
	Set(ctx context.Context, identity domain.Identity) error
	// SetIfAbsent writes only when no identity is stored and reports
	// whether the write happened. It is the check-then-create primitive
	// that keeps concurrent first resolutions from minting two guests.
	SetIfAbsent(ctx context.Context, identity domain.Identity) (bool, error)
	Clear(ctx context.Context) error
}

// MemoryStore is a session-only Store. It backs tests and the degraded
// fallback used while the durable store is unavailable.
type MemoryStore struct {
	mu       sync.Mutex
	identity *domain.Identity
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Get returns the stored identity, or nil when absent.
func (s *MemoryStore) Get(ctx context.Context) (*domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return nil, nil
	}
	copied := *s.identity
	return &copied, nil
}

// Set overwrites the stored identity.
func (s *MemoryStore) Set(ctx context.Context, identity domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now()
	}
	s.identity = &identity
	return nil
}

// SetIfAbsent writes only when empty.
func (s *MemoryStore) SetIfAbsent(ctx context.Context, identity domain.Identity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity != nil {
		return false, nil
	}
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now()
	}
	s.identity = &identity
	return true, nil
}

// Clear removes the stored identity.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = nil
	return nil
}
