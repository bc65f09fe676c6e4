// ABOUTME: Store interface for preference profiles plus the in-memory implementation.
// ABOUTME: Writes belong to the owning identity; reads are shared with the collab layer.

package profile

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store is the preference store boundary consumed by personal agents and
// the collaborative middleware.
type Store interface {
	// Get returns the profile for an identity, or ErrNotFound.
	Get(ctx context.Context, id Identity) (*Profile, error)

	// Put creates or replaces the profile for profile.Identity.
	Put(ctx context.Context, p *Profile) error

	// Deactivate marks an identity inactive. Its profile stops resolving
	// but is not physically deleted.
	Deactivate(ctx context.Context, id Identity) error

	// List returns all active identities in sorted order.
	List(ctx context.Context) ([]Identity, error)

	// Close releases store resources.
	Close() error
}

// MemoryStore is an in-memory Store used by tests and single-process runs.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[Identity]*Profile
	inactive map[Identity]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[Identity]*Profile),
		inactive: make(map[Identity]struct{}),
	}
}

// Get returns a copy of the stored profile.
func (s *MemoryStore) Get(ctx context.Context, id Identity) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, gone := s.inactive[id]; gone {
		return nil, ErrNotFound
	}
	p, ok := s.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// Put validates, normalizes and stores a copy of the profile.
func (s *MemoryStore) Put(ctx context.Context, p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	stored := p.Clone()
	stored.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.profiles[stored.Identity]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	delete(s.inactive, stored.Identity)
	s.profiles[stored.Identity] = stored
	return nil
}

// Deactivate hides an identity from lookups without deleting its record.
func (s *MemoryStore) Deactivate(ctx context.Context, id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[id]; !ok {
		return ErrNotFound
	}
	s.inactive[id] = struct{}{}
	return nil
}

// List returns all active identities sorted.
func (s *MemoryStore) List(ctx context.Context) ([]Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Identity, 0, len(s.profiles))
	for id := range s.profiles {
		if _, gone := s.inactive[id]; gone {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
