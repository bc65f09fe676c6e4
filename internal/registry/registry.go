// ABOUTME: In-memory agent registry - registration, heartbeats, capability discovery.
// ABOUTME: Expired entries are excluded from Find but only removed by Sweep.

package registry

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/concord-agents/concord-gateway/internal/profile"
)

// ErrAlreadyRegistered indicates an agent with the same identity is already registered.
var ErrAlreadyRegistered = errors.New("agent already registered")

// ErrNotRegistered indicates the specified agent was not found.
var ErrNotRegistered = errors.New("agent not registered")

// Registration describes one registered agent endpoint.
type Registration struct {
	Identity      profile.Identity
	Endpoint      string
	Capabilities  []string
	LastHeartbeat time.Time
}

// Healthy reports whether the registration was refreshed within the expiry
// interval as of now.
func (r *Registration) Healthy(expiry time.Duration, now time.Time) bool {
	return now.Sub(r.LastHeartbeat) < expiry
}

// HasCapability reports whether the agent advertises the given capability.
func (r *Registration) HasCapability(capability string) bool {
	for _, c := range r.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Registry tracks registered agents and answers discovery queries.
// It is an explicit, injectable store: no package-level state, so tests can
// construct isolated instances.
type Registry struct {
	mu      sync.RWMutex
	entries map[profile.Identity]*Registration
	expiry  time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the registry's time source. Used by tests to drive
// expiry deterministically.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a Registry whose entries expire from discovery after the
// given interval without a heartbeat.
func New(expiry time.Duration, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		entries: make(map[profile.Identity]*Registration),
		expiry:  expiry,
		logger:  logger.With("component", "registry"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an agent. Re-registering an identity that is still live
// returns ErrAlreadyRegistered; an expired entry may be replaced, which
// covers agents restarting after a crash.
func (r *Registry) Register(id profile.Identity, endpoint string, capabilities []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, ok := r.entries[id]; ok && existing.Healthy(r.expiry, now) {
		return ErrAlreadyRegistered
	}

	r.entries[id] = &Registration{
		Identity:      id,
		Endpoint:      endpoint,
		Capabilities:  append([]string(nil), capabilities...),
		LastHeartbeat: now,
	}
	r.logger.Info("agent registered",
		"identity", id,
		"endpoint", endpoint,
		"capabilities", capabilities,
		"total_agents", len(r.entries),
	)
	return nil
}

// Heartbeat refreshes an agent's liveness timestamp.
func (r *Registry) Heartbeat(id profile.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return ErrNotRegistered
	}
	entry.LastHeartbeat = r.now()
	return nil
}

// Deregister removes an agent immediately.
func (r *Registry) Deregister(id profile.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; !ok {
		return ErrNotRegistered
	}
	delete(r.entries, id)
	r.logger.Info("agent deregistered", "identity", id, "total_agents", len(r.entries))
	return nil
}

// Find returns all live registrations advertising the capability, sorted by
// identity for deterministic selection. Expired entries are filtered out
// but kept in the map; a transient network blip should not permanently
// remove an agent from discovery.
func (r *Registry) Find(capability string) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	var out []*Registration
	for _, entry := range r.entries {
		if !entry.Healthy(r.expiry, now) {
			continue
		}
		if !entry.HasCapability(capability) {
			continue
		}
		copied := *entry
		copied.Capabilities = append([]string(nil), entry.Capabilities...)
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Get returns the registration for an identity regardless of liveness.
func (r *Registry) Get(id profile.Identity) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	copied := *entry
	copied.Capabilities = append([]string(nil), entry.Capabilities...)
	return &copied, true
}

// List returns all registrations, live or expired, sorted by identity.
func (r *Registry) List() []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Registration, 0, len(r.entries))
	for _, entry := range r.entries {
		copied := *entry
		copied.Capabilities = append([]string(nil), entry.Capabilities...)
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Expiry returns the configured liveness interval.
func (r *Registry) Expiry() time.Duration {
	return r.expiry
}

// Sweep deletes entries that have been expired for at least the grace
// period and returns how many were removed.
func (r *Registry) Sweep(grace time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for id, entry := range r.entries {
		if now.Sub(entry.LastHeartbeat) >= r.expiry+grace {
			delete(r.entries, id)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Info("swept expired registrations", "removed", removed, "remaining", len(r.entries))
	}
	return removed
}

// RunSweeper sweeps at the given interval until stop is closed.
func (r *Registry) RunSweeper(interval, grace time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.Sweep(grace)
		}
	}
}
