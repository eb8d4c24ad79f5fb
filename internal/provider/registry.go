package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Availability is the cached reachability state of a provider.
type Availability int

const (
	// AvailabilityUnknown means the provider has not been probed yet (or
	// the cache entry expired).
	AvailabilityUnknown Availability = iota

	// Available means the last probe within the TTL succeeded.
	Available

	// Unavailable means the last probe within the TTL failed. The provider
	// stays Unavailable until the TTL expires or an explicit Refresh.
	Unavailable
)

// String returns the availability's display name.
func (a Availability) String() string {
	switch a {
	case Available:
		return "available"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// DefaultCacheTTL is how long a probe result and model list stay fresh.
// Thirty seconds is long enough that populating a UI does not re-probe the
// network on every query, and short enough that a fresh session re-probes.
const DefaultCacheTTL = 30 * time.Second

// Descriptor is the cached view of one provider: identity, availability,
// and its model list.
type Descriptor struct {
	Name         string
	Availability Availability
	Models       []string

	// ProbeErr is the error from the last failed probe, nil when available.
	ProbeErr error

	fetchedAt time.Time
}

// Registry holds the set of configured clients and answers availability and
// model-list queries with a short-lived cache. The cache is explicit state:
// initialized empty, filled on demand, invalidated by Refresh or TTL expiry.
// It is safe for concurrent use.
type Registry struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	clients map[string]Client
	cache   map[string]*Descriptor
}

// NewRegistry creates a registry over the given clients with the default TTL.
func NewRegistry(clients ...Client) *Registry {
	r := &Registry{
		ttl:     DefaultCacheTTL,
		now:     time.Now,
		clients: make(map[string]Client, len(clients)),
		cache:   make(map[string]*Descriptor),
	}
	for _, c := range clients {
		r.clients[c.Name()] = c
	}
	return r
}

// Client returns the client for a provider id.
func (r *Registry) Client(id string) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured", id)
	}
	return c, nil
}

// Names returns the configured provider ids, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the provider's cached descriptor, probing the backend and
// fetching its model list when the cache entry is missing or stale. A failed
// probe is cached too: the provider reads Unavailable until the TTL passes
// or Refresh is called, and the probe is not retried beyond the client's own
// retry policy.
func (r *Registry) Describe(ctx context.Context, id string) (Descriptor, error) {
	r.mu.Lock()
	client, ok := r.clients[id]
	if !ok {
		r.mu.Unlock()
		return Descriptor{}, fmt.Errorf("provider %q is not configured", id)
	}
	if d, ok := r.cache[id]; ok && r.now().Sub(d.fetchedAt) < r.ttl {
		r.mu.Unlock()
		return *d, nil
	}
	r.mu.Unlock()

	// Probe outside the lock; network calls must not serialize unrelated
	// registry reads.
	d := &Descriptor{Name: id, fetchedAt: r.now()}
	if err := client.Probe(ctx); err != nil {
		log.Warn().Str("provider", id).Err(err).Msg("Provider probe failed")
		d.Availability = Unavailable
		d.ProbeErr = err
	} else {
		d.Availability = Available
		models, err := client.ListModels(ctx)
		if err != nil {
			log.Warn().Str("provider", id).Err(err).Msg("Model listing failed")
		} else {
			sort.Strings(models)
			d.Models = models
		}
	}

	r.mu.Lock()
	r.cache[id] = d
	r.mu.Unlock()
	return *d, nil
}

// Refresh invalidates the cache entry for a provider so the next Describe
// re-probes. It does not probe itself.
func (r *Registry) Refresh(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, id)
}

// RefreshAll invalidates every cache entry.
func (r *Registry) RefreshAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]*Descriptor)
}
