// Package registry serves the per-tenant set of active geofences with a short
// TTL cache in front of the definition store.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"zonewatch/internal/metrics"
	"zonewatch/internal/model"
)

// ErrStoreUnavailable wraps any failure to load definitions. Callers skip
// evaluation for the affected tenant this cycle instead of crashing.
var ErrStoreUnavailable = errors.New("geofence store unavailable")

// Source is the slice of the store the registry needs.
type Source interface {
	ListActiveGeofences(ctx context.Context, tenantID string) ([]model.Geofence, error)
}

// Registry caches active geofence snapshots per tenant. Snapshots are
// immutable once built; a refresh builds a new slice and swaps it in, so
// concurrent readers never observe a half-updated set. Occupancy computed
// between a zone edit and the next refresh may use the stale set; the
// staleness window is bounded by the TTL.
type Registry struct {
	src     Source
	ttl     time.Duration
	timeout time.Duration

	mu    sync.RWMutex
	cache map[string]*snapshot
}

type snapshot struct {
	fences  []model.Geofence
	expires time.Time
}

func New(src Source, ttl, timeout time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Registry{src: src, ttl: ttl, timeout: timeout, cache: map[string]*snapshot{}}
}

// Active returns the current active geofence set for a tenant, reloading from
// the source when the cached snapshot has expired. The returned slice is
// shared and must not be mutated.
func (r *Registry) Active(ctx context.Context, tenantID string) ([]model.Geofence, error) {
	r.mu.RLock()
	snap := r.cache[tenantID]
	r.mu.RUnlock()
	if snap != nil && time.Now().Before(snap.expires) {
		return snap.fences, nil
	}

	lctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	fences, err := r.src.ListActiveGeofences(lctx, tenantID)
	if err != nil {
		metrics.RegistryReloads.WithLabelValues("error").Inc()
		// serve the stale snapshot if we still have one; a wedged store
		// should not erase state we already hold
		if snap != nil {
			return snap.fences, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	metrics.RegistryReloads.WithLabelValues("ok").Inc()

	r.mu.Lock()
	r.cache[tenantID] = &snapshot{fences: fences, expires: time.Now().Add(r.ttl)}
	r.mu.Unlock()
	return fences, nil
}

// Invalidate drops a tenant's cached snapshot so the next fix sees edits
// immediately instead of waiting out the TTL.
func (r *Registry) Invalidate(tenantID string) {
	r.mu.Lock()
	delete(r.cache, tenantID)
	r.mu.Unlock()
}
