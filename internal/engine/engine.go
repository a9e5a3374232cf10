// Package engine evaluates driver location fixes against active geofences,
// tracks per-driver occupancy, and hands detected transitions to a sink.
//
// Fixes for one driver are always processed on the same worker goroutine, so
// they are serialized; different drivers run in parallel. Fixes are evaluated
// in arrival order; the engine does not buffer or reorder late GPS samples.
package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sort"
	"sync"
	"time"

	"zonewatch/internal/geo"
	"zonewatch/internal/metrics"
	"zonewatch/internal/model"
)

var (
	// ErrInvalidFix marks a malformed fix; the fix is rejected without
	// touching any state.
	ErrInvalidFix = errors.New("invalid fix")
	// ErrBusy is returned when a worker queue is full.
	ErrBusy = errors.New("engine overloaded")
)

// FenceSource yields the active geofence set for a tenant (registry).
type FenceSource interface {
	Active(ctx context.Context, tenantID string) ([]model.Geofence, error)
}

// Sink receives the transitions detected for one fix.
type Sink interface {
	EmitTransitions(ctx context.Context, fix model.DriverFix, transitions []Transition)
}

// Transition is one enter or exit detected against a single zone.
type Transition struct {
	Geofence model.Geofence
	Type     string // model.EventEnter | model.EventExit
}

type Engine struct {
	src  FenceSource
	sink Sink

	// occupancy: tenantId|driverId -> set of geofence ids. Presence of the
	// key marks a driver as seen; a seen driver with an empty set is outside
	// every zone. Keying by tenant keeps one tenant's reads from seeing
	// another tenant's drivers.
	mu  sync.RWMutex
	occ map[string]map[string]struct{}

	workers []chan model.DriverFix
	wg      sync.WaitGroup
	quit    chan struct{}
}

// New builds an engine with nWorkers single-goroutine workers, each with a
// queue of queueLen fixes.
func New(src FenceSource, sink Sink, nWorkers, queueLen int) *Engine {
	if nWorkers <= 0 {
		nWorkers = 8
	}
	if queueLen <= 0 {
		queueLen = 256
	}
	e := &Engine{
		src:  src,
		sink: sink,
		occ:  map[string]map[string]struct{}{},
		quit: make(chan struct{}),
	}
	for i := 0; i < nWorkers; i++ {
		e.workers = append(e.workers, make(chan model.DriverFix, queueLen))
	}
	return e
}

// Start launches the worker goroutines.
func (e *Engine) Start() {
	for _, ch := range e.workers {
		ch := ch
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for {
				select {
				case <-e.quit:
					return
				case fix := <-ch:
					e.process(context.Background(), fix)
				}
			}
		}()
	}
}

// Stop shuts down the workers. Queued fixes may be dropped.
func (e *Engine) Stop() {
	close(e.quit)
	e.wg.Wait()
}

// Submit validates a fix and enqueues it on the worker owning its driver.
// Returns ErrInvalidFix for malformed fixes and ErrBusy when the worker
// queue is full.
func (e *Engine) Submit(fix model.DriverFix) error {
	if err := ValidateFix(fix); err != nil {
		metrics.FixesProcessed.WithLabelValues("invalid").Inc()
		return err
	}
	if fix.TS == "" {
		fix.TS = time.Now().UTC().Format(time.RFC3339)
	}
	ch := e.workers[shard(fix.DriverID, len(e.workers))]
	select {
	case ch <- fix:
		return nil
	default:
		metrics.FixesProcessed.WithLabelValues("dropped").Inc()
		return ErrBusy
	}
}

// ValidateFix checks the structural validity of a fix.
func ValidateFix(fix model.DriverFix) error {
	if fix.DriverID == "" {
		return fmt.Errorf("%w: missing driverId", ErrInvalidFix)
	}
	if fix.TenantID == "" {
		return fmt.Errorf("%w: missing tenantId", ErrInvalidFix)
	}
	if fix.Lat < -90 || fix.Lat > 90 {
		return fmt.Errorf("%w: lat %v out of range", ErrInvalidFix, fix.Lat)
	}
	if fix.Lng < -180 || fix.Lng > 180 {
		return fmt.Errorf("%w: lng %v out of range", ErrInvalidFix, fix.Lng)
	}
	if fix.TS != "" {
		if _, err := time.Parse(time.RFC3339, fix.TS); err != nil {
			return fmt.Errorf("%w: bad ts: %v", ErrInvalidFix, err)
		}
	}
	return nil
}

// process runs the full pipeline for one fix. Only the worker owning the
// driver calls this, so commits for a driver never race.
func (e *Engine) process(ctx context.Context, fix model.DriverFix) {
	start := time.Now()
	fences, err := e.src.Active(ctx, fix.TenantID)
	if err != nil {
		// Occupancy stays as-is; evaluation resumes when the store recovers.
		metrics.FixesProcessed.WithLabelValues("store_unavailable").Inc()
		log.Printf("engine: skipping fix for driver %s: %v", fix.DriverID, err)
		return
	}

	next := evaluate(fix, fences)
	prev, seen := e.commit(occKey(fix.TenantID, fix.DriverID), next)
	metrics.EvalDuration.Observe(time.Since(start).Seconds())

	if !seen {
		// First fix ever for this driver: occupancy is the silent baseline,
		// no enter events for zones it already stands in.
		metrics.FixesProcessed.WithLabelValues("baseline").Inc()
		return
	}
	metrics.FixesProcessed.WithLabelValues("ok").Inc()

	transitions := diff(prev, next, fences)
	if len(transitions) == 0 {
		return
	}
	for _, tr := range transitions {
		metrics.Transitions.WithLabelValues(tr.Type).Inc()
	}
	e.sink.EmitTransitions(ctx, fix, transitions)
}

// evaluate computes the occupied set for a fix: linear scan over the active
// zones. Tenants are expected to hold tens of zones; a spatial index would
// only pay off far beyond that.
func evaluate(fix model.DriverFix, fences []model.Geofence) map[string]struct{} {
	out := map[string]struct{}{}
	p := fix.Point()
	for _, gf := range fences {
		if geo.InGeofence(p, gf) {
			out[gf.ID] = struct{}{}
		}
	}
	return out
}

// commit swaps in the new occupied set for a driver and returns the previous
// one. seen is false on the driver's very first fix.
func (e *Engine) commit(key string, next map[string]struct{}) (prev map[string]struct{}, seen bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev, seen = e.occ[key]
	e.occ[key] = next
	return prev, seen
}

// diff produces enter transitions for ids in next but not prev, and exit
// transitions for ids in prev but not next. Steady-state membership is not
// re-announced. Transition order within one fix is unspecified.
func diff(prev, next map[string]struct{}, fences []model.Geofence) []Transition {
	var out []Transition
	byID := map[string]model.Geofence{}
	for _, gf := range fences {
		byID[gf.ID] = gf
	}
	for id := range next {
		if _, ok := prev[id]; !ok {
			out = append(out, Transition{Geofence: byID[id], Type: model.EventEnter})
		}
	}
	for id := range prev {
		if _, ok := next[id]; !ok {
			// A zone deactivated since the last fix still produces an exit;
			// its definition may no longer be in the active set.
			gf, ok := byID[id]
			if !ok {
				gf = model.Geofence{ID: id}
			}
			out = append(out, Transition{Geofence: gf, Type: model.EventExit})
		}
	}
	return out
}

// Occupancy returns a sorted copy of the zone ids a tenant's driver
// currently occupies. In-flight fixes are not reflected until their worker
// commits.
func (e *Engine) Occupancy(tenantID, driverID string) []string {
	e.mu.RLock()
	set := e.occ[occKey(tenantID, driverID)]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	e.mu.RUnlock()
	sort.Strings(out)
	return out
}

func occKey(tenantID, driverID string) string {
	return tenantID + "|" + driverID
}

func shard(driverID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(driverID))
	return int(h.Sum32() % uint32(n))
}
