// Package emit turns detected transitions into durable geofence events and
// fans them out to downstream consumers.
package emit

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"

	"zonewatch/internal/engine"
	"zonewatch/internal/metrics"
	"zonewatch/internal/model"
)

// ErrPersist marks an event that could not be written to the log. The
// driver's occupancy has already advanced by then; state consistency wins
// over log completeness here.
var ErrPersist = errors.New("geofence event persist failed")

// EventStore is the slice of the store the emitter writes to.
type EventStore interface {
	InsertGeofenceEvent(ctx context.Context, evt model.GeofenceEvent) error
}

// Notifier is a best-effort downstream consumer (activity feed, webhooks,
// order advancement). Failures are logged and counted, never retried here;
// the persisted event log is the source of truth for reconciliation.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, evt model.GeofenceEvent) error
}

type Emitter struct {
	Store     EventStore
	Notifiers []Notifier
}

func New(store EventStore, notifiers ...Notifier) *Emitter {
	return &Emitter{Store: store, Notifiers: notifiers}
}

// EmitTransitions persists one event per transition and notifies consumers
// after each successful write. A failed write loses that event (counted);
// remaining transitions still proceed.
func (em *Emitter) EmitTransitions(ctx context.Context, fix model.DriverFix, transitions []engine.Transition) {
	for _, tr := range transitions {
		evt := model.GeofenceEvent{
			ID:         uuid.New().String(),
			TenantID:   fix.TenantID,
			GeofenceID: tr.Geofence.ID,
			DriverID:   fix.DriverID,
			OrderID:    fix.OrderID,
			Type:       tr.Type,
			Purpose:    tr.Geofence.Purpose,
			TS:         fix.TS,
		}
		if err := em.Store.InsertGeofenceEvent(ctx, evt); err != nil {
			metrics.EventPersistFailures.Inc()
			log.Printf("emit: %v: %v", ErrPersist, err)
			continue
		}
		for _, n := range em.Notifiers {
			if err := n.Notify(ctx, evt); err != nil {
				metrics.NotifyFailures.WithLabelValues(n.Name()).Inc()
				log.Printf("emit: notify %s failed for event %s: %v", n.Name(), evt.ID, err)
			}
		}
	}
}

// WireType maps a stored event type to the public event name used on the
// activity feed and webhook subscriptions.
func WireType(eventType string) string {
	if eventType == model.EventExit {
		return "geofence.exited"
	}
	return "geofence.entered"
}
