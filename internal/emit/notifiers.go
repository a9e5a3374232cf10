package emit

import (
	"context"

	"zonewatch/internal/model"
)

// WebhookPublisher matches webhooks.Publisher.
type WebhookPublisher interface {
	Emit(ctx context.Context, tenantID, eventType string, data any)
}

// WebhookNotifier enqueues the event for every matching webhook subscription.
// Delivery itself is the webhook worker's job (at-least-once once enqueued).
type WebhookNotifier struct {
	Pub WebhookPublisher
}

func (w *WebhookNotifier) Name() string { return "webhooks" }

func (w *WebhookNotifier) Notify(ctx context.Context, evt model.GeofenceEvent) error {
	w.Pub.Emit(ctx, evt.TenantID, WireType(evt.Type), evt)
	return nil
}

// FeedBroker matches the API's activity broker.
type FeedBroker interface {
	PublishActivity(tenantID, eventType string, data map[string]any)
}

// FeedNotifier pushes the event onto the tenant's live activity feed.
type FeedNotifier struct {
	Broker FeedBroker
}

func (f *FeedNotifier) Name() string { return "activity_feed" }

func (f *FeedNotifier) Notify(ctx context.Context, evt model.GeofenceEvent) error {
	f.Broker.PublishActivity(evt.TenantID, WireType(evt.Type), map[string]any{
		"eventId":    evt.ID,
		"geofenceId": evt.GeofenceID,
		"driverId":   evt.DriverID,
		"orderId":    evt.OrderID,
		"purpose":    evt.Purpose,
		"ts":         evt.TS,
	})
	return nil
}

// OrderStore is the slice of the store the order advancer mutates.
type OrderStore interface {
	AdvanceOrderStatus(ctx context.Context, tenantID, orderID, status string) error
}

// OrderAdvancer moves an order forward when its driver enters a pickup or
// delivery zone. Exits and zones with other purposes are ignored.
type OrderAdvancer struct {
	Store OrderStore
}

func (a *OrderAdvancer) Name() string { return "order_status" }

func (a *OrderAdvancer) Notify(ctx context.Context, evt model.GeofenceEvent) error {
	if evt.OrderID == "" || evt.Type != model.EventEnter {
		return nil
	}
	var status string
	switch evt.Purpose {
	case "pickup-zone":
		status = "arrived_pickup"
	case "delivery-zone":
		status = "arrived_dropoff"
	default:
		return nil
	}
	return a.Store.AdvanceOrderStatus(ctx, evt.TenantID, evt.OrderID, status)
}
