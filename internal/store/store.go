package store

import (
    "context"
    "errors"
    "time"

    "zonewatch/internal/model"
)

// Store is the persistence interface used by the API server and the engine's
// collaborators.
type Store interface {
    // Geofences
    CreateGeofence(ctx context.Context, tenantID string, in model.GeofenceInput) (model.Geofence, error)
    ListGeofences(ctx context.Context, tenantID, cursor string, limit int) ([]model.Geofence, string, error)
    GetGeofence(ctx context.Context, tenantID, id string) (model.Geofence, error)
    PatchGeofence(ctx context.Context, tenantID, id string, in model.GeofenceInput) (model.Geofence, error)
    DeactivateGeofence(ctx context.Context, tenantID, id string) error
    ListActiveGeofences(ctx context.Context, tenantID string) ([]model.Geofence, error)

    // Geofence event log (append-only)
    InsertGeofenceEvent(ctx context.Context, evt model.GeofenceEvent) error
    ListGeofenceEvents(ctx context.Context, tenantID string, q model.EventQuery, cursor string, limit int) ([]model.GeofenceEvent, string, error)

    // Order status advancement (downstream of zone entries)
    AdvanceOrderStatus(ctx context.Context, tenantID, orderID, status string) error

    // Webhook subscriptions
    CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
    GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
    ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error)
    DeleteSubscription(ctx context.Context, tenantID, id string) error

    // Webhook delivery queue
    EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
    FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
    MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
    FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
    ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error)
    RetryWebhookDelivery(ctx context.Context, tenantID, id string) error
}

// WebhookDelivery is one queued webhook attempt.
type WebhookDelivery struct {
    ID             string
    TenantID       string
    SubscriptionID string
    EventType      string
    URL            string
    Secret         string
    Payload        []byte
    Status         string
    Attempts       int
}

var ErrNotFound = errors.New("not found")
