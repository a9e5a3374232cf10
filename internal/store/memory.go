package store

import (
    "context"
    "sync"
    "time"

    "github.com/google/uuid"
    "zonewatch/internal/model"
)

// Memory is the in-memory store used when no DATABASE_URL is set.
type Memory struct {
    mu     sync.Mutex
    gfs    map[string]model.Geofence       // geofenceId -> geofence
    gfsTen map[string][]string             // tenant -> geofence ids (insertion order)
    events map[string][]model.GeofenceEvent // tenant -> events (append order)
    orders map[string]string               // tenant|orderId -> status
    subs   map[string][]model.Subscription // tenant -> subscriptions
    // webhook queue state
    deliveries         map[string]*memDelivery
    deliveriesByTenant map[string][]string
}

func NewMemory() *Memory {
    return &Memory{
        gfs:    map[string]model.Geofence{},
        gfsTen: map[string][]string{},
        events: map[string][]model.GeofenceEvent{},
        orders: map[string]string{},
        subs:   map[string][]model.Subscription{},
        deliveries:         map[string]*memDelivery{},
        deliveriesByTenant: map[string][]string{},
    }
}

// memDelivery augments WebhookDelivery with scheduling state
type memDelivery struct {
    WebhookDelivery
    NextAttemptAt time.Time
    LastError     string
    ResponseCode  int
    LatencyMs     int
}

// Geofences

func (m *Memory) CreateGeofence(ctx context.Context, tenantID string, in model.GeofenceInput) (model.Geofence, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    id := uuid.New().String()
    active := true
    if in.Active != nil { active = *in.Active }
    gf := model.Geofence{ID: id, TenantID: tenantID, Name: in.Name, Kind: in.Kind, Center: in.Center, RadiusM: in.RadiusM, Vertices: in.Vertices, Purpose: in.Purpose, Active: active}
    m.gfs[id] = gf
    m.gfsTen[tenantID] = append(m.gfsTen[tenantID], id)
    return gf, nil
}

func (m *Memory) ListGeofences(ctx context.Context, tenantID, cursor string, limit int) ([]model.Geofence, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    ids := m.gfsTen[tenantID]
    start := 0
    if cursor != "" {
        for i, id := range ids {
            if id == cursor { start = i + 1; break }
        }
    }
    if limit <= 0 { limit = 100 }
    out := []model.Geofence{}
    var next string
    for i := start; i < len(ids) && len(out) < limit; i++ {
        out = append(out, m.gfs[ids[i]])
        next = ids[i]
    }
    if len(out) < limit { next = "" }
    return out, next, nil
}

func (m *Memory) GetGeofence(ctx context.Context, tenantID, id string) (model.Geofence, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    gf, ok := m.gfs[id]
    if !ok || gf.TenantID != tenantID { return model.Geofence{}, ErrNotFound }
    return gf, nil
}

func (m *Memory) PatchGeofence(ctx context.Context, tenantID, id string, in model.GeofenceInput) (model.Geofence, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    gf, ok := m.gfs[id]
    if !ok || gf.TenantID != tenantID { return model.Geofence{}, ErrNotFound }
    if in.Name != "" { gf.Name = in.Name }
    if in.Kind != "" { gf.Kind = in.Kind }
    if in.RadiusM != 0 { gf.RadiusM = in.RadiusM }
    if in.Center != nil { gf.Center = in.Center }
    if len(in.Vertices) > 0 { gf.Vertices = in.Vertices }
    if in.Purpose != "" { gf.Purpose = in.Purpose }
    if in.Active != nil { gf.Active = *in.Active }
    m.gfs[id] = gf
    return gf, nil
}

func (m *Memory) DeactivateGeofence(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    gf, ok := m.gfs[id]
    if !ok || gf.TenantID != tenantID { return ErrNotFound }
    gf.Active = false
    m.gfs[id] = gf
    return nil
}

func (m *Memory) ListActiveGeofences(ctx context.Context, tenantID string) ([]model.Geofence, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.Geofence{}
    for _, id := range m.gfsTen[tenantID] {
        if gf := m.gfs[id]; gf.Active { out = append(out, gf) }
    }
    return out, nil
}

// Geofence events

func (m *Memory) InsertGeofenceEvent(ctx context.Context, evt model.GeofenceEvent) error {
    m.mu.Lock(); defer m.mu.Unlock()
    m.events[evt.TenantID] = append(m.events[evt.TenantID], evt)
    return nil
}

func (m *Memory) ListGeofenceEvents(ctx context.Context, tenantID string, q model.EventQuery, cursor string, limit int) ([]model.GeofenceEvent, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    all := m.events[tenantID]
    start := 0
    if cursor != "" {
        for i := range all {
            if all[i].ID == cursor { start = i + 1; break }
        }
    }
    if limit <= 0 { limit = 100 }
    out := []model.GeofenceEvent{}
    var next string
    for i := start; i < len(all) && len(out) < limit; i++ {
        e := all[i]
        if q.DriverID != "" && e.DriverID != q.DriverID { continue }
        if q.GeofenceID != "" && e.GeofenceID != q.GeofenceID { continue }
        if q.Type != "" && e.Type != q.Type { continue }
        out = append(out, e)
        next = e.ID
    }
    if len(out) < limit { next = "" }
    return out, next, nil
}

// Orders

func (m *Memory) AdvanceOrderStatus(ctx context.Context, tenantID, orderID, status string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    m.orders[tenantID+"|"+orderID] = status
    return nil
}

// OrderStatus is a test helper; production reads go through the order system.
func (m *Memory) OrderStatus(tenantID, orderID string) string {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.orders[tenantID+"|"+orderID]
}

// Subscriptions

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
    m.subs[req.TenantID] = append(m.subs[req.TenantID], s)
    return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    var out []model.Subscription
    for _, s := range m.subs[tenantID] {
        for _, e := range s.Events {
            if e == eventType { out = append(out, s); break }
        }
    }
    return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    list := m.subs[tenantID]
    start := 0
    if cursor != "" {
        for i := range list {
            if list[i].ID == cursor { start = i + 1; break }
        }
    }
    if limit <= 0 { limit = 100 }
    end := start + limit
    if end > len(list) { end = len(list) }
    items := append([]model.Subscription(nil), list[start:end]...)
    next := ""
    if end < len(list) { next = list[end-1].ID }
    return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    arr := m.subs[tenantID]
    out := make([]model.Subscription, 0, len(arr))
    for _, s := range arr {
        if s.ID != id { out = append(out, s) }
    }
    m.subs[tenantID] = out
    return nil
}

// Webhook deliveries

func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    id := uuid.New().String()
    d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, TenantID: tenantID, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending"}, NextAttemptAt: time.Now()}
    m.deliveries[id] = d
    m.deliveriesByTenant[tenantID] = append(m.deliveriesByTenant[tenantID], id)
    return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := time.Now()
    out := []WebhookDelivery{}
    for _, ids := range m.deliveriesByTenant {
        for _, id := range ids {
            d := m.deliveries[id]
            if d == nil { continue }
            if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
                out = append(out, d.WebhookDelivery)
                if limit > 0 && len(out) >= limit { return out, nil }
            }
        }
    }
    return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return nil }
    d.Attempts++
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    if success {
        d.Status = "delivered"
    } else {
        d.Status = "retry"
        d.LastError = lastError
        if nextAttemptAt != nil { d.NextAttemptAt = *nextAttemptAt } else { d.NextAttemptAt = time.Now().Add(time.Minute) }
    }
    return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d != nil {
        d.Status = "failed"
        d.Attempts++
        d.LastError = lastError
        d.ResponseCode = responseCode
        d.LatencyMs = latencyMs
    }
    return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []map[string]any{}
    for _, id := range m.deliveriesByTenant[tenantID] {
        d := m.deliveries[id]
        if d == nil { continue }
        if status == "" || d.Status == status {
            item := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
            if !d.NextAttemptAt.IsZero() { item["nextAttemptAt"] = d.NextAttemptAt }
            if d.LastError != "" { item["lastError"] = d.LastError }
            out = append(out, item)
        }
    }
    return out, "", nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d != nil && d.TenantID == tenantID {
        d.Status = "pending"
        d.NextAttemptAt = time.Now()
    }
    return nil
}
