package api

import (
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "strings"
    "time"

    "zonewatch/internal/model"
)

// LocationsHandler handles POST /v1/locations: a batch of GPS fixes.
// Accepted fixes are evaluated asynchronously; the response only reflects
// admission, not the transitions that evaluation may produce.
func (s *Server) LocationsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    pr := s.getPrincipal(r)
    var req struct {
        TenantID string            `json:"tenantId"`
        Fixes    []model.DriverFix `json:"fixes"`
    }
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if req.TenantID == "" {
        req.TenantID = pr.Tenant
    }
    if len(req.Fixes) == 0 {
        writeProblem(w, http.StatusBadRequest, "Missing fixes", "at least one fix required", r.URL.Path)
        return
    }
    accepted, rejected := 0, 0
    var errs []string
    for _, fix := range req.Fixes {
        fix.TenantID = req.TenantID
        if fix.TS == "" {
            fix.TS = time.Now().UTC().Format(time.RFC3339)
        }
        // drivers may only report for themselves
        if pr.Role == "driver" && pr.DriverID != "" && fix.DriverID != pr.DriverID {
            rejected++
            errs = append(errs, fmt.Sprintf("%s: not your driver id", fix.DriverID))
            continue
        }
        if !s.limiter.Allow(req.TenantID, fix.DriverID) {
            rejected++
            errs = append(errs, fmt.Sprintf("%s: rate limited", fix.DriverID))
            continue
        }
        if err := s.Engine.Submit(fix); err != nil {
            rejected++
            errs = append(errs, fmt.Sprintf("%s: %v", fix.DriverID, err))
            continue
        }
        accepted++
        s.Fixes.Upsert(req.TenantID, fix.DriverID, fix.Lat, fix.Lng, fix.TS)
    }
    resp := map[string]any{"accepted": accepted, "rejected": rejected}
    if len(errs) > 0 {
        resp["errors"] = errs
    }
    writeJSON(w, http.StatusAccepted, resp)
}

// OccupancyHandler handles GET /v1/drivers/{driverId}/occupancy
func (s *Server) OccupancyHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    rest := strings.TrimPrefix(r.URL.Path, "/v1/drivers/")
    parts := strings.Split(rest, "/")
    if len(parts) != 2 || parts[1] != "occupancy" || parts[0] == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
        return
    }
    driverID := parts[0]
    pr := s.getPrincipal(r)
    if pr.Role == "driver" && pr.DriverID != "" && pr.DriverID != driverID {
        writeProblem(w, http.StatusForbidden, "Forbidden", "not your driver id", r.URL.Path)
        return
    }
    ids := s.Engine.Occupancy(pr.Tenant, driverID)
    // enrich with zone details where the registry still knows them
    zones := make([]map[string]any, 0, len(ids))
    fences, ferr := s.Registry.Active(r.Context(), pr.Tenant)
    byID := map[string]model.Geofence{}
    for _, gf := range fences {
        byID[gf.ID] = gf
    }
    for _, id := range ids {
        z := map[string]any{"geofenceId": id}
        if gf, ok := byID[id]; ok {
            z["name"] = gf.Name
            z["purpose"] = gf.Purpose
        }
        zones = append(zones, z)
    }
    resp := map[string]any{"driverId": driverID, "zones": zones}
    if ferr != nil {
        // occupancy itself is in-memory and still correct; only the name and
        // purpose enrichment is missing
        resp["degraded"] = "geofence details unavailable"
    }
    if fix, ok := s.Fixes.Get(pr.Tenant, driverID); ok {
        resp["lastFix"] = fix
    }
    writeJSON(w, http.StatusOK, resp)
}

// Geofences
func (s *Server) GeofencesHandler(w http.ResponseWriter, r *http.Request) {
    pr := s.getPrincipal(r)
    switch r.Method {
    case http.MethodGet:
        if !pr.CanManage() { writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path); return }
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Store.ListGeofences(r.Context(), pr.Tenant, cursor, limit)
        if err != nil { writeError(w, err, r.URL.Path); return }
        writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
    case http.MethodPost:
        if !pr.CanManage() { writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path); return }
        var in model.GeofenceInput
        if err := json.NewDecoder(r.Body).Decode(&in); err != nil { writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path); return }
        if err := validateGeofenceInput(&in, false); err != nil { writeProblem(w, 400, "Invalid geofence", err.Error(), r.URL.Path); return }
        gf, err := s.Store.CreateGeofence(r.Context(), pr.Tenant, in)
        if err != nil { writeError(w, err, r.URL.Path); return }
        s.Registry.Invalidate(pr.Tenant)
        writeJSON(w, 201, gf)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

func (s *Server) GeofenceByIDHandler(w http.ResponseWriter, r *http.Request) {
    if !strings.HasPrefix(r.URL.Path, "/v1/geofences/") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    id := strings.TrimPrefix(r.URL.Path, "/v1/geofences/")
    pr := s.getPrincipal(r)
    if !pr.CanManage() { writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path); return }
    switch r.Method {
    case http.MethodGet:
        gf, err := s.Store.GetGeofence(r.Context(), pr.Tenant, id)
        if err != nil { writeError(w, err, r.URL.Path); return }
        writeJSON(w, 200, gf)
    case http.MethodPatch:
        var in model.GeofenceInput
        if err := json.NewDecoder(r.Body).Decode(&in); err != nil { writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path); return }
        if err := validateGeofenceInput(&in, true); err != nil { writeProblem(w, 400, "Invalid geofence", err.Error(), r.URL.Path); return }
        gf, err := s.Store.PatchGeofence(r.Context(), pr.Tenant, id, in)
        if err != nil { writeError(w, err, r.URL.Path); return }
        s.Registry.Invalidate(pr.Tenant)
        writeJSON(w, 200, gf)
    case http.MethodDelete:
        // soft delete keeps the zone for the event log; the engine will emit
        // exits for drivers still inside on their next fix
        if err := s.Store.DeactivateGeofence(r.Context(), pr.Tenant, id); err != nil { writeError(w, err, r.URL.Path); return }
        s.Registry.Invalidate(pr.Tenant)
        w.WriteHeader(204)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// EventsHandler handles GET /v1/geofence-events
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    pr := s.getPrincipal(r)
    q := model.EventQuery{
        DriverID:   r.URL.Query().Get("driverId"),
        GeofenceID: r.URL.Query().Get("geofenceId"),
        Type:       r.URL.Query().Get("type"),
    }
    if q.Type != "" && q.Type != model.EventEnter && q.Type != model.EventExit {
        writeProblem(w, 400, "Invalid type", "allowed: enter, exit", r.URL.Path)
        return
    }
    cursor := r.URL.Query().Get("cursor")
    limit := 100
    if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
    items, next, err := s.Store.ListGeofenceEvents(r.Context(), pr.Tenant, q, cursor, limit)
    if err != nil { writeError(w, err, r.URL.Path); return }
    writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

// ActivityStreamHandler handles GET /v1/activity/stream: SSE of the tenant's
// live enter/exit feed.
func (s *Server) ActivityStreamHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    pr := s.getPrincipal(r)
    flusher, ok := w.(http.Flusher)
    if !ok { writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path); return }
    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")
    ch := s.Broker.Subscribe(pr.Tenant)
    defer s.Broker.Unsubscribe(pr.Tenant, ch)
    // initial heartbeat
    fmt.Fprintf(w, "event: heartbeat\n")
    fmt.Fprintf(w, "data: {\"tenantId\":\"%s\",\"ts\":\"%s\"}\n\n", pr.Tenant, time.Now().Format(time.RFC3339))
    flusher.Flush()
    notify := r.Context().Done()
    for {
        select {
        case <-notify:
            return
        case evt := <-ch:
            b, _ := json.Marshal(evt.Data)
            fmt.Fprintf(w, "event: %s\n", evt.Type)
            fmt.Fprintf(w, "data: %s\n\n", string(b))
            flusher.Flush()
        case <-time.After(15 * time.Second):
            fmt.Fprintf(w, "event: heartbeat\n")
            fmt.Fprintf(w, "data: {\"tenantId\":\"%s\",\"ts\":\"%s\"}\n\n", pr.Tenant, time.Now().Format(time.RFC3339))
            flusher.Flush()
        }
    }
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    switch r.Method {
    case http.MethodPost:
        if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
        var req model.SubscriptionRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if req.TenantID == "" { req.TenantID = p.Tenant }
        if req.URL == "" || len(req.Events) == 0 {
            writeProblem(w, 400, "Invalid subscription", "url and events required", r.URL.Path)
            return
        }
        sub, err := s.Store.CreateSubscription(r.Context(), req)
        if err != nil { writeError(w, err, r.URL.Path); return }
        writeJSON(w, http.StatusCreated, sub)
    case http.MethodGet:
        if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Store.ListSubscriptions(r.Context(), p.Tenant, cursor, limit)
        if err != nil { writeError(w, err, r.URL.Path); return }
        writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// Subscription delete (admin)
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
    if !strings.HasPrefix(r.URL.Path, "/v1/subscriptions/") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodDelete { w.WriteHeader(405); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
    if err := s.Store.DeleteSubscription(r.Context(), p.Tenant, id); err != nil { writeError(w, err, r.URL.Path); return }
    w.WriteHeader(204)
}

// Admin: webhook deliveries list and retry
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/admin/webhook-deliveries" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    if r.Method != http.MethodGet { w.WriteHeader(405); return }
    status := r.URL.Query().Get("status")
    cursor := r.URL.Query().Get("cursor")
    limit := 100
    if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
    items, next, err := s.Store.ListWebhookDeliveries(r.Context(), p.Tenant, status, cursor, limit)
    if err != nil { writeError(w, err, r.URL.Path); return }
    writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
    if !strings.HasPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/") || !strings.HasSuffix(r.URL.Path, "/retry") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodPost { w.WriteHeader(405); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/"), "/retry")
    if err := s.Store.RetryWebhookDelivery(r.Context(), p.Tenant, id); err != nil { writeError(w, err, r.URL.Path); return }
    writeJSON(w, 202, map[string]int{"accepted": 1})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    // Check DB connectivity when using Postgres store
    type pinger interface{ Ping(ctx context.Context) error }
    if pg, ok := s.Store.(pinger); ok {
        ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
        defer cancel()
        if err := pg.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path); return }
    }
    writeJSON(w, 200, map[string]string{"status": "ready"})
}
