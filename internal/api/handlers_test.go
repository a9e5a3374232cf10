package api

import (
    "bytes"
    "encoding/json"
    "fmt"
    "net/http"
    "net/http/httptest"
    "testing"
    "time"

    "zonewatch/internal/config"
    "zonewatch/internal/model"
)

func newTestServer(t *testing.T) *Server {
    t.Helper()
    s, err := NewServer(config.Config{})
    if err != nil { t.Fatalf("NewServer: %v", err) }
    s.Engine.Start()
    t.Cleanup(s.Engine.Stop)
    return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
    t.Helper()
    deadline := time.Now().Add(2 * time.Second)
    for time.Now().Before(deadline) {
        if cond() {
            return
        }
        time.Sleep(5 * time.Millisecond)
    }
    t.Fatalf("timed out waiting for %s", what)
}

func TestHealthReady(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
    if rr.Code != 200 { t.Fatalf("health: got %d", rr.Code) }
    rr = httptest.NewRecorder()
    s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
    if rr.Code != 200 { t.Fatalf("ready: got %d", rr.Code) }
}

func createGeofence(t *testing.T, s *Server, body string) model.Geofence {
    t.Helper()
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/geofences", bytes.NewReader([]byte(body)))
    req.Header.Set("Content-Type", "application/json")
    s.GeofencesHandler(rr, req)
    if rr.Code != 201 { t.Fatalf("create geofence: got %d body %s", rr.Code, rr.Body.String()) }
    var gf model.Geofence
    if err := json.Unmarshal(rr.Body.Bytes(), &gf); err != nil { t.Fatal(err) }
    return gf
}

func postLocations(t *testing.T, s *Server, body string) (accepted, rejected int) {
    t.Helper()
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/locations", bytes.NewReader([]byte(body)))
    req.Header.Set("Content-Type", "application/json")
    s.LocationsHandler(rr, req)
    if rr.Code != http.StatusAccepted { t.Fatalf("locations: got %d body %s", rr.Code, rr.Body.String()) }
    var resp struct {
        Accepted int `json:"accepted"`
        Rejected int `json:"rejected"`
    }
    _ = json.Unmarshal(rr.Body.Bytes(), &resp)
    return resp.Accepted, resp.Rejected
}

func listEvents(t *testing.T, s *Server, query string) []model.GeofenceEvent {
    t.Helper()
    rr := httptest.NewRecorder()
    s.EventsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/geofence-events"+query, nil))
    if rr.Code != 200 { t.Fatalf("events: got %d", rr.Code) }
    var resp struct {
        Items []model.GeofenceEvent `json:"items"`
    }
    _ = json.Unmarshal(rr.Body.Bytes(), &resp)
    return resp.Items
}

func TestGeofenceValidation(t *testing.T) {
    s := newTestServer(t)
    cases := []string{
        `{"name":"no kind"}`,
        `{"kind":"hexagon"}`,
        `{"kind":"circle","radiusM":100}`,
        `{"kind":"circle","center":{"lat":1,"lng":2}}`,
        `{"kind":"polygon","vertices":[{"lat":0,"lng":0},{"lat":1,"lng":1}]}`,
        `{"kind":"circle","center":{"lat":95,"lng":2},"radiusM":100}`,
    }
    for _, body := range cases {
        rr := httptest.NewRecorder()
        req := httptest.NewRequest(http.MethodPost, "/v1/geofences", bytes.NewReader([]byte(body)))
        s.GeofencesHandler(rr, req)
        if rr.Code != 400 { t.Fatalf("body %s: got %d, want 400", body, rr.Code) }
    }
}

func TestPatchRejectsNegativeRadius(t *testing.T) {
    s := newTestServer(t)
    gf := createGeofence(t, s, `{"name":"depot","kind":"circle","center":{"lat":40,"lng":-74},"radiusM":300}`)

    // a patch carrying only radiusM must still honor radiusM > 0
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPatch, "/v1/geofences/"+gf.ID, bytes.NewReader([]byte(`{"radiusM":-5}`)))
    s.GeofenceByIDHandler(rr, req)
    if rr.Code != 400 { t.Fatalf("negative radius patch: got %d body %s", rr.Code, rr.Body.String()) }

    rr = httptest.NewRecorder()
    s.GeofenceByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/geofences/"+gf.ID, nil))
    var got model.Geofence
    _ = json.Unmarshal(rr.Body.Bytes(), &got)
    if got.RadiusM != 300 { t.Fatalf("stored radius changed: %+v", got) }
}

func TestGeofenceCRUD(t *testing.T) {
    s := newTestServer(t)
    gf := createGeofence(t, s, `{"name":"depot","kind":"circle","center":{"lat":40,"lng":-74},"radiusM":300,"purpose":"pickup-zone"}`)

    rr := httptest.NewRecorder()
    s.GeofenceByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/geofences/"+gf.ID, nil))
    if rr.Code != 200 { t.Fatalf("get: %d", rr.Code) }

    rr = httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPatch, "/v1/geofences/"+gf.ID, bytes.NewReader([]byte(`{"radiusM":500}`)))
    s.GeofenceByIDHandler(rr, req)
    if rr.Code != 200 { t.Fatalf("patch: %d body %s", rr.Code, rr.Body.String()) }
    var patched model.Geofence
    _ = json.Unmarshal(rr.Body.Bytes(), &patched)
    if patched.RadiusM != 500 { t.Fatalf("patch radius: %+v", patched) }

    rr = httptest.NewRecorder()
    s.GeofenceByIDHandler(rr, httptest.NewRequest(http.MethodDelete, "/v1/geofences/"+gf.ID, nil))
    if rr.Code != 204 { t.Fatalf("delete: %d", rr.Code) }

    // soft delete: still listed, no longer active
    rr = httptest.NewRecorder()
    s.GeofencesHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/geofences", nil))
    var list struct{ Items []model.Geofence `json:"items"` }
    _ = json.Unmarshal(rr.Body.Bytes(), &list)
    if len(list.Items) != 1 || list.Items[0].Active { t.Fatalf("after delete: %+v", list.Items) }

    rr = httptest.NewRecorder()
    s.GeofenceByIDHandler(rr, httptest.NewRequest(http.MethodDelete, "/v1/geofences/missing", nil))
    if rr.Code != 404 { t.Fatalf("delete missing: %d", rr.Code) }
}

func TestGeofenceForbiddenForDrivers(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodGet, "/v1/geofences", nil)
    req.Header.Set("X-Role", "driver")
    s.GeofencesHandler(rr, req)
    if rr.Code != 403 { t.Fatalf("driver list geofences: got %d", rr.Code) }
}

func TestLocationFlowProducesEvents(t *testing.T) {
    s := newTestServer(t)
    gf := createGeofence(t, s, `{"name":"depot","kind":"circle","center":{"lat":40,"lng":-74},"radiusM":300,"purpose":"pickup-zone"}`)

    // first fix inside: baseline, no event
    a, rj := postLocations(t, s, `{"fixes":[{"driverId":"d1","lat":40,"lng":-74,"orderId":"o1"}]}`)
    if a != 1 || rj != 0 { t.Fatalf("baseline fix: accepted=%d rejected=%d", a, rj) }
    waitFor(t, "baseline occupancy", func() bool { return len(s.Engine.Occupancy("t_demo", "d1")) == 1 })
    if evts := listEvents(t, s, ""); len(evts) != 0 {
        t.Fatalf("baseline fix must not produce events: %+v", evts)
    }

    // move out: exit
    postLocations(t, s, `{"fixes":[{"driverId":"d1","lat":40.1,"lng":-74,"orderId":"o1"}]}`)
    waitFor(t, "exit event", func() bool { return len(listEvents(t, s, "?type=exit")) == 1 })
    exit := listEvents(t, s, "?type=exit")[0]
    if exit.GeofenceID != gf.ID || exit.DriverID != "d1" || exit.Purpose != "pickup-zone" {
        t.Fatalf("exit event: %+v", exit)
    }

    // move back in: enter
    postLocations(t, s, `{"fixes":[{"driverId":"d1","lat":40,"lng":-74,"orderId":"o1"}]}`)
    waitFor(t, "enter event", func() bool { return len(listEvents(t, s, "?type=enter")) == 1 })

    // filters
    if evts := listEvents(t, s, "?driverId=other"); len(evts) != 0 {
        t.Fatalf("driver filter: %+v", evts)
    }
    if evts := listEvents(t, s, "?geofenceId="+gf.ID); len(evts) != 2 {
        t.Fatalf("geofence filter: %+v", evts)
    }
}

func TestOccupancyEndpoint(t *testing.T) {
    s := newTestServer(t)
    gf := createGeofence(t, s, `{"name":"dock","kind":"polygon","vertices":[{"lat":0,"lng":0},{"lat":0,"lng":1},{"lat":1,"lng":1},{"lat":1,"lng":0}],"purpose":"delivery-zone"}`)

    postLocations(t, s, `{"fixes":[{"driverId":"d9","lat":0.5,"lng":0.5}]}`)
    waitFor(t, "occupancy", func() bool { return len(s.Engine.Occupancy("t_demo", "d9")) == 1 })

    rr := httptest.NewRecorder()
    s.OccupancyHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/drivers/d9/occupancy", nil))
    if rr.Code != 200 { t.Fatalf("occupancy: %d", rr.Code) }
    var resp struct {
        DriverID string           `json:"driverId"`
        Zones    []map[string]any `json:"zones"`
        LastFix  *LatestFix       `json:"lastFix"`
    }
    if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil { t.Fatal(err) }
    if len(resp.Zones) != 1 || resp.Zones[0]["geofenceId"] != gf.ID {
        t.Fatalf("zones: %+v", resp.Zones)
    }
    if resp.Zones[0]["purpose"] != "delivery-zone" {
        t.Fatalf("zone not enriched: %+v", resp.Zones[0])
    }
    if resp.LastFix == nil || resp.LastFix.Lat != 0.5 {
        t.Fatalf("lastFix: %+v", resp.LastFix)
    }

    // drivers may only view their own occupancy
    rr = httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodGet, "/v1/drivers/d9/occupancy", nil)
    req.Header.Set("X-Role", "driver")
    req.Header.Set("X-Driver-Id", "other")
    s.OccupancyHandler(rr, req)
    if rr.Code != 403 { t.Fatalf("cross-driver occupancy: got %d", rr.Code) }

    // a caller from another tenant sees nothing for this driver
    rr = httptest.NewRecorder()
    req = httptest.NewRequest(http.MethodGet, "/v1/drivers/d9/occupancy", nil)
    req.Header.Set("X-Tenant-Id", "t_other")
    s.OccupancyHandler(rr, req)
    if rr.Code != 200 { t.Fatalf("foreign tenant occupancy: %d", rr.Code) }
    var foreign struct {
        Zones   []map[string]any `json:"zones"`
        LastFix *LatestFix       `json:"lastFix"`
    }
    _ = json.Unmarshal(rr.Body.Bytes(), &foreign)
    if len(foreign.Zones) != 0 || foreign.LastFix != nil {
        t.Fatalf("occupancy leaked across tenants: %s", rr.Body.String())
    }
}

func TestLocationsRejectsBadFixes(t *testing.T) {
    s := newTestServer(t)
    a, rj := postLocations(t, s, `{"fixes":[{"driverId":"","lat":0,"lng":0},{"driverId":"d1","lat":120,"lng":0},{"driverId":"d1","lat":1,"lng":2}]}`)
    if a != 1 || rj != 2 { t.Fatalf("accepted=%d rejected=%d", a, rj) }
}

func TestLocationsRateLimit(t *testing.T) {
    s := newTestServer(t)
    // burst default is 20; the 25-fix batch must see some rejections
    fixes := `[`
    for i := 0; i < 25; i++ {
        if i > 0 { fixes += "," }
        fixes += fmt.Sprintf(`{"driverId":"dl","lat":%d,"lng":0}`, i%80)
    }
    fixes += `]`
    a, rj := postLocations(t, s, `{"fixes":`+fixes+`}`)
    if rj == 0 || a == 0 { t.Fatalf("expected throttling: accepted=%d rejected=%d", a, rj) }
}

func TestSubscriptionsAdminOnly(t *testing.T) {
    s := newTestServer(t)
    body := `{"url":"http://example.test/hook","events":["geofence.entered"]}`

    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/subscriptions", bytes.NewReader([]byte(body)))
    req.Header.Set("X-Role", "dispatcher")
    s.SubscriptionsHandler(rr, req)
    if rr.Code != 403 { t.Fatalf("dispatcher create sub: got %d", rr.Code) }

    rr = httptest.NewRecorder()
    req = httptest.NewRequest(http.MethodPost, "/v1/subscriptions", bytes.NewReader([]byte(body)))
    s.SubscriptionsHandler(rr, req)
    if rr.Code != 201 { t.Fatalf("create sub: got %d body %s", rr.Code, rr.Body.String()) }
    var sub model.Subscription
    _ = json.Unmarshal(rr.Body.Bytes(), &sub)

    rr = httptest.NewRecorder()
    s.SubscriptionsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/subscriptions", nil))
    if rr.Code != 200 { t.Fatalf("list subs: %d", rr.Code) }

    rr = httptest.NewRecorder()
    s.SubscriptionByIDHandler(rr, httptest.NewRequest(http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil))
    if rr.Code != 204 { t.Fatalf("delete sub: %d", rr.Code) }
}

func TestEnterEventEnqueuesWebhook(t *testing.T) {
    s := newTestServer(t)
    createGeofence(t, s, `{"name":"depot","kind":"circle","center":{"lat":40,"lng":-74},"radiusM":300,"purpose":"pickup-zone"}`)

    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/subscriptions", bytes.NewReader([]byte(
        `{"url":"http://example.test/hook","events":["geofence.entered"]}`)))
    s.SubscriptionsHandler(rr, req)
    if rr.Code != 201 { t.Fatalf("create sub: %d", rr.Code) }

    // baseline outside, then enter
    postLocations(t, s, `{"fixes":[{"driverId":"d1","lat":41,"lng":-74}]}`)
    waitFor(t, "baseline", func() bool { return listDeliveryCount(t, s) == 0 && len(listEvents(t, s, "")) == 0 })
    postLocations(t, s, `{"fixes":[{"driverId":"d1","lat":40,"lng":-74}]}`)
    waitFor(t, "queued webhook", func() bool { return listDeliveryCount(t, s) == 1 })
}

func listDeliveryCount(t *testing.T, s *Server) int {
    t.Helper()
    rr := httptest.NewRecorder()
    s.WebhookDeliveriesHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/admin/webhook-deliveries", nil))
    if rr.Code != 200 { t.Fatalf("list deliveries: %d", rr.Code) }
    var resp struct{ Items []map[string]any `json:"items"` }
    _ = json.Unmarshal(rr.Body.Bytes(), &resp)
    return len(resp.Items)
}

func TestEventsInvalidTypeFilter(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    s.EventsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/geofence-events?type=teleport", nil))
    if rr.Code != 400 { t.Fatalf("bad type filter: got %d", rr.Code) }
}
