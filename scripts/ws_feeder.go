// Package main runs a demo feeder: it creates a geofence, connects to the
// location WebSocket, and walks a driver through the zone so enter/exit
// events appear on the activity stream.
package main

import (
    "bytes"
    "encoding/json"
    "fmt"
    "log"
    "net/http"
    "net/url"
    "os"
    "time"

    "github.com/gorilla/websocket"
)

type fix struct {
    DriverID string  `json:"driverId"`
    Lat      float64 `json:"lat"`
    Lng      float64 `json:"lng"`
    OrderID  string  `json:"orderId,omitempty"`
}

type ack struct {
    Status   string `json:"status"`
    DriverID string `json:"driverId"`
    Error    string `json:"error,omitempty"`
}

func main() {
    port := os.Getenv("PORT")
    if port == "" {
        port = "8080"
    }
    base := fmt.Sprintf("http://localhost:%s", port)

    // Create a circular pickup zone
    body := []byte(`{"name":"demo depot","kind":"circle","center":{"lat":40.0,"lng":-74.0},"radiusM":500,"purpose":"pickup-zone"}`)
    req, _ := http.NewRequest(http.MethodPost, base+"/v1/geofences", bytes.NewReader(body))
    req.Header.Set("Content-Type", "application/json")
    req.Header.Set("X-Tenant-Id", "t_demo")
    req.Header.Set("X-Role", "admin")
    resp, err := http.DefaultClient.Do(req)
    if err != nil {
        log.Fatal(err)
    }
    defer func() { _ = resp.Body.Close() }()
    var gf struct {
        ID string `json:"id"`
    }
    if err := json.NewDecoder(resp.Body).Decode(&gf); err != nil {
        log.Fatal(err)
    }
    log.Printf("Geofence ID: %s", gf.ID)

    // Connect WS
    u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/ws/locations"}
    hdr := http.Header{}
    hdr.Set("X-Tenant-Id", "t_demo")
    hdr.Set("X-Role", "admin")
    c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
    if err != nil {
        log.Fatal("dial:", err)
    }
    defer func() { _ = c.Close() }()

    // Walk the driver: outside (baseline), inside (enter), outside (exit)
    path := []fix{
        {DriverID: "drv_demo", Lat: 40.05, Lng: -74.0, OrderID: "ord_demo"},
        {DriverID: "drv_demo", Lat: 40.0, Lng: -74.0, OrderID: "ord_demo"},
        {DriverID: "drv_demo", Lat: 40.05, Lng: -74.0, OrderID: "ord_demo"},
    }
    for _, f := range path {
        if err := c.WriteJSON(f); err != nil {
            log.Fatal(err)
        }
        var a ack
        if err := c.ReadJSON(&a); err != nil {
            log.Fatal(err)
        }
        log.Printf("WS <- %s driver=%s %s", a.Status, a.DriverID, a.Error)
        time.Sleep(300 * time.Millisecond)
    }

    // Show the resulting event log
    evReq, _ := http.NewRequest(http.MethodGet, base+"/v1/geofence-events?driverId=drv_demo", nil)
    evReq.Header.Set("X-Tenant-Id", "t_demo")
    evReq.Header.Set("X-Role", "admin")
    evResp, err := http.DefaultClient.Do(evReq)
    if err != nil {
        log.Fatal(err)
    }
    defer func() { _ = evResp.Body.Close() }()
    var events struct {
        Items []map[string]any `json:"items"`
    }
    _ = json.NewDecoder(evResp.Body).Decode(&events)
    for _, e := range events.Items {
        log.Printf("event: %s geofence=%s ts=%s", e["type"], e["geofenceId"], e["ts"])
    }
}
