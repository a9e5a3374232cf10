package api

import (
    "net/http"
    "time"

    "github.com/gorilla/websocket"

    "zonewatch/internal/model"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsAck struct {
    Status   string `json:"status"` // accepted | rejected
    DriverID string `json:"driverId,omitempty"`
    Error    string `json:"error,omitempty"`
}

// LocationsWSHandler handles GET /ws/locations: driver devices hold a socket
// open and push one JSON fix per message. Each fix is acked individually so
// devices can detect throttling without tearing the connection down.
func (s *Server) LocationsWSHandler(w http.ResponseWriter, r *http.Request) {
    pr := s.getPrincipal(r)
    conn, err := upgrader.Upgrade(w, r, nil)
    if err != nil {
        return
    }
    defer func() { _ = conn.Close() }()

    conn.SetReadLimit(1 << 16)
    _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
    conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

    go func() {
        ticker := time.NewTicker(20 * time.Second)
        defer ticker.Stop()
        for range ticker.C {
            if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
                return
            }
        }
    }()

    for {
        var fix model.DriverFix
        if err := conn.ReadJSON(&fix); err != nil {
            break
        }
        _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
        fix.TenantID = pr.Tenant
        if pr.Role == "driver" && pr.DriverID != "" {
            fix.DriverID = pr.DriverID
        }
        if fix.TS == "" {
            fix.TS = time.Now().UTC().Format(time.RFC3339)
        }
        if !s.limiter.Allow(fix.TenantID, fix.DriverID) {
            _ = conn.WriteJSON(wsAck{Status: "rejected", DriverID: fix.DriverID, Error: "rate limited"})
            continue
        }
        if err := s.Engine.Submit(fix); err != nil {
            _ = conn.WriteJSON(wsAck{Status: "rejected", DriverID: fix.DriverID, Error: err.Error()})
            continue
        }
        s.Fixes.Upsert(fix.TenantID, fix.DriverID, fix.Lat, fix.Lng, fix.TS)
        _ = conn.WriteJSON(wsAck{Status: "accepted", DriverID: fix.DriverID})
    }
}
