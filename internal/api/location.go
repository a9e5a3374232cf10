package api

import (
    "sync"
)

// LatestFix holds the last accepted location fix for a driver.
type LatestFix struct {
    Tenant   string  `json:"tenantId"`
    DriverID string  `json:"driverId"`
    Lat      float64 `json:"lat"`
    Lng      float64 `json:"lng"`
    TS       string  `json:"ts"`
}

// FixCache stores the latest fix per tenant/driver. The occupancy endpoint
// serves it alongside the zone list so dashboards need a single call.
type FixCache struct {
    mu sync.Mutex
    m  map[string]LatestFix // key: tenant|driverId
}

func NewFixCache() *FixCache { return &FixCache{m: map[string]LatestFix{}} }

func (c *FixCache) key(tenant, driverID string) string { return tenant + "|" + driverID }

// Upsert stores or updates the latest fix for a driver.
func (c *FixCache) Upsert(tenant, driverID string, lat, lng float64, ts string) {
    if tenant == "" || driverID == "" {
        return
    }
    c.mu.Lock()
    defer c.mu.Unlock()
    c.m[c.key(tenant, driverID)] = LatestFix{Tenant: tenant, DriverID: driverID, Lat: lat, Lng: lng, TS: ts}
}

// Get returns the latest fix for a driver, if any.
func (c *FixCache) Get(tenant, driverID string) (LatestFix, bool) {
    c.mu.Lock()
    defer c.mu.Unlock()
    f, ok := c.m[c.key(tenant, driverID)]
    return f, ok
}
