// Package model holds the domain types shared across the engine, stores and API.
package model

type GeoPoint struct {
    Lat float64 `json:"lat"`
    Lng float64 `json:"lng"`
}

// GeofenceKind selects the geometry variant of a zone.
type GeofenceKind string

const (
    KindCircle  GeofenceKind = "circle"
    KindPolygon GeofenceKind = "polygon"
)

// Geofence is a geographic zone owned by one tenant (business).
// Circles use Center+RadiusM; polygons use Vertices (>= 3 points, implicitly
// closed). Inactive zones are invisible to evaluation.
type Geofence struct {
    ID       string       `json:"id"`
    TenantID string       `json:"tenantId"`
    Name     string       `json:"name,omitempty"`
    Kind     GeofenceKind `json:"kind"`
    Center   *GeoPoint    `json:"center,omitempty"`
    RadiusM  float64      `json:"radiusM,omitempty"`
    Vertices []GeoPoint   `json:"vertices,omitempty"`
    Purpose  string       `json:"purpose,omitempty"` // pickup-zone, delivery-zone, restricted-area, depot
    Active   bool         `json:"active"`
}

// GeofenceInput is the create/patch payload. Zero fields are left untouched
// on patch; Active uses a pointer so "deactivate" is expressible.
type GeofenceInput struct {
    Name     string       `json:"name,omitempty"`
    Kind     GeofenceKind `json:"kind,omitempty"`
    Center   *GeoPoint    `json:"center,omitempty"`
    RadiusM  float64      `json:"radiusM,omitempty"`
    Vertices []GeoPoint   `json:"vertices,omitempty"`
    Purpose  string       `json:"purpose,omitempty"`
    Active   *bool        `json:"active,omitempty"`
}

// DriverFix is one GPS sample for a driver. OrderID is the order currently
// being serviced, when known. TS is RFC3339; the API fills it in when absent.
type DriverFix struct {
    DriverID string  `json:"driverId"`
    TenantID string  `json:"tenantId,omitempty"`
    Lat      float64 `json:"lat"`
    Lng      float64 `json:"lng"`
    TS       string  `json:"ts,omitempty"`
    OrderID  string  `json:"orderId,omitempty"`
}

func (f DriverFix) Point() GeoPoint { return GeoPoint{Lat: f.Lat, Lng: f.Lng} }

// Geofence event types as stored in the append-only log.
const (
    EventEnter = "enter"
    EventExit  = "exit"
)

// GeofenceEvent records one enter/exit transition. Immutable once written.
// Purpose is denormalized from the zone so feed/webhook consumers don't have
// to re-resolve it.
type GeofenceEvent struct {
    ID         string `json:"id"`
    TenantID   string `json:"tenantId"`
    GeofenceID string `json:"geofenceId"`
    DriverID   string `json:"driverId"`
    OrderID    string `json:"orderId,omitempty"`
    Type       string `json:"type"` // enter | exit
    Purpose    string `json:"purpose,omitempty"`
    TS         string `json:"ts"`
}

// EventQuery filters the event log.
type EventQuery struct {
    DriverID   string
    GeofenceID string
    Type       string
}

type SubscriptionRequest struct {
    TenantID string   `json:"tenantId"`
    URL      string   `json:"url"`
    Events   []string `json:"events"`
    Secret   string   `json:"secret"`
}

type Subscription struct {
    ID       string   `json:"id"`
    TenantID string   `json:"tenantId"`
    URL      string   `json:"url"`
    Events   []string `json:"events"`
    Secret   string   `json:"secret,omitempty"`
}
