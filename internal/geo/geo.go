// Package geo provides the pure containment and distance math used by the
// evaluation engine. Nothing here holds state.
package geo

import (
	"math"

	"zonewatch/internal/model"
)

const earthRadiusM = 6371000.0

// DistanceMeters returns the great-circle (haversine) distance between two
// points in meters.
func DistanceMeters(a, b model.GeoPoint) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// InCircle reports whether p lies within radiusM meters of center. The
// boundary is inclusive.
func InCircle(p, center model.GeoPoint, radiusM float64) bool {
	return DistanceMeters(p, center) <= radiusM
}

// InPolygon runs an even-odd ray cast over the vertex list, treating lat/lng
// as planar coordinates. That approximation holds at city scale; it is wrong
// near the poles and across the antimeridian, which callers accept. The
// polygon is closed implicitly (last vertex connects back to the first).
// Degenerate or self-intersecting polygons are the caller's problem.
func InPolygon(p model.GeoPoint, vertices []model.GeoPoint) bool {
	n := len(vertices)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		vi, vj := vertices[i], vertices[j]
		if (vi.Lat > p.Lat) != (vj.Lat > p.Lat) &&
			p.Lng < (vj.Lng-vi.Lng)*(p.Lat-vi.Lat)/(vj.Lat-vi.Lat)+vi.Lng {
			inside = !inside
		}
	}
	return inside
}

// InGeofence dispatches on the zone kind. Unknown kinds are never entered.
func InGeofence(p model.GeoPoint, gf model.Geofence) bool {
	switch gf.Kind {
	case model.KindCircle:
		if gf.Center == nil {
			return false
		}
		return InCircle(p, *gf.Center, gf.RadiusM)
	case model.KindPolygon:
		return InPolygon(p, gf.Vertices)
	default:
		return false
	}
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
