package geo

import (
	"math"
	"testing"

	"zonewatch/internal/model"
)

func TestDistanceZeroAndSymmetry(t *testing.T) {
	a := model.GeoPoint{Lat: 40.0, Lng: -74.0}
	b := model.GeoPoint{Lat: 40.01, Lng: -74.02}
	if d := DistanceMeters(a, a); d != 0 {
		t.Fatalf("distance(a,a) = %v, want 0", d)
	}
	ab := DistanceMeters(a, b)
	ba := DistanceMeters(b, a)
	if math.Abs(ab-ba) > 1e-9 {
		t.Fatalf("asymmetric distance: %v vs %v", ab, ba)
	}
	// one degree of latitude is ~111km
	c := model.GeoPoint{Lat: 41.0, Lng: -74.0}
	if d := DistanceMeters(a, c); d < 110000 || d > 112000 {
		t.Fatalf("1 degree lat = %v m, want ~111km", d)
	}
}

func TestInCircleBoundaryInclusive(t *testing.T) {
	center := model.GeoPoint{Lat: 40.0, Lng: -74.0}
	p := model.GeoPoint{Lat: 40.001, Lng: -74.0}
	r := DistanceMeters(center, p)
	if !InCircle(p, center, r) {
		t.Fatal("point exactly on boundary should be inside")
	}
	if !InCircle(center, center, 0) {
		t.Fatal("center with zero radius should be inside")
	}
	if InCircle(p, center, r-1) {
		t.Fatal("point just outside radius should be outside")
	}
}

func TestInPolygonSquare(t *testing.T) {
	square := []model.GeoPoint{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 10}, {Lat: 10, Lng: 10}, {Lat: 10, Lng: 0}}
	cases := []struct {
		p    model.GeoPoint
		want bool
	}{
		{model.GeoPoint{Lat: 5, Lng: 5}, true},   // center
		{model.GeoPoint{Lat: 15, Lng: 5}, false}, // outside
		{model.GeoPoint{Lat: 5, Lng: 15}, false},
		{model.GeoPoint{Lat: 9.99, Lng: 0.01}, true},
		{model.GeoPoint{Lat: -1, Lng: -1}, false},
	}
	for _, c := range cases {
		if got := InPolygon(c.p, square); got != c.want {
			t.Fatalf("InPolygon(%+v) = %v, want %v", c.p, got, c.want)
		}
	}
}

func TestInPolygonDegenerate(t *testing.T) {
	if InPolygon(model.GeoPoint{Lat: 1, Lng: 1}, []model.GeoPoint{{Lat: 0, Lng: 0}, {Lat: 2, Lng: 2}}) {
		t.Fatal("fewer than 3 vertices can never contain a point")
	}
}

func TestInGeofenceDispatch(t *testing.T) {
	circle := model.Geofence{Kind: model.KindCircle, Center: &model.GeoPoint{Lat: 40, Lng: -74}, RadiusM: 500}
	poly := model.Geofence{Kind: model.KindPolygon, Vertices: []model.GeoPoint{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 10}, {Lat: 10, Lng: 10}, {Lat: 10, Lng: 0}}}

	if !InGeofence(model.GeoPoint{Lat: 40, Lng: -74}, circle) {
		t.Fatal("center of circle should be inside")
	}
	if InGeofence(model.GeoPoint{Lat: 40.01, Lng: -74}, circle) {
		t.Fatal("~1.1km away should be outside a 500m circle")
	}
	if !InGeofence(model.GeoPoint{Lat: 5, Lng: 5}, poly) {
		t.Fatal("(5,5) should be inside the square")
	}
	if InGeofence(model.GeoPoint{Lat: 5, Lng: 5}, model.Geofence{Kind: "blob"}) {
		t.Fatal("unknown kind should never match")
	}
	if InGeofence(model.GeoPoint{Lat: 40, Lng: -74}, model.Geofence{Kind: model.KindCircle}) {
		t.Fatal("circle without center should never match")
	}
}

// Re-evaluating the same point against the same zone must be stable.
func TestEvaluationIdempotent(t *testing.T) {
	gf := model.Geofence{Kind: model.KindCircle, Center: &model.GeoPoint{Lat: 40, Lng: -74}, RadiusM: 500}
	p := model.GeoPoint{Lat: 40.002, Lng: -74.001}
	first := InGeofence(p, gf)
	for i := 0; i < 100; i++ {
		if InGeofence(p, gf) != first {
			t.Fatal("containment result changed across evaluations")
		}
	}
}
