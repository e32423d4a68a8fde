package spatial

import (
	"math"
	"testing"
)

// TestDistanceSymmetric checks distance(a,b) == distance(b,a)
func TestDistanceSymmetric(t *testing.T) {
	points := []GeoPoint{
		{17.3850, 78.4867},
		{51.4179, -0.3706},
		{-33.8688, 151.2093},
		{0, 0},
		{89.9, 179.9},
		{-89.9, -179.9},
	}

	for _, a := range points {
		for _, b := range points {
			ab := DistanceMeters(a, b)
			ba := DistanceMeters(b, a)
			if math.Abs(ab-ba) > 1e-6 {
				t.Errorf("distance(%v,%v)=%f but distance(%v,%v)=%f", a, b, ab, b, a, ba)
			}
		}
	}
}

// TestDistanceSamePoint checks distance(a,a) is zero
func TestDistanceSamePoint(t *testing.T) {
	for _, p := range []GeoPoint{{17.3850, 78.4867}, {0, 0}, {-45.5, 170.25}} {
		if d := DistanceMeters(p, p); d > 1e-9 {
			t.Errorf("distance(%v,%v) = %f, want 0", p, p, d)
		}
	}
}

// TestDistanceReference compares against known haversine values
func TestDistanceReference(t *testing.T) {
	tests := []struct {
		name string
		a, b GeoPoint
		want float64
		tol  float64
	}{
		// 0.001 degrees on both axes near Hyderabad
		{"Hyderabad block", GeoPoint{17.3850, 78.4867}, GeoPoint{17.3860, 78.4877}, 153.7, 1},
		{"one degree of latitude", GeoPoint{0, 0}, GeoPoint{1, 0}, 111195, 1},
		{"quarter meridian", GeoPoint{0, 0}, GeoPoint{90, 0}, math.Pi / 2 * EarthRadius, 1e-3},
		{"London to Paris", GeoPoint{51.5074, -0.1278}, GeoPoint{48.8566, 2.3522}, 343556, 500},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := DistanceMeters(tc.a, tc.b)
			if math.Abs(got-tc.want) > tc.tol {
				t.Errorf("DistanceMeters(%v, %v) = %.1f, want %.1f ±%.1f", tc.a, tc.b, got, tc.want, tc.tol)
			}
		})
	}
}

func TestGeoPointValid(t *testing.T) {
	tests := []struct {
		p    GeoPoint
		want bool
	}{
		{GeoPoint{0, 0}, true},
		{GeoPoint{90, 180}, true},
		{GeoPoint{-90, -180}, true},
		{GeoPoint{90.01, 0}, false},
		{GeoPoint{0, -180.5}, false},
		{GeoPoint{math.NaN(), 0}, false},
	}

	for _, tc := range tests {
		if got := tc.p.Valid(); got != tc.want {
			t.Errorf("%v.Valid() = %v, want %v", tc.p, got, tc.want)
		}
	}
}
