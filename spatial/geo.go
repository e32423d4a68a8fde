// Package spatial holds the geometry of the dashboard: great-circle distance,
// position smoothing, target verification and walking routes from an
// external directions service.
package spatial

import (
	"fmt"
	"math"
)

// EarthRadius is the mean Earth radius in meters
const EarthRadius = 6371000.0

// GeoPoint is a latitude/longitude pair in degrees
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the point lies within the lat/lon ranges
func (p GeoPoint) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

func (p GeoPoint) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lon)
}

// LonLat returns the point as a [lon, lat] pair, the order map layers expect
func (p GeoPoint) LonLat() []float64 {
	return []float64{p.Lon, p.Lat}
}

// DistanceMeters returns the great-circle distance between two points in meters
func DistanceMeters(a, b GeoPoint) float64 {
	phi1 := a.Lat * math.Pi / 180
	phi2 := b.Lat * math.Pi / 180
	deltaPhi := (b.Lat - a.Lat) * math.Pi / 180
	deltaLambda := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadius * c
}
