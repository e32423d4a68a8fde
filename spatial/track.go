package spatial

import (
	"time"
)

// MaxTrailPoints bounds the trail kept per session
const MaxTrailPoints = 40

// Sample is a single raw reading from the browser's geolocation API
type Sample struct {
	Point    GeoPoint  `json:"point"`
	Accuracy float64   `json:"accuracy"` // meters
	Time     time.Time `json:"ts"`
}

// Track holds the smoothing state for a session.
// The zero value is a track that has seen no samples.
type Track struct {
	Previous *GeoPoint  `json:"previous,omitempty"`
	Trail    []GeoPoint `json:"trail"`
}

// Last returns the most recent smoothed position, if any
func (t Track) Last() (GeoPoint, bool) {
	if t.Previous == nil {
		return GeoPoint{}, false
	}
	return *t.Previous, true
}

// Smooth folds a raw sample into the track.
// The first sample is taken as-is; every later one is averaged with the
// previous smoothed position. The given track is not modified.
func Smooth(track Track, s Sample) (GeoPoint, Track) {
	pos := s.Point
	if track.Previous != nil {
		pos = GeoPoint{
			Lat: (s.Point.Lat + track.Previous.Lat) / 2,
			Lon: (s.Point.Lon + track.Previous.Lon) / 2,
		}
	}

	trail := make([]GeoPoint, 0, len(track.Trail)+1)
	trail = append(trail, track.Trail...)
	trail = append(trail, pos)
	if len(trail) > MaxTrailPoints {
		trail = trail[len(trail)-MaxTrailPoints:]
	}

	prev := pos
	return pos, Track{Previous: &prev, Trail: trail}
}

// Path returns the trail as [lon, lat] pairs in chronological order
func (t Track) Path() [][]float64 {
	path := make([][]float64, len(t.Trail))
	for i, p := range t.Trail {
		path[i] = p.LonLat()
	}
	return path
}
