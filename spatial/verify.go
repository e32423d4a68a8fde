package spatial

import "math"

const (
	// MinTolerance is the floor applied to the reported accuracy
	MinTolerance = 12.0
	// FallbackAccuracy is used when no sample is available for a tick
	FallbackAccuracy = 10.0
)

// Status is the verdict shown for a session
type Status string

const (
	StatusVerified Status = "verified"
	StatusMismatch Status = "mismatch"
	StatusUnknown  Status = "unknown"
)

// Color returns the RGB color used to draw the status
func (s Status) Color() []int {
	switch s {
	case StatusVerified:
		return []int{0, 255, 140}
	case StatusMismatch:
		return []int{255, 80, 80}
	default:
		return []int{150, 150, 150}
	}
}

// Verification is the outcome of comparing a position with the target
type Verification struct {
	Distance  float64 `json:"distance"`
	Tolerance float64 `json:"tolerance"`
	Verified  bool    `json:"verified"`
}

// Status maps the verification to a display status
func (v Verification) Status() Status {
	if v.Verified {
		return StatusVerified
	}
	return StatusMismatch
}

// Verify checks whether position is within tolerance of target
func Verify(position, target GeoPoint, accuracy float64) Verification {
	return decide(DistanceMeters(position, target), accuracy)
}

// Tolerance returns the allowed distance for a reported accuracy
func Tolerance(accuracy float64) float64 {
	if math.IsNaN(accuracy) {
		return MinTolerance
	}
	return math.Max(accuracy, MinTolerance)
}

func decide(distance, accuracy float64) Verification {
	tol := Tolerance(accuracy)
	return Verification{
		Distance:  distance,
		Tolerance: tol,
		Verified:  distance <= tol,
	}
}
