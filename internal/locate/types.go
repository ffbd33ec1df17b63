// Package locate estimates a 2D position from per-beacon range samples.
//
// The pipeline per update cycle: least-squares multilateration over the
// anchored samples, residual-based confidence scoring, statistical outlier
// rejection against recent history, and optional constant-velocity Kalman
// smoothing. The estimator is synchronous and single-threaded; callers
// serialise Update calls.
package locate

import (
	"errors"
	"math"
	"time"
)

// Estimation limits and gates. These mirror the collar's field calibration
// and are deliberately not user-tunable per deployment.
const (
	// MinSamples is the minimum anchored samples needed to attempt a solve.
	MinSamples = 3

	// MaxSolveSamples bounds the least-squares system size per cycle.
	MaxSolveSamples = 6

	// ConfidenceThreshold is the minimum confidence for a valid position.
	ConfidenceThreshold = 0.6

	// CoordinateSanityBound rejects solutions outside ±1000 m.
	CoordinateSanityBound = 1000.0

	// HistorySize is the position history ring capacity.
	HistorySize = 20

	// OutlierWindow is how many recent history entries the outlier gate
	// compares against.
	OutlierWindow = 5

	// OutlierThresholdMeters rejects a solution whose mean distance to the
	// recent history exceeds this.
	OutlierThresholdMeters = 10.0

	// minDeterminant guards the closed-form 2x2 normal-equation inverse.
	minDeterminant = 1e-6
)

// Estimation failure conditions. All are reported, non-fatal statuses: the
// previous accepted position remains current and no internal state mutates.
var (
	// ErrInsufficientData: fewer than MinSamples usable anchored samples.
	ErrInsufficientData = errors.New("locate: insufficient range samples")

	// ErrDegenerateGeometry: the normal-equation system is near-singular
	// (collinear anchors) or has too few usable equations.
	ErrDegenerateGeometry = errors.New("locate: degenerate solve geometry")

	// ErrInvalidPosition: the solution failed the confidence or coordinate
	// sanity checks.
	ErrInvalidPosition = errors.New("locate: position failed validity checks")

	// ErrOutlierRejected: the solution is statistically inconsistent with
	// recent accepted positions. Distinct from ErrInsufficientData so
	// callers can tell "no signal" from "signal disagrees with trajectory".
	ErrOutlierRejected = errors.New("locate: position rejected as outlier")

	// ErrCapacityExceeded: anchor registration beyond the fixed capacity.
	ErrCapacityExceeded = errors.New("locate: anchor capacity exceeded")
)

// Anchor is a beacon with a known, fixed coordinate in the engine-local
// frame. Anchors are long-lived configuration entities; the estimation
// loop never creates them implicitly.
type Anchor struct {
	Name     string    `json:"name"`
	Location string    `json:"location"`
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	Z        float64   `json:"z"`
	Active   bool      `json:"active"`
	LastSeen time.Time `json:"last_seen"`
}

// Sample is one beacon range measurement for the current update cycle.
// Distance is derived from signal strength by the rssi package (or
// precomputed by the caller). Samples are ephemeral.
type Sample struct {
	Beacon   string
	RSSI     int
	Distance float64
}

// Position is a solved 2D position with a residual-derived confidence.
// Immutable after creation. Validity is derived via Valid rather than
// stored: a serialised position is only ever emitted for an accepted fix.
type Position struct {
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Valid reports whether the position satisfies the validity invariant:
// confidence at or above threshold, finite coordinates, within the
// coordinate sanity bound.
func (p Position) Valid() bool {
	if p.Confidence < ConfidenceThreshold {
		return false
	}
	if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
		return false
	}
	return math.Abs(p.X) < CoordinateSanityBound && math.Abs(p.Y) < CoordinateSanityBound
}

// DistanceTo returns the Euclidean distance to another position.
func (p Position) DistanceTo(other Position) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// filterState is the constant-velocity Kalman filter state. Exactly one
// instance, owned by the Estimator, reset whenever smoothing is toggled
// or the estimator is reset.
type filterState struct {
	x, y       float64
	vx, vy     float64
	px, py     float64 // position uncertainty
	pvx, pvy   float64 // velocity uncertainty
	lastUpdate time.Time
}

func newFilterState() filterState {
	return filterState{px: 1, py: 1, pvx: 1, pvy: 1}
}
