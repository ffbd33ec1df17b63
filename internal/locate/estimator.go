package locate

import (
	"math"
	"time"

	"github.com/collarkit/collarkit/internal/monitoring"
	"github.com/collarkit/collarkit/internal/timeutil"
)

// Config holds estimator tuning parameters.
type Config struct {
	MaxAnchors       int           // anchor registry capacity
	ProcessNoise     float64       // Kalman process noise (per second)
	MeasurementNoise float64       // Kalman measurement noise
	Smoothing        bool          // constant-velocity Kalman smoothing
	OutlierDetection bool          // history-based outlier gate
	AnchorTimeout    time.Duration // age after which a seen anchor counts as stale
}

// DefaultConfig returns the estimator defaults used in the field.
func DefaultConfig() Config {
	return Config{
		MaxAnchors:       32,
		ProcessNoise:     0.1,
		MeasurementNoise: 1.0,
		Smoothing:        true,
		OutlierDetection: true,
		AnchorTimeout:    10 * time.Second,
	}
}

// Estimator turns per-cycle range samples into a smoothed 2D position.
//
// It is non-reentrant: all state mutation happens inside Update, and the
// caller is responsible for serialising calls.
type Estimator struct {
	cfg   Config
	clock timeutil.Clock

	anchors []Anchor

	current   Position
	lastValid Position
	valid     bool
	filter    filterState
	history   []Position
}

// NewEstimator creates an estimator with the given configuration. A nil
// clock defaults to the real clock.
func NewEstimator(cfg Config, clock timeutil.Clock) *Estimator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg.MaxAnchors <= 0 {
		cfg.MaxAnchors = DefaultConfig().MaxAnchors
	}
	if cfg.AnchorTimeout <= 0 {
		cfg.AnchorTimeout = DefaultConfig().AnchorTimeout
	}
	return &Estimator{
		cfg:     cfg,
		clock:   clock,
		anchors: make([]Anchor, 0, cfg.MaxAnchors),
		filter:  newFilterState(),
		history: make([]Position, 0, HistorySize),
	}
}

// AddAnchor registers a beacon anchor, or updates it in place when an
// anchor with the same name already exists. Returns ErrCapacityExceeded
// when a new anchor would exceed the registry capacity.
func (e *Estimator) AddAnchor(name, location string, x, y, z float64) error {
	if a := e.findAnchor(name); a != nil {
		a.Location = location
		a.X, a.Y, a.Z = x, y, z
		a.Active = true
		return nil
	}
	if len(e.anchors) >= e.cfg.MaxAnchors {
		return ErrCapacityExceeded
	}
	e.anchors = append(e.anchors, Anchor{
		Name: name, Location: location,
		X: x, Y: y, Z: z,
		Active: true,
	})
	return nil
}

// RemoveAnchor deletes an anchor by name or location. Removing an absent
// anchor is a no-op.
func (e *Estimator) RemoveAnchor(name string) bool {
	for i := range e.anchors {
		if e.anchors[i].Name == name || e.anchors[i].Location == name {
			e.anchors = append(e.anchors[:i], e.anchors[i+1:]...)
			return true
		}
	}
	return false
}

// SetAnchorActive enables or disables an anchor by name or location.
// Inactive anchors keep their calibration but contribute no equations.
// Returns false if the anchor is absent.
func (e *Estimator) SetAnchorActive(name string, active bool) bool {
	a := e.findAnchor(name)
	if a == nil {
		return false
	}
	a.Active = active
	return true
}

// ReplaceAnchors atomically replaces the full anchor registry. The set is
// validated against capacity first; on any failure the existing anchors
// are kept untouched. Duplicate names collapse to the last entry.
func (e *Estimator) ReplaceAnchors(anchors []Anchor) error {
	next := make([]Anchor, 0, len(anchors))
	index := make(map[string]int, len(anchors))
	for _, a := range anchors {
		if i, ok := index[a.Name]; ok {
			next[i] = a
			continue
		}
		index[a.Name] = len(next)
		next = append(next, a)
	}
	if len(next) > e.cfg.MaxAnchors {
		return ErrCapacityExceeded
	}
	e.anchors = next
	return nil
}

// StaleAnchors returns the active anchors last seen longer ago than the
// configured timeout. Anchors that have never been seen are not reported;
// a beacon that was present and went quiet is the condition of interest.
func (e *Estimator) StaleAnchors() []Anchor {
	now := e.clock.Now()
	var stale []Anchor
	for _, a := range e.anchors {
		if a.Active && !a.LastSeen.IsZero() && now.Sub(a.LastSeen) > e.cfg.AnchorTimeout {
			stale = append(stale, a)
		}
	}
	return stale
}

// Anchors returns a copy of the registered anchors.
func (e *Estimator) Anchors() []Anchor {
	out := make([]Anchor, len(e.anchors))
	copy(out, e.anchors)
	return out
}

func (e *Estimator) findAnchor(name string) *Anchor {
	for i := range e.anchors {
		if e.anchors[i].Name == name || e.anchors[i].Location == name {
			return &e.anchors[i]
		}
	}
	return nil
}

// Update runs one estimation cycle over the given samples. On success the
// returned position is the new current position. On failure the returned
// error identifies the rejection cause, the previous accepted position
// stays current, and neither the filter nor the history is touched.
func (e *Estimator) Update(samples []Sample) (Position, error) {
	now := e.clock.Now()

	// Resolve samples against the anchor registry; unknown or inactive
	// anchors and non-positive distances are dropped before processing.
	type ranged struct {
		anchor   *Anchor
		distance float64
	}
	usable := make([]ranged, 0, len(samples))
	for i := range samples {
		if samples[i].Distance <= 0 {
			continue
		}
		a := e.findAnchor(samples[i].Beacon)
		if a == nil || !a.Active {
			continue
		}
		a.LastSeen = now
		usable = append(usable, ranged{anchor: a, distance: samples[i].Distance})
		if len(usable) == MaxSolveSamples {
			break
		}
	}

	if len(usable) < MinSamples {
		return Position{}, ErrInsufficientData
	}

	// Least-squares multilateration. The first sample is the reference
	// anchor R; each other sample i contributes the linearised
	// circle-intersection identity
	//   2(xi-xR)x + 2(yi-yR)y = (dR^2 - di^2) + (xi^2+yi^2 - xR^2-yR^2)
	// stacked into A p = b and solved via the normal equations with the
	// closed-form 2x2 inverse.
	ref := usable[0]
	var ata00, ata01, ata11 float64
	var atb0, atb1 float64
	equations := 0
	for _, s := range usable[1:] {
		a0 := 2 * (s.anchor.X - ref.anchor.X)
		a1 := 2 * (s.anchor.Y - ref.anchor.Y)
		b := (ref.distance*ref.distance - s.distance*s.distance) +
			(s.anchor.X*s.anchor.X + s.anchor.Y*s.anchor.Y -
				ref.anchor.X*ref.anchor.X - ref.anchor.Y*ref.anchor.Y)

		ata00 += a0 * a0
		ata01 += a0 * a1
		ata11 += a1 * a1
		atb0 += a0 * b
		atb1 += a1 * b
		equations++
	}

	if equations < 2 {
		return Position{}, ErrDegenerateGeometry
	}
	det := ata00*ata11 - ata01*ata01
	if math.Abs(det) < minDeterminant {
		return Position{}, ErrDegenerateGeometry
	}

	invDet := 1 / det
	x := invDet * (ata11*atb0 - ata01*atb1)
	y := invDet * (ata00*atb1 - ata01*atb0)

	// Confidence from the mean absolute residual between estimated and
	// measured distances over all contributing anchors. Geometrically
	// consistent readings give residual ~0 and confidence ~1.
	var totalResidual float64
	for _, s := range usable {
		dx := x - s.anchor.X
		dy := y - s.anchor.Y
		estimated := math.Sqrt(dx*dx + dy*dy)
		totalResidual += math.Abs(estimated - s.distance)
	}
	meanResidual := totalResidual / float64(len(usable))

	measured := Position{
		X:          x,
		Y:          y,
		Confidence: 1 / (1 + meanResidual),
		Timestamp:  now,
	}

	if !measured.Valid() {
		monitoring.Logf("locate: solution (%.2f, %.2f) conf %.2f failed validity", x, y, measured.Confidence)
		return Position{}, ErrInvalidPosition
	}
	if e.isOutlier(measured) {
		monitoring.Logf("locate: solution (%.2f, %.2f) rejected as outlier", x, y)
		return Position{}, ErrOutlierRejected
	}

	accepted := e.smooth(measured)

	e.current = accepted
	e.lastValid = accepted
	e.valid = true
	e.history = append(e.history, accepted)
	if len(e.history) > HistorySize {
		e.history = e.history[len(e.history)-HistorySize:]
	}

	return accepted, nil
}

// isOutlier reports whether the candidate is too far from the recent
// accepted trajectory: mean distance to the last min(OutlierWindow,
// len(history)) entries above OutlierThresholdMeters.
func (e *Estimator) isOutlier(p Position) bool {
	if !e.cfg.OutlierDetection || len(e.history) == 0 {
		return false
	}

	n := OutlierWindow
	if len(e.history) < n {
		n = len(e.history)
	}

	var total float64
	for _, h := range e.history[len(e.history)-n:] {
		total += p.DistanceTo(h)
	}
	return total/float64(n) > OutlierThresholdMeters
}

// smooth applies the constant-velocity Kalman filter. The first call after
// a reset initialises the filter from the measurement and returns it
// unfiltered; subsequent calls blend prediction and measurement with the
// uncertainty-derived gain.
func (e *Estimator) smooth(measured Position) Position {
	if !e.cfg.Smoothing {
		return measured
	}

	now := e.clock.Now()
	if e.filter.lastUpdate.IsZero() {
		e.filter.x = measured.X
		e.filter.y = measured.Y
		e.filter.vx = 0
		e.filter.vy = 0
		e.filter.lastUpdate = now
		return measured
	}

	dt := now.Sub(e.filter.lastUpdate).Seconds()

	// Predict.
	e.filter.x += e.filter.vx * dt
	e.filter.y += e.filter.vy * dt
	e.filter.px += e.cfg.ProcessNoise * dt
	e.filter.py += e.cfg.ProcessNoise * dt
	e.filter.pvx += e.cfg.ProcessNoise * dt
	e.filter.pvy += e.cfg.ProcessNoise * dt

	// Update.
	kx := e.filter.px / (e.filter.px + e.cfg.MeasurementNoise)
	ky := e.filter.py / (e.filter.py + e.cfg.MeasurementNoise)
	e.filter.x += kx * (measured.X - e.filter.x)
	e.filter.y += ky * (measured.Y - e.filter.y)
	e.filter.px *= 1 - kx
	e.filter.py *= 1 - ky

	e.filter.lastUpdate = now

	return Position{
		X:          e.filter.x,
		Y:          e.filter.y,
		Confidence: measured.Confidence,
		Timestamp:  measured.Timestamp,
	}
}

// Current returns the current position and whether it is valid. The
// position is the zero value until the first accepted update.
func (e *Estimator) Current() (Position, bool) {
	return e.current, e.valid && e.current.Valid()
}

// LastValid returns the last accepted position regardless of how many
// cycles have since been rejected.
func (e *Estimator) LastValid() Position {
	return e.lastValid
}

// History returns a copy of the accepted position history, oldest first.
func (e *Estimator) History() []Position {
	out := make([]Position, len(e.history))
	copy(out, e.history)
	return out
}

// SetSmoothing enables or disables Kalman smoothing. Disabling resets the
// filter state entirely; the next enabled update reinitialises from its
// raw measurement.
func (e *Estimator) SetSmoothing(enabled bool) {
	if e.cfg.Smoothing && !enabled {
		e.filter = newFilterState()
	}
	e.cfg.Smoothing = enabled
}

// SetOutlierDetection enables or disables the history-based outlier gate.
func (e *Estimator) SetOutlierDetection(enabled bool) {
	e.cfg.OutlierDetection = enabled
}

// Reset clears all derived runtime state: current position, filter, and
// history. Registered anchors are preserved.
func (e *Estimator) Reset() {
	e.current = Position{}
	e.lastValid = Position{}
	e.valid = false
	e.filter = newFilterState()
	e.history = e.history[:0]
}
