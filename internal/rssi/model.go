// Package rssi converts Bluetooth signal-strength readings into distance
// estimates using a calibrated log-distance path-loss model.
package rssi

import (
	"fmt"
	"math"
)

// Default calibration values for a collar-class BLE receiver. RefPower is
// the expected RSSI at one metre; the path-loss exponent 2.0 is free-space
// and the environmental factor compensates for indoor multipath.
const (
	DefaultRefPower            = -59.0
	DefaultPathLossExponent    = 2.0
	DefaultEnvironmentalFactor = 1.2
	DefaultMinDistance         = 0.5
	DefaultMaxDistance         = 50.0

	// NoSignalDistance is returned for the zero-RSSI sentinel ("no signal").
	// It exceeds every sane distance bound so it can never satisfy
	// downstream validity checks.
	NoSignalDistance = 999.0
)

// Model holds the path-loss calibration for one receiver/environment pair.
// The zero value is not useful; construct with NewModel or fill all fields.
type Model struct {
	RefPower            float64 // RSSI at 1 m (dBm)
	PathLossExponent    float64 // free space = 2.0, cluttered indoor 2.5-4.0
	EnvironmentalFactor float64 // multiplicative indoor correction
	MinDistance         float64 // clamp floor (metres)
	MaxDistance         float64 // clamp ceiling (metres)
}

// NewModel returns a Model with the default indoor calibration.
func NewModel() Model {
	return Model{
		RefPower:            DefaultRefPower,
		PathLossExponent:    DefaultPathLossExponent,
		EnvironmentalFactor: DefaultEnvironmentalFactor,
		MinDistance:         DefaultMinDistance,
		MaxDistance:         DefaultMaxDistance,
	}
}

// SetDistanceBounds updates the clamp range at runtime. The bounds must
// be positive and ordered; on error the model is left unchanged.
func (m *Model) SetDistanceBounds(min, max float64) error {
	if min <= 0 || max <= min {
		return fmt.Errorf("rssi: invalid distance bounds [%g, %g]", min, max)
	}
	m.MinDistance = min
	m.MaxDistance = max
	return nil
}

// Distance converts a signal-strength reading in dBm to an estimated
// distance in metres. An RSSI of exactly 0 is the scanner's "no signal"
// sentinel and maps to NoSignalDistance rather than a derived value.
func (m Model) Distance(rssi int) float64 {
	if rssi == 0 {
		return NoSignalDistance
	}

	ratio := m.RefPower - float64(rssi)
	d := math.Pow(10, ratio/(10*m.PathLossExponent)) * m.EnvironmentalFactor

	if d < m.MinDistance {
		return m.MinDistance
	}
	if d > m.MaxDistance {
		return m.MaxDistance
	}
	return d
}
