package rssi

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceAtReferencePower(t *testing.T) {
	m := NewModel()

	// At exactly RefPower the raw model distance is 1 m times the
	// environmental factor.
	got := m.Distance(int(DefaultRefPower))
	assert.InDelta(t, DefaultEnvironmentalFactor, got, 1e-9)
}

func TestDistanceMonotoneInSignalLoss(t *testing.T) {
	m := NewModel()

	weaker := m.Distance(-80)
	stronger := m.Distance(-65)
	if weaker <= stronger {
		t.Errorf("distance(-80) = %.2f should exceed distance(-65) = %.2f", weaker, stronger)
	}
}

func TestDistanceClamping(t *testing.T) {
	m := NewModel()

	t.Run("very strong signal clamps to floor", func(t *testing.T) {
		assert.Equal(t, m.MinDistance, m.Distance(-20))
	})

	t.Run("very weak signal clamps to ceiling", func(t *testing.T) {
		assert.Equal(t, m.MaxDistance, m.Distance(-120))
	})
}

func TestDistanceNoSignalSentinel(t *testing.T) {
	m := NewModel()

	got := m.Distance(0)
	assert.Equal(t, NoSignalDistance, got)
	if got <= m.MaxDistance {
		t.Errorf("sentinel distance %.1f must exceed MaxDistance %.1f", got, m.MaxDistance)
	}
}

func TestSetDistanceBounds(t *testing.T) {
	m := NewModel()

	assert.NoError(t, m.SetDistanceBounds(1, 20))
	assert.Equal(t, 1.0, m.Distance(-20), "new floor applies")
	assert.Equal(t, 20.0, m.Distance(-120), "new ceiling applies")

	t.Run("rejects unordered or non-positive bounds", func(t *testing.T) {
		for _, bounds := range [][2]float64{{0, 10}, {-1, 10}, {10, 10}, {10, 5}} {
			assert.Error(t, m.SetDistanceBounds(bounds[0], bounds[1]))
		}
		// The last accepted bounds still hold.
		assert.Equal(t, 1.0, m.MinDistance)
		assert.Equal(t, 20.0, m.MaxDistance)
	})
}

func TestDistanceFormula(t *testing.T) {
	m := Model{
		RefPower:            -59,
		PathLossExponent:    2.5,
		EnvironmentalFactor: 1.0,
		MinDistance:         0.1,
		MaxDistance:         100,
	}

	// distance = 10^((ref - rssi) / (10 * n))
	want := math.Pow(10, (-59.0+84.0)/25.0)
	assert.InDelta(t, want, m.Distance(-84), 1e-9)
}
