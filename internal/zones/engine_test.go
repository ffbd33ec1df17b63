package zones

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collarkit/collarkit/internal/locate"
	"github.com/collarkit/collarkit/internal/timeutil"
)

// recorder captures every listener event for assertions.
type recorder struct {
	entered     []string
	exited      []string
	boundary    []string
	transitions []Transition
	activity    []int
}

func (r *recorder) ZoneEntered(z Zone, _ locate.Position) { r.entered = append(r.entered, z.ID) }
func (r *recorder) ZoneExited(z Zone, _ locate.Position)  { r.exited = append(r.exited, z.ID) }
func (r *recorder) BoundaryAlert(z Zone, _ locate.Position, _ float64) {
	r.boundary = append(r.boundary, z.ID)
}
func (r *recorder) Transition(t Transition) { r.transitions = append(r.transitions, t) }
func (r *recorder) HighActivity(n int)      { r.activity = append(r.activity, n) }

func newTestEngine(t *testing.T, cfg Config) (*Engine, *recorder, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	rec := &recorder{}
	return NewEngine(cfg, clock, rec), rec, clock
}

func pos(x, y float64) locate.Position {
	return locate.Position{X: x, Y: y, Confidence: 0.9}
}

func TestUpdateRejectsInvalidPosition(t *testing.T) {
	e, rec, _ := newTestEngine(t, DefaultConfig())
	require.NoError(t, e.AddCircularZone("home", "Home", Safe, Point{}, 10))

	low := locate.Position{X: 1, Y: 1, Confidence: 0.2}
	assert.False(t, e.Update(low))
	assert.Empty(t, rec.transitions)
}

func TestUpdateRateLimited(t *testing.T) {
	e, _, clock := newTestEngine(t, DefaultConfig())
	require.NoError(t, e.AddCircularZone("home", "Home", Safe, Point{}, 10))

	assert.True(t, e.Update(pos(0, 0)))
	clock.Advance(500 * time.Millisecond)
	assert.False(t, e.Update(pos(0, 0)), "second call inside the check interval is a no-op")
	clock.Advance(500 * time.Millisecond)
	assert.True(t, e.Update(pos(0, 0)))
}

func TestEntryAndExitEvents(t *testing.T) {
	e, rec, clock := newTestEngine(t, DefaultConfig())
	require.NoError(t, e.AddCircularZone("home", "Home", Safe, Point{}, 5))

	// Outside everything: no transition from "none" to "none".
	assert.True(t, e.Update(pos(20, 20)))
	assert.Empty(t, rec.transitions)

	clock.Advance(time.Second)
	assert.True(t, e.Update(pos(0, 0)))
	assert.Equal(t, []string{"home"}, rec.entered)
	assert.Equal(t, "home", e.CurrentZoneID())
	require.Len(t, rec.transitions, 1)
	assert.Equal(t, "", rec.transitions[0].FromZoneID)
	assert.Equal(t, "home", rec.transitions[0].ToZoneID)

	clock.Advance(6 * time.Second) // past the transition cooldown
	assert.True(t, e.Update(pos(20, 20)))
	assert.Equal(t, []string{"home"}, rec.exited)
	assert.Equal(t, "", e.CurrentZoneID())
	assert.Len(t, rec.transitions, 2)
}

func TestPriorityResolution(t *testing.T) {
	for _, order := range []string{"low-first", "high-first"} {
		t.Run(order, func(t *testing.T) {
			e, rec, _ := newTestEngine(t, DefaultConfig())

			addLow := func() {
				require.NoError(t, e.AddCircularZone("low", "Low", Warning, Point{}, 10))
				require.True(t, e.UpdateZone("low", func(z *Zone) { z.Priority = 100 }))
			}
			addHigh := func() {
				require.NoError(t, e.AddCircularZone("high", "High", Danger, Point{}, 10))
				require.True(t, e.UpdateZone("high", func(z *Zone) { z.Priority = 200 }))
			}
			if order == "low-first" {
				addLow()
				addHigh()
			} else {
				addHigh()
				addLow()
			}

			assert.True(t, e.Update(pos(0, 0)))
			assert.Equal(t, "high", e.CurrentZoneID())
			assert.Equal(t, []string{"high"}, rec.entered)
		})
	}
}

func TestPriorityTieGoesToFirstRegistered(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig())
	require.NoError(t, e.AddCircularZone("a", "A", Safe, Point{}, 10))
	require.NoError(t, e.AddCircularZone("b", "B", Safe, Point{}, 10))

	assert.True(t, e.Update(pos(0, 0)))
	assert.Equal(t, "a", e.CurrentZoneID())
}

func TestTransitionCooldownDropsRapidChanges(t *testing.T) {
	e, rec, clock := newTestEngine(t, DefaultConfig())
	require.NoError(t, e.AddCircularZone("a", "A", Safe, Point{X: 0, Y: 0}, 3))
	require.NoError(t, e.AddCircularZone("b", "B", Danger, Point{X: 100, Y: 0}, 3))

	// First change is accepted and starts the cooldown.
	assert.True(t, e.Update(pos(0, 0)))
	require.Len(t, rec.transitions, 1)

	// A genuine change 1 s later falls inside the 5 s cooldown: silently
	// dropped, tracked zone unchanged.
	clock.Advance(time.Second)
	assert.True(t, e.Update(pos(100, 0)))
	assert.Len(t, rec.transitions, 1)
	assert.Equal(t, "a", e.CurrentZoneID())

	// A change after the cooldown elapses is recorded.
	clock.Advance(5 * time.Second)
	assert.True(t, e.Update(pos(100, 0)))
	require.Len(t, rec.transitions, 2)
	assert.Equal(t, "b", e.CurrentZoneID())
	assert.Equal(t, "a", rec.transitions[1].FromZoneID)
	assert.Equal(t, "b", rec.transitions[1].ToZoneID)
}

func TestScheduleGatesContainment(t *testing.T) {
	e, _, clock := newTestEngine(t, DefaultConfig())
	require.NoError(t, e.AddCircularZone("night", "Night Pen", Safe, Point{}, 10))
	require.True(t, e.UpdateZone("night", func(z *Zone) {
		z.Schedule = Schedule{
			Enabled:   true,
			StartHour: 22, StartMinute: 0,
			EndHour: 6, EndMinute: 0,
			ActiveDays: EveryDay,
		}
	}))

	// Noon: the schedule is inactive, so the zone does not resolve.
	assert.True(t, e.Update(pos(0, 0)))
	assert.Equal(t, "", e.CurrentZoneID())

	// 23:30 the same day: the zone resolves.
	clock.Set(time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC))
	assert.True(t, e.Update(pos(0, 0)))
	assert.Equal(t, "night", e.CurrentZoneID())
}

func TestBoundaryAlertWithCooldown(t *testing.T) {
	e, rec, clock := newTestEngine(t, DefaultConfig())
	require.NoError(t, e.AddCircularZone("home", "Home", Safe, Point{}, 5))
	require.True(t, e.UpdateZone("home", func(z *Zone) { z.AlertCooldown = 10 * time.Second }))

	// 0.3 m outside the boundary, inside the 0.5 m tolerance.
	assert.True(t, e.Update(pos(5.3, 0)))
	assert.Equal(t, []string{"home"}, rec.boundary)

	// Within the per-zone cooldown: no second alert.
	clock.Advance(time.Second)
	assert.True(t, e.Update(pos(5.3, 0)))
	assert.Len(t, rec.boundary, 1)

	// After the cooldown: alert again.
	clock.Advance(10 * time.Second)
	assert.True(t, e.Update(pos(5.3, 0)))
	assert.Len(t, rec.boundary, 2)
}

func TestBoundaryAlertMultipleZones(t *testing.T) {
	e, rec, _ := newTestEngine(t, DefaultConfig())
	require.NoError(t, e.AddCircularZone("a", "A", Safe, Point{X: -5, Y: 0}, 5))
	require.NoError(t, e.AddCircularZone("b", "B", Danger, Point{X: 5, Y: 0}, 5))

	// The origin sits on both boundaries; both alert in the same cycle.
	assert.True(t, e.Update(pos(0, 0)))
	assert.ElementsMatch(t, []string{"a", "b"}, rec.boundary)
}

func TestBoundaryAlertRespectsAlertEnabled(t *testing.T) {
	e, rec, _ := newTestEngine(t, DefaultConfig())
	require.NoError(t, e.AddCircularZone("quiet", "Quiet", Neutral, Point{}, 5))
	require.True(t, e.UpdateZone("quiet", func(z *Zone) { z.AlertEnabled = false }))

	assert.True(t, e.Update(pos(5.2, 0)))
	assert.Empty(t, rec.boundary)
}

func TestHighActivityDetection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TransitionCooldown = time.Second
	e, rec, clock := newTestEngine(t, cfg)
	require.NoError(t, e.AddCircularZone("a", "A", Safe, Point{}, 3))

	// Bounce in and out every second; each change is a transition once
	// the 1 s cooldown has elapsed.
	inside := true
	for i := 0; i < 8; i++ {
		p := pos(0, 0)
		if !inside {
			p = pos(50, 0)
		}
		assert.True(t, e.Update(p))
		inside = !inside
		clock.Advance(time.Second)
	}

	require.NotEmpty(t, rec.activity, "more than five transitions in the window must flag high activity")
	assert.Greater(t, rec.activity[len(rec.activity)-1], 5)
}

func TestMovementAnalysisDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TransitionCooldown = time.Second
	cfg.MovementAnalysis = false
	e, rec, clock := newTestEngine(t, cfg)
	require.NoError(t, e.AddCircularZone("a", "A", Safe, Point{}, 3))

	inside := true
	for i := 0; i < 10; i++ {
		p := pos(0, 0)
		if !inside {
			p = pos(50, 0)
		}
		e.Update(p)
		inside = !inside
		clock.Advance(time.Second)
	}
	assert.Empty(t, rec.activity)
}

func TestRegistrationRejectsInvalidGeometry(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig())

	assert.ErrorIs(t, e.AddCircularZone("c", "C", Safe, Point{}, 0), ErrInvalidGeometry)
	assert.ErrorIs(t, e.AddCircularZone("c", "C", Safe, Point{}, -1), ErrInvalidGeometry)
	assert.ErrorIs(t, e.AddRectangularZone("r", "R", Safe, Point{}, 0, 5), ErrInvalidGeometry)
	assert.ErrorIs(t, e.AddPolygonZone("p", "P", Safe, []Point{{0, 0}, {1, 1}}), ErrInvalidGeometry)
	assert.Empty(t, e.Zones(), "no partial mutation on rejection")
}

func TestRegistrationRejectsDuplicateID(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig())
	require.NoError(t, e.AddCircularZone("home", "Home", Safe, Point{}, 5))
	assert.ErrorIs(t, e.AddCircularZone("home", "Other", Danger, Point{}, 3), ErrZoneExists)
	assert.Len(t, e.Zones(), 1)
}

func TestRegistrationCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxZones = 2
	e, _, _ := newTestEngine(t, cfg)

	require.NoError(t, e.AddCircularZone("a", "A", Safe, Point{}, 5))
	require.NoError(t, e.AddCircularZone("b", "B", Safe, Point{}, 5))
	assert.ErrorIs(t, e.AddCircularZone("c", "C", Safe, Point{}, 5), ErrCapacityExceeded)
}

func TestPolygonZoneCentroid(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig())
	require.NoError(t, e.AddPolygonZone("yard", "Yard", Safe, []Point{{0, 0}, {4, 0}, {4, 4}, {0, 4}}))

	z, ok := e.Zone("yard")
	require.True(t, ok)
	assert.Equal(t, Point{X: 2, Y: 2}, z.Center)
}

func TestRemoveZoneIdempotent(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig())
	require.NoError(t, e.AddCircularZone("a", "A", Safe, Point{}, 5))

	assert.True(t, e.RemoveZone("a"))
	assert.False(t, e.RemoveZone("a"))
	assert.Empty(t, e.Zones())
}

func TestReplaceZonesAtomic(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig())
	require.NoError(t, e.AddCircularZone("keep", "Keep", Safe, Point{}, 5))

	bad := []Zone{
		{ID: "x", Shape: Circle, Radius: 3, Active: true},
		{ID: "y", Shape: Circle, Radius: -1, Active: true},
	}
	assert.ErrorIs(t, e.ReplaceZones(bad), ErrInvalidGeometry)
	assert.Len(t, e.Zones(), 1)
	_, ok := e.Zone("keep")
	assert.True(t, ok, "failed replace keeps prior zones")

	good := []Zone{
		{ID: "x", Shape: Circle, Radius: 3, Active: true},
		{ID: "y", Shape: Rectangle, Width: 2, Height: 2, Active: true},
	}
	require.NoError(t, e.ReplaceZones(good))
	assert.Len(t, e.Zones(), 2)
	_, ok = e.Zone("keep")
	assert.False(t, ok)
}

func TestInSafeZone(t *testing.T) {
	e, _, clock := newTestEngine(t, DefaultConfig())
	require.NoError(t, e.AddCircularZone("home", "Home", Safe, Point{}, 5))
	require.NoError(t, e.AddCircularZone("road", "Road", Danger, Point{X: 100, Y: 0}, 5))

	assert.False(t, e.InSafeZone())

	assert.True(t, e.Update(pos(0, 0)))
	assert.True(t, e.InSafeZone())

	clock.Advance(6 * time.Second)
	assert.True(t, e.Update(pos(100, 0)))
	assert.False(t, e.InSafeZone())
}

func TestResetPreservesZones(t *testing.T) {
	e, rec, clock := newTestEngine(t, DefaultConfig())
	require.NoError(t, e.AddCircularZone("home", "Home", Safe, Point{}, 5))

	assert.True(t, e.Update(pos(0, 0)))
	require.Len(t, rec.transitions, 1)

	e.Reset()

	assert.Equal(t, "", e.CurrentZoneID())
	assert.Empty(t, e.Transitions())
	assert.Len(t, e.Zones(), 1)
	_, ok := e.LastPosition()
	assert.False(t, ok)

	// After reset the rate limiter and cooldown restart from scratch.
	clock.Advance(time.Second)
	assert.True(t, e.Update(pos(0, 0)))
	assert.Equal(t, "home", e.CurrentZoneID())
}

func TestStatsSnapshot(t *testing.T) {
	e, _, clock := newTestEngine(t, DefaultConfig())
	require.NoError(t, e.AddCircularZone("home", "Home", Safe, Point{}, 5))
	require.NoError(t, e.AddCircularZone("road", "Road", Danger, Point{X: 100, Y: 0}, 5))

	assert.True(t, e.Update(pos(0, 0)))
	clock.Advance(6 * time.Second)
	assert.True(t, e.Update(pos(100, 0)))

	s := e.Stats()
	assert.Equal(t, 2, s.TotalZones)
	assert.Equal(t, 1, s.SafeZones)
	assert.Equal(t, 1, s.DangerZones)
	assert.Equal(t, "road", s.CurrentZoneID)
	assert.Equal(t, 2, s.TransitionCount)
	assert.InDelta(t, 6.0, s.MeanDwellSeconds, 1e-9)
}
