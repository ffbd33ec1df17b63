package zones

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/collarkit/collarkit/internal/locate"
	"github.com/collarkit/collarkit/internal/monitoring"
	"github.com/collarkit/collarkit/internal/timeutil"
)

// Zone registration failure conditions. All are rejected-operation
// statuses with no partial state change.
var (
	// ErrZoneExists: a zone with the same id is already registered.
	ErrZoneExists = errors.New("zones: zone id already exists")

	// ErrCapacityExceeded: registration beyond the configured zone capacity.
	ErrCapacityExceeded = errors.New("zones: zone capacity exceeded")

	// ErrInvalidGeometry: non-positive radius or extents, or a polygon
	// with fewer than three vertices.
	ErrInvalidGeometry = errors.New("zones: invalid zone geometry")
)

// Listener receives zone events. All methods are invoked synchronously
// inside Engine.Update on the caller's execution context; implementations
// must not block or re-enter the engine.
type Listener interface {
	// ZoneEntered fires when the resolved zone changes to z.
	ZoneEntered(z Zone, pos locate.Position)

	// ZoneExited fires when the resolved zone changes away from z.
	ZoneExited(z Zone, pos locate.Position)

	// BoundaryAlert fires when the position is within the boundary
	// tolerance of an alert-enabled zone and its cooldown has elapsed.
	BoundaryAlert(z Zone, pos locate.Position, distance float64)

	// Transition fires for every confirmed zone transition record.
	Transition(t Transition)

	// HighActivity fires when the rolling transition window exceeds the
	// pattern threshold (possible escape behaviour).
	HighActivity(transitions int)
}

// NoopListener implements Listener with no-ops. Embed it to implement
// only the events of interest.
type NoopListener struct{}

func (NoopListener) ZoneEntered(Zone, locate.Position)            {}
func (NoopListener) ZoneExited(Zone, locate.Position)             {}
func (NoopListener) BoundaryAlert(Zone, locate.Position, float64) {}
func (NoopListener) Transition(Transition)                        {}
func (NoopListener) HighActivity(int)                             {}

// Transition records one confirmed zone change. FromZoneID and ToZoneID
// are empty for "none" (outside all zones).
type Transition struct {
	ID         string    `json:"id"`
	FromZoneID string    `json:"from_zone_id"`
	ToZoneID   string    `json:"to_zone_id"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Config holds engine tuning parameters.
type Config struct {
	MaxZones           int           // zone registry capacity
	CheckInterval      time.Duration // minimum interval between evaluations
	TransitionCooldown time.Duration // minimum dwell between transitions
	BoundaryTolerance  float64       // boundary alert distance (metres)
	HistorySize        int           // transition history capacity
	PatternWindow      time.Duration // rolling movement-analysis window
	PatternThreshold   int           // transitions above which activity is high
	MovementAnalysis   bool          // escape-pattern detection
}

// DefaultConfig returns the engine defaults used in the field.
func DefaultConfig() Config {
	return Config{
		MaxZones:           10,
		CheckInterval:      time.Second,
		TransitionCooldown: 5 * time.Second,
		BoundaryTolerance:  0.5,
		HistorySize:        50,
		PatternWindow:      5 * time.Minute,
		PatternThreshold:   5,
		MovementAnalysis:   true,
	}
}

// Engine tracks zone membership for a stream of positions, detecting
// transitions with anti-oscillation cooldown and boundary-proximity
// alerts with per-zone cooldown.
//
// The engine is synchronous and non-reentrant; callers serialise Update
// calls. All event callbacks happen inside Update.
type Engine struct {
	cfg      Config
	clock    timeutil.Clock
	listener Listener

	// zones preserves registration order so priority ties resolve to the
	// first-registered zone (stable, never re-sorted).
	zones       []Zone
	transitions []Transition

	currentZoneID  string
	lastPosition   locate.Position
	positionValid  bool
	lastCheck      time.Time
	lastTransition time.Time
}

// NewEngine creates a zone engine. A nil clock defaults to the real
// clock; a nil listener defaults to no-ops.
func NewEngine(cfg Config, clock timeutil.Clock, listener Listener) *Engine {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if listener == nil {
		listener = NoopListener{}
	}
	def := DefaultConfig()
	if cfg.MaxZones <= 0 {
		cfg.MaxZones = def.MaxZones
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.PatternWindow <= 0 {
		cfg.PatternWindow = def.PatternWindow
	}
	if cfg.PatternThreshold <= 0 {
		cfg.PatternThreshold = def.PatternThreshold
	}
	return &Engine{
		cfg:      cfg,
		clock:    clock,
		listener: listener,
		zones:    make([]Zone, 0, cfg.MaxZones),
	}
}

// Update evaluates one position against the registered zones. Calls
// arriving within CheckInterval of the previous evaluation are no-ops, as
// are invalid positions. Returns true when an evaluation ran.
func (e *Engine) Update(pos locate.Position) bool {
	if !pos.Valid() {
		return false
	}

	now := e.clock.Now()
	if !e.lastCheck.IsZero() && now.Sub(e.lastCheck) < e.cfg.CheckInterval {
		return false
	}
	e.lastCheck = now
	e.lastPosition = pos
	e.positionValid = true

	point := Point{X: pos.X, Y: pos.Y}

	// Resolve zone membership: among active, schedule-active zones
	// containing the point, the highest priority wins; ties go to the
	// first-registered zone.
	resolved := -1
	for i := range e.zones {
		z := &e.zones[i]
		if !z.Active || !z.Schedule.ActiveAt(now) {
			continue
		}
		if !z.Contains(point) {
			continue
		}
		if resolved < 0 || z.Priority > e.zones[resolved].Priority {
			resolved = i
		}
	}

	newZoneID := ""
	if resolved >= 0 {
		newZoneID = e.zones[resolved].ID
	}

	// Transition detection with anti-oscillation cooldown. Changes inside
	// the cooldown window are silently dropped, leaving the tracked zone
	// unchanged until the next evaluation outside the window.
	if newZoneID != e.currentZoneID {
		if e.lastTransition.IsZero() || now.Sub(e.lastTransition) >= e.cfg.TransitionCooldown {
			e.recordTransition(e.currentZoneID, newZoneID, pos, now)

			if old := e.findZone(e.currentZoneID); old != nil {
				e.listener.ZoneExited(*old, pos)
			}
			if resolved >= 0 {
				e.listener.ZoneEntered(e.zones[resolved], pos)
			}

			e.currentZoneID = newZoneID
			e.lastTransition = now
		}
	}

	e.checkBoundaryAlerts(point, pos, now)

	if e.cfg.MovementAnalysis {
		e.analyzeMovement(now)
	}
	return true
}

func (e *Engine) recordTransition(fromID, toID string, pos locate.Position, now time.Time) {
	tr := Transition{
		ID:         uuid.NewString(),
		FromZoneID: fromID,
		ToZoneID:   toID,
		X:          pos.X,
		Y:          pos.Y,
		Confidence: pos.Confidence,
		Timestamp:  now,
	}
	e.transitions = append(e.transitions, tr)
	if len(e.transitions) > e.cfg.HistorySize {
		e.transitions = e.transitions[len(e.transitions)-e.cfg.HistorySize:]
	}

	monitoring.Logf("zones: transition %q -> %q at (%.2f, %.2f)", fromID, toID, pos.X, pos.Y)
	e.listener.Transition(tr)
}

// checkBoundaryAlerts fires proximity alerts for every active,
// alert-enabled zone whose boundary is within tolerance, independent of
// containment and transition state. Each zone has its own cooldown.
func (e *Engine) checkBoundaryAlerts(point Point, pos locate.Position, now time.Time) {
	for i := range e.zones {
		z := &e.zones[i]
		if !z.Active || !z.AlertEnabled {
			continue
		}

		d := z.BoundaryDistance(point)
		if d > e.cfg.BoundaryTolerance {
			continue
		}
		if !z.lastAlert.IsZero() && now.Sub(z.lastAlert) < z.AlertCooldown {
			continue
		}
		z.lastAlert = now
		e.listener.BoundaryAlert(*z, pos, d)
	}
}

// analyzeMovement flags high transition activity over the rolling pattern
// window; rapid zone churn is a possible escape attempt.
func (e *Engine) analyzeMovement(now time.Time) {
	recent := 0
	for i := len(e.transitions) - 1; i >= 0; i-- {
		if now.Sub(e.transitions[i].Timestamp) > e.cfg.PatternWindow {
			break
		}
		recent++
	}
	if recent > e.cfg.PatternThreshold {
		monitoring.Logf("zones: high activity, %d transitions in window", recent)
		e.listener.HighActivity(recent)
	}
}

func (e *Engine) findZone(id string) *Zone {
	if id == "" {
		return nil
	}
	for i := range e.zones {
		if e.zones[i].ID == id {
			return &e.zones[i]
		}
	}
	return nil
}

// AddCircularZone registers a circular zone. Rejected at capacity, on a
// duplicate id, or for a non-positive radius, with no partial mutation.
func (e *Engine) AddCircularZone(id, name string, typ Type, center Point, radius float64) error {
	if radius <= 0 {
		return ErrInvalidGeometry
	}
	z := e.newZone(id, name, typ, Circle)
	z.Center = center
	z.Radius = radius
	return e.register(z)
}

// AddRectangularZone registers an axis-aligned rectangular zone.
func (e *Engine) AddRectangularZone(id, name string, typ Type, center Point, width, height float64) error {
	if width <= 0 || height <= 0 {
		return ErrInvalidGeometry
	}
	z := e.newZone(id, name, typ, Rectangle)
	z.Center = center
	z.Width = width
	z.Height = height
	return e.register(z)
}

// AddPolygonZone registers a polygon zone. The registration centroid is
// the geometric center of the vertices. Polygons need at least three
// vertices.
func (e *Engine) AddPolygonZone(id, name string, typ Type, vertices []Point) error {
	if len(vertices) < 3 {
		return ErrInvalidGeometry
	}
	z := e.newZone(id, name, typ, Polygon)
	z.Vertices = append([]Point(nil), vertices...)
	z.Center = centroid(vertices)
	return e.register(z)
}

func (e *Engine) newZone(id, name string, typ Type, shape Shape) Zone {
	now := e.clock.Now()
	return Zone{
		ID:            id,
		Name:          name,
		Type:          typ,
		Shape:         shape,
		Active:        true,
		AlertEnabled:  true,
		Priority:      128,
		Schedule:      DefaultSchedule(),
		AlertCooldown: 5 * time.Second,
		Created:       now,
		Modified:      now,
	}
}

// AddZone registers a fully-specified zone, validating its geometry. Used
// by hosts that load zones from configuration documents.
func (e *Engine) AddZone(z Zone) error {
	if err := validateGeometry(&z); err != nil {
		return err
	}
	now := e.clock.Now()
	z.Created = now
	z.Modified = now
	return e.register(z)
}

func validateGeometry(z *Zone) error {
	switch z.Shape {
	case Circle:
		if z.Radius <= 0 {
			return ErrInvalidGeometry
		}
	case Rectangle:
		if z.Width <= 0 || z.Height <= 0 {
			return ErrInvalidGeometry
		}
	case Polygon:
		if len(z.Vertices) < 3 {
			return ErrInvalidGeometry
		}
	}
	return nil
}

func (e *Engine) register(z Zone) error {
	if len(e.zones) >= e.cfg.MaxZones {
		return ErrCapacityExceeded
	}
	if e.findZone(z.ID) != nil {
		return ErrZoneExists
	}
	e.zones = append(e.zones, z)
	monitoring.Logf("zones: added %s zone %q", z.Type, z.ID)
	return nil
}

// RemoveZone deletes a zone by id. Removing an absent zone is a no-op.
func (e *Engine) RemoveZone(id string) bool {
	for i := range e.zones {
		if e.zones[i].ID == id {
			e.zones = append(e.zones[:i], e.zones[i+1:]...)
			return true
		}
	}
	return false
}

// UpdateZone applies fn to the zone with the given id under the engine's
// ownership, bumping its modification time. Returns false if absent.
func (e *Engine) UpdateZone(id string, fn func(*Zone)) bool {
	z := e.findZone(id)
	if z == nil {
		return false
	}
	fn(z)
	z.Modified = e.clock.Now()
	return true
}

// ReplaceZones atomically replaces the full zone set, validating every
// zone first. On any validation failure the existing zones are kept
// untouched.
func (e *Engine) ReplaceZones(zs []Zone) error {
	if len(zs) > e.cfg.MaxZones {
		return ErrCapacityExceeded
	}
	seen := make(map[string]bool, len(zs))
	for i := range zs {
		if seen[zs[i].ID] {
			return ErrZoneExists
		}
		seen[zs[i].ID] = true
		if err := validateGeometry(&zs[i]); err != nil {
			return err
		}
	}
	e.zones = append(e.zones[:0:0], zs...)
	return nil
}

// Zone returns a copy of the zone with the given id.
func (e *Engine) Zone(id string) (Zone, bool) {
	if z := e.findZone(id); z != nil {
		return *z, true
	}
	return Zone{}, false
}

// Zones returns a copy of all registered zones in registration order.
func (e *Engine) Zones() []Zone {
	out := make([]Zone, len(e.zones))
	copy(out, e.zones)
	return out
}

// LastPosition returns the most recent evaluated position, if any.
func (e *Engine) LastPosition() (locate.Position, bool) {
	return e.lastPosition, e.positionValid
}

// CurrentZoneID returns the tracked zone id, empty when outside all zones.
func (e *Engine) CurrentZoneID() string {
	return e.currentZoneID
}

// InSafeZone reports whether the tracked zone is a Safe zone.
func (e *Engine) InSafeZone() bool {
	z := e.findZone(e.currentZoneID)
	return z != nil && z.Type == Safe
}

// Transitions returns a copy of the transition history, oldest first.
func (e *Engine) Transitions() []Transition {
	out := make([]Transition, len(e.transitions))
	copy(out, e.transitions)
	return out
}

// SetBoundaryTolerance adjusts the boundary alert distance.
func (e *Engine) SetBoundaryTolerance(tolerance float64) {
	e.cfg.BoundaryTolerance = tolerance
}

// SetMovementAnalysis enables or disables escape-pattern detection.
func (e *Engine) SetMovementAnalysis(enabled bool) {
	e.cfg.MovementAnalysis = enabled
}

// ClearZones removes every zone and all derived tracking state.
func (e *Engine) ClearZones() {
	e.zones = e.zones[:0]
	e.currentZoneID = ""
	e.transitions = e.transitions[:0]
}

// Reset clears all derived runtime state: current zone, transition
// history, cooldown timers, and per-zone alert state. Registered zones
// are preserved.
func (e *Engine) Reset() {
	e.currentZoneID = ""
	e.lastPosition = locate.Position{}
	e.positionValid = false
	e.transitions = e.transitions[:0]
	e.lastCheck = time.Time{}
	e.lastTransition = time.Time{}
	for i := range e.zones {
		e.zones[i].lastAlert = time.Time{}
	}
}
