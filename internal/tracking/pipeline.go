// Package tracking wires the RSSI distance model, the position estimator
// and the zone engine into one collar pipeline.
//
// The component packages are non-reentrant; the Pipeline serialises every
// update and query behind a single mutex so the UDP listener, the HTTP
// API and the housekeeping tick can share one instance.
package tracking

import (
	"sync"
	"time"

	"github.com/collarkit/collarkit/internal/config"
	"github.com/collarkit/collarkit/internal/locate"
	"github.com/collarkit/collarkit/internal/monitoring"
	"github.com/collarkit/collarkit/internal/rssi"
	"github.com/collarkit/collarkit/internal/store"
	"github.com/collarkit/collarkit/internal/timeutil"
	"github.com/collarkit/collarkit/internal/zones"
)

// Reading is one beacon observation from a scan cycle.
type Reading struct {
	Beacon string `json:"beacon"`
	RSSI   int    `json:"rssi"`
}

// Pipeline owns the estimation and geofencing state for one collar.
type Pipeline struct {
	mu sync.Mutex

	model     rssi.Model
	smoother  *rssi.Smoother
	estimator *locate.Estimator
	engine    *zones.Engine
	clock     timeutil.Clock

	// staleCount is the stale-anchor count at the last housekeeping
	// tick, so staleness changes are logged once rather than every tick.
	staleCount int

	// events is the optional persistent event log.
	events *store.Store

	// downstream receives zone events after they are persisted.
	downstream zones.Listener
}

// New builds a pipeline from the tuning configuration. The event store
// and downstream listener may be nil.
func New(tuning *config.TuningConfig, clock timeutil.Clock, events *store.Store, downstream zones.Listener) *Pipeline {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if downstream == nil {
		downstream = zones.NoopListener{}
	}
	p := &Pipeline{
		model:      tuning.RSSIModel(),
		smoother:   rssi.NewSmoother(clock),
		estimator:  locate.NewEstimator(tuning.EstimatorConfig(), clock),
		clock:      clock,
		events:     events,
		downstream: downstream,
	}
	p.engine = zones.NewEngine(tuning.EngineConfig(), clock, p)
	return p
}

// Observe runs one full update cycle: derive distances from the readings,
// estimate a position, and evaluate zones. Zone events fire synchronously
// before Observe returns. Estimation rejections come back as the locate
// sentinel errors with the previous position left current.
func (p *Pipeline) Observe(readings []Reading) (locate.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// A batch may carry several advertising packets per beacon. All of
	// them feed the smoother; each beacon contributes one sample built
	// from its final median.
	order := make([]string, 0, len(readings))
	smoothed := make(map[string]int, len(readings))
	for _, r := range readings {
		if r.RSSI == 0 {
			continue
		}
		if _, seen := smoothed[r.Beacon]; !seen {
			order = append(order, r.Beacon)
		}
		smoothed[r.Beacon] = p.smoother.Add(r.Beacon, r.RSSI)
	}

	samples := make([]locate.Sample, 0, len(order))
	for _, beacon := range order {
		value := smoothed[beacon]
		samples = append(samples, locate.Sample{
			Beacon:   beacon,
			RSSI:     value,
			Distance: p.model.Distance(value),
		})
	}

	pos, err := p.estimator.Update(samples)
	if err != nil {
		return pos, err
	}

	p.engine.Update(pos)
	return pos, nil
}

// Evaluate re-runs zone evaluation against the current position without
// new readings. Schedule windows open and close with wall time, so the
// housekeeping tick calls this between scan cycles.
func (p *Pipeline) Evaluate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pos, ok := p.estimator.Current(); ok {
		p.engine.Update(pos)
	}

	stale := p.estimator.StaleAnchors()
	if len(stale) != p.staleCount {
		for _, a := range stale {
			monitoring.Logf("tracking: beacon %s silent since %s", a.Name, a.LastSeen.Format(time.RFC3339))
		}
		p.staleCount = len(stale)
	}
}

// Zone events from the engine: persist, then forward downstream.

func (p *Pipeline) ZoneEntered(z zones.Zone, pos locate.Position) {
	p.downstream.ZoneEntered(z, pos)
}

func (p *Pipeline) ZoneExited(z zones.Zone, pos locate.Position) {
	p.downstream.ZoneExited(z, pos)
}

func (p *Pipeline) Transition(tr zones.Transition) {
	if p.events != nil {
		if err := p.events.RecordTransition(tr); err != nil {
			monitoring.Logf("tracking: %v", err)
		}
	}
	p.downstream.Transition(tr)
}

func (p *Pipeline) BoundaryAlert(z zones.Zone, pos locate.Position, distance float64) {
	if p.events != nil {
		err := p.events.RecordBoundaryAlert(store.BoundaryAlert{
			ZoneID:    z.ID,
			X:         pos.X,
			Y:         pos.Y,
			Distance:  distance,
			Timestamp: p.clock.Now(),
		})
		if err != nil {
			monitoring.Logf("tracking: %v", err)
		}
	}
	p.downstream.BoundaryAlert(z, pos, distance)
}

func (p *Pipeline) HighActivity(transitions int) {
	p.downstream.HighActivity(transitions)
}

// Position returns the current estimated position, if any.
func (p *Pipeline) Position() (locate.Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.estimator.Current()
}

// Anchors returns the registered beacon anchors.
func (p *Pipeline) Anchors() []locate.Anchor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.estimator.Anchors()
}

// AddAnchor registers or updates a beacon anchor.
func (p *Pipeline) AddAnchor(name, location string, x, y, z float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.estimator.AddAnchor(name, location, x, y, z)
}

// RemoveAnchor deletes a beacon anchor by name or location.
func (p *Pipeline) RemoveAnchor(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.estimator.RemoveAnchor(name)
}

// ApplyBeacons atomically replaces the anchor registry with the document
// contents. On error the previous registry is kept untouched. Anchors
// absent from the document are removed; entries flagged inactive keep
// their calibration but stop contributing.
func (p *Pipeline) ApplyBeacons(doc *config.BeaconDocument) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.estimator.ReplaceAnchors(doc.Anchors(p.clock.Now()))
}

// SetDistanceBounds updates the distance model's clamp range at runtime.
func (p *Pipeline) SetDistanceBounds(min, max float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.model.SetDistanceBounds(min, max)
}

// Zones returns the registered zones.
func (p *Pipeline) Zones() []zones.Zone {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Zones()
}

// Zone returns one zone by id.
func (p *Pipeline) Zone(id string) (zones.Zone, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Zone(id)
}

// AddCircularZone registers a circular zone.
func (p *Pipeline) AddCircularZone(id, name string, typ zones.Type, center zones.Point, radius float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.AddCircularZone(id, name, typ, center, radius)
}

// AddRectangularZone registers a rectangular zone.
func (p *Pipeline) AddRectangularZone(id, name string, typ zones.Type, center zones.Point, width, height float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.AddRectangularZone(id, name, typ, center, width, height)
}

// AddZone registers a fully-specified zone.
func (p *Pipeline) AddZone(z zones.Zone) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.AddZone(z)
}

// AddPolygonZone registers a polygon zone.
func (p *Pipeline) AddPolygonZone(id, name string, typ zones.Type, vertices []zones.Point) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.AddPolygonZone(id, name, typ, vertices)
}

// UpdateZone applies fn to a zone under the pipeline lock.
func (p *Pipeline) UpdateZone(id string, fn func(*zones.Zone)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.UpdateZone(id, fn)
}

// RemoveZone deletes a zone by id.
func (p *Pipeline) RemoveZone(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.RemoveZone(id)
}

// ApplyZones atomically replaces the zone set with the document contents.
func (p *Pipeline) ApplyZones(doc *config.ZoneDocument) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.ReplaceZones(doc.ToZones())
}

// CurrentZoneID returns the tracked zone id, empty when outside all zones.
func (p *Pipeline) CurrentZoneID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.CurrentZoneID()
}

// InSafeZone reports whether the tracked zone is a Safe zone.
func (p *Pipeline) InSafeZone() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.InSafeZone()
}

// Transitions returns the in-memory transition history, oldest first.
func (p *Pipeline) Transitions() []zones.Transition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Transitions()
}

// Status is a combined snapshot for the API and the status log.
type Status struct {
	Position      *locate.Position `json:"position,omitempty"`
	CurrentZoneID string           `json:"current_zone_id"`
	InSafeZone    bool             `json:"in_safe_zone"`
	Estimator     locate.Stats     `json:"estimator"`
	Zones         zones.Stats      `json:"zones"`
}

// Status returns a snapshot of the whole pipeline.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Status{
		CurrentZoneID: p.engine.CurrentZoneID(),
		InSafeZone:    p.engine.InSafeZone(),
		Estimator:     p.estimator.Stats(),
		Zones:         p.engine.Stats(),
	}
	if pos, ok := p.estimator.Current(); ok {
		s.Position = &pos
	}
	return s
}

// Prune removes persisted events older than the retention period.
func (p *Pipeline) Prune(retention time.Duration) {
	if p.events == nil {
		return
	}
	cutoff := p.clock.Now().Add(-retention)
	if n, err := p.events.PruneBefore(cutoff); err != nil {
		monitoring.Logf("tracking: %v", err)
	} else if n > 0 {
		monitoring.Logf("tracking: pruned %d events older than %s", n, retention)
	}
}
