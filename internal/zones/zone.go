// Package zones evaluates estimated positions against operator-defined
// safety regions and raises entry/exit and boundary-proximity events.
//
// A zone is a geometric region (circle, axis-aligned rectangle or polygon)
// with a type, a priority for overlap resolution, an activation schedule
// and per-zone alert cooldown state. The Engine consumes positions from
// the locate package and drives a Listener.
package zones

import (
	"math"
	"time"
)

// Type classifies the safety semantics of a zone.
type Type int

const (
	Safe Type = iota
	Warning
	Danger
	Neutral
	Custom
)

// String returns a stable label for the zone type.
func (t Type) String() string {
	switch t {
	case Safe:
		return "safe"
	case Warning:
		return "warning"
	case Danger:
		return "danger"
	case Neutral:
		return "neutral"
	case Custom:
		return "custom"
	default:
		return "unknown"
	}
}

// Shape identifies the geometric form of a zone.
type Shape int

const (
	Circle Shape = iota
	Rectangle
	Polygon
)

// String returns a stable label for the zone shape.
func (s Shape) String() string {
	switch s {
	case Circle:
		return "circle"
	case Rectangle:
		return "rectangle"
	case Polygon:
		return "polygon"
	default:
		return "unknown"
	}
}

// Point is a 2D point in the engine-local frame (metres).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DistanceTo returns the Euclidean distance to another point.
func (p Point) DistanceTo(other Point) float64 {
	return math.Hypot(p.X-other.X, p.Y-other.Y)
}

// Zone is a long-lived configured safety region. Geometry fields are
// shape-specific: Radius for circles, Width/Height for rectangles,
// Vertices for polygons. Center is the registration centroid for polygons.
type Zone struct {
	ID          string
	Name        string
	Description string
	Type        Type
	Shape       Shape

	Active       bool
	AlertEnabled bool
	Priority     uint8
	Schedule     Schedule

	Center   Point
	Radius   float64
	Width    float64
	Height   float64
	Vertices []Point

	AlertCooldown time.Duration
	Created       time.Time
	Modified      time.Time

	// lastAlert is engine-managed per-zone cooldown state.
	lastAlert time.Time
}

// Contains reports whether the point lies inside the zone geometry.
// Boundary points are inside: circle containment is dist <= radius and
// rectangle bounds are inclusive.
func (z *Zone) Contains(p Point) bool {
	switch z.Shape {
	case Circle:
		return z.Center.DistanceTo(p) <= z.Radius
	case Rectangle:
		halfW := z.Width / 2
		halfH := z.Height / 2
		return p.X >= z.Center.X-halfW && p.X <= z.Center.X+halfW &&
			p.Y >= z.Center.Y-halfH && p.Y <= z.Center.Y+halfH
	case Polygon:
		return pointInPolygon(p, z.Vertices)
	default:
		return false
	}
}

// BoundaryDistance returns the distance from the point to the zone
// boundary: |distToCenter - r| for circles, distance to the clamped
// nearest boundary point for rectangles, and the minimum point-to-segment
// distance over all edges for polygons.
func (z *Zone) BoundaryDistance(p Point) float64 {
	switch z.Shape {
	case Circle:
		return math.Abs(z.Center.DistanceTo(p) - z.Radius)
	case Rectangle:
		halfW := z.Width / 2
		halfH := z.Height / 2
		dx := math.Max(0, math.Max(z.Center.X-halfW-p.X, p.X-(z.Center.X+halfW)))
		dy := math.Max(0, math.Max(z.Center.Y-halfH-p.Y, p.Y-(z.Center.Y+halfH)))
		return math.Sqrt(dx*dx + dy*dy)
	case Polygon:
		return distanceToPolygon(p, z.Vertices)
	default:
		return math.Inf(1)
	}
}

// pointInPolygon implements the ray-casting parity test: a ray from the
// point crosses the polygon boundary an odd number of times iff the point
// is inside. Polygons with fewer than three vertices contain nothing.
func pointInPolygon(p Point, polygon []Point) bool {
	if len(polygon) < 3 {
		return false
	}

	inside := false
	j := len(polygon) - 1
	for i := 0; i < len(polygon); i++ {
		if (polygon[i].Y > p.Y) != (polygon[j].Y > p.Y) &&
			p.X < (polygon[j].X-polygon[i].X)*(p.Y-polygon[i].Y)/(polygon[j].Y-polygon[i].Y)+polygon[i].X {
			inside = !inside
		}
		j = i
	}
	return inside
}

// distanceToPolygon returns the minimum distance from the point to any
// polygon edge.
func distanceToPolygon(p Point, polygon []Point) float64 {
	if len(polygon) < 2 {
		return math.Inf(1)
	}

	minDist := math.Inf(1)
	for i := 0; i < len(polygon); i++ {
		j := (i + 1) % len(polygon)
		if d := distanceToSegment(p, polygon[i], polygon[j]); d < minDist {
			minDist = d
		}
	}
	return minDist
}

// distanceToSegment returns the distance from p to the segment a-b.
func distanceToSegment(p, a, b Point) float64 {
	dx := b.X - a.X
	dy := b.Y - a.Y

	if dx == 0 && dy == 0 {
		return p.DistanceTo(a)
	}

	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / (dx*dx + dy*dy)
	t = math.Max(0, math.Min(1, t))

	return p.DistanceTo(Point{X: a.X + t*dx, Y: a.Y + t*dy})
}

// centroid returns the geometric center of the vertices.
func centroid(vertices []Point) Point {
	var c Point
	if len(vertices) == 0 {
		return c
	}
	for _, v := range vertices {
		c.X += v.X
		c.Y += v.Y
	}
	c.X /= float64(len(vertices))
	c.Y /= float64(len(vertices))
	return c
}
