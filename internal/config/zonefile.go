package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/collarkit/collarkit/internal/zones"
)

// ZoneDocument is the on-disk zone configuration.
type ZoneDocument struct {
	Zones []ZoneEntry `json:"zones" validate:"dive"`
}

// ZoneEntry is one configured zone. Geometry fields are shape-specific,
// matching the engine's zone model.
type ZoneEntry struct {
	ID          string `json:"id" validate:"required"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type" validate:"required,oneof=safe warning danger neutral custom"`
	Shape       string `json:"shape" validate:"required,oneof=circle rectangle polygon"`

	Active       bool  `json:"active"`
	AlertEnabled bool  `json:"alert_enabled"`
	Priority     uint8 `json:"priority"`

	Center   zones.Point   `json:"center"`
	Radius   float64       `json:"radius,omitempty"`
	Width    float64       `json:"width,omitempty"`
	Height   float64       `json:"height,omitempty"`
	Vertices []zones.Point `json:"vertices,omitempty"`

	AlertCooldown string         `json:"alert_cooldown,omitempty"` // duration string like "5s"
	Schedule      *ScheduleEntry `json:"schedule,omitempty"`
}

// ScheduleEntry is the schedule block of a zone entry. ActiveDays is the
// day bitmask with Monday as bit 0.
type ScheduleEntry struct {
	Enabled     bool  `json:"enabled"`
	StartHour   int   `json:"start_hour" validate:"gte=0,lte=23"`
	StartMinute int   `json:"start_minute" validate:"gte=0,lte=59"`
	EndHour     int   `json:"end_hour" validate:"gte=0,lte=23"`
	EndMinute   int   `json:"end_minute" validate:"gte=0,lte=59"`
	ActiveDays  uint8 `json:"active_days" validate:"lte=127"`
}

// Validate checks one entry against the document schema, including the
// alert_cooldown duration string.
func (e *ZoneEntry) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("invalid zone entry: %w", err)
	}
	if e.AlertCooldown != "" {
		if _, err := time.ParseDuration(e.AlertCooldown); err != nil {
			return fmt.Errorf("invalid alert_cooldown %q: %w", e.AlertCooldown, err)
		}
	}
	return nil
}

// ParseZones decodes and validates a zone document. A malformed or
// invalid document returns an error and no partial result, so callers
// keep their prior state.
func ParseZones(data []byte) (*ZoneDocument, error) {
	var doc ZoneDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse zone JSON: %w", err)
	}
	for i := range doc.Zones {
		if err := doc.Zones[i].Validate(); err != nil {
			return nil, fmt.Errorf("zone %q: %w", doc.Zones[i].ID, err)
		}
	}
	return &doc, nil
}

// LoadZones reads and parses a zone document from a file.
func LoadZones(path string) (*ZoneDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read zone file: %w", err)
	}
	return ParseZones(data)
}

// ToZones converts the document into engine zones. Geometry is not
// validated here; Engine.ReplaceZones checks it atomically on apply.
func (d *ZoneDocument) ToZones() []zones.Zone {
	out := make([]zones.Zone, 0, len(d.Zones))
	for _, e := range d.Zones {
		out = append(out, e.toZone())
	}
	return out
}

// Zone converts a single entry into an engine zone.
func (e ZoneEntry) Zone() zones.Zone {
	return e.toZone()
}

func (e ZoneEntry) toZone() zones.Zone {
	z := zones.Zone{
		ID:           e.ID,
		Name:         e.Name,
		Description:  e.Description,
		Type:         typeFromString(e.Type),
		Shape:        shapeFromString(e.Shape),
		Active:       e.Active,
		AlertEnabled: e.AlertEnabled,
		Priority:     e.Priority,
		Center:       e.Center,
		Radius:       e.Radius,
		Width:        e.Width,
		Height:       e.Height,
		Schedule:     zones.DefaultSchedule(),
	}
	if len(e.Vertices) > 0 {
		z.Vertices = append([]zones.Point(nil), e.Vertices...)
	}
	z.AlertCooldown = 5 * time.Second
	if e.AlertCooldown != "" {
		if d, err := time.ParseDuration(e.AlertCooldown); err == nil {
			z.AlertCooldown = d
		}
	}
	if e.Schedule != nil {
		z.Schedule = zones.Schedule{
			Enabled:     e.Schedule.Enabled,
			StartHour:   e.Schedule.StartHour,
			StartMinute: e.Schedule.StartMinute,
			EndHour:     e.Schedule.EndHour,
			EndMinute:   e.Schedule.EndMinute,
			ActiveDays:  e.Schedule.ActiveDays,
		}
	}
	return z
}

// ZoneDocumentFrom builds a document from engine zones so the
// configuration round-trips through Save unchanged.
func ZoneDocumentFrom(zs []zones.Zone) *ZoneDocument {
	doc := &ZoneDocument{Zones: make([]ZoneEntry, 0, len(zs))}
	for _, z := range zs {
		e := ZoneEntry{
			ID:            z.ID,
			Name:          z.Name,
			Description:   z.Description,
			Type:          z.Type.String(),
			Shape:         z.Shape.String(),
			Active:        z.Active,
			AlertEnabled:  z.AlertEnabled,
			Priority:      z.Priority,
			Center:        z.Center,
			Radius:        z.Radius,
			Width:         z.Width,
			Height:        z.Height,
			AlertCooldown: z.AlertCooldown.String(),
			Schedule: &ScheduleEntry{
				Enabled:     z.Schedule.Enabled,
				StartHour:   z.Schedule.StartHour,
				StartMinute: z.Schedule.StartMinute,
				EndHour:     z.Schedule.EndHour,
				EndMinute:   z.Schedule.EndMinute,
				ActiveDays:  z.Schedule.ActiveDays,
			},
		}
		if len(z.Vertices) > 0 {
			e.Vertices = append([]zones.Point(nil), z.Vertices...)
		}
		doc.Zones = append(doc.Zones, e)
	}
	return doc
}

// SaveZones writes the document as indented JSON.
func SaveZones(path string, doc *ZoneDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode zone document: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write zone file: %w", err)
	}
	return nil
}

func typeFromString(s string) zones.Type {
	switch s {
	case "safe":
		return zones.Safe
	case "warning":
		return zones.Warning
	case "danger":
		return zones.Danger
	case "neutral":
		return zones.Neutral
	default:
		return zones.Custom
	}
}

func shapeFromString(s string) zones.Shape {
	switch s {
	case "rectangle":
		return zones.Rectangle
	case "polygon":
		return zones.Polygon
	default:
		return zones.Circle
	}
}
