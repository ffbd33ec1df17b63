package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/collarkit/collarkit/internal/locate"
)

// BeaconDocument is the on-disk beacon registry. Each entry maps a
// beacon's advertised name to a fixed anchor location.
type BeaconDocument struct {
	Beacons []BeaconEntry `json:"beacons" validate:"required,dive"`
}

// BeaconEntry is one registered anchor beacon.
type BeaconEntry struct {
	Name     string  `json:"name" validate:"required"`
	Location string  `json:"location" validate:"required"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z,omitempty"`
	Active   *bool   `json:"active,omitempty"`
}

var validate = validator.New()

// ParseBeacons decodes and validates a beacon document. A malformed or
// invalid document returns an error and no partial result, so callers
// keep their prior state.
func ParseBeacons(data []byte) (*BeaconDocument, error) {
	var doc BeaconDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse beacon JSON: %w", err)
	}
	if err := validate.Struct(&doc); err != nil {
		return nil, fmt.Errorf("invalid beacon document: %w", err)
	}
	return &doc, nil
}

// LoadBeacons reads and parses a beacon document from a file.
func LoadBeacons(path string) (*BeaconDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read beacon file: %w", err)
	}
	return ParseBeacons(data)
}

// Anchors converts the document into estimator anchors. Entries without
// an explicit active flag default to active.
func (d *BeaconDocument) Anchors(now time.Time) []locate.Anchor {
	out := make([]locate.Anchor, 0, len(d.Beacons))
	for _, b := range d.Beacons {
		active := true
		if b.Active != nil {
			active = *b.Active
		}
		out = append(out, locate.Anchor{
			Name:     b.Name,
			Location: b.Location,
			X:        b.X,
			Y:        b.Y,
			Z:        b.Z,
			Active:   active,
			LastSeen: now,
		})
	}
	return out
}

// BeaconDocumentFrom builds a document from estimator anchors so the
// registry round-trips through Save unchanged.
func BeaconDocumentFrom(anchors []locate.Anchor) *BeaconDocument {
	doc := &BeaconDocument{Beacons: make([]BeaconEntry, 0, len(anchors))}
	for _, a := range anchors {
		active := a.Active
		doc.Beacons = append(doc.Beacons, BeaconEntry{
			Name:     a.Name,
			Location: a.Location,
			X:        a.X,
			Y:        a.Y,
			Z:        a.Z,
			Active:   &active,
		})
	}
	return doc
}

// SaveBeacons writes the document as indented JSON.
func SaveBeacons(path string, doc *BeaconDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode beacon document: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write beacon file: %w", err)
	}
	return nil
}
