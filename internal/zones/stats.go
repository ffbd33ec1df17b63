package zones

import "gonum.org/v1/gonum/stat"

// Stats summarises engine state for diagnostics.
type Stats struct {
	TotalZones        int     `json:"total_zones"`
	SafeZones         int     `json:"safe_zones"`
	WarningZones      int     `json:"warning_zones"`
	DangerZones       int     `json:"danger_zones"`
	CurrentZoneID     string  `json:"current_zone_id"`
	InSafeZone        bool    `json:"in_safe_zone"`
	TransitionCount   int     `json:"transition_count"`
	MeanDwellSeconds  float64 `json:"mean_dwell_seconds"`
	BoundaryTolerance float64 `json:"boundary_tolerance"`
}

// Stats computes a diagnostic snapshot. Mean dwell is the mean interval
// between consecutive recorded transitions.
func (e *Engine) Stats() Stats {
	s := Stats{
		TotalZones:        len(e.zones),
		CurrentZoneID:     e.currentZoneID,
		InSafeZone:        e.InSafeZone(),
		TransitionCount:   len(e.transitions),
		BoundaryTolerance: e.cfg.BoundaryTolerance,
	}
	for i := range e.zones {
		switch e.zones[i].Type {
		case Safe:
			s.SafeZones++
		case Warning:
			s.WarningZones++
		case Danger:
			s.DangerZones++
		}
	}

	if len(e.transitions) > 1 {
		intervals := make([]float64, 0, len(e.transitions)-1)
		for i := 1; i < len(e.transitions); i++ {
			intervals = append(intervals, e.transitions[i].Timestamp.Sub(e.transitions[i-1].Timestamp).Seconds())
		}
		s.MeanDwellSeconds = stat.Mean(intervals, nil)
	}
	return s
}
