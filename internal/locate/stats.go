package locate

import "gonum.org/v1/gonum/stat"

// Stats summarises the recent estimation quality for diagnostics.
type Stats struct {
	HistorySize    int     `json:"history_size"`
	AnchorCount    int     `json:"anchor_count"`
	StaleAnchors   int     `json:"stale_anchors"`
	PositionValid  bool    `json:"position_valid"`
	MeanConfidence float64 `json:"mean_confidence"`
	StdConfidence  float64 `json:"std_confidence"`
	MeanStepMeters float64 `json:"mean_step_meters"`
	MaxStepMeters  float64 `json:"max_step_meters"`
}

// Stats computes summary statistics over the accepted position history.
func (e *Estimator) Stats() Stats {
	s := Stats{
		HistorySize:   len(e.history),
		AnchorCount:   len(e.anchors),
		StaleAnchors:  len(e.StaleAnchors()),
		PositionValid: e.valid && e.current.Valid(),
	}
	if len(e.history) == 0 {
		return s
	}

	confidences := make([]float64, len(e.history))
	for i, p := range e.history {
		confidences[i] = p.Confidence
	}
	s.MeanConfidence = stat.Mean(confidences, nil)
	if len(confidences) > 1 {
		s.StdConfidence = stat.StdDev(confidences, nil)
	}

	if len(e.history) > 1 {
		steps := make([]float64, 0, len(e.history)-1)
		for i := 1; i < len(e.history); i++ {
			d := e.history[i].DistanceTo(e.history[i-1])
			steps = append(steps, d)
			if d > s.MaxStepMeters {
				s.MaxStepMeters = d
			}
		}
		s.MeanStepMeters = stat.Mean(steps, nil)
	}
	return s
}
