package models

// MetricStats holds rounded aggregates of one column. Nil fields mean the column had no
// numeric values inside the window.
type MetricStats struct {
	Avg *float64 `json:"avg"`
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

// PhaseStats groups voltage and current aggregates for one phase.
type PhaseStats struct {
	Voltage MetricStats `json:"voltage"`
	Current MetricStats `json:"current"`
}

// Statistics is the rolling-window summary served to engineers.
type Statistics struct {
	RPhase     PhaseStats `json:"R_Phase"`
	YPhase     PhaseStats `json:"Y_Phase"`
	BPhase     PhaseStats `json:"B_Phase"`
	DataPoints int        `json:"dataPoints"`
	Period     string     `json:"period"`
}

// Phase returns a pointer to the aggregates of phase p.
func (s *Statistics) Phase(p Phase) *PhaseStats {
	switch p {
	case PhaseY:
		return &s.YPhase
	case PhaseB:
		return &s.BPhase
	default:
		return &s.RPhase
	}
}
