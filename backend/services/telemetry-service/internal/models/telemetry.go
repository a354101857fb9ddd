package models

import (
	"encoding/json"
	"math"
	"time"
)

// Phase identifies one leg of the three-phase supply.
type Phase int

const (
	PhaseR Phase = iota
	PhaseY
	PhaseB
)

// Phases lists all phases in column order.
var Phases = [...]Phase{PhaseR, PhaseY, PhaseB}

func (p Phase) String() string {
	switch p {
	case PhaseR:
		return "R"
	case PhaseY:
		return "Y"
	case PhaseB:
		return "B"
	default:
		return "?"
	}
}

// Reading is a single voltage or current value. NaN marks a cell that could not be parsed
// back from the log and is encoded as JSON null.
type Reading float64

// InvalidReading returns the NaN marker.
func InvalidReading() Reading {
	return Reading(math.NaN())
}

// Valid reports whether the reading holds a number.
func (r Reading) Valid() bool {
	return !math.IsNaN(float64(r)) && !math.IsInf(float64(r), 0)
}

// MarshalJSON implements json.Marshaler.
func (r Reading) MarshalJSON() ([]byte, error) {
	if !r.Valid() {
		return []byte("null"), nil
	}
	return json.Marshal(float64(r))
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Reading) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = InvalidReading()
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = Reading(v)
	return nil
}

// TelemetryRecord is one sampled instant reported by the sensing device.
type TelemetryRecord struct {
	CapturedAt time.Time `json:"timestamp"`
	RV         Reading   `json:"R_V"`
	YV         Reading   `json:"Y_V"`
	BV         Reading   `json:"B_V"`
	RI         Reading   `json:"R_I"`
	YI         Reading   `json:"Y_I"`
	BI         Reading   `json:"B_I"`
	Fault      bool      `json:"fault"`
	FaultType  string    `json:"fault_type,omitempty"`
}

// Voltage returns the voltage reading of phase p.
func (r TelemetryRecord) Voltage(p Phase) Reading {
	switch p {
	case PhaseR:
		return r.RV
	case PhaseY:
		return r.YV
	case PhaseB:
		return r.BV
	}
	return InvalidReading()
}

// Current returns the current reading of phase p.
func (r TelemetryRecord) Current(p Phase) Reading {
	switch p {
	case PhaseR:
		return r.RI
	case PhaseY:
		return r.YI
	case PhaseB:
		return r.BI
	}
	return InvalidReading()
}
