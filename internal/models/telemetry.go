package models

import "time"

// AxisPositions are linear axis readings in machine units.
type AxisPositions struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Metrics struct {
	SpindleSpeed  float64       `json:"spindle_speed"`
	FeedRate      float64       `json:"feed_rate"`
	AxisPositions AxisPositions `json:"axis_positions"`
}

// Telemetry is one normalized reading of a controller.
type Telemetry struct {
	Execution    string    `json:"execution"`
	Controller   string    `json:"controller"` // controller mode, e.g. AUTOMATIC | MDI | MANUAL
	Program      string    `json:"program"`
	Tool         string    `json:"tool"`
	Metrics      Metrics   `json:"metrics"`
	Alarm        string    `json:"alarm,omitempty"`
	Availability string    `json:"availability,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

const offlineMarker = "OFFLINE"

// AvailabilityUnavailable is reported by an MTConnect agent that lost its controller.
const AvailabilityUnavailable = "UNAVAILABLE"

// OfflineTelemetry is the fixed reading recorded when a machine cannot be reached.
func OfflineTelemetry(at time.Time) *Telemetry {
	return &Telemetry{
		Execution:  offlineMarker,
		Controller: offlineMarker,
		Timestamp:  at,
	}
}
