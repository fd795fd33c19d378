package models

import "time"

// MachineState is the discrete operating state derived from telemetry.
type MachineState string

const (
	StateOffline MachineState = "OFFLINE"
	StateActive  MachineState = "ACTIVE"
	StateSetup   MachineState = "SETUP"
	StateIdle    MachineState = "IDLE"
	StateAlarm   MachineState = "ALARM"
	// StateUnknown only appears in reports, for time no interval covers.
	StateUnknown MachineState = "UNKNOWN"
)

// AllStates lists states in report order.
var AllStates = []MachineState{
	StateActive,
	StateSetup,
	StateIdle,
	StateAlarm,
	StateOffline,
	StateUnknown,
}

// Valid reports whether s is one of the known states.
func (s MachineState) Valid() bool {
	for _, known := range AllStates {
		if s == known {
			return true
		}
	}
	return false
}

// StateInterval is a span during which a machine held one state.
// EndTime is nil while the interval is open.
type StateInterval struct {
	ID           string       `json:"id"`
	MachineID    string       `json:"machine_id"`
	State        MachineState `json:"state"`
	Execution    string       `json:"execution"`
	Controller   string       `json:"controller"`
	Program      string       `json:"program"`
	Tool         string       `json:"tool"`
	Metrics      Metrics      `json:"metrics"`
	AlarmCode    string       `json:"alarm_code,omitempty"`
	AlarmMessage string       `json:"alarm_message,omitempty"`
	StartTime    time.Time    `json:"start_time"`
	EndTime      *time.Time   `json:"end_time,omitempty"`
	DurationMs   int64        `json:"duration_ms"`
}

// Open reports whether the interval has not been closed yet.
func (i StateInterval) Open() bool { return i.EndTime == nil }

// EffectiveEnd returns EndTime, or now for an open interval.
func (i StateInterval) EffectiveEnd(now time.Time) time.Time {
	if i.EndTime != nil {
		return *i.EndTime
	}
	return now
}

// Snapshot is the cached last observation of a machine.
type Snapshot struct {
	MachineID string       `json:"machine_id"`
	State     MachineState `json:"state"`
	Telemetry *Telemetry   `json:"telemetry"`
	Timestamp time.Time    `json:"timestamp"`
}
