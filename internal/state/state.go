// Package state maps normalized telemetry onto a discrete machine state.
// Everything here is pure: the same inputs always give the same state.
package state

import (
	"math"

	"machine_monitor/internal/models"
)

// Epsilon is the largest change on a monitored field still treated as noise.
const Epsilon = 1e-4

// MTConnect execution codes.
const (
	execActive   = "ACTIVE"
	execFeedHold = "FEED_HOLD"
	execStopped  = "STOPPED"
	execAlarm    = "ALARM"
)

// FOCAS run-status codes as reported by the adapter service.
const (
	focasRunning = "STRT"
	focasReset   = "****"
	focasAlarm   = "ALARM"
	focasOffline = "OFFLINE"
)

// Determine picks the state for a fresh reading. previous is the cached
// snapshot of the last poll and may be nil.
func Determine(ct models.ConnectionType, current *models.Telemetry, previous *models.Snapshot) models.MachineState {
	switch ct {
	case models.ConnectionFocas:
		return Focas(current)
	default:
		return MTConnect(current, previous)
	}
}

// MTConnect applies the execution rules first and falls back to movement
// detection, which is how SETUP (hands on the machine, no program running)
// is told apart from IDLE.
func MTConnect(current *models.Telemetry, previous *models.Snapshot) models.MachineState {
	if current == nil || current.Availability == models.AvailabilityUnavailable || current.Execution == "" {
		return models.StateOffline
	}

	switch current.Execution {
	case execAlarm:
		return models.StateAlarm
	case execActive, execFeedHold:
		return models.StateActive
	case execStopped:
		return models.StateIdle
	}

	var (
		prevState     models.MachineState
		prevTelemetry *models.Telemetry
	)
	if previous != nil {
		prevState = previous.State
		prevTelemetry = previous.Telemetry
	}

	moved := HasMoved(current, prevTelemetry)
	switch {
	case prevState == models.StateSetup && !moved:
		return models.StateIdle
	case prevState != models.StateActive && moved:
		return models.StateSetup
	default:
		return models.StateIdle
	}
}

// Focas maps the adapter's execution code directly.
func Focas(current *models.Telemetry) models.MachineState {
	if current == nil {
		return models.StateOffline
	}
	switch current.Execution {
	case "", focasOffline:
		return models.StateOffline
	case focasRunning:
		return models.StateActive
	case focasReset:
		return models.StateIdle
	case focasAlarm:
		return models.StateAlarm
	default:
		return models.StateIdle
	}
}

// HasMoved reports whether any monitored field changed by more than Epsilon,
// or the tool changed. Without a previous reading nothing has moved.
func HasMoved(current, previous *models.Telemetry) bool {
	if current == nil || previous == nil {
		return false
	}
	cur, prev := current.Metrics, previous.Metrics
	return differs(cur.SpindleSpeed, prev.SpindleSpeed) ||
		differs(cur.FeedRate, prev.FeedRate) ||
		differs(cur.AxisPositions.X, prev.AxisPositions.X) ||
		differs(cur.AxisPositions.Y, prev.AxisPositions.Y) ||
		differs(cur.AxisPositions.Z, prev.AxisPositions.Z) ||
		current.Tool != previous.Tool
}

func differs(a, b float64) bool {
	return math.Abs(a-b) > Epsilon
}
