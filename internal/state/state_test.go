package state

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"machine_monitor/internal/models"
)

func reading(exec string, spindle, x float64, tool string) *models.Telemetry {
	return &models.Telemetry{
		Execution: exec,
		Tool:      tool,
		Metrics: models.Metrics{
			SpindleSpeed:  spindle,
			AxisPositions: models.AxisPositions{X: x},
		},
	}
}

func snapshot(st models.MachineState, t *models.Telemetry) *models.Snapshot {
	return &models.Snapshot{MachineID: "m1", State: st, Telemetry: t}
}

func TestHasMoved(t *testing.T) {
	t.Parallel()

	base := reading("READY", 1000, 10, "T1")

	tests := []struct {
		name     string
		current  *models.Telemetry
		previous *models.Telemetry
		want     bool
	}{
		{"no previous", base, nil, false},
		{"no current", nil, base, false},
		{"identical", reading("READY", 1000, 10, "T1"), base, false},
		{"noise below epsilon", reading("READY", 1000+Epsilon/2, 10-Epsilon/3, "T1"), base, false},
		{"change of exactly epsilon", reading("READY", Epsilon, 10, "T1"), reading("READY", 0, 10, "T1"), false},
		{"spindle moved", reading("READY", 1001, 10, "T1"), base, true},
		{"axis moved by epsilon", reading("READY", 1000, 10+2*Epsilon, "T1"), base, true},
		{"tool changed", reading("READY", 1000, 10, "T2"), base, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasMoved(tt.current, tt.previous))
		})
	}
}

func TestHasMoved_EveryField(t *testing.T) {
	t.Parallel()

	prev := &models.Telemetry{}
	mutations := map[string]func(*models.Telemetry){
		"spindle": func(r *models.Telemetry) { r.Metrics.SpindleSpeed = 1 },
		"feed":    func(r *models.Telemetry) { r.Metrics.FeedRate = 1 },
		"x":       func(r *models.Telemetry) { r.Metrics.AxisPositions.X = -1 },
		"y":       func(r *models.Telemetry) { r.Metrics.AxisPositions.Y = 1 },
		"z":       func(r *models.Telemetry) { r.Metrics.AxisPositions.Z = 1 },
	}
	for name, mutate := range mutations {
		cur := &models.Telemetry{}
		mutate(cur)
		assert.True(t, HasMoved(cur, prev), name)
	}
}

func TestMTConnect(t *testing.T) {
	t.Parallel()

	still := reading("READY", 0, 5, "T1")
	moved := reading("READY", 0, 6, "T1")

	tests := []struct {
		name     string
		current  *models.Telemetry
		previous *models.Snapshot
		want     models.MachineState
	}{
		{"nil telemetry", nil, nil, models.StateOffline},
		{"empty execution", reading("", 0, 0, ""), nil, models.StateOffline},
		{"unavailable", &models.Telemetry{Execution: "ACTIVE", Availability: "UNAVAILABLE"}, nil, models.StateOffline},
		{"alarm", reading("ALARM", 0, 0, ""), nil, models.StateAlarm},
		{"active", reading("ACTIVE", 0, 0, ""), nil, models.StateActive},
		{"feed hold counts as active", reading("FEED_HOLD", 0, 0, ""), nil, models.StateActive},
		{"stopped", reading("STOPPED", 0, 0, ""), snapshot(models.StateSetup, still), models.StateIdle},
		{"ready without history", still, nil, models.StateIdle},
		{"idle then moved", moved, snapshot(models.StateIdle, still), models.StateSetup},
		{"setup still moving", moved, snapshot(models.StateSetup, still), models.StateSetup},
		{"setup stopped moving", still, snapshot(models.StateSetup, still), models.StateIdle},
		{"moving right after active", moved, snapshot(models.StateActive, still), models.StateIdle},
		{"offline then moved", moved, snapshot(models.StateOffline, still), models.StateSetup},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MTConnect(tt.current, tt.previous))
		})
	}
}

func TestFocas(t *testing.T) {
	t.Parallel()

	tests := []struct {
		exec string
		want models.MachineState
	}{
		{"", models.StateOffline},
		{"OFFLINE", models.StateOffline},
		{"STRT", models.StateActive},
		{"****", models.StateIdle},
		{"ALARM", models.StateAlarm},
		{"HOLD", models.StateIdle},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Focas(&models.Telemetry{Execution: tt.exec}), tt.exec)
	}
	assert.Equal(t, models.StateOffline, Focas(nil))
}

func TestDetermine_IsPure(t *testing.T) {
	t.Parallel()

	cur := reading("READY", 12, 3, "T4")
	prev := snapshot(models.StateIdle, reading("READY", 0, 3, "T4"))

	first := Determine(models.ConnectionMTConnect, cur, prev)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Determine(models.ConnectionMTConnect, cur, prev))
	}
	assert.Equal(t, models.StateSetup, first)
	assert.Equal(t, models.StateIdle, prev.State, "previous snapshot must not be mutated")
}

func TestDetermine_DispatchesByProtocol(t *testing.T) {
	t.Parallel()

	cur := &models.Telemetry{Execution: "STRT"}
	assert.Equal(t, models.StateActive, Determine(models.ConnectionFocas, cur, nil))
	// STRT is not an MTConnect execution code and nothing moved.
	assert.Equal(t, models.StateIdle, Determine(models.ConnectionMTConnect, cur, nil))
}
