package service

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"machine_monitor/internal/models"
	"machine_monitor/internal/repository"
	"machine_monitor/internal/repository/db"
)

// t0 is a Monday morning in UTC.
var t0 = time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.InitDB(filepath.Join(t.TempDir(), "monitor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func newTestRepos(t *testing.T, machines ...models.Machine) *repository.Repository {
	t.Helper()
	repos := repository.NewRepository(openTestDB(t))
	for _, m := range machines {
		require.NoError(t, repos.Machines.Upsert(context.Background(), m))
	}
	return repos
}

func mill(id string) models.Machine {
	return models.Machine{
		ID: id, Slug: id, Name: "Mill " + id, Type: "mill",
		ConnectionType: models.ConnectionMTConnect, ConnectionHost: "127.0.0.1", ConnectionPort: 5000,
		Enabled: true,
	}
}

// stepClock is a settable clock safe for concurrent reads.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock(at time.Time) *stepClock { return &stepClock{now: at} }

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// stubMachines serves a fixed registry.
type stubMachines struct {
	machines []models.Machine
	err      error
}

func (s *stubMachines) ListMachines(context.Context) ([]models.Machine, error) {
	return s.machines, s.err
}

func (s *stubMachines) RefreshMachines(ctx context.Context) ([]models.Machine, error) {
	return s.ListMachines(ctx)
}

func (s *stubMachines) GetMachine(_ context.Context, id string) (models.Machine, error) {
	for _, m := range s.machines {
		if m.ID == id {
			return m, nil
		}
	}
	return models.Machine{}, repository.ErrMachineNotFound
}

// memIntervals answers ListOverlapping from a fixed slice.
type memIntervals struct {
	repository.IntervalRepo
	rows []models.StateInterval
}

func (m *memIntervals) ListOverlapping(_ context.Context, f repository.IntervalFilter) ([]models.StateInterval, error) {
	out := make([]models.StateInterval, 0, len(m.rows))
	for _, iv := range m.rows {
		if !f.To.IsZero() && !iv.StartTime.Before(f.To) {
			continue
		}
		if !f.From.IsZero() && iv.EndTime != nil && !iv.EndTime.After(f.From) {
			continue
		}
		if f.MachineID != "" && iv.MachineID != f.MachineID {
			continue
		}
		out = append(out, iv)
	}
	return out, nil
}

func closedIv(machineID string, st models.MachineState, start, end time.Time) models.StateInterval {
	return models.StateInterval{
		MachineID:  machineID,
		State:      st,
		StartTime:  start,
		EndTime:    &end,
		DurationMs: end.Sub(start).Milliseconds(),
	}
}

func openIv(machineID string, st models.MachineState, start time.Time) models.StateInterval {
	return models.StateInterval{MachineID: machineID, State: st, StartTime: start}
}
