package repository

import (
	"context"
	"database/sql"
	"time"

	"machine_monitor/internal/models"
)

type Authorization interface {
	Create(ctx context.Context, username, hash string) (int, error)
	GetByUsername(ctx context.Context, username string) (*models.Operator, error)
}

// MachineRegistry is the read side the engine polls from, plus the upsert
// used by seeding.
type MachineRegistry interface {
	List(ctx context.Context) ([]models.Machine, error)
	Get(ctx context.Context, id string) (models.Machine, error)
	Upsert(ctx context.Context, m models.Machine) error
}

type IntervalRepo interface {
	OpenIntervals(ctx context.Context, machineID string) ([]models.StateInterval, error)
	RecordTransition(ctx context.Context, machineID string, t *models.Telemetry, st models.MachineState, now time.Time) (models.StateInterval, error)
	CloseAll(ctx context.Context, now time.Time) ([]string, error)
	CloseMachine(ctx context.Context, machineID string, now time.Time) (int, error)
	ListOverlapping(ctx context.Context, f IntervalFilter) ([]models.StateInterval, error)
}

type Repository struct {
	Machines  MachineRegistry
	Intervals IntervalRepo
	Auth      Authorization
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		Machines:  NewMachineSQLite(db),
		Intervals: NewIntervalSQLite(db),
		Auth:      NewUserRepository(db),
	}
}
