package service

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"machine_monitor/internal/cache"
	"machine_monitor/internal/config"
	"machine_monitor/internal/logger"
	"machine_monitor/internal/metrics"
	"machine_monitor/internal/models"
	"machine_monitor/internal/protocol"
	"machine_monitor/internal/repository"
)

type Authorization interface {
	SignUp(ctx context.Context, username, password string) (int, error)
	GenerateToken(ctx context.Context, username, password string) (string, error)
	ParseToken(accessToken string) (int, error)
}

// Machines is the cached view of the machine registry.
type Machines interface {
	ListMachines(ctx context.Context) ([]models.Machine, error)
	RefreshMachines(ctx context.Context) ([]models.Machine, error)
	GetMachine(ctx context.Context, id string) (models.Machine, error)
}

// History owns the interval bookkeeping.
type History interface {
	Observe(ctx context.Context, machineID string, t *models.Telemetry, st models.MachineState) bool
	CloseAll(ctx context.Context) ([]string, error)
	CloseMachine(ctx context.Context, machineID string) (int, error)
	Intervals(ctx context.Context, q IntervalQuery) ([]models.StateInterval, error)
}

// Monitor drives the polling loop.
type Monitor interface {
	Initialize(ctx context.Context) error
	PollMachines(ctx context.Context) []models.MachineStatus
	Stop(ctx context.Context) error
	Reset(ctx context.Context) error
	Current(ctx context.Context) ([]models.MachineStatus, error)
	Running() bool
	ResetFocasAdapter(ctx context.Context) (json.RawMessage, error)
}

type Reporting interface {
	Overview(ctx context.Context, p OverviewParams) (*models.Overview, error)
}

// Broadcaster receives the full live-state array after each tick.
type Broadcaster interface {
	Broadcast(statuses []models.MachineStatus) error
}

// Service aggregates all sub-services.
type Service struct {
	Machines
	History
	Monitor
	Reporting
	Authorization
}

// Deps carries what the services need besides repositories. Nil Metrics and
// Broadcaster are allowed.
type Deps struct {
	Config      *config.Config
	Cache       cache.Cache
	Snapshots   cache.SnapshotStore
	Adapters    *protocol.Registry
	Broadcaster Broadcaster
	Metrics     *metrics.Collector
	Log         *logger.Logger
	HTTPClient  *http.Client
}

// NewService wires the repository layer into concrete services.
func NewService(repos *repository.Repository, deps Deps) *Service {
	cfg := deps.Config
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewMemoryCache()
	}
	if deps.Snapshots == nil {
		deps.Snapshots = cache.NewSnapshotStore(deps.Cache)
	}
	if deps.Adapters == nil {
		deps.Adapters = protocol.NewRegistry(
			protocol.NewMTConnect(),
			protocol.NewFocas(cfg.Focas.AdapterHost, cfg.Focas.AdapterPort, cfg.Focas.APIKey),
		)
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: cfg.Poller.RequestTimeout + 100*time.Millisecond}
	}

	httpFetcher := NewHTTPFetcher(deps.HTTPClient)
	machines := NewMachineService(repos.Machines, deps.Cache, deps.Log)
	history := NewHistoryService(repos.Intervals, deps.Snapshots, deps.Metrics, deps.Log)

	return &Service{
		Machines: machines,
		History:  history,
		Monitor: NewMonitorService(MonitorDeps{
			Machines:    machines,
			History:     history,
			Snapshots:   deps.Snapshots,
			Adapters:    deps.Adapters,
			Fetcher:     httpFetcher,
			Poster:      httpFetcher,
			Broadcaster: deps.Broadcaster,
			Metrics:     deps.Metrics,
			Log:         deps.Log,
			Poller:      cfg.Poller,
		}),
		Reporting:     NewReportingService(repos.Intervals, machines, cfg.Poller.Skip, cfg.Location()),
		Authorization: NewAuthService(repos.Auth, cfg.Auth.SigningKey, cfg.Auth.TokenTTL),
	}
}
