package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"

	"machine_monitor/internal/cache"
	"machine_monitor/internal/config"
	"machine_monitor/internal/logger"
	"machine_monitor/internal/metrics"
	"machine_monitor/internal/models"
	"machine_monitor/internal/protocol"
)

var (
	errEmptyPayload    = errors.New("payload could not be parsed")
	errBadAdapterReply = errors.New("adapter reply is not JSON")

	ErrAdapterResetUnsupported = errors.New("no FOCAS adapter configured")
)

const adapterResetTimeout = 5 * time.Second

type adapterResetter interface {
	ResetEndpoint() string
	ResetHeaders() map[string]string
}

// MonitorDeps groups the collaborators of MonitorService.
type MonitorDeps struct {
	Machines    Machines
	History     History
	Snapshots   cache.SnapshotStore
	Adapters    *protocol.Registry
	Fetcher     Fetcher
	Poster      Poster
	Broadcaster Broadcaster
	Metrics     *metrics.Collector
	Log         *logger.Logger
	Poller      config.PollerConfig
}

// MonitorService polls every machine once per tick. Ticks run one after
// another on a single goroutine, so a machine is never polled twice at once.
type MonitorService struct {
	machines  Machines
	history   History
	snapshots cache.SnapshotStore
	adapters  *protocol.Registry
	fetcher   Fetcher
	poster    Poster
	broadcast Broadcaster
	metrics   *metrics.Collector
	log       *logger.Logger
	cfg       config.PollerConfig
	skip      map[string]struct{}
	now       func() time.Time

	// mu serializes Initialize/Stop/Reset.
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	loop    *conc.WaitGroup

	fleetMu     sync.RWMutex
	fleet       []models.Machine
	refreshedAt time.Time
}

func NewMonitorService(d MonitorDeps) *MonitorService {
	skip := make(map[string]struct{}, len(d.Poller.Skip))
	for _, slug := range d.Poller.Skip {
		skip[slug] = struct{}{}
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.Poller.MaxConcurrency <= 0 {
		d.Poller.MaxConcurrency = 1
	}
	return &MonitorService{
		machines:  d.Machines,
		history:   d.History,
		snapshots: d.Snapshots,
		adapters:  d.Adapters,
		fetcher:   d.Fetcher,
		poster:    d.Poster,
		broadcast: d.Broadcaster,
		metrics:   d.Metrics,
		log:       d.Log,
		cfg:       d.Poller,
		skip:      skip,
		now:       time.Now,
	}
}

// Initialize loads the registry, seeds an OFFLINE snapshot for every machine
// without one and starts the tick loop. A registry failure is returned since
// nothing can be polled without it. Calling it while running is a no-op.
func (s *MonitorService) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	machines, err := s.machines.RefreshMachines(ctx)
	if err != nil {
		return fmt.Errorf("load machine registry: %w", err)
	}
	s.setFleet(machines)
	s.seedSnapshots(ctx, machines)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.loop = conc.NewWaitGroup()
	s.loop.Go(func() { s.run(runCtx) })
	s.running = true

	s.log.Infow("monitor_started", "machines", len(machines), "interval", s.cfg.Interval)
	return nil
}

func (s *MonitorService) run(ctx context.Context) {
	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.maybeRefreshFleet(ctx)
			s.PollMachines(ctx)
		}
	}
}

// Running reports whether the tick loop is active.
func (s *MonitorService) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

const closeAllTimeout = 10 * time.Second

// Stop cancels the loop and every in-flight request, waits for the loop to
// exit and closes all open intervals. It is a no-op when not running.
func (s *MonitorService) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}

	s.cancel()
	var err error
	if r := s.loop.WaitAndRecover(); r != nil {
		err = multierr.Append(err, fmt.Errorf("poll loop: %w", r.AsError()))
	}

	// the caller going away must not leave intervals open
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeAllTimeout)
	defer cancel()
	if _, cerr := s.history.CloseAll(closeCtx); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("close intervals: %w", cerr))
	}

	s.running = false
	s.cancel = nil
	s.loop = nil
	s.log.Infow("monitor_stopped", "err", err)
	return err
}

// Reset stops the monitor and forgets the loaded fleet so that the next
// Initialize reloads the registry.
func (s *MonitorService) Reset(ctx context.Context) error {
	err := s.Stop(ctx)
	s.setFleet(nil)
	s.log.Infow("monitor_reset")
	return err
}

// PollMachines runs one tick: every pollable machine is fetched in parallel,
// each with its own timeout. Failures of one machine never affect another.
// The resulting live-state array is broadcast and returned.
func (s *MonitorService) PollMachines(ctx context.Context) []models.MachineStatus {
	started := s.now()
	machines := s.pollable()
	statuses := make([]models.MachineStatus, len(machines))
	recorded := make([]bool, len(machines))

	p := pool.New().WithMaxGoroutines(s.cfg.MaxConcurrency)
	for i, m := range machines {
		p.Go(func() {
			statuses[i], recorded[i] = s.pollOne(ctx, m)
		})
	}
	p.Wait()

	out := make([]models.MachineStatus, 0, len(statuses))
	states := make([]models.MachineState, 0, len(statuses))
	for i, st := range statuses {
		if !recorded[i] {
			continue
		}
		out = append(out, st)
		states = append(states, st.State)
	}

	if s.broadcast != nil && ctx.Err() == nil {
		if err := s.broadcast.Broadcast(out); err != nil {
			s.log.Warnw("broadcast_failed", "err", err)
		}
	}
	s.metrics.RecordTick(s.now().Sub(started).Seconds(), states)
	return out
}

// pollOne returns false when the poll was aborted by cancellation, in which
// case nothing was recorded.
func (s *MonitorService) pollOne(ctx context.Context, m models.Machine) (models.MachineStatus, bool) {
	started := s.now()

	var (
		telemetry *models.Telemetry
		st        models.MachineState
		err       error
	)
	var pc panics.Catcher
	pc.Try(func() {
		telemetry, st, err = s.observe(ctx, m)
	})
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}

	result := metrics.ResultOK
	if err != nil {
		if ctx.Err() != nil {
			return models.MachineStatus{}, false
		}
		s.log.Warnw("poll_failed", "machine_id", m.ID, "slug", m.Slug, "protocol", m.ConnectionType, "err", err)
		telemetry = models.OfflineTelemetry(s.now())
		st = models.StateOffline
		result = metrics.ResultOffline
	}
	s.metrics.RecordPoll(m.ConnectionType, result, s.now().Sub(started).Seconds())

	s.history.Observe(ctx, m.ID, telemetry, st)

	now := s.now()
	if err := s.snapshots.Set(ctx, models.Snapshot{
		MachineID: m.ID,
		State:     st,
		Telemetry: telemetry,
		Timestamp: now,
	}); err != nil {
		s.log.Errorw("snapshot_write_failed", "machine_id", m.ID, "err", err)
	}

	return models.MachineStatus{
		MachineID:   m.ID,
		MachineName: m.Name,
		MachineType: m.Type,
		State:       st,
		Telemetry:   telemetry,
		Timestamp:   now,
	}, true
}

// observe fetches, parses and classifies one machine.
func (s *MonitorService) observe(ctx context.Context, m models.Machine) (*models.Telemetry, models.MachineState, error) {
	adapter, err := s.adapters.Lookup(m.ConnectionType)
	if err != nil {
		return nil, "", err
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	raw, err := s.fetcher.Fetch(reqCtx, adapter.Endpoint(m), adapter.Headers())
	if err != nil {
		return nil, "", err
	}
	telemetry := adapter.Parse(raw)
	if telemetry == nil {
		return nil, "", errEmptyPayload
	}
	if telemetry.Availability == models.AvailabilityUnavailable {
		return models.OfflineTelemetry(telemetry.Timestamp), models.StateOffline, nil
	}

	previous, err := s.snapshots.Get(ctx, m.ID)
	if err != nil {
		s.log.Warnw("snapshot_read_failed", "machine_id", m.ID, "err", err)
		previous = nil
	}
	return telemetry, adapter.DetermineState(telemetry, previous), nil
}

// Current returns the last known state of every registered machine.
// Machines not observed yet are reported OFFLINE.
func (s *MonitorService) Current(ctx context.Context) ([]models.MachineStatus, error) {
	machines := s.pollable()
	if len(machines) == 0 {
		all, err := s.machines.ListMachines(ctx)
		if err != nil {
			return nil, err
		}
		machines = s.filterPollable(all)
	}

	out := make([]models.MachineStatus, 0, len(machines))
	for _, m := range machines {
		status := models.MachineStatus{
			MachineID:   m.ID,
			MachineName: m.Name,
			MachineType: m.Type,
			State:       models.StateOffline,
		}
		snap, err := s.snapshots.Get(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		if snap != nil {
			status.State = snap.State
			status.Telemetry = snap.Telemetry
			status.Timestamp = snap.Timestamp
		}
		out = append(out, status)
	}
	return out, nil
}

func (s *MonitorService) seedSnapshots(ctx context.Context, machines []models.Machine) {
	now := s.now()
	for _, m := range machines {
		snap, err := s.snapshots.Get(ctx, m.ID)
		if err != nil {
			s.log.Warnw("snapshot_read_failed", "machine_id", m.ID, "err", err)
			continue
		}
		if snap != nil {
			continue
		}
		err = s.snapshots.Set(ctx, models.Snapshot{
			MachineID: m.ID,
			State:     models.StateOffline,
			Telemetry: &models.Telemetry{Timestamp: now},
			Timestamp: now,
		})
		if err != nil {
			s.log.Warnw("snapshot_seed_failed", "machine_id", m.ID, "err", err)
		}
	}
}

func (s *MonitorService) maybeRefreshFleet(ctx context.Context) {
	if s.cfg.RegistryRefresh <= 0 {
		return
	}
	s.fleetMu.RLock()
	due := s.now().Sub(s.refreshedAt) >= s.cfg.RegistryRefresh
	s.fleetMu.RUnlock()
	if !due {
		return
	}

	machines, err := s.machines.RefreshMachines(ctx)
	if err != nil {
		s.log.Warnw("registry_refresh_failed", "err", err)
		s.fleetMu.Lock()
		s.refreshedAt = s.now()
		s.fleetMu.Unlock()
		return
	}
	s.setFleet(machines)
	s.seedSnapshots(ctx, machines)
}

func (s *MonitorService) setFleet(machines []models.Machine) {
	s.fleetMu.Lock()
	defer s.fleetMu.Unlock()
	s.fleet = machines
	s.refreshedAt = s.now()
}

// pollable returns enabled machines that are not on the skip list.
func (s *MonitorService) pollable() []models.Machine {
	s.fleetMu.RLock()
	defer s.fleetMu.RUnlock()
	return s.filterPollable(s.fleet)
}

func (s *MonitorService) filterPollable(machines []models.Machine) []models.Machine {
	out := make([]models.Machine, 0, len(machines))
	for _, m := range machines {
		if !m.Enabled {
			continue
		}
		if _, skipped := s.skip[m.Slug]; skipped {
			continue
		}
		out = append(out, m)
	}
	return out
}

// ResetFocasAdapter asks the FOCAS adapter service to reset and returns its
// JSON reply. An empty reply is reported as {}.
func (s *MonitorService) ResetFocasAdapter(ctx context.Context) (json.RawMessage, error) {
	a, err := s.adapters.Lookup(models.ConnectionFocas)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAdapterResetUnsupported, err)
	}
	r, ok := a.(adapterResetter)
	if !ok || s.poster == nil {
		return nil, ErrAdapterResetUnsupported
	}

	ctx, cancel := context.WithTimeout(ctx, adapterResetTimeout)
	defer cancel()

	body, err := s.poster.Post(ctx, r.ResetEndpoint(), r.ResetHeaders())
	if err != nil {
		return nil, fmt.Errorf("reset focas adapter: %w", err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		body = []byte("{}")
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("reset focas adapter: %w", errBadAdapterReply)
	}
	s.log.Infow("focas_adapter_reset", "endpoint", r.ResetEndpoint())
	return json.RawMessage(body), nil
}
