package service

import (
	"context"
	"time"

	"machine_monitor/internal/cache"
	"machine_monitor/internal/logger"
	"machine_monitor/internal/metrics"
	"machine_monitor/internal/models"
	"machine_monitor/internal/repository"
)

// HistoryService turns per-poll observations into state intervals.
type HistoryService struct {
	repo      repository.IntervalRepo
	snapshots cache.SnapshotStore
	metrics   *metrics.Collector
	log       *logger.Logger
	now       func() time.Time
}

func NewHistoryService(repo repository.IntervalRepo, snapshots cache.SnapshotStore, m *metrics.Collector, log *logger.Logger) *HistoryService {
	return &HistoryService{
		repo:      repo,
		snapshots: snapshots,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
}

// Observe opens a new interval when the machine has none open, or when the
// open one holds a different state. It reports whether an interval was
// opened. Persistence errors are logged and swallowed; the next transition
// repairs whatever was left open.
func (s *HistoryService) Observe(ctx context.Context, machineID string, t *models.Telemetry, st models.MachineState) bool {
	open, err := s.repo.OpenIntervals(ctx, machineID)
	if err != nil {
		s.log.Errorw("open_interval_lookup_failed", "machine_id", machineID, "state", st, "err", err)
		return false
	}
	if len(open) == 1 && open[0].State == st {
		return false
	}

	iv, err := s.repo.RecordTransition(ctx, machineID, t, st, s.now())
	if err != nil {
		s.metrics.RecordTransitionFailure()
		s.log.Errorw("transition_record_failed",
			"machine_id", machineID,
			"state", st,
			"telemetry", t,
			"open_intervals", len(open),
			"err", err,
		)
		return false
	}

	s.metrics.RecordTransition(st)
	from := models.MachineState("")
	if len(open) > 0 {
		from = open[len(open)-1].State
	}
	s.log.Debugw("state_transition", "machine_id", machineID, "from", from, "to", st, "interval_id", iv.ID)
	return true
}

// CloseAll closes every open interval and drops the cached snapshot of each
// affected machine, so the next poll starts a fresh interval.
func (s *HistoryService) CloseAll(ctx context.Context) ([]string, error) {
	ids, err := s.repo.CloseAll(ctx, s.now())
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := s.snapshots.Delete(ctx, id); err != nil {
			s.log.Warnw("snapshot_purge_failed", "machine_id", id, "err", err)
		}
	}
	s.log.Infow("intervals_closed", "machines", len(ids))
	return ids, nil
}

func (s *HistoryService) CloseMachine(ctx context.Context, machineID string) (int, error) {
	n, err := s.repo.CloseMachine(ctx, machineID, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if err := s.snapshots.Delete(ctx, machineID); err != nil {
			s.log.Warnw("snapshot_purge_failed", "machine_id", machineID, "err", err)
		}
	}
	return n, nil
}

// Intervals lists the machine's intervals overlapping [From, To), clipped to
// that range. Open intervals end at now.
func (s *HistoryService) Intervals(ctx context.Context, q IntervalQuery) ([]models.StateInterval, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListOverlapping(ctx, repository.IntervalFilter{
		MachineID: q.MachineID,
		State:     q.State,
		From:      q.From,
		To:        q.To,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]models.StateInterval, 0, len(rows))
	for _, iv := range rows {
		start, end := iv.StartTime, iv.EffectiveEnd(now)
		if !q.From.IsZero() && start.Before(q.From) {
			start = q.From
		}
		if !q.To.IsZero() && end.After(q.To) {
			end = q.To
		}
		if !end.After(start) {
			continue
		}
		clipped := iv
		clipped.StartTime = start
		clipped.DurationMs = end.Sub(start).Milliseconds()
		if !iv.Open() || end.Before(now) {
			clipped.EndTime = &end
		}
		out = append(out, clipped)
	}
	return out, nil
}
