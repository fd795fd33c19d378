package service

import (
	"context"
	"math"
	"sort"
	"time"

	"machine_monitor/internal/models"
	"machine_monitor/internal/repository"
)

// unknownGroup collects machines without a type in the group view.
const unknownGroup = "unknown"

// ReportingService answers utilization queries from the interval history.
// It never touches the poller, so polling errors cannot fail a report.
type ReportingService struct {
	intervals repository.IntervalRepo
	machines  Machines
	skip      map[string]struct{}
	loc       *time.Location
	now       func() time.Time
}

func NewReportingService(intervals repository.IntervalRepo, machines Machines, skip []string, loc *time.Location) *ReportingService {
	if loc == nil {
		loc = time.UTC
	}
	skipSet := make(map[string]struct{}, len(skip))
	for _, slug := range skip {
		skipSet[slug] = struct{}{}
	}
	return &ReportingService{
		intervals: intervals,
		machines:  machines,
		skip:      skipSet,
		loc:       loc,
		now:       time.Now,
	}
}

// Overview computes KPIs, the bucketed utilization series and the state
// distribution for [p.Start, p.End).
func (s *ReportingService) Overview(ctx context.Context, p OverviewParams) (*models.Overview, error) {
	if err := p.normalize(); err != nil {
		return nil, err
	}
	now := s.now()

	fleet, err := s.fleet(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.Machine, len(fleet))
	for _, m := range fleet {
		byID[m.ID] = m
	}
	machineCount := int64(len(fleet))

	scale, divisions := SelectScale(p.Start, p.End)
	if p.Scale != "" {
		scale = p.Scale
		divisions = DivisionCount(scale, p.Start, p.End)
	}
	buckets := GenerateBuckets(p.Start, p.End, scale, divisions, s.loc)

	span := p.End.Sub(p.Start)
	prevStart := p.Start.Add(-span)

	// one query covers the range and the equal-length period before it
	rows, err := s.intervals.ListOverlapping(ctx, repository.IntervalFilter{From: prevStart, To: p.End})
	if err != nil {
		return nil, err
	}
	var current, previous []models.StateInterval
	for _, iv := range rows {
		if _, ok := byID[iv.MachineID]; !ok {
			continue
		}
		ivEnd := iv.EffectiveEnd(now)
		if iv.StartTime.Before(p.End) && ivEnd.After(p.Start) {
			current = append(current, iv)
		}
		if iv.StartTime.Before(p.Start) && ivEnd.After(prevStart) {
			previous = append(previous, iv)
		}
	}

	totals := accumulate(current, p.Start, p.End, now)
	available := availableMs(p.Start, p.End, now) * machineCount
	if unrecorded := available - totals.Sum(); unrecorded > 0 {
		totals[models.StateUnknown] = unrecorded
	}

	prevTotals := accumulate(previous, prevStart, p.Start, now)
	prevAvailable := availableMs(prevStart, p.Start, now) * machineCount

	out := &models.Overview{
		Start:    p.Start,
		End:      p.End,
		Scale:    scale,
		View:     p.View,
		KPIs:     kpis(totals, available, prevTotals, prevAvailable, machineCount, current, previous),
		States:   distribution(totals, available),
		Machines: summaries(fleet),
	}

	switch p.View {
	case models.ViewAll:
		out.Utilization = seriesAll(buckets, current, machineCount, now)
	default:
		keyOf := func(m models.Machine) string { return m.ID }
		if p.View == models.ViewGroup {
			keyOf = func(m models.Machine) string {
				if m.Type == "" {
					return unknownGroup
				}
				return m.Type
			}
		}
		out.Utilization = seriesGrouped(buckets, current, fleet, byID, keyOf, now)
	}
	return out, nil
}

// fleet is the set of machines a report counts: enabled and not skipped.
func (s *ReportingService) fleet(ctx context.Context) ([]models.Machine, error) {
	all, err := s.machines.ListMachines(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Machine, 0, len(all))
	for _, m := range all {
		if !m.Enabled {
			continue
		}
		if _, skipped := s.skip[m.Slug]; skipped {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// availableMs is the part of [start, end) that is not in the future.
func availableMs(start, end, now time.Time) int64 {
	elapsed := end.Sub(start).Milliseconds()
	future := end.Sub(maxTime(now, start)).Milliseconds()
	if future < 0 {
		future = 0
	}
	return elapsed - future
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func kpis(totals models.StateTotals, available int64, prevTotals models.StateTotals, prevAvailable, machineCount int64, current, previous []models.StateInterval) models.KPIs {
	util := percent(totals[models.StateActive], available)
	prevUtil := percent(prevTotals[models.StateActive], prevAvailable)

	var avg, prevAvg float64
	if machineCount > 0 {
		avg = float64(totals[models.StateActive]) / float64(machineCount)
		prevAvg = float64(prevTotals[models.StateActive]) / float64(machineCount)
	}

	alarms := countState(current, models.StateAlarm)
	prevAlarms := countState(previous, models.StateAlarm)

	return models.KPIs{
		Utilization:    models.KPIValue{Value: util, Change: change(util, prevUtil)},
		AverageRuntime: models.KPIValue{Value: avg, Change: change(avg, prevAvg)},
		AlarmCount:     models.KPIValue{Value: float64(alarms), Change: change(float64(alarms), float64(prevAlarms))},
	}
}

func countState(intervals []models.StateInterval, st models.MachineState) int {
	n := 0
	for _, iv := range intervals {
		if iv.State == st {
			n++
		}
	}
	return n
}

// change is the relative change in percent, 0 when there is no baseline.
func change(cur, prev float64) float64 {
	if prev == 0 {
		return 0
	}
	return (cur - prev) / prev * 100
}

func percent(part, whole int64) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// bucketUtilization is nil for future buckets and zero capacity.
func bucketUtilization(b models.Bucket, runtime, capacity int64, now time.Time) *float64 {
	if b.Start.After(now) || capacity <= 0 {
		return nil
	}
	u := round2(float64(runtime) / float64(capacity) * 100)
	return &u
}

func seriesAll(buckets []models.Bucket, intervals []models.StateInterval, machineCount int64, now time.Time) []models.UtilizationPoint {
	out := make([]models.UtilizationPoint, 0, len(buckets))
	for _, b := range buckets {
		totals := accumulate(intervals, b.Start, b.End, now)
		runtime := totals[models.StateActive]
		capacity := b.End.Sub(b.Start).Milliseconds() * machineCount
		out = append(out, models.UtilizationPoint{
			Bucket:      b,
			Utilization: bucketUtilization(b, runtime, capacity, now),
			Runtime:     runtime,
			StateTotals: totals,
		})
	}
	return out
}

func seriesGrouped(buckets []models.Bucket, intervals []models.StateInterval, fleet []models.Machine, byID map[string]models.Machine, keyOf func(models.Machine) string, now time.Time) []models.UtilizationPoint {
	members := make(map[string]int64)
	for _, m := range fleet {
		members[keyOf(m)]++
	}
	keys := make([]string, 0, len(members))
	for k := range members {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	grouped := make(map[string][]models.StateInterval, len(keys))
	for _, iv := range intervals {
		k := keyOf(byID[iv.MachineID])
		grouped[k] = append(grouped[k], iv)
	}

	out := make([]models.UtilizationPoint, 0, len(buckets))
	for _, b := range buckets {
		dur := b.End.Sub(b.Start).Milliseconds()
		all := accumulate(intervals, b.Start, b.End, now)
		point := models.UtilizationPoint{
			Bucket:      b,
			Utilization: bucketUtilization(b, all[models.StateActive], dur*int64(len(fleet)), now),
			Runtime:     all[models.StateActive],
			StateTotals: all,
			Groups:      make(map[string]models.GroupUtilization, len(keys)),
		}
		for _, k := range keys {
			runtime := accumulate(grouped[k], b.Start, b.End, now)[models.StateActive]
			point.Groups[k] = models.GroupUtilization{
				Utilization: bucketUtilization(b, runtime, dur*members[k], now),
				Runtime:     runtime,
			}
		}
		out = append(out, point)
	}
	return out
}

func distribution(totals models.StateTotals, available int64) []models.StateShare {
	out := make([]models.StateShare, 0, len(models.AllStates))
	for _, st := range models.AllStates {
		out = append(out, models.StateShare{
			State:      st,
			Total:      totals[st],
			Percentage: percent(totals[st], available),
		})
	}
	return out
}

func summaries(machines []models.Machine) []models.MachineSummary {
	out := make([]models.MachineSummary, 0, len(machines))
	for _, m := range machines {
		out = append(out, models.MachineSummary{ID: m.ID, Name: m.Name, Type: m.Type})
	}
	return out
}
