package service

import (
	"fmt"
	"math"
	"time"

	"machine_monitor/internal/models"
)

const day = 24 * time.Hour

// Average calendar unit lengths in days.
const (
	daysPerMonth   = 30.4375
	daysPerQuarter = 91.3125
	daysPerYear    = 365.25
)

// SelectScale picks the bucket granularity for a range so that the number of
// buckets stays small whatever the range length.
func SelectScale(start, end time.Time) (models.TimeScale, int) {
	days := end.Sub(start).Hours() / 24
	var scale models.TimeScale
	switch {
	case days <= 3:
		scale = models.ScaleHour
	case days <= 20:
		scale = models.ScaleDay
	case days <= 84:
		scale = models.ScaleWeek
	case days <= 548:
		scale = models.ScaleMonth
	default:
		scale = models.ScaleYear
	}
	return scale, DivisionCount(scale, start, end)
}

// DivisionCount is ceil(span / unit) for the scale, at least 1 for a
// non-empty range.
func DivisionCount(scale models.TimeScale, start, end time.Time) int {
	span := end.Sub(start)
	if span <= 0 {
		return 0
	}
	var n int
	switch scale {
	case models.ScaleHour:
		n = ceilDiv(span, time.Hour)
	case models.ScaleDay:
		n = ceilDiv(span, day)
	case models.ScaleWeek:
		n = ceilDiv(span, 7*day)
	case models.ScaleMonth:
		n = int(math.Ceil(span.Hours() / 24 / daysPerMonth))
	case models.ScaleQuarter:
		n = int(math.Ceil(span.Hours() / 24 / daysPerQuarter))
	default:
		n = int(math.Ceil(span.Hours() / 24 / daysPerYear))
	}
	return max(n, 1)
}

func ceilDiv(span, unit time.Duration) int {
	return int((span + unit - 1) / unit)
}

// GenerateBuckets splits [start, end) into at most count contiguous buckets
// of one scale unit each. Calendar units step in loc. The last bucket always
// ends at end, so the buckets cover the range without gaps.
func GenerateBuckets(start, end time.Time, scale models.TimeScale, count int, loc *time.Location) []models.Bucket {
	buckets := make([]models.Bucket, 0, count)
	for i := 0; i < count; i++ {
		bStart := addUnits(start, scale, i, loc)
		if !bStart.Before(end) {
			break
		}
		bEnd := addUnits(start, scale, i+1, loc)
		if i == count-1 || bEnd.After(end) {
			bEnd = end
		}
		buckets = append(buckets, models.Bucket{
			Start:      bStart,
			End:        bEnd,
			Label:      bucketLabel(bStart, scale, loc),
			RangeLabel: rangeLabel(bStart, bEnd, scale, loc),
		})
	}
	if n := len(buckets); n > 0 {
		buckets[n-1].End = end
		buckets[n-1].RangeLabel = rangeLabel(buckets[n-1].Start, end, scale, loc)
	}
	return buckets
}

func addUnits(t time.Time, scale models.TimeScale, n int, loc *time.Location) time.Time {
	local := t.In(loc)
	switch scale {
	case models.ScaleHour:
		return t.Add(time.Duration(n) * time.Hour)
	case models.ScaleDay:
		return local.AddDate(0, 0, n)
	case models.ScaleWeek:
		return local.AddDate(0, 0, 7*n)
	case models.ScaleMonth:
		return local.AddDate(0, n, 0)
	case models.ScaleQuarter:
		return local.AddDate(0, 3*n, 0)
	default:
		return local.AddDate(n, 0, 0)
	}
}

func bucketLabel(t time.Time, scale models.TimeScale, loc *time.Location) string {
	t = t.In(loc)
	switch scale {
	case models.ScaleHour:
		return t.Format("3:04 PM")
	case models.ScaleDay:
		return t.Format("Jan 2")
	case models.ScaleWeek:
		return "Week of " + t.Format("Jan 2")
	case models.ScaleMonth:
		return t.Format("January 2006")
	case models.ScaleQuarter:
		return fmt.Sprintf("Q%d %d", (int(t.Month())-1)/3+1, t.Year())
	default:
		return t.Format("2006")
	}
}

func rangeLabel(start, end time.Time, scale models.TimeScale, loc *time.Location) string {
	if scale == models.ScaleWeek {
		return bucketLabel(start, models.ScaleDay, loc) + " - " + bucketLabel(end, models.ScaleDay, loc)
	}
	return bucketLabel(start, scale, loc) + " - " + bucketLabel(end, scale, loc)
}

// overlapMs is the length in ms of [aStart, aEnd) ∩ [bStart, bEnd), or 0.
func overlapMs(aStart, aEnd, bStart, bEnd int64) int64 {
	lo := max(aStart, bStart)
	hi := min(aEnd, bEnd)
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// accumulate sums per-state overlap of intervals with [from, to). Open
// intervals run until now.
func accumulate(intervals []models.StateInterval, from, to, now time.Time) models.StateTotals {
	totals := make(models.StateTotals, len(models.AllStates))
	for _, st := range models.AllStates {
		totals[st] = 0
	}
	fromMs, toMs := from.UnixMilli(), to.UnixMilli()
	for _, iv := range intervals {
		ms := overlapMs(iv.StartTime.UnixMilli(), iv.EffectiveEnd(now).UnixMilli(), fromMs, toMs)
		if ms > 0 {
			totals[iv.State] += ms
		}
	}
	return totals
}
