package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"machine_monitor/internal/models"
)

var (
	ErrInvalidRange = errors.New("'from' must be before 'to'")
	ErrInvalidView  = errors.New("view must be one of all, group, machine")
	ErrInvalidScale = errors.New("scale must be one of HOUR, DAY, WEEK, MONTH, QUARTER, YEAR")
	ErrInvalidTime  = errors.New("invalid time; use RFC3339, 'YYYY-MM-DD HH:MM:SS' or YYYY-MM-DD")

	ErrTooManyBuckets = fmt.Errorf("%w: range too long for this scale", ErrInvalidScale)
)

// MaxOverrideBuckets caps the bucket count an explicit scale may produce.
const MaxOverrideBuckets = 100

const (
	layoutDateTime = "2006-01-02 15:04:05"
	layoutDate     = "2006-01-02"
)

// IntervalQuery selects interval history. Zero times are open bounds.
type IntervalQuery struct {
	MachineID string
	State     models.MachineState
	From      time.Time
	To        time.Time
}

func (q IntervalQuery) Validate() error {
	if !q.From.IsZero() && !q.To.IsZero() && !q.From.Before(q.To) {
		return ErrInvalidRange
	}
	return nil
}

// OverviewParams drive a utilization report over [Start, End).
// An empty Scale lets the range length pick one.
type OverviewParams struct {
	Start time.Time
	End   time.Time
	View  models.ReportView
	Scale models.TimeScale
}

func (p *OverviewParams) normalize() error {
	if p.Start.IsZero() || p.End.IsZero() || !p.Start.Before(p.End) {
		return ErrInvalidRange
	}
	p.View = models.ReportView(strings.ToLower(strings.TrimSpace(string(p.View))))
	switch p.View {
	case "":
		p.View = models.ViewAll
	case models.ViewAll, models.ViewGroup, models.ViewMachine:
	default:
		return ErrInvalidView
	}
	p.Scale = models.TimeScale(strings.ToUpper(strings.TrimSpace(string(p.Scale))))
	switch p.Scale {
	case "":
	case models.ScaleHour, models.ScaleDay, models.ScaleWeek, models.ScaleMonth, models.ScaleQuarter, models.ScaleYear:
		if DivisionCount(p.Scale, p.Start, p.End) > MaxOverrideBuckets {
			return ErrTooManyBuckets
		}
	default:
		return ErrInvalidScale
	}
	return nil
}

// IsDateOnly reports whether a query value carries no time of day.
func IsDateOnly(s string) bool {
	return !strings.ContainsAny(strings.TrimSpace(s), "T ")
}

// ParseQueryTime accepts RFC3339, 'YYYY-MM-DD HH:MM:SS' and YYYY-MM-DD.
// Values without an offset are read in loc.
func ParseQueryTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{layoutDateTime, layoutDate} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
}

// ResolveRange turns from/to query values into a half-open [start, end)
// range in loc. A date-only "to" covers that whole day. Missing bounds
// default to today.
func ResolveRange(from, to string, loc *time.Location, now time.Time) (time.Time, time.Time, error) {
	today := startOfDay(now, loc)
	start, end := today, today.AddDate(0, 0, 1)

	if from != "" {
		t, err := ParseQueryTime(from, loc)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = t
	}
	if to != "" {
		t, err := ParseQueryTime(to, loc)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		if IsDateOnly(to) {
			t = t.AddDate(0, 0, 1)
		}
		end = t
	} else if from != "" && !end.After(start) {
		end = startOfDay(start, loc).AddDate(0, 0, 1)
	}

	if !start.Before(end) {
		return time.Time{}, time.Time{}, ErrInvalidRange
	}
	return start, end, nil
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
