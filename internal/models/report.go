package models

import "time"

// TimeScale is the granularity of report buckets.
type TimeScale string

const (
	ScaleHour    TimeScale = "HOUR"
	ScaleDay     TimeScale = "DAY"
	ScaleWeek    TimeScale = "WEEK"
	ScaleMonth   TimeScale = "MONTH"
	ScaleQuarter TimeScale = "QUARTER"
	ScaleYear    TimeScale = "YEAR"
)

// ReportView selects how the utilization series is grouped.
type ReportView string

const (
	ViewAll     ReportView = "all"
	ViewGroup   ReportView = "group"   // by machine type
	ViewMachine ReportView = "machine" // by machine id
)

// Bucket is one [Start, End) division of a report range.
type Bucket struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Label      string    `json:"label"`
	RangeLabel string    `json:"range_label"`
}

// StateTotals maps each state to milliseconds spent in it.
type StateTotals map[MachineState]int64

// Sum returns the total of every state.
func (t StateTotals) Sum() int64 {
	var sum int64
	for _, v := range t {
		sum += v
	}
	return sum
}

type KPIValue struct {
	Value  float64 `json:"value"`
	Change float64 `json:"change"`
}

type KPIs struct {
	Utilization    KPIValue `json:"utilization"`     // percent of available fleet time spent ACTIVE
	AverageRuntime KPIValue `json:"average_runtime"` // ms of ACTIVE time per machine
	AlarmCount     KPIValue `json:"alarm_count"`
}

// GroupUtilization is a group's share of one bucket. Utilization is nil when
// the bucket lies in the future or the group has no capacity in it.
type GroupUtilization struct {
	Utilization *float64 `json:"utilization"`
	Runtime     int64    `json:"runtime"`
}

type UtilizationPoint struct {
	Bucket
	Utilization *float64                    `json:"utilization"`
	Runtime     int64                       `json:"runtime"`
	StateTotals StateTotals                 `json:"state_totals,omitempty"`
	Groups      map[string]GroupUtilization `json:"groups,omitempty"`
}

type StateShare struct {
	State      MachineState `json:"state"`
	Total      int64        `json:"total"`
	Percentage float64      `json:"percentage"`
}

type MachineSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Overview is the answer to a utilization query.
type Overview struct {
	Start       time.Time          `json:"start"`
	End         time.Time          `json:"end"`
	Scale       TimeScale          `json:"scale"`
	View        ReportView         `json:"view"`
	KPIs        KPIs               `json:"kpis"`
	Utilization []UtilizationPoint `json:"utilization"`
	States      []StateShare       `json:"states"`
	Machines    []MachineSummary   `json:"machines"`
}
