// Package metrics exposes poller and transition counters for Prometheus.
//
// Exported series:
//
//	monitor_polls_total{protocol,result}      polls by outcome (ok, offline)
//	monitor_poll_duration_seconds{protocol}   fetch+parse latency
//	monitor_state_transitions_total{state}    intervals opened
//	monitor_transition_failures_total         transitions that failed to persist
//	monitor_tick_duration_seconds             whole-tick latency
//	monitor_machines{state}                   machines per state after the last tick
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"machine_monitor/internal/models"
)

const namespace = "monitor"

const (
	ResultOK      = "ok"
	ResultOffline = "offline"
)

// Collector owns the monitor series. Its Record methods are no-ops on a nil receiver.
type Collector struct {
	polls              *prometheus.CounterVec
	pollDuration       *prometheus.HistogramVec
	transitions        *prometheus.CounterVec
	transitionFailures prometheus.Counter
	tickDuration       prometheus.Histogram
	machines           *prometheus.GaugeVec

	gatherer prometheus.Gatherer
	mu       sync.Mutex
}

// NewCollector registers every series on a fresh registry, so several
// collectors can live in one process (tests, the report CLI).
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Machine polls by protocol and outcome",
		}, []string{"protocol", "result"}),
		pollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Time to fetch and parse one machine payload",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"protocol"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "State intervals opened, by new state",
		}, []string{"state"}),
		transitionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transition_failures_total",
			Help:      "State transitions that could not be persisted",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of one full polling tick",
			Buckets:   prometheus.DefBuckets,
		}),
		machines: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "machines",
			Help:      "Machines in each state after the last tick",
		}, []string{"state"}),
		gatherer: reg,
	}

	reg.MustRegister(
		c.polls,
		c.pollDuration,
		c.transitions,
		c.transitionFailures,
		c.tickDuration,
		c.machines,
	)
	return c
}

func (c *Collector) RecordPoll(protocol models.ConnectionType, result string, seconds float64) {
	if c == nil {
		return
	}
	c.polls.WithLabelValues(string(protocol), result).Inc()
	c.pollDuration.WithLabelValues(string(protocol)).Observe(seconds)
}

func (c *Collector) RecordTransition(st models.MachineState) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(string(st)).Inc()
}

func (c *Collector) RecordTransitionFailure() {
	if c == nil {
		return
	}
	c.transitionFailures.Inc()
}

// RecordTick stores the tick latency and replaces the per-state machine gauge.
func (c *Collector) RecordTick(seconds float64, states []models.MachineState) {
	if c == nil {
		return
	}
	c.tickDuration.Observe(seconds)

	counts := make(map[models.MachineState]int, len(models.AllStates))
	for _, st := range states {
		counts[st]++
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range models.AllStates {
		c.machines.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
