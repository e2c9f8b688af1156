package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "taskmaster"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of successful process spawns.",
		}, []string{"program"},
	)
	processRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "restarts_total",
			Help:      "Number of automatic restarts.",
		}, []string{"program"},
	)
	processStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of stop signals sent.",
		}, []string{"program"},
	)
	processExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "exits_total",
			Help:      "Number of exits not caused by a stop request, by kind (expected, unexpected, signal, launch).",
		}, []string{"program", "kind"},
	)
	processFatal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "fatal_total",
			Help:      "Number of times an instance entered FATAL.",
		}, []string{"program"},
	)
	processKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "forced_kills_total",
			Help:      "Number of SIGKILLs sent after the stop grace period.",
		}, []string{"program"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between different process states.",
		}, []string{"program", "from", "to"},
	)
	instancesByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "instances",
			Help:      "Current number of instances in each state.",
		}, []string{"state"},
	)
	reloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "reloads_total",
			Help:      "Configuration reloads by result (applied, abandoned).",
		}, []string{"result"},
	)
	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "tick_duration_seconds",
			Help:      "Time spent processing one supervision tick, excluding the wait.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)
	controlRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "requests_total",
			Help:      "Control requests by command and success.",
		}, []string{"command", "success"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		processStarts, processRestarts, processStops, processExits, processFatal, processKills,
		stateTransitions, instancesByState, reloads, tickDuration, controlRequests,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(program string) {
	if regOK.Load() {
		processStarts.WithLabelValues(program).Inc()
	}
}
func IncRestart(program string) {
	if regOK.Load() {
		processRestarts.WithLabelValues(program).Inc()
	}
}
func IncStop(program string) {
	if regOK.Load() {
		processStops.WithLabelValues(program).Inc()
	}
}
func IncExit(program, kind string) {
	if regOK.Load() {
		processExits.WithLabelValues(program, kind).Inc()
	}
}
func IncFatal(program string) {
	if regOK.Load() {
		processFatal.WithLabelValues(program).Inc()
	}
}
func IncKill(program string) {
	if regOK.Load() {
		processKills.WithLabelValues(program).Inc()
	}
}

func RecordStateTransition(program, from, to string) {
	if regOK.Load() && from != to {
		stateTransitions.WithLabelValues(program, from, to).Inc()
	}
}

// SetStateCounts replaces the per-state instance gauge. States missing from
// counts are set to zero.
func SetStateCounts(states []string, counts map[string]int) {
	if !regOK.Load() {
		return
	}
	for _, s := range states {
		instancesByState.WithLabelValues(s).Set(float64(counts[s]))
	}
}

func IncReload(applied bool) {
	if regOK.Load() {
		result := "applied"
		if !applied {
			result = "abandoned"
		}
		reloads.WithLabelValues(result).Inc()
	}
}

func ObserveTick(seconds float64) {
	if regOK.Load() {
		tickDuration.Observe(seconds)
	}
}

func IncControlRequest(command string, success bool) {
	if regOK.Load() {
		ok := "false"
		if success {
			ok = "true"
		}
		controlRequests.WithLabelValues(command, ok).Inc()
	}
}
