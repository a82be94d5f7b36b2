// Package metrics holds the Prometheus instruments of the monitor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "appguard"

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Activity stream
	EventsPublished *prometheus.CounterVec
	EventsDebounced *prometheus.CounterVec
	EventsDropped   prometheus.Counter

	// Enforcement
	EnforcementActions    prometheus.Counter
	EnforcementRetries    prometheus.Counter
	EnforcementIncomplete prometheus.Counter
	WarningsShown         prometheus.Counter
	PolicyErrors          prometheus.Counter

	// Detection
	SignalErrors *prometheus.CounterVec
	SessionOpen  prometheus.Gauge
}

// New creates metrics registered on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		EventsPublished: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Activity events accepted by the sink",
			},
			[]string{"kind"},
		),
		EventsDebounced: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_debounced_total",
				Help:      "Activity events suppressed by the debouncer",
			},
			[]string{"kind"},
		),
		EventsDropped: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Activity events dropped because no subscriber kept up",
			},
		),
		EnforcementActions: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "enforcement_actions_total",
				Help:      "Violations acted on",
			},
		),
		EnforcementRetries: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "enforcement_retries_total",
				Help:      "Second terminate requests after a failed re-check",
			},
		),
		EnforcementIncomplete: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "enforcement_incomplete_total",
				Help:      "Violations still running after the retry",
			},
		),
		WarningsShown: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "warnings_shown_total",
				Help:      "Warning indicator displays",
			},
		),
		PolicyErrors: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_errors_total",
				Help:      "Policy store reads that failed",
			},
		),
		SignalErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signal_errors_total",
				Help:      "Foreground queries that failed",
			},
			[]string{"source"},
		),
		SessionOpen: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_open",
				Help:      "1 while a foreground session is current",
			},
		),
	}
}

// NewNop creates metrics on a private registry that nobody scrapes.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
