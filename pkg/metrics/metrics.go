// Package metrics exports sync statistics in the Prometheus text format, for
// collection by node_exporter's textfile collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/sidkik/dotsync/pkg/errors"
)

// Metrics holds the collectors updated by the watchers. The zero path
// disables writing, but the collectors are still updated.
type Metrics struct {
	PushAttempts        *prometheus.CounterVec // kind=ok|<errors.Kind>
	PushCycles          *prometheus.CounterVec // result=delivered|failed|busy
	PullTicks           *prometheus.CounterVec // result=ok|failed|busy|deploy_failed
	ConsecutiveFailures prometheus.Gauge
	LastSuccess         prometheus.Gauge
	ServiceActions      *prometheus.CounterVec // action=activate|restart

	registry *prometheus.Registry
	path     string
	log      logrus.FieldLogger
}

// New creates the collectors. If `path` isn't empty, Flush writes them to it.
func New(log logrus.FieldLogger, path string) *Metrics {
	m := &Metrics{
		PushAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dotsync_push_attempts_total",
				Help: "Push attempts by classified outcome",
			},
			[]string{"kind"},
		),
		PushCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dotsync_push_cycles_total",
				Help: "Push cycles by result",
			},
			[]string{"result"},
		),
		PullTicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dotsync_pull_ticks_total",
				Help: "Pull ticks by result",
			},
			[]string{"result"},
		),
		ConsecutiveFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dotsync_consecutive_push_failures",
			Help: "Number of push cycles that failed in a row",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dotsync_last_push_success_timestamp_seconds",
			Help: "Unix time of the last successful push cycle",
		}),
		ServiceActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dotsync_service_actions_total",
				Help: "Service activations and restarts",
			},
			[]string{"action"},
		),
		registry: prometheus.NewRegistry(),
		path:     path,
		log:      log,
	}

	m.registry.MustRegister(
		m.PushAttempts,
		m.PushCycles,
		m.PullTicks,
		m.ConsecutiveFailures,
		m.LastSuccess,
		m.ServiceActions,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCounter records the persisted failure counter.
func (m *Metrics) ObserveCounter(failures int, lastSuccess time.Time) {
	m.ConsecutiveFailures.Set(float64(failures))
	if !lastSuccess.IsZero() {
		m.LastSuccess.Set(float64(lastSuccess.Unix()))
	}
}

// Flush writes the metrics to the textfile. Errors are logged since metrics
// never affect syncing.
func (m *Metrics) Flush() {
	if m.path == "" {
		return
	}

	if err := prometheus.WriteToTextfile(m.path, m.registry); err != nil {
		m.log.WithError(errors.WithContext(err, "write metrics")).Warn("Failed to export metrics")
	}
}
