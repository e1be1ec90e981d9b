// Package telemetry holds the run's Prometheus instrumentation: counters
// and gauges that internal/statusserver exposes on /metrics, recorded
// directly by the scheduler and aggregator as credits are issued and
// sealed. It depends on nothing from the rest of the pipeline, so that
// every component can record telemetry without routing through
// internal/statusserver (which itself depends on internal/controller,
// and would otherwise create an import cycle back through scheduler and
// aggregator).
package telemetry

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsIssued counts credits the scheduler has emitted, by phase.
	RequestsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genaiperf_requests_issued_total",
			Help: "Total number of request credits issued by phase",
		},
		[]string{"phase"},
	)

	// RequestsCompleted counts sealed metric records, by phase and status.
	RequestsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genaiperf_requests_completed_total",
			Help: "Total number of completed requests by phase and status",
		},
		[]string{"phase", "status"},
	)

	// CreditsInFlight tracks the number of credits issued but not yet
	// sealed back through the aggregator.
	CreditsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "genaiperf_credits_in_flight",
			Help: "Number of credits issued but not yet sealed",
		},
	)

	// RunPhase reports the controller's current run phase as a label,
	// one gauge per phase passed to SetActivePhase (1 for the active
	// phase, 0 otherwise).
	RunPhase = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "genaiperf_run_phase",
			Help: "Current controller run phase (1 for the active phase, 0 otherwise)",
		},
		[]string{"phase"},
	)
)

// RecordCreditIssued increments the issued counter and in-flight gauge
// for a newly emitted credit. Called from the scheduler's emit path.
func RecordCreditIssued(phase string) {
	RequestsIssued.WithLabelValues(phase).Inc()
	CreditsInFlight.Inc()
}

// RecordRequestCompleted increments the completed counter and decrements
// the in-flight gauge for a sealed record. Called from the aggregator's
// seal path.
func RecordRequestCompleted(phase, status string) {
	RequestsCompleted.WithLabelValues(phase, status).Inc()
	CreditsInFlight.Dec()
}

// SetActivePhase sets the gauge of every phase in all to 0 and the active
// one to 1, so /metrics always shows exactly one active phase.
func SetActivePhase(all []string, active string) {
	for _, p := range all {
		v := 0.0
		if p == active {
			v = 1.0
		}
		RunPhase.WithLabelValues(p).Set(v)
	}
}

// HeartbeatAges reports each known service's age, in seconds, since its
// last observed heartbeat.
type HeartbeatAges interface {
	HeartbeatAges() map[string]float64
}

var heartbeatAgeDesc = prometheus.NewDesc(
	"genaiperf_service_heartbeat_age_seconds",
	"Seconds since the last heartbeat from a service",
	[]string{"service"}, nil,
)

// heartbeatSource holds the live HeartbeatAges source, read fresh on every
// /metrics scrape rather than cached in a gauge that would go stale the
// instant it stopped being updated between heartbeats.
var heartbeatSource atomic.Value

func init() {
	prometheus.MustRegister(heartbeatAgeCollector{})
}

// SetHeartbeatSource installs src as the source genaiperf_service_
// heartbeat_age_seconds recomputes its values from on every scrape.
func SetHeartbeatSource(src HeartbeatAges) {
	heartbeatSource.Store(src)
}

type heartbeatAgeCollector struct{}

func (heartbeatAgeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- heartbeatAgeDesc
}

func (heartbeatAgeCollector) Collect(ch chan<- prometheus.Metric) {
	src, _ := heartbeatSource.Load().(HeartbeatAges)
	if src == nil {
		return
	}
	for service, age := range src.HeartbeatAges() {
		ch <- prometheus.MustNewConstMetric(heartbeatAgeDesc, prometheus.GaugeValue, age, service)
	}
}
