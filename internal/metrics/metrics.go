// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes the orchestrator's Prometheus metrics: event
// ingestion volume, correlator assessments, autonomy decisions, and
// deployment lifecycle counts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus metric the daemon publishes.
type Metrics struct {
	EventsIngested   *prometheus.CounterVec
	EventsDropped    *prometheus.CounterVec
	Assessments      *prometheus.CounterVec
	ProposalsCreated *prometheus.CounterVec
	ProposalsDecided *prometheus.CounterVec
	Suppressions     *prometheus.CounterVec
	BreakerTrips     prometheus.Counter

	DeploymentsApplied  *prometheus.CounterVec
	DeploymentsActive   *prometheus.GaugeVec
	HeartbeatFailures   *prometheus.CounterVec
	AutonomyLevel       prometheus.Gauge
	FeedIndicatorCounts *prometheus.GaugeVec
}

// New creates the metrics collector. It is not auto-registered: the caller
// decides whether and where to register it (Register below).
func New() *Metrics {
	return &Metrics{
		EventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "afo_events_ingested_total",
			Help: "Total security events ingested, by source name.",
		}, []string{"source"}),

		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "afo_events_dropped_total",
			Help: "Total security events dropped because a source queue was full.",
		}, []string{"source"}),

		Assessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "afo_assessments_total",
			Help: "Total threat assessments emitted by the Correlator, by kind.",
		}, []string{"kind"}),

		ProposalsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "afo_proposals_created_total",
			Help: "Total Proposals created, by origin (daemon-auto, operator).",
		}, []string{"origin"}),

		ProposalsDecided: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "afo_proposals_decided_total",
			Help: "Total Proposals approved, rejected or superseded, by outcome.",
		}, []string{"outcome"}),

		Suppressions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "afo_autonomy_suppressions_total",
			Help: "Total times the Autonomy Controller suppressed a candidate action, by reason.",
		}, []string{"reason"}),

		BreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "afo_autonomy_circuit_breaker_trips_total",
			Help: "Total times the autonomy circuit breaker tripped.",
		}),

		DeploymentsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "afo_deployments_total",
			Help: "Total deployments reaching a terminal state, by state (committed, rolled-back, failed).",
		}, []string{"state"}),

		DeploymentsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "afo_deployments_active",
			Help: "Deployments currently applying or on probation, by backend.",
		}, []string{"backend"}),

		HeartbeatFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "afo_heartbeat_failures_total",
			Help: "Total heartbeat probe failures, by backend.",
		}, []string{"backend"}),

		AutonomyLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "afo_autonomy_level",
			Help: "Current autonomy level as an ordinal: 0=monitor, 1=cautious, 2=aggressive.",
		}),

		FeedIndicatorCounts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "afo_feed_indicators",
			Help: "Current indicator count per threat feed.",
		}, []string{"feed"}),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.EventsIngested.Describe(ch)
	m.EventsDropped.Describe(ch)
	m.Assessments.Describe(ch)
	m.ProposalsCreated.Describe(ch)
	m.ProposalsDecided.Describe(ch)
	m.Suppressions.Describe(ch)
	m.BreakerTrips.Describe(ch)
	m.DeploymentsApplied.Describe(ch)
	m.DeploymentsActive.Describe(ch)
	m.HeartbeatFailures.Describe(ch)
	m.AutonomyLevel.Describe(ch)
	m.FeedIndicatorCounts.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.EventsIngested.Collect(ch)
	m.EventsDropped.Collect(ch)
	m.Assessments.Collect(ch)
	m.ProposalsCreated.Collect(ch)
	m.ProposalsDecided.Collect(ch)
	m.Suppressions.Collect(ch)
	m.BreakerTrips.Collect(ch)
	m.DeploymentsApplied.Collect(ch)
	m.DeploymentsActive.Collect(ch)
	m.HeartbeatFailures.Collect(ch)
	m.AutonomyLevel.Collect(ch)
	m.FeedIndicatorCounts.Collect(ch)
}

// Register registers m with reg. Use a dedicated registry rather than
// prometheus.MustRegister's global default so multiple Metrics instances
// (e.g. in tests) never collide.
func (m *Metrics) Register(reg *prometheus.Registry) error {
	return reg.Register(m)
}

// AutonomyLevelValue maps a level name to the ordinal AutonomyLevel reports.
func AutonomyLevelValue(level string) float64 {
	switch level {
	case "cautious":
		return 1
	case "aggressive":
		return 2
	default:
		return 0
	}
}
