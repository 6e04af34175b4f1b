// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Detections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harrier_detections_total",
		Help: "Total number of verdicts emitted, labelled by outcome and source kind.",
	}, []string{"outcome", "source"})

	DetectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harrier_detection_duration_ms",
		Help:    "Per-transaction scoring latency in milliseconds.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250},
	})

	RuleMatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harrier_rule_matches_total",
		Help: "Total number of rule matches, labelled by rule ID.",
	}, []string{"rule_id"})

	MissingFacts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harrier_condition_warnings_total",
		Help: "Condition leaves that evaluated false because of a missing or mistyped fact.",
	})

	ModelFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harrier_model_fallbacks_total",
		Help: "Fallback model calls, labelled by status (ok, timeout, error).",
	}, []string{"status"})

	BatchItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harrier_batch_items_total",
		Help: "Batch items processed, labelled by status (ok or an item error code).",
	}, []string{"status"})

	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harrier_batch_size",
		Help:    "Number of items per batch request.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	ReportsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harrier_fraud_reports_total",
		Help: "Fraud reports received, labelled by whether they were acknowledged.",
	}, []string{"acknowledged"})

	RuleSnapshotVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harrier_rule_snapshot_version",
		Help: "Version of the active rule snapshot.",
	})

	ActiveRules = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harrier_active_rules",
		Help: "Number of active rules in the current snapshot.",
	})

	ProjectionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harrier_projection_errors_total",
		Help: "Failures persisting bus events, labelled by topic.",
	}, []string{"topic"})

	BusDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harrier_bus_dropped_total",
		Help: "Messages the in-process bus gave up delivering, labelled by topic.",
	}, []string{"topic"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
