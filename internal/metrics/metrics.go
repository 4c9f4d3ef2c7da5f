package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the relationship graph engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Detection metrics
	DetectionRuns         *prometheus.CounterVec
	DetectionDuration     prometheus.Histogram
	PairsCompared         prometheus.Counter
	RelationshipsDetected *prometheus.CounterVec
	RelationshipsInserted prometheus.Counter

	// Search metrics
	SearchRequests   *prometheus.CounterVec
	SearchDuration   *prometheus.HistogramVec
	SearchDegraded   *prometheus.CounterVec
	ExpansionResults prometheus.Counter

	// Graph metrics
	TraversalVisited *prometheus.HistogramVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			DetectionRuns: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memgraph_detection_runs_total",
					Help: "Total number of relationship detection runs",
				},
				[]string{"status"},
			),
			DetectionDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memgraph_detection_duration_seconds",
					Help:    "Duration of relationship detection runs in seconds",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~200s
				},
			),
			PairsCompared: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "memgraph_detection_pairs_compared_total",
					Help: "Observation pairs evaluated by the heuristic detector",
				},
			),
			RelationshipsDetected: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memgraph_relationships_detected_total",
					Help: "Relationships emitted by detection, by type",
				},
				[]string{"type"},
			),
			RelationshipsInserted: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "memgraph_relationships_inserted_total",
					Help: "Relationships newly persisted (duplicates excluded)",
				},
			),
			SearchRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memgraph_search_requests_total",
					Help: "Hybrid search calls, by mode",
				},
				[]string{"mode"},
			),
			SearchDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "memgraph_search_duration_seconds",
					Help:    "Hybrid search latency in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"mode"},
			),
			SearchDegraded: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memgraph_search_degraded_total",
					Help: "Hybrid search calls that fell back to a reduced result, by stage",
				},
				[]string{"stage"},
			),
			ExpansionResults: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "memgraph_search_expansion_results_total",
					Help: "Relationship-derived neighbors merged into search results",
				},
			),
			TraversalVisited: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "memgraph_graph_traversal_visited_nodes",
					Help:    "Nodes visited per graph traversal",
					Buckets: prometheus.ExponentialBuckets(1, 2, 11), // 1 to 1024
				},
				[]string{"operation"},
			),
		}
	})

	return sharedMetrics
}

// RecordDetectionRun records the outcome of one detection run.
func (m *Metrics) RecordDetectionRun(success bool, duration time.Duration, pairs int, inserted int64) {
	if m == nil {
		return
	}
	status := "failure"
	if success {
		status = "success"
	}
	m.DetectionRuns.WithLabelValues(status).Inc()
	m.DetectionDuration.Observe(duration.Seconds())
	m.PairsCompared.Add(float64(pairs))
	if inserted > 0 {
		m.RelationshipsInserted.Add(float64(inserted))
	}
}

// RecordDetected records one emitted relationship of the given type.
func (m *Metrics) RecordDetected(relType string) {
	if m == nil {
		return
	}
	m.RelationshipsDetected.WithLabelValues(relType).Inc()
}

// RecordSearch records a hybrid search call.
func (m *Metrics) RecordSearch(mode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SearchRequests.WithLabelValues(mode).Inc()
	m.SearchDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordDegraded records a fallback at the given stage ("importance", "expansion", "graph").
func (m *Metrics) RecordDegraded(stage string) {
	if m == nil {
		return
	}
	m.SearchDegraded.WithLabelValues(stage).Inc()
}

// RecordExpansion records how many neighbors were merged into a result list.
func (m *Metrics) RecordExpansion(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ExpansionResults.Add(float64(n))
}

// RecordTraversal records how many nodes a traversal visited.
func (m *Metrics) RecordTraversal(operation string, visited int) {
	if m == nil {
		return
	}
	m.TraversalVisited.WithLabelValues(operation).Observe(float64(visited))
}
